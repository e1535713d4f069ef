// SPDX-License-Identifier: MPL-2.0

// Package platform centralizes OS name constants for runtime.GOOS
// comparisons, avoiding scattered magic strings.
package platform

const (
	Windows = "windows"
	Darwin  = "darwin"
	Linux   = "linux"
)
