// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride allows tests to override the config directory.
// This is necessary because xdg caches its base directories at init time,
// so mutating env vars mid-test would not take effect.
var configDirOverride string

// dataDirOverride allows tests to override the data directory.
var dataDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
	dataDirOverride = ""
}

// SetConfigDirOverride sets a custom config directory path, primarily for tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SetDataDirOverride sets a custom data directory path, primarily for tests.
func SetDataDirOverride(dir string) {
	dataDirOverride = dir
}
