// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/venvoy/config.cue (or the XDG equivalent on Linux,
// ~/Library/Application Support/venvoy/config.cue on macOS, %APPDATA%\venvoy\config.cue on
// Windows). The package covers runtime preference, the environment store location, cluster
// detection extensions, auto-save polling, and UI settings.
//
// Configuration validation is performed against a CUE schema (config_schema.cue) to ensure
// type safety and provide clear error messages for invalid configurations.
package config
