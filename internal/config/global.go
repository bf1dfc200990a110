// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces the XDG lookup in tests.
var configDirOverride string

// SetConfigDirOverride sets a custom config directory path. Tests use it to
// avoid depending on the caller's home directory.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}
