// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is read from $XDG_CONFIG_HOME/rtpi/config.cue (~/.config/rtpi/config.cue
// when XDG_CONFIG_HOME is unset), falling back to ./rtpi.cue, or from the file named by
// --config. Files are validated against an embedded CUE schema (config_schema.cue).
// Every key can be overridden with an RTPI_ environment variable, dots replaced by
// underscores (RTPI_PROBE_ATTEMPTS, RTPI_COMPOSE_VALIDATOR).
package config
