// SPDX-License-Identifier: MPL-2.0

// Package config loads venue configuration using Viper with CUE as the file
// format.
//
// The file is config.cue in the platform configuration directory (or the
// working directory), validated against the embedded config_schema.cue.
// Environment variables prefixed with COUGAR_ override file values, for
// example COUGAR_EXECUTOR_WORKERS=16.
package config
