// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE validation utilities.
//
// Both the configuration loader and the manifest structure check follow the
// same pattern:
//
//  1. Compile the embedded schema
//  2. Compile (or extract from YAML) user data and unify with the schema
//  3. Validate, then decode to a Go struct or inspect the unified value
//
// # Usage
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	result, err := cueutil.ParseAndDecode[Config](schema, data, "#Config",
//	    cueutil.WithFilename("config.cue"),
//	    cueutil.WithConcrete(false),
//	)
package cueutil
