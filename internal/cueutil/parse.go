// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

// ParseResult holds the decoded value and the unified CUE value.
type ParseResult[T any] struct {
	Value *T

	// Unified is the schema unified with the input, for callers that need
	// to inspect which fields were set.
	Unified cue.Value
}

// ParseAndDecode compiles schema, unifies the definition at schemaPath with
// data (CUE source), validates the result and decodes it into T.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	filename := options.name()

	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()
	schemaRoot, err := compileSchema(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}

	unified := schemaRoot.Unify(userValue)
	if err := unified.Validate(cue.Concrete(options.concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{
		Value:   &result,
		Unified: unified,
	}, nil
}

// ValidateYAML extracts a YAML document, unifies it with the definition at
// schemaPath and validates it. The returned value is the extracted document
// before unification, so callers can check which keys are actually present.
// A YAML syntax error is returned as is; schema violations are returned as
// the raw CUE error (see Problems).
func ValidateYAML(schema, data []byte, schemaPath string, opts ...Option) (cue.Value, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	filename := options.name()

	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	schemaRoot, err := compileSchema(ctx, schema, schemaPath)
	if err != nil {
		return cue.Value{}, err
	}

	file, err := yaml.Extract(filename, data)
	if err != nil {
		return cue.Value{}, err
	}
	doc := ctx.BuildFile(file)
	if doc.Err() != nil {
		return cue.Value{}, doc.Err()
	}

	if err := schemaRoot.Unify(doc).Validate(cue.Concrete(options.concrete)); err != nil {
		return doc, err
	}
	return doc, nil
}

func compileSchema(ctx *cue.Context, schema []byte, schemaPath string) (cue.Value, error) {
	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", schemaValue.Err())
	}
	root := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if root.Err() != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, root.Err())
	}
	return root, nil
}
