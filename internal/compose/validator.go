// SPDX-License-Identifier: MPL-2.0

package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"rtpi-cli/internal/container"
	"rtpi-cli/internal/issue"

	"gopkg.in/yaml.v3"
)

type (
	// Validator is the syntactic gate a rendered manifest must pass before
	// it is installed. path names a file holding data on disk.
	Validator interface {
		Name() string
		Validate(ctx context.Context, path string, data []byte) error
	}

	// YAMLValidator checks that the manifest is a single well-formed YAML
	// document without duplicate keys.
	YAMLValidator struct{}

	// EngineValidator delegates to the container engine's compose config
	// check, which also resolves the engine's own interpolation.
	EngineValidator struct {
		Engine container.Engine
	}

	// Validators runs every validator in order and stops at the first failure.
	Validators []Validator
)

// Name returns "yaml".
func (YAMLValidator) Name() string { return "yaml" }

// Validate parses data.
func (YAMLValidator) Validate(_ context.Context, path string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &issue.ValidationError{Path: path, Stage: StageSyntax, Problems: []string{"manifest is empty"}}
		}
		return &issue.ValidationError{Path: path, Stage: StageSyntax, Problems: yamlProblems(err), Err: err}
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return &issue.ValidationError{Path: path, Stage: StageSyntax, Problems: []string{"manifest must contain exactly one YAML document"}, Err: err}
	}
	return nil
}

// Name returns the engine-qualified validator name.
func (v EngineValidator) Name() string {
	if v.Engine == nil {
		return "engine"
	}
	return v.Engine.Name() + " compose"
}

// Validate runs "<engine> compose -f path config -q".
func (v EngineValidator) Validate(ctx context.Context, path string, _ []byte) error {
	if v.Engine == nil {
		return issue.NewErrorContext().
			WithOperation("validate manifest with container engine").
			WithResource(path).
			WithIssue(issue.ContainerEngineNotFoundId).
			Wrap(container.ErrEngineNotAvailable).
			BuildError()
	}
	err := v.Engine.ComposeConfig(ctx, path)
	if err == nil {
		return nil
	}
	var ce *container.ComposeError
	if errors.As(err, &ce) {
		return &issue.ValidationError{Path: path, Stage: StageSyntax, Problems: ce.Problems(), Err: err}
	}
	return fmt.Errorf("run %s: %w", v.Name(), err)
}

// Name joins the names of the validators.
func (vs Validators) Name() string {
	var b bytes.Buffer
	for i, v := range vs {
		if i > 0 {
			b.WriteString("+")
		}
		b.WriteString(v.Name())
	}
	return b.String()
}

// Validate runs each validator in order.
func (vs Validators) Validate(ctx context.Context, path string, data []byte) error {
	for _, v := range vs {
		if err := v.Validate(ctx, path, data); err != nil {
			return err
		}
	}
	return nil
}

func yamlProblems(err error) []string {
	var te *yaml.TypeError
	if errors.As(err, &te) {
		return te.Errors
	}
	return []string{err.Error()}
}
