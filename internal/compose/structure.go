// SPDX-License-Identifier: MPL-2.0

package compose

import (
	_ "embed"
	"fmt"

	"rtpi-cli/internal/cueutil"
	"rtpi-cli/internal/issue"

	"cuelang.org/go/cue"
)

const (
	// StageStructure labels structural validation failures.
	StageStructure = "structure"
	// StageSyntax labels syntactic validation failures.
	StageSyntax = "syntax"
)

// RequiredSections are the top-level keys every manifest must declare.
var RequiredSections = []string{"services", "networks", "volumes"}

//go:embed manifest_schema.cue
var manifestSchema []byte

// CheckStructure verifies that data declares every required section and
// that the sections have the expected shape. path is used in messages only.
// Failures are *issue.ValidationError listing every problem found.
func CheckStructure(path string, data []byte) error {
	doc, err := cueutil.ValidateYAML(manifestSchema, data, "#Manifest", cueutil.WithFilename(path))
	if err != nil && !doc.Exists() {
		return &issue.ValidationError{
			Path:     path,
			Stage:    StageStructure,
			Problems: []string{"manifest is not valid YAML"},
			Err:      err,
		}
	}
	if doc.IncompleteKind() != cue.StructKind {
		return &issue.ValidationError{
			Path:     path,
			Stage:    StageStructure,
			Problems: []string{"top level must be a mapping"},
		}
	}

	var problems []string
	for _, section := range RequiredSections {
		if !doc.LookupPath(cue.ParsePath(section)).Exists() {
			problems = append(problems, fmt.Sprintf("missing required section %q", section))
		}
	}
	if err != nil {
		problems = append(problems, cueutil.Problems(err)...)
	}
	if len(problems) > 0 {
		return &issue.ValidationError{Path: path, Stage: StageStructure, Problems: problems}
	}
	return nil
}
