// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"io/fs"
	"testing"
)

func TestConfigError(t *testing.T) {
	t.Parallel()

	err := NewConfigError("images.toml", "cannot read fallback database", fs.ErrNotExist)
	if !errors.Is(err, ErrConfig) {
		t.Error("ConfigError should match ErrConfig")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("ConfigError should unwrap to its cause")
	}
	want := "images.toml: cannot read fallback database: file does not exist"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "single problem",
			err:  &ValidationError{Path: "out.yml", Stage: "structure", Problems: []string{"missing required section \"networks\""}},
			want: `manifest structure validation failed for out.yml: missing required section "networks"`,
		},
		{
			name: "many problems",
			err:  &ValidationError{Stage: "structure", Problems: []string{"a", "b"}},
			want: "manifest structure validation failed: 2 problems",
		},
		{
			name: "cause only",
			err:  &ValidationError{Stage: "syntax", Err: errors.New("yaml: line 3: did not find expected key")},
			want: "manifest syntax validation failed: yaml: line 3: did not find expected key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, ErrValidation) {
				t.Error("ValidationError should match ErrValidation")
			}
		})
	}
}
