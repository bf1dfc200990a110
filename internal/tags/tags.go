// SPDX-License-Identifier: MPL-2.0

// Package tags persists resolved image references as NAME=value lines that
// the manifest renderer and the container engine's env-file loader both
// understand.
package tags

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"rtpi-cli/internal/issue"
	"rtpi-cli/pkg/types"

	"github.com/spf13/afero"
)

const header = "# Resolved container image tags.\n# Generated by rtpi; edits are overwritten on the next resolve.\n"

type (
	// Mapping maps variable names to image references.
	Mapping map[types.VariableName]string

	// LoadStats reports lines Load skipped.
	LoadStats struct {
		// Malformed counts non-comment lines without '=' or with an invalid
		// variable name.
		Malformed int
		// MalformedLines lists their 1-based line numbers.
		MalformedLines []int
	}

	// Store reads and writes one resolved-tag file.
	Store struct {
		fs   afero.Fs
		path string
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithFs replaces the filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) { s.fs = fsys }
}

// NewStore creates a Store for path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{fs: afero.NewOsFs(), path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the tag file path.
func (s *Store) Path() string { return s.path }

// Write replaces the tag file with m, one NAME=value line per entry sorted
// by name. The new content is written to a temporary file and renamed into
// place, so readers see either the old or the new file.
func (s *Store) Write(m Mapping) error {
	for name, value := range m {
		if ok, errs := name.IsValid(); !ok {
			return errs[0]
		}
		if value == "" || strings.ContainsAny(value, "\n\r") {
			return fmt.Errorf("%s: image reference must be a non-empty single line", name)
		}
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tag file directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temporary tag file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.WriteString(tmp, Format(m)); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write tag file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync tag file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close tag file: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("chmod tag file: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("replace tag file: %w", err)
	}
	return nil
}

// Load reads the tag file. A missing file is a ConfigError.
func (s *Store) Load() (Mapping, LoadStats, error) {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, LoadStats{}, issue.NewConfigError(s.path, "resolved-tag file not found", err)
		}
		return nil, LoadStats{}, issue.NewConfigError(s.path, "open resolved-tag file", err)
	}
	defer f.Close()

	m, stats, err := Parse(f)
	if err != nil {
		return nil, stats, issue.NewConfigError(s.path, "read resolved-tag file", err)
	}
	return m, stats, nil
}

// Exists reports whether the tag file is present.
func (s *Store) Exists() (bool, error) {
	return afero.Exists(s.fs, s.path)
}

// Format renders m in the tag file format.
func Format(m Mapping) string {
	var b strings.Builder
	b.WriteString(header)
	for _, name := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "%s=%s\n", name, m[name])
	}
	return b.String()
}

// Parse reads NAME=value lines. Blank lines and '#' comments are ignored,
// an "export " prefix is accepted, and values wrapped in matching single or
// double quotes are unquoted. Malformed lines are skipped and counted. Later
// lines override earlier ones.
func Parse(r io.Reader) (Mapping, LoadStats, error) {
	m := make(Mapping)
	var stats LoadStats

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || !types.IsVariableName(key) {
			stats.Malformed++
			stats.MalformedLines = append(stats.MalformedLines, lineNo)
			continue
		}
		m[types.VariableName(key)] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, stats, err
	}
	return m, stats, nil
}

// ApplyDefaults returns a copy of m in which every name from defaults that
// m lacks is filled in. Names already present are never overridden.
func ApplyDefaults(m, defaults Mapping) Mapping {
	out := maps.Clone(m)
	if out == nil {
		out = make(Mapping, len(defaults))
	}
	for name, value := range defaults {
		if _, ok := out[name]; !ok {
			out[name] = value
		}
	}
	return out
}

// Env returns m as a plain string map for template rendering.
func (m Mapping) Env() map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
