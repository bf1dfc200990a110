// SPDX-License-Identifier: MPL-2.0

// Package checkpoint records which installer steps have completed.
//
// Each completed step is a marker file <dir>/<step>.done. Markers are written
// to a hidden temporary file first and renamed into place, so a crash or a
// full disk never leaves a marker that claims completion without having been
// fully written.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rtpi-cli/pkg/types"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	markerSuffix = ".done"
	tempPrefix   = ".tmp-"
)

type (
	// Store is a directory of per-step completion markers.
	Store struct {
		fs    afero.Fs
		dir   string
		runID string
		now   func() time.Time
	}

	// Checkpoint describes a recorded step. CompletedAt and RunID are
	// diagnostic only.
	Checkpoint struct {
		Name        types.StepName
		CompletedAt time.Time
		RunID       string
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithFs replaces the filesystem (afero.NewMemMapFs in tests).
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) { s.fs = fsys }
}

// WithRunID sets the run identifier written into new markers.
func WithRunID(id string) Option {
	return func(s *Store) { s.runID = id }
}

// WithClock sets the time source for marker timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store rooted at dir. The directory is created lazily on the
// first Save.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		fs:    afero.NewOsFs(),
		dir:   dir,
		runID: uuid.NewString(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

// RunID returns the identifier stamped into markers written by this Store.
func (s *Store) RunID() string { return s.runID }

// Save records that step name completed. Saving an already recorded step
// refreshes its diagnostics.
func (s *Store) Save(name types.StepName) error {
	if err := validate(name); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, tempPrefix+string(name)+"-")
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
	}

	body := fmt.Sprintf("step=%s\ncompleted_at=%s\nrun_id=%s\n", name, s.now().UTC().Format(time.RFC3339), s.runID)
	if _, err := tmp.WriteString(body); err != nil {
		cleanup()
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync checkpoint %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close checkpoint %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, s.markerPath(name)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("commit checkpoint %s: %w", name, err)
	}
	return nil
}

// Has reports whether step name has a completion marker.
func (s *Store) Has(name types.StepName) (bool, error) {
	if err := validate(name); err != nil {
		return false, err
	}
	info, err := s.fs.Stat(s.markerPath(name))
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("check checkpoint %s: %w", name, err)
	}
}

// Clear removes every marker and any leftover temporary file. Clearing an
// empty or missing directory is a no-op.
func (s *Store) Clear() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	var errs []error
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !(strings.HasSuffix(n, markerSuffix) || strings.HasPrefix(n, tempPrefix)) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear checkpoints: %w", errors.Join(errs...))
	}
	return nil
}

// List returns the recorded checkpoints sorted by name. Markers whose
// diagnostics cannot be parsed are still listed.
func (s *Store) List() ([]Checkpoint, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var out []Checkpoint
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, markerSuffix) {
			continue
		}
		cp := Checkpoint{Name: types.StepName(strings.TrimSuffix(n, markerSuffix)), CompletedAt: e.ModTime()}
		if data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, n)); err == nil {
			parseMarker(string(data), &cp)
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) markerPath(name types.StepName) string {
	return filepath.Join(s.dir, string(name)+markerSuffix)
}

func validate(name types.StepName) error {
	if ok, errs := name.IsValid(); !ok {
		return errs[0]
	}
	return nil
}

func parseMarker(body string, cp *Checkpoint) {
	for line := range strings.SplitSeq(body, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "completed_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				cp.CompletedAt = ts
			}
		case "run_id":
			cp.RunID = value
		}
	}
}

// IsPermission reports whether err stems from a permission problem, which
// callers surface with a dedicated hint.
func IsPermission(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
