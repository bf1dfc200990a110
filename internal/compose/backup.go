// SPDX-License-Identifier: MPL-2.0

package compose

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	backupInfix      = ".bak."
	backupTimeFormat = "20060102-150405"

	// DefaultMaxBackups is the number of backups kept per manifest.
	DefaultMaxBackups = 5
)

type (
	// Backups creates and rotates timestamped copies of a manifest, named
	// <name>.bak.<YYYYmmdd-HHMMSS>. Copies made within the same second get a
	// numeric suffix.
	Backups struct {
		fs  afero.Fs
		dir string
		max int
		now func() time.Time
	}

	// Backup describes one backup copy.
	Backup struct {
		Path      string
		CreatedAt time.Time
		Size      int64
		seq       int
	}

	// BackupOption configures Backups.
	BackupOption func(*Backups)
)

// WithBackupFs replaces the filesystem.
func WithBackupFs(fsys afero.Fs) BackupOption {
	return func(b *Backups) { b.fs = fsys }
}

// WithBackupDir stores backups in dir instead of next to the manifest.
func WithBackupDir(dir string) BackupOption {
	return func(b *Backups) { b.dir = dir }
}

// WithMaxBackups sets how many backups are retained. Zero or less keeps all.
func WithMaxBackups(n int) BackupOption {
	return func(b *Backups) { b.max = n }
}

// WithBackupClock sets the time source for backup names.
func WithBackupClock(now func() time.Time) BackupOption {
	return func(b *Backups) { b.now = now }
}

// NewBackups creates a backup manager.
func NewBackups(opts ...BackupOption) *Backups {
	b := &Backups{fs: afero.NewOsFs(), max: DefaultMaxBackups, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create copies path to a new timestamped backup and prunes old backups.
// It returns "" with no error when path does not exist.
func (b *Backups) Create(path string) (string, error) {
	info, err := b.fs.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("backup %s: is a directory", path)
	}

	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	dir := b.backupDir(path)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	target, err := b.nextPath(path)
	if err != nil {
		return "", err
	}
	if err := b.write(target, data, info.Mode().Perm()); err != nil {
		return "", err
	}

	// The copy exists at this point; a failed prune only leaves extra files.
	_ = b.rotate(path)

	return target, nil
}

// write stores data at target through a hidden temporary file, so List never
// sees a partially written backup.
func (b *Backups) write(target string, data []byte, perm fs.FileMode) error {
	tmp, err := afero.TempFile(b.fs, filepath.Dir(target), "."+filepath.Base(target)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temporary backup: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("write backup %s: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("sync backup %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("close backup %s: %w", target, err)
	}
	if err := b.fs.Chmod(tmpName, perm); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("chmod backup %s: %w", target, err)
	}
	if err := b.fs.Rename(tmpName, target); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("rename backup %s: %w", target, err)
	}
	return nil
}

// List returns the backups of path, newest first.
func (b *Backups) List(path string) ([]Backup, error) {
	dir := b.backupDir(path)
	prefix := filepath.Base(path) + backupInfix

	entries, err := afero.ReadDir(b.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []Backup
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		created, seq, ok := parseBackupSuffix(strings.TrimPrefix(name, prefix))
		if !ok {
			continue
		}
		backups = append(backups, Backup{
			Path:      filepath.Join(dir, name),
			CreatedAt: created,
			Size:      entry.Size(),
			seq:       seq,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].seq > backups[j].seq
	})
	return backups, nil
}

func (b *Backups) rotate(path string) error {
	if b.max <= 0 {
		return nil
	}
	backups, err := b.List(path)
	if err != nil {
		return err
	}
	var errs []error
	for _, old := range backups[min(b.max, len(backups)):] {
		if err := b.fs.Remove(old.Path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backups) nextPath(path string) (string, error) {
	base := filepath.Join(b.backupDir(path), filepath.Base(path)+backupInfix+b.now().Format(backupTimeFormat))
	candidate := base
	for seq := 1; ; seq++ {
		exists, err := afero.Exists(b.fs, candidate)
		if err != nil {
			return "", fmt.Errorf("check backup %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "." + strconv.Itoa(seq)
	}
}

func (b *Backups) backupDir(path string) string {
	if b.dir != "" {
		return b.dir
	}
	return filepath.Dir(path)
}

func parseBackupSuffix(s string) (time.Time, int, bool) {
	stamp, seqText, hasSeq := strings.Cut(s, ".")
	created, err := time.ParseInLocation(backupTimeFormat, stamp, time.Local)
	if err != nil {
		return time.Time{}, 0, false
	}
	if !hasSeq {
		return created, 0, true
	}
	seq, err := strconv.Atoi(seqText)
	if err != nil || seq < 1 {
		return time.Time{}, 0, false
	}
	return created, seq, true
}
