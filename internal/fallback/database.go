// SPDX-License-Identifier: MPL-2.0

package fallback

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"rtpi-cli/internal/issue"
	"rtpi-cli/internal/registry"
	"rtpi-cli/pkg/types"

	"github.com/pelletier/go-toml/v2"
)

type (
	// Image declares one required image.
	Image struct {
		// Variable is the substitution variable that receives the result.
		Variable types.VariableName
		// Primary is the preferred reference.
		Primary string
		// Default is used when nothing in the chain is available. When empty
		// the last candidate of the chain is used instead.
		Default string
		// Service is the compose service the image belongs to (informational).
		Service string
	}

	// Database maps image references to their ordered alternatives and lists
	// the required images. It is read-only after construction and safe for
	// concurrent use.
	Database struct {
		chains map[string][]string
		images []Image
	}

	dbFile struct {
		Fallbacks map[string]any `toml:"fallbacks"`
		Images    []imageEntry   `toml:"images"`
	}

	imageEntry struct {
		Variable string `toml:"variable"`
		Image    string `toml:"image"`
		Default  string `toml:"default"`
		Service  string `toml:"service"`
	}
)

// NewDatabase builds a Database from alternative chains and required images.
// Chain keys are matched both verbatim and in normalised form, so
// "foo/bar:latest" and "docker.io/foo/bar:latest" share one chain.
func NewDatabase(chains map[string][]string, images []Image) *Database {
	db := &Database{
		chains: make(map[string][]string, len(chains)*2),
		images: slices.Clone(images),
	}
	for ref, alts := range chains {
		alts = slices.Clone(alts)
		db.chains[ref] = alts
		if n := normalize(ref); n != ref {
			if _, taken := db.chains[n]; !taken {
				db.chains[n] = alts
			}
		}
	}
	return db
}

// Alternatives returns the ordered alternatives for ref, most preferred
// first. The returned slice is a copy.
func (d *Database) Alternatives(ref string) []string {
	if d == nil {
		return nil
	}
	if alts, ok := d.chains[ref]; ok {
		return slices.Clone(alts)
	}
	return slices.Clone(d.chains[normalize(ref)])
}

// Images returns the required images in declaration order.
func (d *Database) Images() []Image {
	if d == nil {
		return nil
	}
	return slices.Clone(d.images)
}

// LoadDatabase reads a TOML fallback database from path.
func LoadDatabase(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, issue.NewConfigError(path, "fallback database not found", err)
		}
		return nil, issue.NewConfigError(path, "read fallback database", err)
	}
	db, err := ParseDatabase(data)
	if err != nil {
		var cfgErr *issue.ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Path == "" {
			cfgErr.Path = path
		}
		return nil, err
	}
	return db, nil
}

// ParseDatabase decodes a TOML fallback database. Alternatives may be a
// comma-separated string or an array of strings.
//
//	[fallbacks]
//	"foo/bar:latest" = "foo/bar:stable,foo/bar:1.0"
//
//	[[images]]
//	variable = "BAR_IMAGE"
//	image    = "foo/bar:latest"
//	default  = "foo/bar:1.0"
func ParseDatabase(data []byte) (*Database, error) {
	var f dbFile
	if err := toml.Unmarshal(data, &f); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, issue.NewConfigError("", fmt.Sprintf("malformed fallback database at line %d, column %d", row, col), err)
		}
		return nil, issue.NewConfigError("", "malformed fallback database", err)
	}

	chains := make(map[string][]string, len(f.Fallbacks))
	for ref, raw := range f.Fallbacks {
		alts, err := alternatives(raw)
		if err != nil {
			return nil, issue.NewConfigError("", fmt.Sprintf("fallbacks[%q]", ref), err)
		}
		chains[strings.TrimSpace(ref)] = alts
	}

	images := make([]Image, 0, len(f.Images))
	for i, e := range f.Images {
		img := Image{
			Variable: types.VariableName(strings.TrimSpace(e.Variable)),
			Primary:  strings.TrimSpace(e.Image),
			Default:  strings.TrimSpace(e.Default),
			Service:  strings.TrimSpace(e.Service),
		}
		if err := validateImage(img); err != nil {
			return nil, issue.NewConfigError("", fmt.Sprintf("images[%d]", i), err)
		}
		images = append(images, img)
	}
	if err := checkDuplicates(images); err != nil {
		return nil, err
	}

	return NewDatabase(chains, images), nil
}

func alternatives(raw any) ([]string, error) {
	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("alternative %v is not a string", item)
			}
			parts = append(parts, s)
		}
	default:
		return nil, fmt.Errorf("expected a string or an array of strings, got %T", raw)
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func validateImage(img Image) error {
	if ok, errs := img.Variable.IsValid(); !ok {
		return errs[0]
	}
	if img.Primary == "" {
		return fmt.Errorf("%s: image must be set", img.Variable)
	}
	return nil
}

func checkDuplicates(images []Image) error {
	seen := make(map[types.VariableName]bool, len(images))
	for _, img := range images {
		if seen[img.Variable] {
			return issue.NewConfigError("", fmt.Sprintf("duplicate image variable %s", img.Variable), nil)
		}
		seen[img.Variable] = true
	}
	return nil
}

func normalize(ref string) string {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return ref
	}
	return parsed.Normalized
}
