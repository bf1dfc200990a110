// SPDX-License-Identifier: MPL-2.0

package compose

import (
	"slices"
	"sort"

	"rtpi-cli/internal/issue"

	"gopkg.in/yaml.v3"
)

type (
	// Profile is a compose profile and the services that opt into it.
	Profile struct {
		Name     string
		Services []string
	}

	// ProfileSet lists the profiles declared by a manifest.
	ProfileSet struct {
		// Profiles is sorted by name; services within a profile are sorted.
		Profiles []Profile
		// AlwaysOn lists services without profiles, which start with every
		// profile selection.
		AlwaysOn []string
	}

	profileManifest struct {
		Services map[string]*struct {
			Profiles []string `yaml:"profiles"`
		} `yaml:"services"`
	}
)

// Profiles extracts the profiles declared by the services of a manifest.
func Profiles(path string, data []byte) (*ProfileSet, error) {
	var m profileManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &issue.ValidationError{Path: path, Stage: StageSyntax, Problems: yamlProblems(err), Err: err}
	}

	byProfile := make(map[string][]string)
	set := &ProfileSet{}
	for name, svc := range m.Services {
		if svc == nil || len(svc.Profiles) == 0 {
			set.AlwaysOn = append(set.AlwaysOn, name)
			continue
		}
		for _, p := range svc.Profiles {
			if !slices.Contains(byProfile[p], name) {
				byProfile[p] = append(byProfile[p], name)
			}
		}
	}

	sort.Strings(set.AlwaysOn)
	for name, services := range byProfile {
		sort.Strings(services)
		set.Profiles = append(set.Profiles, Profile{Name: name, Services: services})
	}
	sort.Slice(set.Profiles, func(i, j int) bool { return set.Profiles[i].Name < set.Profiles[j].Name })
	return set, nil
}

// Names returns the profile names in order.
func (s *ProfileSet) Names() []string {
	names := make([]string, len(s.Profiles))
	for i, p := range s.Profiles {
		names[i] = p.Name
	}
	return names
}
