// Package profiles loads per-project context profiles: optional YAML
// overrides for how much history the digest pulls in, plus standing
// notes pinned to directory prefixes.
package profiles

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile overrides digest sizing for one project. Zero limits mean
// "use the configured default".
type Profile struct {
	Name             string            `yaml:"name"`
	Description      string            `yaml:"description"`
	ObservationLimit int               `yaml:"observation_limit"`
	SummaryLimit     int               `yaml:"summary_limit"`
	PathNotes        map[string]string `yaml:"path_notes"`
}

// File is the top-level YAML structure.
type File struct {
	Profiles []Profile `yaml:"profiles"`
}

// Registry holds loaded profiles, keyed by project name.
type Registry struct {
	byName map[string]*Profile
	order  []string // preserves definition order
}

// Load reads the YAML file at path and returns a Registry. A missing
// file is not an error; it yields an empty Registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{byName: make(map[string]*Profile)}, nil
		}
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	r := &Registry{
		byName: make(map[string]*Profile, len(f.Profiles)),
	}
	for i := range f.Profiles {
		p := &f.Profiles[i]
		r.byName[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	return r, nil
}

// Get returns the profile for a project. Returns (nil, false) when the
// project has no profile.
func (r *Registry) Get(name string) (*Profile, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns all profiles in definition order.
func (r *Registry) All() []*Profile {
	result := make([]*Profile, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Names returns a sorted list of profiled project names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// ResolveNotes returns the standing notes whose prefix keys match the
// working directory, shortest prefix first, joined by blank lines.
// Empty when nothing matches.
func (p *Profile) ResolveNotes(cwd string) string {
	if p == nil || len(p.PathNotes) == 0 {
		return ""
	}

	type match struct {
		prefix string
		value  string
	}

	var matches []match
	for prefix, value := range p.PathNotes {
		if strings.HasPrefix(cwd, prefix) {
			matches = append(matches, match{prefix: prefix, value: value})
		}
	}

	if len(matches) == 0 {
		return ""
	}

	sort.Slice(matches, func(i, j int) bool {
		return len(matches[i].prefix) < len(matches[j].prefix)
	})

	values := make([]string, len(matches))
	for i, m := range matches {
		values[i] = m.value
	}
	return strings.Join(values, "\n\n")
}
