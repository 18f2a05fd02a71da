package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profiles is a set of named diff configurations. The source system grew
// several near-identical diff implementations with slightly different
// thresholds; those variants are expressed here as data instead of code.
type Profiles map[string]DiffConfig

// LoadProfiles reads named diff profiles from a YAML file. Each profile is a
// complete configuration, not an overlay over the base one. An empty path
// returns an empty set.
func LoadProfiles(path string) (Profiles, error) {
	if path == "" {
		return Profiles{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles Profiles
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	for name, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}

	return profiles, nil
}

// Resolve returns the named profile, or the base configuration when name is
// empty. Unknown names are an error rather than a silent fallback.
func (p Profiles) Resolve(name string, base DiffConfig) (DiffConfig, error) {
	if name == "" {
		return base, nil
	}
	profile, ok := p[name]
	if !ok {
		return DiffConfig{}, fmt.Errorf("unknown diff profile %q", name)
	}
	return profile, nil
}
