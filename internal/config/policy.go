package config

import (
    "fmt"
    "os"

    "gopkg.in/yaml.v3"

    "github.com/iliyamo/table-allocation/internal/capacity"
)

// LoadPolicy reads a venue policy from a YAML file.  An empty path returns
// the built-in policy.  Fields left out of the file keep their built-in
// values; services, when given, replace the built-in list entirely.
func LoadPolicy(path string) (capacity.VenuePolicy, error) {
    def := capacity.DefaultPolicy()
    if path == "" {
        return def, nil
    }
    raw, err := os.ReadFile(path)
    if err != nil {
        return capacity.VenuePolicy{}, fmt.Errorf("read policy %s: %w", path, err)
    }
    return ParsePolicy(raw)
}

// ParsePolicy decodes a YAML policy document over the built-in defaults.
func ParsePolicy(raw []byte) (capacity.VenuePolicy, error) {
    def := capacity.DefaultPolicy()
    var p capacity.VenuePolicy
    if err := yaml.Unmarshal(raw, &p); err != nil {
        return capacity.VenuePolicy{}, fmt.Errorf("decode policy: %w", err)
    }
    if p.Timezone == "" {
        p.Timezone = def.Timezone
    }
    if len(p.Services) == 0 {
        p.Services = def.Services
    }
    if p.DefaultDurationMinutes <= 0 {
        p.DefaultDurationMinutes = def.DefaultDurationMinutes
    }
    if p.MaxDurationMinutes <= 0 {
        p.MaxDurationMinutes = def.MaxDurationMinutes
    }
    if p.ClampedDurationMinutes <= 0 {
        p.ClampedDurationMinutes = def.ClampedDurationMinutes
    }
    if err := p.Validate(); err != nil {
        return capacity.VenuePolicy{}, err
    }
    return p, nil
}
