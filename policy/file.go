package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileEntry mirrors one YAML policy entry. on_fail is kept as a string
// so parsing errors name the offending value.
type fileEntry struct {
	Sources     []string `yaml:"sources"`
	Sink        string   `yaml:"sink"`
	Constraint  string   `yaml:"constraint"`
	OnFail      string   `yaml:"on_fail"`
	Description string   `yaml:"description"`
}

// LoadFile reads a YAML file containing a list of policies. Each entry
// is validated the same way as a programmatic New call; the first
// invalid entry fails the whole load.
func LoadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var entries []fileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	policies := make([]Policy, 0, len(entries))
	for i, e := range entries {
		onFail, err := ParseResolution(e.OnFail)
		if err != nil {
			return nil, fmt.Errorf("policy %d in %s: %w", i, path, err)
		}
		p, err := New(e.Sources, e.Sink, e.Constraint, onFail, e.Description)
		if err != nil {
			return nil, fmt.Errorf("policy %d in %s: %w", i, path, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}
