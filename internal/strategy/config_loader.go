package strategy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"metron-core/internal/analysis"
	"metron-core/internal/market"
)

// File is the YAML layout of the strategies file.
type File struct {
	Modes  map[string]Override `yaml:"modes"`
	Signal yaml.Node           `yaml:"signal"`
}

// LoadConfig reads mode overrides and the vote policy from a YAML file.
// A missing file yields the built-in catalog and DefaultPolicy.
func LoadConfig(path string) (*Catalog, analysis.VotePolicy, error) {
	if path == "" {
		return NewCatalog(nil), analysis.DefaultPolicy, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewCatalog(nil), analysis.DefaultPolicy, nil
	}
	if err != nil {
		return nil, analysis.DefaultPolicy, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes the YAML body of a strategies file.
func ParseConfig(data []byte) (*Catalog, analysis.VotePolicy, error) {
	policy := analysis.DefaultPolicy

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, policy, fmt.Errorf("parse strategies file: %w", err)
	}

	overrides := make(map[Mode]Override, len(file.Modes))
	for name, o := range file.Modes {
		mode, err := ParseMode(name)
		if err != nil {
			return nil, policy, err
		}
		if o.MinScore != nil && *o.MinScore < 0 {
			return nil, policy, fmt.Errorf("mode %s: min_score must be >= 0", mode)
		}
		for _, r := range o.AllowedRegimes {
			if !knownRegime(r) {
				return nil, policy, fmt.Errorf("mode %s: unknown regime %q", mode, r)
			}
		}
		overrides[mode] = o
	}

	if !file.Signal.IsZero() {
		// Decoding onto the defaults keeps fields the file leaves out.
		if err := file.Signal.Decode(&policy); err != nil {
			return nil, policy, fmt.Errorf("parse signal policy: %w", err)
		}
		if policy.Threshold <= 0 || policy.StrongThreshold < policy.Threshold {
			return nil, policy, errors.New("signal thresholds must satisfy 0 < threshold <= strong_threshold")
		}
	}

	return NewCatalog(overrides), policy, nil
}

func knownRegime(r market.Regime) bool {
	for _, known := range market.Regimes {
		if r == known {
			return true
		}
	}
	return false
}
