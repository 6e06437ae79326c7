package strategy

import (
	"gopkg.in/yaml.v3"
)

// Descriptor is the declarative half of a strategy implementation: identity,
// declared indicator set and the bound signature. Concrete strategies embed
// it; the manifest layer serializes it as the strategy snapshot artifact.
type Descriptor struct {
	StrategyName      string         `yaml:"name"`
	StrategyTimeframe string         `yaml:"timeframe"`
	IndicatorPaths    []string       `yaml:"indicators"`
	Filled            bool           `yaml:"implemented"`
	BoundSignature    map[string]any `yaml:"signature"`
}

// Name implements Strategy.
func (d *Descriptor) Name() string {
	return d.StrategyName
}

// Timeframe implements Strategy.
func (d *Descriptor) Timeframe() string {
	return d.StrategyTimeframe
}

// Indicators implements Strategy.
func (d *Descriptor) Indicators() []string {
	out := make([]string, len(d.IndicatorPaths))
	copy(out, d.IndicatorPaths)

	return out
}

// Signature implements Strategy.
func (d *Descriptor) Signature() map[string]any {
	return d.BoundSignature
}

// Implemented implements Strategy.
func (d *Descriptor) Implemented() bool {
	return d.Filled
}

// MarshalSnapshot renders the descriptor as the strategy snapshot artifact.
func (d *Descriptor) MarshalSnapshot() ([]byte, error) {
	return yaml.Marshal(d)
}

// UnmarshalSnapshot parses a strategy snapshot artifact.
func UnmarshalSnapshot(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, err
	}

	return &d, nil
}
