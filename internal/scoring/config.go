package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/signaltrace/internal/logparse"
)

// Weights are the component weights of the score. They must sum to 1.0.
type Weights struct {
	Severity  float64 `yaml:"severity"`
	Frequency float64 `yaml:"frequency"`
	Recency   float64 `yaml:"recency"`
}

// Thresholds are inclusive lower bounds of the P0, P1 and P2 bands.
type Thresholds struct {
	P0 float64 `yaml:"p0"`
	P1 float64 `yaml:"p1"`
	P2 float64 `yaml:"p2"`
}

// Config is the full scoring table set.
type Config struct {
	SeverityWeights logparse.SeverityWeights
	Weights         Weights
	Thresholds      Thresholds

	// ServiceBoost is added to the multiplier per affected service beyond
	// the first.
	ServiceBoost float64
}

// DefaultConfig returns the stock tables.
func DefaultConfig() Config {
	return Config{
		SeverityWeights: logparse.DefaultSeverityWeights(),
		Weights:         Weights{Severity: 0.5, Frequency: 0.3, Recency: 0.2},
		Thresholds:      Thresholds{P0: 0.75, P1: 0.55, P2: 0.35},
		ServiceBoost:    0.1,
	}
}

const weightSumTolerance = 1e-9

// Validate checks weights and thresholds.
func (c Config) Validate() error {
	var errs []error

	if err := c.SeverityWeights.Validate(); err != nil {
		errs = append(errs, err)
	}
	w := c.Weights
	if w.Severity < 0 || w.Frequency < 0 || w.Recency < 0 {
		errs = append(errs, fmt.Errorf("component weights must be non-negative: %+v", w))
	}
	if sum := w.Severity + w.Frequency + w.Recency; math.Abs(sum-1) > weightSumTolerance {
		errs = append(errs, fmt.Errorf("component weights must sum to 1.0, got %v", sum))
	}
	th := c.Thresholds
	if !(th.P0 > th.P1 && th.P1 > th.P2 && th.P2 > 0) {
		errs = append(errs, fmt.Errorf("thresholds must be strictly descending and positive: %+v", th))
	}
	if c.ServiceBoost < 0 {
		errs = append(errs, fmt.Errorf("service boost must be non-negative, got %v", c.ServiceBoost))
	}

	return errors.Join(errs...)
}

// fileConfig is the YAML shape. Every field is optional and overlays the
// defaults.
type fileConfig struct {
	SeverityWeights map[string]float64 `yaml:"severity_weights"`
	Weights         *Weights           `yaml:"weights"`
	Thresholds      *Thresholds        `yaml:"thresholds"`
	ServiceBoost    *float64           `yaml:"service_boost"`
}

// LoadConfig reads a YAML scoring file over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring config: %w", err)
	}
	cfg, err = ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML scoring overrides over the defaults and
// validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse scoring config: %w", err)
	}

	for name, v := range fc.SeverityWeights {
		sev, ok := logparse.ParseSeverity(name)
		if !ok {
			return Config{}, fmt.Errorf("unknown severity %q in severity_weights", name)
		}
		cfg.SeverityWeights[sev] = v
	}
	if fc.Weights != nil {
		cfg.Weights = *fc.Weights
	}
	if fc.Thresholds != nil {
		cfg.Thresholds = *fc.Thresholds
	}
	if fc.ServiceBoost != nil {
		cfg.ServiceBoost = *fc.ServiceBoost
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
