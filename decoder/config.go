package decoder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds beam search parameters.
type Config struct {
	Beam             float32 `yaml:"beam"`              // score margin below the best hypothesis
	MinActive        int     `yaml:"min_active"`        // token sets kept even when outside the beam
	MaxActive        int     `yaml:"max_active"`        // token sets kept per frame, 0 disables
	TokenSetSize     int     `yaml:"token_set_size"`    // hypotheses kept per (time, state)
	NBest            int     `yaml:"nbest"`             // hypotheses returned by traceback
	InsertionPenalty float32 `yaml:"insertion_penalty"` // subtracted per emitted label
	UseScoreOffset   bool    `yaml:"use_score_offset"`  // renormalize scores at every frame
	TokenSlabSize    int     `yaml:"token_slab_size"`   // arena growth unit

	// MaxEpsilonIterations bounds the token sets expanded by one epsilon
	// closure. 0 removes the bound, which is only safe on graphs without
	// epsilon cycles.
	MaxEpsilonIterations int `yaml:"max_epsilon_iterations"`
}

// DefaultConfig returns reasonable default parameters.
func DefaultConfig() Config {
	return Config{
		Beam:                 16,
		MinActive:            8,
		MaxActive:            12,
		TokenSetSize:         8,
		NBest:                1,
		InsertionPenalty:     0,
		UseScoreOffset:       true,
		TokenSlabSize:        5000,
		MaxEpsilonIterations: 100000,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Beam <= 0:
		return fmt.Errorf("beam must be positive, got %g", c.Beam)
	case c.MinActive < 0:
		return fmt.Errorf("min_active must not be negative, got %d", c.MinActive)
	case c.MaxActive < 0:
		return fmt.Errorf("max_active must not be negative, got %d", c.MaxActive)
	case c.MaxActive > 0 && c.MinActive > c.MaxActive:
		return fmt.Errorf("min_active %d exceeds max_active %d", c.MinActive, c.MaxActive)
	case c.TokenSetSize < 1:
		return fmt.Errorf("token_set_size must be at least 1, got %d", c.TokenSetSize)
	case c.NBest < 1:
		return fmt.Errorf("nbest must be at least 1, got %d", c.NBest)
	case c.TokenSlabSize < 1:
		return fmt.Errorf("token_slab_size must be at least 1, got %d", c.TokenSlabSize)
	case c.MaxEpsilonIterations < 0:
		return fmt.Errorf("max_epsilon_iterations must not be negative, got %d", c.MaxEpsilonIterations)
	}
	return nil
}

// LoadConfig reads a YAML file. Fields missing from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read decoder config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse decoder config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid decoder config: %w", err)
	}
	return cfg, nil
}
