// Package config loads process configuration from the environment and an
// optional YAML tuning file overriding gameplay constants.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/talgya/harborsim/internal/sim"
)

// Config is the process-level configuration.
type Config struct {
	Port         int           `env:"HARBORSIM_PORT" envDefault:"8080"`
	DBPath       string        `env:"HARBORSIM_DB" envDefault:"data/harborsim.db"`
	Seed         int64         `env:"HARBORSIM_SEED" envDefault:"42"`
	TickInterval time.Duration `env:"HARBORSIM_TICK_INTERVAL" envDefault:"30s"`
	AdminKey     string        `env:"HARBORSIM_ADMIN_KEY"`
	PriceFeedURL string        `env:"HARBORSIM_PRICE_FEED_URL"`
	TuningPath   string        `env:"HARBORSIM_TUNING"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadTuning returns the gameplay constants, applying YAML overrides from
// path when it is non-empty. The file only needs to name the fields it
// changes; everything else keeps its default.
func LoadTuning(path string) (sim.Tuning, error) {
	tuning := sim.DefaultTuning()
	if path == "" {
		return tuning, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sim.Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return sim.Tuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	return tuning, nil
}
