package experiment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config parameterizes one experiment campaign.
type Config struct {
	DBPath      string   `toml:"db_path"`
	DatasetsDir string   `toml:"datasets_dir"`
	Datasets    []string `toml:"datasets"`
	Approaches  []string `toml:"approaches"`
	Seeds       []int64  `toml:"seeds"`

	DelayScale      float64 `toml:"delay_scale"`       // Multiplier on task duration spread
	PredictAbove    float64 `toml:"predict_above"`     // Minimum projected overrun to announce
	Quantile        float64 `toml:"quantile"`          // srea protection level
	FixedMargin     float64 `toml:"fixed_margin"`      // Fallback/fixed slack seconds
	UseDelayHistory bool    `toml:"use_delay_history"` // Replace the fixed estimator with recorded delays

	MaxParallel int `toml:"max_parallel"` // Concurrent trials; 0 means one per CPU

	Path string `toml:"-"`
}

// LoadConfig reads and validates a toml experiment configuration.
func LoadConfig(path string) (Config, error) {
	resolved := filepath.Clean(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "results.db"
	}
	if c.DatasetsDir == "" {
		c.DatasetsDir = "datasets"
	}
	if c.DelayScale == 0 {
		c.DelayScale = 1.0
	}
	if c.Quantile == 0 {
		c.Quantile = 0.95
	}
	if c.FixedMargin == 0 {
		c.FixedMargin = 5.0
	}
	if len(c.Seeds) == 0 {
		c.Seeds = []int64{42}
	}
}

// Validate rejects configurations the runner could not execute. Approach
// strings are decomposed here, once, so misconfiguration surfaces before any
// trial starts.
func (c *Config) Validate() error {
	if len(c.Datasets) == 0 {
		return fmt.Errorf("config %s: no datasets", c.Path)
	}
	if len(c.Approaches) == 0 {
		return fmt.Errorf("config %s: no approaches", c.Path)
	}
	for _, a := range c.Approaches {
		if _, err := ParseApproach(a); err != nil {
			return fmt.Errorf("config %s: %w", c.Path, err)
		}
	}
	if c.Quantile <= 0 || c.Quantile >= 1 {
		return fmt.Errorf("config %s: quantile %g out of (0,1)", c.Path, c.Quantile)
	}
	if c.DelayScale < 0 || c.FixedMargin < 0 || c.PredictAbove < 0 {
		return fmt.Errorf("config %s: negative parameter", c.Path)
	}
	return nil
}
