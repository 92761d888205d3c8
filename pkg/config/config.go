// Package config loads the runtime configuration of the plan simulator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anggasct/planfsm/pkg/pool"
)

// Config is the simulator configuration. It covers the runtime only; plan
// graphs are built in code.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Pool    pool.Config   `yaml:"pool"`
	Runner  RunnerConfig  `yaml:"runner"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig selects zap level and encoding
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RunnerConfig sizes the agent runner
type RunnerConfig struct {
	// Workers is the number of agents driven concurrently
	Workers int `yaml:"workers"`
	// StopOnError aborts the whole population on the first failed agent
	StopOnError bool `yaml:"stopOnError"`
}

// MetricsConfig configures Prometheus collection
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "CONSOLE",
		},
		Pool: pool.Config{
			InitialSize:   16,
			MaxSizeFactor: pool.DefaultMaxSizeFactor,
		},
		Runner: RunnerConfig{
			Workers: 4,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "planfsm",
		},
	}
}

// Load reads a YAML file on top of the defaults and applies environment overrides
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, applies environment overrides
// and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides logging settings from LOGGING_LEVEL and LOGGING_FORMAT
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LOGGING_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOGGING_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

// Validate checks value ranges
func (c Config) Validate() error {
	var errs []error
	if c.Pool.InitialSize <= 0 {
		errs = append(errs, fmt.Errorf("pool.initialSize must be positive, got %d", c.Pool.InitialSize))
	}
	if c.Pool.MaxSizeFactor <= 0 {
		errs = append(errs, fmt.Errorf("pool.maxSizeFactor must be positive, got %d", c.Pool.MaxSizeFactor))
	}
	if c.Runner.Workers <= 0 {
		errs = append(errs, fmt.Errorf("runner.workers must be positive, got %d", c.Runner.Workers))
	}
	switch strings.ToUpper(c.Logging.Format) {
	case "CONSOLE", "JSON":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be CONSOLE or JSON, got %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, errors.New("metrics.namespace is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// Marshal encodes the configuration as YAML
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
