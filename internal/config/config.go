// Package config holds runtime constants and the runevm.yaml / runevm.toml
// configuration loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of a VM and of the CLI.
type Config struct {
	// MaxFrames is the maximum call depth.
	MaxFrames int `yaml:"max_frames" toml:"max_frames"`

	// MaxStack is the maximum operand-stack size of one task.
	MaxStack int `yaml:"max_stack" toml:"max_stack"`

	// CheckInterval is the number of instructions between cancellation checks.
	CheckInterval int `yaml:"check_interval" toml:"check_interval"`

	// Clock selects the timer clock: "virtual" jumps straight to the next
	// deadline when every task is parked, "real" waits on the wall clock.
	Clock string `yaml:"clock" toml:"clock"`

	// Trace logs every executed instruction at debug level.
	Trace bool `yaml:"trace" toml:"trace"`

	// LogVerbosity: 0 warnings and errors, 1 info, 2 debug.
	LogVerbosity int `yaml:"log_verbosity" toml:"log_verbosity"`

	// LogFile redirects logs from stderr to a file.
	LogFile string `yaml:"log_file,omitempty" toml:"log_file"`

	// Workers bounds how many units the CLI runs at once.
	Workers int `yaml:"workers" toml:"workers"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `yaml:"-" toml:"-"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		MaxFrames:     DefaultMaxFrames,
		MaxStack:      DefaultMaxStack,
		CheckInterval: DefaultCheckInterval,
		Clock:         ClockVirtual,
		Workers:       4,
	}
}

// Load reads a configuration file; the format follows the extension.
// Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes configuration bytes. The path picks the format and is used
// in error messages.
func Parse(data []byte, path string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

// FindAndLoad walks up from startDir looking for runevm.yaml, runevm.yml or
// runevm.toml and loads the first one found. It returns the defaults when
// there is none.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory: %w", err)
	}

	for {
		for _, name := range []string{YAMLConfigName, YMLConfigName, TOMLConfigName} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return Load(candidate)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			cfg := Default()
			return &cfg, nil
		}
		dir = parent
	}
}

// Validate checks the configuration for values a VM cannot run with.
func (c *Config) Validate() error {
	if c.MaxFrames <= 0 {
		return fmt.Errorf("max_frames must be positive, got %d", c.MaxFrames)
	}
	if c.MaxStack <= 0 {
		return fmt.Errorf("max_stack must be positive, got %d", c.MaxStack)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %d", c.CheckInterval)
	}
	switch c.Clock {
	case ClockVirtual, ClockReal:
	case "":
		c.Clock = ClockVirtual
	default:
		return fmt.Errorf("clock must be %q or %q, got %q", ClockVirtual, ClockReal, c.Clock)
	}
	if c.LogVerbosity < 0 || c.LogVerbosity > 2 {
		return fmt.Errorf("log_verbosity must be between 0 and 2, got %d", c.LogVerbosity)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
