package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds the parameters of a simulation, read from a TOML file and overridden by flags.
type Config struct {
	// Replicas is the number of replicas, fully connected to each other.
	Replicas int
	// Docs is the number of documents edited.
	Docs int
	// Steps is the number of random edits.
	Steps int
	// DeliverProb is the probability of delivering a pending message between edits.
	DeliverProb float64
	// Seed of the random generator.
	Seed int64
	// LogLevel is one of debug, info, warn or error.
	LogLevel string
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Replicas:    3,
		Docs:        2,
		Steps:       100,
		DeliverProb: 0.5,
		Seed:        1,
		LogLevel:    "info",
	}
}

// LoadConfig reads a TOML file on top of the default configuration.
func LoadConfig(filename string) (Config, error) {
	conf := DefaultConfig()
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		return Config{}, errors.Wrapf(err, "failed to read TOML config file at %q", filename)
	}
	return conf, conf.Validate()
}

// Validate checks that the parameters are within range.
func (c Config) Validate() error {
	if c.Replicas < 2 {
		return errors.Errorf("need at least 2 replicas, got %d", c.Replicas)
	}
	if c.Docs < 1 {
		return errors.Errorf("need at least 1 document, got %d", c.Docs)
	}
	if c.Steps < 0 {
		return errors.Errorf("negative number of steps: %d", c.Steps)
	}
	if c.DeliverProb <= 0 || c.DeliverProb > 1 {
		return errors.Errorf("delivery probability must be in (0, 1], got %v", c.DeliverProb)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
