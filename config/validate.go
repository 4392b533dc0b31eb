package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Engine.MaxRetries < 1 {
		return errors.New("engine.max_retries must be >= 1")
	}

	if c.Sweeper.BatchSize < 1 {
		return errors.New("sweeper.batch_size must be >= 1")
	}
	if c.Sweeper.Concurrency < 1 {
		return errors.New("sweeper.concurrency must be >= 1")
	}

	if c.Escrow.Enabled && len(c.Escrow.Brokers) == 0 {
		return errors.New("escrow.brokers is required when escrow.enabled")
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
