package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel       = "info"
	DefaultLogMode        = "production"
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMinConns       = 2
	DefaultMaxConns       = 10
	DefaultMaxRetries     = 3
	DefaultSweepInterval  = 5 * time.Second
	DefaultSweepBatchSize = 100
	DefaultSweepFanout    = 8
	DefaultEscrowTopic    = "auction.escrow-holds"
	DefaultEscrowInterval = 250 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Mode == "" {
		c.Log.Mode = DefaultLogMode
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}

	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = DefaultMaxRetries
	}

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Sweeper.BatchSize == 0 {
		c.Sweeper.BatchSize = DefaultSweepBatchSize
	}
	if c.Sweeper.Concurrency == 0 {
		c.Sweeper.Concurrency = DefaultSweepFanout
	}

	if c.Escrow.Topic == "" {
		c.Escrow.Topic = DefaultEscrowTopic
	}
	if c.Escrow.Interval == 0 {
		c.Escrow.Interval = DefaultEscrowInterval
	}
}
