// Package config loads and validates the auctiond configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full auctiond configuration.
type Config struct {
	Log      LogConfig     `yaml:"log"`
	Database DBConfig      `yaml:"database"`
	Engine   EngineConfig  `yaml:"engine"`
	Sweeper  SweeperConfig `yaml:"sweeper"`
	Escrow   EscrowConfig  `yaml:"escrow"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Mode  string `yaml:"mode"`  // development or production encoding
}

// DBConfig describes the Postgres connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MinConns int32  `yaml:"min_conns"`
	MaxConns int32  `yaml:"max_conns"`
}

// EngineConfig tunes the bidding engine.
type EngineConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// SweeperConfig tunes the expiry sweeper.
type SweeperConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

// EscrowConfig describes the Kafka outbox relay.
type EscrowConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads, defaults and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConnString builds the Postgres connection string. The password is
// URL-encoded to survive special characters.
func (db DBConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User,
		url.QueryEscape(db.Password),
		db.Host,
		db.Port,
		db.Name,
		db.SSLMode,
	)
}
