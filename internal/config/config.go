// Package config loads runtime configuration with spf13/viper, following
// wyfcoding-financialTrading's pkg/config pattern: defaults set first,
// an optional file layered on top, then FENRIR_-prefixed environment
// variables overriding both.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of runtime knobs for the server binary.
type Config struct {
	HTTP     HTTPConfig
	Postgres PostgresConfig
	Engine   EngineConfig
}

// HTTPConfig controls the command/query HTTP surface and push stream.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// PostgresConfig controls the Repository's database connection. An empty
// DSN selects the in-memory repository, used for local development.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// EngineConfig controls the writer's queue depth and command timing.
type EngineConfig struct {
	QueueDepth      int           `mapstructure:"queue_depth"`
	DefaultDeadline time.Duration `mapstructure:"default_deadline"`
	MaxCommitTries  uint64        `mapstructure:"max_commit_tries"`
}

// Load reads configPath (if it exists) and layers FENRIR_-prefixed
// environment variables over it; an empty configPath loads defaults and
// environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("FENRIR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the constraints Load's defaults alone cannot guarantee
// once overridden by a file or the environment.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http.port: %d", c.HTTP.Port)
	}
	if c.Engine.QueueDepth <= 0 {
		return fmt.Errorf("invalid engine.queue_depth: %d", c.Engine.QueueDepth)
	}
	if c.Engine.MaxCommitTries == 0 {
		return fmt.Errorf("invalid engine.max_commit_tries: %d", c.Engine.MaxCommitTries)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("engine.queue_depth", 256)
	v.SetDefault("engine.default_deadline", 2*time.Second)
	v.SetDefault("engine.max_commit_tries", 5)
}
