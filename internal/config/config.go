package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stanstork/chartdata-api/internal/models"
)

type RunnerConfig struct {
	Pacing      time.Duration `mapstructure:"pacing"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type SQLServerConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// ConnectionsConfig selects where connection profiles come from. With
// source "config" the profiles below are used; with "database" they are read
// from the connections table.
type ConnectionsConfig struct {
	Source        string                              `mapstructure:"source"`
	EncryptionKey string                              `mapstructure:"encryption_key"`
	Profiles      map[string]models.ConnectionProfile `mapstructure:"profiles"`
}

type Config struct {
	DatabaseURL    string            `mapstructure:"database_url"`
	ServerPort     string            `mapstructure:"server_port"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	LogLevel       string            `mapstructure:"log_level"`
	Runner         RunnerConfig      `mapstructure:"runner"`
	SQLServer      SQLServerConfig   `mapstructure:"sqlserver"`
	Connections    ConnectionsConfig `mapstructure:"connections"`
}

// Load reads .env, then config.yaml from . or ./config, then CHARTDATA_*
// environment overrides.
func Load() (*Config, error) {
	// A missing .env is fine; it only seeds the environment for local runs.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHARTDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("runner.pacing", "2s")
	v.SetDefault("runner.stop_timeout", "30s")
	v.SetDefault("sqlserver.max_open_conns", 2)
	v.SetDefault("sqlserver.conn_max_idle_time", "5m")
	v.SetDefault("sqlserver.query_timeout", "2m")
	v.SetDefault("connections.source", "config")
	// Bind so the env var is seen even without a config file entry.
	_ = v.BindEnv("database_url")
	_ = v.BindEnv("connections.encryption_key")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url must be set")
	}
	if c.Runner.Pacing < 0 {
		return fmt.Errorf("runner.pacing must not be negative")
	}
	switch c.Connections.Source {
	case "config", "database":
	default:
		return fmt.Errorf("connections.source must be config or database, got %q", c.Connections.Source)
	}
	for key := range c.Connections.Profiles {
		if _, err := models.ParseSourceSystem(key); err != nil {
			return fmt.Errorf("connections.profiles: %w", err)
		}
	}
	return nil
}

// StaticProfiles returns the config-file profiles keyed by source system.
func (c *Config) StaticProfiles() map[models.SourceSystem]models.ConnectionProfile {
	out := make(map[models.SourceSystem]models.ConnectionProfile, len(c.Connections.Profiles))
	for key, p := range c.Connections.Profiles {
		system, err := models.ParseSourceSystem(key)
		if err != nil {
			continue
		}
		p.System = system
		out[system] = p
	}
	return out
}
