// Package config provides the configuration building blocks shared by the
// webhook ingest service and the extraction CLI.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address for the configured port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// NATSConfig holds NATS message broker configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Stream         string        `mapstructure:"stream"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultStream is the JetStream stream that captures every webhook subject.
const DefaultStream = "GITHUB"

// NewViper returns a viper instance where environment variables override
// keys, e.g. nats.url is read from <PREFIX>_NATS_URL.
func NewViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

// SetSharedDefaults sets defaults for the sections every binary uses.
// envPrefix must match the prefix given to NewViper.
func SetSharedDefaults(v *viper.Viper, envPrefix string) {
	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.token", "")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")
	v.SetDefault("nats.stream", DefaultStream)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Unprefixed aliases commonly set in container environments
	_ = v.BindEnv("nats.url", EnvName(envPrefix, "nats.url"), "NATS_URL")
}

// ReadConfigFile reads path into v. A missing file is not an error when the
// path was not given explicitly; an unreadable or malformed file always is.
func ReadConfigFile(v *viper.Viper, path string, searchPaths ...string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			// Config file not found; use defaults and environment
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// EnvName returns the environment variable that overrides key under prefix.
func EnvName(prefix, key string) string {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if prefix != "" {
		return strings.ToUpper(prefix) + "_" + name
	}
	return name
}
