package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	common "github.com/ls1intum/Hephaestus-sub003/common/config"
)

// EnvPrefix prefixes every environment override, e.g. INGEST_SERVER_PORT.
const EnvPrefix = "INGEST"

type Config struct {
	Server    common.ServerConfig  `mapstructure:"server"`
	GitHub    GitHubConfig         `mapstructure:"github"`
	NATS      NATSConfig           `mapstructure:"nats"`
	Publish   PublishConfig        `mapstructure:"publish"`
	RateLimit RateLimitConfig      `mapstructure:"rate_limit"`
	Redis     common.RedisConfig   `mapstructure:"redis"`
	Logging   common.LoggingConfig `mapstructure:"logging"`
}

type GitHubConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
	Path          string `mapstructure:"path"`
	MaxBodyBytes  int64  `mapstructure:"max_body_bytes"`
}

type NATSConfig struct {
	common.NATSConfig `mapstructure:",squash"`

	EnsureStream bool          `mapstructure:"ensure_stream"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

type PublishConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// TrustProxyHeaders keys clients on X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.GitHub.WebhookSecret == "" {
		errs = append(errs, errors.New("github.webhook_secret is required"))
	}
	if c.GitHub.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("github.max_body_bytes must be positive"))
	}
	if c.Publish.MaxAttempts < 1 {
		errs = append(errs, errors.New("publish.max_attempts must be at least 1"))
	}
	if c.Publish.Timeout <= 0 {
		errs = append(errs, errors.New("publish.timeout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive when enabled"))
	}
	return errors.Join(errs...)
}

// Loader reads the configuration and can watch its file for changes.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader reads defaults, the optional config file and the environment.
func NewLoader(configPath string) (*Loader, error) {
	v := common.NewViper(EnvPrefix)
	setDefaults(v)

	if err := common.ReadConfigFile(v, configPath, ".", "/etc/webhooks/ingest"); err != nil {
		return nil, err
	}

	return &Loader{v: v}, nil
}

// Load reads the configuration once.
func Load(configPath string) (*Config, error) {
	l, err := NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// Config unmarshals the current configuration.
func (l *Loader) Config() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the new configuration whenever the config file
// is written. It returns false when no config file is in use.
func (l *Loader) Watch(onChange func(*Config)) bool {
	if l.v.ConfigFileUsed() == "" {
		return false
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.Config()
		if err != nil {
			slog.Warn("Ignoring config change", slog.String("file", e.Name), slog.String("error", err.Error()))
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

func setDefaults(v *viper.Viper) {
	common.SetSharedDefaults(v, EnvPrefix)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("github.path", "/github")
	v.SetDefault("github.max_body_bytes", 25<<20)

	v.SetDefault("nats.ensure_stream", true)
	v.SetDefault("nats.max_age", "2160h")
	v.SetDefault("nats.max_bytes", -1)

	v.SetDefault("publish.max_attempts", 3)
	v.SetDefault("publish.base_delay", "500ms")
	v.SetDefault("publish.max_delay", "5s")
	v.SetDefault("publish.timeout", "10s")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 600)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.trust_proxy_headers", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	// The secret is commonly provided without the service prefix
	_ = v.BindEnv("github.webhook_secret", common.EnvName(EnvPrefix, "github.webhook_secret"), "GITHUB_WEBHOOK_SECRET")
}
