// Package config loads portalgate settings from defaults, a config file, the
// environment and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/takutakahashi/portalgate/pkg/client"
	"github.com/takutakahashi/portalgate/pkg/tokenstore"
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix is the prefix of environment overrides, e.g. PORTALGATE_BASE_URL
const EnvPrefix = "PORTALGATE"

// Config holds the complete client configuration
type Config struct {
	BaseURL    string            `mapstructure:"base_url"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Profile    string            `mapstructure:"profile"`
	Log        LogConfig         `mapstructure:"log"`
	TokenStore tokenstore.Config `mapstructure:"token_store"`
	RoutesFile string            `mapstructure:"routes_file"`
	Endpoints  client.Endpoints  `mapstructure:"endpoints"`
	DevServer  DevServerConfig   `mapstructure:"devserver"`
}

// LogConfig controls logger construction
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DevServerConfig configures the local development backend
type DevServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	Secret        string        `mapstructure:"secret"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	RotateRefresh bool          `mapstructure:"rotate_refresh"`
}

// SetDefaults registers every key with its default so environment overrides
// resolve even when no config file mentions the key
func SetDefaults(v *viper.Viper) {
	endpoints := client.DefaultEndpoints()

	v.SetDefault("base_url", client.DefaultBaseURL)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("profile", "default")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	// The factory falls back to memory for an empty type; the CLI persists sessions.
	v.SetDefault("token_store.type", "file")
	v.SetDefault("token_store.path", "")
	v.SetDefault("token_store.encrypt", false)
	v.SetDefault("token_store.encryption_key", "")
	v.SetDefault("routes_file", "")
	v.SetDefault("endpoints.token", endpoints.Token)
	v.SetDefault("endpoints.refresh", endpoints.Refresh)
	v.SetDefault("endpoints.me", endpoints.Me)
	v.SetDefault("endpoints.register", endpoints.Register)
	v.SetDefault("endpoints.logout", endpoints.Logout)
	v.SetDefault("devserver.addr", "127.0.0.1:8000")
	v.SetDefault("devserver.secret", "")
	v.SetDefault("devserver.access_ttl", 5*time.Minute)
	v.SetDefault("devserver.refresh_ttl", 24*time.Hour)
	v.SetDefault("devserver.rotate_refresh", false)
}

// New returns a viper instance with defaults and environment overrides wired
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile (when non-empty) into v and decodes the result.
// A missing optional file is not an error when required is false.
func Load(v *viper.Viper, configFile string, required bool) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if required || !(errors.As(err, &notFound) || isNotExist(err)) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: base_url %q must be an http(s) URL with a host", ErrInvalidConfig, c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, c.Timeout)
	}
	switch c.TokenStore.Type {
	case "", "memory", "file", "sqlite":
	default:
		return fmt.Errorf("%w: token_store.type %q is not one of memory, file, sqlite", ErrInvalidConfig, c.TokenStore.Type)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q is not text or json", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}
