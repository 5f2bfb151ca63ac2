// Package config provides configuration management for tvgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultReadTimeout       = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRefreshDelay      = 1 * time.Second
	defaultSuccessInterval   = 4 * time.Hour
	defaultRetryInterval     = 10 * time.Minute
	defaultSessionIdle       = 5 * time.Minute
	defaultReapInterval      = 10 * time.Second
	defaultConnectTimeout    = 30 * time.Second
	defaultFetchRetries      = 3
	defaultFetchRetryDelay   = 5 * time.Second
	defaultMaxPlaylistBytes  = 64 * 1024 * 1024
	defaultForwardUserHeader = "X-Proxy-User"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Sessions SessionConfig  `mapstructure:"sessions"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout must stay zero for live streaming: a non-zero value
	// would cut off long-running channel relays mid-stream.
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// BaseURL is the externally visible URL clients use to reach this
	// instance. Empty means derive from host/port.
	BaseURL string `mapstructure:"base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProxyConfig holds access control and token configuration.
type ProxyConfig struct {
	// TokenSalt is the process-wide secret used for token signatures.
	// Tokens become invalid when it changes.
	TokenSalt string `mapstructure:"token_salt"`
	// AllowAnonymous permits playlist requests without a user segment;
	// anonymous clients receive synthetic numeric identities.
	AllowAnonymous bool `mapstructure:"allow_anonymous"`
	// Users is the allow-list of named users for /m3u/{user} requests.
	Users []string `mapstructure:"users"`
	// ForwardUserHeader carries a chained proxy's sub-user identity.
	ForwardUserHeader string `mapstructure:"forward_user_header"`
}

// RefreshConfig holds channel catalog refresh configuration.
type RefreshConfig struct {
	// StartupDelay is how long after startup the first refresh runs.
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	// SuccessInterval is the delay until the next refresh after success.
	SuccessInterval time.Duration `mapstructure:"success_interval"`
	// RetryInterval is the delay until the next attempt after a failure.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// Cron optionally forces a refresh on a fixed schedule in addition
	// to the adaptive loop (standard 5-field cron expression).
	Cron string `mapstructure:"cron"`
}

// SessionConfig holds user session lifecycle configuration.
type SessionConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

// UpstreamConfig holds upstream fetch configuration shared by all sources.
type UpstreamConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxPlaylistBytes int64         `mapstructure:"max_playlist_bytes"`
}

// SourceConfig describes one configured upstream playlist provider.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	// ForwardUser tags upstream requests with the forwarded-user header,
	// for sources that are themselves tvgate instances.
	ForwardUser bool `mapstructure:"forward_user"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with TVGATE_, using underscores for nesting.
// Example: TVGATE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tvgate")
		v.AddConfigPath("$HOME/.tvgate")
	}

	v.SetEnvPrefix("TVGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", defaultIdleTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.base_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Proxy defaults
	v.SetDefault("proxy.token_salt", "")
	v.SetDefault("proxy.allow_anonymous", false)
	v.SetDefault("proxy.users", []string{})
	v.SetDefault("proxy.forward_user_header", defaultForwardUserHeader)

	// Refresh defaults
	v.SetDefault("refresh.startup_delay", defaultRefreshDelay)
	v.SetDefault("refresh.success_interval", defaultSuccessInterval)
	v.SetDefault("refresh.retry_interval", defaultRetryInterval)
	v.SetDefault("refresh.cron", "")

	// Session defaults
	v.SetDefault("sessions.idle_timeout", defaultSessionIdle)
	v.SetDefault("sessions.reap_interval", defaultReapInterval)

	// Upstream defaults
	v.SetDefault("upstream.connect_timeout", defaultConnectTimeout)
	v.SetDefault("upstream.retry_attempts", defaultFetchRetries)
	v.SetDefault("upstream.retry_delay", defaultFetchRetryDelay)
	v.SetDefault("upstream.max_playlist_bytes", int64(defaultMaxPlaylistBytes))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Proxy.TokenSalt == "" {
		return fmt.Errorf("proxy.token_salt is required")
	}
	if !c.Proxy.AllowAnonymous && len(c.Proxy.Users) == 0 {
		return fmt.Errorf("proxy.users must not be empty when anonymous access is disabled")
	}
	if c.Proxy.ForwardUserHeader == "" {
		return fmt.Errorf("proxy.forward_user_header is required")
	}

	if c.Refresh.SuccessInterval <= 0 || c.Refresh.RetryInterval <= 0 {
		return fmt.Errorf("refresh intervals must be positive")
	}

	if c.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("sessions.idle_timeout must be positive")
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one upstream source is required")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
		if !strings.HasPrefix(src.URL, "http://") && !strings.HasPrefix(src.URL, "https://") {
			return fmt.Errorf("sources[%d].url must be HTTP or HTTPS", i)
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EffectiveBaseURL returns the configured base URL, or one derived from
// host/port when unset. The result never has a trailing slash.
func (c *ServerConfig) EffectiveBaseURL() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base != "" {
		return base
	}
	host := c.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// AllowedUser reports whether the named user is on the allow-list.
func (c *ProxyConfig) AllowedUser(user string) bool {
	for _, u := range c.Users {
		if u == user {
			return true
		}
	}
	return false
}
