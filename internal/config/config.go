package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Labs     []LabConfig    `mapstructure:"labs"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	HTTPPort      int    `mapstructure:"http_port"`
	MetricsPort   int    `mapstructure:"metrics_port"`
	BindAddress   string `mapstructure:"bind_address"`
	SecureCookies bool   `mapstructure:"secure_cookies"` // set when served behind TLS
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis", "bolt" or "memory"
	Path  string      `mapstructure:"path"` // bolt database file
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines lab time tracking settings
type TrackingConfig struct {
	FlushInterval     string `mapstructure:"flush_interval"`
	InactivityTimeout string `mapstructure:"inactivity_timeout"`
	ReapInterval      string `mapstructure:"reap_interval"`
}

// AuthConfig defines the identity provider and session settings
type AuthConfig struct {
	Provider          string `mapstructure:"provider"` // "local" or "pocketbase"
	PocketBaseURL     string `mapstructure:"pocketbase_url"`
	Collection        string `mapstructure:"collection"`
	RequestTimeout    string `mapstructure:"request_timeout"`
	JWTSecret         string `mapstructure:"jwt_secret"`
	TokenTTL          string `mapstructure:"token_ttl"`
	CleanupInterval   string `mapstructure:"cleanup_interval"`
	MinPasswordLength int    `mapstructure:"min_password_length"`
	BcryptCost        int    `mapstructure:"bcrypt_cost"`
	RecordCacheSize   int    `mapstructure:"record_cache_size"`
}

// PortalConfig defines web portal behavior
type PortalConfig struct {
	RedirectDelay      string `mapstructure:"redirect_delay"`
	PostRegisterPause  string `mapstructure:"post_register_pause"`
	LoginFallbackDelay string `mapstructure:"login_fallback_delay"`
	NoticeTimeout      string `mapstructure:"notice_timeout"`
	RateLimit          int    `mapstructure:"rate_limit"`
	RateLimitWindow    string `mapstructure:"rate_limit_window"`
}

// LabConfig is one entry of the lab catalogue shown on the home page
type LabConfig struct {
	Name        string `mapstructure:"name"`
	Category    string `mapstructure:"category"`
	Description string `mapstructure:"description"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LABPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults registers every default value on v. Exported so the validate
// command can build the default configuration for comparison.
func SetDefaults(v *viper.Viper) {
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.secure_cookies", false)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.path", "/var/lib/labportal/labportal.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.flush_interval", "5s")
	v.SetDefault("tracking.inactivity_timeout", "30s")
	v.SetDefault("tracking.reap_interval", "10s")

	// Auth defaults
	v.SetDefault("auth.provider", "local")
	v.SetDefault("auth.pocketbase_url", "http://127.0.0.1:8090")
	v.SetDefault("auth.collection", "vlabs_users")
	v.SetDefault("auth.request_timeout", "10s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "336h")
	v.SetDefault("auth.cleanup_interval", "15m")
	v.SetDefault("auth.min_password_length", 8)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.record_cache_size", 256)

	// Portal defaults
	v.SetDefault("portal.redirect_delay", "1s")
	v.SetDefault("portal.post_register_pause", "500ms")
	v.SetDefault("portal.login_fallback_delay", "2s")
	v.SetDefault("portal.notice_timeout", "3s")
	v.SetDefault("portal.rate_limit", 100)
	v.SetDefault("portal.rate_limit_window", "1m")

	v.SetDefault("labs", []map[string]interface{}{
		{"name": "Test Lab", "category": "Testing", "description": "Verifies that lab time is being recorded"},
	})
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	switch cfg.Storage.Type {
	case "redis", "memory":
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		// Ensure storage directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Auth.Provider {
	case "local":
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for the local provider")
		}
	case "pocketbase":
		if cfg.Auth.PocketBaseURL == "" {
			return fmt.Errorf("auth.pocketbase_url is required for the pocketbase provider")
		}
		if cfg.Auth.Collection == "" {
			return fmt.Errorf("auth.collection is required for the pocketbase provider")
		}
	default:
		return fmt.Errorf("unsupported auth provider: %s", cfg.Auth.Provider)
	}
	if cfg.Auth.MinPasswordLength <= 0 {
		return fmt.Errorf("invalid min_password_length: %d", cfg.Auth.MinPasswordLength)
	}

	durations := map[string]string{
		"tracking.flush_interval":     cfg.Tracking.FlushInterval,
		"tracking.inactivity_timeout": cfg.Tracking.InactivityTimeout,
		"tracking.reap_interval":      cfg.Tracking.ReapInterval,
		"auth.request_timeout":        cfg.Auth.RequestTimeout,
		"auth.token_ttl":              cfg.Auth.TokenTTL,
		"portal.redirect_delay":       cfg.Portal.RedirectDelay,
		"portal.post_register_pause":  cfg.Portal.PostRegisterPause,
		"portal.login_fallback_delay": cfg.Portal.LoginFallbackDelay,
		"portal.rate_limit_window":    cfg.Portal.RateLimitWindow,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	seen := make(map[string]bool, len(cfg.Labs))
	for i, lab := range cfg.Labs {
		if lab.Name == "" || lab.Category == "" {
			return fmt.Errorf("labs[%d]: name and category are required", i)
		}
		key := lab.Category + "/" + lab.Name
		if seen[key] {
			return fmt.Errorf("labs[%d]: duplicate lab %q in category %q", i, lab.Name, lab.Category)
		}
		seen[key] = true
	}

	return nil
}

// ParseDuration parses a duration string, returning fallback when it is empty
// or malformed.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
