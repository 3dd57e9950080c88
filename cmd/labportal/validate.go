package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/labportal/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the labportal configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, getDefaultConfig())

		fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	valid := validKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// validKeys returns every key that has a default. Lab entries live under a
// list and are validated when the config is loaded.
func validKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Println("\n[server]")
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  secure_cookies", cfg.Server.SecureCookies, defaultCfg.Server.SecureCookies, yellow, green)

	cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	cyan.Println("\n[tracking]")
	dumpField("  flush_interval", cfg.Tracking.FlushInterval, defaultCfg.Tracking.FlushInterval, yellow, green)
	dumpField("  inactivity_timeout", cfg.Tracking.InactivityTimeout, defaultCfg.Tracking.InactivityTimeout, yellow, green)
	dumpField("  reap_interval", cfg.Tracking.ReapInterval, defaultCfg.Tracking.ReapInterval, yellow, green)

	cyan.Println("\n[auth]")
	dumpField("  provider", cfg.Auth.Provider, defaultCfg.Auth.Provider, yellow, green)
	dumpField("  pocketbase_url", cfg.Auth.PocketBaseURL, defaultCfg.Auth.PocketBaseURL, yellow, green)
	dumpField("  collection", cfg.Auth.Collection, defaultCfg.Auth.Collection, yellow, green)
	dumpField("  request_timeout", cfg.Auth.RequestTimeout, defaultCfg.Auth.RequestTimeout, yellow, green)
	dumpField("  jwt_secret", redactSecret(cfg.Auth.JWTSecret), redactSecret(defaultCfg.Auth.JWTSecret), yellow, green)
	dumpField("  token_ttl", cfg.Auth.TokenTTL, defaultCfg.Auth.TokenTTL, yellow, green)
	dumpField("  cleanup_interval", cfg.Auth.CleanupInterval, defaultCfg.Auth.CleanupInterval, yellow, green)
	dumpField("  min_password_length", cfg.Auth.MinPasswordLength, defaultCfg.Auth.MinPasswordLength, yellow, green)
	dumpField("  bcrypt_cost", cfg.Auth.BcryptCost, defaultCfg.Auth.BcryptCost, yellow, green)
	dumpField("  record_cache_size", cfg.Auth.RecordCacheSize, defaultCfg.Auth.RecordCacheSize, yellow, green)

	cyan.Println("\n[portal]")
	dumpField("  redirect_delay", cfg.Portal.RedirectDelay, defaultCfg.Portal.RedirectDelay, yellow, green)
	dumpField("  post_register_pause", cfg.Portal.PostRegisterPause, defaultCfg.Portal.PostRegisterPause, yellow, green)
	dumpField("  login_fallback_delay", cfg.Portal.LoginFallbackDelay, defaultCfg.Portal.LoginFallbackDelay, yellow, green)
	dumpField("  notice_timeout", cfg.Portal.NoticeTimeout, defaultCfg.Portal.NoticeTimeout, yellow, green)
	dumpField("  rate_limit", cfg.Portal.RateLimit, defaultCfg.Portal.RateLimit, yellow, green)
	dumpField("  rate_limit_window", cfg.Portal.RateLimitWindow, defaultCfg.Portal.RateLimitWindow, yellow, green)

	cyan.Println("\n[labs]")
	for _, lab := range cfg.Labs {
		green.Printf("  %s / %s\n", lab.Category, lab.Name)
	}
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
