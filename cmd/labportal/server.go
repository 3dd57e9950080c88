package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/labportal/internal/clock"
	"github.com/goodtune/labportal/internal/config"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/metrics"
	"github.com/goodtune/labportal/internal/portal"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/goodtune/labportal/internal/storage/bolt"
	"github.com/goodtune/labportal/internal/storage/memory"
	"github.com/goodtune/labportal/internal/storage/redis"
	"github.com/goodtune/labportal/internal/systemd"
	"github.com/goodtune/labportal/internal/tracker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the portal server",
	Long:  `Start the labportal web portal and its metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting labportal")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}

	provider, err := newProvider(cfg.Auth, store, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	logger.Info().
		Str("provider", cfg.Auth.Provider).
		Msg("Identity provider initialized")

	sessions := identity.NewManager(
		store.Sessions(),
		provider,
		config.ParseDuration(cfg.Auth.TokenTTL, identity.DefaultSessionTTL),
		clk,
		logger,
	)
	sessions.StartCleanup(ctx, config.ParseDuration(cfg.Auth.CleanupInterval, 15*time.Minute))

	stats := labstats.NewStore(store.KV(), logger)

	inactivity := config.ParseDuration(cfg.Tracking.InactivityTimeout, tracker.DefaultInactivityTimeout)
	registry := tracker.NewRegistry(stats, tracker.Config{
		FlushInterval:     config.ParseDuration(cfg.Tracking.FlushInterval, tracker.DefaultFlushInterval),
		InactivityTimeout: inactivity,
		ReapInterval:      config.ParseDuration(cfg.Tracking.ReapInterval, tracker.DefaultReapInterval),
	}, clk, logger)

	logger.Info().
		Dur("inactivity_timeout", inactivity).
		Msg("Lab time tracking initialized")

	portalConfig := portal.Config{
		ListenAddr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		SecureCookies:      cfg.Server.SecureCookies,
		MinPasswordLength:  cfg.Auth.MinPasswordLength,
		RedirectDelay:      config.ParseDuration(cfg.Portal.RedirectDelay, time.Second),
		PostRegisterPause:  config.ParseDuration(cfg.Portal.PostRegisterPause, 500*time.Millisecond),
		LoginFallbackDelay: config.ParseDuration(cfg.Portal.LoginFallbackDelay, 2*time.Second),
		NoticeTimeout:      config.ParseDuration(cfg.Portal.NoticeTimeout, 3*time.Second),
		HeartbeatInterval:  inactivity / 3,
		RateLimit:          cfg.Portal.RateLimit,
		RateLimitWindow:    config.ParseDuration(cfg.Portal.RateLimitWindow, time.Minute),
		Labs:               labsFromConfig(cfg.Labs),
	}

	portalServer, err := portal.NewServer(portalConfig, provider, sessions, stats, registry, clk, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize portal: %w", err)
	}

	if sdListeners.Activated && sdListeners.Portal != nil {
		portalServer.SetListener(sdListeners.Portal)
	}

	if err := portalServer.Start(); err != nil {
		return fmt.Errorf("failed to start portal: %w", err)
	}

	logger.Info().
		Str("addr", portalConfig.ListenAddr).
		Msg("Portal started")

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, storageReady(store), logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}

		logger.Info().
			Str("addr", metricsAddr).
			Msg("Metrics Server started")
	}

	logger.Info().Msg("labportal startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	systemd.StartWatchdog(ctx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			// Nothing is reloadable; log current state.
			logger.Info().
				Int("sessions", sessions.Active()).
				Int("tracking", registry.Active()).
				Msg("SIGHUP received")
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := portalServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping portal")
	}

	// Final flush of every open lab before storage goes away
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry.Shutdown(shutdownCtx)
	shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("labportal stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	storageType := cfg.Type
	if storageType == "" {
		storageType = "redis"
	}

	switch storageType {
	case "redis":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

func newProvider(cfg config.AuthConfig, store storage.Store, clk clock.Clock, logger zerolog.Logger) (identity.Provider, error) {
	switch cfg.Provider {
	case "pocketbase":
		return identity.NewPocketBaseProvider(identity.PocketBaseConfig{
			URL:        cfg.PocketBaseURL,
			Collection: cfg.Collection,
			Timeout:    config.ParseDuration(cfg.RequestTimeout, 10*time.Second),
		}, logger), nil
	case "local", "":
		return identity.NewLocalProvider(store.Users(), identity.LocalConfig{
			JWTSecret:         cfg.JWTSecret,
			TokenTTL:          config.ParseDuration(cfg.TokenTTL, identity.DefaultTokenTTL),
			MinPasswordLength: cfg.MinPasswordLength,
			BcryptCost:        cfg.BcryptCost,
			TokenCacheSize:    cfg.RecordCacheSize,
		}, clk, logger)
	default:
		return nil, fmt.Errorf("unsupported auth provider: %s", cfg.Provider)
	}
}

func labsFromConfig(labs []config.LabConfig) []portal.Lab {
	out := make([]portal.Lab, 0, len(labs))
	for _, l := range labs {
		out = append(out, portal.Lab{
			Name:        l.Name,
			Category:    l.Category,
			Description: l.Description,
		})
	}
	return out
}

// storageReady probes the KV backend for the metrics health endpoint.
func storageReady(store storage.Store) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := store.KV().Get(ctx, "labportal_health")
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
