package systemd

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Portal    net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	// Names come from FileDescriptorName= in labportal.socket (systemd 227+)
	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := named["http"]; ok && len(lns) > 0 {
		listeners.Portal = lns[0]
	}
	if lns, ok := named["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return nil
}

// NotifyReloading sends RELOADING=1 notification to systemd
func NotifyReloading() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReloading); err != nil {
		return fmt.Errorf("failed to send sd_notify reloading: %w", err)
	}
	return nil
}

// StartWatchdog pings the systemd watchdog at half its interval until ctx
// is done. It does nothing when WatchdogSec= is not configured.
func StartWatchdog(ctx context.Context, logger zerolog.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
		return
	}
	if interval == 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					logger.Warn().Err(err).Msg("Failed to send watchdog notification")
				}
			}
		}
	}()
}

// IsSystemdService returns true if running as a systemd notify service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
