// Package systemd wraps sd_notify readiness/watchdog signalling for the
// daemon's own unit. It is a no-op outside a systemd unit (NOTIFY_SOCKET
// unset), so it is safe to call unconditionally from cmd/zubotd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the daemon finished startup (HTTP listener bound,
// store open). No-op if not running under systemd.
func NotifyReady() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd the daemon is shutting down.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// WatchdogLoop pings the systemd watchdog at half the interval systemd
// configured (WatchdogSec), until ctx is cancelled. No-op if the unit did not
// request watchdog supervision.
func WatchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
