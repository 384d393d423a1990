// Package systemd reports service state to systemd. Every call is a no-op
// when the process is not started by systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "nybot/pkg/logx"
)

// Ready tells systemd that start-up finished (Type=notify units).
func Ready() bool { return notify(daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown started.
func Stopping() bool { return notify(daemon.SdNotifyStopping) }

func notify(state string) bool {
	ok, err := daemon.SdNotify(false, state)
	return ok && err == nil
}

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx ends. It returns immediately when WatchdogSec is not set for the unit.
func Watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := interval / 2
	if tick < time.Second {
		tick = time.Second
	}
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(daemon.SdNotifyWatchdog)
		}
	}
}
