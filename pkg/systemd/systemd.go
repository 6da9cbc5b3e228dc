// Package systemd speaks the sd_notify protocol so the daemon can run as a
// Type=notify unit with an optional watchdog. Outside systemd every call is
// a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd start-up finished. The bool reports whether a
// notification socket was present.
func Ready() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReady) }

// Stopping reports a clean shutdown in progress.
func Stopping() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyStopping) }

// Reloading brackets a config reload; call Ready when it is applied.
func Reloading() (bool, error) { return daemon.SdNotify(false, daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return daemon.SdNotify(false, "STATUS="+msg) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends.
// healthy may veto a ping; nil means always healthy. It returns at once when
// the unit has no watchdog.
func Watchdog(ctx context.Context, healthy func(context.Context) error) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, every/4)
				err := healthy(hctx)
				cancel()
				if err != nil {
					continue
				}
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
