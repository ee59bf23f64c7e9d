package main

import (
	"context"
	"log/slog"

	"github.com/fhs/gompd/v2/mpd"
)

// runPlayerWatcher subscribes to mpd's idle notifications on the player and
// mixer subsystems and publishes a PlayerStateChanged on each one, so feed
// watchers see track changes and external volume tweaks too, not only what
// the knob did.
//
// The watcher is observability, not control: every failure here is logged
// and the daemon keeps running. statusc may be nil, in which case there is
// nothing to publish and the watcher exits immediately.
func runPlayerWatcher(ctx context.Context, addr string, player *mpdPlayer, statusc chan<- StatusEvent, logger *slog.Logger) error {
	if statusc == nil {
		return nil
	}

	w, err := mpd.NewWatcher("tcp", addr, "", "player", "mixer")
	if err != nil {
		logger.Warn("mpd watcher unavailable, player state feed disabled", "error", err)
		return nil
	}

	// Closing the watcher unblocks its Event channel.
	go func() {
		<-ctx.Done()
		_ = w.Close()
	}()

	logger.Debug("mpd watcher starting", "subsystems", "player,mixer")
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-w.Error:
			if !ok {
				return nil
			}
			logger.Warn("mpd watcher error", "error", err)

		case subsystem, ok := <-w.Event:
			if !ok {
				return nil
			}
			st, err := player.State()
			if err != nil {
				logger.Warn("mpd status query failed", "subsystem", subsystem, "error", err)
				continue
			}
			select {
			case statusc <- st:
			default:
				logger.Debug("status queue full, dropping player state")
			}
		}
	}
}
