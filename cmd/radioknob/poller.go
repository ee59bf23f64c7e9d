package main

import (
	"context"
	"log/slog"
	"time"
)

// The two input pollers sample their hardware capability every pollInterval
// and call into the shared ModeController. They stop cooperatively: the
// context is checked once per cycle, never mid-sleep.
//
// A failed controller command is logged and polling continues; a radio that
// ignores one twist beats one that dies mid-album. Startup failures are
// handled before the pollers ever run.

// RotaryEncoder is the rotation capability consumed by the rotary poller.
type RotaryEncoder interface {
	// ReadDelta returns the signed rotation steps accumulated since the
	// last call.
	ReadDelta() int
}

// Switch is the press capability consumed by the button poller.
type Switch interface {
	// ReadState reports whether the button is currently held down.
	ReadState() bool
}

// runRotaryPoller forwards non-zero rotation deltas to the controller.
// It keeps no state beyond the capability's own accumulation.
func runRotaryPoller(ctx context.Context, enc RotaryEncoder, ctrl *ModeController, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	logger.Debug("rotary poller starting")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("rotary poller stopping")
			return nil

		case <-ticker.C:
			delta := enc.ReadDelta()
			if delta == 0 {
				continue
			}
			if err := ctrl.OnRotate(delta); err != nil {
				logger.Error("rotate command failed", "delta", delta, "error", err)
			}
		}
	}
}

// buttonEvent is what one button sample resolved to.
type buttonEvent int

const (
	buttonNone buttonEvent = iota
	buttonReleased
	buttonLongPress
)

// buttonState is the edge and long-press tracking state owned by the button
// poller goroutine. It is deliberately a plain struct driven by step so the
// timing logic tests without goroutines or sleeping.
type buttonState struct {
	pressed        bool      // last observed switch state
	pressStart     time.Time // start of the current press; zero outside a press
	longPressFired bool      // this press already produced a long-press event
}

// step feeds one switch sample into the edge detector.
//
// A falling edge yields buttonReleased unless this press already fired a
// long press, in which case the release is swallowed and the flag cleared.
// A rising edge starts the press clock. A press held past longPressDuration
// yields buttonLongPress exactly once.
func (b *buttonState) step(now time.Time, pressed bool) buttonEvent {
	if pressed != b.pressed {
		b.pressed = pressed
		if !pressed {
			b.pressStart = time.Time{}
			if b.longPressFired {
				b.longPressFired = false
				return buttonNone
			}
			return buttonReleased
		}
		b.pressStart = now
		return buttonNone
	}

	if pressed && !b.longPressFired && !b.pressStart.IsZero() && now.Sub(b.pressStart) > longPressDuration {
		b.longPressFired = true
		b.pressStart = time.Time{}
		return buttonLongPress
	}
	return buttonNone
}

// runButtonPoller samples the switch and dispatches release and long-press
// events to the controller.
func runButtonPoller(ctx context.Context, sw Switch, ctrl *ModeController, logger *slog.Logger) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var st buttonState

	logger.Debug("button poller starting")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("button poller stopping")
			return nil

		case <-ticker.C:
			switch st.step(time.Now(), sw.ReadState()) {
			case buttonReleased:
				if err := ctrl.OnButtonReleased(); err != nil {
					logger.Error("button release command failed", "error", err)
				}
			case buttonLongPress:
				if err := ctrl.OnButtonLongPress(); err != nil {
					logger.Error("button long-press command failed", "error", err)
				}
			}
		}
	}
}
