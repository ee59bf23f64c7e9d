package main

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Mode is the operating state that decides how rotation input is interpreted.
// Exactly one mode is active at any time; transitions happen only on button
// events.
type Mode int

const (
	ModeVolume Mode = iota
	ModeTracks
	ModeOff
)

func (m Mode) String() string {
	switch m {
	case ModeVolume:
		return "volume"
	case ModeTracks:
		return "tracks"
	case ModeOff:
		return "off"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// modeColor maps a mode to its indicator color (duty points, 0..100).
func modeColor(m Mode) (r, g, b int) {
	switch m {
	case ModeVolume:
		return 100, 0, 0
	case ModeTracks:
		return 0, 100, 0
	case ModeOff:
		return 0, 0, 0
	default:
		return 0, 0, 0
	}
}

// ModeController reconciles the two polled input streams into one mode and
// translates mode-scoped input into player and indicator commands.
//
// All mutable state (mode, volume, track accumulator) lives behind one mutex
// because OnRotate and the two button handlers are invoked concurrently from
// the rotary poller, the button poller and the IPC server. State mutation and
// status publishing happen inside the critical section; the resulting player
// and indicator calls are issued after it, so a slow collaborator never
// stalls the other poller's next read. Ordering per input stream is preserved
// since each caller is itself a single goroutine.
//
// Command errors are returned to the caller unretried; what to do with a
// failed command mid-run is the caller's policy, not the controller's.
type ModeController struct {
	mu       sync.Mutex
	mode     Mode
	volume   float64
	trackAcc int

	player    Player
	indicator Indicator

	// statusc receives feed events via non-blocking sends; nil disables
	// the feed entirely.
	statusc chan<- StatusEvent

	logger *slog.Logger
}

// NewModeController returns a controller in volume mode at the default
// volume. statusc may be nil.
func NewModeController(player Player, indicator Indicator, statusc chan<- StatusEvent, logger *slog.Logger) *ModeController {
	return &ModeController{
		mode:      ModeVolume,
		volume:    defaultVolume,
		player:    player,
		indicator: indicator,
		statusc:   statusc,
		logger:    logger,
	}
}

// StatusSnapshot is a coherent copy of controller state for the IPC and
// status feed surfaces.
type StatusSnapshot struct {
	Mode     string `json:"mode"`
	Volume   int    `json:"volume"`
	TrackAcc int    `json:"track_acc"`
}

// Snapshot returns the current controller state as one consistent copy.
func (c *ModeController) Snapshot() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StatusSnapshot{
		Mode:     c.mode.String(),
		Volume:   int(math.Round(c.volume)),
		TrackAcc: c.trackAcc,
	}
}

// rotateOutcome is what a rotation decided under the lock; the external
// calls are issued afterwards.
type rotateOutcome struct {
	setVolume bool
	volume    int // rounded value handed to the player

	trackStep int // -1 previous, +1 next, 0 none
}

// applyRotate mutates state for one rotation delta. Caller holds mu.
func (c *ModeController) applyRotate(delta int) rotateOutcome {
	switch c.mode {
	case ModeVolume:
		c.volume = clampVolume(c.volume + float64(delta)*volumeFactor)
		vol := int(math.Round(c.volume))
		c.publishLocked(VolumeChanged{Volume: vol, At: time.Now()})
		return rotateOutcome{setVolume: true, volume: vol}

	case ModeTracks:
		c.trackAcc += delta
		if abs(c.trackAcc) > trackRotationThreshold {
			step := 1
			if c.trackAcc < 0 {
				step = -1
			}
			c.trackAcc = 0
			c.publishLocked(TrackChanged{Direction: stepDirection(step), At: time.Now()})
			return rotateOutcome{trackStep: step}
		}
		return rotateOutcome{}

	case ModeOff:
		// Rotation is dead while off.
		return rotateOutcome{}

	default:
		return rotateOutcome{}
	}
}

// OnRotate routes a rotation delta by the current mode. In volume mode the
// player volume is updated on every call, even when the rounded value did
// not move. In tracks mode a track change fires exactly once per threshold
// crossing and resets the accumulator.
func (c *ModeController) OnRotate(delta int) error {
	c.mu.Lock()
	out := c.applyRotate(delta)
	c.mu.Unlock()

	if out.setVolume {
		c.logger.Debug("rotate", "delta", delta, "volume", out.volume)
		if err := c.player.SetVolume(out.volume); err != nil {
			return fmt.Errorf("set volume: %w", err)
		}
		return nil
	}

	switch out.trackStep {
	case -1:
		c.logger.Debug("rotate", "delta", delta, "track", "previous")
		if err := c.player.Previous(); err != nil {
			return fmt.Errorf("previous track: %w", err)
		}
	case 1:
		c.logger.Debug("rotate", "delta", delta, "track", "next")
		if err := c.player.Next(); err != nil {
			return fmt.Errorf("next track: %w", err)
		}
	}
	return nil
}

// OnButtonReleased toggles between volume and tracks mode. A release while
// off also lands in volume mode, without resuming playback; only a long
// press starts the player again.
func (c *ModeController) OnButtonReleased() error {
	c.mu.Lock()
	next := ModeVolume
	if c.mode == ModeVolume {
		next = ModeTracks
	}
	c.mode = next
	c.publishLocked(ModeChanged{Mode: next.String(), At: time.Now()})
	c.mu.Unlock()

	c.logger.Debug("button released", "mode", next.String())
	return c.AdaptIndicator()
}

// OnButtonLongPress toggles playback power: off resumes into volume mode,
// any other mode stops playback and goes off.
func (c *ModeController) OnButtonLongPress() error {
	c.mu.Lock()
	resume := c.mode == ModeOff
	if resume {
		c.mode = ModeVolume
	} else {
		c.mode = ModeOff
	}
	next := c.mode
	c.publishLocked(ModeChanged{Mode: next.String(), At: time.Now()})
	c.mu.Unlock()

	c.logger.Debug("button long press", "mode", next.String())
	if resume {
		if err := c.player.Play(); err != nil {
			return fmt.Errorf("resume playback: %w", err)
		}
	} else {
		if err := c.player.Stop(); err != nil {
			return fmt.Errorf("stop playback: %w", err)
		}
	}
	return c.AdaptIndicator()
}

// AdaptIndicator issues the indicator command for the current mode: an
// immediate set when off (the light snaps out with the music), a fade for
// the live modes. Every call issues the command; there is no suppression
// when the color is already showing.
func (c *ModeController) AdaptIndicator() error {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	r, g, b := modeColor(mode)
	if mode == ModeOff {
		if err := c.indicator.SetColor(r, g, b); err != nil {
			return fmt.Errorf("indicator set: %w", err)
		}
		return nil
	}
	if err := c.indicator.FadeTo(r, g, b); err != nil {
		return fmt.Errorf("indicator fade: %w", err)
	}
	return nil
}

// publishLocked hands an event to the status feed without ever blocking.
// Caller holds mu, which keeps feed order identical to mutation order.
func (c *ModeController) publishLocked(ev StatusEvent) {
	if c.statusc == nil {
		return
	}
	select {
	case c.statusc <- ev:
	default:
		c.logger.Debug("status queue full, dropping event", "type", ev.Type())
	}
}

// clampVolume bounds a computed volume to the valid range. Out-of-range
// intermediate values are an expected input artifact, never an error.
func clampVolume(v float64) float64 {
	if v < volumeMin {
		return volumeMin
	}
	if v > volumeMax {
		return volumeMax
	}
	return v
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func stepDirection(step int) string {
	if step < 0 {
		return "previous"
	}
	return "next"
}
