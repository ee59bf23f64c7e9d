package main

import (
	"log/slog"
	"time"
)

// Indicator is the mode light capability the controller commands.
// This allows for mocking in tests.
type Indicator interface {
	// SetColor shows the color immediately, cancelling any running fade.
	SetColor(r, g, b int) error
	// FadeTo animates toward the color one duty point per step. It
	// returns once the target is handed to the fade engine, not when
	// the animation lands.
	FadeTo(r, g, b int) error
	Close() error
}

type ledCommand struct {
	r, g, b int
	fade    bool
}

// ledIndicator drives an RGB LED through three PWM channels.
//
// A single engine goroutine owns the current duties and the in-flight fade,
// so SetColor and FadeTo never block behind an animation: a new command
// simply supersedes whatever the engine was doing.
type ledIndicator struct {
	red, green, blue pwmSetter

	cmds   chan ledCommand
	done   chan struct{}
	logger *slog.Logger
}

// newLEDIndicator starts the fade engine over three duty channels, dark.
func newLEDIndicator(red, green, blue pwmSetter, logger *slog.Logger) *ledIndicator {
	l := &ledIndicator{
		red:    red,
		green:  green,
		blue:   blue,
		cmds:   make(chan ledCommand, 8),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

func (l *ledIndicator) SetColor(r, g, b int) error {
	l.cmds <- ledCommand{r: clampDuty(r), g: clampDuty(g), b: clampDuty(b)}
	return nil
}

func (l *ledIndicator) FadeTo(r, g, b int) error {
	l.cmds <- ledCommand{r: clampDuty(r), g: clampDuty(g), b: clampDuty(b), fade: true}
	return nil
}

// Close stops the engine and shuts the PWM channels down with the LED dark.
func (l *ledIndicator) Close() error {
	close(l.cmds)
	<-l.done
	l.red.Close()
	l.green.Close()
	l.blue.Close()
	return nil
}

// run is the fade engine. Immediate commands apply at once; fades step every
// channel one duty point toward the target per tick until they land.
func (l *ledIndicator) run() {
	defer close(l.done)

	ticker := time.NewTicker(fadeStepInterval)
	defer ticker.Stop()

	var cur, target [3]int
	fading := false

	for {
		select {
		case cmd, ok := <-l.cmds:
			if !ok {
				l.apply([3]int{})
				return
			}
			target = [3]int{cmd.r, cmd.g, cmd.b}
			if cmd.fade {
				fading = true
				continue
			}
			fading = false
			cur = target
			l.apply(cur)

		case <-ticker.C:
			if !fading {
				continue
			}
			moved := false
			for i := range cur {
				switch {
				case cur[i] < target[i]:
					cur[i]++
					moved = true
				case cur[i] > target[i]:
					cur[i]--
					moved = true
				}
			}
			if !moved {
				fading = false
				continue
			}
			l.apply(cur)
		}
	}
}

func (l *ledIndicator) apply(duties [3]int) {
	l.red.Set(duties[0])
	l.green.Set(duties[1])
	l.blue.Set(duties[2])
}

func clampDuty(d int) int {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}
