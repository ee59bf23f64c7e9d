package main

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO input/output backend over periph. Pins are addressed by their BCM
// numbers ("GPIO24").

var hostInitOnce sync.Once
var hostInitErr error

// initGPIOHost initialises periph host state. Safe to call from every pin
// user; only the first call does work.
func initGPIOHost() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	if hostInitErr != nil {
		return fmt.Errorf("init gpio host: %w", hostInitErr)
	}
	return nil
}

func gpioPin(n int) (gpio.PinIO, error) {
	if err := initGPIOHost(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("gpio pin GPIO%d not present", n)
	}
	return p, nil
}

// quadSamplePeriod is the A/B sampling rate of the decoder goroutine. It has
// to outrun the mechanical detent rate by a wide margin or transitions get
// lost; 1ms handles any hand-turned encoder.
const quadSamplePeriod = time.Millisecond

// quadTransition maps (previous A/B state << 2 | current A/B state) to a
// step direction. Invalid transitions (both bits flipped in one sample,
// i.e. contact bounce or a missed sample) contribute 0.
var quadTransition = [16]int{
	0, -1, 1, 0,
	1, 0, 0, -1,
	-1, 0, 0, 1,
	0, 1, -1, 0,
}

// gpioRotary decodes a quadrature encoder on two pins. A driver goroutine
// samples the pins and accumulates steps into an atomic counter; ReadDelta
// swaps the counter out, so each step is reported exactly once.
type gpioRotary struct {
	pinA, pinB gpio.PinIO

	count atomic.Int64
	quit  chan struct{}
	done  chan struct{}
}

func newGPIORotary(pinA, pinB int, logger *slog.Logger) (*gpioRotary, error) {
	a, err := gpioPin(pinA)
	if err != nil {
		return nil, fmt.Errorf("rotary pin A: %w", err)
	}
	b, err := gpioPin(pinB)
	if err != nil {
		return nil, fmt.Errorf("rotary pin B: %w", err)
	}
	if err := a.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure rotary pin A: %w", err)
	}
	if err := b.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure rotary pin B: %w", err)
	}

	r := &gpioRotary{
		pinA: a,
		pinB: b,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.decode()
	logger.Debug("gpio rotary ready", "pin_a", pinA, "pin_b", pinB)
	return r, nil
}

func (r *gpioRotary) sample() int {
	state := 0
	if r.pinA.Read() == gpio.High {
		state |= 0x2
	}
	if r.pinB.Read() == gpio.High {
		state |= 0x1
	}
	return state
}

func (r *gpioRotary) decode() {
	defer close(r.done)

	ticker := time.NewTicker(quadSamplePeriod)
	defer ticker.Stop()

	prev := r.sample()
	for {
		select {
		case <-r.quit:
			return
		case <-ticker.C:
			cur := r.sample()
			if cur == prev {
				continue
			}
			if step := quadTransition[prev<<2|cur]; step != 0 {
				r.count.Add(int64(step))
			}
			prev = cur
		}
	}
}

// ReadDelta returns the steps accumulated since the last call.
func (r *gpioRotary) ReadDelta() int {
	return int(r.count.Swap(0))
}

func (r *gpioRotary) Close() error {
	close(r.quit)
	<-r.done
	return nil
}

// gpioSwitch reads a push button on one pin.
type gpioSwitch struct {
	pin       gpio.PinIO
	activeLow bool
}

func newGPIOSwitch(pin int, activeLow bool, logger *slog.Logger) (*gpioSwitch, error) {
	p, err := gpioPin(pin)
	if err != nil {
		return nil, fmt.Errorf("button pin: %w", err)
	}
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configure button pin: %w", err)
	}
	logger.Debug("gpio switch ready", "pin", pin, "active_low", activeLow)
	return &gpioSwitch{pin: p, activeLow: activeLow}, nil
}

// ReadState reports whether the button is currently held down.
func (s *gpioSwitch) ReadState() bool {
	if s.activeLow {
		return s.pin.Read() == gpio.Low
	}
	return s.pin.Read() == gpio.High
}

// newGPIOLed builds the three PWM channels for the indicator LED.
func newGPIOLed(pinRed, pinGreen, pinBlue int, logger *slog.Logger) (r, g, b pwmSetter, err error) {
	pins := [3]gpio.PinIO{}
	for i, n := range [3]int{pinRed, pinGreen, pinBlue} {
		p, err := gpioPin(n)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("led pin: %w", err)
		}
		if err := p.Out(gpio.Low); err != nil {
			return nil, nil, nil, fmt.Errorf("configure led pin GPIO%d: %w", n, err)
		}
		pins[i] = p
	}
	logger.Debug("gpio led ready", "pin_red", pinRed, "pin_green", pinGreen, "pin_blue", pinBlue)
	return newSwPWM(pins[0]), newSwPWM(pins[1]), newSwPWM(pins[2]), nil
}
