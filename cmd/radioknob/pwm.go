package main

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// pwmSetter is the duty-cycle capability the indicator drives. One per LED
// channel. This allows for mocking in tests.
type pwmSetter interface {
	// Set changes the duty cycle (0..100); takes effect at the end of
	// the current period.
	Set(duty int)
	Close()
}

type pwmMsg struct {
	duty int
	stop chan struct{}
}

// swPWM runs software PWM on a GPIO pin from a dedicated goroutine. The
// period is fixed at pwmPeriod with a 0..100 duty resolution, matching the
// original appliance's softPwm wiring. At 0 and 100 duty the pin is held
// steady without toggling.
type swPWM struct {
	pin gpio.PinOut
	c   chan pwmMsg
}

// newSwPWM starts a PWM goroutine on pin with duty 0 (off).
func newSwPWM(pin gpio.PinOut) *swPWM {
	p := &swPWM{pin: pin, c: make(chan pwmMsg, 1)}
	go p.handler()
	return p
}

func (p *swPWM) Set(duty int) {
	if duty < 0 {
		duty = 0
	}
	if duty > 100 {
		duty = 100
	}
	p.c <- pwmMsg{duty: duty}
}

// Close stops the PWM goroutine and leaves the pin low.
func (p *swPWM) Close() {
	stopped := make(chan struct{})
	p.c <- pwmMsg{stop: stopped}
	<-stopped
}

func (p *swPWM) handler() {
	var on, off time.Duration
	off = pwmPeriod
	level := gpio.Low
	_ = p.pin.Out(gpio.Low)

	for {
		if on > 0 {
			if level != gpio.High {
				level = gpio.High
				_ = p.pin.Out(gpio.High)
			}
			time.Sleep(on)
		}
		if off > 0 {
			if level != gpio.Low {
				level = gpio.Low
				_ = p.pin.Out(gpio.Low)
			}
			time.Sleep(off)
		}

		// Pick up new parameters once per cycle.
		select {
		case m := <-p.c:
			if m.stop != nil {
				_ = p.pin.Out(gpio.Low)
				close(m.stop)
				return
			}
			on = pwmPeriod * time.Duration(m.duty) / 100
			off = pwmPeriod - on
		default:
		}
	}
}
