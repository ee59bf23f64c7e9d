//go:build !linux

package main

import (
	"errors"
	"log/slog"
)

// The evdev backend needs linux input devices and epoll; on other platforms
// configuration must select the gpio backend.
func newEvdevInput(rotaryDevice, buttonDevice string, keyCode int, logger *slog.Logger) (*evdevInput, error) {
	return nil, errors.New("evdev input backend requires linux")
}

type evdevInput struct{}

func (in *evdevInput) ReadDelta() int  { return 0 }
func (in *evdevInput) ReadState() bool { return false }
func (in *evdevInput) Close() error    { return nil }
