//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// evdev input backend. The kernel's rotary-encoder and gpio-keys device-tree
// overlays decode the quadrature signal and debounce the button in kernel
// space and expose them as input devices; this backend reads both with one
// epoll goroutine and keeps running totals for the pollers:
//   - EV_REL events accumulate into an atomic step counter (ReadDelta
//     swaps it out)
//   - EV_KEY events track the current press state (ReadState)

// inputEvent mirrors struct input_event from <linux/input.h>:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// evdevInput implements both RotaryEncoder and Switch over the two kernel
// input devices.
type evdevInput struct {
	rotary *os.File
	button *os.File

	// keyCode filters EV_KEY events; 0 accepts any code.
	keyCode uint16

	count   atomic.Int64
	pressed atomic.Bool

	quit   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// newEvdevInput opens both devices and starts the epoll reader.
func newEvdevInput(rotaryDevice, buttonDevice string, keyCode int, logger *slog.Logger) (*evdevInput, error) {
	rf, err := os.Open(rotaryDevice)
	if err != nil {
		return nil, fmt.Errorf("open rotary device: %w (run as root or add user to 'input' group)", err)
	}
	bf, err := os.Open(buttonDevice)
	if err != nil {
		rf.Close()
		return nil, fmt.Errorf("open button device: %w (run as root or add user to 'input' group)", err)
	}

	in := &evdevInput{
		rotary:  rf,
		button:  bf,
		keyCode: uint16(keyCode),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go in.readLoop()
	logger.Debug("evdev input ready", "rotary", rotaryDevice, "button", buttonDevice, "key_code", keyCode)
	return in, nil
}

// readLoop multiplexes both devices on one epoll instance. Device errors
// stop the loop; the pollers then simply see no further input.
func (in *evdevInput) readLoop() {
	defer close(in.done)

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		in.logger.Error("evdev epoll_create1 failed", "error", err)
		return
	}
	defer unix.Close(epfd)

	rotaryFd := int(in.rotary.Fd())
	buttonFd := int(in.button.Fd())
	for _, fd := range []int{rotaryFd, buttonFd} {
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			in.logger.Error("evdev epoll_ctl_add failed", "fd", fd, "error", err)
			return
		}
	}

	epollEvents := make([]unix.EpollEvent, 8)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		select {
		case <-in.quit:
			return
		default:
		}

		// Wake at least every 100ms so the quit check above runs even
		// when the knob is untouched.
		n, err := unix.EpollWait(epfd, epollEvents, 100)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			in.logger.Error("evdev epoll_wait failed", "error", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				in.logger.Error("evdev device error/hangup", "fd", fd)
				return
			}

			f := in.rotary
			if fd == buttonFd {
				f = in.button
			}
			if _, err := f.Read(buf); err != nil {
				in.logger.Error("evdev read failed", "device", f.Name(), "error", err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				// Skip malformed events
				continue
			}

			switch ev.Type {
			case EV_REL:
				if fd == rotaryFd && (ev.Code == REL_X || ev.Code == REL_DIAL) {
					in.count.Add(int64(ev.Value))
				}
			case EV_KEY:
				if in.keyCode != 0 && ev.Code != in.keyCode {
					continue
				}
				switch ev.Value {
				case evValuePress:
					in.pressed.Store(true)
				case evValueRelease:
					in.pressed.Store(false)
				}
				// evValueRepeat leaves the state as is.
			}
		}
	}
}

// ReadDelta returns the rotation steps accumulated since the last call.
func (in *evdevInput) ReadDelta() int {
	return int(in.count.Swap(0))
}

// ReadState reports the last observed press state.
func (in *evdevInput) ReadState() bool {
	return in.pressed.Load()
}

func (in *evdevInput) Close() error {
	close(in.quit)
	<-in.done
	in.rotary.Close()
	in.button.Close()
	return nil
}
