package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// Player is the playback capability the controller commands.
// This allows for mocking in tests.
type Player interface {
	SetVolume(volume int) error
	Play() error
	Stop() error
	Next() error
	Previous() error
	Close() error
}

// ErrPlayerNotConnected is returned when a command finds no usable mpd
// connection and the redial also failed.
var ErrPlayerNotConnected = errors.New("player not connected")

// mpdPlayer manages the control connection to mpd.
//
// The connection is established once at startup; a startup failure is fatal
// to the daemon. Mid-run a failed command marks the connection broken and
// propagates the error unretried; the next command attempts a single redial.
// That keeps command latency bounded (no retry loops inside a poller call)
// while letting the daemon survive an mpd restart.
type mpdPlayer struct {
	mu     sync.Mutex
	client *mpd.Client
	addr   string
	logger *slog.Logger
}

// connectPlayer dials mpd and returns a ready player.
func connectPlayer(addr string, logger *slog.Logger) (*mpdPlayer, error) {
	client, err := mpd.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to mpd at %s: %w", addr, err)
	}
	logger.Info("connected to mpd", "addr", addr)
	return &mpdPlayer{client: client, addr: addr, logger: logger}, nil
}

// do runs one mpd command under the lock, redialing first if the previous
// command broke the connection.
func (p *mpdPlayer) do(op string, fn func(c *mpd.Client) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		client, err := mpd.Dial("tcp", p.addr)
		if err != nil {
			return fmt.Errorf("%s: %w: %v", op, ErrPlayerNotConnected, err)
		}
		p.logger.Info("reconnected to mpd", "addr", p.addr)
		p.client = client
	}

	if err := fn(p.client); err != nil {
		// Command failures on the mpd protocol come back as mpd.Error
		// with the connection still healthy; anything else means the
		// transport is gone.
		var me mpd.Error
		if !errors.As(err, &me) {
			_ = p.client.Close()
			p.client = nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *mpdPlayer) SetVolume(volume int) error {
	return p.do("mpd setvol", func(c *mpd.Client) error { return c.SetVolume(volume) })
}

// Play resumes playback without selecting a position.
func (p *mpdPlayer) Play() error {
	return p.do("mpd play", func(c *mpd.Client) error { return c.Play(-1) })
}

func (p *mpdPlayer) Stop() error {
	return p.do("mpd stop", func(c *mpd.Client) error { return c.Stop() })
}

func (p *mpdPlayer) Next() error {
	return p.do("mpd next", func(c *mpd.Client) error { return c.Next() })
}

func (p *mpdPlayer) Previous() error {
	return p.do("mpd previous", func(c *mpd.Client) error { return c.Previous() })
}

func (p *mpdPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// State queries mpd for its playback state, current song and mixer volume.
// Used by the watcher, not the controller.
func (p *mpdPlayer) State() (PlayerStateChanged, error) {
	var st PlayerStateChanged
	err := p.do("mpd status", func(c *mpd.Client) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		song, err := c.CurrentSong()
		if err != nil {
			return err
		}
		st.State = status["state"]
		st.Title = song["Title"]
		st.Artist = song["Artist"]
		st.Volume, _ = strconv.Atoi(status["volume"])
		st.At = time.Now()
		return nil
	})
	return st, err
}

// RunKeepalive pings mpd periodically so its connection_timeout never reaps
// the idle control connection between knob interactions. Ping failures are
// logged; the broken-connection marking in do() already arranges the redial.
func (p *mpdPlayer) RunKeepalive(ctx context.Context) error {
	ticker := time.NewTicker(mpdKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.do("mpd ping", func(c *mpd.Client) error { return c.Ping() }); err != nil {
				p.logger.Warn("mpd keepalive failed", "error", err)
			}
		}
	}
}
