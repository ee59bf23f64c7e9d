package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the radioknob daemon.
//
// The file only binds the daemon to its surroundings: which pins or input
// devices the hardware hangs off, where mpd listens, and where the local
// diagnostic surfaces live. Control behavior (scaling, thresholds, timing)
// is fixed in constants.go and is not configurable.
//
// The daemon runs without a config file; DefaultConfig matches the stock
// wiring of the device.
type Config struct {
	// MPD connection
	MPD MPDConfig `yaml:"mpd"`

	// Input hardware binding
	Input InputConfig `yaml:"input"`

	// Indicator LED pins
	LED LEDConfig `yaml:"led"`

	// IPC configuration (used by radioknob-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// Status feed (read-only websocket broadcast)
	Status StatusConfig `yaml:"status"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type MPDConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port dial address for mpd.
func (m MPDConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// InputConfig selects and parameterizes the hardware input backend.
//
// backend "gpio" samples raw pins through periph; backend "evdev" reads the
// input devices exposed by the rotary-encoder and gpio-keys device-tree
// overlays, which debounce in the kernel.
type InputConfig struct {
	Backend string `yaml:"backend"` // "gpio" or "evdev"

	// gpio backend (BCM pin numbers)
	RotaryPinA      int  `yaml:"rotary_pin_a"`
	RotaryPinB      int  `yaml:"rotary_pin_b"`
	ButtonPin       int  `yaml:"button_pin"`
	ButtonActiveLow bool `yaml:"button_active_low,omitempty"` // pressed pulls the pin low

	// evdev backend
	RotaryDevice  string `yaml:"rotary_device,omitempty"`
	ButtonDevice  string `yaml:"button_device,omitempty"`
	ButtonKeyCode int    `yaml:"button_key_code,omitempty"` // 0 accepts any EV_KEY code
}

type LEDConfig struct {
	PinRed   int `yaml:"pin_red"`
	PinGreen int `yaml:"pin_green"`
	PinBlue  int `yaml:"pin_blue"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	inputBackendGPIO  = "gpio"
	inputBackendEvdev = "evdev"
)

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults.
func DefaultConfig() Config {
	return Config{
		MPD: MPDConfig{
			Host: defaultMPDHost,
			Port: defaultMPDPort,
		},
		Input: InputConfig{
			Backend:       inputBackendGPIO,
			RotaryPinA:    defaultRotaryPinA,
			RotaryPinB:    defaultRotaryPinB,
			ButtonPin:     defaultButtonPin,
			RotaryDevice:  defaultRotaryDevice,
			ButtonDevice:  defaultButtonDevice,
			ButtonKeyCode: 0,
		},
		LED: LEDConfig{
			PinRed:   defaultLedPinRed,
			PinGreen: defaultLedPinGreen,
			PinBlue:  defaultLedPinBlue,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    defaultStatusAddr,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of defaults.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true),
// and trailing documents after the first are an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Ensure there's no trailing garbage (only whitespace/comments are allowed after the document).
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// The config file is the primary configuration source; flags exist for
// ad-hoc overrides (debugging, systemd drop-ins). Each field is applied
// only when its pointer is non-nil.
type FlagOverrides struct {
	MPDHost *string
	MPDPort *int

	InputBackend *string

	IPCSocketPath *string
	StatusAddr    *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.MPDHost != nil {
		cfg.MPD.Host = *o.MPDHost
	}
	if o.MPDPort != nil {
		cfg.MPD.Port = *o.MPDPort
	}
	if o.InputBackend != nil {
		cfg.Input.Backend = *o.InputBackend
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StatusAddr != nil {
		cfg.Status.Addr = *o.StatusAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// MPD
	if c.MPD.Host == "" {
		return errors.New("mpd.host must not be empty")
	}
	if c.MPD.Port <= 0 || c.MPD.Port > 65535 {
		return errors.New("mpd.port must be between 1 and 65535")
	}

	// Input
	switch c.Input.Backend {
	case inputBackendGPIO:
		seen := map[int]string{}
		for _, p := range []struct {
			pin  int
			name string
		}{
			{c.Input.RotaryPinA, "input.rotary_pin_a"},
			{c.Input.RotaryPinB, "input.rotary_pin_b"},
			{c.Input.ButtonPin, "input.button_pin"},
			{c.LED.PinRed, "led.pin_red"},
			{c.LED.PinGreen, "led.pin_green"},
			{c.LED.PinBlue, "led.pin_blue"},
		} {
			if p.pin < 0 {
				return fmt.Errorf("%s must be >= 0", p.name)
			}
			if other, dup := seen[p.pin]; dup {
				return fmt.Errorf("%s and %s are both assigned to GPIO%d", other, p.name, p.pin)
			}
			seen[p.pin] = p.name
		}
	case inputBackendEvdev:
		if c.Input.RotaryDevice == "" {
			return errors.New("input.rotary_device must not be empty with the evdev backend")
		}
		if c.Input.ButtonDevice == "" {
			return errors.New("input.button_device must not be empty with the evdev backend")
		}
		if c.Input.ButtonKeyCode < 0 {
			return errors.New("input.button_key_code must be >= 0")
		}
	default:
		return fmt.Errorf("input.backend must be %q or %q", inputBackendGPIO, inputBackendEvdev)
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Status
	if c.Status.Enabled && c.Status.Addr == "" {
		return errors.New("status.enabled is true but status.addr is empty")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
// This is handy for config values like ipc.socket_path.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
