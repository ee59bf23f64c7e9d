package main

import "time"

// Control behavior constants. These are deliberately not configurable:
// the knob feel (scaling, thresholds, timing) is part of the product.
const (
	// pollInterval is how often both input pollers sample their capability.
	pollInterval = 10 * time.Millisecond

	// longPressDuration is how long the button must be held before the
	// press counts as a long press instead of a release.
	longPressDuration = 1200 * time.Millisecond

	// trackRotationThreshold is the accumulated rotation magnitude that
	// triggers a track change while in tracks mode.
	trackRotationThreshold = 20

	// volumeFactor scales raw encoder steps into volume points.
	volumeFactor = 0.2

	// defaultVolume is the volume set on the player at startup.
	defaultVolume = 80

	volumeMin = 0
	volumeMax = 100
)

// Indicator constants. The LED channels run software PWM with a 0..100 duty
// range at a 10ms period, and fades step every channel by one duty point per
// tick toward the target.
const (
	pwmPeriod        = 10 * time.Millisecond
	fadeStepInterval = 10 * time.Millisecond
)

// Player constants.
const (
	defaultMPDHost = "localhost"
	defaultMPDPort = 6600

	// mpdKeepaliveInterval spaces out pings so mpd's connection_timeout
	// (60s by default) never reaps the idle control connection.
	mpdKeepaliveInterval = 30 * time.Second
)

// Default GPIO pin assignments (BCM numbering).
const (
	defaultRotaryPinA  = 24
	defaultRotaryPinB  = 23
	defaultButtonPin   = 2
	defaultLedPinRed   = 27
	defaultLedPinGreen = 17
	defaultLedPinBlue  = 18
)

// Linux input event types and codes (from <linux/input.h>), used by the
// evdev input backend.
const (
	EV_KEY = 0x01
	EV_REL = 0x02

	// The rotary-encoder overlay reports REL_X with relative_axis set;
	// some configurations use REL_DIAL. Both are accepted.
	REL_X    = 0x00
	REL_DIAL = 0x07
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Process surface defaults.
const (
	defaultIPCSocketPath = "/tmp/radioknob.sock"
	defaultStatusAddr    = "127.0.0.1:8090"

	defaultRotaryDevice = "/dev/input/event0"
	defaultButtonDevice = "/dev/input/event1"
)
