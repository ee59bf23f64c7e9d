package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// mockPlayer is a test double for the Player capability. It records every
// command in order.
type mockPlayer struct {
	mu          sync.Mutex
	setVolCalls []int
	playCalls   int
	stopCalls   int
	nextCalls   int
	prevCalls   int

	// err, when set, is returned by every command.
	err error
}

func (m *mockPlayer) SetVolume(v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setVolCalls = append(m.setVolCalls, v)
	return m.err
}

func (m *mockPlayer) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playCalls++
	return m.err
}

func (m *mockPlayer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	return m.err
}

func (m *mockPlayer) Next() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCalls++
	return m.err
}

func (m *mockPlayer) Previous() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prevCalls++
	return m.err
}

func (m *mockPlayer) Close() error { return nil }

func (m *mockPlayer) lastVolume(t *testing.T) int {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.setVolCalls) == 0 {
		t.Fatalf("expected at least one SetVolume call, got none")
	}
	return m.setVolCalls[len(m.setVolCalls)-1]
}

// indicatorCall records one indicator command.
type indicatorCall struct {
	r, g, b int
	fade    bool
}

// mockIndicator is a test double for the Indicator capability.
type mockIndicator struct {
	mu    sync.Mutex
	calls []indicatorCall
}

func (m *mockIndicator) SetColor(r, g, b int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, indicatorCall{r: r, g: g, b: b})
	return nil
}

func (m *mockIndicator) FadeTo(r, g, b int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, indicatorCall{r: r, g: g, b: b, fade: true})
	return nil
}

func (m *mockIndicator) Close() error { return nil }

func (m *mockIndicator) last(t *testing.T) indicatorCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		t.Fatalf("expected at least one indicator call, got none")
	}
	return m.calls[len(m.calls)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T) (*ModeController, *mockPlayer, *mockIndicator) {
	t.Helper()
	player := &mockPlayer{}
	ind := &mockIndicator{}
	return NewModeController(player, ind, nil, testLogger()), player, ind
}

// enterTracksMode drives the controller into tracks mode through the public
// button path.
func enterTracksMode(t *testing.T, c *ModeController) {
	t.Helper()
	if err := c.OnButtonReleased(); err != nil {
		t.Fatalf("OnButtonReleased: %v", err)
	}
	if got := c.Snapshot().Mode; got != "tracks" {
		t.Fatalf("expected mode tracks, got %s", got)
	}
}

func TestModeController_InitialState(t *testing.T) {
	c, _, _ := newTestController(t)

	snap := c.Snapshot()
	if snap.Mode != "volume" {
		t.Errorf("expected initial mode volume, got %s", snap.Mode)
	}
	if snap.Volume != defaultVolume {
		t.Errorf("expected initial volume %d, got %d", defaultVolume, snap.Volume)
	}
	if snap.TrackAcc != 0 {
		t.Errorf("expected initial track accumulator 0, got %d", snap.TrackAcc)
	}
}

// TestModeController_VolumeRotate_Scenario is the reference scenario: from
// volume 80, five rotations of +5 at factor 0.2 land on 85; a huge negative
// twist clamps to 0.
func TestModeController_VolumeRotate_Scenario(t *testing.T) {
	c, player, _ := newTestController(t)

	for i := 0; i < 5; i++ {
		if err := c.OnRotate(5); err != nil {
			t.Fatalf("OnRotate: %v", err)
		}
	}
	if got := c.Snapshot().Volume; got != 85 {
		t.Errorf("expected volume 85 after five +5 rotations, got %d", got)
	}
	if got := player.lastVolume(t); got != 85 {
		t.Errorf("expected last SetVolume 85, got %d", got)
	}

	if err := c.OnRotate(-500); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if got := c.Snapshot().Volume; got != 0 {
		t.Errorf("expected volume clamped to 0, got %d", got)
	}
	if got := player.lastVolume(t); got != 0 {
		t.Errorf("expected last SetVolume 0, got %d", got)
	}
}

// TestModeController_VolumeRotate_EveryCallCommands checks that volume mode
// issues SetVolume on every rotation, even when the rounded value does not
// move.
func TestModeController_VolumeRotate_EveryCallCommands(t *testing.T) {
	c, player, _ := newTestController(t)

	// Each +1 is worth 0.2 volume points; five calls, five commands.
	for i := 0; i < 5; i++ {
		if err := c.OnRotate(1); err != nil {
			t.Fatalf("OnRotate: %v", err)
		}
	}

	player.mu.Lock()
	n := len(player.setVolCalls)
	player.mu.Unlock()
	if n != 5 {
		t.Errorf("expected 5 SetVolume calls, got %d", n)
	}
	if got := c.Snapshot().Volume; got != 81 {
		t.Errorf("expected volume 81, got %d", got)
	}
}

// TestModeController_VolumeRotate_Formula verifies the accumulated-delta
// formula over sequences that stay inside the range until the final clamp.
func TestModeController_VolumeRotate_Formula(t *testing.T) {
	cases := []struct {
		name   string
		deltas []int
		want   int
	}{
		{"mixed", []int{5, -3, 10, -2}, 82},
		{"up to clamp", []int{40, 40, 40}, 100},
		{"down to clamp", []int{-200, -100, -150}, 0},
		{"no movement", []int{3, -3}, 80},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := newTestController(t)
			for _, d := range tc.deltas {
				if err := c.OnRotate(d); err != nil {
					t.Fatalf("OnRotate(%d): %v", d, err)
				}
			}
			if got := c.Snapshot().Volume; got != tc.want {
				t.Errorf("expected volume %d after %v, got %d", tc.want, tc.deltas, got)
			}
		})
	}
}

// TestModeController_TracksThresholdCrossing is the reference scenario: in
// tracks mode a +25 rotation crosses the threshold, fires Next exactly once
// and resets the accumulator.
func TestModeController_TracksThresholdCrossing(t *testing.T) {
	c, player, _ := newTestController(t)
	enterTracksMode(t, c)

	if err := c.OnRotate(25); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if player.nextCalls != 1 {
		t.Errorf("expected exactly one Next call, got %d", player.nextCalls)
	}
	if got := c.Snapshot().TrackAcc; got != 0 {
		t.Errorf("expected accumulator reset to 0, got %d", got)
	}
}

func TestModeController_TracksAccumulatesBelowThreshold(t *testing.T) {
	c, player, _ := newTestController(t)
	enterTracksMode(t, c)

	// 20 is not strictly above the threshold; nothing fires yet.
	if err := c.OnRotate(20); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if player.nextCalls != 0 {
		t.Errorf("expected no Next call at the threshold, got %d", player.nextCalls)
	}
	if got := c.Snapshot().TrackAcc; got != 20 {
		t.Errorf("expected accumulator 20, got %d", got)
	}

	// One more step crosses it.
	if err := c.OnRotate(1); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if player.nextCalls != 1 {
		t.Errorf("expected one Next call after crossing, got %d", player.nextCalls)
	}
	if got := c.Snapshot().TrackAcc; got != 0 {
		t.Errorf("expected accumulator reset, got %d", got)
	}
}

func TestModeController_TracksBackwardFiresPrevious(t *testing.T) {
	c, player, _ := newTestController(t)
	enterTracksMode(t, c)

	if err := c.OnRotate(-25); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if player.prevCalls != 1 {
		t.Errorf("expected one Previous call, got %d", player.prevCalls)
	}
	if player.nextCalls != 0 {
		t.Errorf("expected no Next call, got %d", player.nextCalls)
	}
	if got := c.Snapshot().TrackAcc; got != 0 {
		t.Errorf("expected accumulator reset, got %d", got)
	}
}

// TestModeController_TracksDoesNotTouchVolume makes sure track rotation
// leaves the stored volume alone.
func TestModeController_TracksDoesNotTouchVolume(t *testing.T) {
	c, player, _ := newTestController(t)
	enterTracksMode(t, c)

	if err := c.OnRotate(25); err != nil {
		t.Fatalf("OnRotate: %v", err)
	}
	if len(player.setVolCalls) != 0 {
		t.Errorf("expected no SetVolume calls in tracks mode, got %v", player.setVolCalls)
	}
	if got := c.Snapshot().Volume; got != defaultVolume {
		t.Errorf("expected volume untouched at %d, got %d", defaultVolume, got)
	}
}

func TestModeController_OffDiscardsRotation(t *testing.T) {
	c, player, _ := newTestController(t)

	if err := c.OnButtonLongPress(); err != nil {
		t.Fatalf("OnButtonLongPress: %v", err)
	}
	if got := c.Snapshot().Mode; got != "off" {
		t.Fatalf("expected mode off, got %s", got)
	}

	for _, d := range []int{5, -5, 100, -100} {
		if err := c.OnRotate(d); err != nil {
			t.Fatalf("OnRotate(%d): %v", d, err)
		}
	}

	if len(player.setVolCalls) != 0 {
		t.Errorf("expected no SetVolume calls while off, got %v", player.setVolCalls)
	}
	if player.nextCalls != 0 || player.prevCalls != 0 {
		t.Errorf("expected no track commands while off, got next=%d prev=%d", player.nextCalls, player.prevCalls)
	}
	if got := c.Snapshot().Volume; got != defaultVolume {
		t.Errorf("expected volume untouched at %d, got %d", defaultVolume, got)
	}
}

// TestModeController_ButtonToggle covers the release transition table,
// including the deliberate asymmetry: a release while off lands back in
// volume mode without resuming playback.
func TestModeController_ButtonToggle(t *testing.T) {
	c, player, ind := newTestController(t)

	// volume -> tracks, green fade
	if err := c.OnButtonReleased(); err != nil {
		t.Fatalf("OnButtonReleased: %v", err)
	}
	if got := c.Snapshot().Mode; got != "tracks" {
		t.Errorf("expected mode tracks, got %s", got)
	}
	if got := ind.last(t); got != (indicatorCall{r: 0, g: 100, b: 0, fade: true}) {
		t.Errorf("expected green fade, got %+v", got)
	}

	// tracks -> volume, red fade
	if err := c.OnButtonReleased(); err != nil {
		t.Fatalf("OnButtonReleased: %v", err)
	}
	if got := c.Snapshot().Mode; got != "volume" {
		t.Errorf("expected mode volume, got %s", got)
	}
	if got := ind.last(t); got != (indicatorCall{r: 100, g: 0, b: 0, fade: true}) {
		t.Errorf("expected red fade, got %+v", got)
	}

	// off -> volume on release, but without a Play command
	if err := c.OnButtonLongPress(); err != nil {
		t.Fatalf("OnButtonLongPress: %v", err)
	}
	playsBefore := player.playCalls
	if err := c.OnButtonReleased(); err != nil {
		t.Fatalf("OnButtonReleased: %v", err)
	}
	if got := c.Snapshot().Mode; got != "volume" {
		t.Errorf("expected mode volume after release while off, got %s", got)
	}
	if player.playCalls != playsBefore {
		t.Errorf("expected no Play on release while off, got %d extra", player.playCalls-playsBefore)
	}
}

// TestModeController_LongPressPowerToggle is the reference scenario: long
// press from volume stops playback and snaps the light to black; a second
// long press resumes and fades back to red.
func TestModeController_LongPressPowerToggle(t *testing.T) {
	c, player, ind := newTestController(t)

	if err := c.OnButtonLongPress(); err != nil {
		t.Fatalf("OnButtonLongPress: %v", err)
	}
	if got := c.Snapshot().Mode; got != "off" {
		t.Errorf("expected mode off, got %s", got)
	}
	if player.stopCalls != 1 {
		t.Errorf("expected one Stop call, got %d", player.stopCalls)
	}
	if got := ind.last(t); got != (indicatorCall{r: 0, g: 0, b: 0, fade: false}) {
		t.Errorf("expected immediate black, got %+v", got)
	}

	if err := c.OnButtonLongPress(); err != nil {
		t.Fatalf("OnButtonLongPress: %v", err)
	}
	if got := c.Snapshot().Mode; got != "volume" {
		t.Errorf("expected mode volume, got %s", got)
	}
	if player.playCalls != 1 {
		t.Errorf("expected one Play call, got %d", player.playCalls)
	}
	if got := ind.last(t); got != (indicatorCall{r: 100, g: 0, b: 0, fade: true}) {
		t.Errorf("expected red fade, got %+v", got)
	}
}

// TestModeController_LongPressFromTracksGoesOff: the power toggle treats
// tracks mode the same as volume mode.
func TestModeController_LongPressFromTracksGoesOff(t *testing.T) {
	c, player, _ := newTestController(t)
	enterTracksMode(t, c)

	if err := c.OnButtonLongPress(); err != nil {
		t.Fatalf("OnButtonLongPress: %v", err)
	}
	if got := c.Snapshot().Mode; got != "off" {
		t.Errorf("expected mode off, got %s", got)
	}
	if player.stopCalls != 1 {
		t.Errorf("expected one Stop call, got %d", player.stopCalls)
	}
}

// TestModeController_AdaptIndicator_NoSuppression: repeated calls in the
// same mode issue the same command again.
func TestModeController_AdaptIndicator_NoSuppression(t *testing.T) {
	c, _, ind := newTestController(t)

	if err := c.AdaptIndicator(); err != nil {
		t.Fatalf("AdaptIndicator: %v", err)
	}
	if err := c.AdaptIndicator(); err != nil {
		t.Fatalf("AdaptIndicator: %v", err)
	}

	ind.mu.Lock()
	defer ind.mu.Unlock()
	if len(ind.calls) != 2 {
		t.Fatalf("expected 2 indicator calls, got %d", len(ind.calls))
	}
	want := indicatorCall{r: 100, g: 0, b: 0, fade: true}
	for i, got := range ind.calls {
		if got != want {
			t.Errorf("call %d: expected %+v, got %+v", i, want, got)
		}
	}
}

// TestModeController_CommandErrorPropagates: a failing collaborator reaches
// the caller unretried, and the state mutation still happened.
func TestModeController_CommandErrorPropagates(t *testing.T) {
	c, player, _ := newTestController(t)
	player.err = errors.New("mpd gone")

	err := c.OnRotate(5)
	if err == nil {
		t.Fatalf("expected an error from OnRotate, got nil")
	}
	if !errors.Is(err, player.err) {
		t.Errorf("expected wrapped player error, got %v", err)
	}
	if got := c.Snapshot().Volume; got != 81 {
		t.Errorf("expected volume mutated to 81 despite command failure, got %d", got)
	}
	if len(player.setVolCalls) != 1 {
		t.Errorf("expected exactly one SetVolume attempt, got %d", len(player.setVolCalls))
	}
}

func TestModeString(t *testing.T) {
	cases := []struct {
		mode Mode
		want string
	}{
		{ModeVolume, "volume"},
		{ModeTracks, "tracks"},
		{ModeOff, "off"},
		{Mode(42), "mode(42)"},
	}
	for _, tc := range cases {
		if got := tc.mode.String(); got != tc.want {
			t.Errorf("Mode(%d).String(): expected %q, got %q", int(tc.mode), tc.want, got)
		}
	}
}

func TestClampVolume(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-0.1, 0},
		{0, 0},
		{55.5, 55.5},
		{100, 100},
		{100.1, 100},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v", tc.in), func(t *testing.T) {
			if got := clampVolume(tc.in); got != tc.want {
				t.Errorf("clampVolume(%v): expected %v, got %v", tc.in, tc.want, got)
			}
		})
	}
}
