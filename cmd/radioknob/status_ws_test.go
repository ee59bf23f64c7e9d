package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// NOTE: These tests focus on hub behavior (fanout + slow-client
// disconnection) and the broadcaster, without standing up a real websocket
// server. Clients are constructed with a nil websocket.Conn; the hub guards
// against nil on its close paths and the test paths never write a frame.

func newTestHub(t *testing.T, sendBuf, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(testLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newHubClient(hub *Hub, name string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, sendBuf),
		remoteAddr: name,
		logger:     testLogger(),
	}
}

// registerAndWait registers a client and blocks until the hub goroutine has
// processed it, so a following broadcast cannot race the registration.
func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	c1 := newHubClient(hub, "c1", 4)
	c2 := newHubClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"mode_changed","data":{"mode":"tracks"}}`)

	// Feed the channel directly: BroadcastBytes is non-blocking and may
	// drop under scheduling pressure.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop after cancellation")
	}
}

func TestHub_SlowClientIsEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	slow := newHubClient(hub, "slow", 1)
	registerAndWait(t, hub, slow)

	// First message fills the queue; the second finds it full and gets the
	// client evicted. Nobody drains slow.send.
	hub.broadcast <- []byte(`{"type":"mode_changed"}`)
	hub.broadcast <- []byte(`{"type":"mode_changed"}`)

	waitUntil(t, time.Second, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[slow]
		return !ok
	}, "slow client was not evicted")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop after cancellation")
	}
}

func TestHub_UnregisterRemovesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Run(ctx)
	}()

	c := newHubClient(hub, "c", 4)
	registerAndWait(t, hub, c)

	hub.unregister <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return !ok
	}, "client not unregistered in time")

	// The send channel is closed so writePump would exit.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatalf("expected closed send channel, got a message")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("send channel was not closed")
	}

	cancel()
	<-done
}

// decodeEnvelope unmarshals one feed frame.
func decodeEnvelope(t *testing.T, raw []byte) envelope {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Ts   *time.Time      `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("bad envelope %q: %v", string(raw), err)
	}
	return envelope{Type: env.Type, Ts: env.Ts, Data: env.Data}
}

// TestBroadcaster_VolumeCoalescing: a burst of volume events collapses to
// the latest value, and a following non-volume event flushes it first so
// ordering is preserved.
func TestBroadcaster_VolumeCoalescing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 16)

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		_ = hub.Run(ctx)
	}()

	c := newHubClient(hub, "c", 8)
	registerAndWait(t, hub, c)

	statusc := make(chan StatusEvent, 16)
	bcastDone := make(chan struct{})
	go func() {
		defer close(bcastDone)
		_ = runBroadcaster(ctx, hub, statusc, testLogger())
	}()

	now := time.Now()
	statusc <- VolumeChanged{Volume: 81, At: now}
	statusc <- VolumeChanged{Volume: 82, At: now}
	statusc <- VolumeChanged{Volume: 83, At: now}
	statusc <- TrackChanged{Direction: "next", At: now}

	read := func() envelope {
		select {
		case raw := <-c.send:
			return decodeEnvelope(t, raw)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for feed frame")
			return envelope{}
		}
	}

	first := read()
	if first.Type != "volume_changed" {
		t.Fatalf("expected volume_changed first, got %s", first.Type)
	}
	var vol struct {
		Volume int `json:"volume"`
	}
	if err := json.Unmarshal(first.Data.(json.RawMessage), &vol); err != nil {
		t.Fatalf("decode volume data: %v", err)
	}
	if vol.Volume != 83 {
		t.Errorf("expected coalesced volume 83, got %d", vol.Volume)
	}

	second := read()
	if second.Type != "track_changed" {
		t.Fatalf("expected track_changed second, got %s", second.Type)
	}

	// No third frame: the burst collapsed.
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected extra frame: %s", string(raw))
	case <-time.After(2 * wsVolumeCoalesceWindow):
	}

	cancel()
	<-bcastDone
	<-hubDone
}

// TestBroadcaster_VolumeFlushedByTimer: with no follow-up event, the pending
// volume goes out once the coalesce window elapses.
func TestBroadcaster_VolumeFlushedByTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 8, 16)
	go hub.Run(ctx)

	c := newHubClient(hub, "c", 8)
	registerAndWait(t, hub, c)

	statusc := make(chan StatusEvent, 16)
	go runBroadcaster(ctx, hub, statusc, testLogger())

	statusc <- VolumeChanged{Volume: 42, At: time.Now()}

	select {
	case raw := <-c.send:
		env := decodeEnvelope(t, raw)
		if env.Type != "volume_changed" {
			t.Fatalf("expected volume_changed, got %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending volume was never flushed")
	}
}

// waitUntil polls cond until it is true or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}
