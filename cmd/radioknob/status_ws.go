package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Status WebSocket feed: hub + per-client pumps + broadcaster
// ============================================================================
// A read-only fanout of controller and player state over /ws. On connect a
// client gets a "state_init" envelope with the controller snapshot; after
// that it receives mode_changed, volume_changed, track_changed and
// player_state envelopes as they happen.
//
// Inbound messages are read and discarded: the feed carries no control path.
// Per-client send queues keep one slow client from blocking the rest; a
// client whose queue fills is disconnected.
//
// Wire format: JSON text frames {type, ts, data}.
// ============================================================================

// envelope is the wire format for feed messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size; zero picks a default.
	SendBuf int

	// BroadcastBuf is the hub inbound queue size; zero picks a default.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.closeAllClients()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients while locked, remove them after.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit. Unregister can race a
		// slow-client eviction for the same client, so tolerate a
		// second close.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON frame for fanout. It never
// blocks; a full hub queue drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = 20 * time.Second
)

// wsVolumeCoalesceWindow bounds how often bursty volume updates reach the
// clients; within the window only the latest value survives.
const wsVolumeCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts the websocket close code and text when err carries one.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					if code, text, ok := closeStatus(err); ok {
						c.logger.Debug("ws writePump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
					} else {
						c.logger.Debug("ws writePump exiting (write error)", "remote_addr", c.remoteAddr, "error", err)
					}
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug("ws writePump exiting (ping error)", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and
// service control frames. It exits on read error, then unregisters the
// client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			// Normal close is expected on client disconnect.
			if !errors.Is(err, websocket.ErrCloseSent) {
				if code, text, ok := closeStatus(err); ok {
					c.logger.Debug("ws readPump exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
				} else {
					c.logger.Debug("ws readPump exiting (read error)", "remote_addr", c.remoteAddr, "error", err)
				}
			}

			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler + server
// ============================================================================

// StatusServer wires the websocket handler to the hub and the controller
// snapshot.
type StatusServer struct {
	logger *slog.Logger
	hub    *Hub
	ctrl   *ModeController
}

func NewStatusServer(logger *slog.Logger, ctrl *ModeController, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		ctrl:   ctrl,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

var upgrader = websocket.Upgrader{
	// The feed binds to loopback by default; origin enforcement is left to
	// whoever rebinds it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusWS upgrades, registers the client, and sends state_init.
func (s *StatusServer) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach the client.
	s.hub.register <- client

	// The pumps must outlive the handler: net/http cancels r.Context()
	// when the handler returns, which would tear the connection down with
	// an abnormal closure. Lifetime is managed by the hub and by
	// websocket read/write errors instead.
	go client.writePump()
	go client.readPump()

	snap := s.ctrl.Snapshot()
	now := time.Now().UTC()
	initMsg, err := json.Marshal(envelope{
		Type: "state_init",
		Ts:   &now,
		Data: snap,
	})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}

	// Enqueue the init message; a client already slow at this point gets
	// disconnected.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// runStatusServer serves the websocket endpoint until ctx is canceled, then
// shuts the HTTP server down gracefully.
func runStatusServer(ctx context.Context, addr string, s *StatusServer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleStatusWS)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", addr)
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat
		// that as a clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// runBroadcaster serializes status events into envelopes and hands them to
// the hub. Volume updates arrive in bursts at encoder poll cadence, so
// volume_changed is rate-limited: the latest pending value is flushed at
// most once per wsVolumeCoalesceWindow. Everything else goes out
// immediately, flushing any pending volume first to keep ordering sane.
func runBroadcaster(ctx context.Context, hub *Hub, src <-chan StatusEvent, logger *slog.Logger) error {
	if hub == nil || src == nil {
		return nil
	}

	var pendingVol *VolumeChanged
	var volTimer *time.Timer
	var volTimerCh <-chan time.Time

	marshalAndSend := func(ev StatusEvent) {
		ts := eventAt(ev)
		if ts.IsZero() {
			ts = time.Now()
		}
		ts = ts.UTC()

		msg, err := json.Marshal(envelope{
			Type: ev.Type(),
			Ts:   &ts,
			Data: ev,
		})
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type())
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingVol := func() {
		if pendingVol == nil {
			return
		}
		marshalAndSend(*pendingVol)
		pendingVol = nil
	}

	stopVolTimer := func() {
		if volTimer == nil {
			return
		}
		if !volTimer.Stop() {
			select {
			case <-volTimer.C:
			default:
			}
		}
		volTimer = nil
		volTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingVol()
			stopVolTimer()
			return nil

		case <-volTimerCh:
			flushPendingVol()
			stopVolTimer()

		case ev, ok := <-src:
			if !ok {
				flushPendingVol()
				stopVolTimer()
				logger.Debug("ws broadcaster stopping (source closed)")
				return nil
			}

			if vc, isVol := ev.(VolumeChanged); isVol {
				// Latest wins; the timer keeps its original deadline so
				// a continuous twist still produces periodic updates.
				copyVc := vc
				pendingVol = &copyVc
				if volTimer == nil {
					volTimer = time.NewTimer(wsVolumeCoalesceWindow)
					volTimerCh = volTimer.C
				}
				continue
			}

			flushPendingVol()
			stopVolTimer()
			marshalAndSend(ev)
		}
	}
}
