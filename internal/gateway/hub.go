package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	"github.com/gorilla/websocket"
)

// Envelope types pushed to dashboard clients.
const (
	TypeTick       = "tick"
	TypeConnection = "connection"
	TypeToast      = "toast"
	TypeTrigger    = "trigger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub manages dashboard WebSocket clients and fans pipeline events out to
// them. It acts as a compositor:
//   - Broadcaster: envelope construction + client-filtered fan-out
//   - ReplayBuffer: recent envelopes for gap backfill
//   - LatencyTracker: tick-to-push latency
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	// Last connection envelope, replayed to new clients.
	connState []byte

	replay *ReplayBuffer

	Latency     *LatencyTracker
	Broadcaster *Broadcaster

	log *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(500),
		Latency: NewLatencyTracker(10000),
		log:     logger.With("component", "gateway"),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// Tick pushes a price update.
func (h *Hub) Tick(t model.Tick) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if !t.Timestamp.IsZero() {
		h.Latency.Record(time.Since(t.Timestamp))
	}
	h.Broadcaster.Broadcast(TypeTick, t.Symbol, data)
}

// SetConnected pushes the feed connection state. New clients receive the
// latest state on connect.
func (h *Hub) SetConnected(up bool) {
	data, _ := json.Marshal(map[string]bool{"connected": up})
	h.Broadcaster.publish(TypeConnection, "", data, true)
}

// Trigger pushes a fired alert.
func (h *Hub) Trigger(tr model.Trigger) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	h.Broadcaster.Broadcast(TypeTrigger, tr.Alert.Symbol, data)
}

// Toast shows n as an in-app toast on every connected dashboard.
func (h *Hub) Toast(_ context.Context, n notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	h.Broadcaster.Broadcast(TypeToast, "", data)
	return nil
}

// ServeHTTP upgrades the request to WebSocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		symbols: make(map[string]bool),
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	if h.connState != nil {
		client.send <- h.connState
	}
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Replay returns buffered envelopes with seq in [fromSeq, toSeq].
// Used by the /api/missed REST endpoint for client gap backfill.
func (h *Hub) Replay(fromSeq, toSeq int64) []json.RawMessage {
	entries := h.replay.Range(fromSeq, toSeq)
	out := make([]json.RawMessage, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ReplayOldest is the oldest seq still retained for replay.
func (h *Hub) ReplayOldest() int64 { return h.replay.Oldest() }

// Seq returns the sequence number of the last envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
