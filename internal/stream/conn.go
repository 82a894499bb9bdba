// Package stream maintains the single persistent WebSocket connection to the
// price feed. It owns the subscription set, re-sends it in full on every
// (re)connect and fans decoded ticks out to registered handlers.
//
// Wire protocol:
//
//	outbound: ["AAPL","MSFT"]                      full set, one frame
//	inbound:  {"symbol":"AAPL","price":"187.42","timestamp":"2024-05-01T14:30:00Z"}
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"tickertracker/internal/bus"
	"tickertracker/internal/model"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Start after Disconnect.
var ErrClosed = errors.New("stream: connection closed")

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("stream: already started")

// Config holds configuration for the feed connection.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:8000/ws/ticker"
	URL string

	// ReconnectDelay is the wait between a drop (or failed dial) and the next
	// attempt. Defaults to 5 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay enables doubling backoff when greater than
	// ReconnectDelay. Zero keeps the delay fixed.
	MaxReconnectDelay time.Duration

	// WriteTimeout bounds each subscription write. Defaults to 5s.
	WriteTimeout time.Duration

	Logger *slog.Logger

	// Optional hooks, called on the connection goroutine.
	OnReconnect func(delay time.Duration)
	OnMalformed func(raw []byte, err error)
}

func (c *Config) defaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// TickHandler receives every decoded tick, in arrival order.
type TickHandler func(model.Tick)

type connHandlers struct {
	onOpen  func()
	onClose func()
}

// Connection is the feed client. Create with New; all methods are safe for
// concurrent use.
type Connection struct {
	cfg    Config
	log    *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	symbols map[string]struct{}
	started bool
	closed  bool
	cancel  context.CancelFunc

	connected atomic.Bool
	done      chan struct{}

	ticks bus.Listeners[TickHandler]
	state bus.Listeners[connHandlers]
}

// New creates a Connection. Nothing is dialled until Start.
func New(cfg Config) *Connection {
	cfg.defaults()
	return &Connection{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "stream"),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		symbols: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
}

// Start opens the connection in the background and keeps it open, retrying
// after ReconnectDelay on every drop or failed dial, until Disconnect is
// called or ctx is cancelled.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Disconnect closes the transport and cancels any pending reconnect. Close
// listeners fire if a connection was open. It does not wait; use Done for that.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		close(c.done)
	}
}

// Done is closed once the connection loop has exited after Disconnect.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Connected reports whether the transport is currently open.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}

// Subscribe adds symbol to the subscription set. When the set changes and the
// connection is open, the full set is sent immediately; otherwise it goes out
// on the next successful connect.
func (c *Connection) Subscribe(symbol string) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.symbols[symbol]; ok {
		return
	}
	c.symbols[symbol] = struct{}{}
	c.sendSetLocked()
}

// Unsubscribe removes symbol from the subscription set. Unknown symbols are a
// no-op and produce no message.
func (c *Connection) Unsubscribe(symbol string) {
	symbol = model.NormalizeSymbol(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.symbols[symbol]; !ok {
		return
	}
	delete(c.symbols, symbol)
	c.sendSetLocked()
}

// Symbols returns the current subscription set, sorted.
func (c *Connection) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OnTick registers h for every decoded tick. Handlers run synchronously on the
// read goroutine; the next frame is not read until all of them return.
func (c *Connection) OnTick(h TickHandler) bus.ListenerID {
	return c.ticks.Add(h)
}

// OffTick removes a tick handler. Safe to call from inside a handler.
func (c *Connection) OffTick(id bus.ListenerID) bool {
	return c.ticks.Remove(id)
}

// OnConnectionChange registers open/close callbacks. Either may be nil.
func (c *Connection) OnConnectionChange(onOpen, onClose func()) bus.ListenerID {
	return c.state.Add(connHandlers{onOpen: onOpen, onClose: onClose})
}

// OffConnectionChange removes a pair registered with OnConnectionChange.
func (c *Connection) OffConnectionChange(id bus.ListenerID) bool {
	return c.state.Remove(id)
}

func (c *Connection) run(ctx context.Context) {
	defer close(c.done)
	delay := c.cfg.ReconnectDelay

	for {
		established, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.log.Info("stream stopped")
			return
		}
		if established {
			delay = c.cfg.ReconnectDelay
		}

		c.log.Warn("stream disconnected, reconnect scheduled",
			"url", c.cfg.URL, "error", err, "delay", delay)
		if c.cfg.OnReconnect != nil {
			c.cfg.OnReconnect(delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.log.Info("stream stopped")
			return
		case <-timer.C:
		}

		// Backoff only applies to consecutive failures
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until the transport
// drops or ctx is cancelled. established reports whether the open handshake
// and initial subscription both succeeded.
func (c *Connection) runOnce(ctx context.Context) (established bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return false, ctx.Err()
	}
	c.conn = conn
	if len(c.symbols) > 0 {
		if err := c.writeSetLocked(); err != nil {
			c.conn = nil
			c.mu.Unlock()
			conn.Close()
			return false, err
		}
	}
	c.connected.Store(true)
	subscribed := len(c.symbols)
	c.mu.Unlock()

	c.log.Info("stream connected", "url", c.cfg.URL, "symbols", subscribed)
	c.state.Each(func(h connHandlers) {
		if h.onOpen != nil {
			c.safeCall("open", h.onOpen)
		}
	})

	// Closes the connection when ctx is cancelled, unblocking ReadMessage.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnect"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, rerr := conn.ReadMessage()
		if rerr != nil {
			err = rerr
			break
		}

		tick, derr := decodeTick(raw, time.Now())
		if derr != nil {
			c.log.Warn("dropping malformed tick", "error", derr, "raw", truncate(raw, 256))
			if c.cfg.OnMalformed != nil {
				c.cfg.OnMalformed(raw, derr)
			}
			continue
		}
		c.emit(tick)
	}

	close(stop)
	c.mu.Lock()
	c.conn = nil
	c.connected.Store(false)
	c.mu.Unlock()
	conn.Close()

	c.state.Each(func(h connHandlers) {
		if h.onClose != nil {
			c.safeCall("close", h.onClose)
		}
	})
	return true, err
}

func (c *Connection) emit(t model.Tick) {
	c.ticks.Each(func(h TickHandler) {
		c.safeCall("tick", func() { h(t) })
	})
}

// safeCall keeps a panicking listener from taking down the read loop.
func (c *Connection) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("stream listener panicked", "listener", kind, "panic", r)
		}
	}()
	fn()
}

// sendSetLocked pushes the full set if a connection is open. Failures are
// logged; the read loop notices the broken transport and reconnects.
func (c *Connection) sendSetLocked() {
	if c.conn == nil {
		return
	}
	if err := c.writeSetLocked(); err != nil {
		c.log.Warn("subscription write failed", "error", err)
	}
}

func (c *Connection) writeSetLocked() error {
	payload, err := encodeSubscription(c.symbols)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
