package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"tickertracker/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

var (
	defaultStart = decimal.NewFromInt(100)
	minPrice     = decimal.RequireFromString("0.01")
)

// client is one connected subscriber and the symbols it asked for.
type client struct {
	send    chan []byte
	mu      sync.Mutex
	symbols map[string]bool
}

func (c *client) setSymbols(symbols []string) {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = model.NormalizeSymbol(s); s != "" {
			set[s] = true
		}
	}
	c.mu.Lock()
	c.symbols = set
	c.mu.Unlock()
}

func (c *client) wants(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[symbol]
}

func (c *client) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}

// feed simulates prices for every symbol any client has ever asked for.
type feed struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	clients map[*client]bool
	rng     *rand.Rand
	log     *slog.Logger
}

func newFeed(start map[string]decimal.Decimal, log *slog.Logger) *feed {
	prices := make(map[string]decimal.Decimal, len(start))
	for s, p := range start {
		prices[s] = p
	}
	return &feed{
		prices:  prices,
		clients: make(map[*client]bool),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		log:     log,
	}
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("upgrade failed", "error", err)
		return
	}
	c := &client{send: make(chan []byte, 256), symbols: map[string]bool{}}
	f.mu.Lock()
	f.clients[c] = true
	f.mu.Unlock()
	f.log.Info("client connected", "remote", r.RemoteAddr)

	go func() {
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}
	}()

	defer func() {
		f.mu.Lock()
		delete(f.clients, c)
		close(c.send)
		f.mu.Unlock()
		conn.Close()
		f.log.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var symbols []string
		if err := json.Unmarshal(raw, &symbols); err != nil {
			f.log.Warn("ignoring non-array message", "payload", string(raw))
			continue
		}
		c.setSymbols(symbols)
		f.log.Info("subscription set", "remote", r.RemoteAddr, "symbols", c.snapshot())
	}
}

func (f *feed) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.step(time.Now().UTC())
		}
	}
}

// step advances every wanted symbol one random-walk move and sends the tick
// to the clients that want it.
func (f *feed) step(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	wanted := make(map[string]bool)
	for c := range f.clients {
		for _, s := range c.snapshot() {
			wanted[s] = true
		}
	}

	for sym := range wanted {
		price, ok := f.prices[sym]
		if !ok {
			price = defaultStart
		}
		price = walk(price, f.rng.Float64())
		f.prices[sym] = price

		msg, err := json.Marshal(model.Tick{Symbol: sym, Price: price, Timestamp: now})
		if err != nil {
			continue
		}
		for c := range f.clients {
			if !c.wants(sym) {
				continue
			}
			select {
			case c.send <- msg:
			default: // slow client, drop tick
			}
		}
	}
}

// walk moves price by up to ±0.5%, rounded to cents, floored at one cent.
// u is uniform in [0, 1).
func walk(price decimal.Decimal, u float64) decimal.Decimal {
	pct := decimal.NewFromFloat((u*2 - 1) * 0.005)
	next := price.Add(price.Mul(pct)).Round(2)
	if next.LessThan(minPrice) {
		return minPrice
	}
	return next
}

// parsePrices reads "AAPL:175,TSLA:190.5".
func parsePrices(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, px, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("want SYMBOL:PRICE, got %q", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(px))
		if err != nil || !p.IsPositive() {
			return nil, fmt.Errorf("bad price in %q", part)
		}
		out[model.NormalizeSymbol(sym)] = p
	}
	return out, nil
}
