package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"tickertracker/internal/model"

	"github.com/gorilla/websocket"
)

// Client represents a single dashboard WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Tick filter. Empty means every symbol.
	symMu   sync.RWMutex
	symbols map[string]bool
}

// clientMsg is what dashboards send us.
//
//	{"type":"SUBSCRIBE","symbols":["AAPL"]}
//	{"type":"UNSUBSCRIBE","symbols":["AAPL"]}
//	{"ping":1712345678901}
type clientMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued envelopes into one frame,
			// newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "SUBSCRIBE":
			c.setSymbols(msg.Symbols, true)
		case "UNSUBSCRIBE":
			c.setSymbols(msg.Symbols, false)
		default:
			if msg.Ping > 0 {
				pong, _ := json.Marshal(map[string]int64{
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				c.trySend(pong)
			}
		}
	}
}

func (c *Client) setSymbols(symbols []string, on bool) {
	c.symMu.Lock()
	defer c.symMu.Unlock()
	for _, s := range symbols {
		s = model.NormalizeSymbol(s)
		if on {
			c.symbols[s] = true
		} else {
			delete(c.symbols, s)
		}
	}
}

// wants reports whether an envelope should reach this client. Only ticks are
// filtered; toasts, triggers and connection state always go out.
func (c *Client) wants(kind, symbol string) bool {
	if kind != TypeTick || symbol == "" {
		return true
	}
	c.symMu.RLock()
	defer c.symMu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

// trySend queues msg unless the client is gone or its buffer is full.
func (c *Client) trySend(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
