package gateway

import (
	"strconv"
	"time"
)

// Broadcaster constructs envelope JSON and sends filtered messages to clients.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast wraps data in {"type","data","ts","seq"} and sends it to every
// client interested in symbol. An empty symbol reaches every client.
//
// Uses a hand-crafted envelope; data must already be valid JSON.
func (b *Broadcaster) Broadcast(kind, symbol string, data []byte) {
	b.publish(kind, symbol, data, false)
}

// publish sends the envelope and, when sticky, keeps it as the state
// replayed to clients that connect later.
func (b *Broadcaster) publish(kind, symbol string, data []byte, sticky bool) {
	now := time.Now().UTC()

	// Held across the fan-out so every client sees seq in order.
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.seq++
	seq := b.hub.seq

	buf := buildEnvelope(kind, data, now, seq)
	b.hub.replay.Push(seq, buf)
	if sticky {
		b.hub.connState = buf
	}

	for client := range b.hub.clients {
		if !client.wants(kind, symbol) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			// Slow client: drop rather than stall the feed.
		}
	}
}

func buildEnvelope(kind string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(kind)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, kind...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
