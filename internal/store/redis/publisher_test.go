package redis

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestPublisher_KeyNames(t *testing.T) {
	if TickChannel("AAPL") != "pub:tick:AAPL" {
		t.Errorf("tick channel = %s", TickChannel("AAPL"))
	}
	if LatestPriceKey("AAPL") != "latest:price:AAPL" {
		t.Errorf("latest key = %s", LatestPriceKey("AAPL"))
	}
}

func TestPublisher_BreakerSkipsWhenRedisDown(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        deadAddr(t),
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewWithClient(Config{MaxFailures: 2, ResetTimeout: time.Hour}, client)
	defer p.Close()

	skipped := 0
	p.OnSkipped = func() { skipped++ }
	ctx := context.Background()
	tick := model.Tick{Symbol: "AAPL", Price: decimal.RequireFromString("187.42"), Timestamp: time.Now()}

	// Two real failures trip the breaker.
	p.PublishTick(ctx, tick)
	p.PublishTick(ctx, tick)
	if p.Breaker().CurrentState() != StateOpen {
		t.Fatalf("expected breaker open, got %v", p.Breaker().CurrentState())
	}

	// Further calls are skipped without touching the network.
	p.PublishTrigger(ctx, model.Trigger{Alert: model.Alert{ID: "a1", Symbol: "AAPL"}, Price: tick.Price, At: tick.Timestamp})
	err := p.Toast(ctx, notification.Notification{Title: "Price Alert: AAPL"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("toast with open breaker = %v, want ErrCircuitOpen", err)
	}
	if skipped != 2 {
		t.Errorf("expected 2 skipped calls, got %d", skipped)
	}

	if _, err := p.LatestPrice(ctx, "AAPL"); err == nil {
		t.Error("expected error reading latest price with redis down")
	}
}

func TestNew_FailsWithoutServer(t *testing.T) {
	if _, err := New(Config{Addr: deadAddr(t)}); err == nil {
		t.Fatal("expected ping failure")
	}
}
