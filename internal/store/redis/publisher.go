// Package redis fans ticks, triggers and toasts out to Redis for other
// processes (dashboards, bots). Every call goes through a circuit breaker and
// is best-effort: Redis being down never slows the tick path.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 10000
	defaultCallTimeout  = 500 * time.Millisecond

	ChannelToast   = "pub:toast"
	ChannelTrigger = "pub:trigger"
	StreamTriggers = "stream:alerts:triggered"
)

// TickChannel is the pub/sub channel for one symbol's ticks.
func TickChannel(symbol string) string { return "pub:tick:" + symbol }

// LatestPriceKey holds the last tick for a symbol, with a TTL.
func LatestPriceKey(symbol string) string { return "latest:price:" + symbol }

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration
	StreamMaxLen int64

	// Breaker settings. Defaults: 5 failures, 10s reset.
	MaxFailures  int
	ResetTimeout time.Duration
}

func (c *Config) defaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 10 * time.Second
	}
}

// Publisher implements model.TriggerPublisher and notification.Toaster.
type Publisher struct {
	cfg    Config
	client *goredis.Client
	cb     *CircuitBreaker

	// OnSkipped is called for each call rejected by the open breaker.
	OnSkipped func()
}

var (
	_ model.TriggerPublisher = (*Publisher)(nil)
	_ notification.Toaster   = (*Publisher)(nil)
)

// New creates a Publisher and pings the server once. A failed ping is
// returned so callers can decide whether to run without Redis.
func New(cfg Config) (*Publisher, error) {
	cfg.defaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return NewWithClient(cfg, client), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(cfg Config, client *goredis.Client) *Publisher {
	cfg.defaults()
	return &Publisher{
		cfg:    cfg,
		client: client,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker exposes the circuit breaker so callers can hook state changes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// PublishTick stores the latest price and publishes the tick.
func (p *Publisher) PublishTick(ctx context.Context, t model.Tick) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	_ = p.exec(ctx, "tick", func(pipe goredis.Pipeliner) {
		pipe.Set(ctx, LatestPriceKey(t.Symbol), data, p.cfg.LatestTTL)
		pipe.Publish(ctx, TickChannel(t.Symbol), data)
	})
}

// PublishTrigger publishes a fired alert and appends it to the trigger stream.
func (p *Publisher) PublishTrigger(ctx context.Context, tr model.Trigger) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	_ = p.exec(ctx, "trigger", func(pipe goredis.Pipeliner) {
		pipe.Publish(ctx, ChannelTrigger, data)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamTriggers,
			MaxLen: p.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"alert_id": tr.Alert.ID,
				"symbol":   tr.Alert.Symbol,
				"data":     string(data),
			},
		})
	})
}

// Toast publishes an in-app toast for dashboards subscribed to pub:toast.
func (p *Publisher) Toast(ctx context.Context, n notification.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("redis toast marshal: %w", err)
	}
	return p.exec(ctx, "toast", func(pipe goredis.Pipeliner) {
		pipe.Publish(ctx, ChannelToast, data)
	})
}

// LatestPrice reads the last published tick for symbol. Returns redis.Nil
// (wrapped) when no recent tick exists.
func (p *Publisher) LatestPrice(ctx context.Context, symbol string) (model.Tick, error) {
	var t model.Tick
	err := p.cb.Execute(func() error {
		raw, err := p.client.Get(ctx, LatestPriceKey(symbol)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &t)
	})
	if err != nil {
		return model.Tick{}, fmt.Errorf("redis latest price %s: %w", symbol, err)
	}
	if t.Symbol == "" {
		return model.Tick{}, fmt.Errorf("redis latest price %s: %w", symbol, goredis.Nil)
	}
	return t, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// exec runs a pipeline through the breaker with a short timeout.
func (p *Publisher) exec(ctx context.Context, what string, build func(goredis.Pipeliner)) error {
	err := p.cb.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		pipe := p.client.Pipeline()
		build(pipe)
		_, err := pipe.Exec(cctx)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		if p.OnSkipped != nil {
			p.OnSkipped()
		}
		return err
	}
	if err != nil {
		slog.Warn("redis publish failed", "kind", what, "error", err)
	}
	return err
}
