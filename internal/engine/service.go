// Package engine wires the feed connection, the alert registry and the
// notification dispatcher into one service and exposes the consumer API.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"tickertracker/internal/alertfile"
	"tickertracker/internal/alerts"
	"tickertracker/internal/bus"
	"tickertracker/internal/dispatch"
	"tickertracker/internal/metrics"
	"tickertracker/internal/model"
	"tickertracker/internal/notification"
	"tickertracker/internal/stream"

	"github.com/shopspring/decimal"
)

// Config assembles a Service. Store, Journal, Publisher, Metrics and Health
// are optional.
type Config struct {
	Stream     stream.Config
	Duplicates alerts.DuplicatePolicy

	Presenter     notification.Presenter
	Toaster       notification.Toaster
	Mailer        notification.Mailer
	MailTo        string
	NotifyTimeout time.Duration
	MailTimeout   time.Duration

	Store     model.AlertStore
	Journal   model.TriggerJournal
	Publisher model.TriggerPublisher
	Seeds     []alertfile.Entry

	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Logger  *slog.Logger

	// OnTrigger, if set, observes every fired alert after it is journaled.
	OnTrigger func(model.Trigger)

	// StopTimeout bounds how long Stop waits for the feed loop. Defaults to 5s.
	StopTimeout time.Duration
}

// Service is the alert pipeline. Create with New, then Start.
type Service struct {
	cfg  Config
	log  *slog.Logger
	conn *stream.Connection
	reg  *alerts.Registry
	disp *dispatch.Dispatcher

	lastTick atomic.Int64 // unix nanos
}

// New builds the pipeline. Nothing connects until Start.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	s := &Service{cfg: cfg, log: cfg.Logger.With("component", "engine")}

	sc := cfg.Stream
	sc.Logger = cfg.Logger
	userReconnect, userMalformed := sc.OnReconnect, sc.OnMalformed
	sc.OnReconnect = func(d time.Duration) {
		if cfg.Metrics != nil {
			cfg.Metrics.StreamReconnects.Inc()
		}
		if userReconnect != nil {
			userReconnect(d)
		}
	}
	sc.OnMalformed = func(raw []byte, err error) {
		if cfg.Metrics != nil {
			cfg.Metrics.MalformedTicks.Inc()
		}
		if userMalformed != nil {
			userMalformed(raw, err)
		}
	}
	s.conn = stream.New(sc)

	s.reg = alerts.NewRegistry(s.conn, cfg.Duplicates)
	s.reg.OnCountChange = s.onCountChange

	s.disp = dispatch.New(s.reg, dispatch.Config{
		Presenter:     cfg.Presenter,
		Toaster:       cfg.Toaster,
		Mailer:        cfg.Mailer,
		MailTo:        cfg.MailTo,
		NotifyTimeout: cfg.NotifyTimeout,
		MailTimeout:   cfg.MailTimeout,
		Logger:        cfg.Logger,
		OnDispatched:  s.onDispatched,
		OnFallback:    s.onFallback,
		OnMailResult:  s.onMailResult,
	})

	// Evaluation runs first so consumer tick listeners see post-trigger state.
	s.conn.OnTick(s.handleTick)
	s.conn.OnConnectionChange(
		func() { s.setConnected(true) },
		func() { s.setConnected(false) },
	)
	return s
}

// Start restores persisted alerts, adds seed alerts that are not already
// pending, and opens the feed connection.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Store != nil {
		restored, err := s.cfg.Store.LoadAlerts(ctx)
		if err != nil {
			return err
		}
		for _, a := range restored {
			if _, err := s.reg.Insert(a); err != nil {
				s.log.Warn("skipping invalid stored alert", "alert_id", a.ID, "error", err)
			}
		}
		s.log.Info("alerts restored", "count", len(restored))
	}

	for _, e := range s.cfg.Seeds {
		if s.hasPending(e.Symbol, e.Target, e.Direction) {
			continue
		}
		if _, err := s.AddAlert(ctx, e.Symbol, e.Target, e.Direction); err != nil {
			s.log.Warn("skipping seed alert", "symbol", e.Symbol, "error", err)
		}
	}

	return s.conn.Start(ctx)
}

// Stop disconnects the feed and waits for in-flight mail.
func (s *Service) Stop() {
	s.conn.Disconnect()
	select {
	case <-s.conn.Done():
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn("feed loop did not stop in time")
	}
	s.disp.Close()
}

// AddAlert persists a new alert and then registers it. The row exists before
// the symbol is subscribed, so a trigger always finds it to delete.
func (s *Service) AddAlert(ctx context.Context, symbol string, target decimal.Decimal, dir model.Direction) (model.Alert, error) {
	a, err := model.NewAlert(symbol, target, dir)
	if err != nil {
		return model.Alert{}, err
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveAlert(ctx, a); err != nil {
			s.log.Error("persist alert failed", "alert_id", a.ID, "error", err)
		}
	}

	got, err := s.reg.Insert(a)
	if err != nil || got.ID != a.ID {
		// Rejected, or folded into an existing alert by the duplicate policy.
		if s.cfg.Store != nil {
			if derr := s.cfg.Store.DeleteAlert(ctx, a.ID); derr != nil {
				s.log.Error("unpersist alert failed", "alert_id", a.ID, "error", derr)
			}
		}
		if err != nil {
			return model.Alert{}, err
		}
		return got, nil
	}
	s.log.Info("alert added", "alert_id", got.ID, "alert", got.String())
	return got, nil
}

// RemoveAlert cancels the first pending alert matching the condition.
func (s *Service) RemoveAlert(ctx context.Context, symbol string, target decimal.Decimal, dir model.Direction) bool {
	a, ok := s.reg.Remove(symbol, target, dir)
	if !ok {
		return false
	}
	s.forget(ctx, a)
	return true
}

// RemoveAlertByID cancels one alert instance.
func (s *Service) RemoveAlertByID(ctx context.Context, id string) (model.Alert, error) {
	a, ok := s.reg.RemoveByID(id)
	if !ok {
		return model.Alert{}, alerts.ErrAlertNotFound
	}
	s.forget(ctx, a)
	return a, nil
}

// Alerts lists pending alerts.
func (s *Service) Alerts() []model.Alert { return s.reg.List() }

// Subscriptions returns the feed subscription set.
func (s *Service) Subscriptions() []string { return s.conn.Symbols() }

// Connected reports the feed connection state.
func (s *Service) Connected() bool { return s.conn.Connected() }

// LastTick returns when the last tick arrived, zero if none yet.
func (s *Service) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// History returns recent triggers from the journal.
func (s *Service) History(ctx context.Context, limit int) ([]model.Trigger, error) {
	if s.cfg.Journal == nil {
		return nil, errors.New("engine: trigger journal not configured")
	}
	return s.cfg.Journal.RecentTriggers(ctx, limit)
}

func (s *Service) OnTick(h stream.TickHandler) bus.ListenerID { return s.conn.OnTick(h) }

func (s *Service) OffTick(id bus.ListenerID) bool { return s.conn.OffTick(id) }

func (s *Service) OnConnectionChange(onOpen, onClose func()) bus.ListenerID {
	return s.conn.OnConnectionChange(onOpen, onClose)
}

func (s *Service) OffConnectionChange(id bus.ListenerID) bool {
	return s.conn.OffConnectionChange(id)
}

// handleTick evaluates and dispatches on the feed read goroutine. Evaluate and
// the dispatcher's claim run back to back, so a later tick can never fire an
// alert a previous tick already claimed.
func (s *Service) handleTick(t model.Tick) {
	start := time.Now()
	s.lastTick.Store(start.UnixNano())
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TicksTotal.Inc()
	}
	if s.cfg.Health != nil {
		s.cfg.Health.SetLastTickTime(start)
	}
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.PublishTick(context.Background(), t)
	}

	for _, a := range s.reg.Evaluate(t.Symbol, t.Price) {
		s.disp.Dispatch(a, t)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TickEvaluationDur.Observe(time.Since(start).Seconds())
	}
}

func (s *Service) onDispatched(ctx context.Context, tr model.Trigger) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.AlertsTriggered.WithLabelValues(string(tr.Alert.Direction)).Inc()
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.DeleteAlert(ctx, tr.Alert.ID); err != nil {
			s.log.Error("unpersist triggered alert failed", "alert_id", tr.Alert.ID, "error", err)
		}
	}
	if s.cfg.Journal != nil {
		if err := s.cfg.Journal.RecordTrigger(ctx, tr); err != nil {
			s.log.Error("journal trigger failed", "alert_id", tr.Alert.ID, "error", err)
		}
	}
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.PublishTrigger(ctx, tr)
	}
	if s.cfg.OnTrigger != nil {
		s.cfg.OnTrigger(tr)
	}
}

func (s *Service) onFallback(reason error) {
	if s.cfg.Metrics == nil {
		return
	}
	label := "error"
	switch {
	case errors.Is(reason, notification.ErrUnavailable):
		label = "unavailable"
	case errors.Is(reason, context.DeadlineExceeded):
		label = "timeout"
	}
	s.cfg.Metrics.NotifyFallbacks.WithLabelValues(label).Inc()
}

func (s *Service) onMailResult(ctx context.Context, tr model.Trigger, err error, took time.Duration) {
	status := model.MailSent
	if err != nil {
		status = model.MailFailed
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.MailsTotal.WithLabelValues(string(status)).Inc()
		s.cfg.Metrics.MailDuration.Observe(took.Seconds())
	}
	if s.cfg.Journal != nil {
		if jerr := s.cfg.Journal.MarkMail(ctx, tr.Alert.ID, status); jerr != nil {
			s.log.Error("journal mail status failed", "alert_id", tr.Alert.ID, "error", jerr)
		}
	}
}

func (s *Service) onCountChange(total int) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveAlerts.Set(float64(total))
		s.cfg.Metrics.SubscribedSymbols.Set(float64(len(s.conn.Symbols())))
	}
	if s.cfg.Health != nil {
		s.cfg.Health.SetActiveAlerts(total)
	}
}

func (s *Service) setConnected(up bool) {
	if s.cfg.Metrics != nil {
		v := 0.0
		if up {
			v = 1
		}
		s.cfg.Metrics.StreamConnected.Set(v)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.SetStreamConnected(up)
	}
}

func (s *Service) forget(ctx context.Context, a model.Alert) {
	if s.cfg.Store != nil {
		if err := s.cfg.Store.DeleteAlert(ctx, a.ID); err != nil {
			s.log.Error("unpersist alert failed", "alert_id", a.ID, "error", err)
		}
	}
	s.log.Info("alert removed", "alert_id", a.ID, "alert", a.String())
}

func (s *Service) hasPending(symbol string, target decimal.Decimal, dir model.Direction) bool {
	symbol = model.NormalizeSymbol(symbol)
	for _, a := range s.reg.ForSymbol(symbol) {
		if a.SameCondition(symbol, target, dir) {
			return true
		}
	}
	return false
}
