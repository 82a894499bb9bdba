// Package dispatch turns a triggered alert into user-facing output: an
// on-screen notification (or toast fallback) and a fire-and-forget e-mail.
// Each alert instance is delivered at most once. Only the claim runs on the
// caller's goroutine; delivery never blocks tick processing.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"tickertracker/internal/logger"
	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
)

// Claimer removes an alert instance, reporting false if it was already gone.
type Claimer interface {
	RemoveByID(id string) (model.Alert, bool)
}

// Config wires the dispatcher's delivery channels. Any of Presenter, Toaster
// and Mailer may be nil.
type Config struct {
	Presenter notification.Presenter
	Toaster   notification.Toaster
	Mailer    notification.Mailer
	MailTo    string

	// NotifyTimeout bounds the presenter call. Defaults to 3s.
	NotifyTimeout time.Duration
	// MailTimeout bounds each e-mail send. Defaults to 15s.
	MailTimeout time.Duration

	Logger *slog.Logger

	// Optional hooks.
	// OnDispatched runs synchronously after the claim, before any delivery
	// goroutine starts.
	OnDispatched func(ctx context.Context, tr model.Trigger)
	// OnFallback runs on the delivery goroutine when the presenter could not
	// deliver and a toast was used.
	OnFallback func(reason error)
	// OnMailResult runs on the mail goroutine once the send finishes.
	OnMailResult func(ctx context.Context, tr model.Trigger, err error, took time.Duration)
}

func (c *Config) defaults() {
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 3 * time.Second
	}
	if c.MailTimeout <= 0 {
		c.MailTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher delivers triggered alerts. It holds no state beyond the set of
// in-flight delivery goroutines.
type Dispatcher struct {
	cfg     Config
	claimer Claimer
	log     *slog.Logger
	tasks   conc.WaitGroup
}

func New(claimer Claimer, cfg Config) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		cfg:     cfg,
		claimer: claimer,
		log:     cfg.Logger.With("component", "dispatch"),
	}
}

// Dispatch claims alert and launches the notification and the e-mail.
// It returns false without side effects when the alert was already removed
// (cancelled, or fired by an earlier tick). Delivery failures are logged and
// never surface to the caller, nor do they bring the alert back.
func (d *Dispatcher) Dispatch(alert model.Alert, tick model.Tick) bool {
	claimed, ok := d.claimer.RemoveByID(alert.ID)
	if !ok {
		d.log.Debug("alert already handled", "alert_id", alert.ID)
		return false
	}

	at := tick.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tr := model.Trigger{Alert: claimed, Price: tick.Price, At: at, Mail: model.MailSkipped}
	ctx := logger.WithTraceID(context.Background(), logger.GenerateTraceID(claimed.ID, at))

	d.log.Info("alert triggered", append(logger.LogWithTrace(ctx),
		"symbol", claimed.Symbol,
		"direction", claimed.Direction,
		"target", claimed.TargetPrice.String(),
		"price", tick.Price.String(),
	)...)

	msg, err := Compose(tr, decimal.Zero)
	if err != nil {
		// Templates are static; this only fires on a programming error.
		d.log.Error("compose failed", append(logger.LogWithTrace(ctx), "error", err)...)
		msg.Notification = notification.Notification{
			Level:  notification.LevelInfo,
			Title:  "Price Alert: " + claimed.Symbol,
			Body:   claimed.String(),
			Symbol: claimed.Symbol,
		}
		msg.Subject = msg.Notification.Title
		msg.Text = msg.Notification.Body
	}

	if d.cfg.Mailer != nil {
		tr.Mail = model.MailPending
	}
	if d.cfg.OnDispatched != nil {
		d.cfg.OnDispatched(ctx, tr)
	}

	n := msg.Notification
	d.tasks.Go(func() { d.present(ctx, n) })
	if d.cfg.Mailer != nil {
		d.sendMail(ctx, tr, msg)
	}
	return true
}

// present shows n on the presenter, falling back to the toaster on any failure.
func (d *Dispatcher) present(ctx context.Context, n notification.Notification) {
	err := notification.ErrUnavailable
	if d.cfg.Presenter != nil {
		pctx, cancel := context.WithTimeout(ctx, d.cfg.NotifyTimeout)
		err = d.cfg.Presenter.Show(pctx, n)
		cancel()
		if err == nil {
			return
		}
	}

	d.log.Warn("notification unavailable, falling back to toast",
		append(logger.LogWithTrace(ctx), "error", err)...)
	if d.cfg.OnFallback != nil {
		d.cfg.OnFallback(err)
	}
	if d.cfg.Toaster == nil {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, d.cfg.NotifyTimeout)
	defer cancel()
	if terr := d.cfg.Toaster.Toast(tctx, n); terr != nil {
		d.log.Error("toast failed", append(logger.LogWithTrace(ctx), "error", terr)...)
	}
}

func (d *Dispatcher) sendMail(ctx context.Context, tr model.Trigger, msg Message) {
	mail := notification.Mail{
		To:      d.cfg.MailTo,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	}

	d.tasks.Go(func() {
		mctx, cancel := context.WithTimeout(ctx, d.cfg.MailTimeout)
		defer cancel()

		start := time.Now()
		err := d.cfg.Mailer.Send(mctx, mail)
		took := time.Since(start)

		if err != nil {
			d.log.Error("alert mail failed", append(logger.LogWithTrace(ctx),
				"symbol", tr.Alert.Symbol, "error", err, "took", took)...)
		} else {
			d.log.Info("alert mail sent", append(logger.LogWithTrace(ctx),
				"symbol", tr.Alert.Symbol, "took", took)...)
		}
		if d.cfg.OnMailResult != nil {
			d.cfg.OnMailResult(ctx, tr, err, took)
		}
	})
}

// Close waits for in-flight notifications and mail to finish. A panicking
// presenter or mailer is logged rather than re-raised.
func (d *Dispatcher) Close() {
	if r := d.tasks.WaitAndRecover(); r != nil {
		d.log.Error("delivery goroutine panicked", "panic", r.Value, "stack", string(r.Stack))
	}
}
