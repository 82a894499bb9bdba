// Package notification delivers triggered-alert messages to the user: an
// on-screen notification (webhook, Telegram, log), an in-app toast fallback,
// and e-mail.
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnavailable means the channel cannot show anything right now (not
// configured, not permitted). Callers fall back to a toast.
var ErrUnavailable = errors.New("notification: channel unavailable")

// Level represents the tone of a notification.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
)

// Notification is one user-facing message.
type Notification struct {
	Level  Level  `json:"level"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Symbol string `json:"symbol,omitempty"`
	// Tag groups notifications for the same condition, e.g. "alert-AAPL-200".
	Tag string `json:"tag,omitempty"`
}

// Presenter shows a notification on the user's primary channel.
type Presenter interface {
	// Show returns ErrUnavailable (possibly wrapped) when the channel is not
	// usable, or any delivery error.
	Show(ctx context.Context, n Notification) error
}

// Toaster shows a transient in-app message. It is the fallback when the
// Presenter cannot deliver.
type Toaster interface {
	Toast(ctx context.Context, n Notification) error
}

// Toasters fans a toast out to every member. All members are tried; their
// errors are joined.
type Toasters []Toaster

func (ts Toasters) Toast(ctx context.Context, n Notification) error {
	var errs []error
	for _, t := range ts {
		if t == nil {
			continue
		}
		if err := t.Toast(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FallbackToaster sends through Primary and, only if that fails, through
// Fallback. The error is non-nil only when both fail.
type FallbackToaster struct {
	Primary  Toaster
	Fallback Toaster
}

func (f FallbackToaster) Toast(ctx context.Context, n Notification) error {
	if f.Primary == nil {
		if f.Fallback == nil {
			return nil
		}
		return f.Fallback.Toast(ctx, n)
	}
	perr := f.Primary.Toast(ctx, n)
	if perr == nil || f.Fallback == nil {
		return perr
	}
	if err := f.Fallback.Toast(ctx, n); err != nil {
		return errors.Join(perr, err)
	}
	return nil
}

// Disabled is a Presenter that is never available. With it every
// notification goes to the toast fallback.
type Disabled struct{}

func (Disabled) Show(context.Context, Notification) error { return ErrUnavailable }

// LogNotifier writes notifications to the structured log (useful for development).
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notify")}
}

func (n *LogNotifier) Show(ctx context.Context, nt Notification) error {
	n.log.InfoContext(ctx, "notification", "level", nt.Level, "title", nt.Title, "body", nt.Body)
	return nil
}

func (n *LogNotifier) Toast(ctx context.Context, nt Notification) error {
	n.log.InfoContext(ctx, "toast", "level", nt.Level, "title", nt.Title, "body", nt.Body)
	return nil
}
