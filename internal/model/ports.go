package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the alert pipeline from concrete storage
// implementations (SQLite, Redis).

// AlertStore keeps pending alerts across restarts.
type AlertStore interface {
	// SaveAlert persists a pending alert instance.
	SaveAlert(ctx context.Context, a Alert) error

	// DeleteAlert removes a pending alert by ID. Missing IDs are not an error.
	DeleteAlert(ctx context.Context, id string) error

	// LoadAlerts returns all pending alerts, oldest first.
	LoadAlerts(ctx context.Context) ([]Alert, error)
}

// TriggerJournal records fired alerts for the history view.
type TriggerJournal interface {
	// RecordTrigger appends a trigger to the journal.
	RecordTrigger(ctx context.Context, t Trigger) error

	// MarkMail updates the mail status of a recorded trigger.
	MarkMail(ctx context.Context, alertID string, status MailStatus) error

	// RecentTriggers returns up to limit triggers, newest first.
	RecentTriggers(ctx context.Context, limit int) ([]Trigger, error)
}

// TriggerPublisher fans triggers and ticks out to downstream consumers.
type TriggerPublisher interface {
	PublishTick(ctx context.Context, t Tick)
	PublishTrigger(ctx context.Context, t Trigger)
}
