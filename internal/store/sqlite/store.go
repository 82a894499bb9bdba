// Package sqlite persists pending alerts and the trigger journal in a local
// SQLite database (WAL mode, single writer connection).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tickertracker/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements model.AlertStore and model.TriggerJournal.
type Store struct {
	db *sql.DB
}

var (
	_ model.AlertStore     = (*Store)(nil)
	_ model.TriggerJournal = (*Store)(nil)
)

// Open creates (if needed) and opens the database at path, e.g. "data/alerts.db".
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "path", path)
	return &Store{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT    PRIMARY KEY,
			symbol     TEXT    NOT NULL,
			target     TEXT    NOT NULL,
			direction  TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol);

		CREATE TABLE IF NOT EXISTS alert_triggers (
			alert_id     TEXT    PRIMARY KEY,
			symbol       TEXT    NOT NULL,
			direction    TEXT    NOT NULL,
			target       TEXT    NOT NULL,
			price        TEXT    NOT NULL,
			created_at   INTEGER NOT NULL,
			triggered_at INTEGER NOT NULL,
			mail_status  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alert_triggers_at ON alert_triggers(triggered_at);
	`)
	return err
}

// SaveAlert upserts a pending alert.
func (s *Store) SaveAlert(ctx context.Context, a model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts (id, symbol, target, direction, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.Symbol, a.TargetPrice.String(), string(a.Direction), a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite save alert %s: %w", a.ID, err)
	}
	return nil
}

// DeleteAlert removes a pending alert. Unknown IDs are ignored.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite delete alert %s: %w", id, err)
	}
	return nil
}

// LoadAlerts returns every pending alert, oldest first.
func (s *Store) LoadAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, target, direction, created_at
		FROM alerts
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			target    string
			dir       string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &target, &dir, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite scan alerts: %w", err)
		}
		if a.TargetPrice, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("sqlite alert %s target %q: %w", a.ID, target, err)
		}
		a.Direction = model.Direction(dir)
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordTrigger journals a fired alert.
func (s *Store) RecordTrigger(ctx context.Context, t model.Trigger) error {
	status := t.Mail
	if status == "" {
		status = model.MailPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_triggers
			(alert_id, symbol, direction, target, price, created_at, triggered_at, mail_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.Alert.ID,
		t.Alert.Symbol,
		string(t.Alert.Direction),
		t.Alert.TargetPrice.String(),
		t.Price.String(),
		t.Alert.CreatedAt.UnixNano(),
		t.At.UnixNano(),
		string(status),
	)
	if err != nil {
		return fmt.Errorf("sqlite record trigger %s: %w", t.Alert.ID, err)
	}
	return nil
}

// MarkMail sets the mail status of a journaled trigger.
func (s *Store) MarkMail(ctx context.Context, alertID string, status model.MailStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alert_triggers SET mail_status = ? WHERE alert_id = ?`,
		string(status), alertID)
	if err != nil {
		return fmt.Errorf("sqlite mark mail %s: %w", alertID, err)
	}
	return nil
}

// RecentTriggers returns up to limit triggers, newest first.
func (s *Store) RecentTriggers(ctx context.Context, limit int) ([]model.Trigger, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, symbol, direction, target, price, created_at, triggered_at, mail_status
		FROM alert_triggers
		ORDER BY triggered_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query triggers: %w", err)
	}
	defer rows.Close()

	var out []model.Trigger
	for rows.Next() {
		var (
			t                    model.Trigger
			dir, target, price   string
			status               string
			createdAt, triggered int64
		)
		if err := rows.Scan(&t.Alert.ID, &t.Alert.Symbol, &dir, &target, &price, &createdAt, &triggered, &status); err != nil {
			return nil, fmt.Errorf("sqlite scan triggers: %w", err)
		}
		if t.Alert.TargetPrice, err = decimal.NewFromString(target); err != nil {
			return nil, fmt.Errorf("sqlite trigger %s target: %w", t.Alert.ID, err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("sqlite trigger %s price: %w", t.Alert.ID, err)
		}
		t.Alert.Direction = model.Direction(dir)
		t.Alert.CreatedAt = time.Unix(0, createdAt).UTC()
		t.At = time.Unix(0, triggered).UTC()
		t.Mail = model.MailStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
