package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickertracker/internal/model"

	"github.com/shopspring/decimal"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "alerts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAlert(t *testing.T, sym, target string, dir model.Direction) model.Alert {
	t.Helper()
	a, err := model.NewAlert(sym, decimal.RequireFromString(target), dir)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestStore_AlertRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	first := mustAlert(t, "AAPL", "200.125", model.DirectionAbove)
	second := mustAlert(t, "TSLA", "180", model.DirectionBelow)
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	for _, a := range []model.Alert{second, first} {
		if err := s.SaveAlert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	// Upsert is idempotent.
	if err := s.SaveAlert(ctx, first); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAlerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("expected oldest first, got %s then %s", got[0].Symbol, got[1].Symbol)
	}
	if got[0].TargetPrice.String() != "200.125" || got[0].Direction != model.DirectionAbove {
		t.Errorf("alert fields not preserved: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, first.CreatedAt)
	}

	if err := s.DeleteAlert(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteAlert(ctx, "missing"); err != nil {
		t.Errorf("deleting an unknown id should not fail: %v", err)
	}
	got, _ = s.LoadAlerts(ctx)
	if len(got) != 1 || got[0].ID != second.ID {
		t.Errorf("unexpected alerts after delete: %+v", got)
	}
}

func TestStore_TriggerJournal(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

	older := model.Trigger{
		Alert: mustAlert(t, "AAPL", "200", model.DirectionAbove),
		Price: decimal.RequireFromString("205.5"),
		At:    base,
		Mail:  model.MailPending,
	}
	newer := model.Trigger{
		Alert: mustAlert(t, "TSLA", "180", model.DirectionBelow),
		Price: decimal.RequireFromString("171"),
		At:    base.Add(time.Minute),
		Mail:  model.MailSkipped,
	}
	for _, tr := range []model.Trigger{older, newer} {
		if err := s.RecordTrigger(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkMail(ctx, older.Alert.ID, model.MailFailed); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentTriggers(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(got))
	}
	if got[0].Alert.ID != newer.Alert.ID {
		t.Errorf("expected newest first, got %s", got[0].Alert.Symbol)
	}
	if got[1].Mail != model.MailFailed {
		t.Errorf("mail status = %q, want failed", got[1].Mail)
	}
	if !got[1].Price.Equal(older.Price) || !got[1].At.Equal(base) {
		t.Errorf("trigger fields not preserved: %+v", got[1])
	}

	limited, _ := s.RecentTriggers(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}
