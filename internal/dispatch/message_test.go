package dispatch

import (
	"strings"
	"testing"
	"time"

	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trigger(sym, target string, dir model.Direction, price string) model.Trigger {
	return model.Trigger{
		Alert: model.Alert{ID: "a1", Symbol: sym, TargetPrice: d(target), Direction: dir},
		Price: d(price),
		At:    time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC),
	}
}

func TestCompose_Above(t *testing.T) {
	msg, err := Compose(trigger("AAPL", "200", model.DirectionAbove, "205"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}

	n := msg.Notification
	if n.Title != "Price Alert: AAPL" {
		t.Errorf("title = %q", n.Title)
	}
	if n.Body != "Price rose above $200.00. Current: $205.00 (+2.50%)" {
		t.Errorf("body = %q", n.Body)
	}
	if n.Level != notification.LevelSuccess || n.Symbol != "AAPL" || n.Tag != "alert-AAPL-200" {
		t.Errorf("unexpected notification %+v", n)
	}
	if msg.Subject != n.Title {
		t.Errorf("subject = %q", msg.Subject)
	}

	for _, want := range []string{
		"PRICE ALERT: AAPL",
		"Alert Type: Price Above Target",
		"Current Price: $205.00 ↗",
		"Change: 2.50% increase",
		"Target Price: $200.00",
		"Upper Circuit: $246.00 (20.00% away)",
		"Lower Circuit: $164.00 (20.00% away)",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text missing %q:\n%s", want, msg.Text)
		}
	}
	for _, want := range []string{"AAPL Alert", "$205.00 ↗", "2.50% increase", "Price Above Target", "&copy; 2024"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestCompose_Below(t *testing.T) {
	msg, err := Compose(trigger("TSLA", "180", model.DirectionBelow, "171"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Notification.Body != "Price fell below $180.00. Current: $171.00 (-5.00%)" {
		t.Errorf("body = %q", msg.Notification.Body)
	}
	if msg.Notification.Level != notification.LevelWarning {
		t.Errorf("expected warning level, got %s", msg.Notification.Level)
	}
	for _, want := range []string{"Price Below Target", "$171.00 ↘", "5.00% decrease"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text missing %q", want)
		}
	}
}

func TestNewFacts_UsesReferenceForCircuits(t *testing.T) {
	f := NewFacts(trigger("AAPL", "170.00", model.DirectionAbove, "175.25"), d("169.75"))

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"change", f.ChangePct, "3.09"},
		{"upper", f.UpperCircuit, "203.70"},
		{"lower", f.LowerCircuit, "135.80"},
		{"upper distance", f.UpperDistance, "16.23"},
		{"lower distance", f.LowerDistance, "22.51"},
	}
	for _, c := range checks {
		if got := c.got.StringFixed(2); got != c.want {
			t.Errorf("%s = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestCompose_EscapesHTML(t *testing.T) {
	msg, err := Compose(trigger("<B>", "1", model.DirectionAbove, "2"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(msg.HTML, "<B> Alert") {
		t.Error("symbol was not escaped in html body")
	}
}
