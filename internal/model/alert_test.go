package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAlert_Triggered(t *testing.T) {
	tests := []struct {
		name     string
		dir      Direction
		target   string
		price    string
		expected bool
	}{
		{"above when price is greater", DirectionAbove, "150.00", "150.01", true},
		{"above when price is equal", DirectionAbove, "150.00", "150", true},
		{"above no trigger when lower", DirectionAbove, "150.00", "149.99", false},
		{"below when price is lower", DirectionBelow, "180", "179.5", true},
		{"below when price is equal", DirectionBelow, "180", "180.000", true},
		{"below no trigger when higher", DirectionBelow, "180", "180.0001", false},
		{"unknown direction never triggers", Direction("SIDEWAYS"), "1", "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Alert{Symbol: "AAPL", TargetPrice: d(tt.target), Direction: tt.dir}
			if got := a.Triggered(d(tt.price)); got != tt.expected {
				t.Errorf("Triggered(%s) = %v, expected %v", tt.price, got, tt.expected)
			}
		})
	}
}

func TestNewAlert(t *testing.T) {
	a, err := NewAlert(" aapl ", d("150"), DirectionAbove)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" {
		t.Error("expected non-empty ID")
	}
	if a.Symbol != "AAPL" {
		t.Errorf("expected symbol AAPL, got %s", a.Symbol)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	b, _ := NewAlert("AAPL", d("150"), DirectionAbove)
	if a.ID == b.ID {
		t.Error("expected distinct IDs for separate instances")
	}
}

func TestNewAlert_Validation(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		target string
		dir    Direction
		want   error
	}{
		{"empty symbol", "  ", "10", DirectionAbove, ErrInvalidSymbol},
		{"zero target", "TSLA", "0", DirectionAbove, ErrInvalidTarget},
		{"negative target", "TSLA", "-5", DirectionBelow, ErrInvalidTarget},
		{"bad direction", "TSLA", "5", Direction("up"), ErrInvalidDirection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAlert(tt.symbol, d(tt.target), tt.dir)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"above": DirectionAbove, "BELOW": DirectionBelow, " Above ": DirectionAbove} {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("expected ErrInvalidDirection, got %v", err)
	}
}

func TestTrigger_DeltaPercent(t *testing.T) {
	tr := Trigger{
		Alert: Alert{TargetPrice: d("200"), Direction: DirectionAbove},
		Price: d("205"),
	}
	if got := tr.DeltaPercent().StringFixed(2); got != "2.50" {
		t.Errorf("expected 2.50, got %s", got)
	}

	tr = Trigger{
		Alert: Alert{TargetPrice: d("180"), Direction: DirectionBelow},
		Price: d("171"),
	}
	if got := tr.DeltaPercent().StringFixed(2); got != "-5.00" {
		t.Errorf("expected -5.00, got %s", got)
	}
}
