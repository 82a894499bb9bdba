package markethours

import (
	"strings"
	"testing"
	"time"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, NewYork)
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"tuesday midday", et(2026, time.March, 10, 12, 0), true},
		{"at open", et(2026, time.March, 10, 9, 30), true},
		{"before open", et(2026, time.March, 10, 9, 29), false},
		{"at close", et(2026, time.March, 10, 16, 0), false},
		{"saturday", et(2026, time.March, 14, 12, 0), false},
		{"good friday", et(2026, time.April, 3, 12, 0), false},
		{"observed independence day", et(2026, time.July, 3, 12, 0), false},
		{"utc input", time.Date(2026, time.March, 10, 17, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.at); got != tt.want {
				t.Fatalf("IsMarketOpen(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestNextOpen(t *testing.T) {
	// Thursday before Good Friday, after close: next open is Monday.
	got := NextOpen(et(2026, time.April, 2, 17, 0))
	if want := et(2026, time.April, 6, 9, 30); !got.Equal(want) {
		t.Fatalf("NextOpen = %s, want %s", got, want)
	}
	// Early morning on a trading day: today.
	got = NextOpen(et(2026, time.April, 6, 7, 0))
	if want := et(2026, time.April, 6, 9, 30); !got.Equal(want) {
		t.Fatalf("NextOpen = %s, want %s", got, want)
	}
}

func TestStatusString(t *testing.T) {
	if s := StatusString(et(2026, time.March, 10, 15, 0)); s != "Market Open, closes in 1h0m" {
		t.Errorf("open status = %q", s)
	}
	if s := StatusString(et(2026, time.March, 14, 12, 0)); !strings.HasPrefix(s, "Market Closed, opens Mon 09:30 ET") {
		t.Errorf("closed status = %q", s)
	}
}
