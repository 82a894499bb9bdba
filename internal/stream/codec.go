package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"tickertracker/internal/model"

	"github.com/shopspring/decimal"
)

// ErrMalformedTick is returned by decodeTick for frames that are not a usable
// price update.
var ErrMalformedTick = errors.New("stream: malformed tick")

// wireTick is the inbound frame. Price accepts a JSON number or a numeric
// string; timestamp accepts an RFC 3339 string or unix milliseconds.
type wireTick struct {
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price"`
	Timestamp json.RawMessage  `json:"timestamp"`
}

// decodeTick parses one inbound frame. A missing or unparseable timestamp
// falls back to now.
func decodeTick(raw []byte, now time.Time) (model.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrMalformedTick, err)
	}

	sym := model.NormalizeSymbol(w.Symbol)
	if sym == "" {
		return model.Tick{}, fmt.Errorf("%w: missing symbol", ErrMalformedTick)
	}
	if w.Price == nil {
		return model.Tick{}, fmt.Errorf("%w: missing price for %s", ErrMalformedTick, sym)
	}
	if !w.Price.IsPositive() {
		return model.Tick{}, fmt.Errorf("%w: non-positive price %s for %s", ErrMalformedTick, w.Price, sym)
	}

	return model.Tick{
		Symbol:    sym,
		Price:     *w.Price,
		Timestamp: parseTimestamp(w.Timestamp, now),
	}, nil
}

func parseTimestamp(raw json.RawMessage, now time.Time) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return now.UTC()
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		return now.UTC()
	}

	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return now.UTC()
}

// encodeSubscription renders the full subscription set as one JSON array,
// sorted so repeated sends of the same set are byte-identical.
func encodeSubscription(set map[string]struct{}) ([]byte, error) {
	syms := make([]string, 0, len(set))
	for s := range set {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return json.Marshal(syms)
}
