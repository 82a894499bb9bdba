package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single price update received from the market-data stream.
// Price is kept as a decimal exactly as it arrived on the wire so alert
// comparisons never see float drift.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"` // UTC
}
