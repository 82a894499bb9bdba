package gateway

import (
	"fmt"

	"tickertracker/internal/model"

	"github.com/shopspring/decimal"
)

// AlertRequest is the body of POST /api/alerts. Target is a decimal string or
// number; both `"175.25"` and `175.25` are accepted.
type AlertRequest struct {
	Symbol    string          `json:"symbol"`
	Target    decimal.Decimal `json:"target"`
	Direction string          `json:"direction"`
}

func (r AlertRequest) condition() (string, decimal.Decimal, model.Direction, error) {
	dir, err := model.ParseDirection(r.Direction)
	if err != nil {
		return "", decimal.Zero, "", err
	}
	return r.Symbol, r.Target, dir, nil
}

// conditionFromQuery parses ?symbol=&target=&direction= for DELETE /api/alerts.
func conditionFromQuery(symbol, target, direction string) (string, decimal.Decimal, model.Direction, error) {
	price, err := decimal.NewFromString(target)
	if err != nil {
		return "", decimal.Zero, "", fmt.Errorf("%w: %q", model.ErrInvalidTarget, target)
	}
	dir, err := model.ParseDirection(direction)
	if err != nil {
		return "", decimal.Zero, "", err
	}
	return symbol, price, dir, nil
}

// StatusResponse is the REST response type for /api/status.
type StatusResponse struct {
	Connected     bool     `json:"connected"`
	Subscriptions []string `json:"subscriptions"`
	Alerts        int      `json:"alerts"`
	Clients       int      `json:"ws_clients"`
	Seq           int64    `json:"seq"`
	MarketOpen    bool     `json:"marketOpen"`
	MarketStatus  string   `json:"marketStatus"`
}
