package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of the target price an alert watches.
type Direction string

const (
	DirectionAbove Direction = "ABOVE"
	DirectionBelow Direction = "BELOW"
)

var (
	ErrInvalidSymbol    = errors.New("symbol must be non-empty")
	ErrInvalidTarget    = errors.New("target price must be positive")
	ErrInvalidDirection = errors.New("direction must be ABOVE or BELOW")
)

// ParseDirection accepts "above"/"below" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionAbove:
		return DirectionAbove, nil
	case DirectionBelow:
		return DirectionBelow, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Verb returns the phrase used in user-facing messages.
func (d Direction) Verb() string {
	if d == DirectionAbove {
		return "rose above"
	}
	return "fell below"
}

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Alert is a single pending price condition. Two alerts with the same
// (Symbol, TargetPrice, Direction) are the same logical alert; ID tells
// individual instances apart.
type Alert struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	TargetPrice decimal.Decimal `json:"targetPrice"`
	Direction   Direction       `json:"direction"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewAlert validates the condition and returns a fresh alert instance.
func NewAlert(symbol string, target decimal.Decimal, dir Direction) (Alert, error) {
	a := Alert{
		ID:          uuid.New().String(),
		Symbol:      NormalizeSymbol(symbol),
		TargetPrice: target,
		Direction:   dir,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}

func (a Alert) Validate() error {
	if a.Symbol == "" {
		return ErrInvalidSymbol
	}
	if !a.TargetPrice.IsPositive() {
		return ErrInvalidTarget
	}
	if !a.Direction.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, a.Direction)
	}
	return nil
}

// Triggered reports whether price satisfies the alert. Both directions are
// inclusive at the target.
func (a Alert) Triggered(price decimal.Decimal) bool {
	switch a.Direction {
	case DirectionAbove:
		return price.GreaterThanOrEqual(a.TargetPrice)
	case DirectionBelow:
		return price.LessThanOrEqual(a.TargetPrice)
	default:
		return false
	}
}

// SameCondition compares the logical identity of two alerts.
func (a Alert) SameCondition(symbol string, target decimal.Decimal, dir Direction) bool {
	return a.Symbol == symbol && a.Direction == dir && a.TargetPrice.Equal(target)
}

func (a Alert) String() string {
	return a.Symbol + " " + string(a.Direction) + " " + a.TargetPrice.String()
}

// MailStatus tracks the e-mail that accompanies a trigger.
type MailStatus string

const (
	MailPending MailStatus = "pending"
	MailSent    MailStatus = "sent"
	MailFailed  MailStatus = "failed"
	MailSkipped MailStatus = "skipped" // no mailer configured
)

// Trigger records an alert firing on a specific tick.
type Trigger struct {
	Alert Alert           `json:"alert"`
	Price decimal.Decimal `json:"price"`
	At    time.Time       `json:"at"`
	Mail  MailStatus      `json:"mail"`
}

// DeltaPercent is the signed distance of the triggering price from the
// target, as a percentage of the target.
func (t Trigger) DeltaPercent() decimal.Decimal {
	if t.Alert.TargetPrice.IsZero() {
		return decimal.Zero
	}
	return t.Price.Sub(t.Alert.TargetPrice).Div(t.Alert.TargetPrice).Mul(decimal.NewFromInt(100))
}
