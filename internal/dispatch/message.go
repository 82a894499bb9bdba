package dispatch

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
	"time"

	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	"github.com/shopspring/decimal"
)

var (
	hundred     = decimal.NewFromInt(100)
	upperFactor = decimal.RequireFromString("1.20")
	lowerFactor = decimal.RequireFromString("0.80")
)

// Facts are the figures every rendering of a trigger shows.
type Facts struct {
	Symbol    string
	Above     bool
	Price     decimal.Decimal
	Target    decimal.Decimal
	ChangePct decimal.Decimal // |price - target| / target, percent
	Delta     decimal.Decimal // signed (price - target) / target, percent

	// ±20% price bands around the reference (previous close, else price).
	UpperCircuit  decimal.Decimal
	LowerCircuit  decimal.Decimal
	UpperDistance decimal.Decimal // percent of price
	LowerDistance decimal.Decimal
	Year          int
}

// NewFacts computes the message figures for tr. reference is the previous
// close; zero means use the triggering price.
func NewFacts(tr model.Trigger, reference decimal.Decimal) Facts {
	if !reference.IsPositive() {
		reference = tr.Price
	}
	upper := reference.Mul(upperFactor)
	lower := reference.Mul(lowerFactor)

	f := Facts{
		Symbol:       tr.Alert.Symbol,
		Above:        tr.Alert.Direction == model.DirectionAbove,
		Price:        tr.Price,
		Target:       tr.Alert.TargetPrice,
		ChangePct:    tr.DeltaPercent().Abs(),
		Delta:        tr.DeltaPercent(),
		UpperCircuit: upper,
		LowerCircuit: lower,
		Year:         tr.At.Year(),
	}
	if tr.Price.IsPositive() {
		f.UpperDistance = upper.Sub(tr.Price).Div(tr.Price).Mul(hundred)
		f.LowerDistance = tr.Price.Sub(lower).Div(tr.Price).Mul(hundred)
	}
	if f.Year < 2000 {
		f.Year = time.Now().Year()
	}
	return f
}

func (f Facts) Arrow() string {
	if f.Above {
		return "↗"
	}
	return "↘"
}

func (f Facts) Side() string {
	if f.Above {
		return "Above"
	}
	return "Below"
}

func (f Facts) Movement() string {
	if f.Above {
		return "increase"
	}
	return "decrease"
}

func (f Facts) Verb() string {
	if f.Above {
		return "rose above"
	}
	return "fell below"
}

func (f Facts) Color() string {
	if f.Above {
		return "#22c55e"
	}
	return "#ef4444"
}

// Message is everything the dispatcher sends for one trigger.
type Message struct {
	Notification notification.Notification
	Subject      string
	Text         string
	HTML         string
}

// Compose renders the notification and both e-mail bodies for tr.
func Compose(tr model.Trigger, reference decimal.Decimal) (Message, error) {
	f := NewFacts(tr, reference)

	title := "Price Alert: " + f.Symbol
	level := notification.LevelSuccess
	if !f.Above {
		level = notification.LevelWarning
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, f); err != nil {
		return Message{}, fmt.Errorf("dispatch: render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, f); err != nil {
		return Message{}, fmt.Errorf("dispatch: render html: %w", err)
	}

	return Message{
		Notification: notification.Notification{
			Level:  level,
			Title:  title,
			Body:   fmt.Sprintf("Price %s $%s. Current: $%s (%s)", f.Verb(), money(f.Target), money(f.Price), signedPct(f.Delta)),
			Symbol: f.Symbol,
			Tag:    fmt.Sprintf("alert-%s-%s", f.Symbol, f.Target.String()),
		},
		Subject: title,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }

// signedPct renders a percentage with an explicit sign, e.g. "+2.50%".
func signedPct(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2) + "%"
	}
	return "+" + d.StringFixed(2) + "%"
}

var funcs = map[string]any{"money": money}

var textTmpl = template.Must(template.New("text").Funcs(funcs).Parse(`PRICE ALERT: {{.Symbol}}

Alert Type: Price {{.Side}} Target

Current Price: ${{money .Price}} {{.Arrow}}
Change: {{money .ChangePct}}% {{.Movement}}
Target Price: ${{money .Target}}

CIRCUIT BREAKER STATUS
---------------------
Upper Circuit: ${{money .UpperCircuit}} ({{money .UpperDistance}}% away)
Lower Circuit: ${{money .LowerCircuit}} ({{money .LowerDistance}}% away)

This alert was sent by TickerTracker. You can manage your alerts in the app.`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Funcs(htmltemplate.FuncMap(funcs)).Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; background: #f8fafc;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
      <div style="background: #1e293b; color: white; padding: 20px; border-radius: 8px; margin-bottom: 20px;">
        <h2 style="margin:0;text-align:center;">{{.Symbol}} Alert</h2>
        <p style="text-align:center;margin:5px 0;">
          <span style="display:inline-block;padding:4px 8px;border-radius:4px;background:{{.Color}};color:white;font-size:14px;">Price {{.Side}} Target</span>
        </p>
      </div>
      <div style="background: white; padding: 20px; border: 1px solid #e2e8f0; border-radius: 8px;">
        <div style="font-size: 32px; font-weight: bold; color: {{.Color}}; text-align: center;">${{money .Price}} {{.Arrow}}</div>
        <div style="font-size: 18px; color: {{.Color}}; text-align: center; margin-bottom: 20px;">{{money .ChangePct}}% {{.Movement}}</div>
        <div style="text-align:center;margin:20px 0;"><strong>Target Price:</strong> ${{money .Target}}</div>
        <div style="margin-top: 20px; padding: 15px; background: #f1f5f9; border-radius: 6px;">
          <h3 style="margin:0 0 15px;color:#475569;">Circuit Breaker Status</h3>
          <div style="margin: 10px 0; padding: 10px; background: white; border-left: 4px solid #22c55e;">
            <span>Upper Circuit</span> <strong>${{money .UpperCircuit}} ({{money .UpperDistance}}% away)</strong>
          </div>
          <div style="margin: 10px 0; padding: 10px; background: white; border-left: 4px solid #ef4444;">
            <span>Lower Circuit</span> <strong>${{money .LowerCircuit}} ({{money .LowerDistance}}% away)</strong>
          </div>
        </div>
      </div>
      <div style="margin-top: 20px; text-align: center; font-size: 12px; color: #64748b;">
        <p>This alert was sent by TickerTracker. You can manage your alerts in the app.</p>
        <p>&copy; {{.Year}} TickerTracker. All rights reserved.</p>
      </div>
    </div>
  </body>
</html>`))
