// Package alertfile loads seed alerts from a YAML file:
//
//	alerts:
//	  - symbol: AAPL
//	    target: "200.00"
//	    direction: above
//	  - symbol: TSLA
//	    target: 180
//	    direction: below
package alertfile

import (
	"fmt"
	"os"

	"tickertracker/internal/model"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Entry is one validated seed alert.
type Entry struct {
	Symbol    string
	Target    decimal.Decimal
	Direction model.Direction
}

type fileEntry struct {
	Symbol    string `yaml:"symbol"`
	Target    string `yaml:"target"`
	Direction string `yaml:"direction"`
}

type file struct {
	Alerts []fileEntry `yaml:"alerts"`
}

// Load reads and validates path. Any invalid entry fails the whole file, with
// its 1-based position in the error.
func Load(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes YAML seed alerts.
func Parse(b []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	out := make([]Entry, 0, len(f.Alerts))
	for i, fe := range f.Alerts {
		target, err := decimal.NewFromString(fe.Target)
		if err != nil {
			return nil, fmt.Errorf("alert %d: target %q: %w", i+1, fe.Target, model.ErrInvalidTarget)
		}
		dir, err := model.ParseDirection(fe.Direction)
		if err != nil {
			return nil, fmt.Errorf("alert %d: %w", i+1, err)
		}
		e := Entry{Symbol: model.NormalizeSymbol(fe.Symbol), Target: target, Direction: dir}
		probe := model.Alert{Symbol: e.Symbol, TargetPrice: e.Target, Direction: e.Direction}
		if err := probe.Validate(); err != nil {
			return nil, fmt.Errorf("alert %d: %w", i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}
