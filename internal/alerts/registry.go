// Package alerts holds the pending price alerts, indexed by symbol, and keeps
// the stream subscription set in step with them.
package alerts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tickertracker/internal/model"

	"github.com/shopspring/decimal"
)

var ErrAlertNotFound = errors.New("alert not found")

// Subscriber is the part of the stream connection the registry drives.
type Subscriber interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
}

// DuplicatePolicy decides what Add does with a condition that is already pending.
type DuplicatePolicy string

const (
	// DuplicatesAllow stores every Add as its own instance; each fires once.
	DuplicatesAllow DuplicatePolicy = "allow"
	// DuplicatesIgnore returns the existing alert instead of adding another.
	DuplicatesIgnore DuplicatePolicy = "ignore"
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(s); p {
	case DuplicatesAllow, DuplicatesIgnore:
		return p, nil
	case "":
		return DuplicatesAllow, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q", s)
}

// Registry is the in-memory set of pending alerts.
//
// Invariant: a symbol is subscribed on the Subscriber iff the registry holds
// at least one alert for it. Subscribe/Unsubscribe are called with the
// registry lock held so the invariant never has a visible gap.
type Registry struct {
	mu       sync.Mutex
	sub      Subscriber
	policy   DuplicatePolicy
	bySymbol map[string][]model.Alert // insertion order
	symOf    map[string]string        // alert ID -> symbol

	// OnCountChange, if set, receives the new total after every change.
	OnCountChange func(total int)
}

// NewRegistry creates an empty registry driving sub.
func NewRegistry(sub Subscriber, policy DuplicatePolicy) *Registry {
	if policy == "" {
		policy = DuplicatesAllow
	}
	return &Registry{
		sub:      sub,
		policy:   policy,
		bySymbol: make(map[string][]model.Alert),
		symOf:    make(map[string]string),
	}
}

// Add validates and stores a new alert, subscribing to the symbol if it is the
// first alert for it.
func (r *Registry) Add(symbol string, target decimal.Decimal, dir model.Direction) (model.Alert, error) {
	a, err := model.NewAlert(symbol, target, dir)
	if err != nil {
		return model.Alert{}, err
	}
	return r.Insert(a)
}

// Insert stores an already-built alert, keeping its ID. Used when restoring
// persisted alerts. An ID that is already present is returned unchanged.
func (r *Registry) Insert(a model.Alert) (model.Alert, error) {
	a.Symbol = model.NormalizeSymbol(a.Symbol)
	if err := a.Validate(); err != nil {
		return model.Alert{}, err
	}
	if a.ID == "" {
		return model.Alert{}, errors.New("alerts: insert without id")
	}

	r.mu.Lock()
	if sym, ok := r.symOf[a.ID]; ok {
		existing := r.findLocked(sym, a.ID)
		r.mu.Unlock()
		return existing, nil
	}
	if r.policy == DuplicatesIgnore {
		for _, e := range r.bySymbol[a.Symbol] {
			if e.SameCondition(a.Symbol, a.TargetPrice, a.Direction) {
				r.mu.Unlock()
				return e, nil
			}
		}
	}

	first := len(r.bySymbol[a.Symbol]) == 0
	r.bySymbol[a.Symbol] = append(r.bySymbol[a.Symbol], a)
	r.symOf[a.ID] = a.Symbol
	if first {
		r.sub.Subscribe(a.Symbol)
	}
	total := len(r.symOf)
	r.mu.Unlock()

	r.notify(total)
	return a, nil
}

// Remove deletes the first pending alert matching the condition exactly.
// Returns false, with no stream traffic, when nothing matches.
func (r *Registry) Remove(symbol string, target decimal.Decimal, dir model.Direction) (model.Alert, bool) {
	symbol = model.NormalizeSymbol(symbol)

	r.mu.Lock()
	var (
		removed model.Alert
		found   bool
	)
	for _, a := range r.bySymbol[symbol] {
		if a.SameCondition(symbol, target, dir) {
			removed, found = a, true
			r.deleteLocked(symbol, a.ID)
			break
		}
	}
	total := len(r.symOf)
	r.mu.Unlock()

	if found {
		r.notify(total)
	}
	return removed, found
}

// RemoveByID deletes one alert instance. The boolean is false if the alert was
// already gone, which makes this usable as a claim: exactly one caller wins.
func (r *Registry) RemoveByID(id string) (model.Alert, bool) {
	r.mu.Lock()
	sym, ok := r.symOf[id]
	if !ok {
		r.mu.Unlock()
		return model.Alert{}, false
	}
	removed := r.findLocked(sym, id)
	r.deleteLocked(sym, id)
	total := len(r.symOf)
	r.mu.Unlock()

	r.notify(total)
	return removed, true
}

// Evaluate returns the pending alerts for symbol that price satisfies, in
// insertion order. It does not remove them.
func (r *Registry) Evaluate(symbol string, price decimal.Decimal) []model.Alert {
	symbol = model.NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	var hits []model.Alert
	for _, a := range r.bySymbol[symbol] {
		if a.Triggered(price) {
			hits = append(hits, a)
		}
	}
	return hits
}

// Get looks up one alert by ID.
func (r *Registry) Get(id string) (model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sym, ok := r.symOf[id]
	if !ok {
		return model.Alert{}, ErrAlertNotFound
	}
	return r.findLocked(sym, id), nil
}

// List returns every pending alert ordered by symbol, then insertion.
func (r *Registry) List() []model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Alert, 0, len(r.symOf))
	for _, sym := range r.symbolsLocked() {
		out = append(out, r.bySymbol[sym]...)
	}
	return out
}

// ForSymbol returns the pending alerts for one symbol.
func (r *Registry) ForSymbol(symbol string) []model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket := r.bySymbol[model.NormalizeSymbol(symbol)]
	out := make([]model.Alert, len(bucket))
	copy(out, bucket)
	return out
}

// Symbols returns the symbols with at least one pending alert, sorted.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbolsLocked()
}

// Count returns the number of pending alerts.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.symOf)
}

func (r *Registry) symbolsLocked() []string {
	syms := make([]string, 0, len(r.bySymbol))
	for s := range r.bySymbol {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

func (r *Registry) findLocked(symbol, id string) model.Alert {
	for _, a := range r.bySymbol[symbol] {
		if a.ID == id {
			return a
		}
	}
	return model.Alert{}
}

// deleteLocked removes one instance and unsubscribes when the bucket empties.
func (r *Registry) deleteLocked(symbol, id string) {
	bucket := r.bySymbol[symbol]
	for i, a := range bucket {
		if a.ID == id {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	delete(r.symOf, id)

	if len(bucket) == 0 {
		delete(r.bySymbol, symbol)
		r.sub.Unsubscribe(symbol)
		return
	}
	r.bySymbol[symbol] = bucket
}

func (r *Registry) notify(total int) {
	if r.OnCountChange != nil {
		r.OnCountChange(total)
	}
}
