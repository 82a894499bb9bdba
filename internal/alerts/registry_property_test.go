package alerts

import (
	"reflect"
	"testing"
	"time"

	"tickertracker/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

var propSymbols = []string{"AAPL", "MSFT", "TSLA"}

// applyOp decodes one generated integer into a registry operation.
func applyOp(r *Registry, n int) {
	sym := propSymbols[(n/4)%len(propSymbols)]
	target := decimal.NewFromInt(int64(100 + (n/12)%4))
	dir := model.DirectionAbove
	if (n/48)%2 == 1 {
		dir = model.DirectionBelow
	}

	switch n % 4 {
	case 0, 1:
		r.Add(sym, target, dir)
	case 2:
		r.Remove(sym, target, dir)
	case 3:
		// claim whatever fires at the target, as the dispatcher would
		for _, a := range r.Evaluate(sym, target) {
			r.RemoveByID(a.ID)
		}
	}
}

// Property: after any sequence of adds, removes and claims, the stream is
// subscribed to exactly the symbols the registry holds alerts for, and the
// registry never sends a redundant subscribe or unsubscribe.
func TestProperty_SubscriptionMatchesRegistry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("subscription set equals symbols with alerts", prop.ForAll(
		func(ops []int) bool {
			sub := newRecordingSub()
			r := NewRegistry(sub, DuplicatesAllow)
			for _, n := range ops {
				applyOp(r, n)
				if !reflect.DeepEqual(sub.symbols(), r.Symbols()) {
					return false
				}
			}
			return sub.redundant == 0
		},
		gen.SliceOf(gen.IntRange(0, 191)),
	))

	properties.TestingRun(t)
}

// Property: an alert instance can be claimed at most once.
func TestProperty_ClaimAtMostOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("second RemoveByID fails", prop.ForAll(
		func(cents int64, claims int) bool {
			r := NewRegistry(newRecordingSub(), DuplicatesAllow)
			a, err := r.Add("AAPL", decimal.New(cents, -2), model.DirectionAbove)
			if err != nil {
				return false
			}
			wins := 0
			for i := 0; i < claims; i++ {
				if _, ok := r.RemoveByID(a.ID); ok {
					wins++
				}
			}
			return wins == 1
		},
		gen.Int64Range(1, 10_000_000),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// Property: both directions trigger when price equals target exactly.
func TestProperty_BoundaryInclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("price == target triggers ABOVE and BELOW", prop.ForAll(
		func(units int64, exp int32) bool {
			target := decimal.New(units, -exp)
			r := NewRegistry(newRecordingSub(), DuplicatesAllow)
			r.Add("AAPL", target, model.DirectionAbove)
			r.Add("AAPL", target, model.DirectionBelow)
			return len(r.Evaluate("AAPL", target)) == 2
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Int32Range(0, 6),
	))

	properties.TestingRun(t)
}
