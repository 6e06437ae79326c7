// Package strategy defines the plugin surface between the execution driver
// and strategy implementations, plus the static registry the provisioner
// resolves against. Strategies are compiled in and statically dispatched;
// there is no runtime code loading.
package strategy

import (
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/moznion/go-optional"
)

// EntrySignal is the non-nil result of CheckEntry. Direction is mandatory;
// the stop price is optional and falls back to the engine's ATR stop.
type EntrySignal struct {
	Direction types.Direction
	StopPrice optional.Option[float64]
}

// Filter gates intended entry directions. A strategy exposes one through
// FilterStack; the driver consults it immediately after an entry signal.
type Filter interface {
	AllowDirection(direction types.Direction) bool
}

// Context is the read-only view handed to strategy callbacks. It exposes
// exactly the current bar, walk position and entry-captured market state;
// strategies receive this view and nothing else.
type Context interface {
	// Bar returns the current bar.
	Bar() types.Bar
	// Index returns the current bar index within the run.
	Index() int
	// Direction returns the open position direction, or 0 when flat.
	Direction() types.Direction
	// EntryIndex returns the entry bar index while in a position.
	EntryIndex() optional.Option[int]
	// BarsHeld returns the bars held so far, 0 when flat.
	BarsHeld() int
	// MarketState returns the intrinsic market state of the current bar.
	MarketState() types.MarketState
	// Value returns a numeric indicator column value at the current bar.
	Value(column string) (float64, bool)
	// Require returns a numeric indicator value or fails with
	// MISSING_AUTHORITATIVE_INDICATOR when the column is absent.
	Require(column string) (float64, error)
}

// Strategy is the plugin contract. Implementations must be deterministic and
// must not retain references to the frame across calls.
type Strategy interface {
	// Name returns the strategy name bound into the directive identity.
	Name() string
	// Timeframe returns the timeframe the strategy is built for.
	Timeframe() string
	// Indicators returns the declared indicator set as dotted module paths.
	Indicators() []string
	// Signature returns the directive signature the implementation is bound
	// to. Compared canonically against the derived signature at provisioning.
	Signature() map[string]any
	// Implemented reports whether the strategy body has been filled in.
	// Freshly provisioned stubs return false and are rejected.
	Implemented() bool
	// PrepareIndicators attaches strategy-owned indicator columns to the
	// frame. It must not reorder or drop rows.
	PrepareIndicators(frame *types.Frame) error
	// CheckEntry is consulted while flat; a non-nil signal opens a position.
	CheckEntry(ctx Context) (*EntrySignal, error)
	// CheckExit is consulted while in a position; true closes it at the
	// current bar's close.
	CheckExit(ctx Context) (bool, error)
}

// Filtered is implemented by strategies carrying a directional filter stack.
type Filtered interface {
	FilterStack() Filter
}
