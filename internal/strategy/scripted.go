package strategy

import (
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/moznion/go-optional"
)

// ScriptedAction forces an entry at a specific bar index.
type ScriptedAction struct {
	EntryIndex int
	ExitIndex  int
	Direction  types.Direction
	StopPrice  optional.Option[float64]
}

// Scripted is a deterministic strategy that enters and exits at fixed bar
// indices. It exists for driver calibration and validation runs where the
// expected trade list must be known exactly in advance.
type Scripted struct {
	Descriptor

	Actions []ScriptedAction
	filter  Filter
}

// NewScripted creates a scripted strategy with the given forced actions.
func NewScripted(timeframe string, actions []ScriptedAction) *Scripted {
	return &Scripted{
		Descriptor: Descriptor{
			StrategyName:      "scripted",
			StrategyTimeframe: timeframe,
			IndicatorPaths:    []string{"indicators.atr"},
			Filled:            true,
			BoundSignature:    map[string]any{"signature_version": 1, "scripted": true},
		},
		Actions: actions,
		filter:  nil,
	}
}

// WithFilter attaches a directional filter stack.
func (s *Scripted) WithFilter(filter Filter) *Scripted {
	s.filter = filter

	return s
}

// FilterStack implements Filtered.
func (s *Scripted) FilterStack() Filter {
	return s.filter
}

// PrepareIndicators implements Strategy. Scripted runs add no columns.
func (s *Scripted) PrepareIndicators(frame *types.Frame) error {
	return nil
}

// CheckEntry implements Strategy.
func (s *Scripted) CheckEntry(ctx Context) (*EntrySignal, error) {
	for _, action := range s.Actions {
		if action.EntryIndex == ctx.Index() {
			return &EntrySignal{
				Direction: action.Direction,
				StopPrice: action.StopPrice,
			}, nil
		}
	}

	return nil, nil
}

// CheckExit implements Strategy.
func (s *Scripted) CheckExit(ctx Context) (bool, error) {
	entry := ctx.EntryIndex()
	if entry.IsNone() {
		return false, nil
	}

	for _, action := range s.Actions {
		if action.EntryIndex == entry.Unwrap() && action.ExitIndex == ctx.Index() {
			return true, nil
		}
	}

	return false, nil
}
