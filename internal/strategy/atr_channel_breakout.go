package strategy

import (
	"math"

	"github.com/kitealert7-source/tradescan/internal/indicator"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/moznion/go-optional"
)

// ATRChannelBreakout is the reference strategy: enter on a close breaking the
// rolling high/low channel, exit on the opposite channel touch, stop at an
// ATR multiple supplied explicitly through the entry signal.
type ATRChannelBreakout struct {
	Descriptor

	channelWindow int
	stopATRMult   float64
	filter        Filter
}

// NewATRChannelBreakout creates the reference strategy bound to the given
// signature.
func NewATRChannelBreakout(timeframe string, signature map[string]any) *ATRChannelBreakout {
	return &ATRChannelBreakout{
		Descriptor: Descriptor{
			StrategyName:      "atr_channel_breakout",
			StrategyTimeframe: timeframe,
			IndicatorPaths:    []string{"indicators.atr", "indicators.donchian_channel"},
			Filled:            true,
			BoundSignature:    signature,
		},
		channelWindow: 20,
		stopATRMult:   2.0,
		filter:        nil,
	}
}

// WithFilter attaches a directional filter stack.
func (s *ATRChannelBreakout) WithFilter(filter Filter) *ATRChannelBreakout {
	s.filter = filter

	return s
}

// FilterStack implements Filtered.
func (s *ATRChannelBreakout) FilterStack() Filter {
	return s.filter
}

// PrepareIndicators implements Strategy.
func (s *ATRChannelBreakout) PrepareIndicators(frame *types.Frame) error {
	closes := frame.Closes()

	if err := frame.SetColumn("channel_high", indicator.RollingMax(closes, s.channelWindow)); err != nil {
		return err
	}

	return frame.SetColumn("channel_low", indicator.RollingMin(closes, s.channelWindow))
}

// CheckEntry implements Strategy.
func (s *ATRChannelBreakout) CheckEntry(ctx Context) (*EntrySignal, error) {
	high, ok := ctx.Value("channel_high")
	if !ok || math.IsNaN(high) {
		return nil, nil
	}

	low, ok := ctx.Value("channel_low")
	if !ok || math.IsNaN(low) {
		return nil, nil
	}

	atr, err := ctx.Require("atr")
	if err != nil {
		return nil, err
	}

	close := ctx.Bar().Close

	if close > high {
		return &EntrySignal{
			Direction: types.DirectionLong,
			StopPrice: optional.Some(close - s.stopATRMult*atr),
		}, nil
	}

	if close < low {
		return &EntrySignal{
			Direction: types.DirectionShort,
			StopPrice: optional.Some(close + s.stopATRMult*atr),
		}, nil
	}

	return nil, nil
}

// CheckExit implements Strategy.
func (s *ATRChannelBreakout) CheckExit(ctx Context) (bool, error) {
	close := ctx.Bar().Close

	switch ctx.Direction() {
	case types.DirectionLong:
		low, ok := ctx.Value("channel_low")

		return ok && !math.IsNaN(low) && close < low, nil
	case types.DirectionShort:
		high, ok := ctx.Value("channel_high")

		return ok && !math.IsNaN(high) && close > high, nil
	default:
		return false, nil
	}
}
