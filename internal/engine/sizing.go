package engine

import (
	"math"

	"github.com/kitealert7-source/tradescan/internal/broker"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Config holds the driver's execution parameters. Zero values are replaced by
// defaults in Normalize.
type Config struct {
	// ATRStopMultiplier scales the ATR fallback stop when the entry signal
	// carries no explicit stop price.
	ATRStopMultiplier float64 `yaml:"atr_stop_multiplier" json:"atr_stop_multiplier" jsonschema:"title=ATR Stop Multiplier,description=Multiple of ATR used for the fallback stop distance,minimum=0"`
	// Lots is the fixed lot size used when RiskPerTradeUSD is zero.
	Lots float64 `yaml:"lots" json:"lots" jsonschema:"title=Lots,description=Fixed lot size when risk-based sizing is off,minimum=0"`
	// SizeMultiplier scales position units after lot rounding.
	SizeMultiplier float64 `yaml:"size_multiplier" json:"size_multiplier" jsonschema:"title=Size Multiplier,description=Scales position units after lot rounding,minimum=0"`
	// RiskPerTradeUSD, when positive, sizes each trade so the stop distance
	// risks this many dollars, using the broker calibration constant.
	RiskPerTradeUSD float64 `yaml:"risk_per_trade_usd" json:"risk_per_trade_usd" jsonschema:"title=Risk Per Trade USD,description=Dollar risk budget per trade for stop-distance sizing,minimum=0"`
}

// Normalize fills defaults.
func (c Config) Normalize() Config {
	if c.ATRStopMultiplier <= 0 {
		c.ATRStopMultiplier = 2.0
	}

	if c.Lots <= 0 {
		c.Lots = 1.0
	}

	if c.SizeMultiplier <= 0 {
		c.SizeMultiplier = 1.0
	}

	return c
}

// lotsFor returns the lot size for a trade. Risk-based sizing divides the
// per-trade risk budget by the dollar cost of the stop distance at one lot,
// then floors to the broker's lot granularity.
func lotsFor(cfg Config, spec *broker.Spec, riskDistance float64) (float64, error) {
	if cfg.RiskPerTradeUSD <= 0 {
		return cfg.Lots, nil
	}

	perLot := riskDistance / 0.01 * spec.Calibration.USDPnlPerPriceUnit0p01
	if perLot <= 0 {
		return 0, errors.Newf(errors.KindBrokerSpecInvalid, spec.Symbol,
			"calibration yields non-positive risk per lot (%f)", perLot)
	}

	lots := cfg.RiskPerTradeUSD / perLot
	lots = math.Floor(lots/spec.MinLot) * spec.MinLot

	if lots < spec.MinLot {
		lots = spec.MinLot
	}

	return lots, nil
}
