// Package engine owns the execution driver: the single-position bar walk,
// the intrinsic market-state computation and the stop contract. Strategies
// see only the read-only context; everything stateful lives here.
package engine

import (
	"math"
	"time"

	"github.com/kitealert7-source/tradescan/internal/indicator"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Authoritative column names. The driver refuses to walk a frame that is
// missing any of them.
const (
	ColumnATR              = "atr"
	ColumnVolatilityRegime = "volatility_regime"
	ColumnTrendRegime      = "trend_regime"
	ColumnTrendScore       = "trend_score"
	ColumnTrendLabel       = "trend_label"
)

// Intrinsic computation parameters. These are engine constants, not strategy
// inputs; changing them changes every run's market state.
const (
	atrPeriod          = 14
	linRegWindow       = 50
	linRegEpsilon      = 0.001
	linRegHTFWindow    = 200
	kalmanProcessNoise = 1e-5
	kalmanMeasureNoise = 1e-2
	persistenceWindow  = 20
	persistenceShare   = 0.6
	efficiencyWindow   = 10
	efficiencyCutoff   = 0.3
	volatilityWindow   = 100
)

// legacy column spellings canonicalized before the authoritative assertion,
// applied in a fixed order.
var columnAliases = []struct{ from, to string }{
	{"ATR", ColumnATR},
	{"atr_entry", ColumnATR},
	{"regime", ColumnVolatilityRegime},
}

// ComputeMarketState attaches the engine-owned intrinsic columns to the
// frame: atr, the five trend components summed into trend_score, the bucketed
// trend_regime with its label, and the numeric volatility_regime score.
// Existing strategy columns are canonicalized first; the engine never
// overwrites a column the strategy already provided.
func ComputeMarketState(frame *types.Frame) error {
	for _, alias := range columnAliases {
		if err := frame.RenameColumn(alias.from, alias.to); err != nil {
			return err
		}
	}

	bars := frame.Bars()
	closes := frame.Closes()

	if !frame.HasColumn(ColumnATR) {
		if err := frame.SetColumn(ColumnATR, indicator.ATR(bars, atrPeriod)); err != nil {
			return err
		}
	}

	components := [][]int{
		indicator.LinRegSlopeRegime(closes, linRegWindow, linRegEpsilon),
		indicator.LinRegHTFRegime(barTimes(frame), closes, linRegHTFWindow, linRegEpsilon),
		indicator.KalmanRegime(closes, kalmanProcessNoise, kalmanMeasureNoise),
		indicator.TrendPersistenceRegime(closes, persistenceWindow, persistenceShare),
		indicator.EfficiencyRatioRegime(closes, efficiencyWindow, efficiencyCutoff),
	}

	score := make([]float64, frame.Len())
	regime := make([]float64, frame.Len())
	labels := make([]string, frame.Len())

	for i := 0; i < frame.Len(); i++ {
		sum := 0
		for _, c := range components {
			sum += c[i]
		}

		bucket := bucketTrendScore(sum)
		score[i] = float64(sum)
		regime[i] = float64(bucket)
		labels[i] = trendLabel(bucket)
	}

	if err := frame.SetColumn(ColumnTrendScore, score); err != nil {
		return err
	}

	if err := frame.SetColumn(ColumnTrendRegime, regime); err != nil {
		return err
	}

	if err := frame.SetLabelColumn(ColumnTrendLabel, labels); err != nil {
		return err
	}

	if !frame.HasColumn(ColumnVolatilityRegime) {
		atr, _ := frame.Column(ColumnATR)
		if err := frame.SetColumn(ColumnVolatilityRegime, indicator.VolatilityRegimeScore(atr, volatilityWindow)); err != nil {
			return err
		}
	}

	return assertAuthoritative(frame)
}

func assertAuthoritative(frame *types.Frame) error {
	for _, col := range []string{
		ColumnATR, ColumnVolatilityRegime, ColumnTrendRegime, ColumnTrendScore, ColumnTrendLabel,
	} {
		if !frame.HasColumn(col) {
			return errors.Newf(errors.KindMissingIndicator, col,
				"authoritative column %q absent before walk", col)
		}
	}

	return nil
}

func bucketTrendScore(score int) int {
	switch {
	case score >= 3:
		return 2
	case score >= 1:
		return 1
	case score == 0:
		return 0
	case score >= -2:
		return -1
	default:
		return -2
	}
}

func trendLabel(regime int) string {
	switch regime {
	case 2:
		return types.TrendLabelStrongUp
	case 1:
		return types.TrendLabelWeakUp
	case -1:
		return types.TrendLabelWeakDown
	case -2:
		return types.TrendLabelStrongDown
	default:
		return types.TrendLabelNeutral
	}
}

// marketStateAt reads the intrinsic state of one bar. The volatility score is
// bucketed at capture: |score| >= 0.5 reads high or low, in between normal.
// A categorical volatility column passes through unchanged.
func marketStateAt(frame *types.Frame, i int) (types.MarketState, error) {
	state := types.MarketState{}

	if col, ok := frame.Column(ColumnVolatilityRegime); ok {
		v := col[i]
		if math.IsNaN(v) {
			return state, errors.Newf(errors.KindMarketStateMissing, ColumnVolatilityRegime,
				"volatility score is NaN at bar %d", i)
		}

		state.VolatilityRegime = bucketVolatility(v)
	} else if col, ok := frame.LabelColumn(ColumnVolatilityRegime); ok {
		switch types.VolatilityRegime(col[i]) {
		case types.VolatilityLow, types.VolatilityNormal, types.VolatilityHigh:
			state.VolatilityRegime = types.VolatilityRegime(col[i])
		default:
			return state, errors.Newf(errors.KindMarketStateMissing, ColumnVolatilityRegime,
				"unrecognized volatility label %q at bar %d", col[i], i)
		}
	} else {
		return state, errors.New(errors.KindMarketStateMissing, ColumnVolatilityRegime,
			"volatility column absent at capture")
	}

	regime, ok := frame.Column(ColumnTrendRegime)
	if !ok {
		return state, errors.New(errors.KindMarketStateMissing, ColumnTrendRegime, "trend regime absent")
	}

	score, ok := frame.Column(ColumnTrendScore)
	if !ok {
		return state, errors.New(errors.KindMarketStateMissing, ColumnTrendScore, "trend score absent")
	}

	labels, ok := frame.LabelColumn(ColumnTrendLabel)
	if !ok {
		return state, errors.New(errors.KindMarketStateMissing, ColumnTrendLabel, "trend label absent")
	}

	state.TrendRegime = int(regime[i])
	state.TrendScore = int(score[i])
	state.TrendLabel = labels[i]

	return state, nil
}

func bucketVolatility(score float64) types.VolatilityRegime {
	switch {
	case score >= 0.5:
		return types.VolatilityHigh
	case score <= -0.5:
		return types.VolatilityLow
	default:
		return types.VolatilityNormal
	}
}

func barTimes(frame *types.Frame) []time.Time {
	out := make([]time.Time, frame.Len())
	for i := range out {
		out[i] = frame.Bar(i).Time
	}

	return out
}
