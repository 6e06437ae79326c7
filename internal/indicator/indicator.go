// Package indicator holds the pure indicator functions the engine consumes.
// Every function maps an input series to an output series of the same length,
// has no side effects and touches no global state. Values before the warm-up
// window are NaN for numeric outputs and 0 for regime outputs.
package indicator

import (
	"math"
	"sort"
	"strings"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// Registered dotted module paths. Directives declare indicators by these
// names; preflight checks declared names against this set.
var known = map[string]bool{
	"indicators.atr":               true,
	"indicators.ema":               true,
	"indicators.rsi":               true,
	"indicators.linreg_regime":     true,
	"indicators.linreg_htf":        true,
	"indicators.kalman_regime":     true,
	"indicators.trend_persistence": true,
	"indicators.efficiency_ratio":  true,
	"indicators.volatility_regime": true,
	"indicators.donchian_channel":  true,
}

// Normalize converts a declared indicator reference to its canonical dotted
// path: path separators become dots, a legacy source-file suffix is stripped,
// and the library prefix is added when absent.
func Normalize(ref string) string {
	out := strings.ReplaceAll(ref, "/", ".")
	out = strings.TrimSuffix(out, ".py")

	if !strings.HasPrefix(out, "indicators.") {
		out = "indicators." + out
	}

	return out
}

// Exists reports whether a normalized indicator path is part of the library.
func Exists(ref string) bool {
	return known[Normalize(ref)]
}

// Known returns all registered indicator paths, sorted.
func Known() []string {
	out := make([]string, 0, len(known))
	for name := range known {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// ATR computes the Average True Range over the given period using Wilder
// smoothing. The first period-1 values are NaN.
func ATR(bars []types.Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}

	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low

	for i := 1; i < len(bars); i++ {
		highLow := bars[i].High - bars[i].Low
		highClose := math.Abs(bars[i].High - bars[i-1].Close)
		lowClose := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}

	out[period-1] = sum / float64(period)

	for i := period; i < len(bars); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}

	return out
}

// EMA computes an exponential moving average. The first period-1 values are
// NaN; the seed is the simple average of the first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}

	out[period-1] = sum / float64(period)
	alpha := 2.0 / (float64(period) + 1.0)

	for i := period; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}

	return out
}

// RSI computes the Relative Strength Index with Wilder smoothing.
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64

	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs)
}

// RollingMax returns the maximum of the previous window values, excluding the
// current one. Used for breakout channels.
func RollingMax(values []float64, window int) []float64 {
	out := nanSeries(len(values))

	for i := window; i < len(values); i++ {
		m := values[i-window]
		for j := i - window + 1; j < i; j++ {
			if values[j] > m {
				m = values[j]
			}
		}

		out[i] = m
	}

	return out
}

// RollingMin returns the minimum of the previous window values, excluding the
// current one.
func RollingMin(values []float64, window int) []float64 {
	out := nanSeries(len(values))

	for i := window; i < len(values); i++ {
		m := values[i-window]
		for j := i - window + 1; j < i; j++ {
			if values[j] < m {
				m = values[j]
			}
		}

		out[i] = m
	}

	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	return out
}
