package indicator

import (
	"math"
	"time"
)

// Regime functions return one value per input bar in {-1, 0, +1}. A zero
// before the warm-up window means "no opinion", never "flat market".

// LinRegSlopeRegime fits an ordinary least-squares line over a rolling window
// of closes and signs the slope. A slope whose magnitude is below epsilon
// relative to the window mean is neutral.
func LinRegSlopeRegime(closes []float64, window int, epsilon float64) []int {
	out := make([]int, len(closes))
	if window <= 1 {
		return out
	}

	for i := window - 1; i < len(closes); i++ {
		slope, mean := olsSlope(closes[i-window+1 : i+1])
		if mean == 0 {
			continue
		}

		normalized := slope * float64(window) / mean
		switch {
		case normalized > epsilon:
			out[i] = 1
		case normalized < -epsilon:
			out[i] = -1
		}
	}

	return out
}

// LinRegHTFRegime is the higher-timeframe variant: closes are resampled to
// one value per UTC day, the regression runs over dailyWindow days, and the
// result is mapped back onto bars with a one-day lag so a bar never sees its
// own day's close.
func LinRegHTFRegime(times []time.Time, closes []float64, dailyWindow int, epsilon float64) []int {
	out := make([]int, len(closes))
	if len(times) != len(closes) || dailyWindow <= 1 {
		return out
	}

	// Collapse to daily last closes.
	var days []time.Time

	var daily []float64

	for i, t := range times {
		day := t.UTC().Truncate(24 * time.Hour)
		if len(days) > 0 && days[len(days)-1].Equal(day) {
			daily[len(daily)-1] = closes[i]

			continue
		}

		days = append(days, day)
		daily = append(daily, closes[i])
	}

	dailyRegime := LinRegSlopeRegime(daily, dailyWindow, epsilon)

	// Map back with a one-day lag: bar on day d reads the regime of day d-1.
	dayIndex := make(map[time.Time]int, len(days))
	for i, d := range days {
		dayIndex[d] = i
	}

	for i, t := range times {
		day := t.UTC().Truncate(24 * time.Hour)

		idx, ok := dayIndex[day]
		if !ok || idx == 0 {
			continue
		}

		out[i] = dailyRegime[idx-1]
	}

	return out
}

// KalmanRegime runs a scalar constant-velocity Kalman filter over closes and
// signs the filtered velocity estimate.
func KalmanRegime(closes []float64, processNoise, measurementNoise float64) []int {
	out := make([]int, len(closes))
	if len(closes) == 0 {
		return out
	}

	level := closes[0]
	velocity := 0.0
	pLevel := 1.0
	pVelocity := 1.0

	for i := 1; i < len(closes); i++ {
		// Predict.
		predLevel := level + velocity
		pLevel += pVelocity + processNoise
		pVelocity += processNoise

		// Update.
		gainLevel := pLevel / (pLevel + measurementNoise)
		residual := closes[i] - predLevel
		level = predLevel + gainLevel*residual
		gainVelocity := pVelocity / (pLevel + measurementNoise)
		velocity += gainVelocity * residual
		pLevel *= 1 - gainLevel
		pVelocity *= 1 - gainVelocity

		threshold := math.Abs(level) * 1e-5
		switch {
		case velocity > threshold:
			out[i] = 1
		case velocity < -threshold:
			out[i] = -1
		}
	}

	return out
}

// TrendPersistenceRegime counts the sign of bar-to-bar changes over a window;
// a clear majority of one sign marks a persistent trend.
func TrendPersistenceRegime(closes []float64, window int, majority float64) []int {
	out := make([]int, len(closes))
	if window <= 0 {
		return out
	}

	for i := window; i < len(closes); i++ {
		ups, downs := 0, 0

		for j := i - window + 1; j <= i; j++ {
			switch {
			case closes[j] > closes[j-1]:
				ups++
			case closes[j] < closes[j-1]:
				downs++
			}
		}

		need := int(math.Ceil(majority * float64(window)))
		switch {
		case ups >= need:
			out[i] = 1
		case downs >= need:
			out[i] = -1
		}
	}

	return out
}

// EfficiencyRatioRegime computes Kaufman's efficiency ratio (net change over
// path length) and signs it when efficiency exceeds the threshold.
func EfficiencyRatioRegime(closes []float64, window int, threshold float64) []int {
	out := make([]int, len(closes))
	if window <= 0 {
		return out
	}

	for i := window; i < len(closes); i++ {
		net := closes[i] - closes[i-window]

		path := 0.0
		for j := i - window + 1; j <= i; j++ {
			path += math.Abs(closes[j] - closes[j-1])
		}

		if path == 0 {
			continue
		}

		er := net / path
		switch {
		case er > threshold:
			out[i] = 1
		case er < -threshold:
			out[i] = -1
		}
	}

	return out
}

// VolatilityRegimeScore returns a numeric volatility score per bar: the
// z-score sign bucket of ATR against its own rolling mean. Scores at or above
// +0.5 read "high", at or below -0.5 read "low", in between "normal".
func VolatilityRegimeScore(atr []float64, window int) []float64 {
	out := make([]float64, len(atr))

	for i := window; i < len(atr); i++ {
		if math.IsNaN(atr[i]) {
			continue
		}

		sum, count := 0.0, 0

		for j := i - window + 1; j <= i; j++ {
			if !math.IsNaN(atr[j]) {
				sum += atr[j]
				count++
			}
		}

		if count == 0 {
			continue
		}

		mean := sum / float64(count)

		variance := 0.0
		for j := i - window + 1; j <= i; j++ {
			if !math.IsNaN(atr[j]) {
				variance += (atr[j] - mean) * (atr[j] - mean)
			}
		}

		variance /= float64(count)
		if variance == 0 {
			continue
		}

		out[i] = (atr[i] - mean) / math.Sqrt(variance)
	}

	return out
}

func olsSlope(window []float64) (slope, mean float64) {
	n := float64(len(window))

	var sumX, sumY, sumXY, sumXX float64

	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}

	return (n*sumXY - sumX*sumY) / denom, sumY / n
}
