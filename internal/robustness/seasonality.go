package robustness

import (
	"math"
	"sort"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// Seasonality verdicts.
const (
	VerdictSuppressed  = "suppressed"
	VerdictNoPattern   = "no_pattern"
	VerdictWeak        = "weak"
	VerdictSignificant = "significant"
)

// Horizon modes.
const (
	HorizonShort  = "short"
	HorizonMedium = "medium"
	HorizonFull   = "full"
)

// Exposure decisions on flagged buckets.
const (
	DecisionAvoid    = "avoid"
	DecisionThrottle = "throttle_0.5x"
)

// SeasonalityBucket is one calendar bucket's statistics.
type SeasonalityBucket struct {
	Key          string  `json:"key"`
	TradeCount   int     `json:"trade_count"`
	MeanPnlUSD   float64 `json:"mean_pnl_usd"`
	ProfitFactor float64 `json:"profit_factor"`
	Stable       *bool   `json:"stable,omitempty"`
	Decision     string  `json:"decision,omitempty"`
}

// SeasonalityResult is one dimension's seasonality test.
type SeasonalityResult struct {
	Dimension  string              `json:"dimension"`
	Horizon    string              `json:"horizon"`
	Verdict    string              `json:"verdict"`
	Reason     string              `json:"reason,omitempty"`
	H          float64             `json:"h_statistic"`
	PValue     float64             `json:"p_value"`
	EtaSquared float64             `json:"eta_squared"`
	Buckets    []SeasonalityBucket `json:"buckets,omitempty"`
}

type bucketFunc func(t types.TradeRecord) string

func bucketByMonth(t types.TradeRecord) string {
	return t.ExitTime.UTC().Month().String()
}

func bucketByWeekday(t types.TradeRecord) string {
	return t.ExitTime.UTC().Weekday().String()
}

// seasonality runs the horizon-aware bucket test for one calendar dimension.
func seasonality(trades []types.TradeRecord, bucket bucketFunc, minTrades int,
	dimension, timeframe string,
) SeasonalityResult {
	out := SeasonalityResult{Dimension: dimension}

	if dimension == "weekday" && timeframe == "D1" {
		out.Verdict = VerdictSuppressed
		out.Reason = "weekday test requires sub-daily timeframe"

		return out
	}

	if len(trades) < minTrades {
		out.Verdict = VerdictSuppressed
		out.Reason = "insufficient trades for bucket test"

		return out
	}

	years := tradingYears(trades)

	switch {
	case years < 2:
		out.Horizon = HorizonShort
		out.Verdict = VerdictSuppressed
		out.Reason = "trading history under two years"

		return out
	case years <= 5:
		out.Horizon = HorizonMedium
	default:
		out.Horizon = HorizonFull
	}

	groups := groupPnls(trades, bucket)
	if len(groups) < 2 {
		out.Verdict = VerdictSuppressed
		out.Reason = "fewer than two populated buckets"

		return out
	}

	keys := sortedGroupKeys(groups)

	samples := make([][]float64, 0, len(groups))
	for _, k := range keys {
		samples = append(samples, groups[k])
	}

	h, p := kruskalWallis(samples)
	out.H = h
	out.PValue = p
	out.EtaSquared = etaSquared(h, samples)

	switch {
	case p > 0.10:
		out.Verdict = VerdictNoPattern
	case out.EtaSquared < 0.02:
		out.Verdict = VerdictWeak
	default:
		out.Verdict = VerdictSignificant
	}

	out.Buckets = bucketStats(keys, groups)

	if out.Horizon == HorizonFull {
		applyStabilitySplit(&out, trades, bucket)
	}

	if out.Verdict == VerdictSignificant {
		applyExposureDecisions(&out)
	}

	return out
}

func tradingYears(trades []types.TradeRecord) float64 {
	span := trades[len(trades)-1].ExitTime.Sub(trades[0].ExitTime)

	return span.Hours() / 24 / 365.25
}

func groupPnls(trades []types.TradeRecord, bucket bucketFunc) map[string][]float64 {
	out := make(map[string][]float64)

	for _, t := range trades {
		key := bucket(t)
		out[key] = append(out[key], t.PnlUSD)
	}

	return out
}

func sortedGroupKeys(groups map[string][]float64) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func bucketStats(keys []string, groups map[string][]float64) []SeasonalityBucket {
	out := make([]SeasonalityBucket, 0, len(keys))

	for _, k := range keys {
		pnlSeq := groups[k]

		var sum float64
		for _, pnl := range pnlSeq {
			sum += pnl
		}

		out = append(out, SeasonalityBucket{
			Key:          k,
			TradeCount:   len(pnlSeq),
			MeanPnlUSD:   sum / float64(len(pnlSeq)),
			ProfitFactor: profitFactor(pnlSeq),
		})
	}

	return out
}

// applyStabilitySplit splits the history chronologically in half and marks
// each flagged (negative-mean, N >= 20) bucket stable or unstable. An
// unstable flagged bucket downgrades the verdict one step.
func applyStabilitySplit(out *SeasonalityResult, trades []types.TradeRecord, bucket bucketFunc) {
	mid := len(trades) / 2
	firstHalf := groupPnls(trades[:mid], bucket)
	secondHalf := groupPnls(trades[mid:], bucket)

	downgraded := false

	for i := range out.Buckets {
		b := &out.Buckets[i]
		if b.TradeCount < 20 || b.MeanPnlUSD >= 0 {
			continue
		}

		m1 := meanOf(firstHalf[b.Key])
		m2 := meanOf(secondHalf[b.Key])

		stable := sameSign(m1, m2) &&
			math.Min(math.Abs(m1), math.Abs(m2)) >= 0.25*math.Max(math.Abs(m1), math.Abs(m2))
		b.Stable = &stable

		if !stable {
			downgraded = true
		}
	}

	if downgraded {
		switch out.Verdict {
		case VerdictSignificant:
			out.Verdict = VerdictWeak
		case VerdictWeak:
			out.Verdict = VerdictNoPattern
		}
	}
}

// applyExposureDecisions marks flagged buckets with the trade-throttling
// decision. Only significant patterns in Medium or Full horizon reach here.
func applyExposureDecisions(out *SeasonalityResult) {
	for i := range out.Buckets {
		b := &out.Buckets[i]
		if b.TradeCount < 20 || b.MeanPnlUSD >= 0 {
			continue
		}

		switch {
		case b.ProfitFactor < 0.85:
			if out.Horizon == HorizonFull {
				b.Decision = DecisionAvoid
			} else {
				b.Decision = DecisionThrottle
			}
		case b.ProfitFactor < 1.0:
			b.Decision = DecisionThrottle
		}
	}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func sameSign(a, b float64) bool {
	return (a >= 0 && b >= 0) || (a < 0 && b < 0)
}

// kruskalWallis computes the H statistic with tie correction and its
// chi-squared p-value with k-1 degrees of freedom.
func kruskalWallis(samples [][]float64) (h, p float64) {
	type obs struct {
		value float64
		group int
	}

	var all []obs

	for g, sample := range samples {
		for _, v := range sample {
			all = append(all, obs{value: v, group: g})
		}
	}

	n := len(all)
	if n == 0 || len(samples) < 2 {
		return 0, 1
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].value < all[j].value
	})

	// Mid-ranks with tie correction.
	ranks := make([]float64, n)
	tieCorrection := 0.0

	for i := 0; i < n; {
		j := i
		for j < n && all[j].value == all[i].value {
			j++
		}

		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = mid
		}

		ties := float64(j - i)
		tieCorrection += ties*ties*ties - ties
		i = j
	}

	rankSums := make([]float64, len(samples))
	for i, o := range all {
		rankSums[o.group] += ranks[i]
	}

	nf := float64(n)
	h = 0

	for g, sample := range samples {
		ng := float64(len(sample))
		if ng == 0 {
			continue
		}

		h += rankSums[g] * rankSums[g] / ng
	}

	h = 12/(nf*(nf+1))*h - 3*(nf+1)

	if denom := 1 - tieCorrection/(nf*nf*nf-nf); denom > 0 {
		h /= denom
	}

	df := float64(len(samples) - 1)

	return h, chiSquaredSurvival(h, df)
}

// etaSquared is the Kruskal-Wallis effect size (H - k + 1)/(N - k), clipped
// at zero.
func etaSquared(h float64, samples [][]float64) float64 {
	k := float64(len(samples))

	var n float64
	for _, s := range samples {
		n += float64(len(s))
	}

	if n <= k {
		return 0
	}

	eta := (h - k + 1) / (n - k)
	if eta < 0 {
		return 0
	}

	return eta
}

// chiSquaredSurvival is P(X >= x) for a chi-squared variable with df degrees
// of freedom, via the regularized incomplete gamma function.
func chiSquaredSurvival(x, df float64) float64 {
	if x <= 0 {
		return 1
	}

	return 1 - regularizedGammaP(df/2, x/2)
}

// regularizedGammaP implements P(a, x) with the series expansion for
// x < a+1 and the continued fraction otherwise.
func regularizedGammaP(a, x float64) float64 {
	if x < 0 || a <= 0 {
		return 0
	}

	if x == 0 {
		return 0
	}

	if x < a+1 {
		return gammaSeries(a, x)
	}

	return 1 - gammaContinuedFraction(a, x)
}

const (
	gammaMaxIterations = 200
	gammaEpsilon       = 3e-14
)

func gammaSeries(a, x float64) float64 {
	lg, _ := math.Lgamma(a)
	ap := a
	sum := 1.0 / a
	del := sum

	for i := 0; i < gammaMaxIterations; i++ {
		ap++
		del *= x / ap
		sum += del

		if math.Abs(del) < math.Abs(sum)*gammaEpsilon {
			break
		}
	}

	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

func gammaContinuedFraction(a, x float64) float64 {
	lg, _ := math.Lgamma(a)

	const tiny = 1e-300

	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d

	for i := 1; i <= gammaMaxIterations; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2
		d = an*d + b

		if math.Abs(d) < tiny {
			d = tiny
		}

		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}

		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < gammaEpsilon {
			break
		}
	}

	return math.Exp(-x+a*math.Log(x)-lg) * h
}
