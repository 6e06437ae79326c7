// Package robustness evaluates a completed run's deployability. Every
// section is a pure function of the canonical artifacts (trade log, daily
// equity curve, summary metrics); all randomness is seeded, so the same
// inputs always produce byte-identical reports.
package robustness

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/kitealert7-source/tradescan/internal/store"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// DailyEquity builds the daily-resampled equity curve from a trade log by
// accumulating realized PnL at each exit date. Trades must be in exit order.
func DailyEquity(trades []types.TradeRecord, initial float64) []EquityPoint {
	if len(trades) == 0 {
		return nil
	}

	equity := initial
	out := []EquityPoint{{Date: tradingDay(trades[0].ExitTime), Equity: equity}}

	for _, t := range trades {
		equity += t.PnlUSD
		d := tradingDay(t.ExitTime)

		if last := &out[len(out)-1]; last.Date.Equal(d) {
			last.Equity = equity

			continue
		}

		out = append(out, EquityPoint{Date: d, Equity: equity})
	}

	return out
}

func tradingDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// EquityPoint is one day of the daily-resampled equity curve.
type EquityPoint struct {
	Date   time.Time `json:"date"`
	Equity float64   `json:"equity"`
}

// Input is the canonical artifact set the engine consumes.
type Input struct {
	Trades         []types.TradeRecord
	DailyEquity    []EquityPoint
	Summary        store.SummaryMetrics
	InitialCapital float64
	Timeframe      string
}

// Config tunes the engine. Zero values take defaults.
type Config struct {
	MonteCarloIterations int
	MonteCarloSeed       int64
	BootstrapRuns        int
	BootstrapBlockSize   int
	BootstrapSeed        int64
	DrawdownEpisodes     int
	// Friction scenario costs, USD per trade.
	SlippageCostUSD    float64
	SpreadBaseCostUSD  float64
	FragilePFThreshold float64
}

func (c Config) normalize() Config {
	if c.MonteCarloIterations <= 0 {
		c.MonteCarloIterations = 500
	}

	if c.MonteCarloSeed == 0 {
		c.MonteCarloSeed = 42
	}

	if c.BootstrapRuns <= 0 {
		c.BootstrapRuns = 100
	}

	if c.BootstrapBlockSize <= 0 {
		c.BootstrapBlockSize = 10
	}

	if c.BootstrapSeed == 0 {
		c.BootstrapSeed = 42
	}

	if c.DrawdownEpisodes <= 0 {
		c.DrawdownEpisodes = 5
	}

	if c.SlippageCostUSD <= 0 {
		c.SlippageCostUSD = 15
	}

	if c.SpreadBaseCostUSD <= 0 {
		c.SpreadBaseCostUSD = 20
	}

	if c.FragilePFThreshold <= 0 {
		c.FragilePFThreshold = 1.25
	}

	return c
}

// Report aggregates every robustness section.
type Report struct {
	Edge              EdgeMetrics         `json:"edge"`
	TailContribution  TailContribution    `json:"tail_contribution"`
	TailRemoval       []TailRemoval       `json:"tail_removal"`
	MonteCarlo        MonteCarloResult    `json:"sequence_monte_carlo"`
	ReversePath       ReversePathResult   `json:"reverse_path"`
	RollingStability  RollingStability    `json:"rolling_stability"`
	DrawdownClusters  []DrawdownEpisode   `json:"drawdown_clusters"`
	Friction          []FrictionScenario  `json:"friction_stress"`
	Directional       DirectionalStress   `json:"directional_stress"`
	SymbolIsolation   []SymbolIsolation   `json:"symbol_isolation"`
	SymbolBreakdown   []SymbolBreakdown   `json:"symbol_breakdown"`
	Bootstrap         BootstrapResult     `json:"block_bootstrap"`
	MonthlySeasonality SeasonalityResult  `json:"monthly_seasonality"`
	WeekdaySeasonality SeasonalityResult  `json:"weekday_seasonality"`
}

// Analyze runs every section over the input.
func Analyze(in Input, cfg Config) (*Report, error) {
	cfg = cfg.normalize()

	if len(in.Trades) == 0 {
		return nil, errors.New(errors.KindValidationFailed, "robustness", "empty trade log")
	}

	if in.InitialCapital <= 0 {
		return nil, errors.New(errors.KindValidationFailed, "robustness",
			"initial capital must be positive")
	}

	trades := make([]types.TradeRecord, len(in.Trades))
	copy(trades, in.Trades)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].ExitTime.Before(trades[j].ExitTime)
	})

	report := &Report{
		Edge:               edgeMetrics(in.Summary, in.DailyEquity),
		TailContribution:   tailContribution(trades),
		TailRemoval:        tailRemoval(trades, in.InitialCapital),
		MonteCarlo:         sequenceMonteCarlo(trades, in.InitialCapital, cfg),
		ReversePath:        reversePath(trades, in.InitialCapital),
		RollingStability:   rollingStability(in.DailyEquity, trades),
		DrawdownClusters:   drawdownClusters(in.DailyEquity, trades, cfg.DrawdownEpisodes),
		Friction:           frictionStress(trades, cfg),
		Directional:        directionalStress(trades, cfg.FragilePFThreshold),
		SymbolIsolation:    symbolIsolation(trades, in.InitialCapital),
		SymbolBreakdown:    symbolBreakdown(trades),
		Bootstrap:          blockBootstrap(trades, in.InitialCapital, cfg),
		MonthlySeasonality: seasonality(trades, bucketByMonth, 300, "monthly", in.Timeframe),
		WeekdaySeasonality: seasonality(trades, bucketByWeekday, 200, "weekday", in.Timeframe),
	}

	return report, nil
}

// MarshalJSON-stable rendering for artifact emission.
func (r *Report) Serialize() ([]byte, error) {
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, "robustness", "cannot render report", err)
	}

	return raw, nil
}

// EdgeMetrics are the headline edge numbers.
type EdgeMetrics struct {
	TradeCount     int     `json:"trade_count"`
	WinRate        float64 `json:"win_rate"`
	AvgWinUSD      float64 `json:"avg_win_usd"`
	AvgLossUSD     float64 `json:"avg_loss_usd"`
	PayoffRatio    float64 `json:"payoff_ratio"`
	Expectancy     float64 `json:"expectancy_usd"`
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	RecoveryFactor float64 `json:"recovery_factor"`
}

func edgeMetrics(summary store.SummaryMetrics, equity []EquityPoint) EdgeMetrics {
	values := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Equity
	}

	dd := maxDrawdown(values)

	m := EdgeMetrics{
		TradeCount:     summary.TradeCount,
		WinRate:        summary.WinRate,
		AvgWinUSD:      summary.AvgWinUSD,
		AvgLossUSD:     summary.AvgLossUSD,
		PayoffRatio:    summary.PayoffRatio,
		Expectancy:     summary.Expectancy,
		ProfitFactor:   summary.ProfitFactor,
		MaxDrawdownPct: dd * 100,
	}

	if len(equity) > 1 && dd > 0 {
		ddUSD := dd * peakEquity(values)
		if ddUSD > 0 {
			m.RecoveryFactor = summary.NetPnlUSD / ddUSD
		}
	}

	return m
}

// maxDrawdown returns the deepest peak-to-trough fraction of an equity path.
func maxDrawdown(equity []float64) float64 {
	var peak, worst float64

	for _, v := range equity {
		if v > peak {
			peak = v
		}

		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}

	return worst
}

func peakEquity(equity []float64) float64 {
	var peak float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
	}

	return peak
}

// dollarPath compounds trade PnLs onto the initial capital, one point per
// trade, starting with the initial capital itself.
func dollarPath(pnls []float64, initial float64) []float64 {
	out := make([]float64, len(pnls)+1)
	out[0] = initial

	for i, pnl := range pnls {
		out[i+1] = out[i] + pnl
	}

	return out
}

// cagr annualizes the growth from initial to final over the given span.
func cagr(initial, final float64, from, to time.Time) float64 {
	if initial <= 0 || final <= 0 {
		return 0
	}

	days := to.Sub(from).Hours() / 24
	if days < 1 {
		return 0
	}

	return math.Pow(final/initial, 365.25/days) - 1
}

func pnls(trades []types.TradeRecord) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.PnlUSD
	}

	return out
}

func maxLossStreak(pnlSeq []float64) int {
	var streak, worst int

	for _, pnl := range pnlSeq {
		if pnl < 0 {
			streak++
			if streak > worst {
				worst = streak
			}
		} else {
			streak = 0
		}
	}

	return worst
}

func profitFactor(pnlSeq []float64) float64 {
	var grossWin, grossLoss float64

	for _, pnl := range pnlSeq {
		if pnl > 0 {
			grossWin += pnl
		} else {
			grossLoss -= pnl
		}
	}

	// No losses: report gross profit so the value stays finite for the
	// JSON rendering.
	if grossLoss == 0 {
		return grossWin
	}

	return grossWin / grossLoss
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}

	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))

	if lo == hi {
		return sorted[lo]
	}

	frac := idx - float64(lo)

	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
