package robustness

import (
	"math/rand"
	"sort"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// MonteCarloResult summarizes the sequence-permutation distribution.
type MonteCarloResult struct {
	Iterations     int     `json:"iterations"`
	Seed           int64   `json:"seed"`
	CAGRMedian     float64 `json:"cagr_median"`
	CAGRP5         float64 `json:"cagr_p5"`
	CAGRP95        float64 `json:"cagr_p95"`
	MaxDDPctMedian float64 `json:"max_dd_pct_median"`
	MaxDDPctP5     float64 `json:"max_dd_pct_p5"`
	MaxDDPctP95    float64 `json:"max_dd_pct_p95"`
}

// tradeReturns converts the PnL sequence into percent-path returns along the
// original ordering: each trade's return is its PnL against the equity the
// path held going into it.
func tradeReturns(trades []types.TradeRecord, initial float64) []float64 {
	out := make([]float64, len(trades))
	equity := initial

	for i, t := range trades {
		if equity <= 0 {
			out[i] = 0

			continue
		}

		out[i] = t.PnlUSD / equity
		equity += t.PnlUSD
	}

	return out
}

// compound applies returns multiplicatively and reports the path.
func compound(initial float64, returns []float64) []float64 {
	path := make([]float64, len(returns)+1)
	path[0] = initial

	for i, r := range returns {
		path[i+1] = path[i] * (1 + r)
	}

	return path
}

// sequenceMonteCarlo permutes the percent-path returns with a fixed seed and
// reports the distribution of CAGR and max drawdown.
func sequenceMonteCarlo(trades []types.TradeRecord, initial float64, cfg Config) MonteCarloResult {
	rng := rand.New(rand.NewSource(cfg.MonteCarloSeed))
	returns := tradeReturns(trades, initial)
	from := trades[0].ExitTime
	to := trades[len(trades)-1].ExitTime

	cagrs := make([]float64, 0, cfg.MonteCarloIterations)
	dds := make([]float64, 0, cfg.MonteCarloIterations)
	perm := make([]float64, len(returns))

	for iter := 0; iter < cfg.MonteCarloIterations; iter++ {
		copy(perm, returns)
		rng.Shuffle(len(perm), func(i, j int) {
			perm[i], perm[j] = perm[j], perm[i]
		})

		path := compound(initial, perm)
		cagrs = append(cagrs, cagr(initial, path[len(path)-1], from, to))
		dds = append(dds, maxDrawdown(path)*100)
	}

	sort.Float64s(cagrs)
	sort.Float64s(dds)

	return MonteCarloResult{
		Iterations:     cfg.MonteCarloIterations,
		Seed:           cfg.MonteCarloSeed,
		CAGRMedian:     percentile(cagrs, 0.50),
		CAGRP5:         percentile(cagrs, 0.05),
		CAGRP95:        percentile(cagrs, 0.95),
		MaxDDPctMedian: percentile(dds, 0.50),
		MaxDDPctP5:     percentile(dds, 0.05),
		MaxDDPctP95:    percentile(dds, 0.95),
	}
}

// ReversePathResult replays the trade sequence backwards. With percent-path
// compounding the terminal equity matches the forward path, which makes this
// a cheap determinism check on the compounding itself.
type ReversePathResult struct {
	FinalEquityUSD float64 `json:"final_equity_usd"`
	CAGR           float64 `json:"cagr"`
	MaxDDPct       float64 `json:"max_dd_pct"`
	MaxLossStreak  int     `json:"max_loss_streak"`
}

func reversePath(trades []types.TradeRecord, initial float64) ReversePathResult {
	returns := tradeReturns(trades, initial)

	reversed := make([]float64, len(returns))
	for i, r := range returns {
		reversed[len(returns)-1-i] = r
	}

	path := compound(initial, reversed)

	reversedPnls := make([]float64, len(trades))
	for i, t := range trades {
		reversedPnls[len(trades)-1-i] = t.PnlUSD
	}

	return ReversePathResult{
		FinalEquityUSD: path[len(path)-1],
		CAGR:           cagr(initial, path[len(path)-1], trades[0].ExitTime, trades[len(trades)-1].ExitTime),
		MaxDDPct:       maxDrawdown(path) * 100,
		MaxLossStreak:  maxLossStreak(reversedPnls),
	}
}

// BootstrapResult summarizes the block-bootstrap distribution.
type BootstrapResult struct {
	Runs              int     `json:"runs"`
	BlockSize         int     `json:"block_size"`
	Seed              int64   `json:"seed"`
	FinalEquityMedian float64 `json:"final_equity_median"`
	FinalEquityP5     float64 `json:"final_equity_p5"`
	FinalEquityP95    float64 `json:"final_equity_p95"`
	CAGRMedian        float64 `json:"cagr_median"`
	CAGRP5            float64 `json:"cagr_p5"`
	CAGRP95           float64 `json:"cagr_p95"`
	MaxDDPctMedian    float64 `json:"max_dd_pct_median"`
	MaxDDPctP5        float64 `json:"max_dd_pct_p5"`
	MaxDDPctP95       float64 `json:"max_dd_pct_p95"`
}

// blockBootstrap resamples the return sequence in contiguous blocks,
// preserving short-range dependence between neighboring trades.
func blockBootstrap(trades []types.TradeRecord, initial float64, cfg Config) BootstrapResult {
	rng := rand.New(rand.NewSource(cfg.BootstrapSeed))
	returns := tradeReturns(trades, initial)
	from := trades[0].ExitTime
	to := trades[len(trades)-1].ExitTime

	n := len(returns)
	block := cfg.BootstrapBlockSize

	if block > n {
		block = n
	}

	finals := make([]float64, 0, cfg.BootstrapRuns)
	cagrs := make([]float64, 0, cfg.BootstrapRuns)
	dds := make([]float64, 0, cfg.BootstrapRuns)

	for run := 0; run < cfg.BootstrapRuns; run++ {
		sample := make([]float64, 0, n+block)

		for len(sample) < n {
			start := rng.Intn(n - block + 1)
			sample = append(sample, returns[start:start+block]...)
		}

		sample = sample[:n]

		path := compound(initial, sample)
		finals = append(finals, path[len(path)-1])
		cagrs = append(cagrs, cagr(initial, path[len(path)-1], from, to))
		dds = append(dds, maxDrawdown(path)*100)
	}

	sort.Float64s(finals)
	sort.Float64s(cagrs)
	sort.Float64s(dds)

	return BootstrapResult{
		Runs:              cfg.BootstrapRuns,
		BlockSize:         block,
		Seed:              cfg.BootstrapSeed,
		FinalEquityMedian: percentile(finals, 0.50),
		FinalEquityP5:     percentile(finals, 0.05),
		FinalEquityP95:    percentile(finals, 0.95),
		CAGRMedian:        percentile(cagrs, 0.50),
		CAGRP5:            percentile(cagrs, 0.05),
		CAGRP95:           percentile(cagrs, 0.95),
		MaxDDPctMedian:    percentile(dds, 0.50),
		MaxDDPctP5:        percentile(dds, 0.05),
		MaxDDPctP95:       percentile(dds, 0.95),
	}
}
