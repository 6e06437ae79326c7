package robustness

import (
	"math"
	"sort"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// TailContribution reports how much of the total PnL the best trades carry.
type TailContribution struct {
	Top1Share    float64 `json:"top_1_share"`
	Top5Share    float64 `json:"top_5_share"`
	Top1PctShare float64 `json:"top_1_pct_share"`
	Top5PctShare float64 `json:"top_5_pct_share"`
}

func tailContribution(trades []types.TradeRecord) TailContribution {
	sorted := pnls(trades)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var total float64
	for _, pnl := range sorted {
		total += pnl
	}

	share := func(n int) float64 {
		if total == 0 || n <= 0 {
			return 0
		}

		if n > len(sorted) {
			n = len(sorted)
		}

		var top float64
		for _, pnl := range sorted[:n] {
			top += pnl
		}

		return top / total
	}

	count := len(sorted)

	return TailContribution{
		Top1Share:    share(1),
		Top5Share:    share(5),
		Top1PctShare: share(topCount(count, 0.01)),
		Top5PctShare: share(topCount(count, 0.05)),
	}
}

func topCount(n int, fraction float64) int {
	c := int(math.Ceil(float64(n) * fraction))
	if c < 1 {
		c = 1
	}

	return c
}

// TailRemoval reports the run's CAGR after excluding its top winners.
type TailRemoval struct {
	CutoffPct         float64 `json:"cutoff_pct"`
	RemovedTrades     int     `json:"removed_trades"`
	OriginalCAGR      float64 `json:"original_cagr"`
	ReducedCAGR       float64 `json:"reduced_cagr"`
	DegradationPct    float64 `json:"degradation_pct"`
	TerminalEquityUSD float64 `json:"terminal_equity_usd"`
}

func tailRemoval(trades []types.TradeRecord, initial float64) []TailRemoval {
	from := trades[0].ExitTime
	to := trades[len(trades)-1].ExitTime

	basePath := dollarPath(pnls(trades), initial)
	baseCAGR := cagr(initial, basePath[len(basePath)-1], from, to)

	out := make([]TailRemoval, 0, 2)

	for _, cutoff := range []float64{0.01, 0.05} {
		removed := topCount(len(trades), cutoff)
		kept := excludeTopWinners(trades, removed)

		path := dollarPath(pnls(kept), initial)
		final := path[len(path)-1]
		reduced := cagr(initial, final, from, to)

		degradation := 0.0
		if baseCAGR != 0 {
			degradation = (baseCAGR - reduced) / math.Abs(baseCAGR) * 100
		}

		out = append(out, TailRemoval{
			CutoffPct:         cutoff * 100,
			RemovedTrades:     removed,
			OriginalCAGR:      baseCAGR,
			ReducedCAGR:       reduced,
			DegradationPct:    degradation,
			TerminalEquityUSD: final,
		})
	}

	return out
}

// excludeTopWinners drops the n highest-PnL trades, preserving sequence
// order of the remainder.
func excludeTopWinners(trades []types.TradeRecord, n int) []types.TradeRecord {
	type indexed struct {
		idx int
		pnl float64
	}

	ranked := make([]indexed, len(trades))
	for i, t := range trades {
		ranked[i] = indexed{idx: i, pnl: t.PnlUSD}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].pnl > ranked[j].pnl
	})

	drop := make(map[int]bool, n)
	for _, r := range ranked[:n] {
		drop[r.idx] = true
	}

	out := make([]types.TradeRecord, 0, len(trades)-n)

	for i, t := range trades {
		if !drop[i] {
			out = append(out, t)
		}
	}

	return out
}
