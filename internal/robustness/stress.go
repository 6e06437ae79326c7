package robustness

import (
	"math"
	"sort"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// FrictionScenario reports the edge after a deterministic per-trade cost.
type FrictionScenario struct {
	Name           string  `json:"name"`
	CostPerTrade   float64 `json:"cost_per_trade_usd"`
	NetPnlUSD      float64 `json:"net_pnl_usd"`
	ProfitFactor   float64 `json:"profit_factor"`
	DegradationPct float64 `json:"degradation_pct"`
}

// frictionStress applies the fixed friction scenarios. Costs are flat USD per
// trade so the scenarios stay deterministic across symbols.
func frictionStress(trades []types.TradeRecord, cfg Config) []FrictionScenario {
	scenarios := []struct {
		name string
		cost float64
	}{
		{"baseline", 0},
		{"fixed_slippage", cfg.SlippageCostUSD},
		{"spread_plus_50_pct", cfg.SpreadBaseCostUSD * 0.5},
		{"severe", cfg.SlippageCostUSD + cfg.SpreadBaseCostUSD*0.5},
	}

	base := pnls(trades)

	var baseNet float64
	for _, pnl := range base {
		baseNet += pnl
	}

	out := make([]FrictionScenario, 0, len(scenarios))

	for _, sc := range scenarios {
		adjusted := make([]float64, len(base))

		var net float64

		for i, pnl := range base {
			adjusted[i] = pnl - sc.cost
			net += adjusted[i]
		}

		degradation := 0.0
		if baseNet != 0 {
			degradation = (baseNet - net) / math.Abs(baseNet) * 100
		}

		out = append(out, FrictionScenario{
			Name:           sc.name,
			CostPerTrade:   sc.cost,
			NetPnlUSD:      net,
			ProfitFactor:   profitFactor(adjusted),
			DegradationPct: degradation,
		})
	}

	return out
}

// DirectionalStress recomputes the profit factor with the best directional
// trades removed.
type DirectionalStress struct {
	BaselinePF       float64 `json:"baseline_pf"`
	PFWithoutTopLongs  float64 `json:"pf_without_top_longs"`
	PFWithoutTopShorts float64 `json:"pf_without_top_shorts"`
	PFWithoutBoth    float64 `json:"pf_without_both"`
	FragileThreshold float64 `json:"fragile_threshold"`
	Fragile          bool    `json:"fragile"`
}

const directionalTopN = 20

func directionalStress(trades []types.TradeRecord, threshold float64) DirectionalStress {
	out := DirectionalStress{
		BaselinePF:       profitFactor(pnls(trades)),
		FragileThreshold: threshold,
	}

	longs := topDirectional(trades, types.DirectionLong, directionalTopN)
	shorts := topDirectional(trades, types.DirectionShort, directionalTopN)

	out.PFWithoutTopLongs = profitFactor(pnlsExcluding(trades, longs))
	out.PFWithoutTopShorts = profitFactor(pnlsExcluding(trades, shorts))

	both := make(map[int]bool, len(longs)+len(shorts))
	for idx := range longs {
		both[idx] = true
	}

	for idx := range shorts {
		both[idx] = true
	}

	out.PFWithoutBoth = profitFactor(pnlsExcluding(trades, both))

	out.Fragile = out.PFWithoutTopLongs < threshold ||
		out.PFWithoutTopShorts < threshold ||
		out.PFWithoutBoth < threshold

	return out
}

// topDirectional returns the indices of the n most profitable trades of one
// direction.
func topDirectional(trades []types.TradeRecord, direction types.Direction, n int) map[int]bool {
	type indexed struct {
		idx int
		pnl float64
	}

	var ranked []indexed

	for i, t := range trades {
		if t.Direction == direction {
			ranked = append(ranked, indexed{idx: i, pnl: t.PnlUSD})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].pnl > ranked[j].pnl
	})

	if len(ranked) > n {
		ranked = ranked[:n]
	}

	out := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		out[r.idx] = true
	}

	return out
}

func pnlsExcluding(trades []types.TradeRecord, drop map[int]bool) []float64 {
	out := make([]float64, 0, len(trades))

	for i, t := range trades {
		if !drop[i] {
			out = append(out, t.PnlUSD)
		}
	}

	return out
}

// SymbolIsolation reports the portfolio after removing one symbol entirely.
type SymbolIsolation struct {
	Symbol            string  `json:"symbol"`
	RemainingCAGR     float64 `json:"remaining_cagr"`
	RemainingMaxDDPct float64 `json:"remaining_max_dd_pct"`
}

func symbolIsolation(trades []types.TradeRecord, initial float64) []SymbolIsolation {
	symbols := distinctSymbols(trades)
	if len(symbols) < 2 {
		return nil
	}

	out := make([]SymbolIsolation, 0, len(symbols))

	for _, symbol := range symbols {
		var remainder []types.TradeRecord

		for _, t := range trades {
			if t.Symbol != symbol {
				remainder = append(remainder, t)
			}
		}

		iso := SymbolIsolation{Symbol: symbol}

		if len(remainder) > 0 {
			path := dollarPath(pnls(remainder), initial)
			iso.RemainingCAGR = cagr(initial, path[len(path)-1],
				remainder[0].ExitTime, remainder[len(remainder)-1].ExitTime)
			iso.RemainingMaxDDPct = maxDrawdown(path) * 100
		}

		out = append(out, iso)
	}

	return out
}

// SymbolBreakdown is the per-symbol contribution table.
type SymbolBreakdown struct {
	Symbol          string  `json:"symbol"`
	TradeCount      int     `json:"trade_count"`
	WinRate         float64 `json:"win_rate"`
	NetPnlUSD       float64 `json:"net_pnl_usd"`
	ContributionPct float64 `json:"contribution_pct"`
}

func symbolBreakdown(trades []types.TradeRecord) []SymbolBreakdown {
	var total float64
	for _, t := range trades {
		total += t.PnlUSD
	}

	out := make([]SymbolBreakdown, 0)

	for _, symbol := range distinctSymbols(trades) {
		b := SymbolBreakdown{Symbol: symbol}

		wins := 0

		for _, t := range trades {
			if t.Symbol != symbol {
				continue
			}

			b.TradeCount++
			b.NetPnlUSD += t.PnlUSD

			if t.PnlUSD > 0 {
				wins++
			}
		}

		if b.TradeCount > 0 {
			b.WinRate = float64(wins) / float64(b.TradeCount)
		}

		if total != 0 {
			b.ContributionPct = b.NetPnlUSD / total * 100
		}

		out = append(out, b)
	}

	return out
}

func distinctSymbols(trades []types.TradeRecord) []string {
	seen := make(map[string]bool)

	for _, t := range trades {
		seen[t.Symbol] = true
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}

	sort.Strings(out)

	return out
}
