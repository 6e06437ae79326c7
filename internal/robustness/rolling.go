package robustness

import (
	"sort"
	"time"

	"github.com/kitealert7-source/tradescan/internal/types"
)

// RollingWindow is one 365-day slice of the equity curve.
type RollingWindow struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	CAGR       float64   `json:"cagr"`
	MaxDDPct   float64   `json:"max_dd_pct"`
	WinRate    float64   `json:"win_rate"`
	TradeCount int       `json:"trade_count"`
}

// RollingStability classifies the rolling-window behavior of the run.
type RollingStability struct {
	Windows            []RollingWindow `json:"windows"`
	NegativeWindows    int             `json:"negative_windows"`
	WindowsBelowMinus10 int            `json:"windows_below_minus_10_pct"`
	WindowsDDOver15    int             `json:"windows_dd_over_15_pct"`
	WindowsDDOver20    int             `json:"windows_dd_over_20_pct"`
	WorstReturn        float64         `json:"worst_return"`
	MeanReturn         float64         `json:"mean_return"`
	WorstDDPct         float64         `json:"worst_dd_pct"`
	MeanDDPct          float64         `json:"mean_dd_pct"`
	NegativesClustered bool            `json:"negatives_clustered"`
}

const (
	rollingWindowDays = 365
	rollingStepDays   = 30
)

func rollingStability(equity []EquityPoint, trades []types.TradeRecord) RollingStability {
	var out RollingStability

	if len(equity) < 2 {
		return out
	}

	first := equity[0].Date
	last := equity[len(equity)-1].Date

	for start := first; !start.Add(rollingWindowDays * 24 * time.Hour).After(last.Add(24 * time.Hour)); start = start.AddDate(0, 0, rollingStepDays) {
		end := start.Add(rollingWindowDays * 24 * time.Hour)

		window := sliceEquity(equity, start, end)
		if len(window) < 2 {
			continue
		}

		values := make([]float64, len(window))
		for i, p := range window {
			values[i] = p.Equity
		}

		wins, count := 0, 0

		for _, t := range trades {
			if t.ExitTime.Before(start) || !t.ExitTime.Before(end) {
				continue
			}

			count++
			if t.PnlUSD > 0 {
				wins++
			}
		}

		w := RollingWindow{
			Start:      start,
			End:        end,
			CAGR:       cagr(values[0], values[len(values)-1], window[0].Date, window[len(window)-1].Date),
			MaxDDPct:   maxDrawdown(values) * 100,
			TradeCount: count,
		}
		if count > 0 {
			w.WinRate = float64(wins) / float64(count)
		}

		out.Windows = append(out.Windows, w)
	}

	if len(out.Windows) == 0 {
		return out
	}

	var (
		sumReturn, sumDD float64
		negStreak        int
	)

	out.WorstReturn = out.Windows[0].CAGR
	out.WorstDDPct = out.Windows[0].MaxDDPct

	for _, w := range out.Windows {
		sumReturn += w.CAGR
		sumDD += w.MaxDDPct

		if w.CAGR < out.WorstReturn {
			out.WorstReturn = w.CAGR
		}

		if w.MaxDDPct > out.WorstDDPct {
			out.WorstDDPct = w.MaxDDPct
		}

		if w.CAGR < 0 {
			out.NegativeWindows++
			negStreak++

			if negStreak >= 2 {
				out.NegativesClustered = true
			}
		} else {
			negStreak = 0
		}

		if w.CAGR < -0.10 {
			out.WindowsBelowMinus10++
		}

		if w.MaxDDPct > 15 {
			out.WindowsDDOver15++
		}

		if w.MaxDDPct > 20 {
			out.WindowsDDOver20++
		}
	}

	out.MeanReturn = sumReturn / float64(len(out.Windows))
	out.MeanDDPct = sumDD / float64(len(out.Windows))

	return out
}

func sliceEquity(equity []EquityPoint, start, end time.Time) []EquityPoint {
	var out []EquityPoint

	for _, p := range equity {
		if p.Date.Before(start) || !p.Date.Before(end) {
			continue
		}

		out = append(out, p)
	}

	return out
}

// DrawdownEpisode is one peak-to-recovery drawdown, cross-referenced with the
// trades active during it.
type DrawdownEpisode struct {
	Start             time.Time  `json:"start"`
	Trough            time.Time  `json:"trough"`
	Recovery          *time.Time `json:"recovery"`
	DurationDays      int        `json:"duration_days"`
	MaxDDPct          float64    `json:"max_dd_pct"`
	OpenTrades        int        `json:"open_trades"`
	LongShare         float64    `json:"long_share"`
	ShortShare        float64    `json:"short_share"`
	TopSymbols        []string   `json:"top_symbols"`
	ClosedInPlunge    int        `json:"closed_in_plunge"`
	PlungeWinRate     float64    `json:"plunge_win_rate"`
	PlungeAvgPnlUSD   float64    `json:"plunge_avg_pnl_usd"`
	PlungeLossStreak  int        `json:"plunge_loss_streak"`
}

// drawdownClusters finds the deepest drawdown episodes in the daily equity
// curve and cross-references the trade log.
func drawdownClusters(equity []EquityPoint, trades []types.TradeRecord, topN int) []DrawdownEpisode {
	episodes := findEpisodes(equity)

	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].MaxDDPct > episodes[j].MaxDDPct
	})

	if len(episodes) > topN {
		episodes = episodes[:topN]
	}

	for i := range episodes {
		crossReference(&episodes[i], trades)
	}

	return episodes
}

func findEpisodes(equity []EquityPoint) []DrawdownEpisode {
	var episodes []DrawdownEpisode

	if len(equity) == 0 {
		return episodes
	}

	peakIdx := 0
	troughIdx := 0
	inDrawdown := false

	for i := 1; i < len(equity); i++ {
		v := equity[i].Equity
		peak := equity[peakIdx].Equity

		if v >= peak {
			if inDrawdown {
				recovery := equity[i].Date
				episodes = append(episodes, buildEpisode(equity, peakIdx, troughIdx, &recovery, i))
				inDrawdown = false
			}

			peakIdx = i
			troughIdx = i

			continue
		}

		inDrawdown = true
		if v < equity[troughIdx].Equity {
			troughIdx = i
		}
	}

	if inDrawdown {
		episodes = append(episodes, buildEpisode(equity, peakIdx, troughIdx, nil, len(equity)-1))
	}

	return episodes
}

func buildEpisode(equity []EquityPoint, peakIdx, troughIdx int, recovery *time.Time, endIdx int) DrawdownEpisode {
	peak := equity[peakIdx].Equity
	trough := equity[troughIdx].Equity

	dd := 0.0
	if peak > 0 {
		dd = (peak - trough) / peak * 100
	}

	return DrawdownEpisode{
		Start:        equity[peakIdx].Date,
		Trough:       equity[troughIdx].Date,
		Recovery:     recovery,
		DurationDays: int(equity[endIdx].Date.Sub(equity[peakIdx].Date).Hours() / 24),
		MaxDDPct:     dd,
	}
}

func crossReference(ep *DrawdownEpisode, trades []types.TradeRecord) {
	end := ep.Trough
	if ep.Recovery != nil {
		end = *ep.Recovery
	}

	var (
		longs, shorts int
		symbols       = make(map[string]int)
		plungePnls    []float64
	)

	for _, t := range trades {
		if t.EntryTime.After(end) || t.ExitTime.Before(ep.Start) {
			continue
		}

		ep.OpenTrades++
		symbols[t.Symbol]++

		if t.Direction == types.DirectionLong {
			longs++
		} else {
			shorts++
		}

		if !t.ExitTime.Before(ep.Start) && !t.ExitTime.After(ep.Trough) {
			plungePnls = append(plungePnls, t.PnlUSD)
		}
	}

	if ep.OpenTrades > 0 {
		ep.LongShare = float64(longs) / float64(ep.OpenTrades)
		ep.ShortShare = float64(shorts) / float64(ep.OpenTrades)
	}

	ep.TopSymbols = topSymbols(symbols, 2)
	ep.ClosedInPlunge = len(plungePnls)

	if len(plungePnls) > 0 {
		wins := 0

		var sum float64

		for _, pnl := range plungePnls {
			sum += pnl
			if pnl > 0 {
				wins++
			}
		}

		ep.PlungeWinRate = float64(wins) / float64(len(plungePnls))
		ep.PlungeAvgPnlUSD = sum / float64(len(plungePnls))
		ep.PlungeLossStreak = maxLossStreak(plungePnls)
	}
}

func topSymbols(counts map[string]int, n int) []string {
	type entry struct {
		symbol string
		count  int
	}

	entries := make([]entry, 0, len(counts))
	for s, c := range counts {
		entries = append(entries, entry{symbol: s, count: c})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}

		return entries[i].symbol < entries[j].symbol
	})

	if len(entries) > n {
		entries = entries[:n]
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.symbol
	}

	return out
}
