package emitter

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/kitealert7-source/tradescan/internal/store"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Presentation-sheet labels. The aggregation layer extracts metrics by exact
// label match, so these strings are part of the artifact contract.
const (
	LabelTradeCount   = "trade_count"
	LabelWinRate      = "win_rate"
	LabelAvgWinUSD    = "avg_win_usd"
	LabelAvgLossUSD   = "avg_loss_usd"
	LabelPayoffRatio  = "payoff_ratio"
	LabelExpectancy   = "expectancy_usd"
	LabelProfitFactor = "profit_factor"
	LabelNetPnlUSD    = "net_pnl_usd"
)

func randomSuffix() string {
	return uuid.NewString()[:8]
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, path, "cannot create artifact", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrap(errors.KindStageFailed, path, "cannot write artifact", err)
	}

	w.Flush()

	return w.Error()
}

// writeStandardCSV renders the presentation sheet: one metric per row.
func writeStandardCSV(path string, m store.SummaryMetrics) error {
	rows := [][]string{
		{"metric", "value"},
		{LabelTradeCount, strconv.Itoa(m.TradeCount)},
		{LabelWinRate, formatFloat(m.WinRate)},
		{LabelAvgWinUSD, formatFloat(m.AvgWinUSD)},
		{LabelAvgLossUSD, formatFloat(m.AvgLossUSD)},
		{LabelPayoffRatio, formatFloat(m.PayoffRatio)},
		{LabelExpectancy, formatFloat(m.Expectancy)},
		{LabelProfitFactor, formatFloat(m.ProfitFactor)},
		{LabelNetPnlUSD, formatFloat(m.NetPnlUSD)},
	}

	return writeCSV(path, rows)
}

// writeRiskCSV renders per-trade risk metrics.
func writeRiskCSV(path string, trades []types.TradeRecord) error {
	rows := [][]string{{
		"sequence_index", "entry_timestamp", "exit_timestamp", "direction",
		"risk_distance", "r_multiple", "mfe_r", "mae_r",
	}}

	for _, t := range trades {
		rows = append(rows, []string{
			strconv.Itoa(t.SequenceIndex),
			timestampISO(t.EntryTime),
			timestampISO(t.ExitTime),
			strconv.Itoa(int(t.Direction)),
			formatFloat(t.RiskDistance),
			formatFloat(t.RMultiple),
			formatFloat(t.MFER),
			formatFloat(t.MAER),
		})
	}

	return writeCSV(path, rows)
}

func writeYearwiseCSV(path string, years []store.YearMetrics) error {
	rows := [][]string{{"year", "trade_count", "win_rate", "net_pnl_usd"}}

	for _, y := range years {
		rows = append(rows, []string{
			strconv.Itoa(y.Year),
			strconv.Itoa(y.TradeCount),
			formatFloat(y.WinRate),
			formatFloat(y.NetPnlUSD),
		})
	}

	return writeCSV(path, rows)
}

// writeGlossaryCSV documents the presentation-sheet metrics for standalone
// artifact consumers.
func writeGlossaryCSV(path string) error {
	rows := [][]string{
		{"metric", "definition"},
		{LabelTradeCount, "number of closed trades in the run"},
		{LabelWinRate, "winning trades divided by total trades"},
		{LabelAvgWinUSD, "mean USD profit of winning trades"},
		{LabelAvgLossUSD, "mean USD loss of losing trades"},
		{LabelPayoffRatio, "average win divided by absolute average loss"},
		{LabelExpectancy, "net USD PnL divided by total trades"},
		{LabelProfitFactor, "gross profit divided by absolute gross loss"},
		{LabelNetPnlUSD, "sum of USD PnL over all trades"},
	}

	return writeCSV(path, rows)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
