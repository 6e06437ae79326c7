// Package store keeps a run's emitted trades in an in-memory DuckDB table.
// Summary and yearwise metrics are computed in SQL; CSV artifacts are
// exported straight from the table with COPY.
package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// TradeStore holds one run's trade records.
type TradeStore struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// SummaryMetrics are the headline numbers of one run.
type SummaryMetrics struct {
	TradeCount   int
	WinCount     int
	LossCount    int
	WinRate      float64
	AvgWinUSD    float64
	AvgLossUSD   float64
	PayoffRatio  float64
	Expectancy   float64
	ProfitFactor float64
	NetPnlUSD    float64
}

// YearMetrics is the per-calendar-year breakdown keyed by exit year.
type YearMetrics struct {
	Year       int
	TradeCount int
	WinRate    float64
	NetPnlUSD  float64
}

// NewTradeStore opens an in-memory database and creates the trades table.
func NewTradeStore(log *logger.Logger) (*TradeStore, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, "store", "cannot open database", err)
	}

	s := &TradeStore{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := s.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return s, nil
}

func (s *TradeStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			strategy_name TEXT,
			parent_trade_id INTEGER,
			sequence_index INTEGER,
			symbol TEXT,
			entry_timestamp TIMESTAMP,
			exit_timestamp TIMESTAMP,
			direction INTEGER,
			entry_price DOUBLE,
			exit_price DOUBLE,
			bars_held INTEGER,
			pnl_usd DOUBLE,
			trade_high DOUBLE,
			trade_low DOUBLE,
			atr_entry DOUBLE,
			position_units DOUBLE,
			notional_usd DOUBLE,
			mfe_price DOUBLE,
			mae_price DOUBLE,
			initial_stop_price DOUBLE,
			risk_distance DOUBLE,
			mfe_r DOUBLE,
			mae_r DOUBLE,
			r_multiple DOUBLE,
			volatility_regime TEXT,
			trend_regime INTEGER,
			trend_score INTEGER,
			trend_label TEXT
		)
	`)
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, "store", "cannot create trades table", err)
	}

	return nil
}

// Insert appends trade records in order.
func (s *TradeStore) Insert(trades []types.TradeRecord) error {
	for _, t := range trades {
		query := s.sq.
			Insert("trades").
			Columns(
				"strategy_name", "parent_trade_id", "sequence_index", "symbol",
				"entry_timestamp", "exit_timestamp", "direction",
				"entry_price", "exit_price", "bars_held", "pnl_usd",
				"trade_high", "trade_low", "atr_entry",
				"position_units", "notional_usd",
				"mfe_price", "mae_price", "initial_stop_price", "risk_distance",
				"mfe_r", "mae_r", "r_multiple",
				"volatility_regime", "trend_regime", "trend_score", "trend_label",
			).
			Values(
				t.StrategyName, t.ParentTradeID, t.SequenceIndex, t.Symbol,
				t.EntryTime, t.ExitTime, int(t.Direction),
				t.EntryPrice, t.ExitPrice, t.BarsHeld, t.PnlUSD,
				t.TradeHigh, t.TradeLow, t.ATREntry,
				t.PositionUnits, t.NotionalUSD,
				t.MFEPrice, t.MAEPrice, t.InitialStopPrice, t.RiskDistance,
				t.MFER, t.MAER, t.RMultiple,
				string(t.VolatilityRegime), t.TrendRegime, t.TrendScore, t.TrendLabel,
			).
			RunWith(s.db)

		if _, err := query.Exec(); err != nil {
			return errors.Wrap(errors.KindStageFailed, t.Symbol, "cannot insert trade", err)
		}
	}

	s.log.Debug("trades stored", zap.Int("count", len(trades)))

	return nil
}

// Count returns the number of stored trades.
func (s *TradeStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.KindStageFailed, "store", "cannot count trades", err)
	}

	return count, nil
}

// Summary computes the headline metrics over all stored trades. An empty
// table yields a zero-valued summary.
func (s *TradeStore) Summary() (SummaryMetrics, error) {
	var (
		m         SummaryMetrics
		grossWin  sql.NullFloat64
		grossLoss sql.NullFloat64
		avgWin    sql.NullFloat64
		avgLoss   sql.NullFloat64
		net       sql.NullFloat64
	)

	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl_usd > 0),
			COUNT(*) FILTER (WHERE pnl_usd < 0),
			SUM(pnl_usd) FILTER (WHERE pnl_usd > 0),
			SUM(pnl_usd) FILTER (WHERE pnl_usd < 0),
			AVG(pnl_usd) FILTER (WHERE pnl_usd > 0),
			AVG(pnl_usd) FILTER (WHERE pnl_usd < 0),
			SUM(pnl_usd)
		FROM trades
	`)

	if err := row.Scan(&m.TradeCount, &m.WinCount, &m.LossCount,
		&grossWin, &grossLoss, &avgWin, &avgLoss, &net); err != nil {
		return m, errors.Wrap(errors.KindStageFailed, "store", "cannot compute summary", err)
	}

	if m.TradeCount == 0 {
		return m, nil
	}

	m.WinRate = float64(m.WinCount) / float64(m.TradeCount)
	m.AvgWinUSD = avgWin.Float64
	m.AvgLossUSD = avgLoss.Float64
	m.NetPnlUSD = net.Float64
	m.Expectancy = m.NetPnlUSD / float64(m.TradeCount)

	if m.AvgLossUSD != 0 {
		m.PayoffRatio = m.AvgWinUSD / math.Abs(m.AvgLossUSD)
	}

	if grossLoss.Float64 != 0 {
		m.ProfitFactor = grossWin.Float64 / math.Abs(grossLoss.Float64)
	}

	return m, nil
}

// Yearwise breaks the run down by exit year, in ascending year order.
func (s *TradeStore) Yearwise() ([]YearMetrics, error) {
	rows, err := s.db.Query(`
		SELECT
			EXTRACT(year FROM exit_timestamp)::INTEGER AS year,
			COUNT(*),
			COUNT(*) FILTER (WHERE pnl_usd > 0),
			SUM(pnl_usd)
		FROM trades
		GROUP BY year
		ORDER BY year
	`)
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, "store", "cannot compute yearwise metrics", err)
	}
	defer rows.Close()

	var out []YearMetrics

	for rows.Next() {
		var (
			y    YearMetrics
			wins int
			net  sql.NullFloat64
		)

		if err := rows.Scan(&y.Year, &y.TradeCount, &wins, &net); err != nil {
			return nil, errors.Wrap(errors.KindStageFailed, "store", "cannot scan yearwise row", err)
		}

		if y.TradeCount > 0 {
			y.WinRate = float64(wins) / float64(y.TradeCount)
		}

		y.NetPnlUSD = net.Float64
		out = append(out, y)
	}

	return out, rows.Err()
}

// Trades returns all stored records in sequence order.
func (s *TradeStore) Trades() ([]types.TradeRecord, error) {
	rows, err := s.db.Query(`
		SELECT
			strategy_name, parent_trade_id, sequence_index, symbol,
			entry_timestamp, exit_timestamp, direction,
			entry_price, exit_price, bars_held, pnl_usd,
			trade_high, trade_low, atr_entry,
			position_units, notional_usd,
			mfe_price, mae_price, initial_stop_price, risk_distance,
			mfe_r, mae_r, r_multiple,
			volatility_regime, trend_regime, trend_score, trend_label
		FROM trades
		ORDER BY sequence_index
	`)
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, "store", "cannot read trades", err)
	}
	defer rows.Close()

	var out []types.TradeRecord

	for rows.Next() {
		var (
			t         types.TradeRecord
			direction int
			regime    string
		)

		if err := rows.Scan(
			&t.StrategyName, &t.ParentTradeID, &t.SequenceIndex, &t.Symbol,
			&t.EntryTime, &t.ExitTime, &direction,
			&t.EntryPrice, &t.ExitPrice, &t.BarsHeld, &t.PnlUSD,
			&t.TradeHigh, &t.TradeLow, &t.ATREntry,
			&t.PositionUnits, &t.NotionalUSD,
			&t.MFEPrice, &t.MAEPrice, &t.InitialStopPrice, &t.RiskDistance,
			&t.MFER, &t.MAER, &t.RMultiple,
			&regime, &t.TrendRegime, &t.TrendScore, &t.TrendLabel,
		); err != nil {
			return nil, errors.Wrap(errors.KindStageFailed, "store", "cannot scan trade row", err)
		}

		t.Direction = types.Direction(direction)
		t.VolatilityRegime = types.VolatilityRegime(regime)
		out = append(out, t)
	}

	return out, rows.Err()
}

// ExportCSV writes the trade table to path. Squirrel has no COPY support, so
// this is raw SQL like the engine's result writer.
func (s *TradeStore) ExportCSV(path string) error {
	query := fmt.Sprintf(`COPY (SELECT * FROM trades ORDER BY sequence_index) TO '%s' (FORMAT CSV, HEADER)`, path)
	if _, err := s.db.Exec(query); err != nil {
		return errors.Wrap(errors.KindStageFailed, path, "cannot export trades CSV", err)
	}

	return nil
}

// Close releases the database.
func (s *TradeStore) Close() error {
	return s.db.Close()
}
