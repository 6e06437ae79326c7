package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/types"
)

type StoreTestSuite struct {
	suite.Suite
	store *TradeStore
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := NewTradeStore(logger.NewTestLogger())
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *StoreTestSuite) trade(seq int, pnl float64, exit time.Time) types.TradeRecord {
	return types.TradeRecord{
		StrategyName:     "atr_channel_breakout",
		ParentTradeID:    seq,
		SequenceIndex:    seq,
		Symbol:           "EURUSD",
		EntryTime:        exit.Add(-8 * time.Hour),
		ExitTime:         exit,
		Direction:        types.DirectionLong,
		EntryPrice:       1.10,
		ExitPrice:        1.11,
		BarsHeld:         2,
		PnlUSD:           pnl,
		TradeHigh:        1.115,
		TradeLow:         1.095,
		ATREntry:         0.004,
		PositionUnits:    100000,
		NotionalUSD:      110000,
		MFEPrice:         0.015,
		MAEPrice:         0.005,
		InitialStopPrice: 1.09,
		RiskDistance:     0.01,
		MFER:             1.5,
		MAER:             0.5,
		RMultiple:        1.0,
		VolatilityRegime: types.VolatilityNormal,
		TrendRegime:      1,
		TrendScore:       2,
		TrendLabel:       types.TrendLabelWeakUp,
	}
}

func (suite *StoreTestSuite) TestInsertAndReadBack() {
	exit := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Insert([]types.TradeRecord{
		suite.trade(1, 120, exit),
		suite.trade(2, -60, exit.Add(24*time.Hour)),
	}))

	trades, err := suite.store.Trades()
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)
	suite.Equal(1, trades[0].SequenceIndex)
	suite.Equal(120.0, trades[0].PnlUSD)
	suite.Equal(types.DirectionLong, trades[0].Direction)
	suite.Equal(types.VolatilityNormal, trades[0].VolatilityRegime)
	suite.Equal(types.TrendLabelWeakUp, trades[1].TrendLabel)
}

func (suite *StoreTestSuite) TestSummary() {
	exit := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Insert([]types.TradeRecord{
		suite.trade(1, 100, exit),
		suite.trade(2, 300, exit),
		suite.trade(3, -100, exit),
		suite.trade(4, -100, exit),
	}))

	m, err := suite.store.Summary()
	suite.Require().NoError(err)
	suite.Equal(4, m.TradeCount)
	suite.Equal(2, m.WinCount)
	suite.Equal(2, m.LossCount)
	suite.Equal(0.5, m.WinRate)
	suite.Equal(200.0, m.AvgWinUSD)
	suite.Equal(-100.0, m.AvgLossUSD)
	suite.Equal(2.0, m.PayoffRatio)
	suite.Equal(50.0, m.Expectancy)
	suite.Equal(2.0, m.ProfitFactor)
	suite.Equal(200.0, m.NetPnlUSD)
}

func (suite *StoreTestSuite) TestSummaryEmpty() {
	m, err := suite.store.Summary()
	suite.Require().NoError(err)
	suite.Equal(0, m.TradeCount)
	suite.Equal(0.0, m.NetPnlUSD)
}

func (suite *StoreTestSuite) TestYearwise() {
	suite.Require().NoError(suite.store.Insert([]types.TradeRecord{
		suite.trade(1, 100, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)),
		suite.trade(2, -40, time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC)),
		suite.trade(3, 80, time.Date(2022, 2, 1, 0, 0, 0, 0, time.UTC)),
	}))

	years, err := suite.store.Yearwise()
	suite.Require().NoError(err)
	suite.Require().Len(years, 2)
	suite.Equal(2021, years[0].Year)
	suite.Equal(2, years[0].TradeCount)
	suite.Equal(0.5, years[0].WinRate)
	suite.Equal(60.0, years[0].NetPnlUSD)
	suite.Equal(2022, years[1].Year)
	suite.Equal(80.0, years[1].NetPnlUSD)
}

func (suite *StoreTestSuite) TestExportCSV() {
	exit := time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.Require().NoError(suite.store.Insert([]types.TradeRecord{
		suite.trade(1, 120, exit),
	}))

	path := filepath.Join(suite.T().TempDir(), "results_tradelevel.csv")
	suite.Require().NoError(suite.store.ExportCSV(path))

	raw, err := os.ReadFile(path)
	suite.Require().NoError(err)

	content := string(raw)
	suite.True(strings.HasPrefix(content, "strategy_name,"))
	suite.Contains(content, "atr_channel_breakout")
	suite.Contains(content, "EURUSD")
}
