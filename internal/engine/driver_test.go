package engine

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/broker"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// passthroughConverter treats every symbol as USD-quoted.
type passthroughConverter struct{}

func (passthroughConverter) ToUSD(_ string, amount, _ float64, _ time.Time) (float64, error) {
	return amount, nil
}

type DriverTestSuite struct {
	suite.Suite
	driver *Driver
	spec   *broker.Spec
}

func TestDriverSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}

func (suite *DriverTestSuite) SetupTest() {
	suite.driver = NewDriver(Config{}, logger.NewTestLogger())
	suite.spec = &broker.Spec{
		Symbol:       "EURUSD",
		ContractSize: 100000,
		MinLot:       0.01,
		Calibration:  broker.Calibration{USDPnlPerPriceUnit0p01: 1000},
	}
}

// constantFrame builds n identical bars 4 hours apart.
func (suite *DriverTestSuite) constantFrame(n int, close float64) *types.Frame {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)

	for i := range bars {
		bars[i] = types.Bar{
			Time:   start.Add(time.Duration(i) * 4 * time.Hour),
			Open:   close,
			High:   close + 0.5,
			Low:    close - 0.5,
			Close:  close,
			Volume: 100,
		}
	}

	frame, err := types.NewFrame(bars)
	suite.Require().NoError(err)

	return frame
}

func (suite *DriverTestSuite) TestForcedLongAndShort() {
	frame := suite.constantFrame(20, 100)
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionLong, StopPrice: optional.Some(99.0)},
		{EntryIndex: 10, ExitIndex: 15, Direction: types.DirectionShort, StopPrice: optional.Some(101.0)},
	})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)

	long := trades[0]
	suite.Equal(types.DirectionLong, long.Direction)
	suite.Equal(4, long.BarsHeld)
	suite.Equal(frame.Bar(1).Time, long.EntryTime)
	suite.Equal(frame.Bar(5).Time, long.ExitTime)
	suite.Equal(100.0, long.EntryPrice)
	suite.Equal(100.0, long.ExitPrice)
	suite.Equal(99.0, long.InitialStopPrice)
	suite.Equal(1.0, long.RiskDistance)
	suite.Equal(0.0, long.PnlUSD)
	suite.Equal(100.5, long.TradeHigh)
	suite.Equal(99.5, long.TradeLow)
	suite.Equal(0.5, long.MFEPrice)
	suite.Equal(0.5, long.MAEPrice)
	suite.Equal(1, long.ParentTradeID)

	short := trades[1]
	suite.Equal(types.DirectionShort, short.Direction)
	suite.Equal(5, short.BarsHeld)
	suite.Equal(101.0, short.InitialStopPrice)
	suite.Equal(2, short.SequenceIndex)
}

func (suite *DriverTestSuite) TestSinglePositionNeverOverlaps() {
	frame := suite.constantFrame(20, 100)

	// The second entry request lands while the first trade is still open.
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 10, Direction: types.DirectionLong, StopPrice: optional.Some(99.0)},
		{EntryIndex: 5, ExitIndex: 7, Direction: types.DirectionShort, StopPrice: optional.Some(101.0)},
	})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)
	suite.Equal(types.DirectionLong, trades[0].Direction)
	suite.Equal(9, trades[0].BarsHeld)
}

func (suite *DriverTestSuite) TestStopContractViolation() {
	frame := suite.constantFrame(20, 100)

	// A long stop above entry breaks the directional stop contract.
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionLong, StopPrice: optional.Some(101.0)},
	})

	_, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindStopContractViolation))
}

func (suite *DriverTestSuite) TestATRFallbackStop() {
	frame := suite.constantFrame(40, 100)
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 20, ExitIndex: 25, Direction: types.DirectionLong},
	})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	// Constant bars give a true range of exactly 1.0, so Wilder ATR is 1.0
	// and the default 2x multiplier puts the stop 2.0 below entry.
	suite.InDelta(98.0, trades[0].InitialStopPrice, 1e-9)
	suite.InDelta(2.0, trades[0].RiskDistance, 1e-9)
	suite.InDelta(1.0, trades[0].ATREntry, 1e-9)
}

func (suite *DriverTestSuite) TestDirectionalFilterBlocksEntry() {
	frame := suite.constantFrame(20, 100)
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionShort, StopPrice: optional.Some(101.0)},
	}).WithFilter(longOnlyFilter{})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Empty(trades)
}

func (suite *DriverTestSuite) TestMarketStateCapturedAtEntry() {
	frame := suite.constantFrame(20, 100)
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionLong, StopPrice: optional.Some(99.0)},
	})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	// Constant closes carry no trend and no volatility signal.
	suite.Equal(types.VolatilityNormal, trades[0].VolatilityRegime)
	suite.Equal(0, trades[0].TrendScore)
	suite.Equal(0, trades[0].TrendRegime)
	suite.Equal(types.TrendLabelNeutral, trades[0].TrendLabel)
}

func (suite *DriverTestSuite) TestPositionSizing() {
	frame := suite.constantFrame(20, 100)
	strat := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionLong, StopPrice: optional.Some(99.0)},
	})

	trades, err := suite.driver.Run("EURUSD", frame, strat, suite.spec, passthroughConverter{})
	suite.Require().NoError(err)
	suite.Require().Len(trades, 1)

	// Default 1 lot at contract size 100000 and multiplier 1.
	suite.Equal(100000.0, trades[0].PositionUnits)
	suite.Equal(100000.0*100.0, trades[0].NotionalUSD)
}

type longOnlyFilter struct{}

func (longOnlyFilter) AllowDirection(direction types.Direction) bool {
	return direction == types.DirectionLong
}
