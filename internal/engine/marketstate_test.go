package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/types"
)

type MarketStateTestSuite struct {
	suite.Suite
}

func TestMarketStateSuite(t *testing.T) {
	suite.Run(t, new(MarketStateTestSuite))
}

func (suite *MarketStateTestSuite) trendingFrame(n int, step float64) *types.Frame {
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	price := 100.0

	for i := range bars {
		price += step
		bars[i] = types.Bar{
			Time:  start.Add(time.Duration(i) * 4 * time.Hour),
			Open:  price - step,
			High:  price + 0.2,
			Low:   price - step - 0.2,
			Close: price,
		}
	}

	frame, err := types.NewFrame(bars)
	suite.Require().NoError(err)

	return frame
}

func (suite *MarketStateTestSuite) TestAuthoritativeColumnsAttached() {
	frame := suite.trendingFrame(300, 0.5)
	suite.Require().NoError(ComputeMarketState(frame))

	for _, col := range []string{
		ColumnATR, ColumnVolatilityRegime, ColumnTrendRegime, ColumnTrendScore, ColumnTrendLabel,
	} {
		suite.True(frame.HasColumn(col), col)
	}
}

func (suite *MarketStateTestSuite) TestUptrendScoresPositive() {
	frame := suite.trendingFrame(300, 0.5)
	suite.Require().NoError(ComputeMarketState(frame))

	score, ok := frame.Column(ColumnTrendScore)
	suite.Require().True(ok)

	regime, ok := frame.Column(ColumnTrendRegime)
	suite.Require().True(ok)

	labels, ok := frame.LabelColumn(ColumnTrendLabel)
	suite.Require().True(ok)

	// Deep into a monotone rise every component agrees.
	last := frame.Len() - 1
	suite.GreaterOrEqual(score[last], 3.0)
	suite.Equal(2.0, regime[last])
	suite.Equal(types.TrendLabelStrongUp, labels[last])
}

func (suite *MarketStateTestSuite) TestBucketing() {
	cases := map[int]int{
		5: 2, 3: 2, 2: 1, 1: 1, 0: 0, -1: -1, -2: -1, -3: -2, -5: -2,
	}
	for score, want := range cases {
		suite.Equal(want, bucketTrendScore(score))
	}
}

func (suite *MarketStateTestSuite) TestLegacyColumnAliases() {
	frame := suite.trendingFrame(50, 0.1)

	values := make([]float64, frame.Len())
	for i := range values {
		values[i] = 0.001
	}

	suite.Require().NoError(frame.SetColumn("ATR", values))
	suite.Require().NoError(ComputeMarketState(frame))

	atr, ok := frame.Column(ColumnATR)
	suite.Require().True(ok)
	suite.Equal(0.001, atr[frame.Len()-1])
	suite.False(frame.HasColumn("ATR"))
}

func (suite *MarketStateTestSuite) TestVolatilityBuckets() {
	suite.Equal(types.VolatilityHigh, bucketVolatility(0.5))
	suite.Equal(types.VolatilityHigh, bucketVolatility(2.0))
	suite.Equal(types.VolatilityLow, bucketVolatility(-0.5))
	suite.Equal(types.VolatilityLow, bucketVolatility(-1.7))
	suite.Equal(types.VolatilityNormal, bucketVolatility(0.49))
	suite.Equal(types.VolatilityNormal, bucketVolatility(-0.49))
}
