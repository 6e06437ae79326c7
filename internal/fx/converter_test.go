package fx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// fakeData serves fixed frames per symbol and counts loads.
type fakeData struct {
	frames map[string]*types.Frame
	loads  map[string]int
}

func (f *fakeData) Load(symbol, _, _ string, _ directive.DateRange) (*types.Frame, error) {
	f.loads[symbol]++

	frame, ok := f.frames[symbol]
	if !ok {
		return nil, errors.Newf(errors.KindDataMissing, symbol, "no data")
	}

	return frame, nil
}

type ConverterTestSuite struct {
	suite.Suite
	data  *fakeData
	dates directive.DateRange
}

func TestConverterSuite(t *testing.T) {
	suite.Run(t, new(ConverterTestSuite))
}

func (suite *ConverterTestSuite) SetupTest() {
	suite.data = &fakeData{
		frames: make(map[string]*types.Frame),
		loads:  make(map[string]int),
	}
	suite.dates = directive.DateRange{From: "2022-01-01", To: "2022-12-31"}
}

func (suite *ConverterTestSuite) newConverter() *Converter {
	return NewConverter(suite.data, "icmarkets", "H4", suite.dates, logger.NewTestLogger())
}

func (suite *ConverterTestSuite) addSeries(symbol string, closes map[string]float64) {
	var bars []types.Bar

	for stamp, close := range closes {
		t, err := time.Parse("2006-01-02 15:04", stamp)
		suite.Require().NoError(err)
		bars = append(bars, types.Bar{Time: t.UTC(), Close: close, High: close, Low: close, Open: close})
	}

	for i := 0; i < len(bars); i++ {
		for j := i + 1; j < len(bars); j++ {
			if bars[j].Time.Before(bars[i].Time) {
				bars[i], bars[j] = bars[j], bars[i]
			}
		}
	}

	frame, err := types.NewFrame(bars)
	suite.Require().NoError(err)
	suite.data.frames[symbol] = frame
}

func (suite *ConverterTestSuite) exitTime() time.Time {
	return time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *ConverterTestSuite) TestQuoteUSDPassthrough() {
	got, err := suite.newConverter().ToUSD("EURUSD", 123.456, 1.07, suite.exitTime())
	suite.Require().NoError(err)
	suite.Equal(123.46, got)
}

func (suite *ConverterTestSuite) TestBaseUSDDividesByExitPrice() {
	got, err := suite.newConverter().ToUSD("USDJPY", 1350.0, 135.0, suite.exitTime())
	suite.Require().NoError(err)
	suite.Equal(10.0, got)
}

func (suite *ConverterTestSuite) TestBaseUSDZeroExitPrice() {
	_, err := suite.newConverter().ToUSD("USDJPY", 1350.0, 0, suite.exitTime())
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindMissingConversionData))
}

func (suite *ConverterTestSuite) TestCrossPairDirect() {
	// EURGBP PnL is in GBP; the prior GBPUSD close converts it.
	suite.addSeries("GBPUSD", map[string]float64{
		"2022-06-01 08:00": 1.2700,
		"2022-06-01 16:00": 1.5000,
	})

	got, err := suite.newConverter().ToUSD("EURGBP", 100.0, 0.8550, suite.exitTime())
	suite.Require().NoError(err)
	suite.Equal(127.00, got)
}

func (suite *ConverterTestSuite) TestCrossPairInverseFallback() {
	suite.addSeries("USDGBP", map[string]float64{
		"2022-06-01 08:00": 0.7870,
	})

	got, err := suite.newConverter().ToUSD("EURGBP", 100.0, 0.8550, suite.exitTime())
	suite.Require().NoError(err)
	suite.Equal(127.06, got)
}

func (suite *ConverterTestSuite) TestCrossPairNoData() {
	_, err := suite.newConverter().ToUSD("EURGBP", 100.0, 0.8550, suite.exitTime())
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindMissingConversionData))
}

func (suite *ConverterTestSuite) TestNonFXPassthrough() {
	got, err := suite.newConverter().ToUSD("SPX500", 42.424, 4200.0, suite.exitTime())
	suite.Require().NoError(err)
	suite.Equal(42.42, got)
}

func (suite *ConverterTestSuite) TestSeriesCachedAcrossTrades() {
	suite.addSeries("GBPUSD", map[string]float64{
		"2022-06-01 08:00": 1.2700,
	})

	conv := suite.newConverter()

	for i := 0; i < 5; i++ {
		_, err := conv.ToUSD("EURGBP", 100.0, 0.8550, suite.exitTime())
		suite.Require().NoError(err)
	}

	suite.Equal(1, suite.data.loads["GBPUSD"])
}

func (suite *ConverterTestSuite) TestSplitSymbol() {
	base, quote, fx := SplitSymbol("EURGBP")
	suite.True(fx)
	suite.Equal("EUR", base)
	suite.Equal("GBP", quote)

	_, _, fx = SplitSymbol("SPX500")
	suite.False(fx)
}
