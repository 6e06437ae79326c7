// Package fx normalizes quote-currency PnL to USD. Conversion rates come from
// the same market-data loader that feeds the engine, looked up as-of the
// nearest prior close to the trade's exit timestamp.
package fx

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/marketdata"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Converter resolves symbol currencies and converts raw PnL amounts to USD,
// rounded to 2 decimals. Conversion series are loaded lazily and cached per
// cross symbol for the converter's lifetime.
type Converter struct {
	data      marketdata.Service
	broker    string
	timeframe string
	dates     directive.DateRange
	log       *logger.Logger
	cache     map[string][]types.Bar
	missing   map[string]bool
}

// NewConverter creates a converter scoped to one run's broker, timeframe and
// date range.
func NewConverter(data marketdata.Service, broker, timeframe string,
	dates directive.DateRange, log *logger.Logger,
) *Converter {
	return &Converter{
		data:      data,
		broker:    broker,
		timeframe: timeframe,
		dates:     dates,
		log:       log,
		cache:     make(map[string][]types.Bar),
		missing:   make(map[string]bool),
	}
}

// ToUSD converts an amount denominated in the symbol's quote currency to USD.
// The exit price and timestamp anchor the conversion rate.
func (c *Converter) ToUSD(symbol string, amountQuote, exitPrice float64, exitTime time.Time) (float64, error) {
	base, quote, isFX := SplitSymbol(symbol)
	if !isFX {
		return round2(amountQuote), nil
	}

	switch {
	case quote == "USD":
		return round2(amountQuote), nil

	case base == "USD":
		if exitPrice == 0 {
			return 0, errors.Newf(errors.KindMissingConversionData, symbol,
				"zero exit price dividing USD-base PnL")
		}

		return round2(amountQuote / exitPrice), nil

	default:
		rate, direct, err := c.crossRate(quote, exitTime)
		if err != nil {
			return 0, errors.Wrapf(errors.KindMissingConversionData, symbol, err,
				"no %sUSD or USD%s data for cross conversion", quote, quote)
		}

		if direct {
			return round2(amountQuote * rate), nil
		}

		if rate == 0 {
			return 0, errors.Newf(errors.KindMissingConversionData, symbol,
				"zero USD%s rate at %s", quote, exitTime)
		}

		return round2(amountQuote / rate), nil
	}
}

// crossRate finds the conversion rate for one unit of the quote currency in
// USD. The direct pair {quote}USD is preferred; USD{quote} is the fallback
// and the caller divides instead of multiplying.
func (c *Converter) crossRate(quote string, at time.Time) (rate float64, direct bool, err error) {
	if bars, err := c.series(quote + "USD"); err == nil {
		r, err := asOfPriorClose(bars, at)
		if err == nil {
			return r, true, nil
		}
	}

	bars, err := c.series("USD" + quote)
	if err != nil {
		return 0, false, err
	}

	r, err := asOfPriorClose(bars, at)
	if err != nil {
		return 0, false, err
	}

	return r, false, nil
}

func (c *Converter) series(symbol string) ([]types.Bar, error) {
	if bars, ok := c.cache[symbol]; ok {
		return bars, nil
	}

	if c.missing[symbol] {
		return nil, errors.Newf(errors.KindMissingConversionData, symbol,
			"conversion series previously unavailable")
	}

	frame, err := c.data.Load(symbol, c.broker, c.timeframe, c.dates)
	if err != nil {
		c.missing[symbol] = true

		return nil, err
	}

	c.cache[symbol] = frame.Bars()

	return c.cache[symbol], nil
}

// asOfPriorClose returns the close of the latest bar at or before the anchor
// timestamp.
func asOfPriorClose(bars []types.Bar, at time.Time) (float64, error) {
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].Time.After(at) {
			return bars[i].Close, nil
		}
	}

	return 0, errors.Newf(errors.KindMissingConversionData, "fx",
		"no bar at or before %s", at)
}

// SplitSymbol parses a trading symbol into base and quote currencies.
// Six-letter symbols split 3/3; otherwise a USD prefix or suffix is detected.
// Anything else is treated as non-FX.
func SplitSymbol(symbol string) (base, quote string, isFX bool) {
	s := strings.ToUpper(symbol)

	if len(s) == 6 && isAlpha(s) {
		return s[:3], s[3:], true
	}

	if strings.HasSuffix(s, "USD") && len(s) > 3 {
		return strings.TrimSuffix(s, "USD"), "USD", true
	}

	if strings.HasPrefix(s, "USD") && len(s) > 3 {
		return "USD", strings.TrimPrefix(s, "USD"), true
	}

	return "", "", false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}

	return true
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()

	return f
}
