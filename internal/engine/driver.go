package engine

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/broker"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Converter normalizes quote-currency amounts to USD. The exit bar's price
// and timestamp anchor the conversion rate.
type Converter interface {
	ToUSD(symbol string, amountQuote, exitPrice float64, exitTime time.Time) (float64, error)
}

// Driver walks one frame for one strategy and emits trade records. It holds
// no per-run state; every Run call is independent.
type Driver struct {
	cfg Config
	log *logger.Logger
}

// NewDriver creates a driver with normalized config.
func NewDriver(cfg Config, log *logger.Logger) *Driver {
	return &Driver{cfg: cfg.Normalize(), log: log}
}

// openPosition is the in-flight trade state between entry and exit.
type openPosition struct {
	entryIndex   int
	entryPrice   float64
	direction    types.Direction
	stopPrice    float64
	riskDistance float64
	lots         float64
	units        float64
	state        types.MarketState
	tradeHigh    float64
	tradeLow     float64
}

// Run executes the single-position bar walk. The frame must already hold the
// strategy's indicator columns and the intrinsic market state; Run prepares
// both before walking. The returned records are in entry order.
func (d *Driver) Run(symbol string, frame *types.Frame, strat strategy.Strategy,
	spec *broker.Spec, converter Converter,
) ([]types.TradeRecord, error) {
	if err := strat.PrepareIndicators(frame); err != nil {
		return nil, err
	}

	if err := ComputeMarketState(frame); err != nil {
		return nil, err
	}

	var filter strategy.Filter
	if filtered, ok := strat.(strategy.Filtered); ok {
		filter = filtered.FilterStack()
	}

	ctx := &walkContext{frame: frame}

	var (
		position *openPosition
		trades   []types.TradeRecord
	)

	for i := 0; i < frame.Len(); i++ {
		ctx.index = i

		if position == nil {
			ctx.direction = 0

			signal, err := strat.CheckEntry(ctx)
			if err != nil {
				return nil, err
			}

			if signal == nil {
				continue
			}

			if filter != nil && !filter.AllowDirection(signal.Direction) {
				continue
			}

			opened, err := d.open(symbol, frame, ctx, signal, spec, i)
			if err != nil {
				return nil, err
			}

			position = opened
			ctx.direction = position.direction
			ctx.entryIndex = position.entryIndex
			ctx.state = position.state

			continue
		}

		bar := frame.Bar(i)
		position.tradeHigh = math.Max(position.tradeHigh, bar.High)
		position.tradeLow = math.Min(position.tradeLow, bar.Low)

		exit, err := strat.CheckExit(ctx)
		if err != nil {
			return nil, err
		}

		if !exit {
			continue
		}

		record, err := d.close(symbol, strat.Name(), frame, position, i, len(trades)+1, converter)
		if err != nil {
			return nil, err
		}

		trades = append(trades, record)
		position = nil
	}

	d.log.Info("bar walk complete",
		zap.String("symbol", symbol),
		zap.String("strategy", strat.Name()),
		zap.Int("bars", frame.Len()),
		zap.Int("trades", len(trades)))

	return trades, nil
}

func (d *Driver) open(symbol string, frame *types.Frame, ctx *walkContext,
	signal *strategy.EntrySignal, spec *broker.Spec, i int,
) (*openPosition, error) {
	if signal.Direction != types.DirectionLong && signal.Direction != types.DirectionShort {
		return nil, errors.Newf(errors.KindStopContractViolation, symbol,
			"entry signal carries direction %d at bar %d", signal.Direction, i)
	}

	bar := frame.Bar(i)
	entryPrice := bar.Close

	state, err := marketStateAt(frame, i)
	if err != nil {
		return nil, err
	}

	stop, err := d.captureStop(symbol, ctx, signal, entryPrice, i)
	if err != nil {
		return nil, err
	}

	riskDistance := math.Abs(entryPrice - stop)
	if riskDistance <= 0 {
		return nil, errors.Newf(errors.KindStopContractViolation, symbol,
			"zero risk distance at bar %d (entry %f, stop %f)", i, entryPrice, stop)
	}

	lots, err := lotsFor(d.cfg, spec, riskDistance)
	if err != nil {
		return nil, err
	}

	return &openPosition{
		entryIndex:   i,
		entryPrice:   entryPrice,
		direction:    signal.Direction,
		stopPrice:    stop,
		riskDistance: riskDistance,
		lots:         lots,
		units:        lots * spec.ContractSize * d.cfg.SizeMultiplier,
		state:        state,
		tradeHigh:    bar.High,
		tradeLow:     bar.Low,
	}, nil
}

// captureStop resolves the initial stop: the signal's explicit price when
// present, otherwise the ATR fallback. The directional stop contract is
// enforced either way.
func (d *Driver) captureStop(symbol string, ctx *walkContext,
	signal *strategy.EntrySignal, entryPrice float64, i int,
) (float64, error) {
	var stop float64

	if signal.StopPrice.IsSome() {
		stop = signal.StopPrice.Unwrap()
	} else {
		atr, err := ctx.Require(ColumnATR)
		if err != nil {
			return 0, err
		}

		if atr <= 0 {
			return 0, errors.Newf(errors.KindStopContractViolation, symbol,
				"ATR fallback stop needs positive ATR, got %f at bar %d", atr, i)
		}

		if signal.Direction == types.DirectionLong {
			stop = entryPrice - d.cfg.ATRStopMultiplier*atr
		} else {
			stop = entryPrice + d.cfg.ATRStopMultiplier*atr
		}
	}

	if signal.Direction == types.DirectionLong && stop >= entryPrice {
		return 0, errors.Newf(errors.KindStopContractViolation, symbol,
			"long stop %f not below entry %f at bar %d", stop, entryPrice, i)
	}

	if signal.Direction == types.DirectionShort && stop <= entryPrice {
		return 0, errors.Newf(errors.KindStopContractViolation, symbol,
			"short stop %f not above entry %f at bar %d", stop, entryPrice, i)
	}

	return stop, nil
}

func (d *Driver) close(symbol, strategyName string, frame *types.Frame,
	position *openPosition, exitIndex, ordinal int, converter Converter,
) (types.TradeRecord, error) {
	exitBar := frame.Bar(exitIndex)
	exitPrice := exitBar.Close

	direction := float64(position.direction)
	rawPnl := (exitPrice - position.entryPrice) * direction * position.units

	pnlUSD, err := converter.ToUSD(symbol, rawPnl, exitPrice, exitBar.Time)
	if err != nil {
		return types.TradeRecord{}, err
	}

	// Cross-pair notional uses the exit-timestamp rate anchor.
	notionalUSD, err := converter.ToUSD(symbol, position.units*position.entryPrice, exitPrice, exitBar.Time)
	if err != nil {
		return types.TradeRecord{}, err
	}

	var mfe, mae float64
	if position.direction == types.DirectionLong {
		mfe = math.Max(position.tradeHigh-position.entryPrice, 0)
		mae = math.Max(position.entryPrice-position.tradeLow, 0)
	} else {
		mfe = math.Max(position.entryPrice-position.tradeLow, 0)
		mae = math.Max(position.tradeHigh-position.entryPrice, 0)
	}

	atrEntry := 0.0
	if col, ok := frame.Column(ColumnATR); ok && !math.IsNaN(col[position.entryIndex]) {
		atrEntry = col[position.entryIndex]
	}

	record := types.TradeRecord{
		StrategyName:     strategyName,
		ParentTradeID:    ordinal,
		SequenceIndex:    ordinal,
		Symbol:           symbol,
		EntryTime:        frame.Bar(position.entryIndex).Time,
		ExitTime:         exitBar.Time,
		Direction:        position.direction,
		EntryPrice:       position.entryPrice,
		ExitPrice:        exitPrice,
		BarsHeld:         exitIndex - position.entryIndex,
		PnlUSD:           pnlUSD,
		TradeHigh:        position.tradeHigh,
		TradeLow:         position.tradeLow,
		ATREntry:         atrEntry,
		PositionUnits:    position.units,
		NotionalUSD:      notionalUSD,
		MFEPrice:         mfe,
		MAEPrice:         mae,
		InitialStopPrice: position.stopPrice,
		RiskDistance:     position.riskDistance,
		MFER:             mfe / position.riskDistance,
		MAER:             mae / position.riskDistance,
		RMultiple:        (exitPrice - position.entryPrice) * direction / position.riskDistance,
		VolatilityRegime: position.state.VolatilityRegime,
		TrendRegime:      position.state.TrendRegime,
		TrendScore:       position.state.TrendScore,
		TrendLabel:       position.state.TrendLabel,
	}

	if violations := record.Validate(); len(violations) != 0 {
		return types.TradeRecord{}, errors.Newf(errors.KindValidationFailed, symbol,
			"trade record violates contract: %v", violations)
	}

	return record, nil
}
