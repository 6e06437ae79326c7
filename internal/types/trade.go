package types

import "time"

// Direction of a position. Zero is never persisted: a flat engine emits no
// trade record.
type Direction int

const (
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

// VolatilityRegime is the categorical volatility state captured at entry.
type VolatilityRegime string

const (
	VolatilityLow    VolatilityRegime = "low"
	VolatilityNormal VolatilityRegime = "normal"
	VolatilityHigh   VolatilityRegime = "high"
)

// Trend labels keyed by bucketed trend regime.
const (
	TrendLabelStrongUp   = "strong_up"
	TrendLabelWeakUp     = "weak_up"
	TrendLabelNeutral    = "neutral"
	TrendLabelWeakDown   = "weak_down"
	TrendLabelStrongDown = "strong_down"
)

// MarketState is the engine-owned intrinsic characterization of a bar,
// captured once at entry and passed through verbatim to the trade record.
type MarketState struct {
	VolatilityRegime VolatilityRegime
	TrendRegime      int
	TrendScore       int
	TrendLabel       string
}

// TradeRecord is the canonical per-trade artifact row. Field semantics follow
// the trade-level CSV contract; csv tags drive the artifact column names.
type TradeRecord struct {
	StrategyName  string    `csv:"strategy_name"`
	ParentTradeID int       `csv:"parent_trade_id"`
	SequenceIndex int       `csv:"sequence_index"`
	Symbol        string    `csv:"symbol"`
	EntryTime     time.Time `csv:"entry_timestamp"`
	ExitTime      time.Time `csv:"exit_timestamp"`
	Direction     Direction `csv:"direction"`
	EntryPrice    float64   `csv:"entry_price"`
	ExitPrice     float64   `csv:"exit_price"`
	BarsHeld      int       `csv:"bars_held"`
	PnlUSD        float64   `csv:"pnl_usd"`
	TradeHigh     float64   `csv:"trade_high"`
	TradeLow      float64   `csv:"trade_low"`
	ATREntry      float64   `csv:"atr_entry"`
	PositionUnits float64   `csv:"position_units"`
	NotionalUSD   float64   `csv:"notional_usd"`
	MFEPrice      float64   `csv:"mfe_price"`
	MAEPrice      float64   `csv:"mae_price"`
	// InitialStopPrice is the stop captured at entry; it is never trailed in
	// the canonical record.
	InitialStopPrice float64 `csv:"initial_stop_price"`
	RiskDistance     float64 `csv:"risk_distance"`
	MFER             float64 `csv:"mfe_r"`
	MAER             float64 `csv:"mae_r"`
	RMultiple        float64 `csv:"r_multiple"`

	VolatilityRegime VolatilityRegime `csv:"volatility_regime"`
	TrendRegime      int              `csv:"trend_regime"`
	TrendScore       int              `csv:"trend_score"`
	TrendLabel       string           `csv:"trend_label"`
}

// Validate checks the universal trade invariants. It returns a list of
// violated invariant descriptions; an empty list means the record is sound.
func (t *TradeRecord) Validate() []string {
	var violations []string

	if t.Direction != DirectionLong && t.Direction != DirectionShort {
		violations = append(violations, "direction must be -1 or 1")
	}

	if t.RiskDistance <= 0 {
		violations = append(violations, "risk_distance must be > 0")
	}

	if t.BarsHeld < 0 {
		violations = append(violations, "bars_held must be >= 0")
	}

	if t.MFEPrice < 0 {
		violations = append(violations, "mfe_price must be >= 0")
	}

	if t.MAEPrice < 0 {
		violations = append(violations, "mae_price must be >= 0")
	}

	if t.Direction == DirectionLong && t.InitialStopPrice >= t.EntryPrice {
		violations = append(violations, "long initial_stop_price must be < entry_price")
	}

	if t.Direction == DirectionShort && t.InitialStopPrice <= t.EntryPrice {
		violations = append(violations, "short initial_stop_price must be > entry_price")
	}

	switch t.VolatilityRegime {
	case VolatilityLow, VolatilityNormal, VolatilityHigh:
	default:
		violations = append(violations, "volatility_regime must be low/normal/high")
	}

	if t.TrendRegime < -2 || t.TrendRegime > 2 {
		violations = append(violations, "trend_regime must be in [-2, 2]")
	}

	if t.TrendScore < -5 || t.TrendScore > 5 {
		violations = append(violations, "trend_score must be in [-5, 5]")
	}

	if t.TrendLabel == "" {
		violations = append(violations, "trend_label must be non-empty")
	}

	return violations
}
