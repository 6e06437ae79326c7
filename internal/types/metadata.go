package types

import "time"

// RunMetadata is the per-run metadata artifact, written next to the trade
// table and re-read by the aggregation layer. Validator tags mirror the
// completeness gate in the emitter.
type RunMetadata struct {
	RunID              string    `json:"run_id" validate:"required,len=12,hexadecimal"`
	StrategyName       string    `json:"strategy_name" validate:"required"`
	Symbol             string    `json:"symbol" validate:"required"`
	Timeframe          string    `json:"timeframe" validate:"required"`
	DateFrom           string    `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo             string    `json:"date_to" validate:"required,datetime=2006-01-02"`
	ExecutedAt         time.Time `json:"executed_at" validate:"required"`
	EngineName         string    `json:"engine_name" validate:"required"`
	EngineVersion      string    `json:"engine_version" validate:"required,semver"`
	DirectiveHash      string    `json:"directive_hash" validate:"required,len=12,hexadecimal"`
	EngineHash         string    `json:"engine_hash" validate:"required"`
	DataFingerprint    string    `json:"data_fingerprint" validate:"required"`
	SchemaVersion      int       `json:"schema_version" validate:"required,min=1"`
	Broker             string    `json:"broker" validate:"required"`
	ReferenceCapital   float64   `json:"reference_capital_usd" validate:"required,gt=0"`
	PositionSizingBase string    `json:"position_sizing_basis" validate:"required"`
	ContentHash        string    `json:"content_hash" validate:"required,len=12,hexadecimal"`
	Lineage            string    `json:"lineage" validate:"required"`
}

// Manifest binds a run to the SHA-256 hashes of its strategy snapshot and
// output artifacts. Immutable once written.
type Manifest struct {
	RunID        string            `json:"run_id"`
	StrategyHash string            `json:"strategy_hash"`
	Artifacts    map[string]string `json:"artifacts"`
	Timestamp    time.Time         `json:"timestamp"`
}
