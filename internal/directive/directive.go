// Package directive parses declarative backtest directives and produces their
// canonical form. Canonicalization is strict: duplicate keys, structural
// drift, unknown keys and missing blocks are all fatal. The canonical result
// is the only directive representation the rest of the pipeline sees.
package directive

// Canonical block names, in serialization order. The order is part of the
// canonical form: content hashes are computed over this layout.
const (
	BlockStrategyName   = "strategy_name"
	BlockStrategyFamily = "strategy_family"
	BlockTimeframe      = "timeframe"
	BlockBroker         = "broker"
	BlockDateRange      = "date_range"
	BlockSymbols        = "symbols"
	BlockIndicators     = "indicators"
	BlockExecutionRules = "execution_rules"
	BlockFilters        = "filters"
	BlockSignature      = "signature"
	BlockResearch       = "research"
	BlockDescription    = "description"
	BlockTest           = "test"
)

// blockOrder fixes the serialization order of canonical blocks.
var blockOrder = []string{
	BlockStrategyName,
	BlockStrategyFamily,
	BlockTimeframe,
	BlockBroker,
	BlockDateRange,
	BlockSymbols,
	BlockIndicators,
	BlockExecutionRules,
	BlockFilters,
	BlockSignature,
	BlockResearch,
	BlockDescription,
}

// requiredBlocks must be present (directly or via legacy migration) for a
// directive to be structurally complete.
var requiredBlocks = []string{
	BlockStrategyName,
	BlockStrategyFamily,
	BlockTimeframe,
	BlockBroker,
	BlockDateRange,
	BlockSymbols,
	BlockIndicators,
	BlockExecutionRules,
}

// legacyNames maps legacy block names to their canonical names. A legacy
// block is migrated only when the canonical block is absent.
var legacyNames = map[string]string{
	"order":           BlockExecutionRules,
	"orders":          BlockExecutionRules,
	"instruments":     BlockSymbols,
	"indicator_stack": BlockIndicators,
	"dates":           BlockDateRange,
	"strategy":        BlockStrategyName,
}

// relocatableKeys are keys that historically appear at an allowed illegal
// parent and are moved into their correct parent block.
var relocatableKeys = map[string]string{
	"stop_loss":   BlockExecutionRules,
	"entry_logic": BlockExecutionRules,
	"exit_logic":  BlockExecutionRules,
	"pyramiding":  BlockExecutionRules,
}

// Keys of the execution_rules block, in canonical order.
var executionRuleKeys = []string{
	"entry_logic",
	"exit_logic",
	"stop_loss",
	"pyramiding",
	"reset_on_exit",
	"order_placement",
}

// requiredExecutionRuleKeys are the execution_rules sub-blocks the contract
// demands.
var requiredExecutionRuleKeys = []string{
	"entry_logic",
	"exit_logic",
	"stop_loss",
}

// nestedAllowList enumerates the permitted depth-2 keys per canonical block.
// Blocks absent from this table accept arbitrary keys (free-form envelopes).
var nestedAllowList = map[string][]string{
	BlockDateRange:      {"from", "to"},
	BlockExecutionRules: executionRuleKeys,
	BlockFilters:        {"session", "direction", "volatility", "trend"},
}

// orderPlacementKeys is the allow-list for the execution_rules.order_placement
// sub-block.
var orderPlacementKeys = []string{"type", "offset_atr", "timeout_bars"}

// structuralKeys are the top-level keys whose presence inside an envelope
// `test:` block indicates contamination.
var structuralKeys = []string{
	BlockSymbols,
	BlockIndicators,
	BlockExecutionRules,
	BlockDateRange,
	BlockBroker,
	BlockTimeframe,
	BlockFilters,
}

// DateRange is an explicit closed date interval, both ends YYYY-MM-DD.
type DateRange struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Canonical is the validated, ordered directive form.
type Canonical struct {
	StrategyName   string         `json:"strategy_name"`
	StrategyFamily string         `json:"strategy_family"`
	Timeframe      string         `json:"timeframe"`
	Broker         string         `json:"broker"`
	DateRange      DateRange      `json:"date_range"`
	Symbols        []string       `json:"symbols"`
	Indicators     []string       `json:"indicators"`
	ExecutionRules map[string]any `json:"execution_rules"`
	Filters        map[string]any `json:"filters,omitempty"`
	Signature      map[string]any `json:"signature,omitempty"`
	Research       map[string]any `json:"research,omitempty"`
	Description    string         `json:"description,omitempty"`
}

// AsMap renders the canonical directive as a plain map, used by signature
// construction and content hashing.
func (c *Canonical) AsMap() map[string]any {
	m := map[string]any{
		BlockStrategyName:   c.StrategyName,
		BlockStrategyFamily: c.StrategyFamily,
		BlockTimeframe:      c.Timeframe,
		BlockBroker:         c.Broker,
		BlockDateRange:      map[string]any{"from": c.DateRange.From, "to": c.DateRange.To},
		BlockSymbols:        toAnySlice(c.Symbols),
		BlockIndicators:     toAnySlice(c.Indicators),
		BlockExecutionRules: c.ExecutionRules,
	}

	if c.Filters != nil {
		m[BlockFilters] = c.Filters
	}

	if c.Signature != nil {
		m[BlockSignature] = c.Signature
	}

	if c.Research != nil {
		m[BlockResearch] = c.Research
	}

	if c.Description != "" {
		m[BlockDescription] = c.Description
	}

	return m
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}

	return out
}
