// Package signature derives the canonical strategy signature from a
// directive and binds strategy implementations to it. The signature is the
// contract between directive intent and implementation: two directives with
// identical signatures must behave identically.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// SignatureVersion increases on every breaking change to the signature
// schema. Injected into every built signature.
const SignatureVersion = 3

// nonSignatureKeys are identity and envelope keys excluded from the
// signature. Frozen: removing an entry silently changes every content hash.
var nonSignatureKeys = map[string]bool{
	directive.BlockStrategyName:   true,
	directive.BlockStrategyFamily: true,
	directive.BlockSymbols:        true,
	directive.BlockDateRange:      true,
	directive.BlockBroker:         true,
	directive.BlockTimeframe:      true,
	directive.BlockResearch:       true,
	directive.BlockDescription:    true,
}

// defaultOrderPlacement is injected when a directive omits the optional
// order placement block.
var defaultOrderPlacement = map[string]any{
	"type":         "market_on_close",
	"offset_atr":   0.0,
	"timeout_bars": 0,
}

// Build derives the signature from a canonical directive. This is the only
// function that produces signatures.
func Build(c *directive.Canonical) (map[string]any, error) {
	sig := make(map[string]any)

	for key, value := range c.AsMap() {
		if nonSignatureKeys[key] {
			continue
		}

		sig[key] = value
	}

	sig["signature_version"] = SignatureVersion

	rules, ok := sig[directive.BlockExecutionRules].(map[string]any)
	if !ok {
		return nil, errors.New(errors.KindSignatureIncomplete, directive.BlockExecutionRules,
			"signature requires execution_rules")
	}

	if _, ok := sig[directive.BlockIndicators]; !ok {
		return nil, errors.New(errors.KindSignatureIncomplete, directive.BlockIndicators,
			"signature requires indicators")
	}

	// Inject defaults without mutating the canonical form.
	resolved := make(map[string]any, len(rules)+1)
	for k, v := range rules {
		resolved[k] = v
	}

	if _, ok := resolved["order_placement"]; !ok {
		resolved["order_placement"] = defaultOrderPlacement
	}

	if _, ok := resolved["pyramiding"]; !ok {
		resolved["pyramiding"] = false
	}

	if _, ok := resolved["reset_on_exit"]; !ok {
		resolved["reset_on_exit"] = true
	}

	sig[directive.BlockExecutionRules] = resolved

	return sig, nil
}

// CanonicalJSON renders a value as deterministic JSON: map keys sort
// lexicographically at every depth, so key order and whitespace in the
// source never affect the bytes.
func CanonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ContentHash computes the 12-hex-char content hash of the resolved
// directive: signature plus identity plus resolved defaults.
func ContentHash(c *directive.Canonical) (string, error) {
	sig, err := Build(c)
	if err != nil {
		return "", err
	}

	resolved := map[string]any{
		"signature": sig,
		"identity": map[string]any{
			"strategy_name":   c.StrategyName,
			"strategy_family": c.StrategyFamily,
			"timeframe":       c.Timeframe,
			"broker":          c.Broker,
			"date_range":      map[string]any{"from": c.DateRange.From, "to": c.DateRange.To},
			"symbols":         c.Symbols,
		},
	}

	raw, err := CanonicalJSON(resolved)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])[:12], nil
}

// Equal reports whether two signatures are canonically identical.
func Equal(a, b map[string]any) bool {
	rawA, errA := CanonicalJSON(a)
	rawB, errB := CanonicalJSON(b)

	return errA == nil && errB == nil && string(rawA) == string(rawB)
}
