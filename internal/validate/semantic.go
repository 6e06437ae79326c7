// Package validate performs the read-only semantic check between a canonical
// directive and its registered strategy implementation. It inspects declared
// metadata only; nothing is executed.
package validate

import (
	"fmt"
	"sort"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/indicator"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Violation codes reported by the semantic validator.
const (
	CodeIdentityMismatch          = "IDENTITY_MISMATCH"
	CodeMissingIndicatorImport    = "MISSING_INDICATOR_IMPORT"
	CodeUndeclaredIndicatorImport = "UNDECLARED_INDICATOR_IMPORT"
)

// Finding is one semantic disagreement between directive and implementation.
type Finding struct {
	Code   string
	Detail string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Detail)
}

// Semantic checks that the strategy's identity and indicator set match the
// directive exactly. A non-empty finding list is returned alongside a
// KindSemanticMismatch error.
func Semantic(c *directive.Canonical, impl strategy.Strategy) ([]Finding, error) {
	var findings []Finding

	if impl.Name() != c.StrategyName {
		findings = append(findings, Finding{
			Code:   CodeIdentityMismatch,
			Detail: fmt.Sprintf("strategy name %q != directive %q", impl.Name(), c.StrategyName),
		})
	}

	if impl.Timeframe() != c.Timeframe {
		findings = append(findings, Finding{
			Code:   CodeIdentityMismatch,
			Detail: fmt.Sprintf("strategy timeframe %q != directive %q", impl.Timeframe(), c.Timeframe),
		})
	}

	declared := normalizeSet(c.Indicators)
	implemented := normalizeSet(impl.Indicators())

	for _, path := range sortedMembers(declared) {
		if !implemented[path] {
			findings = append(findings, Finding{
				Code:   CodeMissingIndicatorImport,
				Detail: fmt.Sprintf("directive declares %q but the strategy does not use it", path),
			})
		}
	}

	for _, path := range sortedMembers(implemented) {
		if !declared[path] {
			findings = append(findings, Finding{
				Code:   CodeUndeclaredIndicatorImport,
				Detail: fmt.Sprintf("strategy uses %q but the directive does not declare it", path),
			})
		}
	}

	if len(findings) > 0 {
		return findings, errors.Newf(errors.KindSemanticMismatch, c.StrategyName,
			"%d semantic disagreement(s) between directive and implementation", len(findings))
	}

	return nil, nil
}

func normalizeSet(refs []string) map[string]bool {
	out := make(map[string]bool, len(refs))
	for _, ref := range refs {
		out[indicator.Normalize(ref)] = true
	}

	return out
}

func sortedMembers(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}

	sort.Strings(out)

	return out
}
