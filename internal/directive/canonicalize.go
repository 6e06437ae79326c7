package directive

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

var dateShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Result is the outcome of canonicalization.
type Result struct {
	Canonical  *Canonical
	Violations []Violation
	// Changed reports whether the canonical serialization differs from the
	// deterministic serialization of the original document. The pipeline
	// never rewrites the original without an explicit execute flag.
	Changed bool
}

// Canonicalize parses and canonicalizes a raw directive. Any fatal violation
// is returned as an error carrying its taxonomy kind; the full violation list
// is returned in the Result either way.
func Canonicalize(raw []byte) (*Result, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	return canonicalizeDoc(doc, serializeMap(doc))
}

func canonicalizeDoc(doc *Map, originalText string) (*Result, error) {
	var violations []Violation

	// Envelope contamination: a test block must not restate structural keys.
	if testBlock, ok := doc.Get(BlockTest); ok {
		if tm, isMap := testBlock.(*Map); isMap {
			for _, key := range structuralKeys {
				if tm.Has(key) {
					v := fatal(string(errors.KindEnvelopeContamination), BlockTest+"."+key,
						fmt.Sprintf("structural key %q inside test envelope", key))

					return failResult(violations, v)
				}
			}
		}

		doc.Delete(BlockTest)
	}

	// Envelope collision: the research envelope may carry free-form keys but
	// never structural ones.
	if research, ok := doc.Get(BlockResearch); ok {
		if rm, isMap := research.(*Map); isMap {
			for _, key := range structuralKeys {
				if rm.Has(key) {
					v := fatal(string(errors.KindStructuralCollision), BlockResearch+"."+key,
						fmt.Sprintf("structural key %q inside research envelope", key))

					return failResult(violations, v)
				}
			}
		}
	}

	// Build the canonical tree: move canonical blocks out of the original,
	// migrating legacy names where the canonical name is absent.
	tree := NewMap()

	for _, block := range blockOrder {
		if v, ok := doc.Get(block); ok {
			tree.Set(block, v)
			doc.Delete(block)
		}
	}

	for _, legacy := range sortedKeys(legacyNames) {
		canonical := legacyNames[legacy]

		v, ok := doc.Get(legacy)
		if !ok {
			continue
		}

		if tree.Has(canonical) {
			fv := fatal(string(errors.KindConflictingDefinition), legacy,
				fmt.Sprintf("legacy block %q conflicts with existing %q", legacy, canonical))

			return failResult(violations, fv)
		}

		tree.Set(canonical, v)
		doc.Delete(legacy)
		violations = append(violations, note(NoteMigrated, legacy,
			fmt.Sprintf("%q -> %q", legacy, canonical)))
	}

	// Relocate known misplaced keys from the root into their correct parent.
	for _, key := range sortedKeys(relocatableKeys) {
		parent := relocatableKeys[key]

		v, ok := doc.Get(key)
		if !ok {
			continue
		}

		parentMap := ensureMapBlock(tree, parent)
		if parentMap == nil {
			fv := fatal(string(errors.KindInvalidBlockType), parent,
				fmt.Sprintf("cannot relocate %q: block %q is not a mapping", key, parent))

			return failResult(violations, fv)
		}

		if parentMap.Has(key) {
			fv := fatal(string(errors.KindConflictingDefinition), parent+"."+key,
				fmt.Sprintf("%q defined at root and inside %q", key, parent))

			return failResult(violations, fv)
		}

		parentMap.Set(key, v)
		doc.Delete(key)
		violations = append(violations, note(NoteRelocated, key,
			fmt.Sprintf("%q from root -> %s", key, parent)))
	}

	// Anything left at the root is structural drift.
	if doc.Len() > 0 {
		leftover := doc.Keys()[0]
		fv := fatal(string(errors.KindUnknownStructure), leftover,
			fmt.Sprintf("unknown top-level key %q", leftover))

		return failResult(violations, fv)
	}

	// Required blocks.
	for _, block := range requiredBlocks {
		if !tree.Has(block) {
			fv := fatal(string(errors.KindStructurallyIncomplete), block,
				fmt.Sprintf("required block %q absent", block))

			return failResult(violations, fv)
		}
	}

	// Nested allow-lists at depth 2.
	for _, block := range sortedKeys(nestedAllowList) {
		allowed := nestedAllowList[block]
		raw, ok := tree.Get(block)
		if !ok {
			continue
		}

		bm, isMap := raw.(*Map)
		if !isMap {
			fv := fatal(string(errors.KindInvalidBlockType), block,
				fmt.Sprintf("block %q must be a mapping", block))

			return failResult(violations, fv)
		}

		for _, key := range bm.Keys() {
			if !contains(allowed, key) {
				fv := fatal(string(errors.KindUnknownNestedKey), block+"."+key,
					fmt.Sprintf("unknown key %q under %q", key, block))

				return failResult(violations, fv)
			}
		}
	}

	// order_placement sub-block allow-list.
	if er, ok := tree.Get(BlockExecutionRules); ok {
		if em, isMap := er.(*Map); isMap {
			if op, ok := em.Get("order_placement"); ok {
				om, isMap := op.(*Map)
				if !isMap {
					fv := fatal(string(errors.KindInvalidBlockType), "execution_rules.order_placement",
						"order_placement must be a mapping")

					return failResult(violations, fv)
				}

				for _, key := range om.Keys() {
					if !contains(orderPlacementKeys, key) {
						fv := fatal(string(errors.KindUnknownSubKey), "execution_rules.order_placement."+key,
							fmt.Sprintf("unknown key %q under order_placement", key))

						return failResult(violations, fv)
					}
				}
			}
		}
	}

	// Required execution_rules sub-blocks.
	if er, ok := tree.Get(BlockExecutionRules); ok {
		em, isMap := er.(*Map)
		if !isMap {
			fv := fatal(string(errors.KindInvalidBlockType), BlockExecutionRules,
				"execution_rules must be a mapping")

			return failResult(violations, fv)
		}

		for _, key := range requiredExecutionRuleKeys {
			if !em.Has(key) {
				fv := fatal(string(errors.KindMissingRequiredSubBlock), BlockExecutionRules+"."+key,
					fmt.Sprintf("execution_rules missing required sub-block %q", key))

				return failResult(violations, fv)
			}
		}
	}

	canonical, fv := buildCanonical(tree)
	if fv != nil {
		return failResult(violations, *fv)
	}

	canonicalText := serializeCanonical(canonical)

	return &Result{
		Canonical:  canonical,
		Violations: violations,
		Changed:    canonicalText != originalText,
	}, nil
}

// buildCanonical validates block types and produces the typed canonical form.
func buildCanonical(tree *Map) (*Canonical, *Violation) {
	c := &Canonical{}

	var ok bool

	if c.StrategyName, ok = scalarString(tree, BlockStrategyName); !ok {
		return nil, typeViolation(BlockStrategyName, "string")
	}

	if c.StrategyFamily, ok = scalarString(tree, BlockStrategyFamily); !ok {
		return nil, typeViolation(BlockStrategyFamily, "string")
	}

	if c.Timeframe, ok = scalarString(tree, BlockTimeframe); !ok {
		return nil, typeViolation(BlockTimeframe, "string")
	}

	if c.Broker, ok = scalarString(tree, BlockBroker); !ok {
		return nil, typeViolation(BlockBroker, "string")
	}

	dr, ok := tree.Get(BlockDateRange)
	if !ok {
		return nil, typeViolation(BlockDateRange, "mapping")
	}

	dm, isMap := dr.(*Map)
	if !isMap {
		return nil, typeViolation(BlockDateRange, "mapping")
	}

	if c.DateRange.From, ok = scalarString(dm, "from"); !ok {
		return nil, typeViolation("date_range.from", "string")
	}

	if c.DateRange.To, ok = scalarString(dm, "to"); !ok {
		return nil, typeViolation("date_range.to", "string")
	}

	for _, d := range []struct{ path, value string }{
		{"date_range.from", c.DateRange.From},
		{"date_range.to", c.DateRange.To},
	} {
		if !dateShape.MatchString(d.value) {
			v := fatal(string(errors.KindInvalidBlockType), d.path,
				fmt.Sprintf("date %q is not YYYY-MM-DD", d.value))

			return nil, &v
		}

		if _, err := time.Parse("2006-01-02", d.value); err != nil {
			v := fatal(string(errors.KindInvalidBlockType), d.path,
				fmt.Sprintf("date %q does not parse", d.value))

			return nil, &v
		}
	}

	if c.Symbols, ok = stringList(tree, BlockSymbols); !ok {
		return nil, typeViolation(BlockSymbols, "list of strings")
	}

	seen := map[string]bool{}
	for _, s := range c.Symbols {
		if seen[s] {
			v := fatal(string(errors.KindDuplicateKey), "symbols",
				fmt.Sprintf("symbol %q listed twice", s))

			return nil, &v
		}

		seen[s] = true
	}

	// Indicators is always a list, never a scalar.
	if c.Indicators, ok = stringList(tree, BlockIndicators); !ok {
		return nil, typeViolation(BlockIndicators, "list of strings")
	}

	er, _ := tree.Get(BlockExecutionRules)

	em, isMap := er.(*Map)
	if !isMap {
		return nil, typeViolation(BlockExecutionRules, "mapping")
	}

	c.ExecutionRules = flattenMap(em)

	if f, ok := tree.Get(BlockFilters); ok {
		fm, isMap := f.(*Map)
		if !isMap {
			return nil, typeViolation(BlockFilters, "mapping")
		}

		c.Filters = flattenMap(fm)
	}

	if s, ok := tree.Get(BlockSignature); ok {
		sm, isMap := s.(*Map)
		if !isMap {
			return nil, typeViolation(BlockSignature, "mapping")
		}

		c.Signature = flattenMap(sm)
	}

	if r, ok := tree.Get(BlockResearch); ok {
		rm, isMap := r.(*Map)
		if !isMap {
			return nil, typeViolation(BlockResearch, "mapping")
		}

		c.Research = flattenMap(rm)
	}

	if d, ok := tree.Get(BlockDescription); ok {
		ds, isStr := d.(string)
		if !isStr {
			return nil, typeViolation(BlockDescription, "string")
		}

		c.Description = ds
	}

	return c, nil
}

func failResult(violations []Violation, v Violation) (*Result, error) {
	violations = append(violations, v)

	return &Result{Canonical: nil, Violations: violations, Changed: false},
		errors.New(errors.Kind(v.Code), v.Path, v.Detail)
}

func typeViolation(path, want string) *Violation {
	v := fatal(string(errors.KindInvalidBlockType), path,
		fmt.Sprintf("%s must be a %s", path, want))

	return &v
}

func ensureMapBlock(tree *Map, block string) *Map {
	raw, ok := tree.Get(block)
	if !ok {
		m := NewMap()
		tree.Set(block, m)

		return m
	}

	m, isMap := raw.(*Map)
	if !isMap {
		return nil
	}

	return m
}

func scalarString(m *Map, key string) (string, bool) {
	raw, ok := m.Get(key)
	if !ok {
		return "", false
	}

	s, isStr := raw.(string)

	return s, isStr && s != ""
}

func stringList(m *Map, key string) ([]string, bool) {
	raw, ok := m.Get(key)
	if !ok {
		return nil, false
	}

	items, isList := raw.([]any)
	if !isList {
		return nil, false
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		s, isStr := item.(string)
		if !isStr {
			return nil, false
		}

		out = append(out, s)
	}

	return out, len(out) > 0
}

// flattenMap converts an ordered map tree into plain nested maps. Ordering is
// reimposed at serialization time, so the plain form is safe for hashing and
// signature construction.
func flattenMap(m *Map) map[string]any {
	out := make(map[string]any, m.Len())

	for _, key := range m.Keys() {
		raw, _ := m.Get(key)
		switch v := raw.(type) {
		case *Map:
			out[key] = flattenMap(v)
		case []any:
			out[key] = flattenList(v)
		default:
			out[key] = v
		}
	}

	return out
}

func flattenList(items []any) []any {
	out := make([]any, len(items))

	for i, item := range items {
		switch v := item.(type) {
		case *Map:
			out[i] = flattenMap(v)
		case []any:
			out[i] = flattenList(v)
		default:
			out[i] = v
		}
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func contains(list []string, key string) bool {
	for _, item := range list {
		if item == key {
			return true
		}
	}

	return false
}
