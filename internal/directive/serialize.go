package directive

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// knownKeyOrder fixes intra-block key order for serialization. Blocks not
// listed here serialize with sorted keys.
var knownKeyOrder = map[string][]string{
	BlockDateRange:      {"from", "to"},
	BlockExecutionRules: executionRuleKeys,
	"order_placement":   orderPlacementKeys,
}

// Serialize renders the canonical directive deterministically: blocks in the
// fixed canonical order, nested keys in their fixed or sorted order, two-space
// indentation. The output reparses to the same canonical form.
func (c *Canonical) Serialize() string {
	return serializeCanonical(c)
}

func serializeCanonical(c *Canonical) string {
	var sb strings.Builder

	m := c.AsMap()

	for _, block := range blockOrder {
		v, ok := m[block]
		if !ok {
			continue
		}

		writeEntry(&sb, 0, block, v)
	}

	return sb.String()
}

// serializeMap renders an arbitrary parsed document with the same
// deterministic layout, used to diff the original against the canonical form.
func serializeMap(doc *Map) string {
	var sb strings.Builder

	for _, key := range orderedRootKeys(doc) {
		v, _ := doc.Get(key)
		writeEntry(&sb, 0, key, v)
	}

	return sb.String()
}

func orderedRootKeys(doc *Map) []string {
	var out []string

	for _, block := range blockOrder {
		if doc.Has(block) {
			out = append(out, block)
		}
	}

	var rest []string

	for _, key := range doc.Keys() {
		if !contains(out, key) {
			rest = append(rest, key)
		}
	}

	sort.Strings(rest)

	return append(out, rest...)
}

func writeEntry(sb *strings.Builder, depth int, key string, value any) {
	indent := strings.Repeat("  ", depth)

	switch v := value.(type) {
	case *Map:
		fmt.Fprintf(sb, "%s%s:\n", indent, key)
		writeMapBody(sb, depth+1, key, v.Keys(), func(k string) any {
			val, _ := v.Get(k)

			return val
		})
	case map[string]any:
		fmt.Fprintf(sb, "%s%s:\n", indent, key)

		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}

		writeMapBody(sb, depth+1, key, keys, func(k string) any { return v[k] })
	case []any:
		fmt.Fprintf(sb, "%s%s:\n", indent, key)

		for _, item := range v {
			fmt.Fprintf(sb, "%s  - %s\n", indent, scalarText(item))
		}
	default:
		fmt.Fprintf(sb, "%s%s: %s\n", indent, key, scalarText(v))
	}
}

func writeMapBody(sb *strings.Builder, depth int, block string, keys []string, get func(string) any) {
	ordered := orderKeys(block, keys)

	for _, k := range ordered {
		writeEntry(sb, depth, k, get(k))
	}
}

func orderKeys(block string, keys []string) []string {
	fixed, ok := knownKeyOrder[block]
	if !ok {
		out := make([]string, len(keys))
		copy(out, keys)
		sort.Strings(out)

		return out
	}

	var out []string

	for _, k := range fixed {
		if contains(keys, k) {
			out = append(out, k)
		}
	}

	var rest []string

	for _, k := range keys {
		if !contains(out, k) {
			rest = append(rest, k)
		}
	}

	sort.Strings(rest)

	return append(out, rest...)
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
