package directive

import (
	"fmt"

	"github.com/kitealert7-source/tradescan/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Map is an insertion-ordered string-keyed map. YAML mappings decode into
// this instead of map[string]any so that serialization diffs against the
// original document are meaningful.
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap creates an empty ordered map.
func NewMap() *Map {
	return &Map{
		keys:   nil,
		values: make(map[string]any),
	}
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)

	return out
}

// Get returns a value by key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]

	return v, ok
}

// Has reports whether the key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.values[key]

	return ok
}

// Set inserts or replaces a value. Insertion order is preserved for existing
// keys.
func (m *Map) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}

	m.values[key] = value
}

// Delete removes a key.
func (m *Map) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}

	delete(m.values, key)

	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)

			break
		}
	}
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// Parse decodes a raw directive document into an ordered map tree. Duplicate
// keys at any nesting depth are fatal with KindDuplicateKey; the subject is
// the dotted path of the offending key.
func Parse(raw []byte) (*Map, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, errors.Wrap(errors.KindUnknownStructure, "directive", "directive does not parse", err)
	}

	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New(errors.KindStructurallyIncomplete, "directive", "empty directive document")
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.New(errors.KindUnknownStructure, "directive", "directive root must be a mapping")
	}

	value, err := decodeNode(doc, "")
	if err != nil {
		return nil, err
	}

	m, ok := value.(*Map)
	if !ok {
		return nil, errors.New(errors.KindUnknownStructure, "directive", "directive root must be a mapping")
	}

	return m, nil
}

func decodeNode(node *yaml.Node, path string) (any, error) {
	switch node.Kind {
	case yaml.MappingNode:
		return decodeMapping(node, path)
	case yaml.SequenceNode:
		return decodeSequence(node, path)
	case yaml.ScalarNode:
		return decodeScalar(node)
	case yaml.AliasNode:
		return decodeNode(node.Alias, path)
	default:
		return nil, errors.Newf(errors.KindUnknownStructure, joinPath(path, "?"),
			"unsupported node kind %d", node.Kind)
	}
}

func decodeMapping(node *yaml.Node, path string) (*Map, error) {
	m := NewMap()

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		if keyNode.Kind != yaml.ScalarNode {
			return nil, errors.New(errors.KindUnknownStructure, joinPath(path, "?"), "non-scalar mapping key")
		}

		key := keyNode.Value
		keyPath := joinPath(path, key)

		if m.Has(key) {
			return nil, errors.Newf(errors.KindDuplicateKey, keyPath,
				"key %q defined more than once", key)
		}

		value, err := decodeNode(valNode, keyPath)
		if err != nil {
			return nil, err
		}

		m.Set(key, value)
	}

	return m, nil
}

func decodeSequence(node *yaml.Node, path string) ([]any, error) {
	out := make([]any, 0, len(node.Content))

	for i, item := range node.Content {
		value, err := decodeNode(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}

		out = append(out, value)
	}

	return out, nil
}

func decodeScalar(node *yaml.Node) (any, error) {
	switch node.Tag {
	case "!!bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return nil, err
		}

		return v, nil
	case "!!int":
		var v int
		if err := node.Decode(&v); err != nil {
			return nil, err
		}

		return v, nil
	case "!!float":
		var v float64
		if err := node.Decode(&v); err != nil {
			return nil, err
		}

		return v, nil
	case "!!null":
		return nil, nil
	default:
		return node.Value, nil
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}

	return base + "." + key
}
