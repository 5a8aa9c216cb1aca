package paramtree

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when the YAML source has no content.
var ErrEmptyDocument = errors.New("paramtree: empty document")

const maxAliasDepth = 32

// LoadFile reads and parses a YAML parameter file.
func LoadFile(path string) (Value, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Value{}, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := Parse(raw)
	if err != nil {
		return Value{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// Parse decodes a YAML document into a typed tree.
func Parse(raw []byte) (Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Value{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Value{}, ErrEmptyDocument
	}
	return FromYAML(doc.Content[0])
}

// FromYAML converts a yaml.Node. Scalar tags map to kinds: !!str, !!int,
// !!bool and !!float; !!null becomes Invalid. Aliases are followed.
func FromYAML(n *yaml.Node) (Value, error) { return fromNode(n, 0) }

func fromNode(n *yaml.Node, depth int) (Value, error) {
	if n == nil {
		return Value{}, nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Value{}, ErrEmptyDocument
		}
		return fromNode(n.Content[0], depth)
	case yaml.AliasNode:
		if depth >= maxAliasDepth {
			return Value{}, fmt.Errorf("line %d: alias nesting too deep", n.Line)
		}
		return fromNode(n.Alias, depth+1)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c, depth)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: Array, items: items}, nil
	case yaml.MappingNode:
		if len(n.Content)%2 != 0 {
			return Value{}, fmt.Errorf("line %d: odd mapping content", n.Line)
		}
		members := make([]Member, 0, len(n.Content)/2)
		for i := 0; i < len(n.Content); i += 2 {
			k, vn := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return Value{}, fmt.Errorf("line %d: non-scalar mapping key", k.Line)
			}
			v, err := fromNode(vn, depth)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k.Value, err)
			}
			members = append(members, Member{Key: k.Value, Value: v})
		}
		return Value{kind: Struct, members: members}, nil
	case yaml.ScalarNode:
		return scalar(n)
	}
	return Value{}, fmt.Errorf("line %d: unsupported yaml node kind %d", n.Line, n.Kind)
}

func scalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!str":
		return StringValue(n.Value), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return IntValue(i), nil
	case "!!float":
		var d float64
		if err := n.Decode(&d); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return DoubleValue(d), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return BoolValue(b), nil
	case "!!null":
		return Value{}, nil
	default:
		// Custom tags keep their literal text.
		return StringValue(n.Value), nil
	}
}
