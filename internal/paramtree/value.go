// Package paramtree holds the typed configuration tree consumed by the
// parameter builder. A tree is made of scalars (string, int, bool, double)
// and containers (array, struct). Struct members keep declaration order.
package paramtree

import "fmt"

// Kind is the type tag of a Value.
type Kind int

const (
	Invalid Kind = iota
	String
	Int
	Bool
	Double
	Array
	Struct
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Double:
		return "double"
	case Array:
		return "array"
	case Struct:
		return "struct"
	default:
		return "invalid"
	}
}

// Member is one key/value pair of a struct.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable node of the tree. The zero Value is Invalid.
type Value struct {
	kind    Kind
	s       string
	i       int64
	b       bool
	d       float64
	items   []Value
	members []Member
}

func StringValue(s string) Value  { return Value{kind: String, s: s} }
func IntValue(i int64) Value      { return Value{kind: Int, i: i} }
func BoolValue(b bool) Value      { return Value{kind: Bool, b: b} }
func DoubleValue(d float64) Value { return Value{kind: Double, d: d} }

// ArrayOf builds an array node.
func ArrayOf(items ...Value) Value {
	return Value{kind: Array, items: append([]Value(nil), items...)}
}

// StructOf builds a struct node. Duplicate keys are kept; Lookup returns the last one.
func StructOf(members ...Member) Value {
	return Value{kind: Struct, members: append([]Member(nil), members...)}
}

// M is shorthand for a struct member.
func M(key string, v Value) Member { return Member{Key: key, Value: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() (string, bool)     { return v.s, v.kind == String }
func (v Value) Int() (int64, bool)      { return v.i, v.kind == Int }
func (v Value) Bool() (bool, bool)      { return v.b, v.kind == Bool }
func (v Value) Double() (float64, bool) { return v.d, v.kind == Double }

// Number returns doubles as-is and promotes ints.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case Double:
		return v.d, true
	case Int:
		return float64(v.i), true
	}
	return 0, false
}

// Len is the element count of an array or the member count of a struct.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Struct:
		return len(v.members)
	}
	return 0
}

// Index returns the i-th array element; out of range yields Invalid.
func (v Value) Index(i int) Value {
	if v.kind != Array || i < 0 || i >= len(v.items) {
		return Value{}
	}
	return v.items[i]
}

// Members returns the struct members in declaration order.
func (v Value) Members() []Member {
	if v.kind != Struct {
		return nil
	}
	return append([]Member(nil), v.members...)
}

// Lookup finds a struct member by key.
func (v Value) Lookup(key string) (Value, bool) {
	if v.kind != Struct {
		return Value{}, false
	}
	for i := len(v.members) - 1; i >= 0; i-- {
		if v.members[i].Key == key {
			return v.members[i].Value, true
		}
	}
	return Value{}, false
}

// Strings converts an array of strings. Non-string elements are an error.
func (v Value) Strings() ([]string, error) {
	if v.kind != Array {
		return nil, fmt.Errorf("paramtree: want array, got %s", v.kind)
	}
	out := make([]string, 0, len(v.items))
	for i, it := range v.items {
		s, ok := it.Str()
		if !ok {
			return nil, fmt.Errorf("paramtree: element %d: want string, got %s", i, it.kind)
		}
		out = append(out, s)
	}
	return out, nil
}

func (v Value) String() string {
	switch v.kind {
	case String:
		return fmt.Sprintf("%q", v.s)
	case Int:
		return fmt.Sprintf("%d", v.i)
	case Bool:
		return fmt.Sprintf("%t", v.b)
	case Double:
		return fmt.Sprintf("%g", v.d)
	case Array:
		return fmt.Sprintf("array(%d)", len(v.items))
	case Struct:
		return fmt.Sprintf("struct(%d)", len(v.members))
	}
	return "invalid"
}
