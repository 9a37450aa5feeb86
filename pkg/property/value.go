// Package property defines the typed property values exchanged for catalog
// objects, the static property schema, and the request partitioner.
//
// A Value is a closed tagged union over five kinds (String, Int, UInt, Bool,
// StringList). Every property name in the vocabulary has exactly one kind and
// belongs to exactly one of three logical interfaces (object, item,
// container). A Table maps property names to values and is the unit of
// exchange for "the properties of one object".
package property

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value carries.
type Kind uint32

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindUInt
	KindBool
	KindStringList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindUInt:
		return "uint"
	case KindBool:
		return "bool"
	case KindStringList:
		return "stringlist"
	default:
		return "invalid"
	}
}

// Value is a single property value.
//
// The zero Value is invalid (KindInvalid). Values are immutable once built;
// StringList values copy their input on construction and on access, so a
// Value never shares backing storage with its creator or its reader.
type Value struct {
	kind Kind
	s    string
	i    int64
	u    uint64
	b    bool
	list []string
}

// String builds a String value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int builds an Int value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// UInt builds a UInt value.
func UInt(u uint64) Value { return Value{kind: KindUInt, u: u} }

// Bool builds a Bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// StringList builds a StringList value. A nil list is stored as empty.
func StringList(list []string) Value {
	cp := make([]string, len(list))
	copy(cp, list)
	return Value{kind: KindStringList, list: cp}
}

// DefaultFor returns the absent-value default for a kind:
// String "", Int -1, UInt 0, Bool false, StringList [].
func DefaultFor(kind Kind) Value {
	switch kind {
	case KindString:
		return String("")
	case KindInt:
		return Int(-1)
	case KindUInt:
		return UInt(0)
	case KindBool:
		return Bool(false)
	case KindStringList:
		return StringList(nil)
	default:
		return Value{}
	}
}

// Kind reports the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v carries a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the int payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsUInt returns the uint payload.
func (v Value) AsUInt() (uint64, bool) { return v.u, v.kind == KindUInt }

// AsBool returns the bool payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsStringList returns a copy of the list payload.
func (v Value) AsStringList() ([]string, bool) {
	if v.kind != KindStringList {
		return nil, false
	}
	cp := make([]string, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindUInt:
		return v.u == o.u
	case KindBool:
		return v.b == o.b
	case KindStringList:
		return slices.Equal(v.list, o.list)
	default:
		return true
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	if v.kind == KindStringList {
		return StringList(v.list)
	}
	return v
}

// Interface returns the payload as a plain Go value (string, int64, uint64,
// bool or []string), or nil for an invalid value.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindUInt:
		return v.u
	case KindBool:
		return v.b
	case KindStringList:
		list, _ := v.AsStringList()
		return list
	default:
		return nil
	}
}

// String renders v for display.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUInt:
		return strconv.FormatUint(v.u, 10)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindStringList:
		return "[" + strings.Join(v.list, ", ") + "]"
	default:
		return "<invalid>"
	}
}

// Convert builds a Value of the given kind from a plain Go value, as produced
// by JSON, YAML or mapstructure decoding. Numeric inputs are range-checked.
func Convert(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindString:
		switch x := raw.(type) {
		case string:
			return String(x), nil
		case fmt.Stringer:
			return String(x.String()), nil
		}
	case KindInt:
		if n, ok := toInt64(raw); ok {
			return Int(n), nil
		}
	case KindUInt:
		if n, ok := toInt64(raw); ok {
			if n < 0 {
				return Value{}, fmt.Errorf("negative value %d for uint property", n)
			}
			return UInt(uint64(n)), nil
		}
		if u, ok := raw.(uint64); ok {
			return UInt(u), nil
		}
	case KindBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case KindStringList:
		switch x := raw.(type) {
		case []string:
			return StringList(x), nil
		case []any:
			list := make([]string, 0, len(x))
			for _, item := range x {
				s, ok := item.(string)
				if !ok {
					return Value{}, fmt.Errorf("list element %v is %T, want string", item, item)
				}
				list = append(list, s)
			}
			return StringList(list), nil
		case string:
			return StringList([]string{x}), nil
		case nil:
			return StringList(nil), nil
		}
	default:
		return Value{}, fmt.Errorf("cannot convert to %s", kind)
	}
	return Value{}, fmt.Errorf("cannot convert %T to %s", raw, kind)
}

func toInt64(raw any) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > 1<<63-1 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case interface{ Int64() (int64, error) }:
		n, err := x.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
