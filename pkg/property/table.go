package property

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Table maps property names to values for one object.
//
// A Table never holds names outside the schema vocabulary and never holds a
// value whose kind differs from the schema kind of its name. Tables are
// owned by whoever built them; hand a Clone across any ownership boundary.
type Table map[Name]Value

// NewTable returns an empty table.
func NewTable() Table {
	return make(Table)
}

// Set stores v under name, rejecting names outside the vocabulary and values
// of the wrong kind.
func (t Table) Set(name Name, v Value) error {
	kind, ok := KindOf(name)
	if !ok {
		return fmt.Errorf("unknown property %q", name)
	}
	if v.Kind() != kind {
		return fmt.Errorf("property %q expects %s, got %s", name, kind, v.Kind())
	}
	t[name] = v
	return nil
}

// Get returns the value stored under name.
func (t Table) Get(name Name) (Value, bool) {
	v, ok := t[name]
	return v, ok
}

// Has reports whether name is present.
func (t Table) Has(name Name) bool {
	_, ok := t[name]
	return ok
}

// Names returns the present names in schema order.
func (t Table) Names() []Name {
	names := make([]Name, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	SortNames(names)
	return names
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	for name, v := range t {
		out[name] = v.Clone()
	}
	return out
}

// Merge copies values from src into t. When only is non-nil, just the listed
// names are copied; names absent from src are skipped either way.
func (t Table) Merge(src Table, only []Name) {
	if only == nil {
		for name, v := range src {
			t[name] = v.Clone()
		}
		return
	}
	for _, name := range only {
		if v, ok := src[name]; ok {
			t[name] = v.Clone()
		}
	}
}

// Filter returns a copy holding only the listed names.
func (t Table) Filter(names []Name) Table {
	out := make(Table, len(names))
	out.Merge(t, names)
	return out
}

// Equal reports whether both tables hold the same names and values.
func (t Table) Equal(o Table) bool {
	if len(t) != len(o) {
		return false
	}
	for name, v := range t {
		ov, ok := o[name]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Typed accessors. Each returns the kind default when the name is absent.

func (t Table) str(name Name) string {
	if s, ok := t[name].AsString(); ok {
		return s
	}
	return ""
}

func (t Table) int(name Name) int64 {
	if i, ok := t[name].AsInt(); ok {
		return i
	}
	return -1
}

func (t Table) uint(name Name) uint64 {
	u, _ := t[name].AsUInt()
	return u
}

func (t Table) DisplayName() string { return t.str(DisplayName) }
func (t Table) Path() string        { return t.str(Path) }
func (t Table) Parent() string      { return t.str(Parent) }
func (t Table) Type() string        { return t.str(Type) }
func (t Table) MIMEType() string    { return t.str(MIMEType) }
func (t Table) Artist() string      { return t.str(Artist) }
func (t Table) Album() string       { return t.str(Album) }
func (t Table) Genre() string       { return t.str(Genre) }
func (t Table) Size() int64         { return t.int(Size) }
func (t Table) Duration() int64     { return t.int(Duration) }
func (t Table) ChildCount() uint64  { return t.uint(ChildCount) }
func (t Table) ItemCount() uint64   { return t.uint(ItemCount) }

func (t Table) URLs() []string {
	list, _ := t[URLs].AsStringList()
	if list == nil {
		return []string{}
	}
	return list
}

func (t Table) Searchable() bool {
	b, _ := t[Searchable].AsBool()
	return b
}

// IsContainer reports whether the table describes a container.
func (t Table) IsContainer() bool {
	return t.Type() == TypeContainer
}

// MarshalJSON encodes the table as an object of plain JSON values, keys in
// schema order.
func (t Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range t.Names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(name))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(t[name].Interface())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of plain JSON values, using the schema to
// pick each value's kind.
func (t *Table) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromMap(raw)
	if err != nil {
		return err
	}
	*t = out
	return nil
}

// FromMap builds a table from plain Go values keyed by property name.
func FromMap(raw map[string]any) (Table, error) {
	out := make(Table, len(raw))
	for key, val := range raw {
		name, ok := ParseName(key)
		if !ok {
			return nil, fmt.Errorf("unknown property %q", key)
		}
		kind, _ := KindOf(name)
		v, err := Convert(kind, val)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
