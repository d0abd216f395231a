// Package attr implements the schema-less attribute bag carried by every mount and the
// codec that turns it into a durable blob.
//
// Kind-specific code never reaches into the map directly: the typed accessors on Bag are the
// single place where a stored Value is interpreted as a number, bool or string.
package attr

import "sort"

// Bag maps attribute names to tagged values.
type Bag map[string]Value

// New returns an empty bag.
func New() Bag { return Bag{} }

func (b Bag) Has(name string) bool {
	_, ok := b[name]
	return ok
}

func (b Bag) Get(name string) (Value, bool) {
	v, ok := b[name]
	return v, ok
}

func (b Bag) Int(name string, def int64) int64 {
	if v, ok := b[name]; ok {
		if n, ok := v.AsInt(); ok {
			return n
		}
	}
	return def
}

func (b Bag) Float(name string, def float64) float64 {
	if v, ok := b[name]; ok {
		if f, ok := v.AsFloat(); ok {
			return f
		}
	}
	return def
}

func (b Bag) Bool(name string, def bool) bool {
	if v, ok := b[name]; ok {
		if x, ok := v.AsBool(); ok {
			return x
		}
	}
	return def
}

func (b Bag) String(name string, def string) string {
	if v, ok := b[name]; ok {
		if s, ok := v.AsString(); ok {
			return s
		}
	}
	return def
}

func (b Bag) SetInt(name string, v int64)     { b[name] = Int(v) }
func (b Bag) SetFloat(name string, v float64) { b[name] = Float(v) }
func (b Bag) SetBool(name string, v bool)     { b[name] = Bool(v) }
func (b Bag) SetString(name string, v string) { b[name] = String(v) }
func (b Bag) Delete(name string)              { delete(b, name) }

// Keys returns the attribute names in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy; Values are immutable so this is a full copy.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge copies every entry of o into b, replacing existing names.
func (b Bag) Merge(o Bag) {
	for k, v := range o {
		b[k] = v
	}
}

// Equal reports whether both bags hold the same names with equal values.
func (b Bag) Equal(o Bag) bool {
	if len(b) != len(o) {
		return false
	}
	for k, v := range b {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Map returns the bag as plain Go values.
func (b Bag) Map() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = v.Any()
	}
	return out
}
