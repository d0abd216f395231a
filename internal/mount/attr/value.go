package attr

import (
	"fmt"
	"math"
	"strconv"
)

// Type tags the variant held by a Value. Numbers are carried as Int or Float so that an
// integral attribute never turns into a float on the way back.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a tagged scalar: number (int or float), bool or string.
type Value struct {
	t Type
	i int64
	f float64
	b bool
	s string
}

func Int(v int64) Value     { return Value{t: TypeInt, i: v} }
func Float(v float64) Value { return Value{t: TypeFloat, f: v} }
func Bool(v bool) Value     { return Value{t: TypeBool, b: v} }
func String(v string) Value { return Value{t: TypeString, s: v} }

func (v Value) Type() Type    { return v.t }
func (v Value) IsValid() bool { return v.t != TypeInvalid }
func (v Value) IsNumber() bool {
	return v.t == TypeInt || v.t == TypeFloat
}

// AsInt returns the value as an integer. Floats are truncated.
func (v Value) AsInt() (int64, bool) {
	switch v.t {
	case TypeInt:
		return v.i, true
	case TypeFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return 0, false
		}
		return int64(v.f), true
	}
	return 0, false
}

// AsFloat returns the value as a float. Ints are widened.
func (v Value) AsFloat() (float64, bool) {
	switch v.t {
	case TypeFloat:
		return v.f, true
	case TypeInt:
		return float64(v.i), true
	}
	return 0, false
}

func (v Value) AsBool() (bool, bool) {
	if v.t == TypeBool {
		return v.b, true
	}
	return false, false
}

func (v Value) AsString() (string, bool) {
	if v.t == TypeString {
		return v.s, true
	}
	return "", false
}

// Any returns the held value as a plain Go value.
func (v Value) Any() any {
	switch v.t {
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeBool:
		return v.b
	case TypeString:
		return v.s
	}
	return nil
}

// Equal compares type and payload. Floats compare by bit pattern so NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.t != o.t {
		return false
	}
	switch v.t {
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case TypeBool:
		return v.b == o.b
	case TypeString:
		return v.s == o.s
	}
	return true
}

func (v Value) String() string {
	switch v.t {
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	}
	return "<invalid>"
}

// FromAny converts a plain Go scalar to a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("attr: uint64 %d overflows int64", t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	}
	return Value{}, fmt.Errorf("attr: unsupported value type %T", x)
}
