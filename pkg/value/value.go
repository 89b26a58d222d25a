package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which alternative a Value holds.
type Kind uint8

const (
	// KindAbsent marks a key that is known but has no determinable value.
	KindAbsent Kind = iota
	KindInt
	KindDouble
	KindBool
	KindString
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a kind name as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "absent", "undetermined":
		return KindAbsent, nil
	case "int", "integer":
		return KindInt, nil
	case "double", "float":
		return KindDouble, nil
	case "bool", "boolean", "truth":
		return KindBool, nil
	case "string":
		return KindString, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Errors returned by this package.
var (
	ErrUnknownKind   = errors.New("unknown value kind")
	ErrUnsupported   = errors.New("unsupported value type")
	ErrIntOutOfRange = errors.New("integer out of range")
)

// Value is a context property value: an integer, a double, a boolean, a
// string, or absent.
//
// The zero Value is absent.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Absent returns the absent value.
func Absent() Value { return Value{} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Double returns a floating point value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the absent value.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsDouble returns the double held by v.
func (v Value) AsDouble() (float64, bool) {
	return v.f, v.kind == KindDouble
}

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) {
	return v.i != 0, v.kind == KindBool
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// Equal reports whether v and o hold the same kind and payload. Doubles are
// compared bitwise so that NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindInt, KindBool:
		return v.i == o.i
	case KindDouble:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	}
	return false
}

// Interface returns the payload as a Go value: int64, float64, bool, string,
// or nil when absent.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindDouble:
		return v.f
	case KindBool:
		return v.i != 0
	case KindString:
		return v.s
	}
	return nil
}

// String formats v for humans.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindString:
		return strconv.Quote(v.s)
	}
	return "<absent>"
}

// Of converts a Go value to a Value.
func Of(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Absent(), nil
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
		return ofUint(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return ofUint(t)
	case float32:
		return Double(float64(t)), nil
	case float64:
		return Double(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, x)
	}
}

func ofUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d", ErrIntOutOfRange, u)
	}
	return Int(int64(u)), nil
}

// Parse converts text to a Value of the given kind.
func Parse(kind Kind, text string) (Value, error) {
	switch kind {
	case KindAbsent:
		return Absent(), nil
	case KindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("failed to parse int: %w", err)
		}
		return Int(i), nil
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("failed to parse double: %w", err)
		}
		return Double(f), nil
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("failed to parse bool: %w", err)
		}
		return Bool(b), nil
	case KindString:
		return String(text), nil
	}
	return Value{}, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
}

// Guess converts free-form text to the narrowest matching Value: booleans,
// then integers, then doubles, falling back to a string. Quoted text is
// always a string.
func Guess(text string) Value {
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		if s, err := strconv.Unquote(text); err == nil {
			return String(s)
		}
	}
	switch text {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return Double(f)
	}
	return String(text)
}
