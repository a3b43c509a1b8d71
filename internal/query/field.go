package query

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/baechuer/kimg-panel/internal/domain"
)

// Kind is the raw type a field holds in panel state.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is one raw form value. Only the member matching Kind is meaningful.
type Value struct {
	Kind Kind
	B    bool
	I    int
	S    string
}

func Bool(b bool) Value  { return Value{Kind: KindBool, B: b} }
func Int(i int) Value    { return Value{Kind: KindInt, I: i} }
func Str(s string) Value { return Value{Kind: KindString, S: s} }

// Raw returns the value as a plain Go value for JSON views.
func (v Value) Raw() any {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindInt:
		return v.I
	default:
		return v.S
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

// Policy decides whether a raw value reaches the query and how it is written.
type Policy struct {
	Name    string
	Include func(raw, def Value) bool
	Encode  func(raw Value) string
}

var (
	// Gate turns a whole panel on. When false the owning panel encodes nothing.
	Gate = Policy{
		Name:    "gate",
		Include: func(raw, _ Value) bool { return raw.B },
		Encode:  func(Value) string { return "1" },
	}

	// Positive overrides the service default only for values above zero,
	// whatever the panel default is.
	Positive = Policy{
		Name:    "positive",
		Include: func(raw, _ Value) bool { return raw.I > 0 },
		Encode:  func(raw Value) string { return strconv.Itoa(raw.I) },
	}

	// OmitWhenTrue is for switches the service treats as on by default.
	OmitWhenTrue = Policy{
		Name:    "omit_when_true",
		Include: func(raw, _ Value) bool { return !raw.B },
		Encode:  func(Value) string { return "0" },
	}

	Color = Policy{
		Name:    "color",
		Include: func(raw, _ Value) bool { return utf8.RuneCountInString(raw.S) == 6 },
		Encode:  func(raw Value) string { return raw.S },
	}

	Enum = Policy{
		Name:    "enum",
		Include: func(raw, _ Value) bool { return raw.S != "" },
		Encode:  func(raw Value) string { return raw.S },
	}

	Flag = Policy{
		Name:    "flag",
		Include: func(raw, _ Value) bool { return raw.B },
		Encode:  func(Value) string { return "1" },
	}

	// Always has no omission rule; q=0 is still sent.
	Always = Policy{
		Name:    "always",
		Include: func(Value, Value) bool { return true },
		Encode:  func(raw Value) string { return strconv.Itoa(raw.I) },
	}
)

// Field describes one query key of a panel.
type Field struct {
	Key     string
	Kind    Kind
	Default Value
	Policy  Policy
	// Options restricts string fields to a fixed set. Empty means free text.
	Options []string
}

// Include reports whether raw is written to the query.
func (f Field) Include(raw Value) bool {
	return f.Policy.Include(raw, f.Default)
}

// Encode returns the query value for raw.
func (f Field) Encode(raw Value) string {
	return f.Policy.Encode(raw)
}

// Coerce converts a decoded JSON value into the field's Kind.
// Numbers may arrive as float64, json.Number or numeric strings.
func (f Field) Coerce(raw any) (Value, error) {
	switch f.Kind {
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return Bool(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Value{}, f.invalid(raw)
			}
			return Bool(b), nil
		}
	case KindInt:
		switch v := raw.(type) {
		case int:
			return Int(v), nil
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
				return Value{}, f.invalid(raw)
			}
			return Int(int(v)), nil
		case json.Number:
			i, err := strconv.Atoi(v.String())
			if err != nil {
				return Value{}, f.invalid(raw)
			}
			return Int(i), nil
		case string:
			i, err := strconv.Atoi(v)
			if err != nil {
				return Value{}, f.invalid(raw)
			}
			return Int(i), nil
		}
	case KindString:
		v, ok := raw.(string)
		if !ok {
			return Value{}, f.invalid(raw)
		}
		if len(f.Options) > 0 && v != "" && !slices.Contains(f.Options, v) {
			return Value{}, fmt.Errorf("%w: %s must be one of %v", domain.ErrInvalidValue, f.Key, f.Options)
		}
		return Str(v), nil
	}
	return Value{}, f.invalid(raw)
}

func (f Field) invalid(raw any) error {
	return fmt.Errorf("%w: %s expects %s, got %v", domain.ErrInvalidValue, f.Key, f.Kind, raw)
}
