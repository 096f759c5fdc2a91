// Package jsonlogic implements a pure, side-effect-free evaluator for a
// closed subset of JSON-Logic: and, or, not, ==, !=, >, >=, <, <=, in,
// var (dot-path lookup), plus literals. It is the deepest primitive in
// the governance pipeline — every policy ultimately bottoms out here.
package jsonlogic

import "fmt"

// Kind discriminates the tagged union Value represents. Using a closed
// sum instead of bare interface{}/map[string]interface{} keeps
// evaluation allocation-predictable and makes type mismatches a
// compile-time switch instead of a runtime type assertion scattered
// across the evaluator.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is the tagged sum the evaluator, the ghost-state simulators,
// and the canonical serializer all operate over.
type Value struct {
	Kind Kind
	B    bool
	N    float64
	S    string
	A    []Value
	O    map[string]Value
}

func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value            { return Value{Kind: KindBool, B: b} }
func Number(n float64) Value       { return Value{Kind: KindNumber, N: n} }
func String(s string) Value        { return Value{Kind: KindString, S: s} }
func Array(a []Value) Value        { return Value{Kind: KindArray, A: a} }
func Object(o map[string]Value) Value { return Value{Kind: KindObject, O: o} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// FromInterface converts a generic decoded structure (e.g. from
// encoding/json or YAML) into the Value union. Unsupported types yield
// an error so malformed policy/payload documents fail loudly at load
// time rather than silently coercing.
func FromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, e := range t {
			cv, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, cv)
		}
		return Array(arr), nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			cv, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = cv
		}
		return Object(obj), nil
	default:
		return Value{}, fmt.Errorf("jsonlogic: unsupported value type %T", raw)
	}
}

// ToInterface converts back to generic Go values, for serialization via
// internal/canon or a JSON encoder.
func (v Value) ToInterface() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.B
	case KindNumber:
		return v.N
	case KindString:
		return v.S
	case KindArray:
		out := make([]interface{}, len(v.A))
		for i, e := range v.A {
			out[i] = e.ToInterface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.O))
		for k, e := range v.O {
			out[k] = e.ToInterface()
		}
		return out
	default:
		return nil
	}
}

// truthy implements JSON-Logic's loose truthiness for operands that
// aren't already bool (used only internally by evaluator combinators;
// the top-level Evaluate contract always returns a strict bool).
func (v Value) truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.B
	case KindNumber:
		return v.N != 0
	case KindString:
		return v.S != ""
	case KindArray:
		return len(v.A) > 0
	case KindObject:
		return len(v.O) > 0
	default:
		return false
	}
}
