package jsonlogic

import (
	"fmt"
	"strings"
)

// ErrViolation is returned by Evaluate whenever the logic tree is
// malformed, an operand is missing, or an ordered comparison hits a
// type mismatch. Per the fail-closed contract the caller MUST treat
// any non-nil error as a policy violation — it is never safe to treat
// an evaluation error as "no opinion."
type ErrViolation struct {
	Reason string
}

func (e *ErrViolation) Error() string { return "jsonlogic: " + e.Reason }

func violation(format string, args ...interface{}) error {
	return &ErrViolation{Reason: fmt.Sprintf(format, args...)}
}

var operators = map[string]bool{
	"and": true, "or": true, "not": true,
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"in": true, "var": true,
}

// Evaluate is the pure function (logic, data) -> bool. It never
// panics, never retries, and is deterministic: the same (logic, data)
// always yields the same result in-process and across processes.
func Evaluate(logic Value, data Value) (bool, error) {
	v, err := eval(logic, data)
	if err != nil {
		return false, err
	}
	return v.truthy(), nil
}

func eval(logic Value, data Value) (Value, error) {
	switch logic.Kind {
	case KindObject:
		if len(logic.O) != 1 {
			return Value{}, violation("operator object must have exactly one key, got %d", len(logic.O))
		}
		for op, args := range logic.O {
			return evalOp(op, args, data)
		}
		return Value{}, violation("unreachable")
	case KindArray, KindNull, KindBool, KindNumber, KindString:
		// Literal: evaluates to itself.
		return logic, nil
	default:
		return Value{}, violation("unknown logic node kind")
	}
}

// operandList normalizes an operator's argument to a slice: JSON-Logic
// allows a bare non-array value when there is exactly one operand.
func operandList(args Value) []Value {
	if args.Kind == KindArray {
		return args.A
	}
	return []Value{args}
}

func evalOp(op string, args Value, data Value) (Value, error) {
	if !operators[op] {
		return Value{}, violation("unknown operator %q", op)
	}

	switch op {
	case "var":
		return evalVar(args, data)
	case "not":
		list := operandList(args)
		if len(list) != 1 {
			return Value{}, violation("not requires exactly one operand")
		}
		v, err := eval(list[0], data)
		if err != nil {
			return Value{}, err
		}
		return Bool(!v.truthy()), nil
	case "and":
		list := operandList(args)
		if len(list) == 0 {
			return Value{}, violation("and requires at least one operand")
		}
		var last Value = Bool(true)
		for _, a := range list {
			v, err := eval(a, data)
			if err != nil {
				return Value{}, err
			}
			last = v
			if !v.truthy() {
				return v, nil
			}
		}
		return last, nil
	case "or":
		list := operandList(args)
		if len(list) == 0 {
			return Value{}, violation("or requires at least one operand")
		}
		var last Value = Bool(false)
		for _, a := range list {
			v, err := eval(a, data)
			if err != nil {
				return Value{}, err
			}
			last = v
			if v.truthy() {
				return v, nil
			}
		}
		return last, nil
	case "in":
		list := operandList(args)
		if len(list) != 2 {
			return Value{}, violation("in requires exactly two operands")
		}
		needle, err := eval(list[0], data)
		if err != nil {
			return Value{}, err
		}
		haystack, err := eval(list[1], data)
		if err != nil {
			return Value{}, err
		}
		return Bool(contains(haystack, needle)), nil
	case "==", "!=":
		list := operandList(args)
		if len(list) != 2 {
			return Value{}, violation("%s requires exactly two operands", op)
		}
		a, err := eval(list[0], data)
		if err != nil {
			return Value{}, err
		}
		b, err := eval(list[1], data)
		if err != nil {
			return Value{}, err
		}
		eq := equalValues(a, b)
		if op == "==" {
			return Bool(eq), nil
		}
		return Bool(!eq), nil
	case ">", ">=", "<", "<=":
		list := operandList(args)
		if len(list) != 2 {
			return Value{}, violation("%s requires exactly two operands", op)
		}
		a, err := eval(list[0], data)
		if err != nil {
			return Value{}, err
		}
		b, err := eval(list[1], data)
		if err != nil {
			return Value{}, err
		}
		return compareOrdered(op, a, b)
	default:
		return Value{}, violation("unknown operator %q", op)
	}
}

func evalVar(args Value, data Value) (Value, error) {
	list := operandList(args)
	if len(list) == 0 {
		return Value{}, violation("var requires a path operand")
	}
	pathV, err := eval(list[0], data)
	if err != nil {
		return Value{}, err
	}
	if pathV.Kind != KindString {
		return Value{}, violation("var path must be a string")
	}
	path := pathV.S
	if path == "" {
		return data, nil
	}
	v, ok := lookupPath(data, path)
	if !ok {
		if len(list) >= 2 {
			return eval(list[1], data)
		}
		return Null(), nil
	}
	return v, nil
}

func lookupPath(data Value, path string) (Value, bool) {
	cur := data
	for _, seg := range strings.Split(path, ".") {
		if cur.Kind != KindObject {
			return Value{}, false
		}
		next, ok := cur.O[seg]
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

func contains(haystack Value, needle Value) bool {
	switch haystack.Kind {
	case KindArray:
		for _, e := range haystack.A {
			if equalValues(e, needle) {
				return true
			}
		}
		return false
	case KindString:
		if needle.Kind != KindString {
			return false
		}
		return strings.Contains(haystack.S, needle.S)
	default:
		return false
	}
}

func equalValues(a, b Value) bool {
	if a.Kind != b.Kind {
		// Identity comparison across null vs. missing-as-null is
		// already normalized upstream; cross-kind literals are never
		// equal under this closed operator set.
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.B == b.B
	case KindNumber:
		return a.N == b.N
	case KindString:
		return a.S == b.S
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !equalValues(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.O) != len(b.O) {
			return false
		}
		for k, v := range a.O {
			ov, ok := b.O[k]
			if !ok || !equalValues(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// compareOrdered fails closed (returns an error, not false) on any
// type mismatch, including against null from a missing var path — a
// missing path must never silently satisfy ">"/"<".
func compareOrdered(op string, a, b Value) (Value, error) {
	if a.Kind != KindNumber || b.Kind != KindNumber {
		return Value{}, violation("%s requires numeric operands, got %v and %v", op, a.Kind, b.Kind)
	}
	switch op {
	case ">":
		return Bool(a.N > b.N), nil
	case ">=":
		return Bool(a.N >= b.N), nil
	case "<":
		return Bool(a.N < b.N), nil
	case "<=":
		return Bool(a.N <= b.N), nil
	default:
		return Value{}, violation("unreachable operator %q", op)
	}
}
