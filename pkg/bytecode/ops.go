package bytecode

import (
	"math"
	"strings"
)

var arithSymbols = map[Opcode]string{
	OpBinaryAdd:         "+",
	OpBinarySubtract:    "-",
	OpBinaryMultiply:    "*",
	OpBinaryTrueDivide:  "/",
	OpBinaryFloorDivide: "//",
	OpBinaryModulo:      "%",
}

// asInt returns v as an integer if it is an int or bool.
func asInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case bool:
		return boolInt(x), true
	}
	return 0, false
}

// asFloat returns v as a float if it is numeric.
func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case bool:
		return float64(boolInt(x)), true
	}
	return 0, false
}

func unsupported(op Opcode, a, b Value) error {
	return raise("TypeError", "unsupported operand type(s) for %s: '%s' and '%s'", arithSymbols[op], TypeName(a), TypeName(b))
}

// Arith implements the binary arithmetic operators.
func Arith(op Opcode, a, b Value) (Value, error) {
	if x, ok := asInt(a); ok {
		if y, ok := asInt(b); ok {
			return intArith(op, x, y)
		}
	}
	if x, ok := asFloat(a); ok {
		if y, ok := asFloat(b); ok {
			return floatArith(op, x, y)
		}
	}

	switch op {
	case OpBinaryAdd:
		switch x := a.(type) {
		case string:
			if y, ok := b.(string); ok {
				return x + y, nil
			}
		case *List:
			if y, ok := b.(*List); ok {
				items := append(append([]Value(nil), x.Items...), y.Items...)
				return &List{Items: items}, nil
			}
		case Tuple:
			if y, ok := b.(Tuple); ok {
				return append(append(Tuple(nil), x...), y...), nil
			}
		}
	case OpBinaryMultiply:
		if n, ok := asInt(b); ok {
			return repeat(a, n, op, b)
		}
		if n, ok := asInt(a); ok {
			return repeat(b, n, op, a)
		}
	}
	return nil, unsupported(op, a, b)
}

func repeat(seq Value, n int64, op Opcode, other Value) (Value, error) {
	if n < 0 {
		n = 0
	}
	switch x := seq.(type) {
	case string:
		return strings.Repeat(x, int(n)), nil
	case *List:
		out := &List{}
		for i := int64(0); i < n; i++ {
			out.Items = append(out.Items, x.Items...)
		}
		return out, nil
	case Tuple:
		var out Tuple
		for i := int64(0); i < n; i++ {
			out = append(out, x...)
		}
		return out, nil
	}
	return nil, unsupported(op, seq, other)
}

func intArith(op Opcode, x, y int64) (Value, error) {
	switch op {
	case OpBinaryAdd:
		return x + y, nil
	case OpBinarySubtract:
		return x - y, nil
	case OpBinaryMultiply:
		return x * y, nil
	case OpBinaryTrueDivide:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "division by zero")
		}
		return float64(x) / float64(y), nil
	case OpBinaryFloorDivide:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "integer division or modulo by zero")
		}
		q := x / y
		if (x%y != 0) && ((x < 0) != (y < 0)) {
			q--
		}
		return q, nil
	case OpBinaryModulo:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "integer division or modulo by zero")
		}
		m := x % y
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return m, nil
	}
	return nil, raise("TypeError", "bad operator %s", op)
}

func floatArith(op Opcode, x, y float64) (Value, error) {
	switch op {
	case OpBinaryAdd:
		return x + y, nil
	case OpBinarySubtract:
		return x - y, nil
	case OpBinaryMultiply:
		return x * y, nil
	case OpBinaryTrueDivide:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "float division by zero")
		}
		return x / y, nil
	case OpBinaryFloorDivide:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "float floor division by zero")
		}
		return math.Floor(x / y), nil
	case OpBinaryModulo:
		if y == 0 {
			return nil, raise("ZeroDivisionError", "float modulo")
		}
		m := math.Mod(x, y)
		if m != 0 && ((m < 0) != (y < 0)) {
			m += y
		}
		return m, nil
	}
	return nil, raise("TypeError", "bad operator %s", op)
}

// Negate implements unary minus.
func Negate(v Value) (Value, error) {
	if x, ok := asInt(v); ok {
		return -x, nil
	}
	if x, ok := v.(float64); ok {
		return -x, nil
	}
	return nil, raise("TypeError", "bad operand type for unary -: '%s'", TypeName(v))
}

// Compare implements COMPARE_OP.
func Compare(kind CompareKind, a, b Value) (Value, error) {
	switch kind {
	case CmpEq:
		return Equal(a, b), nil
	case CmpNe:
		return !Equal(a, b), nil
	}
	c, ok := order(a, b)
	if !ok {
		return nil, raise("TypeError", "'%s' not supported between instances of '%s' and '%s'", kind, TypeName(a), TypeName(b))
	}
	switch kind {
	case CmpLt:
		return c < 0, nil
	case CmpLe:
		return c <= 0, nil
	case CmpGt:
		return c > 0, nil
	case CmpGe:
		return c >= 0, nil
	}
	return nil, raise("TypeError", "bad comparison %d", uint16(kind))
}

// order compares two orderable values.
func order(a, b Value) (int, bool) {
	if x, ok := asInt(a); ok {
		if y, ok := asInt(b); ok {
			return cmp3(x < y, x > y), true
		}
	}
	if x, ok := asFloat(a); ok {
		if y, ok := asFloat(b); ok {
			return cmp3(x < y, x > y), true
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case Tuple:
		if y, ok := b.(Tuple); ok {
			return orderSlices(x, y)
		}
	case *List:
		if y, ok := b.(*List); ok {
			return orderSlices(x.Items, y.Items)
		}
	}
	return 0, false
}

func orderSlices(a, b []Value) (int, bool) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return order(a[i], b[i])
	}
	return cmp3(len(a) < len(b), len(a) > len(b)), true
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

// Contains implements "item in container".
func Contains(container, item Value) (bool, error) {
	switch x := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, raise("TypeError", "'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(x, s), nil
	case *Dict:
		_, ok := x.Get(item)
		return ok, nil
	case Range:
		n, ok := asInt(item)
		if !ok {
			return false, nil
		}
		for _, v := range x.items() {
			if v.(int64) == n {
				return true, nil
			}
		}
		return false, nil
	}
	items, ok := sequenceItems(container)
	if !ok {
		return false, raise("TypeError", "argument of type '%s' is not iterable", TypeName(container))
	}
	for _, v := range items {
		if Equal(v, item) {
			return true, nil
		}
	}
	return false, nil
}

func normIndex(idx Value, n int, what string) (int, error) {
	i, ok := asInt(idx)
	if !ok {
		return 0, raise("TypeError", "%s indices must be integers, not %s", what, TypeName(idx))
	}
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, raise("IndexError", "%s index out of range", what)
	}
	return int(i), nil
}

// Subscript implements container[idx].
func Subscript(container, idx Value) (Value, error) {
	switch x := container.(type) {
	case *List:
		i, err := normIndex(idx, len(x.Items), "list")
		if err != nil {
			return nil, err
		}
		return x.Items[i], nil
	case Tuple:
		i, err := normIndex(idx, len(x), "tuple")
		if err != nil {
			return nil, err
		}
		return x[i], nil
	case string:
		runes := []rune(x)
		i, err := normIndex(idx, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Dict:
		v, ok := x.Get(idx)
		if !ok {
			return nil, raise("KeyError", "%s", Repr(idx))
		}
		return v, nil
	case Range:
		i, err := normIndex(idx, int(x.Len()), "range object")
		if err != nil {
			return nil, err
		}
		return x.Start + int64(i)*x.Step, nil
	}
	return nil, raise("TypeError", "'%s' object is not subscriptable", TypeName(container))
}

// StoreSubscript implements container[idx] = v.
func StoreSubscript(container, idx, v Value) error {
	switch x := container.(type) {
	case *List:
		i, err := normIndex(idx, len(x.Items), "list assignment")
		if err != nil {
			return err
		}
		x.Items[i] = v
		return nil
	case *Dict:
		x.Set(idx, v)
		return nil
	}
	return raise("TypeError", "'%s' object does not support item assignment", TypeName(container))
}

func getAttr(obj Value, name string) (Value, error) {
	switch x := obj.(type) {
	case *Function:
		if name == "__name__" {
			return x.Name(), nil
		}
	case *Generator:
		if name == "__name__" {
			return x.Name, nil
		}
	case *RuntimeError:
		if name == "args" {
			return Tuple{x.Msg}, nil
		}
	case Range:
		switch name {
		case "start":
			return x.Start, nil
		case "stop":
			return x.Stop, nil
		case "step":
			return x.Step, nil
		}
	}
	if m, err := lookupMethod(obj, name); err == nil {
		return m, nil
	}
	return nil, raise("AttributeError", "'%s' object has no attribute '%s'", TypeName(obj), name)
}
