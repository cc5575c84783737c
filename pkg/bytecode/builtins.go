package bytecode

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Builtin is a function implemented by the runtime.
type Builtin struct {
	Name string
	Fn   func(call *CallContext, args []Value) (Value, error)
}

// BoundMethod is a method looked up on a receiver by LOAD_METHOD.
type BoundMethod struct {
	Name     string
	Receiver Value
	Fn       func(recv Value, args []Value) (Value, error)
}

// CallContext is passed to builtins.
type CallContext struct {
	Ctx     context.Context
	Interp  *Interpreter
	Globals *Globals
	Depth   int

	frame *frame
}

// Locals returns the caller's bound locals, or an empty dict when called
// from outside a frame.
func (c *CallContext) Locals() *Dict {
	if c.frame == nil {
		return NewDict()
	}
	return c.frame.localsDict()
}

// FrameGlobalBuiltins are the builtins that read the calling frame.
var FrameGlobalBuiltins = []string{"dir", "vars", "locals", "eval", "exec"}

func arity(name string, args []Value, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return raise("TypeError", "%s() takes exactly %d argument(s) (%d given)", name, min, len(args))
		}
		return raise("TypeError", "%s() takes from %d to %d arguments (%d given)", name, min, max, len(args))
	}
	return nil
}

// StandardBuiltins returns a fresh builtin table.
func StandardBuiltins() map[string]*Builtin {
	table := map[string]*Builtin{}
	def := func(name string, fn func(call *CallContext, args []Value) (Value, error)) {
		table[name] = &Builtin{Name: name, Fn: fn}
	}

	def("len", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("len", args, 1, 1); err != nil {
			return nil, err
		}
		switch x := args[0].(type) {
		case string:
			return int64(len([]rune(x))), nil
		case *Dict:
			return int64(x.Len()), nil
		case Range:
			return x.Len(), nil
		case *Generator:
			return nil, raise("TypeError", "object of type 'generator' has no len()")
		}
		items, ok := sequenceItems(args[0])
		if !ok {
			return nil, raise("TypeError", "object of type '%s' has no len()", TypeName(args[0]))
		}
		return int64(len(items)), nil
	})
	def("list", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("list", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return NewList(), nil
		}
		items, ok := sequenceItems(args[0])
		if !ok {
			return nil, raise("TypeError", "'%s' object is not iterable", TypeName(args[0]))
		}
		return NewList(items...), nil
	})
	def("tuple", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("tuple", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return Tuple{}, nil
		}
		items, ok := sequenceItems(args[0])
		if !ok {
			return nil, raise("TypeError", "'%s' object is not iterable", TypeName(args[0]))
		}
		return append(Tuple(nil), items...), nil
	})
	def("range", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("range", args, 1, 3); err != nil {
			return nil, err
		}
		ints := make([]int64, len(args))
		for i, a := range args {
			n, ok := asInt(a)
			if !ok {
				return nil, raise("TypeError", "'%s' object cannot be interpreted as an integer", TypeName(a))
			}
			ints[i] = n
		}
		r := Range{Step: 1}
		switch len(ints) {
		case 1:
			r.Stop = ints[0]
		case 2:
			r.Start, r.Stop = ints[0], ints[1]
		case 3:
			r.Start, r.Stop, r.Step = ints[0], ints[1], ints[2]
		}
		if r.Step == 0 {
			return nil, raise("ValueError", "range() arg 3 must not be zero")
		}
		return r, nil
	})
	def("print", func(call *CallContext, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = Str(a)
		}
		fmt.Fprintln(call.Interp.Out, strings.Join(parts, " "))
		return nil, nil
	})
	def("str", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("str", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return "", nil
		}
		return Str(args[0]), nil
	})
	def("repr", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("repr", args, 1, 1); err != nil {
			return nil, err
		}
		return Repr(args[0]), nil
	})
	def("int", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("int", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return int64(0), nil
		}
		switch x := args[0].(type) {
		case int64:
			return x, nil
		case bool:
			return boolInt(x), nil
		case float64:
			return int64(math.Trunc(x)), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, raise("ValueError", "invalid literal for int() with base 10: %s", Repr(x))
			}
			return n, nil
		}
		return nil, raise("TypeError", "int() argument must be a string or a number, not '%s'", TypeName(args[0]))
	})
	def("float", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("float", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return 0.0, nil
		}
		if f, ok := asFloat(args[0]); ok {
			return f, nil
		}
		if s, ok := args[0].(string); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, raise("ValueError", "could not convert string to float: %s", Repr(s))
			}
			return f, nil
		}
		return nil, raise("TypeError", "float() argument must be a string or a number, not '%s'", TypeName(args[0]))
	})
	def("abs", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("abs", args, 1, 1); err != nil {
			return nil, err
		}
		if n, ok := asInt(args[0]); ok {
			if n < 0 {
				n = -n
			}
			return n, nil
		}
		if f, ok := args[0].(float64); ok {
			return math.Abs(f), nil
		}
		return nil, raise("TypeError", "bad operand type for abs(): '%s'", TypeName(args[0]))
	})
	def("sum", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("sum", args, 1, 2); err != nil {
			return nil, err
		}
		items, ok := sequenceItems(args[0])
		if !ok {
			return nil, raise("TypeError", "'%s' object is not iterable", TypeName(args[0]))
		}
		var total Value = int64(0)
		if len(args) == 2 {
			total = args[1]
		}
		for _, it := range items {
			var err error
			if total, err = Arith(OpBinaryAdd, total, it); err != nil {
				return nil, err
			}
		}
		return total, nil
	})
	extreme := func(name string, want int) func(*CallContext, []Value) (Value, error) {
		return func(_ *CallContext, args []Value) (Value, error) {
			items := args
			if len(args) == 1 {
				var ok bool
				if items, ok = sequenceItems(args[0]); !ok {
					return nil, raise("TypeError", "'%s' object is not iterable", TypeName(args[0]))
				}
			}
			if len(items) == 0 {
				return nil, raise("ValueError", "%s() arg is an empty sequence", name)
			}
			best := items[0]
			for _, it := range items[1:] {
				c, ok := order(it, best)
				if !ok {
					return nil, raise("TypeError", "'<' not supported between instances of '%s' and '%s'", TypeName(it), TypeName(best))
				}
				if c == want {
					best = it
				}
			}
			return best, nil
		}
	}
	def("min", extreme("min", -1))
	def("max", extreme("max", 1))
	def("type", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("type", args, 1, 1); err != nil {
			return nil, err
		}
		return TypeName(args[0]), nil
	})
	def("isinstance", func(_ *CallContext, args []Value) (Value, error) {
		if err := arity("isinstance", args, 2, 2); err != nil {
			return nil, err
		}
		name, ok := args[1].(string)
		if !ok {
			return nil, raise("TypeError", "isinstance() arg 2 must be a type name")
		}
		return TypeName(args[0]) == name, nil
	})

	// Frame-global builtins
	def("dir", func(call *CallContext, args []Value) (Value, error) {
		if err := arity("dir", args, 0, 0); err != nil {
			return nil, err
		}
		keys := call.Locals().Keys()
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, k.(string))
		}
		sort.Strings(names)
		out := NewList()
		for _, n := range names {
			out.Items = append(out.Items, n)
		}
		return out, nil
	})
	def("locals", func(call *CallContext, args []Value) (Value, error) {
		if err := arity("locals", args, 0, 0); err != nil {
			return nil, err
		}
		return call.Locals(), nil
	})
	def("vars", func(call *CallContext, args []Value) (Value, error) {
		if err := arity("vars", args, 0, 0); err != nil {
			return nil, err
		}
		return call.Locals(), nil
	})
	def("eval", func(call *CallContext, args []Value) (Value, error) {
		if err := arity("eval", args, 1, 1); err != nil {
			return nil, err
		}
		src, ok := args[0].(string)
		if !ok {
			return nil, raise("TypeError", "eval() arg 1 must be a string")
		}
		if v, ok := call.Locals().Get(strings.TrimSpace(src)); ok {
			return v, nil
		}
		v, err := ParseLiteral(src)
		if err != nil {
			return nil, raise("SyntaxError", "%v", err)
		}
		return v, nil
	})
	def("exec", func(_ *CallContext, args []Value) (Value, error) {
		return nil, raise("NotImplementedError", "exec() is not supported")
	})
	return table
}

func method(name string, recv Value, fn func(recv Value, args []Value) (Value, error)) *BoundMethod {
	return &BoundMethod{Name: name, Receiver: recv, Fn: fn}
}

// lookupMethod binds a method of a builtin type.
func lookupMethod(obj Value, name string) (*BoundMethod, error) {
	switch x := obj.(type) {
	case *List:
		switch name {
		case "append":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("append", args, 1, 1); err != nil {
					return nil, err
				}
				x.Items = append(x.Items, args[0])
				return nil, nil
			}), nil
		case "extend":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("extend", args, 1, 1); err != nil {
					return nil, err
				}
				items, ok := sequenceItems(args[0])
				if !ok {
					return nil, raise("TypeError", "'%s' object is not iterable", TypeName(args[0]))
				}
				x.Items = append(x.Items, items...)
				return nil, nil
			}), nil
		case "pop":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("pop", args, 0, 1); err != nil {
					return nil, err
				}
				if len(x.Items) == 0 {
					return nil, raise("IndexError", "pop from empty list")
				}
				var idx Value = int64(-1)
				if len(args) == 1 {
					idx = args[0]
				}
				i, err := normIndex(idx, len(x.Items), "pop")
				if err != nil {
					return nil, err
				}
				v := x.Items[i]
				x.Items = append(x.Items[:i], x.Items[i+1:]...)
				return v, nil
			}), nil
		case "index":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("index", args, 1, 1); err != nil {
					return nil, err
				}
				for i, v := range x.Items {
					if Equal(v, args[0]) {
						return int64(i), nil
					}
				}
				return nil, raise("ValueError", "%s is not in list", Repr(args[0]))
			}), nil
		}
	case *Dict:
		switch name {
		case "get":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("get", args, 1, 2); err != nil {
					return nil, err
				}
				if v, ok := x.Get(args[0]); ok {
					return v, nil
				}
				if len(args) == 2 {
					return args[1], nil
				}
				return nil, nil
			}), nil
		case "keys":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				return NewList(x.Keys()...), nil
			}), nil
		case "values":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				return NewList(x.values...), nil
			}), nil
		case "items":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				out := NewList()
				for i, k := range x.keys {
					out.Items = append(out.Items, Tuple{k, x.values[i]})
				}
				return out, nil
			}), nil
		}
	case string:
		switch name {
		case "upper":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				return strings.ToUpper(x), nil
			}), nil
		case "lower":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				return strings.ToLower(x), nil
			}), nil
		case "strip":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				return strings.TrimSpace(x), nil
			}), nil
		case "split":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				var parts []string
				if len(args) == 0 {
					parts = strings.Fields(x)
				} else if sep, ok := args[0].(string); ok {
					parts = strings.Split(x, sep)
				} else {
					return nil, raise("TypeError", "must be str, not %s", TypeName(args[0]))
				}
				out := NewList()
				for _, p := range parts {
					out.Items = append(out.Items, p)
				}
				return out, nil
			}), nil
		case "join":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("join", args, 1, 1); err != nil {
					return nil, err
				}
				items, ok := sequenceItems(args[0])
				if !ok {
					return nil, raise("TypeError", "can only join an iterable")
				}
				parts := make([]string, len(items))
				for i, it := range items {
					s, ok := it.(string)
					if !ok {
						return nil, raise("TypeError", "sequence item %d: expected str instance, %s found", i, TypeName(it))
					}
					parts[i] = s
				}
				return strings.Join(parts, x), nil
			}), nil
		case "startswith":
			return method(name, x, func(_ Value, args []Value) (Value, error) {
				if err := arity("startswith", args, 1, 1); err != nil {
					return nil, err
				}
				p, ok := args[0].(string)
				if !ok {
					return nil, raise("TypeError", "startswith arg must be str")
				}
				return strings.HasPrefix(x, p), nil
			}), nil
		}
	}
	return nil, raise("AttributeError", "'%s' object has no attribute '%s'", TypeName(obj), name)
}
