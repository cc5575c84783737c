package bytecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is any value the interpreter manipulates. The dynamic types used are:
//
//	nil                   None
//	bool                  True / False
//	int64                 int
//	float64               float
//	string                str
//	Tuple                 immutable sequence
//	*List                 mutable sequence
//	*Dict                 insertion-ordered mapping
//	*Function             a code unit bound to its module globals
//	*Builtin, *BoundMethod callables provided by the runtime
//	*Generator            the result of calling a generator body
//	*Iterator             the result of GET_ITER
type Value = any

// Tuple is an immutable sequence.
type Tuple []Value

// List is a mutable sequence. It is a pointer type so that aliasing behaves
// like the host language.
type List struct {
	Items []Value
}

// NewList creates a list holding items.
func NewList(items ...Value) *List {
	return &List{Items: append([]Value(nil), items...)}
}

// Dict is an insertion-ordered mapping with linear key lookup.
type Dict struct {
	keys   []Value
	values []Value
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{}
}

func (d *Dict) index(key Value) int {
	for i, k := range d.keys {
		if Equal(k, key) {
			return i
		}
	}
	return -1
}

// Get returns the value stored under key.
func (d *Dict) Get(key Value) (Value, bool) {
	if i := d.index(key); i >= 0 {
		return d.values[i], true
	}
	return nil, false
}

// Set stores value under key.
func (d *Dict) Set(key, value Value) {
	if i := d.index(key); i >= 0 {
		d.values[i] = value
		return
	}
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []Value {
	return append([]Value(nil), d.keys...)
}

// Generator holds the values produced by a generator body.
type Generator struct {
	Name  string
	Items []Value
}

// Iterator walks a sequence snapshot.
type Iterator struct {
	items []Value
	pos   int
}

// Next returns the next item, or false when exhausted.
func (it *Iterator) Next() (Value, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

// Range is the lazy integer sequence returned by range().
type Range struct {
	Start, Stop, Step int64
}

// Len returns the number of integers in the range.
func (r Range) Len() int64 {
	if r.Step > 0 && r.Start < r.Stop {
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Step < 0 && r.Start > r.Stop {
		return (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return 0
}

func (r Range) items() []Value {
	n := r.Len()
	items := make([]Value, 0, n)
	for i := int64(0); i < n; i++ {
		items = append(items, r.Start+i*r.Step)
	}
	return items
}

// Function is a callable code unit.
type Function struct {
	Chunk   *Chunk
	Globals *Globals
}

// Name returns the function name.
func (f *Function) Name() string {
	return f.Chunk.Name()
}

// TypeName returns the host-language type name of v.
func TypeName(v Value) string {
	switch x := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case Tuple:
		return "tuple"
	case *List:
		return "list"
	case *Dict:
		return "dict"
	case *Function:
		return "function"
	case *Builtin:
		return "builtin_function_or_method"
	case *BoundMethod:
		return "method"
	case *Generator:
		return "generator"
	case *Iterator:
		return "iterator"
	case Range:
		return "range"
	case *RuntimeError:
		return x.Kind
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Truthy implements the host truth test.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case Tuple:
		return len(x) > 0
	case *List:
		return len(x.Items) > 0
	case *Dict:
		return x.Len() > 0
	default:
		return true
	}
}

// Equal implements the host == operator.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		switch y := b.(type) {
		case bool:
			return x == y
		case int64:
			return boolInt(x) == y
		}
		return false
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		case bool:
			return x == boolInt(y)
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case string:
		y, ok := b.(string)
		return ok && x == y
	case Tuple:
		y, ok := b.(Tuple)
		return ok && equalSlices(x, y)
	case *List:
		y, ok := b.(*List)
		return ok && equalSlices(x.Items, y.Items)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			v, found := y.Get(k)
			if !found || !Equal(x.values[i], v) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Identical implements the host "is" operator.
func Identical(a, b Value) bool {
	switch x := a.(type) {
	case nil, bool:
		return a == b
	case int64:
		// small integers are interned by the host
		y, ok := b.(int64)
		return ok && x == y && x >= -5 && x <= 256
	case string:
		y, ok := b.(string)
		return ok && x == y
	case Tuple:
		y, ok := b.(Tuple)
		return ok && len(x) == 0 && len(y) == 0
	default:
		return a == b
	}
}

func equalSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Repr renders v the way the host language would.
func Repr(v Value) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		return strconv.Quote(x)
	case Tuple:
		if len(x) == 1 {
			return "(" + Repr(x[0]) + ",)"
		}
		return "(" + joinRepr(x) + ")"
	case *List:
		return "[" + joinRepr(x.Items) + "]"
	case *Dict:
		parts := make([]string, len(x.keys))
		for i, k := range x.keys {
			parts[i] = Repr(k) + ": " + Repr(x.values[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *Function:
		return fmt.Sprintf("<function %s>", x.Name())
	case *Builtin:
		return fmt.Sprintf("<built-in function %s>", x.Name)
	case *BoundMethod:
		return fmt.Sprintf("<method %s of %s>", x.Name, TypeName(x.Receiver))
	case *Generator:
		return fmt.Sprintf("<generator %s>", x.Name)
	case Range:
		if x.Step == 1 {
			return fmt.Sprintf("range(%d, %d)", x.Start, x.Stop)
		}
		return fmt.Sprintf("range(%d, %d, %d)", x.Start, x.Stop, x.Step)
	case *RuntimeError:
		return x.Kind + "(" + strconv.Quote(x.Msg) + ")"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Str renders v for print().
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

func joinRepr(items []Value) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = Repr(it)
	}
	return strings.Join(parts, ", ")
}

// sequenceItems returns the items of an iterable value.
func sequenceItems(v Value) ([]Value, bool) {
	switch x := v.(type) {
	case Tuple:
		return x, true
	case *List:
		return x.Items, true
	case *Dict:
		return x.Keys(), true
	case *Generator:
		return x.Items, true
	case string:
		items := make([]Value, 0, len(x))
		for _, r := range x {
			items = append(items, string(r))
		}
		return items, true
	case *Iterator:
		return x.items[x.pos:], true
	case Range:
		return x.items(), true
	}
	return nil, false
}
