package jit

import (
	"sort"
	"strings"
)

// Kind is the coarse runtime type of one value seen at a probe site.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindStr
	KindList
	KindTuple
	KindDict
	KindIterable
	KindObject
)

var kindNames = [...]string{"?", "None", "bool", "int", "float", "str", "list", "tuple", "dict", "iterable", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "?"
}

// MaxShapeArity is the number of operands a shape records.
const MaxShapeArity = 2

// Shape is the observed kinds of the operands at one site. Unused positions
// are KindUnknown. Shapes are comparable.
type Shape struct {
	Kinds [MaxShapeArity]Kind `cbor:"k"`
}

// ShapeOf builds a shape from operand kinds; extra kinds are ignored.
func ShapeOf(kinds ...Kind) Shape {
	var s Shape
	copy(s.Kinds[:], kinds)
	return s
}

// Arity returns the number of recorded operands.
func (s Shape) Arity() int {
	n := 0
	for _, k := range s.Kinds {
		if k != KindUnknown {
			n++
		}
	}
	return n
}

// Is reports whether the shape is exactly the given kinds.
func (s Shape) Is(kinds ...Kind) bool {
	return s == ShapeOf(kinds...)
}

func (s Shape) String() string {
	parts := make([]string, 0, MaxShapeArity)
	for _, k := range s.Kinds {
		if k != KindUnknown {
			parts = append(parts, k.String())
		}
	}
	if len(parts) == 0 {
		return "?"
	}
	return strings.Join(parts, ",")
}

// ShapeProbe is the most recent shape seen at a site and how many merged
// invocations in a row have seen it.
type ShapeProbe struct {
	Site   int   `cbor:"site"`
	Shape  Shape `cbor:"shape"`
	Streak int   `cbor:"streak"`
}

// Observation collects the shapes seen during one invocation of a compiled
// unit, keeping the last shape per site. It is used by a single goroutine.
type Observation struct {
	shapes      map[int]Shape
	guardMisses uint64
}

func newObservation() *Observation {
	return &Observation{}
}

// Observe records the shape seen at site.
func (o *Observation) Observe(site int, s Shape) {
	if o.shapes == nil {
		o.shapes = make(map[int]Shape, 4)
	}
	o.shapes[site] = s
}

// GuardMiss records that a specialized site saw operands outside its
// assumption and took the generic path.
func (o *Observation) GuardMiss(site int) {
	o.guardMisses++
}

// Sites returns the observed sites in ascending order.
func (o *Observation) Sites() []int {
	sites := make([]int, 0, len(o.shapes))
	for site := range o.shapes {
		sites = append(sites, site)
	}
	sort.Ints(sites)
	return sites
}

// Shape returns the shape observed at site.
func (o *Observation) Shape(site int) (Shape, bool) {
	s, ok := o.shapes[site]
	return s, ok
}

// GuardMisses returns the number of guard misses recorded.
func (o *Observation) GuardMisses() uint64 {
	return o.guardMisses
}
