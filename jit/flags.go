package jit

import (
	"fmt"
	"math/bits"
	"strings"
)

// OptimizationFlags is the set of specialization strategies a backend may
// apply to a unit.
type OptimizationFlags uint32

const (
	InlineIs                OptimizationFlags = 1 << 0
	InlineDecref            OptimizationFlags = 1 << 1
	InternRichCompare       OptimizationFlags = 1 << 2
	InlineFramePushPop      OptimizationFlags = 1 << 3
	KnownStoreSubscr        OptimizationFlags = 1 << 4
	KnownBinarySubscr       OptimizationFlags = 1 << 5
	InlineIterators         OptimizationFlags = 1 << 6
	HashedNames             OptimizationFlags = 1 << 7
	BuiltinMethods          OptimizationFlags = 1 << 8
	TypeSlotLookups         OptimizationFlags = 1 << 9
	FunctionCalls           OptimizationFlags = 1 << 10
	LoadAttr                OptimizationFlags = 1 << 11
	Unboxing                OptimizationFlags = 1 << 12
	IsNone                  OptimizationFlags = 1 << 13
	IntegerUnboxingMultiply OptimizationFlags = 1 << 14
	OptimisticIntegers      OptimizationFlags = 1 << 15
)

// AttrTypeTable is the settings-level name of IsNone. Both name bit 8192,
// which enables the inlined "is None" test.
const AttrTypeTable = IsNone

// flagAliases are extra names accepted by ParseFlags. Names and String
// always use the primary name.
var flagAliases = map[string]OptimizationFlags{
	"attrtypetable": AttrTypeTable,
}

// NoFlags is the empty set.
const NoFlags OptimizationFlags = 0

// MaxLevel is the highest optimization level.
const MaxLevel = 2

// level1Flags are safe for any workload.
const level1Flags = InlineIs | InlineDecref | InternRichCompare | InlineFramePushPop |
	KnownStoreSubscr | KnownBinarySubscr | InlineIterators | HashedNames |
	BuiltinMethods | TypeSlotLookups | FunctionCalls | LoadAttr | Unboxing | IsNone

// level2Flags add the speculative integer strategies.
const level2Flags = level1Flags | IntegerUnboxingMultiply | OptimisticIntegers

// AllFlags is every defined flag.
const AllFlags = level2Flags

var flagNames = []struct {
	flag OptimizationFlags
	name string
}{
	{InlineIs, "InlineIs"},
	{InlineDecref, "InlineDecref"},
	{InternRichCompare, "InternRichCompare"},
	{InlineFramePushPop, "InlineFramePushPop"},
	{KnownStoreSubscr, "KnownStoreSubscr"},
	{KnownBinarySubscr, "KnownBinarySubscr"},
	{InlineIterators, "InlineIterators"},
	{HashedNames, "HashedNames"},
	{BuiltinMethods, "BuiltinMethods"},
	{TypeSlotLookups, "TypeSlotLookups"},
	{FunctionCalls, "FunctionCalls"},
	{LoadAttr, "LoadAttr"},
	{Unboxing, "Unboxing"},
	{IsNone, "IsNone"},
	{IntegerUnboxingMultiply, "IntegerUnboxingMultiply"},
	{OptimisticIntegers, "OptimisticIntegers"},
}

// PermittedFlags returns the flags a level allows. Levels outside 0..MaxLevel
// permit nothing.
func PermittedFlags(level int) OptimizationFlags {
	switch level {
	case 1:
		return level1Flags
	case 2:
		return level2Flags
	}
	return NoFlags
}

// Has reports whether every flag in other is set.
func (f OptimizationFlags) Has(other OptimizationFlags) bool {
	return f&other == other
}

// Count returns the number of set flags.
func (f OptimizationFlags) Count() int {
	return bits.OnesCount32(uint32(f))
}

// Names returns the names of the set flags in value order.
func (f OptimizationFlags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

// String renders the set as "A|B", or "none".
func (f OptimizationFlags) String() string {
	if f == NoFlags {
		return "none"
	}
	s := strings.Join(f.Names(), "|")
	if rest := f &^ AllFlags; rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint32(rest))
	}
	return s
}

// ParseFlags parses a "|" or "," separated list of flag names. The empty
// string and "none" parse to NoFlags.
func ParseFlags(s string) (OptimizationFlags, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return NoFlags, nil
	}
	var out OptimizationFlags
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		name := strings.TrimSpace(part)
		found := false
		for _, fn := range flagNames {
			if strings.EqualFold(fn.name, name) {
				out |= fn.flag
				found = true
				break
			}
		}
		if alias, ok := flagAliases[strings.ToLower(name)]; ok && !found {
			out |= alias
			found = true
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown optimization %q", ErrInvalidConfig, name)
		}
	}
	return out, nil
}
