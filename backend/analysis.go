package backend

import (
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// static is what the analysis knows about one stack slot.
type static struct {
	known bool
	v     bytecode.Value
}

func (s static) isInt() bool {
	_, ok := s.v.(int64)
	return s.known && ok
}

func (s static) isNumber() bool {
	if !s.known {
		return false
	}
	switch s.v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func (s static) isNone() bool {
	return s.known && s.v == nil
}

// guard is a specialized site: the shape it was compiled for and whether
// the backend emitted a native fast path for it.
type guard struct {
	shape jit.Shape
	fast  bool
}

// analysis is the per-site plan for one compile.
type analysis struct {
	applied  jit.OptimizationFlags
	interned map[int]bool // compare sites folded to native compares
	probes   map[int]bool // sites instrumented with shape capture
	guards   map[int]guard
	isNone   map[int]bool
}

func isArith(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpBinaryAdd, bytecode.OpBinarySubtract, bytecode.OpBinaryMultiply,
		bytecode.OpBinaryTrueDivide, bytecode.OpBinaryFloorDivide, bytecode.OpBinaryModulo:
		return true
	}
	return false
}

// probeable reports whether PGC captures operand shapes at op.
func probeable(op bytecode.Opcode) bool {
	switch op {
	case bytecode.OpCompareOp, bytecode.OpBinarySubscr, bytecode.OpStoreSubscr, bytecode.OpUnpackSequence:
		return true
	}
	return isArith(op)
}

// hasFastPath reports whether the backend has a native path for op on
// operands of shape s.
func hasFastPath(op bytecode.Opcode, s jit.Shape) bool {
	if !s.Is(jit.KindInt, jit.KindInt) && !s.Is(jit.KindFloat, jit.KindFloat) {
		return false
	}
	switch op {
	case bytecode.OpBinaryAdd, bytecode.OpBinarySubtract, bytecode.OpBinaryMultiply, bytecode.OpCompareOp:
		return true
	}
	return false
}

// analyze decides which permitted flags apply to the unit and which sites
// get probes, guards or folded compares. Constants are tracked through the
// stack and through locals stored exactly once.
func analyze(p *program, req jit.CompileRequest) *analysis {
	a := &analysis{
		interned: make(map[int]bool),
		probes:   make(map[int]bool),
		guards:   make(map[int]guard),
		isNone:   make(map[int]bool),
	}
	permitted := req.Flags
	var used jit.OptimizationFlags

	c := p.chunk
	stores := make(map[int]int)
	for _, in := range p.ins {
		if in.Op == bytecode.OpStoreFast || in.Op == bytecode.OpDeleteFast {
			stores[in.Arg]++
		}
	}
	locals := make(map[int]static)

	assumed := make(map[int]jit.Shape, len(req.Assumptions))
	for _, pr := range req.Assumptions {
		assumed[pr.Site] = pr.Shape
	}

	var stack []static
	pushUnknown := func(n int) {
		for i := 0; i < n; i++ {
			stack = append(stack, static{})
		}
	}
	popN := func(n int) []static {
		if n > len(stack) {
			n = len(stack)
		}
		out := append([]static(nil), stack[len(stack)-n:]...)
		stack = stack[:len(stack)-n]
		return out
	}

	reset := true
	for i, in := range p.ins {
		if p.depth[i] < 0 {
			reset = true
			continue
		}
		if reset || p.targets[in.Offset] {
			stack = stack[:0]
			pushUnknown(p.depth[i])
			reset = false
		}

		switch in.Op {
		case bytecode.OpIsOp:
			used |= jit.InlineIs
			if ops := stack[len(stack)-2:]; ops[0].isNone() || ops[1].isNone() {
				used |= jit.IsNone
				a.isNone[in.Offset] = permitted.Has(jit.IsNone)
			}
		case bytecode.OpPopTop, bytecode.OpStoreFast, bytecode.OpDeleteFast:
			used |= jit.InlineDecref
		case bytecode.OpCompareOp:
			if ops := stack[len(stack)-2:]; ops[0].isInt() && ops[1].isInt() && permitted.Has(jit.InternRichCompare) {
				used |= jit.InternRichCompare
				a.interned[in.Offset] = true
			}
		case bytecode.OpCallFunction:
			used |= jit.FunctionCalls | jit.InlineFramePushPop
		case bytecode.OpStoreSubscr:
			used |= jit.KnownStoreSubscr
		case bytecode.OpBinarySubscr:
			used |= jit.KnownBinarySubscr
		case bytecode.OpGetIter, bytecode.OpForIter:
			used |= jit.InlineIterators
		case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
			used |= jit.HashedNames
		case bytecode.OpLoadMethod, bytecode.OpCallMethod:
			used |= jit.BuiltinMethods
		case bytecode.OpLoadAttr:
			used |= jit.LoadAttr
		}
		if isArith(in.Op) {
			used |= jit.TypeSlotLookups
			ops := stack[len(stack)-2:]
			if ops[0].isNumber() && ops[1].isNumber() {
				used |= jit.Unboxing
				if in.Op == bytecode.OpBinaryMultiply && ops[0].isInt() && ops[1].isInt() {
					used |= jit.IntegerUnboxingMultiply
				}
			}
		}

		if probeable(in.Op) && !a.interned[in.Offset] {
			if shape, ok := assumed[in.Offset]; ok {
				g := guard{shape: shape}
				if hasFastPath(in.Op, shape) && permitted.Has(jit.Unboxing) {
					g.fast = true
					used |= jit.Unboxing
					if shape.Is(jit.KindInt, jit.KindInt) {
						used |= jit.OptimisticIntegers
						if in.Op == bytecode.OpBinaryMultiply {
							used |= jit.IntegerUnboxingMultiply
						}
					}
				}
				a.guards[in.Offset] = g
			} else if req.PGC && !req.Specialized() {
				a.probes[in.Offset] = true
			}
		}

		// Abstract stack effect.
		switch in.Op {
		case bytecode.OpLoadConst:
			stack = append(stack, static{known: true, v: c.Constants[in.Arg]})
		case bytecode.OpLoadFast:
			stack = append(stack, locals[in.Arg])
		case bytecode.OpStoreFast:
			v := popN(1)[0]
			if stores[in.Arg] == 1 && in.Arg >= c.ParamCount && v.known {
				locals[in.Arg] = v
			}
		case bytecode.OpDupTop:
			stack = append(stack, stack[len(stack)-1])
		case bytecode.OpRotTwo:
			n := len(stack)
			stack[n-1], stack[n-2] = stack[n-2], stack[n-1]
		case bytecode.OpUnpackSequence:
			v := popN(1)[0]
			if t, ok := v.v.(bytecode.Tuple); v.known && ok && len(t) == in.Arg {
				for j := len(t) - 1; j >= 0; j-- {
					stack = append(stack, static{known: true, v: t[j]})
				}
			} else {
				pushUnknown(in.Arg)
			}
		case bytecode.OpForIter:
			popN(1)
			pushUnknown(2)
		default:
			popN(pops(in))
			if push := bytecode.GetOpcodeInfo(in.Op).StackPush; push > 0 {
				pushUnknown(push)
			}
		}
		if in.Op.IsReturn() || in.Op == bytecode.OpJumpAbsolute {
			reset = true
		}
	}

	a.applied = used & permitted
	return a
}
