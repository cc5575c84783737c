package backend

import (
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// emitter writes the IL-style listing of a compiled unit. Helper calls are
// interned into a token table that backs Artifact.Symbols.
type emitter struct {
	sb      strings.Builder
	indent  int
	tokens  map[string]int
	symbols map[int]string
}

func newEmitter() *emitter {
	return &emitter{tokens: make(map[string]int), symbols: make(map[int]string)}
}

func (e *emitter) writeLine(format string, args ...any) {
	for i := 0; i < e.indent; i++ {
		e.sb.WriteString("    ")
	}
	fmt.Fprintf(&e.sb, format, args...)
	e.sb.WriteByte('\n')
}

// call emits a call to a runtime helper.
func (e *emitter) call(helper string, args ...any) {
	if _, ok := e.tokens[helper]; !ok {
		tok := len(e.tokens)
		e.tokens[helper] = tok
		e.symbols[tok] = helper
	}
	if len(args) == 0 {
		e.writeLine("call %s", helper)
		return
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	e.writeLine("call %s %s", helper, strings.Join(parts, " "))
}

func label(offset int) string {
	return fmt.Sprintf("IL_%04x", offset)
}

// helperName turns BINARY_ADD into BinaryAdd.
func helperName(op bytecode.Opcode) string {
	var sb strings.Builder
	for _, part := range strings.Split(op.String(), "_") {
		if part == "" {
			continue
		}
		sb.WriteString(part[:1])
		sb.WriteString(strings.ToLower(part[1:]))
	}
	return sb.String()
}

var nativeCompare = map[bytecode.CompareKind][]string{
	bytecode.CmpEq: {"ceq"},
	bytecode.CmpNe: {"ceq", "ldc.i4.0", "ceq"},
	bytecode.CmpLt: {"clt"},
	bytecode.CmpGt: {"cgt"},
	bytecode.CmpLe: {"cgt", "ldc.i4.0", "ceq"},
	bytecode.CmpGe: {"clt", "ldc.i4.0", "ceq"},
}

var nativeArith = map[bytecode.Opcode]string{
	bytecode.OpBinaryAdd:      "add",
	bytecode.OpBinarySubtract: "sub",
	bytecode.OpBinaryMultiply: "mul",
}

// emit renders the listing for p under plan a.
func emit(p *program, a *analysis, req jit.CompileRequest) *emitter {
	e := newEmitter()
	c := p.chunk
	applied := a.applied

	e.writeLine(".method %s (%d args, %d locals)", c.Name(), c.ParamCount, len(c.VarNames)-c.ParamCount)
	e.writeLine(".optimizations %s", applied)
	if req.Specialized() {
		for _, pr := range req.Assumptions {
			e.writeLine(".assume site=%d shape=%s", pr.Site, pr.Shape)
		}
	}
	e.writeLine(".maxstack %d", p.maxStack)
	e.indent++
	e.writeLine("ldarg.1")
	if applied.Has(jit.InlineFramePushPop) {
		e.writeLine("stfld tstate.frame")
	} else {
		e.call("PushFrame")
	}
	if req.Tracing {
		e.writeLine("ldarg.1")
		e.call("TraceFrameEntry")
	}
	if req.Profiling {
		e.writeLine("ldarg.1")
		e.call("ProfileFrameEntry")
	}
	e.indent--

	lastLine, debugLine := -1, -1
	for i, in := range p.ins {
		if p.depth[i] < 0 {
			continue
		}
		if req.Debug && in.Line > 0 && in.Line != debugLine {
			debugLine = in.Line
			e.writeLine(".line %d", in.Line)
		}
		detail := strings.Join(strings.Fields(c.FormatInstruction(in)), " ")
		e.writeLine("%s:  // %s", label(in.Offset), detail)
		e.indent++
		if req.Tracing && in.Line > 0 && in.Line != lastLine {
			lastLine = in.Line
			e.writeLine("ldc.i4 %d", in.Line)
			e.call("TraceLine")
		}
		e.instruction(c, in, a, req)
		e.indent--
	}
	return e
}

func (e *emitter) instruction(c *bytecode.Chunk, in bytecode.Instruction, a *analysis, req jit.CompileRequest) {
	applied := a.applied
	if a.probes[in.Offset] {
		e.writeLine("dup.operands")
		e.call("PgcCapture", fmt.Sprintf("site=%d", in.Offset))
	}
	if g, ok := a.guards[in.Offset]; ok {
		e.call("PgcGuard", fmt.Sprintf("site=%d", in.Offset), "shape="+g.shape.String())
		if g.fast {
			e.writeLine("brfalse %s_generic", label(in.Offset))
			if in.Op == bytecode.OpCompareOp {
				for _, op := range nativeCompare[bytecode.CompareKind(in.Arg)] {
					e.writeLine("%s", op)
				}
			} else {
				e.writeLine("%s.ovf", nativeArith[in.Op])
			}
			e.writeLine("br %s", label(in.Offset+in.Len()))
			e.writeLine("%s_generic:", label(in.Offset))
		} else {
			e.call("PgcGuardMiss", fmt.Sprintf("site=%d", in.Offset))
		}
	}

	switch in.Op {
	case bytecode.OpNop:
		e.writeLine("nop")
	case bytecode.OpPopTop:
		e.writeLine("pop")
		e.decref(applied)
	case bytecode.OpDupTop:
		e.writeLine("dup")
	case bytecode.OpRotTwo:
		e.call("RotTwo")
	case bytecode.OpLoadConst:
		switch v := c.Constants[in.Arg].(type) {
		case nil:
			e.writeLine("ldnull")
		case int64:
			e.writeLine("ldc.i8 %d", v)
		case float64:
			e.writeLine("ldc.r8 %v", v)
		case string:
			e.writeLine("ldstr %q", v)
		default:
			e.writeLine("ldconst %d", in.Arg)
		}
	case bytecode.OpLoadFast:
		if in.Arg < c.ParamCount {
			e.writeLine("ldarg.s %d", in.Arg+2)
		} else {
			e.writeLine("ldloc.s %d", in.Arg)
		}
	case bytecode.OpStoreFast:
		e.writeLine("stloc.s %d", in.Arg)
		e.decref(applied)
	case bytecode.OpDeleteFast:
		e.writeLine("ldnull")
		e.writeLine("stloc.s %d", in.Arg)
		e.decref(applied)
	case bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
		name := c.Names[in.Arg]
		if applied.Has(jit.HashedNames) {
			e.writeLine("ldc.i8 0x%016x", nameHash(name))
		}
		e.call(helperName(in.Op), name)
	case bytecode.OpLoadAttr:
		if applied.Has(jit.LoadAttr) {
			e.call("LoadAttrCached", c.Names[in.Arg])
		} else {
			e.call("LoadAttr", c.Names[in.Arg])
		}
	case bytecode.OpLoadMethod:
		if applied.Has(jit.BuiltinMethods) {
			e.call("LoadMethodBuiltin", c.Names[in.Arg])
		} else {
			e.call("LoadMethod", c.Names[in.Arg])
		}
	case bytecode.OpCompareOp:
		kind := bytecode.CompareKind(in.Arg)
		if a.interned[in.Offset] {
			e.writeLine("unbox.i8.pair")
			for _, op := range nativeCompare[kind] {
				e.writeLine("%s", op)
			}
			e.writeLine("box.bool")
			return
		}
		e.call("RichCompare", kind)
	case bytecode.OpIsOp:
		if a.isNone[in.Offset] {
			e.call("IsNone")
		} else if applied.Has(jit.InlineIs) {
			e.writeLine("ceq")
		} else {
			e.call("IsOp")
		}
		if in.Arg != 0 {
			e.writeLine("ldc.i4.0")
			e.writeLine("ceq")
		}
	case bytecode.OpBinarySubscr:
		if applied.Has(jit.KnownBinarySubscr) {
			e.call("BinarySubscrKnown")
		} else {
			e.call("BinarySubscr")
		}
	case bytecode.OpStoreSubscr:
		if applied.Has(jit.KnownStoreSubscr) {
			e.call("StoreSubscrKnown")
		} else {
			e.call("StoreSubscr")
		}
	case bytecode.OpJumpAbsolute:
		e.writeLine("br %s", label(in.Arg))
	case bytecode.OpPopJumpIfFalse:
		e.call("IsTrue")
		e.writeLine("brfalse %s", label(in.Arg))
	case bytecode.OpPopJumpIfTrue:
		e.call("IsTrue")
		e.writeLine("brtrue %s", label(in.Arg))
	case bytecode.OpGetIter:
		e.call("GetIter")
	case bytecode.OpForIter:
		if applied.Has(jit.InlineIterators) {
			e.call("IterNextInline")
		} else {
			e.call("IterNext")
		}
		e.writeLine("brnull %s", label(in.Arg))
	case bytecode.OpCallFunction:
		if applied.Has(jit.FunctionCalls) && in.Arg <= 4 {
			e.call(fmt.Sprintf("Call%d", in.Arg))
		} else {
			e.call("CallN", in.Arg)
		}
	case bytecode.OpCallMethod:
		e.call("CallMethod", in.Arg)
	case bytecode.OpReturnValue:
		if req.Tracing {
			e.writeLine("ldarg.1")
			e.call("TraceFrameExit")
		}
		if req.Profiling {
			e.writeLine("ldarg.1")
			e.call("ProfileFrameExit")
		}
		if !applied.Has(jit.InlineFramePushPop) {
			e.call("PopFrame")
		}
		e.writeLine("ret")
	default:
		if in.Op.OperandLen() > 0 {
			e.call(helperName(in.Op), in.Arg)
		} else {
			e.call(helperName(in.Op))
		}
	}
}

func (e *emitter) decref(applied jit.OptimizationFlags) {
	if applied.Has(jit.InlineDecref) {
		e.writeLine("decref.inline")
	} else {
		e.call("DecRef")
	}
}

// nameHash is FNV-1a over the name, used for hashed global lookups.
func nameHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
