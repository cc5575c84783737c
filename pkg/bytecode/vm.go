package bytecode

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
)

// DefaultMaxDepth bounds nested function calls.
const DefaultMaxDepth = 500

// RuntimeError is an error raised by user code. Handlers installed with
// SETUP_FINALLY catch it; everything else propagates to the caller.
type RuntimeError struct {
	Kind string
	Msg  string
}

func (e *RuntimeError) Error() string {
	return e.Kind + ": " + e.Msg
}

func raise(kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Globals is a module namespace.
type Globals struct {
	vars map[string]Value
}

// NewGlobals creates an empty namespace.
func NewGlobals() *Globals {
	return &Globals{vars: make(map[string]Value)}
}

// NewModuleGlobals creates a namespace holding every function of m.
func NewModuleGlobals(m *Module) *Globals {
	g := NewGlobals()
	for _, c := range m.Chunks {
		g.Set(c.Name(), &Function{Chunk: c, Globals: g})
	}
	return g
}

// Get returns the value bound to name.
func (g *Globals) Get(name string) (Value, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// Set binds name.
func (g *Globals) Set(name string, v Value) {
	g.vars[name] = v
}

// Names returns the bound names in sorted order.
func (g *Globals) Names() []string {
	names := make([]string, 0, len(g.vars))
	for n := range g.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Function returns the function bound to name, if any.
func (g *Globals) Function(name string) (*Function, bool) {
	v, ok := g.vars[name]
	if !ok {
		return nil, false
	}
	fn, ok := v.(*Function)
	return fn, ok
}

// Invoker runs calls to user functions. The host installs one that routes
// calls through the JIT; without one the interpreter runs the body itself.
type Invoker interface {
	Invoke(ctx context.Context, fn *Function, args []Value, depth int) (Value, error)
}

// Hooks let compiled code observe and intercept execution. All fields are
// optional.
type Hooks struct {
	Enter func()
	Line  func(line int)
	Exit  func()

	// Step is called before each instruction that pops a fixed number of
	// operands, with those operands in push order. For value-producing
	// operators a handled result replaces the generic computation.
	Step func(ins Instruction, operands []Value) (result Value, handled bool)
}

// Interpreter is the baseline stack machine.
type Interpreter struct {
	Builtins map[string]*Builtin
	Invoker  Invoker
	Out      io.Writer
	MaxDepth int
}

// NewInterpreter creates an interpreter with the standard builtins writing
// print() output to out (stdout when nil).
func NewInterpreter(out io.Writer) *Interpreter {
	if out == nil {
		out = os.Stdout
	}
	return &Interpreter{
		Builtins: StandardBuiltins(),
		Out:      out,
		MaxDepth: DefaultMaxDepth,
	}
}

// Call calls any callable value.
func (in *Interpreter) Call(ctx context.Context, callee Value, args []Value, depth int) (Value, error) {
	switch fn := callee.(type) {
	case *Function:
		if in.Invoker != nil {
			return in.Invoker.Invoke(ctx, fn, args, depth)
		}
		return in.Run(ctx, fn, args, depth, nil)
	case *Builtin:
		return fn.Fn(&CallContext{Ctx: ctx, Interp: in, Depth: depth}, args)
	case *BoundMethod:
		return fn.Fn(fn.Receiver, args)
	}
	return nil, raise("TypeError", "'%s' object is not callable", TypeName(callee))
}

type blockKind uint8

const (
	blockFinally blockKind = iota
	blockWith
)

type block struct {
	kind    blockKind
	handler int
	level   int
}

type unboundLocal struct{}

type frame struct {
	in     *Interpreter
	fn     *Function
	chunk  *Chunk
	depth  int
	locals []Value
	stack  []Value
	blocks []block
	yields []Value
}

// Run executes fn with args on the interpreter. hooks may be nil.
func (in *Interpreter) Run(ctx context.Context, fn *Function, args []Value, depth int, hooks *Hooks) (Value, error) {
	c := fn.Chunk
	if len(args) != c.ParamCount {
		return nil, raise("TypeError", "%s() takes %d positional arguments but %d were given", c.Name(), c.ParamCount, len(args))
	}
	max := in.MaxDepth
	if max <= 0 {
		max = DefaultMaxDepth
	}
	if depth > max {
		return nil, raise("RecursionError", "maximum recursion depth exceeded")
	}
	if hooks == nil {
		hooks = &Hooks{}
	}

	f := &frame{
		in:     in,
		fn:     fn,
		chunk:  c,
		depth:  depth,
		locals: make([]Value, len(c.VarNames)),
		stack:  make([]Value, 0, 16),
	}
	for i := range f.locals {
		f.locals[i] = unboundLocal{}
	}
	copy(f.locals, args)

	if hooks.Enter != nil {
		hooks.Enter()
	}
	if hooks.Exit != nil {
		defer hooks.Exit()
	}
	return f.run(ctx, hooks)
}

func (f *frame) push(v Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []Value {
	vals := make([]Value, n)
	copy(vals, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

func (f *frame) top() Value {
	return f.stack[len(f.stack)-1]
}

// fixedOperands returns how many stack values ins consumes, or -1.
func fixedOperands(ins Instruction) int {
	switch ins.Op {
	case OpDupTop, OpRotTwo, OpForIter, OpGetIter, OpSetupWith, OpYieldValue, OpYieldFrom,
		OpStoreFast, OpStoreGlobal, OpPopTop, OpPopJumpIfFalse, OpPopJumpIfTrue, OpReturnValue:
		return -1
	case OpCallFunction, OpCallMethod:
		return ins.Arg + 1
	}
	n := GetOpcodeInfo(ins.Op).StackPop
	if n <= 0 {
		return -1
	}
	return n
}

// interceptable reports whether a handled Step result may replace the
// instruction's own computation.
func interceptable(op Opcode) bool {
	switch op {
	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinaryTrueDivide,
		OpBinaryFloorDivide, OpBinaryModulo, OpUnaryNegative, OpUnaryNot,
		OpCompareOp, OpIsOp, OpContainsOp, OpBinarySubscr:
		return true
	}
	return false
}

func (f *frame) run(ctx context.Context, hooks *Hooks) (Value, error) {
	pc := 0
	lastLine := -1
	for {
		ins, err := f.chunk.DecodeAt(pc)
		if err != nil {
			return nil, err
		}
		if hooks.Line != nil && ins.Line != lastLine && ins.Line > 0 {
			lastLine = ins.Line
			hooks.Line(ins.Line)
		}

		if hooks.Step != nil {
			if n := fixedOperands(ins); n > 0 && n <= len(f.stack) {
				res, handled := hooks.Step(ins, f.stack[len(f.stack)-n:])
				if handled && interceptable(ins.Op) {
					f.stack = f.stack[:len(f.stack)-n]
					f.push(res)
					pc = ins.Next()
					continue
				}
			}
		}

		next, ret, done, err := f.step(ctx, ins)
		if err != nil {
			rerr, ok := err.(*RuntimeError)
			if !ok || len(f.blocks) == 0 {
				return nil, err
			}
			b := f.blocks[len(f.blocks)-1]
			f.blocks = f.blocks[:len(f.blocks)-1]
			f.stack = f.stack[:b.level]
			f.push(rerr)
			pc = b.handler
			continue
		}
		if done {
			if f.chunk.Flags&FlagGenerator != 0 {
				return &Generator{Name: f.chunk.Name(), Items: f.yields}, nil
			}
			return ret, nil
		}
		pc = next
	}
}

// step executes one instruction and returns the next pc.
func (f *frame) step(ctx context.Context, ins Instruction) (next int, ret Value, done bool, err error) {
	next = ins.Next()
	c := f.chunk

	switch ins.Op {
	case OpNop:
	case OpPopTop:
		f.pop()
	case OpDupTop:
		f.push(f.top())
	case OpRotTwo:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

	case OpLoadConst:
		if ins.Arg >= len(c.Constants) {
			return 0, nil, false, fmt.Errorf("%s: constant %d out of range", c.Name(), ins.Arg)
		}
		f.push(c.Constants[ins.Arg])
	case OpLoadFast:
		v := f.locals[ins.Arg]
		if _, ok := v.(unboundLocal); ok {
			return 0, nil, false, raise("UnboundLocalError", "local variable '%s' referenced before assignment", c.VarNames[ins.Arg])
		}
		f.push(v)
	case OpStoreFast:
		f.locals[ins.Arg] = f.pop()
	case OpDeleteFast:
		f.locals[ins.Arg] = unboundLocal{}
	case OpLoadGlobal:
		name := c.Names[ins.Arg]
		if v, ok := f.fn.Globals.Get(name); ok {
			f.push(v)
		} else if b, ok := f.in.Builtins[name]; ok {
			f.push(b)
		} else {
			return 0, nil, false, raise("NameError", "name '%s' is not defined", name)
		}
	case OpStoreGlobal:
		f.fn.Globals.Set(c.Names[ins.Arg], f.pop())
	case OpLoadAttr:
		v, err := getAttr(f.pop(), c.Names[ins.Arg])
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case OpLoadMethod:
		m, err := lookupMethod(f.pop(), c.Names[ins.Arg])
		if err != nil {
			return 0, nil, false, err
		}
		f.push(m)

	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinaryTrueDivide,
		OpBinaryFloorDivide, OpBinaryModulo:
		b := f.pop()
		a := f.pop()
		v, err := Arith(ins.Op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case OpUnaryNegative:
		v, err := Negate(f.pop())
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case OpUnaryNot:
		f.push(!Truthy(f.pop()))

	case OpCompareOp:
		b := f.pop()
		a := f.pop()
		v, err := Compare(CompareKind(ins.Arg), a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case OpIsOp:
		b := f.pop()
		a := f.pop()
		f.push(Identical(a, b) != (ins.Arg != 0))
	case OpContainsOp:
		container := f.pop()
		item := f.pop()
		in, err := Contains(container, item)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(in != (ins.Arg != 0))

	case OpBuildList:
		f.push(&List{Items: f.popN(ins.Arg)})
	case OpBuildTuple:
		f.push(Tuple(f.popN(ins.Arg)))
	case OpBuildMap:
		kv := f.popN(2 * ins.Arg)
		d := NewDict()
		for i := 0; i < len(kv); i += 2 {
			d.Set(kv[i], kv[i+1])
		}
		f.push(d)
	case OpUnpackSequence:
		seq := f.pop()
		items, ok := sequenceItems(seq)
		if !ok {
			return 0, nil, false, raise("TypeError", "cannot unpack non-iterable %s object", TypeName(seq))
		}
		if len(items) > ins.Arg {
			return 0, nil, false, raise("ValueError", "too many values to unpack (expected %d)", ins.Arg)
		}
		if len(items) < ins.Arg {
			return 0, nil, false, raise("ValueError", "not enough values to unpack (expected %d, got %d)", ins.Arg, len(items))
		}
		for i := len(items) - 1; i >= 0; i-- {
			f.push(items[i])
		}
	case OpBinarySubscr:
		idx := f.pop()
		container := f.pop()
		v, err := Subscript(container, idx)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case OpStoreSubscr:
		idx := f.pop()
		container := f.pop()
		v := f.pop()
		if err := StoreSubscript(container, idx, v); err != nil {
			return 0, nil, false, err
		}

	case OpJumpAbsolute:
		if err := ctx.Err(); err != nil {
			return 0, nil, false, err
		}
		next = ins.Arg
	case OpPopJumpIfFalse:
		if !Truthy(f.pop()) {
			next = ins.Arg
		}
	case OpPopJumpIfTrue:
		if Truthy(f.pop()) {
			next = ins.Arg
		}
	case OpGetIter:
		v := f.pop()
		if it, ok := v.(*Iterator); ok {
			f.push(it)
			break
		}
		items, ok := sequenceItems(v)
		if !ok {
			return 0, nil, false, raise("TypeError", "'%s' object is not iterable", TypeName(v))
		}
		f.push(&Iterator{items: append([]Value(nil), items...)})
	case OpForIter:
		it, ok := f.top().(*Iterator)
		if !ok {
			return 0, nil, false, raise("TypeError", "'%s' object is not an iterator", TypeName(f.top()))
		}
		if v, ok := it.Next(); ok {
			f.push(v)
		} else {
			f.pop()
			next = ins.Arg
		}

	case OpCallFunction, OpCallMethod:
		if err := ctx.Err(); err != nil {
			return 0, nil, false, err
		}
		args := f.popN(ins.Arg)
		callee := f.pop()
		v, err := f.call(ctx, callee, args)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)

	case OpSetupFinally:
		f.blocks = append(f.blocks, block{kind: blockFinally, handler: ins.Arg, level: len(f.stack)})
	case OpSetupWith:
		mgr := f.pop()
		f.blocks = append(f.blocks, block{kind: blockWith, handler: ins.Arg, level: len(f.stack)})
		f.push(mgr)
	case OpPopBlock:
		if len(f.blocks) == 0 {
			return 0, nil, false, fmt.Errorf("%s: POP_BLOCK with no active block at offset %d", c.Name(), ins.Offset)
		}
		f.blocks = f.blocks[:len(f.blocks)-1]
	case OpYieldValue:
		f.yields = append(f.yields, f.pop())
		f.push(nil)
	case OpYieldFrom:
		src := f.pop()
		items, ok := sequenceItems(src)
		if !ok {
			return 0, nil, false, raise("TypeError", "'%s' object is not iterable", TypeName(src))
		}
		f.yields = append(f.yields, items...)
		f.push(nil)

	case OpReturnValue:
		return 0, f.pop(), true, nil

	default:
		return 0, nil, false, fmt.Errorf("%s: unknown opcode 0x%02X at offset %d", c.Name(), byte(ins.Op), ins.Offset)
	}
	return next, nil, false, nil
}

func (f *frame) call(ctx context.Context, callee Value, args []Value) (Value, error) {
	if b, ok := callee.(*Builtin); ok {
		return b.Fn(&CallContext{Ctx: ctx, Interp: f.in, Globals: f.fn.Globals, Depth: f.depth, frame: f}, args)
	}
	return f.in.Call(ctx, callee, args, f.depth+1)
}

// localsDict snapshots the bound locals.
func (f *frame) localsDict() *Dict {
	d := NewDict()
	for i, name := range f.chunk.VarNames {
		if _, unbound := f.locals[i].(unboundLocal); !unbound {
			d.Set(name, f.locals[i])
		}
	}
	return d
}
