package backend

import (
	"fmt"

	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// program is a decoded unit that passed preprocessing.
type program struct {
	chunk    *bytecode.Chunk
	ins      []bytecode.Instruction
	index    map[int]int // offset -> position in ins
	depth    []int       // stack depth before each instruction; -1 if unreachable
	targets  map[int]bool
	maxStack int
}

func (p *program) at(offset int) (bytecode.Instruction, bool) {
	i, ok := p.index[offset]
	if !ok {
		return bytecode.Instruction{}, false
	}
	return p.ins[i], true
}

// rejection pairs an opcode test with the result it produces. Rules are
// checked in order over the whole unit; the first rule with a match wins.
type rejection struct {
	result jit.CompileResult
	match  func(c *bytecode.Chunk, ins bytecode.Instruction) bool
}

var rejections = []rejection{
	{jit.IncompatibleOpcodeUnknown, func(_ *bytecode.Chunk, ins bytecode.Instruction) bool {
		return !ins.Op.Known()
	}},
	{jit.IncompatibleOpcodeYield, func(_ *bytecode.Chunk, ins bytecode.Instruction) bool {
		return ins.Op == bytecode.OpYieldValue || ins.Op == bytecode.OpYieldFrom
	}},
	{jit.IncompatibleOpcodeWithExcept, func(_ *bytecode.Chunk, ins bytecode.Instruction) bool {
		return ins.Op == bytecode.OpSetupFinally
	}},
	{jit.IncompatibleOpcodeWith, func(_ *bytecode.Chunk, ins bytecode.Instruction) bool {
		return ins.Op == bytecode.OpSetupWith
	}},
	{jit.IncompatibleFrameGlobal, func(c *bytecode.Chunk, ins bytecode.Instruction) bool {
		if ins.Op != bytecode.OpLoadGlobal || ins.Arg >= len(c.Names) {
			return false
		}
		name := c.Names[ins.Arg]
		for _, fg := range bytecode.FrameGlobalBuiltins {
			if name == fg {
				return true
			}
		}
		return false
	}},
}

// preprocess decodes c and rejects what the backend cannot compile.
func preprocess(c *bytecode.Chunk, sizeLimit int) (*program, error) {
	if c.Flags&bytecode.FlagCoroutine != 0 {
		return nil, jit.NewCompileError(jit.IncompatibleCompilerFlags, "code flags %s", c.Flags)
	}
	if sizeLimit > 0 && len(c.Code) > sizeLimit {
		return nil, jit.NewCompileError(jit.IncompatibleSize, "%d bytes exceeds the limit of %d", len(c.Code), sizeLimit)
	}
	ins, err := c.Instructions()
	if err != nil {
		return nil, &jit.CompileError{Result: jit.CompilationJitFailure, Offset: -1, Err: err}
	}
	if len(ins) == 0 {
		return nil, jit.NewCompileError(jit.CompilationJitFailure, "empty code")
	}

	for _, rule := range rejections {
		for _, in := range ins {
			if rule.match(c, in) {
				return nil, &jit.CompileError{
					Result: rule.result,
					Op:     in.Op.String(),
					Offset: in.Offset,
					Err:    fmt.Errorf("line %d", in.Line),
				}
			}
		}
	}

	p := &program{
		chunk:   c,
		ins:     ins,
		index:   make(map[int]int, len(ins)),
		targets: make(map[int]bool),
	}
	for i, in := range ins {
		p.index[in.Offset] = i
	}
	for _, in := range ins {
		if in.Op.IsJump() {
			if _, ok := p.index[in.Arg]; !ok {
				return nil, stackFault(in, "jump to %d is not an instruction boundary", in.Arg)
			}
			p.targets[in.Arg] = true
		}
	}
	if err := p.verifyStack(); err != nil {
		return nil, err
	}
	return p, nil
}

func stackFault(in bytecode.Instruction, format string, args ...any) *jit.CompileError {
	return &jit.CompileError{
		Result: jit.CompilationStackEffectFault,
		Op:     in.Op.String(),
		Offset: in.Offset,
		Err:    fmt.Errorf(format, args...),
	}
}

// pops returns how many values ins consumes.
func pops(in bytecode.Instruction) int {
	switch in.Op {
	case bytecode.OpBuildList, bytecode.OpBuildTuple:
		return in.Arg
	case bytecode.OpBuildMap:
		return 2 * in.Arg
	case bytecode.OpCallFunction, bytecode.OpCallMethod:
		return in.Arg + 1
	}
	return bytecode.GetOpcodeInfo(in.Op).StackPop
}

// verifyStack walks every path and checks that each instruction sees the
// same stack depth from all predecessors, never underflows, and that no
// path runs off the end of the code.
func (p *program) verifyStack() error {
	p.depth = make([]int, len(p.ins))
	for i := range p.depth {
		p.depth[i] = -1
	}
	p.depth[0] = 0
	work := []int{0}

	merge := func(from bytecode.Instruction, offset, d int) error {
		j := p.index[offset]
		switch p.depth[j] {
		case -1:
			p.depth[j] = d
			work = append(work, j)
		case d:
		default:
			return stackFault(from, "stack depth %d reaches offset %d, which expects %d", d, offset, p.depth[j])
		}
		return nil
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := p.ins[i]
		d := p.depth[i]
		if d > p.maxStack {
			p.maxStack = d
		}
		if n := pops(in); d < n {
			return stackFault(in, "pops %d with only %d on the stack", n, d)
		}
		if in.Op.IsReturn() {
			continue
		}

		next := d + in.Op.StackEffect(in.Arg)
		if next > p.maxStack {
			p.maxStack = next
		}
		if in.Op != bytecode.OpJumpAbsolute {
			if i+1 >= len(p.ins) {
				return stackFault(in, "execution falls off the end of the code")
			}
			if err := merge(in, p.ins[i+1].Offset, next); err != nil {
				return err
			}
		}
		if in.Op.IsJump() {
			target := next
			if in.Op == bytecode.OpForIter {
				target = d - 1
			}
			if err := merge(in, in.Arg, target); err != nil {
				return err
			}
		}
	}
	return nil
}
