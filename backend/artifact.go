package backend

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// ErrBadFrame is returned when an artifact is executed with something
// other than a *Frame.
var ErrBadFrame = errors.New("artifact executed with a foreign frame")

// Frame is the host frame a reference artifact executes against.
type Frame struct {
	Interp *bytecode.Interpreter
	Fn     *bytecode.Function
	Args   []bytecode.Value
	Depth  int
}

// Artifact is a compiled unit. It executes on the host interpreter with
// hooks carrying the probes, guards and trace calls of its listing.
type Artifact struct {
	chunk    *bytecode.Chunk
	flags    jit.OptimizationFlags
	listing  string
	graph    string
	hasGraph bool
	symbols  map[int]string
	hooks    jit.HookSet
	probes   map[int]bool
	guards   map[int]guard
	tracer   jit.Tracer
	profiler jit.Profiler
}

func (a *Artifact) Flags() jit.OptimizationFlags { return a.flags }
func (a *Artifact) Disassembly() string          { return a.listing }
func (a *Artifact) Hooks() jit.HookSet           { return a.hooks }

func (a *Artifact) Graph() (string, bool) {
	return a.graph, a.hasGraph
}

func (a *Artifact) Symbols() map[int]string {
	return maps.Clone(a.symbols)
}

// Execute runs the unit against frame, reporting shapes and guard misses
// to probes.
func (a *Artifact) Execute(ctx context.Context, frame any, probes jit.Probes) (any, error) {
	f, ok := frame.(*Frame)
	if !ok || f == nil || f.Interp == nil || f.Fn == nil {
		return nil, fmt.Errorf("%w: %T", ErrBadFrame, frame)
	}
	if f.Fn.Chunk != a.chunk {
		return nil, fmt.Errorf("%w: artifact for %s run with %s", ErrBadFrame, a.chunk.Name(), f.Fn.Name())
	}
	return f.Interp.Run(ctx, f.Fn, f.Args, f.Depth, a.runHooks(probes))
}

func (a *Artifact) runHooks(probes jit.Probes) *bytecode.Hooks {
	h := &bytecode.Hooks{}
	unit := jit.CodeUnit(a.chunk)

	tracer := a.tracer
	if !a.hooks.Tracing {
		tracer = nil
	}
	profiler := a.profiler
	if !a.hooks.Profiling {
		profiler = nil
	}
	if tracer != nil || profiler != nil {
		h.Enter = func() {
			if tracer != nil {
				tracer.OnFrameEntry(unit)
			}
			if profiler != nil {
				profiler.OnCall(unit)
			}
		}
		h.Exit = func() {
			if tracer != nil {
				tracer.OnFrameExit(unit)
			}
			if profiler != nil {
				profiler.OnReturn(unit)
			}
		}
	}
	if tracer != nil {
		h.Line = func(line int) {
			tracer.OnLine(unit, line)
		}
	}

	if len(a.probes) == 0 && len(a.guards) == 0 {
		return h
	}
	h.Step = func(ins bytecode.Instruction, operands []bytecode.Value) (bytecode.Value, bool) {
		if a.probes[ins.Offset] {
			probes.Observe(ins.Offset, siteShape(ins.Op, operands))
			return nil, false
		}
		g, ok := a.guards[ins.Offset]
		if !ok {
			return nil, false
		}
		if siteShape(ins.Op, operands) != g.shape {
			probes.GuardMiss(ins.Offset)
			return nil, false
		}
		if g.fast {
			return fastPath(ins, operands[0], operands[1])
		}
		return nil, false
	}
	return h
}

// fastPath computes ins natively for operands that passed an int,int or
// float,float guard.
func fastPath(ins bytecode.Instruction, x, y bytecode.Value) (bytecode.Value, bool) {
	switch a := x.(type) {
	case int64:
		b := y.(int64)
		switch ins.Op {
		case bytecode.OpBinaryAdd:
			return a + b, true
		case bytecode.OpBinarySubtract:
			return a - b, true
		case bytecode.OpBinaryMultiply:
			return a * b, true
		case bytecode.OpCompareOp:
			return compareOrdered(bytecode.CompareKind(ins.Arg), a, b)
		}
	case float64:
		b := y.(float64)
		switch ins.Op {
		case bytecode.OpBinaryAdd:
			return a + b, true
		case bytecode.OpBinarySubtract:
			return a - b, true
		case bytecode.OpBinaryMultiply:
			return a * b, true
		case bytecode.OpCompareOp:
			return compareOrdered(bytecode.CompareKind(ins.Arg), a, b)
		}
	}
	return nil, false
}

func compareOrdered[T int64 | float64](kind bytecode.CompareKind, a, b T) (bytecode.Value, bool) {
	switch kind {
	case bytecode.CmpLt:
		return a < b, true
	case bytecode.CmpLe:
		return a <= b, true
	case bytecode.CmpEq:
		return a == b, true
	case bytecode.CmpNe:
		return a != b, true
	case bytecode.CmpGt:
		return a > b, true
	case bytecode.CmpGe:
		return a >= b, true
	}
	return nil, false
}
