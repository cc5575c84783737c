// Package host runs assembled bytecode modules with every function call
// routed through a JIT runtime.
package host

import (
	"context"
	"fmt"
	"io"

	"github.com/chazu/pyjion/backend"
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

// Host owns one interpreter and the module loaded into it. Like the
// interpreter it is not safe for concurrent use; servers serialize access
// through a Worker.
type Host struct {
	rt      *jit.Runtime
	interp  *bytecode.Interpreter
	module  *bytecode.Module
	globals *bytecode.Globals
}

// New creates a host whose function calls go through rt. print() output
// goes to out.
func New(rt *jit.Runtime, out io.Writer) *Host {
	h := &Host{
		rt:      rt,
		interp:  bytecode.NewInterpreter(out),
		globals: bytecode.NewGlobals(),
	}
	h.interp.Invoker = h
	return h
}

// Runtime returns the JIT runtime.
func (h *Host) Runtime() *jit.Runtime {
	return h.rt
}

// Interpreter returns the baseline interpreter.
func (h *Host) Interpreter() *bytecode.Interpreter {
	return h.interp
}

// Load installs m's functions as globals, replacing any earlier module.
func (h *Host) Load(m *bytecode.Module) {
	h.module = m
	h.globals = bytecode.NewModuleGlobals(m)
}

// LoadSource assembles src and loads it.
func (h *Host) LoadSource(name, src string) error {
	m, err := bytecode.Assemble(name, src)
	if err != nil {
		return err
	}
	h.Load(m)
	return nil
}

// Module returns the loaded module, or nil.
func (h *Host) Module() *bytecode.Module {
	return h.module
}

// Unit returns the code unit of the named function.
func (h *Host) Unit(name string) (*bytecode.Chunk, bool) {
	fn, ok := h.globals.Function(name)
	if !ok {
		return nil, false
	}
	return fn.Chunk, true
}

// Call calls the named global function.
func (h *Host) Call(ctx context.Context, name string, args ...bytecode.Value) (bytecode.Value, error) {
	fn, ok := h.globals.Function(name)
	if !ok {
		return nil, fmt.Errorf("no function named %q", name)
	}
	return h.Invoke(ctx, fn, args, 0)
}

// Invoke implements bytecode.Invoker: the runtime decides between the
// baseline interpreter and the unit's compiled artifact.
func (h *Host) Invoke(ctx context.Context, fn *bytecode.Function, args []bytecode.Value, depth int) (bytecode.Value, error) {
	frame := &backend.Frame{Interp: h.interp, Fn: fn, Args: args, Depth: depth}
	return h.rt.Call(ctx, fn.Chunk, frame, func(ctx context.Context) (any, error) {
		return h.interp.Run(ctx, fn, args, depth, nil)
	})
}
