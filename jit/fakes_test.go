package jit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type fakeUnit struct {
	name string
}

func (u *fakeUnit) Name() string {
	return u.name
}

func unit(name string) *fakeUnit {
	return &fakeUnit{name: name}
}

// fakeFrame tells a fakeArtifact what to observe and return.
type fakeFrame struct {
	shapes map[int]Shape
	result any
	err    error
	during func() // runs inside Execute, e.g. a recursive call
}

type fakeArtifact struct {
	flags       OptimizationFlags
	probes      bool
	assumptions []ShapeProbe
	hooks       HookSet
	graph       bool
	executions  atomic.Int64
}

func (a *fakeArtifact) Flags() OptimizationFlags { return a.flags }
func (a *fakeArtifact) Hooks() HookSet           { return a.hooks }

func (a *fakeArtifact) Disassembly() string {
	if len(a.assumptions) > 0 {
		return "specialized listing"
	}
	return "probed listing"
}

func (a *fakeArtifact) Graph() (string, bool) {
	if !a.graph {
		return "", false
	}
	return "digraph fake {}", true
}

func (a *fakeArtifact) Symbols() map[int]string {
	return map[int]string{0: "RichCompare"}
}

func (a *fakeArtifact) Execute(ctx context.Context, frame any, probes Probes) (any, error) {
	a.executions.Add(1)
	f, _ := frame.(*fakeFrame)
	if f == nil {
		return "compiled", nil
	}
	if f.during != nil {
		f.during()
	}
	for site, shape := range f.shapes {
		if a.probes {
			probes.Observe(site, shape)
		}
		for _, as := range a.assumptions {
			if as.Site == site && as.Shape != shape {
				probes.GuardMiss(site)
			}
		}
	}
	return f.result, f.err
}

// fakeBackend counts compiles and can be told to fail, panic or block.
type fakeBackend struct {
	compiles        atomic.Int64
	specializations atomic.Int64
	cancelledCtx    atomic.Int64 // compiles that saw an already-ended ctx

	failWith       error
	failSpecialize error
	panicWith      any
	delay          time.Duration
	gate           chan struct{} // when set, Compile blocks until closed
	started        chan struct{} // when set, receives once per Compile

	mu       sync.Mutex
	requests []CompileRequest
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Compile(ctx context.Context, req CompileRequest) (Artifact, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if ctx.Err() != nil {
		b.cancelledCtx.Add(1)
	}

	if req.Specialized() {
		b.specializations.Add(1)
		if b.failSpecialize != nil {
			return nil, b.failSpecialize
		}
		return &fakeArtifact{flags: req.Flags, assumptions: req.Assumptions, graph: req.Graph,
			hooks: HookSet{Tracing: req.Tracing, Profiling: req.Profiling}}, nil
	}

	b.compiles.Add(1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.panicWith != nil {
		panic(b.panicWith)
	}
	if b.failWith != nil {
		return nil, b.failWith
	}
	return &fakeArtifact{flags: req.Flags, probes: req.PGC, graph: req.Graph,
		hooks: HookSet{Tracing: req.Tracing, Profiling: req.Profiling}}, nil
}

func (b *fakeBackend) lastRequest() CompileRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

// baseline returns a baseline func that counts its calls.
func baseline(counter *atomic.Int64) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		counter.Add(1)
		return "baseline", nil
	}
}

var errNotCompileError = errors.New("backend exploded")

func mustRuntime(b Backend, opts ...Option) *Runtime {
	r, err := New(b, opts...)
	if err != nil {
		panic(fmt.Sprintf("New: %v", err))
	}
	return r
}

func shapes(pairs ...any) map[int]Shape {
	m := map[int]Shape{}
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(int)] = pairs[i+1].(Shape)
	}
	return m
}
