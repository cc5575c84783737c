package jit

import "context"

// CodeUnit is an executable unit of host code: a function or method body.
// Records are keyed on the unit's identity, so implementations must be
// pointer types that are never copied.
type CodeUnit interface {
	Name() string
}

// CompileRequest is everything a backend needs to compile a unit.
type CompileRequest struct {
	Unit CodeUnit

	// Flags is the permitted set; the backend reports what it actually used
	// through Artifact.Flags.
	Flags OptimizationFlags

	PGC           bool
	Graph         bool
	Debug         bool
	Tracing       bool
	Profiling     bool
	CodeSizeLimit int

	// Assumptions is empty for the first compile. For a specialized
	// recompile it holds every site whose shape was stable.
	Assumptions []ShapeProbe

	Tracer   Tracer
	Profiler Profiler
}

// Specialized reports whether the request is a profile-guided recompile.
func (r CompileRequest) Specialized() bool {
	return len(r.Assumptions) > 0
}

// Backend generates executable artifacts. A Backend returns a *CompileError
// for units it cannot compile; any other error is recorded as a
// CompilationException.
type Backend interface {
	Name() string
	Compile(ctx context.Context, req CompileRequest) (Artifact, error)
}

// HookSet lists the runtime hooks compiled into an artifact.
type HookSet struct {
	Tracing   bool
	Profiling bool
}

// Probes receives PGC observations from an executing artifact.
type Probes interface {
	Observe(site int, s Shape)
	GuardMiss(site int)
}

// Artifact is the executable result of a compile.
type Artifact interface {
	// Flags is the subset of the permitted flags actually applied.
	Flags() OptimizationFlags
	Disassembly() string
	Graph() (string, bool)
	Symbols() map[int]string
	Hooks() HookSet

	// Execute runs the unit. frame is the opaque host frame passed to
	// Runtime.Call.
	Execute(ctx context.Context, frame any, probes Probes) (any, error)
}

// Tracer receives trace hooks from artifacts compiled with tracing.
type Tracer interface {
	OnFrameEntry(unit CodeUnit)
	OnLine(unit CodeUnit, line int)
	OnFrameExit(unit CodeUnit)
}

// Profiler receives profile hooks from artifacts compiled with profiling.
type Profiler interface {
	OnCall(unit CodeUnit)
	OnReturn(unit CodeUnit)
}
