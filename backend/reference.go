package backend

import (
	"context"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

var log = commonlog.GetLogger("pyjion.backend")

// Reference compiles bytecode chunks into artifacts that run on the host
// interpreter. Its listing is a symbolic IL, not machine code.
type Reference struct{}

// NewReference creates the reference backend.
func NewReference() *Reference {
	return &Reference{}
}

func (b *Reference) Name() string {
	return DefaultName
}

// Compile implements jit.Backend.
func (b *Reference) Compile(ctx context.Context, req jit.CompileRequest) (jit.Artifact, error) {
	chunk, ok := req.Unit.(*bytecode.Chunk)
	if !ok {
		return nil, jit.NewCompileError(jit.CompilationJitFailure, "cannot compile %T", req.Unit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	prog, err := preprocess(chunk, req.CodeSizeLimit)
	if err != nil {
		return nil, err
	}
	plan := analyze(prog, req)
	em := emit(prog, plan, req)

	art := &Artifact{
		chunk:    chunk,
		flags:    plan.applied,
		listing:  em.sb.String(),
		symbols:  em.symbols,
		hooks:    jit.HookSet{Tracing: req.Tracing, Profiling: req.Profiling},
		probes:   plan.probes,
		guards:   plan.guards,
		tracer:   req.Tracer,
		profiler: req.Profiler,
	}
	if req.Graph {
		art.graph = prog.dot()
		art.hasGraph = true
	}
	log.Debugf("compiled %s: %d instructions, %d probes, %d guards in %s",
		chunk.Name(), len(prog.ins), len(plan.probes), len(plan.guards), time.Since(start))
	return art, nil
}
