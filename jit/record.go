package jit

import (
	"sort"
	"sync"
	"time"
)

// Record is the compilation record of one code unit. It is created on the
// unit's first call while the runtime is enabled and lives for the life of
// the process.
type Record struct {
	ID   uint64
	Unit CodeUnit

	mu             sync.Mutex
	status         Status
	failure        CompileResult
	runCount       uint64
	warmup         uint64
	applied        OptimizationFlags
	pgc            PgcStatus
	artifact       Artifact
	probes         map[int]*ShapeProbe
	guardFailures  uint64
	noRespecialize bool
	compiledAt     time.Time
	compileTime    time.Duration
}

func newRecord(unit CodeUnit, id uint64) *Record {
	return &Record{ID: id, Unit: unit}
}

// Info is an immutable snapshot of a record.
type Info struct {
	ID            uint64            `json:"id"`
	Name          string            `json:"name"`
	Failed        bool              `json:"failed"`
	CompileResult CompileResult     `json:"compile_result"`
	Compiled      bool              `json:"compiled"`
	Optimizations OptimizationFlags `json:"optimizations"`
	PGC           PgcStatus         `json:"pgc"`
	RunCount      uint64            `json:"run_count"`
	Tracing       bool              `json:"tracing"`
	Profiling     bool              `json:"profiling"`

	GuardFailures   uint64        `json:"guard_failures"`
	WarmupCalls     uint64        `json:"warmup_calls"`
	CompiledAt      time.Time     `json:"compiled_at"`
	CompileDuration time.Duration `json:"compile_duration"`
	Probes          []ShapeProbe  `json:"probes,omitempty"`
}

// Status returns the unit's current compilation state.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Info returns a snapshot of the record.
func (r *Record) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{
		ID:              r.ID,
		Name:            r.Unit.Name(),
		Failed:          r.status == Failed,
		CompileResult:   r.failure,
		Compiled:        r.status == Compiled,
		Optimizations:   r.applied,
		PGC:             r.pgc,
		RunCount:        r.runCount,
		GuardFailures:   r.guardFailures,
		WarmupCalls:     r.warmup,
		CompiledAt:      r.compiledAt,
		CompileDuration: r.compileTime,
		Probes:          r.probeSnapshot(),
	}
	if r.artifact != nil {
		hooks := r.artifact.Hooks()
		info.Tracing = hooks.Tracing
		info.Profiling = hooks.Profiling
	}
	return info
}

// currentArtifact returns the artifact when the unit is compiled.
func (r *Record) currentArtifact() Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != Compiled {
		return nil
	}
	return r.artifact
}

// probeSnapshot copies the probe table in site order. Caller holds mu.
func (r *Record) probeSnapshot() []ShapeProbe {
	if len(r.probes) == 0 {
		return nil
	}
	out := make([]ShapeProbe, 0, len(r.probes))
	for _, p := range r.probes {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}
