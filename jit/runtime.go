package jit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pyjion.jit")

// Runtime decides, per code unit, whether to run the baseline interpreter
// or a compiled artifact, and drives compilation and specialization. All
// work happens on the calling goroutine; there are no background compiles.
type Runtime struct {
	backend   Backend
	registry  *Registry
	listeners []Listener
	tracer    Tracer
	profiler  Profiler
	defaults  Config

	ctl     sync.Mutex // serializes Enable, Disable and Configure
	enabled atomic.Bool
	config  atomic.Pointer[Config]
	staged  *Config
	epoch   atomic.Uint64 // bumped by Disable; compiles that straddle it are discarded
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithDefaults sets the configuration adopted by Enable and restored by
// Disable.
func WithDefaults(c Config) Option {
	return func(r *Runtime) {
		r.defaults = c
	}
}

// WithListener adds a transition listener.
func WithListener(l Listener) Option {
	return func(r *Runtime) {
		r.listeners = append(r.listeners, l)
	}
}

// WithTracer installs the receiver of trace hooks.
func WithTracer(t Tracer) Option {
	return func(r *Runtime) {
		r.tracer = t
	}
}

// WithProfiler installs the receiver of profile hooks.
func WithProfiler(p Profiler) Option {
	return func(r *Runtime) {
		r.profiler = p
	}
}

// WithRegistry shares a registry between runtimes.
func WithRegistry(reg *Registry) Option {
	return func(r *Runtime) {
		r.registry = reg
	}
}

// New creates a disabled runtime compiling with backend. It returns
// ErrBackendUnavailable when backend is nil.
func New(backend Backend, opts ...Option) (*Runtime, error) {
	if backend == nil {
		return nil, ErrBackendUnavailable
	}
	r := &Runtime{
		backend:  backend,
		registry: NewRegistry(),
		defaults: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.defaults.Validate(); err != nil {
		return nil, err
	}
	cfg := r.defaults
	r.config.Store(&cfg)
	return r, nil
}

// Backend returns the code generator.
func (r *Runtime) Backend() Backend {
	return r.backend
}

// Registry returns the record registry.
func (r *Runtime) Registry() *Registry {
	return r.registry
}

// Enabled reports whether calls are routed through the JIT.
func (r *Runtime) Enabled() bool {
	return r.enabled.Load()
}

// Enable turns the JIT on, adopting a staged configuration if there is one.
// It returns true if the runtime was previously disabled.
func (r *Runtime) Enable() bool {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	if r.enabled.Load() {
		return false
	}
	cfg := r.defaults
	if r.staged != nil {
		cfg = *r.staged
		r.staged = nil
	}
	r.config.Store(&cfg)
	r.enabled.Store(true)
	log.Infof("enabled (level %d, pgc %t, backend %s)", cfg.Level, cfg.PGC, r.backend.Name())
	return true
}

// Disable turns the JIT off and resets the configuration to the defaults.
// Records are kept. It returns true if the runtime was previously enabled.
func (r *Runtime) Disable() bool {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	if !r.enabled.Load() {
		return false
	}
	r.enabled.Store(false)
	r.epoch.Add(1)
	cfg := r.defaults
	r.config.Store(&cfg)
	r.staged = nil
	log.Info("disabled")
	return true
}

// Configure validates c and applies it to subsequent compiles. On a
// disabled runtime the configuration is staged for the next Enable.
func (r *Runtime) Configure(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.ctl.Lock()
	defer r.ctl.Unlock()
	if r.enabled.Load() {
		r.config.Store(&c)
	} else {
		r.staged = &c
	}
	log.Debugf("configured level %d, pgc %t, flags %s", c.Level, c.PGC, c.Flags())
	return nil
}

// Update applies fn to the current configuration (active, or staged while
// disabled) and configures the result, holding the control lock throughout
// so concurrent partial updates cannot lose each other's changes. An error
// from fn or from validation leaves the configuration unchanged.
func (r *Runtime) Update(fn func(*Config) error) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	c := *r.config.Load()
	if !r.enabled.Load() && r.staged != nil {
		c = *r.staged
	}
	if err := fn(&c); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if r.enabled.Load() {
		r.config.Store(&c)
	} else {
		r.staged = &c
	}
	log.Debugf("updated level %d, pgc %t, flags %s", c.Level, c.PGC, c.Flags())
	return nil
}

// Config returns the active configuration, or the staged one while
// disabled.
func (r *Runtime) Config() Config {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	if !r.enabled.Load() && r.staged != nil {
		return *r.staged
	}
	return *r.config.Load()
}

// Call runs one invocation of unit. frame is handed to the compiled
// artifact; baseline runs the unit on the host interpreter. Compile
// failures are recorded on the unit and never returned; errors raised by
// the unit itself are returned from either path.
func (r *Runtime) Call(ctx context.Context, unit CodeUnit, frame any, baseline func(context.Context) (any, error)) (any, error) {
	if !r.enabled.Load() {
		return baseline(ctx)
	}
	rec := r.registry.GetOrCreate(unit)
	art := r.enter(ctx, rec)
	if art == nil {
		return baseline(ctx)
	}
	obs := newObservation()
	result, err := art.Execute(ctx, frame, obs)
	r.exit(ctx, rec, obs)
	return result, err
}

// enter counts the call and returns the artifact to run, compiling on the
// first eligible call. A nil result means run the baseline.
func (r *Runtime) enter(ctx context.Context, rec *Record) Artifact {
	threshold := uint64(r.config.Load().Threshold)

	rec.mu.Lock()
	switch rec.status {
	case Failed:
		rec.mu.Unlock()
		return nil
	case Compiled:
		rec.runCount++
		art := rec.artifact
		rec.mu.Unlock()
		return art
	}
	rec.runCount++
	if rec.runCount <= threshold {
		rec.warmup++
		rec.mu.Unlock()
		return nil
	}
	rec.mu.Unlock()
	return r.compile(ctx, rec)
}

func (r *Runtime) compile(ctx context.Context, rec *Record) Artifact {
	v, _, _ := r.registry.flight.Do(strconv.FormatUint(rec.ID, 10), func() (any, error) {
		return r.compileOnce(context.WithoutCancel(ctx), rec), nil
	})
	art, _ := v.(Artifact)
	return art
}

// compileOnce performs the Uncompiled -> Compiled|Failed transition.
func (r *Runtime) compileOnce(ctx context.Context, rec *Record) Artifact {
	rec.mu.Lock()
	switch rec.status {
	case Compiled:
		art := rec.artifact
		rec.mu.Unlock()
		return art
	case Failed:
		rec.mu.Unlock()
		return nil
	}
	rec.mu.Unlock()

	epoch := r.epoch.Load()
	cfg := *r.config.Load()
	req := r.request(rec.Unit, cfg, nil)

	start := time.Now()
	art, err := r.invoke(ctx, req)
	elapsed := time.Since(start)

	ev := Event{UnitID: rec.ID, Unit: rec.Unit.Name(), Duration: elapsed}
	rec.mu.Lock()
	switch {
	case !r.enabled.Load() || r.epoch.Load() != epoch, interrupted(err):
		art = nil
		ev.Kind = EventDiscarded
		ev.Err = err
	case err != nil:
		art = nil
		rec.status = Failed
		rec.failure = resultOf(err)
		ev.Kind = EventFailed
		ev.Result = rec.failure
		ev.Err = err
	default:
		rec.status = Compiled
		rec.failure = Success
		rec.pgc = PgcCompiledWithProbes
		rec.artifact = art
		rec.applied = art.Flags()
		rec.compiledAt = start
		rec.compileTime = elapsed
		ev.Kind = EventCompiled
		ev.Result = Success
		ev.PGC = rec.pgc
		ev.Flags = rec.applied
	}
	rec.mu.Unlock()

	switch ev.Kind {
	case EventCompiled:
		log.Infof("compiled %s in %s (optimizations %s)", ev.Unit, elapsed, ev.Flags)
	case EventFailed:
		log.Debugf("compile of %s failed: %s", ev.Unit, err)
	case EventDiscarded:
		if err != nil {
			log.Debugf("discarded compile of %s: %s", ev.Unit, err)
		} else {
			log.Debugf("discarded compile of %s: runtime disabled during compile", ev.Unit)
		}
	}
	r.emit(ev)
	return art
}

// interrupted reports whether a compile stopped because its context ended
// rather than because the backend rejected the unit.
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Runtime) request(unit CodeUnit, cfg Config, assumptions []ShapeProbe) CompileRequest {
	return CompileRequest{
		Unit:          unit,
		Flags:         cfg.Flags(),
		PGC:           cfg.PGC,
		Graph:         cfg.Graph,
		Debug:         cfg.Debug,
		Tracing:       cfg.Tracing,
		Profiling:     cfg.Profiling,
		CodeSizeLimit: cfg.CodeSizeLimit,
		Assumptions:   assumptions,
		Tracer:        r.tracer,
		Profiler:      r.profiler,
	}
}

// invoke calls the backend, turning a panic into a JIT failure.
func (r *Runtime) invoke(ctx context.Context, req CompileRequest) (art Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			art = nil
			err = &CompileError{Result: CompilationJitFailure, Offset: -1, Err: fmt.Errorf("backend panic: %v", p)}
		}
	}()
	art, err = r.backend.Compile(ctx, req)
	if err == nil && art == nil {
		err = NewCompileError(CompilationJitFailure, "backend %s returned no artifact", r.backend.Name())
	}
	return art, err
}

func (r *Runtime) emit(e Event) {
	if len(r.listeners) == 0 {
		return
	}
	e.Time = time.Now()
	for _, l := range r.listeners {
		l.OnTransition(e)
	}
}
