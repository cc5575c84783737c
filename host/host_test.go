package host

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/chazu/pyjion/backend"
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/pkg/bytecode"
)

const programSrc = `
def pair_sum(xs):
    LOAD_FAST xs
    LOAD_CONST 0
    BINARY_SUBSCR
    LOAD_FAST xs
    LOAD_CONST 1
    BINARY_SUBSCR
    BINARY_ADD
    RETURN_VALUE

def fact(n):
    LOAD_FAST n
    LOAD_CONST 1
    COMPARE_OP <=
    POP_JUMP_IF_FALSE rec
    LOAD_CONST 1
    RETURN_VALUE
rec:
    LOAD_FAST n
    LOAD_GLOBAL fact
    LOAD_FAST n
    LOAD_CONST 1
    BINARY_SUBTRACT
    CALL_FUNCTION 1
    BINARY_MULTIPLY
    RETURN_VALUE

def same_ints():
    LOAD_CONST (1, 2)
    UNPACK_SEQUENCE 2
    STORE_FAST a
    STORE_FAST b
    LOAD_FAST a
    LOAD_FAST b
    COMPARE_OP ==
    RETURN_VALUE

def int_and_str():
    LOAD_CONST (2, "2")
    UNPACK_SEQUENCE 2
    STORE_FAST a
    STORE_FAST b
    LOAD_FAST a
    LOAD_FAST b
    COMPARE_OP ==
    RETURN_VALUE

def gen():
    LOAD_CONST None
    YIELD_VALUE
    POP_TOP
    LOAD_CONST None
    RETURN_VALUE

def add(a, b):
    LOAD_FAST a
    LOAD_FAST b
    BINARY_ADD
    RETURN_VALUE

def unpack3(seq):
    LOAD_FAST seq
    UNPACK_SEQUENCE 3
    STORE_FAST x
    STORE_FAST y
    STORE_FAST z
    LOAD_FAST z
    RETURN_VALUE
`

type countingBackend struct {
	jit.Backend
	compiles atomic.Int64
}

func (c *countingBackend) Compile(ctx context.Context, req jit.CompileRequest) (jit.Artifact, error) {
	if !req.Specialized() {
		c.compiles.Add(1)
	}
	return c.Backend.Compile(ctx, req)
}

func newHost(t *testing.T, opts ...jit.Option) (*Host, *countingBackend) {
	t.Helper()
	b := &countingBackend{Backend: backend.NewReference()}
	rt, err := jit.New(b, opts...)
	if err != nil {
		t.Fatal(err)
	}
	rt.Enable()
	h := New(rt, &bytes.Buffer{})
	if err := h.LoadSource("program", programSrc); err != nil {
		t.Fatal(err)
	}
	return h, b
}

func info(t *testing.T, h *Host, name string) jit.Info {
	t.Helper()
	u, ok := h.Unit(name)
	if !ok {
		t.Fatalf("no unit %s", name)
	}
	return h.Runtime().Info(u)
}

func call(t *testing.T, h *Host, name string, args ...bytecode.Value) bytecode.Value {
	t.Helper()
	v, err := h.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("%s(%v): %v", name, args, err)
	}
	return v
}

func TestUnseenUnitInfo(t *testing.T) {
	h, _ := newHost(t)
	got := info(t, h, "add")
	if got.Compiled || got.Failed || got.RunCount != 0 || got.PGC != jit.PgcUncompiled {
		t.Errorf("info before any call = %+v", got)
	}
}

func TestCallsCompileAndCount(t *testing.T) {
	h, _ := newHost(t)
	if got := call(t, h, "add", int64(1), int64(2)); got != int64(3) {
		t.Errorf("add = %v", got)
	}
	if got := info(t, h, "add"); !got.Compiled || got.RunCount < 1 {
		t.Errorf("after one call info = %+v", got)
	}
	call(t, h, "add", int64(1), int64(2))
	if got := info(t, h, "add"); got.RunCount < 2 {
		t.Errorf("after two calls RunCount = %d", got.RunCount)
	}
}

func TestSameShapeTwiceOptimizes(t *testing.T) {
	h, _ := newHost(t)
	xs := func() bytecode.Value { return bytecode.NewList(int64(0), int64(1)) }

	if got := call(t, h, "pair_sum", xs()); got != int64(1) {
		t.Errorf("pair_sum = %v", got)
	}
	if got := info(t, h, "pair_sum").PGC; got < jit.PgcCompiledWithProbes {
		t.Errorf("after first call PGC = %d", got)
	}
	call(t, h, "pair_sum", xs())
	if got := info(t, h, "pair_sum").PGC; got != jit.PgcOptimized {
		t.Errorf("after second call PGC = %d, want %d", got, jit.PgcOptimized)
	}
}

func TestMixedContainersStillOptimize(t *testing.T) {
	h, _ := newHost(t)
	inputs := []bytecode.Value{
		bytecode.NewList(int64(1), int64(2)),
		bytecode.Tuple{int64(3), int64(4)},
		bytecode.NewList(int64(3), int64(4)),
	}
	want := []int64{3, 7, 7}
	for i, in := range inputs {
		if got := call(t, h, "pair_sum", in); got != want[i] {
			t.Errorf("call %d = %v, want %d", i+1, got, want[i])
		}
		pgc := info(t, h, "pair_sum").PGC
		if i >= 1 && pgc != jit.PgcOptimized {
			t.Errorf("after call %d PGC = %d, want %d", i+1, pgc, jit.PgcOptimized)
		}
	}
}

func TestRecursionOptimizesByOuterReturn(t *testing.T) {
	h, _ := newHost(t)
	if got := call(t, h, "fact", int64(2)); got != int64(2) {
		t.Errorf("fact(2) = %v", got)
	}
	got := info(t, h, "fact")
	if got.PGC != jit.PgcOptimized {
		t.Errorf("PGC after fact(2) = %d, want %d", got.PGC, jit.PgcOptimized)
	}
	if got.RunCount != 2 {
		t.Errorf("RunCount = %d, want 2", got.RunCount)
	}
	if got := call(t, h, "fact", int64(10)); got != int64(3628800) {
		t.Errorf("fact(10) = %v on optimized code", got)
	}
}

func TestInternRichCompareEndToEnd(t *testing.T) {
	h, _ := newHost(t)
	ctx := context.Background()

	if got := call(t, h, "same_ints"); got != false {
		t.Errorf("same_ints = %v", got)
	}
	u, _ := h.Unit("same_ints")
	if !info(t, h, "same_ints").Optimizations.Has(jit.InternRichCompare) {
		t.Error("InternRichCompare not applied to int constants")
	}
	if strings.Contains(h.Runtime().Dis(u), "call RichCompare") {
		t.Error("generic compare token present for interned compare")
	}

	if _, err := h.Call(ctx, "int_and_str"); err != nil {
		t.Fatal(err)
	}
	u, _ = h.Unit("int_and_str")
	if info(t, h, "int_and_str").Optimizations.Has(jit.InternRichCompare) {
		t.Error("InternRichCompare applied to int and str")
	}
	if !strings.Contains(h.Runtime().Dis(u), "call RichCompare") {
		t.Error("generic compare token missing")
	}
}

func TestYieldFailsOnceAndForAll(t *testing.T) {
	h, b := newHost(t)
	var reasons []jit.CompileResult
	for i := 0; i < 3; i++ {
		v := call(t, h, "gen")
		if _, ok := v.(*bytecode.Generator); !ok {
			t.Fatalf("gen() = %s, want a generator from the baseline", bytecode.Repr(v))
		}
		got := info(t, h, "gen")
		if !got.Failed || got.Compiled {
			t.Fatalf("info = %+v, want failed", got)
		}
		reasons = append(reasons, got.CompileResult)
	}
	for _, r := range reasons {
		if r != jit.IncompatibleOpcodeYield {
			t.Errorf("reason = %s, want %s", r, jit.IncompatibleOpcodeYield)
		}
	}
	if n := b.compiles.Load(); n != 1 {
		t.Errorf("backend invoked %d times, want 1", n)
	}
	if got := info(t, h, "gen").RunCount; got != 1 {
		t.Errorf("RunCount = %d, want 1; only the compiling call counts", got)
	}
}

func TestCancelledFirstCallDoesNotFailUnit(t *testing.T) {
	h, b := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Call(ctx, "add", int64(1), int64(2))

	if got := info(t, h, "add"); got.Failed {
		t.Fatalf("info = %+v, a cancelled caller must not fail the unit", got)
	}
	if v := call(t, h, "add", int64(1), int64(2)); v != int64(3) {
		t.Errorf("add(1, 2) = %s", bytecode.Repr(v))
	}
	got := info(t, h, "add")
	if !got.Compiled || got.Failed || got.CompileResult != jit.Success {
		t.Errorf("after a live call info = %+v, want compiled", got)
	}
	if n := b.compiles.Load(); n != 1 {
		t.Errorf("backend invoked %d times, want 1", n)
	}
}

func TestDisabledCallsLeaveRecordsAlone(t *testing.T) {
	h, b := newHost(t)
	call(t, h, "add", int64(1), int64(1))
	before := info(t, h, "add")

	h.Runtime().Disable()
	for i := 0; i < 3; i++ {
		call(t, h, "add", int64(2), int64(2))
	}
	after := info(t, h, "add")
	if after.RunCount != before.RunCount || after.Compiled != before.Compiled || after.PGC != before.PGC {
		t.Errorf("record changed while disabled: before %+v after %+v", before, after)
	}
	if b.compiles.Load() != 1 {
		t.Errorf("compiles = %d", b.compiles.Load())
	}
}

func TestGuardMissKeepsResultsCorrect(t *testing.T) {
	h, _ := newHost(t)
	call(t, h, "add", int64(1), int64(2))
	call(t, h, "add", int64(3), int64(4))
	if info(t, h, "add").PGC != jit.PgcOptimized {
		t.Fatal("add not optimized on ints")
	}
	tests := []struct {
		a, b bytecode.Value
		want bytecode.Value
	}{
		{int64(5), int64(6), int64(11)},
		{1.5, 2.0, 3.5},
		{"py", "jion", "pyjion"},
		{bytecode.NewList(int64(1)), bytecode.NewList(int64(2)), bytecode.NewList(int64(1), int64(2))},
	}
	for _, tt := range tests {
		got := call(t, h, "add", tt.a, tt.b)
		if !bytecode.Equal(got, tt.want) {
			t.Errorf("add(%s, %s) = %s, want %s", bytecode.Repr(tt.a), bytecode.Repr(tt.b), bytecode.Repr(got), bytecode.Repr(tt.want))
		}
	}
	if got := info(t, h, "add").GuardFailures; got != 3 {
		t.Errorf("GuardFailures = %d, want 3", got)
	}
}

func TestRuntimeErrorsMatchBaseline(t *testing.T) {
	h, _ := newHost(t)
	_, jitErr := h.Call(context.Background(), "unpack3", bytecode.Tuple{int64(1), int64(2)})

	h.Runtime().Disable()
	_, baseErr := h.Call(context.Background(), "unpack3", bytecode.Tuple{int64(1), int64(2)})

	if jitErr == nil || baseErr == nil {
		t.Fatalf("expected errors, got jit=%v baseline=%v", jitErr, baseErr)
	}
	if jitErr.Error() != baseErr.Error() {
		t.Errorf("jit error %q differs from baseline %q", jitErr, baseErr)
	}
	if info(t, h, "unpack3").Failed {
		t.Error("a runtime error is not a compile failure")
	}
}

func TestTracerAndProfiler(t *testing.T) {
	var out bytes.Buffer
	tracer := NewTracer(&out)
	profiler := NewProfiler()
	cfg := jit.DefaultConfig()
	cfg.Tracing = true
	cfg.Profiling = true
	h, _ := newHost(t, jit.WithDefaults(cfg), jit.WithTracer(tracer), jit.WithProfiler(profiler))

	call(t, h, "fact", int64(3))
	got := info(t, h, "fact")
	if !got.Tracing || !got.Profiling {
		t.Errorf("info = %+v, want hooks", got)
	}
	u, _ := h.Unit("fact")
	if dis := h.Runtime().Dis(u); !strings.Contains(dis, "call TraceFrameEntry") || !strings.Contains(dis, "call ProfileFrameExit") {
		t.Errorf("listing missing hooks:\n%s", dis)
	}
	if !strings.Contains(out.String(), "-> fact") || !strings.Contains(out.String(), "<- fact") {
		t.Errorf("trace output:\n%s", out.String())
	}
	entries := profiler.Entries()
	if len(entries) != 1 || entries[0].Name != "fact" || entries[0].Calls != 3 {
		t.Errorf("profile = %+v", entries)
	}
}

func TestJITMatchesBaseline(t *testing.T) {
	h, _ := newHost(t)
	var jitResults []bytecode.Value
	for n := int64(0); n < 8; n++ {
		jitResults = append(jitResults, call(t, h, "fact", n))
	}
	h.Runtime().Disable()
	for n := int64(0); n < 8; n++ {
		if got := call(t, h, "fact", n); !bytecode.Equal(got, jitResults[n]) {
			t.Errorf("fact(%d): baseline %v, jit %v", n, got, jitResults[n])
		}
	}
}
