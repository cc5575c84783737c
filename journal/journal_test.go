package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/pyjion/jit"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "sub", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndQuery(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	probes := []jit.ShapeProbe{{Site: 6, Shape: jit.ShapeOf(jit.KindInt, jit.KindInt), Streak: 2}}

	events := []jit.Event{
		{Kind: jit.EventCompiled, UnitID: 1, Unit: "add", Result: jit.Success, PGC: jit.PgcCompiledWithProbes,
			Flags: jit.InlineIs | jit.Unboxing, Duration: time.Millisecond},
		{Kind: jit.EventSpecialized, UnitID: 1, Unit: "add", Result: jit.Success, PGC: jit.PgcOptimized,
			Flags: jit.Unboxing | jit.OptimisticIntegers, Probes: probes},
		{Kind: jit.EventFailed, UnitID: 2, Unit: "gen", Result: jit.IncompatibleOpcodeYield,
			Err: errors.New("YIELD_VALUE at 3")},
		{Kind: jit.EventGuardFailure, UnitID: 1, Unit: "add", PGC: jit.PgcOptimized, Count: 2},
	}
	for _, e := range events {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s): %v", e.Kind, err)
		}
	}

	all, err := j.Entries(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d entries, want 4", len(all))
	}
	if all[0].Session != j.Session() || all[0].Flags != jit.InlineIs|jit.Unboxing || all[0].Duration != time.Millisecond {
		t.Errorf("entry 0 = %+v", all[0])
	}
	spec := all[1]
	if len(spec.Probes) != 1 || spec.Probes[0] != probes[0] {
		t.Errorf("probes round trip = %+v", spec.Probes)
	}
	if all[2].Result != jit.IncompatibleOpcodeYield || all[2].Error != "YIELD_VALUE at 3" {
		t.Errorf("failure entry = %+v", all[2])
	}

	adds, err := j.Entries(ctx, Query{Unit: "add", Kind: "guard_failure"})
	if err != nil {
		t.Fatal(err)
	}
	if len(adds) != 1 || adds[0].GuardMisses != 2 {
		t.Errorf("filtered entries = %+v", adds)
	}
}

func TestSummary(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	for _, e := range []jit.Event{
		{Kind: jit.EventCompiled, Unit: "a", Result: jit.Success},
		{Kind: jit.EventSpecialized, Unit: "a", Result: jit.Success},
		{Kind: jit.EventGuardFailure, Unit: "a", Count: 3},
		{Kind: jit.EventFailed, Unit: "b", Result: jit.IncompatibleFrameGlobal},
	} {
		j.OnTransition(e)
	}
	sum, err := j.Summary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum) != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	a, b := sum[0], sum[1]
	if a.Unit != "a" || a.Compiles != 1 || a.Specializations != 1 || a.GuardMisses != 3 || a.LastResult != jit.Success {
		t.Errorf("a = %+v", a)
	}
	if b.Unit != "b" || b.Failures != 1 || b.LastResult != jit.IncompatibleFrameGlobal {
		t.Errorf("b = %+v", b)
	}
}

func TestSessionsAreDistinct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first.Record(context.Background(), jit.Event{Kind: jit.EventCompiled, Unit: "f"})
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if second.Session() == first.Session() {
		t.Error("sessions should differ")
	}
	second.Record(context.Background(), jit.Event{Kind: jit.EventCompiled, Unit: "f"})

	mine, err := second.Entries(context.Background(), Query{Session: second.Session()})
	if err != nil {
		t.Fatal(err)
	}
	all, _ := second.Entries(context.Background(), Query{})
	if len(mine) != 1 || len(all) != 2 {
		t.Errorf("session entries = %d, all = %d", len(mine), len(all))
	}
}

func TestClosedJournal(t *testing.T) {
	j := openTemp(t)
	j.Close()
	if err := j.Record(context.Background(), jit.Event{Kind: jit.EventCompiled}); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v", err)
	}
	// Listener path must not panic.
	j.OnTransition(jit.Event{Kind: jit.EventCompiled})
}

func TestJournalAsRuntimeListener(t *testing.T) {
	j := openTemp(t)
	rt, err := jit.New(stubBackend{}, jit.WithListener(j))
	if err != nil {
		t.Fatal(err)
	}
	rt.Enable()
	rt.Call(context.Background(), stubUnit{}, nil, func(context.Context) (any, error) { return nil, nil })

	entries, err := j.Entries(context.Background(), Query{Unit: "stub"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != "failed" || entries[0].Result != jit.IncompatibleSize {
		t.Errorf("entries = %+v", entries)
	}
}

type stubUnit struct{}

func (stubUnit) Name() string { return "stub" }

type stubBackend struct{}

func (stubBackend) Name() string { return "stub" }

func (stubBackend) Compile(context.Context, jit.CompileRequest) (jit.Artifact, error) {
	return nil, jit.NewCompileError(jit.IncompatibleSize, "too big")
}

func TestOnTransitionIsBufferedAndFlushed(t *testing.T) {
	j := openTemp(t)
	// Hold the database so the writer cannot make progress; OnTransition
	// must still return.
	j.mu.Lock()
	for i := 0; i < 100; i++ {
		j.OnTransition(jit.Event{Kind: jit.EventGuardFailure, Unit: "hot", Count: 1})
	}
	j.mu.Unlock()

	entries, err := j.Entries(context.Background(), Query{Unit: "hot"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 100 {
		t.Errorf("entries = %d, want 100", len(entries))
	}
}

func TestCloseWritesQueuedTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		j.OnTransition(jit.Event{Kind: jit.EventCompiled, Unit: "f"})
	}
	session := j.Session()
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	entries, err := again.Entries(context.Background(), Query{Session: session})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("entries = %d, want 20", len(entries))
	}
}

func TestFullQueueDropsTransitions(t *testing.T) {
	j := openTemp(t)
	const total = queueSize + 10
	j.mu.Lock()
	for i := 0; i < total; i++ {
		j.OnTransition(jit.Event{Kind: jit.EventGuardFailure, Unit: "hot", Count: 1})
	}
	j.mu.Unlock()

	dropped := j.Dropped()
	if dropped == 0 {
		t.Fatal("expected dropped transitions")
	}
	entries, err := j.Entries(context.Background(), Query{Unit: "hot"})
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(entries))+dropped != total {
		t.Errorf("entries = %d, dropped = %d, want %d in total", len(entries), dropped, total)
	}
}
