package jit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	u := unit("f")

	var wg sync.WaitGroup
	got := make([]*Record, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.GetOrCreate(u)
		}(i)
	}
	wg.Wait()

	for i, rec := range got {
		if rec != got[0] {
			t.Fatalf("caller %d got a different record", i)
		}
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
	if got[0].Status() != Uncompiled {
		t.Errorf("new record status = %s", got[0].Status())
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Lookup(unit("f")); ok {
		t.Error("Lookup found a record that was never created")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d after Lookup", reg.Len())
	}
}

func TestRegistryRecordsOrderAndFind(t *testing.T) {
	reg := NewRegistry()
	a, b, c := unit("a"), unit("b"), unit("a")
	reg.GetOrCreate(a)
	reg.GetOrCreate(b)
	reg.GetOrCreate(c)

	recs := reg.Records()
	if len(recs) != 3 {
		t.Fatalf("Records = %d, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i-1].ID >= recs[i].ID {
			t.Errorf("records out of order: %d before %d", recs[i-1].ID, recs[i].ID)
		}
	}
	// Units are keyed by identity; two units may share a name.
	rec, ok := reg.Find("a")
	if !ok || rec.Unit != CodeUnit(a) {
		t.Error("Find should return the first unit with the name")
	}
	if _, ok := reg.Find("zzz"); ok {
		t.Error("Find of an unknown name succeeded")
	}
}

func TestSharedRegistry(t *testing.T) {
	reg := NewRegistry()
	r1 := mustRuntime(&fakeBackend{}, WithRegistry(reg))
	r2 := mustRuntime(&fakeBackend{}, WithRegistry(reg))
	if r1.Registry() != r2.Registry() {
		t.Error("runtimes should share the registry")
	}
}

func TestSharedRegistryCompilesOnce(t *testing.T) {
	reg := NewRegistry()
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	cfg := DefaultConfig()
	cfg.PGC = false
	r1 := mustRuntime(b, WithRegistry(reg), WithDefaults(cfg))
	r2 := mustRuntime(b, WithRegistry(reg), WithDefaults(cfg))
	r1.Enable()
	r2.Enable()
	u := unit("shared")

	var wg sync.WaitGroup
	var base atomic.Int64
	results := make([]any, 2)
	for i, r := range []*Runtime{r1, r2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.Call(context.Background(), u, &fakeFrame{result: "ok"}, baseline(&base))
		}()
		if i == 0 {
			<-b.started
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(b.gate)
	wg.Wait()

	if b.compiles.Load() != 1 {
		t.Errorf("compiles = %d, runtimes sharing a registry must compile a unit once", b.compiles.Load())
	}
	for i, got := range results {
		if got != "ok" {
			t.Errorf("runtime %d result = %v, want the compiled result", i+1, got)
		}
	}
	if info := r2.Info(u); info.RunCount != 2 || !info.Compiled {
		t.Errorf("info = %+v", info)
	}
}
