package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"connectrpc.com/connect"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestEnableDisable(t *testing.T) {
	env := newTestEnv(t)

	got := env.mustCall(t, EnableProcedure, nil)
	if got["changed"] != true || got["enabled"] != true {
		t.Errorf("Enable = %v", got)
	}
	if !env.rt.Enabled() {
		t.Error("runtime should be enabled")
	}
	got = env.mustCall(t, EnableProcedure, nil)
	if got["changed"] != false {
		t.Errorf("second Enable reported a change: %v", got)
	}

	got = env.mustCall(t, DisableProcedure, nil)
	if got["changed"] != true || got["enabled"] != false {
		t.Errorf("Disable = %v", got)
	}
	if env.rt.Enabled() {
		t.Error("runtime should be disabled")
	}
}

func TestHealthFollowsEnabled(t *testing.T) {
	env := newTestEnv(t)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := env.server.Health().Check(context.Background(),
			&healthpb.HealthCheckRequest{Service: JitServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("before Enable: %v", got)
	}
	env.mustCall(t, EnableProcedure, nil)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after Enable: %v", got)
	}
	env.mustCall(t, DisableProcedure, nil)
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after Disable: %v", got)
	}
}

func TestConfigReadAndWrite(t *testing.T) {
	env := newTestEnv(t)

	got := env.mustCall(t, ConfigProcedure, nil)
	if got["level"] != float64(1) || got["pgc"] != true {
		t.Errorf("default config = %v", got)
	}

	got = env.mustCall(t, ConfigProcedure, map[string]any{"level": 2, "pgc": false, "graph": true})
	if got["level"] != float64(2) || got["pgc"] != false || got["graph"] != true {
		t.Errorf("updated config = %v", got)
	}
	if c := env.rt.Config(); c.Level != 2 || c.PGC || !c.Graph {
		t.Errorf("runtime config = %+v", c)
	}
}

func TestConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"level out of range", map[string]any{"level": 9}},
		{"fractional level", map[string]any{"level": 1.5}},
		{"wrong type", map[string]any{"pgc": "yes"}},
		{"unknown flag", map[string]any{"enable": "Warp"}},
		{"unknown field", map[string]any{"turbo": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			before := env.rt.Config()
			_, err := env.call(t, ConfigProcedure, tt.fields)
			if connect.CodeOf(err) != connect.CodeInvalidArgument {
				t.Fatalf("code = %v, want InvalidArgument (err %v)", connect.CodeOf(err), err)
			}
			if env.rt.Config() != before {
				t.Error("a rejected config must not change the runtime")
			}
		})
	}
}

func TestCallCompilesAndReports(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, EnableProcedure, nil)

	for i := 0; i < 3; i++ {
		got := env.mustCall(t, CallProcedure, map[string]any{"unit": "add", "args": []any{2, 3}})
		if got["result"] != float64(5) || got["type"] != "int" {
			t.Fatalf("call %d = %v", i, got)
		}
	}

	info := env.mustCall(t, InfoProcedure, map[string]any{"unit": "add"})
	if info["compiled"] != true || info["failed"] != false {
		t.Errorf("Info = %v", info)
	}
	if info["run_count"] != float64(3) {
		t.Errorf("run_count = %v, want 3", info["run_count"])
	}
	if info["pgc"] != "optimized" {
		t.Errorf("pgc = %v, want optimized", info["pgc"])
	}

	dis := env.mustCall(t, DisProcedure, map[string]any{"unit": "add"})
	listing, _ := dis["listing"].(string)
	if !strings.Contains(listing, ".method") {
		t.Errorf("listing missing header:\n%s", listing)
	}
}

func TestCallRecursiveAndComposite(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, EnableProcedure, nil)

	got := env.mustCall(t, CallProcedure, map[string]any{"unit": "fact", "args": []any{10}})
	if got["result"] != float64(3628800) {
		t.Errorf("fact(10) = %v", got)
	}
	got = env.mustCall(t, CallProcedure, map[string]any{"unit": "pair"})
	items, ok := got["result"].([]any)
	if !ok || len(items) != 2 || items[1] != "two" {
		t.Errorf("pair() = %v", got)
	}
	if got["repr"] != `(1, "two")` {
		t.Errorf("repr = %v", got["repr"])
	}
}

func TestCallErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, EnableProcedure, nil)

	_, err := env.call(t, CallProcedure, map[string]any{"unit": "missing"})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("missing unit code = %v", connect.CodeOf(err))
	}
	_, err = env.call(t, CallProcedure, map[string]any{})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("no unit code = %v", connect.CodeOf(err))
	}
	_, err = env.call(t, CallProcedure, map[string]any{"unit": "add", "args": []any{map[string]any{"a": 1}, 1}})
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("object arg code = %v", connect.CodeOf(err))
	}

	// Unpacking a three-item list into two targets fails in user code.
	_, err = env.call(t, CallProcedure, map[string]any{"unit": "unpack2", "args": []any{[]any{1, 2, 3}}})
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Code() != connect.CodeAborted {
		t.Fatalf("unpack mismatch err = %v", err)
	}
}

func TestInfoUnseenUnit(t *testing.T) {
	env := newTestEnv(t)
	info := env.mustCall(t, InfoProcedure, map[string]any{"unit": "fact"})
	if info["compiled"] != false || info["run_count"] != float64(0) {
		t.Errorf("unseen Info = %v", info)
	}
	_, err := env.call(t, InfoProcedure, map[string]any{"unit": "nope"})
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want NotFound", connect.CodeOf(err))
	}
}

func TestGraphAndUnits(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, EnableProcedure, nil)
	env.mustCall(t, ConfigProcedure, map[string]any{"graph": true})
	env.mustCall(t, CallProcedure, map[string]any{"unit": "fact", "args": []any{4}})

	g := env.mustCall(t, GraphProcedure, map[string]any{"unit": "fact"})
	if g["present"] != true || !strings.HasPrefix(g["graph"].(string), "digraph") {
		t.Errorf("Graph = %v", g)
	}
	g = env.mustCall(t, GraphProcedure, map[string]any{"unit": "add"})
	if g["present"] != false {
		t.Errorf("uncompiled unit graph = %v", g)
	}

	units := env.mustCall(t, UnitsProcedure, nil)
	list, _ := units["units"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["name"] != "fact" {
		t.Errorf("Units = %v", units["units"])
	}
	stats := units["stats"].(map[string]any)
	if stats["calls"] != float64(4) {
		t.Errorf("stats.calls = %v, want 4", stats["calls"])
	}
}

func TestDisabledCallsBypassRuntime(t *testing.T) {
	env := newTestEnv(t)
	got := env.mustCall(t, CallProcedure, map[string]any{"unit": "add", "args": []any{"a", "b"}})
	if got["result"] != "ab" {
		t.Errorf("add = %v", got)
	}
	if env.rt.Registry().Len() != 0 {
		t.Error("disabled runtime must not create records")
	}
}

func TestConcurrentConfigUpdatesMerge(t *testing.T) {
	env := newTestEnv(t)
	env.mustCall(t, EnableProcedure, nil)

	fields := []string{"graph", "debug", "tracing", "profiling"}
	var wg sync.WaitGroup
	for _, field := range fields {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.call(t, ConfigProcedure, map[string]any{field: true}); err != nil {
				t.Errorf("%s: %v", field, err)
			}
		}()
	}
	wg.Wait()

	got := env.mustCall(t, ConfigProcedure, nil)
	for _, field := range fields {
		if got[field] != true {
			t.Errorf("%s = %v, an update was lost", field, got[field])
		}
	}
}
