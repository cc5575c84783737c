package server

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/pyjion/backend"
	"github.com/chazu/pyjion/host"
	"github.com/chazu/pyjion/jit"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// Every test gets its own runtime and host so enable/disable and config
// changes cannot leak between tests.
// ---------------------------------------------------------------------------

const testProgram = `
def add(a, b):
    LOAD_FAST a
    LOAD_FAST b
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

def pair():
    LOAD_CONST (1, "two")
    RETURN_VALUE

def unpack2(seq):
    LOAD_FAST seq
    UNPACK_SEQUENCE 2
    STORE_FAST x
    STORE_FAST y
    LOAD_FAST x
    RETURN_VALUE
`

type testEnv struct {
	rt     *jit.Runtime
	server *JitServer
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rt, err := jit.New(backend.NewReference())
	if err != nil {
		t.Fatalf("jit.New: %v", err)
	}
	h := host.New(rt, io.Discard)
	if err := h.LoadSource("test", testProgram); err != nil {
		t.Fatalf("LoadSource: %v", err)
	}
	s := New(h)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return &testEnv{rt: rt, server: s, http: ts}
}

// call invokes a procedure over Connect's JSON codec.
func (e *testEnv) call(t *testing.T, procedure string, fields map[string]any) (*structpb.Struct, error) {
	t.Helper()
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](
		e.http.Client(), e.http.URL+procedure, connect.WithProtoJSON(),
	)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (e *testEnv) mustCall(t *testing.T, procedure string, fields map[string]any) map[string]any {
	t.Helper()
	msg, err := e.call(t, procedure, fields)
	if err != nil {
		t.Fatalf("%s: %v", procedure, err)
	}
	return msg.AsMap()
}
