package bytecode

import (
	"bytes"
	"context"
	"testing"
)

const fibSrc = `
def fib(n):
    LOAD_FAST n
    LOAD_CONST 2
    COMPARE_OP <
    POP_JUMP_IF_FALSE rec
    LOAD_FAST n
    RETURN_VALUE
rec:
    LOAD_GLOBAL fib
    LOAD_FAST n
    LOAD_CONST 1
    BINARY_SUBTRACT
    CALL_FUNCTION 1
    LOAD_GLOBAL fib
    LOAD_FAST n
    LOAD_CONST 2
    BINARY_SUBTRACT
    CALL_FUNCTION 1
    BINARY_ADD
    RETURN_VALUE
`

func BenchmarkAssemble(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Assemble("bench", fibSrc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFib15(b *testing.B) {
	m, err := Assemble("bench", fibSrc)
	if err != nil {
		b.Fatal(err)
	}
	fn, _ := NewModuleGlobals(m).Function("fib")
	in := NewInterpreter(&bytes.Buffer{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := in.Run(ctx, fn, []Value{int64(15)}, 0, nil); err != nil {
			b.Fatal(err)
		}
	}
}
