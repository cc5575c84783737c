package bytecode

import (
	"strings"
	"testing"
)

func TestDisassemble(t *testing.T) {
	m, err := Assemble("t", `
def f(a, b):
    .locals c
    LOAD_FAST a
    LOAD_FAST b
    COMPARE_OP ==
    POP_JUMP_IF_FALSE no
    LOAD_CONST "yes"
    RETURN_VALUE
no:
    LOAD_GLOBAL len
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	out := m.Lookup("f").Disassemble()
	for _, want := range []string{
		"; def f(a, b)",
		"; locals: c",
		"LOAD_FAST",
		"(a)",
		"COMPARE_OP",
		"(==)",
		"POP_JUMP_IF_FALSE",
		"(to 16)",
		`("yes")`,
		"(len)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleUnknownOpcode(t *testing.T) {
	c := NewChunk("f")
	c.Code = []byte{0xEE, byte(OpReturnValue)}
	out := c.Disassemble()
	if !strings.Contains(out, "UNKNOWN(0xEE)") {
		t.Errorf("expected UNKNOWN opcode in listing:\n%s", out)
	}
}
