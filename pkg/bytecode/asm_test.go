package bytecode

import (
	"errors"
	"testing"
)

func TestAssembleHeaderAndLocals(t *testing.T) {
	m, err := Assemble("t", `
; leading comment
def add(a, b):
    .locals tmp
    LOAD_FAST a       # inline comment
    LOAD_FAST b
    BINARY_ADD
    STORE_FAST tmp
    LOAD_FAST tmp
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	c := m.Lookup("add")
	if c == nil {
		t.Fatal("add not found")
	}
	if c.ParamCount != 2 {
		t.Errorf("ParamCount = %d, want 2", c.ParamCount)
	}
	if got := c.VarNames; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "tmp" {
		t.Errorf("VarNames = %v", got)
	}
	if c.LineAt(0) != 5 {
		t.Errorf("LineAt(0) = %d, want 5", c.LineAt(0))
	}
}

func TestAssembleGeneratorFlag(t *testing.T) {
	m, err := Assemble("t", `
def gen():
    LOAD_CONST None
    YIELD_VALUE
    POP_TOP
    LOAD_CONST None
    RETURN_VALUE

def coro():
    .flags coroutine
    LOAD_CONST None
    RETURN_VALUE
`)
	if err != nil {
		t.Fatal(err)
	}
	if m.Lookup("gen").Flags&FlagGenerator == 0 {
		t.Error("a body that yields should be flagged as a generator")
	}
	if m.Lookup("coro").Flags&FlagCoroutine == 0 {
		t.Error(".flags coroutine not applied")
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"outside def", "LOAD_CONST 1"},
		{"unknown instruction", "def f():\n    FROB\n"},
		{"missing operand", "def f():\n    LOAD_CONST\n"},
		{"extra operand", "def f():\n    RETURN_VALUE 1\n"},
		{"undefined label", "def f():\n    JUMP_ABSOLUTE nowhere\n"},
		{"bad literal", "def f():\n    LOAD_CONST [1]\n    RETURN_VALUE\n"},
		{"duplicate function", "def f():\n    RETURN_VALUE\ndef f():\n    RETURN_VALUE\n"},
		{"bad compare", "def f():\n    COMPARE_OP <>\n"},
		{"empty body", "def f():\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble("t", tt.src)
			if err == nil {
				t.Fatal("expected error")
			}
			var asmErr *AsmError
			if !errors.As(err, &asmErr) {
				t.Errorf("error %v is not an *AsmError", err)
			}
		})
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		src  string
		want Value
	}{
		{"None", nil},
		{"True", true},
		{"False", false},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1_000", int64(1000)},
		{"2.5", 2.5},
		{"1e3", 1000.0},
		{`"hi\n"`, "hi\n"},
		{`'it"s'`, `it"s`},
		{"()", Tuple{}},
		{"(1,)", Tuple{int64(1)}},
		{"(1)", int64(1)},
		{`(1, "a", (2, 3))`, Tuple{int64(1), "a", Tuple{int64(2), int64(3)}}},
	}
	for _, tt := range tests {
		got, err := ParseLiteral(tt.src)
		if err != nil {
			t.Errorf("ParseLiteral(%q): %v", tt.src, err)
			continue
		}
		if TypeName(got) != TypeName(tt.want) || !Equal(got, tt.want) {
			t.Errorf("ParseLiteral(%q) = %s, want %s", tt.src, Repr(got), Repr(tt.want))
		}
	}

	for _, bad := range []string{"", "nope", `"open`, "(1, 2", "1 2"} {
		if _, err := ParseLiteral(bad); err == nil {
			t.Errorf("ParseLiteral(%q) should fail", bad)
		}
	}
}
