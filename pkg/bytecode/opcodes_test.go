package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		if info.OperandLen != 0 && info.OperandLen != 2 {
			t.Errorf("%s has operand length %d, want 0 or 2", info.Name, info.OperandLen)
		}
	}
}

func TestOpcodeNamesRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := LookupOpcode(op.String())
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", op.String(), got, ok)
		}
	}
	if OpcodeCount() != len(AllOpcodes()) {
		t.Errorf("OpcodeCount() = %d, AllOpcodes has %d", OpcodeCount(), len(AllOpcodes()))
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if op.Known() {
		t.Fatal("0xEE should not be a known opcode")
	}
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.InstructionLen() != 1 {
		t.Errorf("unknown opcodes decode as one byte, got %d", op.InstructionLen())
	}
}

func TestOpcodeJumpClassification(t *testing.T) {
	tests := []struct {
		op          Opcode
		jump        bool
		conditional bool
	}{
		{OpJumpAbsolute, true, false},
		{OpPopJumpIfFalse, true, true},
		{OpPopJumpIfTrue, true, true},
		{OpForIter, true, true},
		{OpSetupFinally, true, true},
		{OpBinaryAdd, false, false},
		{OpReturnValue, false, false},
	}
	for _, tt := range tests {
		if got := tt.op.IsJump(); got != tt.jump {
			t.Errorf("%s.IsJump() = %v, want %v", tt.op, got, tt.jump)
		}
		if got := tt.op.IsConditional(); got != tt.conditional {
			t.Errorf("%s.IsConditional() = %v, want %v", tt.op, got, tt.conditional)
		}
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op   Opcode
		arg  int
		want int
	}{
		{OpLoadConst, 0, 1},
		{OpPopTop, 0, -1},
		{OpBinaryAdd, 0, -1},
		{OpBuildList, 3, -2},
		{OpBuildTuple, 0, 1},
		{OpBuildMap, 2, -3},
		{OpUnpackSequence, 2, 1},
		{OpCallFunction, 2, -2},
		{OpStoreSubscr, 0, -3},
		{OpReturnValue, 0, -1},
		{OpYieldValue, 0, 0},
	}
	for _, tt := range tests {
		if got := tt.op.StackEffect(tt.arg); got != tt.want {
			t.Errorf("%s.StackEffect(%d) = %d, want %d", tt.op, tt.arg, got, tt.want)
		}
	}
}

func TestCompareKind(t *testing.T) {
	for _, sym := range []string{"<", "<=", "==", "!=", ">", ">="} {
		k, ok := ParseCompareKind(sym)
		if !ok {
			t.Fatalf("ParseCompareKind(%q) failed", sym)
		}
		if k.String() != sym {
			t.Errorf("CompareKind(%d).String() = %q, want %q", k, k.String(), sym)
		}
	}
	if _, ok := ParseCompareKind("<>"); ok {
		t.Error("<> should not parse")
	}
}
