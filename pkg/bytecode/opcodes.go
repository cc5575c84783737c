package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Every instruction is the opcode byte optionally followed by a big-endian
// uint16 operand; see OpcodeInfo.OperandLen.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop    Opcode = 0x00 // No operation
	OpPopTop Opcode = 0x01 // Pop top of stack
	OpDupTop Opcode = 0x02 // Duplicate top of stack
	OpRotTwo Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants and names (0x10-0x1F)
	// ========================================================================

	OpLoadConst   Opcode = 0x10 // Push constant: LOAD_CONST <index:u16>
	OpLoadFast    Opcode = 0x11 // Push local: LOAD_FAST <slot:u16>
	OpStoreFast   Opcode = 0x12 // Pop into local: STORE_FAST <slot:u16>
	OpDeleteFast  Opcode = 0x13 // Unbind local: DELETE_FAST <slot:u16>
	OpLoadGlobal  Opcode = 0x14 // Push global or builtin: LOAD_GLOBAL <name:u16>
	OpStoreGlobal Opcode = 0x15 // Pop into global: STORE_GLOBAL <name:u16>
	OpLoadAttr    Opcode = 0x16 // Replace TOS with attribute: LOAD_ATTR <name:u16>
	OpLoadMethod  Opcode = 0x17 // Replace TOS with bound method: LOAD_METHOD <name:u16>

	// ========================================================================
	// Arithmetic (0x20-0x2F)
	// ========================================================================

	OpBinaryAdd         Opcode = 0x20
	OpBinarySubtract    Opcode = 0x21
	OpBinaryMultiply    Opcode = 0x22
	OpBinaryTrueDivide  Opcode = 0x23
	OpBinaryFloorDivide Opcode = 0x24
	OpBinaryModulo      Opcode = 0x25
	OpUnaryNegative     Opcode = 0x26
	OpUnaryNot          Opcode = 0x27

	// ========================================================================
	// Comparison (0x30-0x3F)
	// ========================================================================

	OpCompareOp  Opcode = 0x30 // Rich comparison: COMPARE_OP <CompareKind:u16>
	OpIsOp       Opcode = 0x31 // Identity: IS_OP <invert:u16>
	OpContainsOp Opcode = 0x32 // Membership: CONTAINS_OP <invert:u16>

	// ========================================================================
	// Containers (0x40-0x4F)
	// ========================================================================

	OpBuildList      Opcode = 0x40 // BUILD_LIST <count:u16>
	OpBuildTuple     Opcode = 0x41 // BUILD_TUPLE <count:u16>
	OpBuildMap       Opcode = 0x42 // BUILD_MAP <pairs:u16>
	OpUnpackSequence Opcode = 0x43 // UNPACK_SEQUENCE <count:u16>
	OpBinarySubscr   Opcode = 0x44 // TOS1[TOS]
	OpStoreSubscr    Opcode = 0x45 // TOS1[TOS] = TOS2

	// ========================================================================
	// Control flow (0x50-0x5F), operands are absolute byte offsets
	// ========================================================================

	OpJumpAbsolute   Opcode = 0x50
	OpPopJumpIfFalse Opcode = 0x51
	OpPopJumpIfTrue  Opcode = 0x52
	OpGetIter        Opcode = 0x53
	OpForIter        Opcode = 0x54 // Push next item, or pop iterator and jump when exhausted

	// ========================================================================
	// Calls (0x60-0x6F)
	// ========================================================================

	OpCallFunction Opcode = 0x60 // CALL_FUNCTION <argc:u16>
	OpCallMethod   Opcode = 0x61 // CALL_METHOD <argc:u16>

	// ========================================================================
	// Blocks and generators (0x70-0x7F)
	// ========================================================================

	OpSetupFinally Opcode = 0x70 // Push exception handler: SETUP_FINALLY <handler:u16>
	OpSetupWith    Opcode = 0x71 // Enter context: SETUP_WITH <exit:u16>
	OpPopBlock     Opcode = 0x72
	OpYieldValue   Opcode = 0x73
	OpYieldFrom    Opcode = 0x74

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturnValue Opcode = 0xF0
)

// CompareKind is the operand of COMPARE_OP.
type CompareKind uint16

const (
	CmpLt CompareKind = iota
	CmpLe
	CmpEq
	CmpNe
	CmpGt
	CmpGe
)

var compareSymbols = [...]string{"<", "<=", "==", "!=", ">", ">="}

// String returns the operator symbol.
func (k CompareKind) String() string {
	if int(k) < len(compareSymbols) {
		return compareSymbols[k]
	}
	return fmt.Sprintf("cmp(%d)", uint16(k))
}

// ParseCompareKind maps an operator symbol to its CompareKind.
func ParseCompareKind(sym string) (CompareKind, bool) {
	for i, s := range compareSymbols {
		if s == sym {
			return CompareKind(i), true
		}
	}
	return 0, false
}

// VariableStack marks a stack effect that depends on the operand.
const VariableStack = -1

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack (-1 = variable)
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:    {"NOP", 0, 0, 0},
	OpPopTop: {"POP_TOP", 1, 0, 0},
	OpDupTop: {"DUP_TOP", 1, 2, 0},
	OpRotTwo: {"ROT_TWO", 2, 2, 0},

	// Constants and names
	OpLoadConst:   {"LOAD_CONST", 0, 1, 2},
	OpLoadFast:    {"LOAD_FAST", 0, 1, 2},
	OpStoreFast:   {"STORE_FAST", 1, 0, 2},
	OpDeleteFast:  {"DELETE_FAST", 0, 0, 2},
	OpLoadGlobal:  {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal: {"STORE_GLOBAL", 1, 0, 2},
	OpLoadAttr:    {"LOAD_ATTR", 1, 1, 2},
	OpLoadMethod:  {"LOAD_METHOD", 1, 1, 2},

	// Arithmetic
	OpBinaryAdd:         {"BINARY_ADD", 2, 1, 0},
	OpBinarySubtract:    {"BINARY_SUBTRACT", 2, 1, 0},
	OpBinaryMultiply:    {"BINARY_MULTIPLY", 2, 1, 0},
	OpBinaryTrueDivide:  {"BINARY_TRUE_DIVIDE", 2, 1, 0},
	OpBinaryFloorDivide: {"BINARY_FLOOR_DIVIDE", 2, 1, 0},
	OpBinaryModulo:      {"BINARY_MODULO", 2, 1, 0},
	OpUnaryNegative:     {"UNARY_NEGATIVE", 1, 1, 0},
	OpUnaryNot:          {"UNARY_NOT", 1, 1, 0},

	// Comparison
	OpCompareOp:  {"COMPARE_OP", 2, 1, 2},
	OpIsOp:       {"IS_OP", 2, 1, 2},
	OpContainsOp: {"CONTAINS_OP", 2, 1, 2},

	// Containers
	OpBuildList:      {"BUILD_LIST", VariableStack, 1, 2},
	OpBuildTuple:     {"BUILD_TUPLE", VariableStack, 1, 2},
	OpBuildMap:       {"BUILD_MAP", VariableStack, 1, 2},
	OpUnpackSequence: {"UNPACK_SEQUENCE", 1, VariableStack, 2},
	OpBinarySubscr:   {"BINARY_SUBSCR", 2, 1, 0},
	OpStoreSubscr:    {"STORE_SUBSCR", 3, 0, 0},

	// Control flow
	OpJumpAbsolute:   {"JUMP_ABSOLUTE", 0, 0, 2},
	OpPopJumpIfFalse: {"POP_JUMP_IF_FALSE", 1, 0, 2},
	OpPopJumpIfTrue:  {"POP_JUMP_IF_TRUE", 1, 0, 2},
	OpGetIter:        {"GET_ITER", 1, 1, 0},
	OpForIter:        {"FOR_ITER", 1, 2, 2}, // fall-through effect; the exit edge pops the iterator

	// Calls
	OpCallFunction: {"CALL_FUNCTION", VariableStack, 1, 2}, // Pops callee + argc args
	OpCallMethod:   {"CALL_METHOD", VariableStack, 1, 2},   // Pops bound method + argc args

	// Blocks and generators
	OpSetupFinally: {"SETUP_FINALLY", 0, 0, 2},
	OpSetupWith:    {"SETUP_WITH", 1, 1, 2},
	OpPopBlock:     {"POP_BLOCK", 0, 0, 0},
	OpYieldValue:   {"YIELD_VALUE", 1, 1, 0},
	OpYieldFrom:    {"YIELD_FROM", 1, 1, 0},

	// Return
	OpReturnValue: {"RETURN_VALUE", 1, 0, 0},
}

// opcodeByName is the reverse of opcodeInfoTable, used by the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode may transfer control to its operand.
func (op Opcode) IsJump() bool {
	switch op {
	case OpJumpAbsolute, OpPopJumpIfFalse, OpPopJumpIfTrue, OpForIter, OpSetupFinally, OpSetupWith:
		return true
	}
	return false
}

// IsConditional returns true if the jump also falls through.
func (op Opcode) IsConditional() bool {
	return op.IsJump() && op != OpJumpAbsolute
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturnValue
}

// StackEffect returns the net stack effect of op with the given operand on the
// fall-through path.
func (op Opcode) StackEffect(arg int) int {
	switch op {
	case OpBuildList, OpBuildTuple:
		return 1 - arg
	case OpBuildMap:
		return 1 - 2*arg
	case OpUnpackSequence:
		return arg - 1
	case OpCallFunction, OpCallMethod:
		return -arg
	}
	info := GetOpcodeInfo(op)
	return info.StackPush - info.StackPop
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
