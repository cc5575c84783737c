package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the chunk, one
// instruction per line in the form "line offset MNEMONIC arg (detail)".
func (c *Chunk) Disassemble() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "; def %s(%s)\n", c.name, strings.Join(c.VarNames[:c.ParamCount], ", "))
	if c.Flags&^FlagDebug != 0 {
		fmt.Fprintf(&sb, "; flags: %s\n", c.Flags)
	}
	if locals := c.VarNames[c.ParamCount:]; len(locals) > 0 {
		fmt.Fprintf(&sb, "; locals: %s\n", strings.Join(locals, ", "))
	}

	lastLine := -1
	for offset := 0; offset < len(c.Code); {
		ins, err := c.DecodeAt(offset)
		if err != nil {
			fmt.Fprintf(&sb, "      %4d <%v>\n", offset, err)
			break
		}
		lineCol := "    "
		if ins.Line != lastLine && ins.Line > 0 {
			lineCol = fmt.Sprintf("%4d", ins.Line)
			lastLine = ins.Line
		}
		fmt.Fprintf(&sb, "%s  %4d %s\n", lineCol, offset, c.FormatInstruction(ins))
		offset = ins.Next()
	}
	return sb.String()
}

// FormatInstruction renders one instruction with its resolved operand.
func (c *Chunk) FormatInstruction(ins Instruction) string {
	if !ins.Op.Known() {
		return ins.Op.String()
	}
	if ins.Op.OperandLen() == 0 {
		return ins.Op.String()
	}
	detail := c.operandDetail(ins)
	if detail == "" {
		return fmt.Sprintf("%-20s %d", ins.Op, ins.Arg)
	}
	return fmt.Sprintf("%-20s %d (%s)", ins.Op, ins.Arg, detail)
}

func (c *Chunk) operandDetail(ins Instruction) string {
	switch ins.Op {
	case OpLoadConst:
		if ins.Arg < len(c.Constants) {
			return Repr(c.Constants[ins.Arg])
		}
	case OpLoadFast, OpStoreFast, OpDeleteFast:
		if ins.Arg < len(c.VarNames) {
			return c.VarNames[ins.Arg]
		}
	case OpLoadGlobal, OpStoreGlobal, OpLoadAttr, OpLoadMethod:
		if ins.Arg < len(c.Names) {
			return c.Names[ins.Arg]
		}
	case OpCompareOp:
		return CompareKind(ins.Arg).String()
	case OpIsOp:
		if ins.Arg != 0 {
			return "is not"
		}
		return "is"
	case OpContainsOp:
		if ins.Arg != 0 {
			return "not in"
		}
		return "in"
	}
	if ins.Op.IsJump() {
		return fmt.Sprintf("to %d", ins.Arg)
	}
	return ""
}
