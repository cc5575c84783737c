package bytecode

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ChunkFlags are the code flags of a unit.
type ChunkFlags uint16

const (
	// FlagGenerator marks a body that yields.
	FlagGenerator ChunkFlags = 1 << 0

	// FlagCoroutine marks an async body.
	FlagCoroutine ChunkFlags = 1 << 1

	// FlagDebug indicates the line table is populated.
	FlagDebug ChunkFlags = 1 << 2
)

// String lists the set flags.
func (f ChunkFlags) String() string {
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f&FlagGenerator != 0 {
		add("GENERATOR")
	}
	if f&FlagCoroutine != 0 {
		add("COROUTINE")
	}
	if f&FlagDebug != 0 {
		add("DEBUG")
	}
	if s == "" {
		return "0"
	}
	return s
}

// LineEntry maps a bytecode offset to the source line it came from.
type LineEntry struct {
	Offset int
	Line   int
}

// Chunk is the executable body of a function. A *Chunk is the unit the JIT
// keys its records on, so chunks are never copied once created.
type Chunk struct {
	name  string
	Flags ChunkFlags

	// Code section
	Code []byte

	// Constant pool, referenced by LOAD_CONST
	Constants []Value

	// Global and attribute names, referenced by LOAD_GLOBAL, LOAD_ATTR, ...
	Names []string

	// Local variable names; the first ParamCount are the parameters.
	VarNames   []string
	ParamCount int

	// Line table, sorted by offset
	Lines []LineEntry
}

// NewChunk creates an empty chunk for a function called name.
func NewChunk(name string) *Chunk {
	return &Chunk{
		name: name,
		Code: make([]byte, 0, 64),
	}
}

// Name returns the function name.
func (c *Chunk) Name() string {
	return c.name
}

// String implements fmt.Stringer.
func (c *Chunk) String() string {
	return fmt.Sprintf("<code %s>", c.name)
}

// AddConstant adds a constant and returns its index. Constants of the same
// type that compare equal share a slot.
func (c *Chunk) AddConstant(v Value) uint16 {
	for i, k := range c.Constants {
		if TypeName(k) == TypeName(v) && Equal(k, v) {
			return uint16(i)
		}
	}
	c.Constants = append(c.Constants, v)
	return uint16(len(c.Constants) - 1)
}

// AddName interns a global or attribute name.
func (c *Chunk) AddName(name string) uint16 {
	for i, n := range c.Names {
		if n == name {
			return uint16(i)
		}
	}
	c.Names = append(c.Names, name)
	return uint16(len(c.Names) - 1)
}

// AddVar returns the slot of a local, allocating one if needed.
func (c *Chunk) AddVar(name string) uint16 {
	if slot := c.VarSlot(name); slot >= 0 {
		return uint16(slot)
	}
	c.VarNames = append(c.VarNames, name)
	return uint16(len(c.VarNames) - 1)
}

// VarSlot returns the slot of a local or -1.
func (c *Chunk) VarSlot(name string) int {
	for i, n := range c.VarNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Emit appends an operand-less instruction and returns its offset.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitArg appends an instruction with a u16 operand and returns its offset.
func (c *Chunk) EmitArg(op Opcode, arg uint16) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = binary.BigEndian.AppendUint16(c.Code, arg)
	return offset
}

// PatchArg rewrites the operand of the instruction at offset.
func (c *Chunk) PatchArg(offset int, arg uint16) {
	binary.BigEndian.PutUint16(c.Code[offset+1:], arg)
}

// MarkLine records that code emitted from here on comes from line.
func (c *Chunk) MarkLine(line int) {
	c.Flags |= FlagDebug
	if n := len(c.Lines); n > 0 {
		last := &c.Lines[n-1]
		if last.Line == line {
			return
		}
		if last.Offset == len(c.Code) {
			last.Line = line
			return
		}
	}
	c.Lines = append(c.Lines, LineEntry{Offset: len(c.Code), Line: line})
}

// LineAt returns the source line of the instruction at offset, or 0.
func (c *Chunk) LineAt(offset int) int {
	line := 0
	for _, e := range c.Lines {
		if e.Offset > offset {
			break
		}
		line = e.Line
	}
	return line
}

// Instruction is one decoded instruction.
type Instruction struct {
	Offset int
	Op     Opcode
	Arg    int
	Line   int
}

// Len returns the encoded length of the instruction.
func (ins Instruction) Len() int {
	return ins.Op.InstructionLen()
}

// Next returns the offset of the following instruction.
func (ins Instruction) Next() int {
	return ins.Offset + ins.Len()
}

// DecodeAt decodes the instruction at offset. Unknown opcodes decode with no
// operand so that callers can report them.
func (c *Chunk) DecodeAt(offset int) (Instruction, error) {
	if offset < 0 || offset >= len(c.Code) {
		return Instruction{}, fmt.Errorf("offset %d outside code of length %d", offset, len(c.Code))
	}
	ins := Instruction{Offset: offset, Op: Opcode(c.Code[offset]), Line: c.LineAt(offset)}
	if n := ins.Op.OperandLen(); n > 0 {
		if offset+1+n > len(c.Code) {
			return Instruction{}, fmt.Errorf("truncated %s operand at offset %d", ins.Op, offset)
		}
		ins.Arg = int(binary.BigEndian.Uint16(c.Code[offset+1:]))
	}
	return ins, nil
}

// Instructions decodes the whole code section.
func (c *Chunk) Instructions() ([]Instruction, error) {
	var out []Instruction
	for offset := 0; offset < len(c.Code); {
		ins, err := c.DecodeAt(offset)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
		offset = ins.Next()
	}
	return out, nil
}

// Hash returns a content digest of the chunk, stable across processes.
func (c *Chunk) Hash() string {
	h := sha256.New()
	h.Write([]byte(c.name))
	h.Write([]byte{0, byte(c.Flags >> 8), byte(c.Flags)})
	h.Write(c.Code)
	for _, k := range c.Constants {
		fmt.Fprintf(h, "\x00%s:%s", TypeName(k), Repr(k))
	}
	for _, n := range c.Names {
		fmt.Fprintf(h, "\x01%s", n)
	}
	for _, n := range c.VarNames {
		fmt.Fprintf(h, "\x02%s", n)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Module is an assembled source file: a set of functions in definition order.
type Module struct {
	Name   string
	Chunks []*Chunk
}

// Lookup returns the function body called name.
func (m *Module) Lookup(name string) *Chunk {
	for _, c := range m.Chunks {
		if c.name == name {
			return c
		}
	}
	return nil
}
