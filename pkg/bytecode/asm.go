package bytecode

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// AsmError reports a problem in assembler source.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type fixup struct {
	offset int
	label  string
	line   int
}

type asmFunc struct {
	chunk  *Chunk
	labels map[string]int
	fixups []fixup
	line   int
}

// Assemble parses textual bytecode into a module.
//
// The format is one function per "def" header followed by its instructions:
//
//	; comment
//	def fib(n):
//	    LOAD_FAST n
//	    LOAD_CONST 2
//	    COMPARE_OP <
//	    POP_JUMP_IF_FALSE recurse
//	    LOAD_FAST n
//	    RETURN_VALUE
//	recurse:
//	    ...
//
// Operands are literals for LOAD_CONST, local names for *_FAST, global or
// attribute names for *_GLOBAL, LOAD_ATTR and LOAD_METHOD, an operator symbol
// for COMPARE_OP, label names for jumps and integers otherwise. The directives
// ".locals a, b", ".flags generator|coroutine" and ".byte N" are also accepted.
func Assemble(name, src string) (*Module, error) {
	m := &Module{Name: name}
	var cur *asmFunc

	finish := func() error {
		if cur == nil {
			return nil
		}
		for _, fx := range cur.fixups {
			target, ok := cur.labels[fx.label]
			if !ok {
				return &AsmError{Line: fx.line, Msg: fmt.Sprintf("undefined label %q in %s", fx.label, cur.chunk.Name())}
			}
			cur.chunk.PatchArg(fx.offset, uint16(target))
		}
		if len(cur.chunk.Code) == 0 {
			return &AsmError{Line: cur.line, Msg: fmt.Sprintf("function %s has no instructions", cur.chunk.Name())}
		}
		for _, ins := range mustDecode(cur.chunk) {
			if ins.Op == OpYieldValue || ins.Op == OpYieldFrom {
				cur.chunk.Flags |= FlagGenerator
			}
		}
		m.Chunks = append(m.Chunks, cur.chunk)
		cur = nil
		return nil
	}

	for i, raw := range strings.Split(src, "\n") {
		lineNo := i + 1
		line := stripComment(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "def ") {
			if err := finish(); err != nil {
				return nil, err
			}
			c, err := parseHeader(line)
			if err != nil {
				return nil, &AsmError{Line: lineNo, Msg: err.Error()}
			}
			if m.Lookup(c.Name()) != nil {
				return nil, &AsmError{Line: lineNo, Msg: fmt.Sprintf("duplicate function %s", c.Name())}
			}
			cur = &asmFunc{chunk: c, labels: map[string]int{}, line: lineNo}
			continue
		}
		if cur == nil {
			return nil, &AsmError{Line: lineNo, Msg: "instruction outside of a def block"}
		}

		if strings.HasSuffix(line, ":") && isIdent(strings.TrimSuffix(line, ":")) {
			label := strings.TrimSuffix(line, ":")
			if _, dup := cur.labels[label]; dup {
				return nil, &AsmError{Line: lineNo, Msg: fmt.Sprintf("duplicate label %q", label)}
			}
			cur.labels[label] = len(cur.chunk.Code)
			continue
		}

		if err := cur.instruction(line, lineNo); err != nil {
			return nil, err
		}
	}
	if err := finish(); err != nil {
		return nil, err
	}
	if len(m.Chunks) == 0 {
		return nil, &AsmError{Line: 1, Msg: "no functions defined"}
	}
	return m, nil
}

func mustDecode(c *Chunk) []Instruction {
	ins, err := c.Instructions()
	if err != nil {
		return nil
	}
	return ins
}

func stripComment(s string) string {
	inStr := rune(0)
	for i, r := range s {
		switch {
		case inStr != 0:
			if r == inStr {
				inStr = 0
			}
		case r == '"' || r == '\'':
			inStr = r
		case r == ';' || r == '#':
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func parseHeader(line string) (*Chunk, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "def "))
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, "):") {
		return nil, fmt.Errorf("malformed def header %q", line)
	}
	name := strings.TrimSpace(rest[:open])
	if !isIdent(name) {
		return nil, fmt.Errorf("invalid function name %q", name)
	}
	c := NewChunk(name)
	params := strings.TrimSpace(rest[open+1 : len(rest)-2])
	if params != "" {
		for _, p := range strings.Split(params, ",") {
			p = strings.TrimSpace(p)
			if !isIdent(p) {
				return nil, fmt.Errorf("invalid parameter name %q", p)
			}
			if c.VarSlot(p) >= 0 {
				return nil, fmt.Errorf("duplicate parameter %q", p)
			}
			c.AddVar(p)
			c.ParamCount++
		}
	}
	return c, nil
}

func (f *asmFunc) instruction(line string, lineNo int) error {
	c := f.chunk
	mnemonic, operand, _ := strings.Cut(strings.ReplaceAll(line, "\t", " "), " ")
	operand = strings.TrimSpace(operand)
	fail := func(format string, args ...any) error {
		return &AsmError{Line: lineNo, Msg: fmt.Sprintf(format, args...)}
	}

	switch mnemonic {
	case ".locals":
		for _, name := range strings.Split(operand, ",") {
			name = strings.TrimSpace(name)
			if !isIdent(name) {
				return fail("invalid local name %q", name)
			}
			c.AddVar(name)
		}
		return nil
	case ".flags":
		for _, flag := range strings.Split(operand, "|") {
			switch strings.TrimSpace(strings.ToLower(flag)) {
			case "generator":
				c.Flags |= FlagGenerator
			case "coroutine":
				c.Flags |= FlagCoroutine
			default:
				return fail("unknown flag %q", flag)
			}
		}
		return nil
	case ".byte":
		n, err := strconv.ParseUint(operand, 0, 8)
		if err != nil {
			return fail("invalid byte %q", operand)
		}
		c.MarkLine(lineNo)
		c.Code = append(c.Code, byte(n))
		return nil
	}

	op, ok := LookupOpcode(mnemonic)
	if !ok {
		return fail("unknown instruction %q", mnemonic)
	}
	c.MarkLine(lineNo)
	if op.OperandLen() == 0 {
		if operand != "" {
			return fail("%s takes no operand", op)
		}
		c.Emit(op)
		return nil
	}
	if operand == "" {
		return fail("%s requires an operand", op)
	}

	var arg uint16
	switch {
	case op == OpLoadConst:
		v, err := ParseLiteral(operand)
		if err != nil {
			return fail("%v", err)
		}
		arg = c.AddConstant(v)
	case op == OpLoadFast || op == OpStoreFast || op == OpDeleteFast:
		if !isIdent(operand) {
			return fail("invalid local name %q", operand)
		}
		arg = c.AddVar(operand)
	case op == OpLoadGlobal || op == OpStoreGlobal || op == OpLoadAttr || op == OpLoadMethod:
		if !isIdent(operand) {
			return fail("invalid name %q", operand)
		}
		arg = c.AddName(operand)
	case op == OpCompareOp:
		kind, ok := ParseCompareKind(operand)
		if !ok {
			return fail("unknown comparison %q", operand)
		}
		arg = uint16(kind)
	case op.IsJump():
		if n, err := strconv.ParseUint(operand, 0, 16); err == nil {
			arg = uint16(n)
			break
		}
		if !isIdent(operand) {
			return fail("invalid jump target %q", operand)
		}
		f.fixups = append(f.fixups, fixup{offset: len(c.Code), label: operand, line: lineNo})
	default:
		n, err := strconv.ParseUint(operand, 0, 16)
		if err != nil {
			return fail("%s operand must be an integer, got %q", op, operand)
		}
		arg = uint16(n)
	}
	c.EmitArg(op, arg)
	return nil
}

// ParseLiteral parses a constant literal: None, True, False, an int, a float,
// a quoted string or a parenthesized tuple of literals.
func ParseLiteral(src string) (Value, error) {
	p := &litParser{src: strings.TrimSpace(src)}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected %q after literal", p.src[p.pos:])
	}
	return v, nil
}

type litParser struct {
	src string
	pos int
}

func (p *litParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *litParser) value() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("missing literal")
	}
	switch ch := p.src[p.pos]; {
	case ch == '(':
		return p.tuple()
	case ch == '"' || ch == '\'':
		return p.str(ch)
	case ch == '-' || ch == '+' || ch == '.' || (ch >= '0' && ch <= '9'):
		return p.number()
	}
	start := p.pos
	for p.pos < len(p.src) && isIdent(p.src[start:p.pos+1]) {
		p.pos++
	}
	switch word := p.src[start:p.pos]; word {
	case "None":
		return nil, nil
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "":
		return nil, fmt.Errorf("unexpected %q", p.src[start:])
	default:
		return nil, fmt.Errorf("unknown literal %q", word)
	}
}

func (p *litParser) tuple() (Value, error) {
	p.pos++ // (
	items := Tuple{}
	trailingComma := false
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("unterminated tuple")
		}
		if p.src[p.pos] == ')' {
			p.pos++
			break
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		trailingComma = false
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			trailingComma = true
			continue
		}
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return nil, fmt.Errorf("expected ',' or ')' in tuple")
		}
	}
	if len(items) == 1 && !trailingComma {
		return items[0], nil
	}
	return items, nil
}

func (p *litParser) str(quote byte) (Value, error) {
	end := p.pos + 1
	for end < len(p.src) {
		if p.src[end] == '\\' {
			end += 2
			continue
		}
		if p.src[end] == quote {
			break
		}
		end++
	}
	if end >= len(p.src) {
		return nil, fmt.Errorf("unterminated string")
	}
	lit := p.src[p.pos : end+1]
	p.pos = end + 1
	if quote == '\'' {
		lit = `"` + strings.ReplaceAll(lit[1:len(lit)-1], `"`, `\"`) + `"`
	}
	s, err := strconv.Unquote(lit)
	if err != nil {
		return nil, fmt.Errorf("invalid string %s", lit)
	}
	return s, nil
}

func (p *litParser) number() (Value, error) {
	start := p.pos
	if p.src[p.pos] == '-' || p.src[p.pos] == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		if ch == '.' || ch == 'e' || ch == 'E' {
			isFloat = true
		} else if !(ch >= '0' && ch <= '9') && !(isFloat && (ch == '-' || ch == '+')) && ch != '_' {
			break
		}
		p.pos++
	}
	text := strings.ReplaceAll(p.src[start:p.pos], "_", "")
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", text)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid int %q", text)
	}
	return n, nil
}
