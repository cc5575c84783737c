package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/pyjion/pkg/bytecode"
)

// basicBlock is a maximal straight-line run of reachable instructions.
type basicBlock struct {
	start, end int // positions in program.ins, end exclusive
	succ       []int
}

// blocks splits p into basic blocks keyed by their leading offset.
func (p *program) blocks() (map[int]*basicBlock, []int) {
	leaders := map[int]bool{p.ins[0].Offset: true}
	for i, in := range p.ins {
		if in.Op.IsJump() {
			leaders[in.Arg] = true
		}
		if (in.Op.IsJump() || in.Op.IsReturn()) && i+1 < len(p.ins) {
			leaders[p.ins[i+1].Offset] = true
		}
	}

	out := make(map[int]*basicBlock)
	var order []int
	for i := 0; i < len(p.ins); {
		start := i
		i++
		for i < len(p.ins) && !leaders[p.ins[i].Offset] {
			i++
		}
		if p.depth[start] < 0 {
			continue
		}
		b := &basicBlock{start: start, end: i}
		last := p.ins[i-1]
		if last.Op.IsJump() {
			b.succ = append(b.succ, last.Arg)
		}
		if !last.Op.IsReturn() && last.Op != bytecode.OpJumpAbsolute && i < len(p.ins) {
			b.succ = append(b.succ, p.ins[i].Offset)
		}
		off := p.ins[start].Offset
		out[off] = b
		order = append(order, off)
	}
	sort.Ints(order)
	return out, order
}

// dot renders the control-flow graph in Graphviz format.
func (p *program) dot() string {
	blocks, order := p.blocks()
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", p.chunk.Name())
	sb.WriteString("    node [shape=box, fontname=\"monospace\"];\n")
	for _, off := range order {
		b := blocks[off]
		var lines []string
		for _, in := range p.ins[b.start:b.end] {
			lines = append(lines, fmt.Sprintf("%d %s", in.Offset, strings.Join(strings.Fields(p.chunk.FormatInstruction(in)), " ")))
		}
		label := strings.ReplaceAll(strings.Join(lines, "\\l"), `"`, `\"`)
		fmt.Fprintf(&sb, "    %s [label=\"%s\\l\"];\n", label0(off), label)
	}
	for _, off := range order {
		b := blocks[off]
		last := p.ins[b.end-1]
		for i, to := range b.succ {
			attr := ""
			if last.Op.IsConditional() {
				if i == 0 {
					attr = " [label=\"jump\"]"
				} else {
					attr = " [label=\"next\"]"
				}
			}
			fmt.Fprintf(&sb, "    %s -> %s%s;\n", label0(off), label0(to), attr)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func label0(offset int) string {
	return fmt.Sprintf("b%d", offset)
}
