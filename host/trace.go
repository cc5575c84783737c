package host

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chazu/pyjion/jit"
)

// Tracer writes trace hooks as indented lines to w.
type Tracer struct {
	mu    sync.Mutex
	w     io.Writer
	depth int
}

// NewTracer creates a tracer writing to w.
func NewTracer(w io.Writer) *Tracer {
	return &Tracer{w: w}
}

func (t *Tracer) OnFrameEntry(unit jit.CodeUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s-> %s\n", strings.Repeat("  ", t.depth), unit.Name())
	t.depth++
}

func (t *Tracer) OnLine(unit jit.CodeUnit, line int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s%s:%d\n", strings.Repeat("  ", t.depth), unit.Name(), line)
}

func (t *Tracer) OnFrameExit(unit jit.CodeUnit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.depth > 0 {
		t.depth--
	}
	fmt.Fprintf(t.w, "%s<- %s\n", strings.Repeat("  ", t.depth), unit.Name())
}

// ProfileEntry is the accumulated profile of one unit.
type ProfileEntry struct {
	Name  string
	Calls uint64
	Total time.Duration
}

// Profiler accumulates call counts and inclusive wall time per unit.
type Profiler struct {
	mu      sync.Mutex
	entries map[jit.CodeUnit]*ProfileEntry
	started map[jit.CodeUnit][]time.Time
	now     func() time.Time
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{
		entries: make(map[jit.CodeUnit]*ProfileEntry),
		started: make(map[jit.CodeUnit][]time.Time),
		now:     time.Now,
	}
}

func (p *Profiler) OnCall(unit jit.CodeUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[unit]
	if !ok {
		e = &ProfileEntry{Name: unit.Name()}
		p.entries[unit] = e
	}
	e.Calls++
	p.started[unit] = append(p.started[unit], p.now())
}

func (p *Profiler) OnReturn(unit jit.CodeUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	stack := p.started[unit]
	if len(stack) == 0 {
		return
	}
	start := stack[len(stack)-1]
	p.started[unit] = stack[:len(stack)-1]
	// Recursive frames are counted once, by the outermost return.
	if len(stack) == 1 {
		p.entries[unit].Total += p.now().Sub(start)
	}
}

// Entries returns the profile sorted by descending total time.
func (p *Profiler) Entries() []ProfileEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProfileEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Name < out[j].Name
	})
	return out
}
