package jit

import (
	"fmt"
	"time"
)

// EventKind identifies a record transition.
type EventKind uint8

const (
	EventCompiled EventKind = iota + 1
	EventFailed
	EventDiscarded
	EventSpecialized
	EventSpecializeFailed
	EventGuardFailure
)

func (k EventKind) String() string {
	switch k {
	case EventCompiled:
		return "compiled"
	case EventFailed:
		return "failed"
	case EventDiscarded:
		return "discarded"
	case EventSpecialized:
		return "specialized"
	case EventSpecializeFailed:
		return "specialize_failed"
	case EventGuardFailure:
		return "guard_failure"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event describes a transition of one record.
type Event struct {
	Kind     EventKind
	UnitID   uint64
	Unit     string
	Result   CompileResult
	PGC      PgcStatus
	Flags    OptimizationFlags
	Duration time.Duration
	Probes   []ShapeProbe
	Count    uint64 // guard misses for EventGuardFailure
	Err      error
	Time     time.Time
}

// Listener observes record transitions. OnTransition is called
// synchronously on the calling goroutine, never with a record lock held.
type Listener interface {
	OnTransition(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnTransition(e Event) {
	f(e)
}
