package jit

import (
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Registry maps code units to their compilation records. Records are never
// evicted. Compiles of a record are single-flighted here, so runtimes that
// share a registry never compile the same unit at the same time.
type Registry struct {
	records sync.Map // CodeUnit -> *Record
	nextID  atomic.Uint64
	count   atomic.Int64
	flight  singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// GetOrCreate returns the unit's record, creating an uncompiled one on first
// use. Concurrent callers always receive the same record.
func (r *Registry) GetOrCreate(unit CodeUnit) *Record {
	if val, ok := r.records.Load(unit); ok {
		return val.(*Record)
	}
	val, loaded := r.records.LoadOrStore(unit, newRecord(unit, r.nextID.Add(1)))
	if !loaded {
		r.count.Add(1)
	}
	return val.(*Record)
}

// Lookup returns the unit's record without creating one.
func (r *Registry) Lookup(unit CodeUnit) (*Record, bool) {
	val, ok := r.records.Load(unit)
	if !ok {
		return nil, false
	}
	return val.(*Record), true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for each record until fn returns false.
func (r *Registry) Range(fn func(*Record) bool) {
	r.records.Range(func(_, value any) bool {
		return fn(value.(*Record))
	})
}

// Records returns every record ordered by ID.
func (r *Registry) Records() []*Record {
	var out []*Record
	r.Range(func(rec *Record) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the first record, by ID, whose unit has the given name.
func (r *Registry) Find(name string) (*Record, bool) {
	for _, rec := range r.Records() {
		if rec.Unit.Name() == name {
			return rec, true
		}
	}
	return nil, false
}
