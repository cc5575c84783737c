package jit

// Info returns a snapshot of the unit's record. It never creates a record
// and never compiles; an unseen unit reports zero values.
func (r *Runtime) Info(unit CodeUnit) Info {
	rec, ok := r.registry.Lookup(unit)
	if !ok {
		return Info{Name: unit.Name()}
	}
	return rec.Info()
}

// Dis returns the instruction listing of the unit's current artifact, or
// "" unless the unit is compiled.
func (r *Runtime) Dis(unit CodeUnit) string {
	art := r.artifact(unit)
	if art == nil {
		return ""
	}
	return art.Disassembly()
}

// Graph returns the control-flow graph of the unit's current artifact. It
// is present only for compiled units whose compile had Graph enabled.
func (r *Runtime) Graph(unit CodeUnit) (string, bool) {
	art := r.artifact(unit)
	if art == nil {
		return "", false
	}
	return art.Graph()
}

// Symbols returns the call-token table of the unit's current artifact.
func (r *Runtime) Symbols(unit CodeUnit) map[int]string {
	art := r.artifact(unit)
	if art == nil {
		return nil
	}
	return art.Symbols()
}

// Units returns a snapshot of every record, ordered by ID.
func (r *Runtime) Units() []Info {
	recs := r.registry.Records()
	out := make([]Info, len(recs))
	for i, rec := range recs {
		out[i] = rec.Info()
	}
	return out
}

// Lookup finds a recorded unit by name.
func (r *Runtime) Lookup(name string) (CodeUnit, bool) {
	rec, ok := r.registry.Find(name)
	if !ok {
		return nil, false
	}
	return rec.Unit, true
}

func (r *Runtime) artifact(unit CodeUnit) Artifact {
	rec, ok := r.registry.Lookup(unit)
	if !ok {
		return nil
	}
	return rec.currentArtifact()
}

// Stats holds aggregate counts over all records.
type Stats struct {
	Units         int
	Compiled      int
	Failed        int
	Optimized     int
	Calls         uint64
	GuardFailures uint64
}

// Stats returns aggregate counts over all records.
func (r *Runtime) Stats() Stats {
	var s Stats
	r.registry.Range(func(rec *Record) bool {
		info := rec.Info()
		s.Units++
		s.Calls += info.RunCount
		s.GuardFailures += info.GuardFailures
		switch {
		case info.Failed:
			s.Failed++
		case info.Compiled:
			s.Compiled++
			if info.PGC == PgcOptimized {
				s.Optimized++
			}
		}
		return true
	})
	return s
}
