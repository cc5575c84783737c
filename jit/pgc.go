package jit

import (
	"context"
	"strconv"
	"time"
)

// exit merges one invocation's observations into the record and
// specializes the unit once a site is stable. Inner (reentrant) calls exit
// first, so they merge first.
func (r *Runtime) exit(ctx context.Context, rec *Record, obs *Observation) {
	if !r.enabled.Load() {
		return
	}
	cfg := r.config.Load()
	misses := obs.GuardMisses()

	rec.mu.Lock()
	rec.guardFailures += misses
	pgc := rec.pgc
	promote := false
	if cfg.PGC && rec.status == Compiled && rec.pgc == PgcCompiledWithProbes && !rec.noRespecialize {
		rec.merge(obs)
		promote = len(rec.stableProbes(cfg.PGCThreshold)) > 0
	}
	rec.mu.Unlock()

	if misses > 0 {
		r.emit(Event{Kind: EventGuardFailure, UnitID: rec.ID, Unit: rec.Unit.Name(), PGC: pgc, Count: misses})
	}
	if promote {
		r.specialize(ctx, rec)
	}
}

// merge folds obs into the probe table. Caller holds mu.
func (rec *Record) merge(obs *Observation) {
	if rec.probes == nil {
		rec.probes = make(map[int]*ShapeProbe)
	}
	for _, site := range obs.Sites() {
		shape, _ := obs.Shape(site)
		p, ok := rec.probes[site]
		switch {
		case !ok:
			rec.probes[site] = &ShapeProbe{Site: site, Shape: shape, Streak: 1}
		case p.Shape == shape:
			p.Streak++
		default:
			p.Shape = shape
			p.Streak = 1
		}
	}
}

// stableProbes returns the sites whose streak reached threshold. Caller
// holds mu.
func (rec *Record) stableProbes(threshold int) []ShapeProbe {
	var stable []ShapeProbe
	for _, p := range rec.probeSnapshot() {
		if p.Streak >= threshold {
			stable = append(stable, p)
		}
	}
	return stable
}

func (r *Runtime) specialize(ctx context.Context, rec *Record) {
	r.registry.flight.Do("pgc:"+strconv.FormatUint(rec.ID, 10), func() (any, error) {
		r.specializeOnce(context.WithoutCancel(ctx), rec)
		return nil, nil
	})
}

// specializeOnce recompiles the unit against its stable shapes. On success
// the unit is Optimized for good; on failure the probed artifact stays and
// no further specialization is attempted.
func (r *Runtime) specializeOnce(ctx context.Context, rec *Record) {
	cfg := *r.config.Load()
	rec.mu.Lock()
	if rec.status != Compiled || rec.pgc != PgcCompiledWithProbes || rec.noRespecialize {
		rec.mu.Unlock()
		return
	}
	assumptions := rec.stableProbes(cfg.PGCThreshold)
	rec.mu.Unlock()
	if len(assumptions) == 0 {
		return
	}

	epoch := r.epoch.Load()
	start := time.Now()
	art, err := r.invoke(ctx, r.request(rec.Unit, cfg, assumptions))
	elapsed := time.Since(start)

	ev := Event{UnitID: rec.ID, Unit: rec.Unit.Name(), Duration: elapsed, Probes: assumptions}
	rec.mu.Lock()
	switch {
	case !r.enabled.Load() || r.epoch.Load() != epoch, interrupted(err):
		rec.mu.Unlock()
		log.Debugf("discarded specialization of %s: compile interrupted", ev.Unit)
		return
	case err != nil:
		rec.noRespecialize = true
		ev.Kind = EventSpecializeFailed
		ev.Result = resultOf(err)
		ev.Err = err
		ev.PGC = rec.pgc
		ev.Flags = rec.applied
	default:
		rec.artifact = art
		rec.pgc = PgcOptimized
		rec.applied = art.Flags()
		rec.compileTime += elapsed
		ev.Kind = EventSpecialized
		ev.Result = Success
		ev.PGC = PgcOptimized
		ev.Flags = rec.applied
	}
	rec.mu.Unlock()

	if ev.Kind == EventSpecialized {
		log.Infof("specialized %s on %d stable site(s) (optimizations %s)", ev.Unit, len(assumptions), ev.Flags)
	} else {
		log.Warningf("specialization of %s failed, keeping probed code: %s", ev.Unit, err)
	}
	r.emit(ev)
}
