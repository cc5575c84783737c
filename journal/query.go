package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/pyjion/jit"
)

// Entry is one journaled transition.
type Entry struct {
	ID          int64
	Session     string
	Time        time.Time
	Unit        string
	UnitID      uint64
	Kind        string
	Result      jit.CompileResult
	PGC         jit.PgcStatus
	Flags       jit.OptimizationFlags
	Duration    time.Duration
	GuardMisses uint64
	Probes      []jit.ShapeProbe
	Error       string
}

// Query filters Entries. Zero fields match everything.
type Query struct {
	Session string
	Unit    string
	Kind    string
	Limit   int
}

// Entries returns matching transitions in insertion order.
func (j *Journal) Entries(ctx context.Context, q Query) ([]Entry, error) {
	j.Flush()
	var where []string
	var args []any
	if q.Session != "" {
		where = append(where, "session = ?")
		args = append(args, q.Session)
	}
	if q.Unit != "" {
		where = append(where, "unit = ?")
		args = append(args, q.Unit)
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	stmt := `SELECT id, session, at, unit, unit_id, kind, result, pgc, flags, duration_ns, guard_misses, profile, error
		FROM transitions`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id"
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                            Entry
			at, unitID, flags, dur, miss int64
			result, pgc                  int
			blob                         []byte
			errText                      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Session, &at, &e.Unit, &unitID, &e.Kind, &result, &pgc, &flags, &dur, &miss, &blob, &errText); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		e.Time = time.Unix(0, at)
		e.UnitID = uint64(unitID)
		e.Result = jit.CompileResult(result)
		e.PGC = jit.PgcStatus(pgc)
		e.Flags = jit.OptimizationFlags(flags)
		e.Duration = time.Duration(dur)
		e.GuardMisses = uint64(miss)
		e.Error = errText.String
		if len(blob) > 0 {
			var p profile
			if err := cbor.Unmarshal(blob, &p); err != nil {
				return nil, fmt.Errorf("journal: unmarshal profile of entry %d: %w", e.ID, err)
			}
			e.Probes = p.Probes
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnitSummary aggregates one unit's transitions across sessions.
type UnitSummary struct {
	Unit            string
	Compiles        int
	Failures        int
	Specializations int
	GuardMisses     uint64
	LastResult      jit.CompileResult
}

// Summary aggregates the journal per unit, ordered by name.
func (j *Journal) Summary(ctx context.Context) ([]UnitSummary, error) {
	j.Flush()
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT unit,
		       SUM(kind = 'compiled'),
		       SUM(kind = 'failed'),
		       SUM(kind = 'specialized'),
		       SUM(guard_misses),
		       (SELECT t2.result FROM transitions t2
		         WHERE t2.unit = t.unit AND t2.kind IN ('compiled', 'failed')
		         ORDER BY t2.id DESC LIMIT 1)
		  FROM transitions t
		 GROUP BY unit
		 ORDER BY unit`)
	if err != nil {
		return nil, fmt.Errorf("summarizing transitions: %w", err)
	}
	defer rows.Close()

	var out []UnitSummary
	for rows.Next() {
		var s UnitSummary
		var miss int64
		var last sql.NullInt64
		if err := rows.Scan(&s.Unit, &s.Compiles, &s.Failures, &s.Specializations, &miss, &last); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.GuardMisses = uint64(miss)
		s.LastResult = jit.CompileResult(last.Int64)
		out = append(out, s)
	}
	return out, rows.Err()
}
