// Package journal persists JIT record transitions to SQLite so compile
// outcomes and shape profiles can be inspected after a run.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/pyjion/jit"
)

var log = commonlog.GetLogger("pyjion.journal")

// ErrClosed is returned by a journal after Close.
var ErrClosed = errors.New("journal closed")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

const schema = `CREATE TABLE IF NOT EXISTS transitions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session      TEXT    NOT NULL,
	at           INTEGER NOT NULL,
	unit         TEXT    NOT NULL,
	unit_id      INTEGER NOT NULL,
	kind         TEXT    NOT NULL,
	result       INTEGER NOT NULL,
	pgc          INTEGER NOT NULL,
	flags        INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL,
	guard_misses INTEGER NOT NULL,
	profile      BLOB,
	error        TEXT
);
CREATE INDEX IF NOT EXISTS transitions_unit ON transitions(unit);`

// queueSize bounds the transitions buffered between the runtime and the
// writer. Transitions past it are dropped.
const queueSize = 4096

// Journal is a jit.Listener that appends every transition to a SQLite
// database. Each Journal writes under its own session ID.
//
// Transitions delivered through OnTransition are written by a background
// goroutine so the call path never waits on disk. Entries and Summary
// flush that queue before reading.
type Journal struct {
	db      *sql.DB
	path    string
	session string

	mu     sync.Mutex
	closed bool

	queue   chan pending
	done    chan struct{}
	qmu     sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// pending is a queued transition, or a flush marker when ack is set.
type pending struct {
	e   jit.Event
	ack chan struct{}
}

// profile is the CBOR payload of a row.
type profile struct {
	Flags  []string         `cbor:"flags,omitempty"`
	Probes []jit.ShapeProbe `cbor:"probes,omitempty"`
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	j := &Journal{
		db:      db,
		path:    path,
		session: uuid.NewString(),
		queue:   make(chan pending, queueSize),
		done:    make(chan struct{}),
	}
	go j.drain()
	log.Infof("journal %s opened, session %s", path, j.session)
	return j, nil
}

// Session returns the ID this journal writes under.
func (j *Journal) Session() string {
	return j.session
}

// Close writes out queued transitions and closes the database.
func (j *Journal) Close() error {
	j.qmu.Lock()
	if !j.stopped {
		j.stopped = true
		close(j.queue)
	}
	j.qmu.Unlock()
	<-j.done

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

// OnTransition implements jit.Listener. It queues e for the writer and
// returns at once. Write failures are logged, never propagated into the
// runtime.
func (j *Journal) OnTransition(e jit.Event) {
	j.qmu.RLock()
	defer j.qmu.RUnlock()
	if j.stopped {
		return
	}
	select {
	case j.queue <- pending{e: e}:
	default:
		if n := j.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Warningf("journal queue full, %d transitions dropped", n)
		}
	}
}

// Flush blocks until every transition queued before the call is written.
func (j *Journal) Flush() {
	ack := make(chan struct{})
	j.qmu.RLock()
	if j.stopped {
		j.qmu.RUnlock()
		return
	}
	j.queue <- pending{ack: ack}
	j.qmu.RUnlock()
	<-ack
}

// Dropped reports how many transitions were lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) drain() {
	defer close(j.done)
	for p := range j.queue {
		if p.ack != nil {
			close(p.ack)
			continue
		}
		if err := j.Record(context.Background(), p.e); err != nil && !errors.Is(err, ErrClosed) {
			log.Warningf("dropping %s event for %s: %s", p.e.Kind, p.e.Unit, err)
		}
	}
}

// Record appends one transition.
func (j *Journal) Record(ctx context.Context, e jit.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	var blob []byte
	if e.Flags != jit.NoFlags || len(e.Probes) > 0 {
		var err error
		blob, err = cborEncMode.Marshal(profile{Flags: e.Flags.Names(), Probes: e.Probes})
		if err != nil {
			return fmt.Errorf("encoding profile: %w", err)
		}
	}
	var errText sql.NullString
	if e.Err != nil {
		errText = sql.NullString{String: e.Err.Error(), Valid: true}
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transitions
		 (session, at, unit, unit_id, kind, result, pgc, flags, duration_ns, guard_misses, profile, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, at.UnixNano(), e.Unit, int64(e.UnitID), e.Kind.String(), int(e.Result),
		int(e.PGC), int64(e.Flags), e.Duration.Nanoseconds(), int64(e.Count), blob, errText,
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}
