// Package index maintains a queryable SQLite read model of mesh lifecycle
// events. It is a secondary index over the journal for operators and
// tooling: writes are asynchronous and may be dropped under pressure, and
// nothing in the routing path reads from it.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/journal"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/player"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type req struct {
	entry journal.Entry
	sync  chan struct{}
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Buffered so bursty event storms (a server flapping, a crowd at a
		// boundary) do not stall the proxy.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads. NORMAL is a decent
	// durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			at TEXT NOT NULL,
			server_id TEXT,
			player_id TEXT,
			region TEXT,
			status TEXT,
			token_id TEXT,
			error_code TEXT,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_server ON events(server_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_player ON events(player_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues one event. Drops silently when the writer falls behind;
// the journal remains the source of truth.
func (s *SQLiteIndex) Record(e journal.Entry) {
	if s == nil || s.closed.Load() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case s.ch <- req{entry: e}:
	default:
	}
}

// Sync blocks until every previously queued event has been written.
func (s *SQLiteIndex) Sync() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{sync: done}
	<-done
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		if r.sync != nil {
			close(r.sync)
			continue
		}
		s.insert(r.entry)
	}
}

func (s *SQLiteIndex) insert(e journal.Entry) {
	var serverID, playerID any
	if !e.ServerID.IsZero() {
		serverID = e.ServerID.String()
	}
	if !e.PlayerID.IsZero() {
		playerID = e.PlayerID.String()
	}
	_, _ = s.db.Exec(
		`INSERT INTO events (kind, at, server_id, player_id, region, status, token_id, error_code, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind),
		e.Timestamp.Format(time.RFC3339Nano),
		serverID,
		playerID,
		e.Region.String(),
		nullable(string(e.Status)),
		nullable(e.TokenID),
		nullable(string(e.ErrorCode)),
		nullable(e.Detail),
	)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Row is one indexed event.
type Row struct {
	Seq       int64
	Kind      journal.EventKind
	At        time.Time
	ServerID  string
	PlayerID  string
	Region    string
	Status    string
	TokenID   string
	ErrorCode string
	Detail    string
}

// EventsForServer returns the newest-first event history for a server.
func (s *SQLiteIndex) EventsForServer(id server.ServerID, limit int) ([]Row, error) {
	return s.query(
		`SELECT seq, kind, at, server_id, player_id, region, status, token_id, error_code, detail
		 FROM events WHERE server_id = ? ORDER BY seq DESC LIMIT ?`, id.String(), limit)
}

// EventsForPlayer returns the newest-first event history for a player.
func (s *SQLiteIndex) EventsForPlayer(id player.PlayerID, limit int) ([]Row, error) {
	return s.query(
		`SELECT seq, kind, at, server_id, player_id, region, status, token_id, error_code, detail
		 FROM events WHERE player_id = ? ORDER BY seq DESC LIMIT ?`, id.String(), limit)
}

// EventsByKind returns the newest-first events of one kind.
func (s *SQLiteIndex) EventsByKind(kind journal.EventKind, limit int) ([]Row, error) {
	return s.query(
		`SELECT seq, kind, at, server_id, player_id, region, status, token_id, error_code, detail
		 FROM events WHERE kind = ? ORDER BY seq DESC LIMIT ?`, string(kind), limit)
}

func (s *SQLiteIndex) query(q string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var kind, at string
		var serverID, playerID, region, status, tokenID, errorCode, detail sql.NullString
		if err := rows.Scan(&r.Seq, &kind, &at, &serverID, &playerID, &region, &status, &tokenID, &errorCode, &detail); err != nil {
			return out, err
		}
		r.Kind = journal.EventKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.At = t
		}
		r.ServerID = serverID.String
		r.PlayerID = playerID.String
		r.Region = region.String
		r.Status = status.String
		r.TokenID = tokenID.String
		r.ErrorCode = errorCode.String
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}
