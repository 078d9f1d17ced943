// Package audit keeps a SQLite log of content provenance and of every
// resolution the controller committed or aborted.
//
// Writes never block the control loop: they are queued on a buffered channel
// and applied by a single writer goroutine. If the writer falls behind,
// records are dropped and counted.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/tatianab/conestoga/internal/models"
)

const queueSize = 1024

type request struct {
	fallback   *models.FallbackRecord
	resolution *models.ResolutionRecord
}

// Store is the audit database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	run    string

	mu      sync.RWMutex
	closed  bool
	ch      chan request
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// Open creates or opens the database at path. run tags every row written by
// this process.
func Open(path, run string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: empty db path")
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

	s := &Store{
		db:     db,
		logger: logger,
		run:    run,
		ch:     make(chan request, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("audit: %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fallback_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			reason TEXT NOT NULL,
			event_id TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS resolutions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run TEXT NOT NULL,
			day INTEGER NOT NULL,
			event_id TEXT NOT NULL,
			choice_id TEXT NOT NULL,
			resolution_id TEXT NOT NULL,
			source TEXT NOT NULL,
			outcome TEXT NOT NULL,
			roll INTEGER NOT NULL,
			success INTEGER NOT NULL,
			effect_index INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fallback_run ON fallback_records(run, id);`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_run ON resolutions(run, id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: schema: %w", err)
		}
	}
	return nil
}

// RecordFallback queues a provenance record. It implements fallback.Sink.
func (s *Store) RecordFallback(r models.FallbackRecord) {
	s.enqueue(request{fallback: &r})
}

// RecordResolution queues a resolution outcome.
func (s *Store) RecordResolution(r models.ResolutionRecord) {
	s.enqueue(request{resolution: &r})
}

func (s *Store) enqueue(r request) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Close drains queued records and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("audit records dropped", zap.Int64("count", n))
	}
	return s.db.Close()
}

func (s *Store) loop() {
	ctx := context.Background()
	for r := range s.ch {
		var err error
		switch {
		case r.fallback != nil:
			f := r.fallback
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO fallback_records(run,kind,source,reason,event_id,recorded_at) VALUES(?,?,?,?,?,?)`,
				s.run, string(f.Kind), string(f.Source), string(f.Reason), f.EventID, stamp(f.Timestamp))
		case r.resolution != nil:
			rr := r.resolution
			_, err = s.db.ExecContext(ctx,
				`INSERT INTO resolutions(run,day,event_id,choice_id,resolution_id,source,outcome,roll,success,effect_index,error,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
				s.run, rr.Day, rr.EventID, rr.ChoiceID, rr.ResolutionID, string(rr.Source), rr.Outcome,
				rr.Roll, rr.Success, rr.EffectIndex, nullable(rr.Error), stamp(rr.Timestamp))
		}
		if err != nil {
			s.logger.Warn("audit write failed", zap.Error(err))
		}
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Fallbacks returns the provenance records of run, oldest first. An empty
// run selects every run.
func (s *Store) Fallbacks(ctx context.Context, run string) ([]models.FallbackRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind,source,reason,event_id,recorded_at FROM fallback_records WHERE ?='' OR run=? ORDER BY id`, run, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FallbackRecord
	for rows.Next() {
		var r models.FallbackRecord
		var kind, source, reason, at string
		if err := rows.Scan(&kind, &source, &reason, &r.EventID, &at); err != nil {
			return nil, err
		}
		r.Kind, r.Source, r.Reason = models.RecordKind(kind), models.Source(source), models.Reason(reason)
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Resolutions returns the resolution outcomes of run, oldest first.
func (s *Store) Resolutions(ctx context.Context, run string) ([]models.ResolutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day,event_id,choice_id,resolution_id,source,outcome,roll,success,effect_index,COALESCE(error,''),recorded_at
		 FROM resolutions WHERE ?='' OR run=? ORDER BY id`, run, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ResolutionRecord
	for rows.Next() {
		var (
			r      models.ResolutionRecord
			source string
			at     string
		)
		if err := rows.Scan(&r.Day, &r.EventID, &r.ChoiceID, &r.ResolutionID, &source, &r.Outcome,
			&r.Roll, &r.Success, &r.EffectIndex, &r.Error, &at); err != nil {
			return nil, err
		}
		r.Source = models.Source(source)
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary counts fallbacks by reason across every run.
func (s *Store) Summary(ctx context.Context) (map[models.Reason]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, COUNT(*) FROM fallback_records WHERE source=? GROUP BY reason`, string(models.SourceDeck))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.Reason]int)
	for rows.Next() {
		var (
			reason string
			n      int
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[models.Reason(reason)] = n
	}
	return out, rows.Err()
}
