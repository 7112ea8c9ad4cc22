// Package indexdb keeps a queryable SQLite history of queue sessions and the
// answers sent during them. The compressed session archive remains the
// source of truth; the index may drop writes when it falls behind.
package indexdb

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

	_ "modernc.org/sqlite"

	"queuequiz.ai/internal/persistence/archive"
	"queuequiz.ai/internal/quiz/knowledge"
)

const schemaVersion = "1"

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("indexdb: closed")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession atomic.Uint64
	dropAnswer  atomic.Uint64
	writeErrors atomic.Uint64
}

// Stats reports queue pressure and dropped writes.
type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropSessionTotal uint64
	DropAnswerTotal  uint64
	WriteErrorTotal  uint64
}

// AnswerRow is one answer sent to the server.
type AnswerRow struct {
	SessionID  string
	Seq        int
	Key        string
	Letter     string
	Prompt     string
	AnsweredAt time.Time
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqAnswer
	reqFlush
)

type req struct {
	kind reqKind

	session archive.SessionRecord
	answer  AnswerRow
	done    chan struct{}
}

const defaultQueue = 4096

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, defaultQueue)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
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
		ch: make(chan req, queue),
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
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			ord INTEGER PRIMARY KEY,
			key TEXT NOT NULL,
			answer TEXT NOT NULL,
			mode TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			answered INTEGER NOT NULL,
			reason TEXT NOT NULL,
			final_position TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions(ended_at);`,
		`CREATE TABLE IF NOT EXISTS answers (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			key TEXT NOT NULL,
			letter TEXT NOT NULL,
			prompt TEXT NOT NULL,
			answered_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_answers_key ON answers(key);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropSessionTotal: s.dropSession.Load(),
		DropAnswerTotal:  s.dropAnswer.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
	}
}

// RecordSession queues an ended session. It never blocks.
func (s *SQLiteIndex) RecordSession(r archive.SessionRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSession, session: r}:
	default:
		s.dropSession.Add(1)
	}
}

// RecordAnswer queues one sent answer. It never blocks.
func (s *SQLiteIndex) RecordAnswer(a AnswerRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqAnswer, answer: a}:
	default:
		s.dropAnswer.Add(1)
	}
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertKnowledge replaces the stored knowledge base with entries.
func (s *SQLiteIndex) UpsertKnowledge(ctx context.Context, digest string, entries []knowledge.Entry) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge(ord,key,answer,mode) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, i, e.Key, e.Answer, string(e.Mode)); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('knowledge_digest',?)`, digest); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('knowledge_updated_at',?)`, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,agent,started_at,ended_at,duration_ms,answered,reason,final_position) VALUES(?,?,?,?,?,?,?,?)`)
	insertAnswer, _ := s.db.Prepare(`INSERT OR REPLACE INTO answers(session_id,seq,key,letter,prompt,answered_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertSession != nil {
			_ = insertSession.Close()
		}
		if insertAnswer != nil {
			_ = insertAnswer.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		s.writeErrors.Add(1)
	}

	for r := range s.ch {
		switch r.kind {
		case reqFlush:
			commit()
			close(r.done)
			continue

		case reqSession:
			begin()
			if tx == nil || insertSession == nil {
				continue
			}
			se := r.session
			if _, err := tx.Stmt(insertSession).Exec(
				se.ID,
				se.Agent,
				formatTime(se.StartedAt),
				formatTime(se.EndedAt),
				se.DurationMS,
				se.Answered,
				se.Reason,
				se.FinalPosition,
			); err != nil {
				rollback()
				continue
			}

		case reqAnswer:
			begin()
			if tx == nil || insertAnswer == nil {
				continue
			}
			a := r.answer
			if _, err := tx.Stmt(insertAnswer).Exec(
				a.SessionID,
				a.Seq,
				a.Key,
				a.Letter,
				a.Prompt,
				formatTime(a.AnsweredAt),
			); err != nil {
				rollback()
				continue
			}
		}
		// Writes are sparse; commit as soon as the burst is drained so readers
		// never wait on an open transaction.
		if len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
