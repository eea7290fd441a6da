/*
Package sqlite provides a SQLite-backed docstore.Store.

PURPOSE:
  Persists the ledger document in a local database file with the same
  token contract as the remote backends, plus an append-only history of
  every accepted write.

KEY TABLES:
  documents:          one row per named document (current payload + token)
  document_revisions: immutable copy of every accepted write

CAS:
  Write runs in one SQL transaction: read the current token, compare, then
  UPDATE ... WHERE token = ? and check the affected row count. Creation is
  an INSERT that a UNIQUE violation turns into a conflict.

CONCURRENCY:
  Uses sync.RWMutex in-process; the SQL transaction covers other processes
  sharing the file.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - docstore/store.go: interface and token contract
  - docstore/memory:   in-memory equivalent
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// DefaultName is the document row used when none is configured.
const DefaultName = "points"

// Store implements docstore.Store and docstore.RevisionLister.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	name string
	now  func() time.Time
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	return NewNamed(dbPath, DefaultName)
}

// NewNamed opens a store that keeps its document under name.
func NewNamed(dbPath, name string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, name: name, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		revision INTEGER NOT NULL,
		token TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only: every accepted write, never updated or deleted
	CREATE TABLE IF NOT EXISTS document_revisions (
		name TEXT NOT NULL,
		revision INTEGER NOT NULL,
		token TEXT NOT NULL,
		payload TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		written_at TEXT NOT NULL,
		PRIMARY KEY (name, revision)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE
// =============================================================================

// Read returns the current document, or nil if the row does not exist.
func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var token, payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, payload FROM documents WHERE name = ?`, s.name,
	).Scan(&token, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", docstore.Transport("sqlite read", err)
	}

	doc, err := ledger.Decode([]byte(payload))
	if err != nil {
		return nil, "", docstore.Transport("sqlite read", err)
	}
	return &doc, docstore.Token(token), nil
}

// Write replaces the document if token is still current.
func (s *Store) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", docstore.Transport("sqlite begin", err)
	}
	defer tx.Rollback()

	var (
		current  string
		revision int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT token, revision FROM documents WHERE name = ?`, s.name,
	).Scan(&current, &revision)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current, revision = "", 0
	case err != nil:
		return "", docstore.Transport("sqlite write", err)
	}

	if docstore.Token(current) != token {
		return "", &docstore.ConflictError{Expected: token, Actual: docstore.Token(current)}
	}

	revision++
	next := docstore.RevisionToken(revision, payload)
	now := s.now().UTC().Format(time.RFC3339Nano)

	if token == "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (name, revision, token, payload, updated_at) VALUES (?, ?, ?, ?, ?)`,
			s.name, revision, string(next), string(payload), now)
		if isUniqueConstraintError(err) {
			return "", &docstore.ConflictError{Expected: token}
		}
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE documents SET revision = ?, token = ?, payload = ?, updated_at = ? WHERE name = ? AND token = ?`,
			revision, string(next), string(payload), now, s.name, string(token))
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				return "", &docstore.ConflictError{Expected: token}
			}
		}
	}
	if err != nil {
		return "", docstore.Transport("sqlite write", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO document_revisions (name, revision, token, payload, record_count, balance, written_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.name, revision, string(next), string(payload), len(doc.Records), ledger.Balance(doc.Records), now)
	if err != nil {
		return "", docstore.Transport("sqlite write revision", err)
	}

	if err := tx.Commit(); err != nil {
		return "", docstore.Transport("sqlite commit", err)
	}
	return next, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// Revisions lists accepted writes, newest first. limit <= 0 means all.
func (s *Store) Revisions(ctx context.Context, limit int) ([]docstore.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT revision, token, record_count, balance, written_at
		FROM document_revisions WHERE name = ? ORDER BY revision DESC`
	args := []any{s.name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, docstore.Transport("sqlite revisions", err)
	}
	defer rows.Close()

	out := []docstore.Revision{}
	for rows.Next() {
		var (
			r         docstore.Revision
			token     string
			writtenAt string
		)
		if err := rows.Scan(&r.Number, &token, &r.Records, &r.Balance, &writtenAt); err != nil {
			return nil, docstore.Transport("sqlite revisions", err)
		}
		r.Token = docstore.Token(token)
		r.WrittenAt, _ = time.Parse(time.RFC3339Nano, writtenAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
