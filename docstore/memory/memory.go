// Package memory provides an in-process docstore.Store for tests and dev.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps the encoded document so every Read hands out a fresh copy.
type Store struct {
	mu        sync.RWMutex
	payload   []byte
	token     docstore.Token
	revisions []docstore.Revision
	failure   error
	now       func() time.Time
}

func New() *Store {
	return &Store{now: time.Now}
}

// Read returns a copy of the stored document.
func (s *Store) Read(_ context.Context) (*ledger.Document, docstore.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, "", docstore.Transport("memory read", s.failure)
	}
	if s.payload == nil {
		return nil, "", nil
	}
	doc, err := ledger.Decode(s.payload)
	if err != nil {
		return nil, "", docstore.Transport("memory read", err)
	}
	return &doc, s.token, nil
}

// Write replaces the document if token matches the stored one.
func (s *Store) Write(_ context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return "", docstore.Transport("memory write", s.failure)
	}
	if token != s.token {
		return "", &docstore.ConflictError{Expected: token, Actual: s.token}
	}

	payload, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}
	rev := int64(len(s.revisions) + 1)
	s.payload = payload
	s.token = docstore.RevisionToken(rev, payload)
	s.revisions = append(s.revisions, docstore.Revision{
		Number:    rev,
		Token:     s.token,
		Records:   len(doc.Records),
		Balance:   ledger.Balance(doc.Records),
		WrittenAt: s.now(),
	})
	return s.token, nil
}

// Revisions lists past writes, newest first.
func (s *Store) Revisions(_ context.Context, limit int) ([]docstore.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]docstore.Revision, 0, len(s.revisions))
	for i := len(s.revisions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.revisions[i])
	}
	return out, nil
}

// Fail makes every subsequent call fail with err until Fail(nil).
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Token returns the current token without reading the document.
func (s *Store) Token() docstore.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
