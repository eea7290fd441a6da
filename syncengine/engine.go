/*
Package syncengine keeps the in-memory ledger in step with the document
store through read-modify-write cycles guarded by the store's CAS token.

PURPOSE:
  Every mutation follows one path:

    1. Read the current document and token from the store
    2. next := mutator(current)       (pure; may refuse with an error)
    3. Write(next, token)             (fails if someone else wrote first)
    4. On success, next becomes the snapshot

  The mutator always sees a fresh read, so business rules (daily caps,
  balance checks) are evaluated against the latest persisted state rather
  than a possibly stale in-memory copy.

FAILURE RULES:
  - A read failure is returned as-is (wrapping ledger.ErrTransport). No empty
    document is substituted and the snapshot is not touched.
  - A mutator error aborts the cycle before anything is written.
  - A stale token yields ledger.ErrConflict. By default it is not retried;
    WithConflictRetries(n) re-reads and re-runs the mutator up to n times.

SEE ALSO:
  - docstore/store.go: token contract
  - points/service.go: the mutators
*/
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// Mutator derives the next document from the current one. It receives a
// private copy and must not retain it.
type Mutator func(current ledger.Document) (ledger.Document, error)

// Outcome describes one successful Apply.
type Outcome struct {
	Before   ledger.Document
	After    ledger.Document
	Token    docstore.Token
	Attempts int
}

// Engine owns the snapshot.
type Engine struct {
	store   docstore.Store
	log     *zap.Logger
	retries int

	// applyMu serializes read-modify-write cycles within the process.
	applyMu sync.Mutex

	mu       sync.RWMutex
	snapshot ledger.Document
	token    docstore.Token
	loaded   bool
	// commits counts snapshot replacements; Load uses it to drop a read
	// that an Apply overtook.
	commits uint64
}

type Option func(*Engine)

// WithConflictRetries enables re-read-and-reapply after a stale-token write.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retries = n
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func New(store docstore.Store, opts ...Option) *Engine {
	e := &Engine{store: store, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// LOAD
// =============================================================================

// Load reads the store and replaces the snapshot. An empty store yields an
// empty document and the "" token. If an Apply committed while the read was
// in flight, the newer snapshot is kept and returned instead.
func (e *Engine) Load(ctx context.Context) (ledger.Document, docstore.Token, error) {
	e.mu.RLock()
	seen := e.commits
	e.mu.RUnlock()

	doc, token, err := e.read(ctx)
	if err != nil {
		e.log.Warn("load failed, keeping previous snapshot", zap.Error(err))
		return ledger.Document{}, "", err
	}
	if !e.commitIf(seen, doc, token) {
		e.log.Debug("load overtaken by a write, keeping newer snapshot")
		cur, curToken, _ := e.Snapshot()
		return cur, curToken, nil
	}
	e.log.Debug("document loaded",
		zap.Int("records", len(doc.Records)),
		zap.String("token", string(token)),
	)
	return doc.Clone(), token, nil
}

func (e *Engine) read(ctx context.Context) (ledger.Document, docstore.Token, error) {
	doc, token, err := e.store.Read(ctx)
	if err != nil {
		return ledger.Document{}, "", fmt.Errorf("read document: %w", err)
	}
	if doc == nil {
		return ledger.Empty(), "", nil
	}
	return *doc, token, nil
}

// =============================================================================
// APPLY
// =============================================================================

// Apply runs one read-modify-write cycle.
func (e *Engine) Apply(ctx context.Context, mutate Mutator) (Outcome, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	for attempt := 1; ; attempt++ {
		current, token, err := e.read(ctx)
		if err != nil {
			return Outcome{}, err
		}

		next, err := mutate(current.Clone())
		if err != nil {
			return Outcome{}, err
		}

		newToken, err := e.store.Write(ctx, next, token)
		if err == nil {
			e.commit(next, newToken)
			return Outcome{Before: current, After: next.Clone(), Token: newToken, Attempts: attempt}, nil
		}

		if !errors.Is(err, ledger.ErrConflict) || attempt > e.retries {
			return Outcome{}, fmt.Errorf("write document: %w", err)
		}
		e.log.Info("stale token, re-reading",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.retries),
		)
	}
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot returns the last document known to match the store.
func (e *Engine) Snapshot() (ledger.Document, docstore.Token, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.loaded {
		return ledger.Document{}, "", false
	}
	return e.snapshot.Clone(), e.token, true
}

// Current is Snapshot that fails with ErrNotLoaded instead of a flag.
func (e *Engine) Current() (ledger.Document, error) {
	doc, _, ok := e.Snapshot()
	if !ok {
		return ledger.Document{}, ledger.ErrNotLoaded
	}
	return doc, nil
}

// Store exposes the underlying store (for revision listing).
func (e *Engine) Store() docstore.Store { return e.store }

func (e *Engine) commit(doc ledger.Document, token docstore.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceLocked(doc, token)
}

// commitIf replaces the snapshot only if nothing was committed since seen.
func (e *Engine) commitIf(seen uint64, doc ledger.Document, token docstore.Token) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.commits != seen {
		return false
	}
	e.replaceLocked(doc, token)
	return true
}

func (e *Engine) replaceLocked(doc ledger.Document, token docstore.Token) {
	e.snapshot = doc.Clone()
	e.token = token
	e.loaded = true
	e.commits++
}
