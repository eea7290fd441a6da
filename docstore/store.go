/*
Package docstore defines the persistence capability the sync engine writes
through: a whole-document read and a whole-document replace guarded by an
optimistic-concurrency token.

PURPOSE:
  The engine persists the ledger as one document. Remote backends (a git
  hosting contents API, an object store) only offer "read the blob" and
  "replace the blob if it has not changed", so that is the whole contract.

TOKEN CONTRACT:
  - Read returns the current token alongside the document.
  - Write(doc, token) succeeds only if the stored token still equals token,
    and returns the new token.
  - The empty token means "create": it succeeds only when nothing is stored.
  - A mismatch fails with *ConflictError, which unwraps to ledger.ErrConflict.
  - Transport failures wrap ledger.ErrTransport and are never retried here.

IMPLEMENTATIONS:
  - memory/:     in-process, for tests and dev
  - sqlite/:     local SQL file with revision history
  - localfile/:  plain JSON file, no concurrency control
  - gitee/:      git hosting contents API, token is the blob SHA
  - httpobject/: HTTP object storage, token is the ETag
  - redis/:      one Redis key, WATCH/MULTI CAS

SEE ALSO:
  - syncengine/engine.go: the only caller of Write
  - backend/backend.go:   picks an implementation from configuration
*/
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// STORE - Whole-document CAS persistence
// =============================================================================

// Token is an opaque concurrency token. "" means "nothing stored yet".
type Token string

// Store persists one ledger document.
type Store interface {
	// Read returns the stored document, or nil and "" if none exists yet.
	Read(ctx context.Context) (*ledger.Document, Token, error)

	// Write replaces the document if token still matches and returns the
	// new token.
	Write(ctx context.Context, doc ledger.Document, token Token) (Token, error)
}

// Revision is one historical write, for stores that keep history.
type Revision struct {
	Number    int64     `json:"number"`
	Token     Token     `json:"token"`
	Records   int       `json:"records"`
	Balance   int       `json:"balance"`
	WrittenAt time.Time `json:"writtenAt"`
}

// RevisionLister is implemented by stores that keep write history.
type RevisionLister interface {
	Revisions(ctx context.Context, limit int) ([]Revision, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ConflictError reports a stale token.
type ConflictError struct {
	Expected Token
	Actual   Token
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document changed since read: expected token %q, store has %q", e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ledger.ErrConflict }

// Transport wraps a backend failure in the transport class.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrTransport) || errors.Is(err, ledger.ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ledger.ErrTransport, err)
}

// =============================================================================
// REVISION TOKENS
// =============================================================================

// RevisionToken builds the token used by stores that count revisions. The
// content hash keeps two writes with equal revision numbers apart.
func RevisionToken(revision int64, payload []byte) Token {
	sum := sha256.Sum256(payload)
	return Token(strconv.FormatInt(revision, 10) + "-" + hex.EncodeToString(sum[:8]))
}

// ParseRevision extracts the revision number from a RevisionToken.
func ParseRevision(t Token) (int64, bool) {
	head, _, ok := strings.Cut(string(t), "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(head, 10, 64)
	return n, err == nil
}

// ErrNoHistory is returned by Revisions when the backend keeps no history.
var ErrNoHistory = ledger.NewFailure(ledger.ErrNotFound, "no_history", "this backend keeps no revision history")
