// Package localfile stores the document as a JSON file on local disk.
//
// There is no concurrency control: Write accepts any token and overwrites
// the file. The returned token is a content hash so callers can still tell
// whether the file changed between two reads.
package localfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store writes.
func (s *Store) Path() string { return s.path }

func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, "", docstore.Transport("localfile read", err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", docstore.Transport("localfile read", err)
	}

	doc, err := ledger.Decode(data)
	if err != nil {
		return nil, "", docstore.Transport("localfile read", err)
	}
	return &doc, contentToken(data), nil
}

// Write overwrites the file via a temp file and rename. token is ignored.
func (s *Store) Write(ctx context.Context, doc ledger.Document, _ docstore.Token) (docstore.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", docstore.Transport("localfile write", err)
	}
	data, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", docstore.Transport("localfile write", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return "", docstore.Transport("localfile write", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", docstore.Transport("localfile write", err)
	}
	if err := tmp.Close(); err != nil {
		return "", docstore.Transport("localfile write", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return "", docstore.Transport("localfile write", fmt.Errorf("rename: %w", err))
	}
	return contentToken(data), nil
}

func contentToken(data []byte) docstore.Token {
	sum := sha256.Sum256(data)
	return docstore.Token("sha256-" + hex.EncodeToString(sum[:8]))
}
