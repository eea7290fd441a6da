/*
Package httpobject stores the document as one object behind an HTTP URL,
using ETags for optimistic concurrency.

PROTOCOL:
  GET URL                       -> 200 + ETag, or 404 when absent
  PUT URL, If-None-Match: *     create; 412 if the object exists
  PUT URL, If-Match: <etag>     update; 412 if the ETag moved on

  With Envelope set, bodies are wrapped as {"record": <document>} on both
  read and write (the JSONBin layout).

  Servers that send no ETag get a token hashed from the encoded document
  (not the raw body, which may carry server metadata). Such servers cannot
  enforce If-Match, so Write re-reads the object first and reports a
  conflict when its hash moved on. The check is not atomic: a write landing
  between the re-read and the PUT still wins.
*/
package httpobject

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// Config locates the object. Header carries injected credentials such as
// X-Master-Key.
type Config struct {
	URL      string
	Header   http.Header
	Envelope bool
}

type Store struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("httpobject: url is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{cfg: cfg, client: client}, nil
}

type envelope struct {
	Record json.RawMessage `json:"record"`
}

func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, "", docstore.Transport("object read", err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, "", docstore.Transport("object read", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", docstore.Transport("object read", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", docstore.Transport("object read", fmt.Errorf("status %d", resp.StatusCode))
	}

	raw := body
	if s.cfg.Envelope {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, "", docstore.Transport("object read", err)
		}
		raw = env.Record
	}
	doc, err := ledger.Decode(raw)
	if err != nil {
		return nil, "", docstore.Transport("object read", err)
	}
	canonical, err := ledger.Encode(doc)
	if err != nil {
		return nil, "", err
	}
	return &doc, tokenOf(resp, canonical), nil
}

func (s *Store) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	if token == "" || isHashToken(token) {
		if err := s.checkUnchanged(ctx, token); err != nil {
			return "", err
		}
	}

	payload, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}
	canonical := payload
	if s.cfg.Envelope {
		if payload, err = json.Marshal(envelope{Record: payload}); err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", docstore.Transport("object write", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token == "" {
		req.Header.Set("If-None-Match", "*")
	} else if !isHashToken(token) {
		req.Header.Set("If-Match", string(token))
	}

	resp, err := s.do(req)
	if err != nil {
		return "", docstore.Transport("object write", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return "", &docstore.ConflictError{Expected: token}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", docstore.Transport("object write", fmt.Errorf("status %d", resp.StatusCode))
	}
	return tokenOf(resp, canonical), nil
}

// checkUnchanged re-reads the object and fails with a conflict unless it
// still matches token ("" expects no object).
func (s *Store) checkUnchanged(ctx context.Context, token docstore.Token) error {
	cur, current, err := s.Read(ctx)
	if err != nil {
		return err
	}
	if token == "" {
		if cur != nil {
			return &docstore.ConflictError{Expected: token, Actual: current}
		}
		return nil
	}
	if current != token {
		return &docstore.ConflictError{Expected: token, Actual: current}
	}
	return nil
}

func (s *Store) do(req *http.Request) (*http.Response, error) {
	for k, vs := range s.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return s.client.Do(req)
}

const hashPrefix = "sha256-"

func tokenOf(resp *http.Response, body []byte) docstore.Token {
	if etag := resp.Header.Get("ETag"); etag != "" {
		return docstore.Token(etag)
	}
	sum := sha256.Sum256(body)
	return docstore.Token(hashPrefix + hex.EncodeToString(sum[:8]))
}

func isHashToken(t docstore.Token) bool {
	return strings.HasPrefix(string(t), hashPrefix)
}
