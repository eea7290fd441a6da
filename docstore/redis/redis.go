/*
Package redis stores the document in a Redis hash and uses WATCH/MULTI for
the compare-and-swap.

KEYS:
  <prefix>:doc:<name>  hash {payload, token, revision}
  <prefix>:rev:<name>  list of JSON revision summaries, newest first, capped

CAS:
  Write WATCHes the document key, compares the stored token, and replaces
  the hash inside MULTI/EXEC. If another client touched the key in between,
  EXEC aborts (redis.TxFailedErr) and the write is reported as a conflict.
*/
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

const (
	DefaultPrefix       = "points"
	DefaultName         = "default"
	DefaultHistoryLimit = 100
)

// Options configures the client and key layout. Password is injected from
// the environment.
type Options struct {
	Addr         string
	Password     string
	DB           int
	Prefix       string
	Name         string
	HistoryLimit int
}

type Store struct {
	client       *redis.Client
	prefix       string
	name         string
	historyLimit int
	now          func() time.Time
}

// Dial connects and pings the server.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, docstore.Transport("redis ping", err)
	}
	return New(client, opts), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts Options) *Store {
	s := &Store{
		client:       client,
		prefix:       opts.Prefix,
		name:         opts.Name,
		historyLimit: opts.HistoryLimit,
		now:          time.Now,
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.name == "" {
		s.name = DefaultName
	}
	if s.historyLimit <= 0 {
		s.historyLimit = DefaultHistoryLimit
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

// Key joins the prefix and non-empty parts with ":".
func (s *Store) Key(parts ...string) string {
	var sb strings.Builder
	sb.WriteString(s.prefix)
	for _, part := range parts {
		if part != "" {
			sb.WriteString(":")
			sb.WriteString(part)
		}
	}
	return sb.String()
}

// =============================================================================
// STORE
// =============================================================================

func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	vals, err := s.client.HMGet(ctx, s.Key("doc", s.name), "payload", "token").Result()
	if err != nil {
		return nil, "", docstore.Transport("redis read", err)
	}
	payload, _ := vals[0].(string)
	token, _ := vals[1].(string)
	if token == "" {
		return nil, "", nil
	}

	doc, err := ledger.Decode([]byte(payload))
	if err != nil {
		return nil, "", docstore.Transport("redis read", err)
	}
	return &doc, docstore.Token(token), nil
}

func (s *Store) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	payload, err := ledger.Encode(doc)
	if err != nil {
		return "", err
	}
	docKey := s.Key("doc", s.name)
	revKey := s.Key("rev", s.name)

	var next docstore.Token
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.HMGet(ctx, docKey, "token", "revision").Result()
		if err != nil {
			return err
		}
		current, _ := vals[0].(string)
		if docstore.Token(current) != token {
			return &docstore.ConflictError{Expected: token, Actual: docstore.Token(current)}
		}

		var revision int64
		if raw, ok := vals[1].(string); ok {
			fmt.Sscan(raw, &revision)
		}
		revision++
		next = docstore.RevisionToken(revision, payload)

		summary, err := json.Marshal(docstore.Revision{
			Number:    revision,
			Token:     next,
			Records:   len(doc.Records),
			Balance:   ledger.Balance(doc.Records),
			WrittenAt: s.now().UTC(),
		})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, docKey, "payload", string(payload), "token", string(next), "revision", revision)
			pipe.LPush(ctx, revKey, string(summary))
			pipe.LTrim(ctx, revKey, 0, int64(s.historyLimit-1))
			return nil
		})
		return err
	}, docKey)

	var conflict *docstore.ConflictError
	switch {
	case err == nil:
		return next, nil
	case errors.As(err, &conflict):
		return "", conflict
	case errors.Is(err, redis.TxFailedErr):
		return "", &docstore.ConflictError{Expected: token}
	default:
		return "", docstore.Transport("redis write", err)
	}
}

// Revisions lists the retained write summaries, newest first.
func (s *Store) Revisions(ctx context.Context, limit int) ([]docstore.Revision, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, s.Key("rev", s.name), 0, stop).Result()
	if err != nil {
		return nil, docstore.Transport("redis revisions", err)
	}

	out := make([]docstore.Revision, 0, len(raw))
	for _, item := range raw {
		var r docstore.Revision
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
