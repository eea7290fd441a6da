/*
Package backend turns store configuration into a docstore.Store.

PURPOSE:
  This is the only place that knows which backends exist. Business logic
  receives a docstore.Store and never inspects the environment to decide
  where it is running.

BACKENDS (POINTS_BACKEND):
  memory      in-process, lost on exit
  sqlite      local SQL file with revision history (default)
  file        plain JSON file, no concurrency control
  gitee       git hosting contents API
  httpobject  HTTP object storage with ETags
  redis       one Redis hash, WATCH/MULTI

SEE ALSO:
  - config/config.go: the settings read here
  - docstore/store.go: the capability every backend implements
*/
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/docstore/gitee"
	"github.com/warp/points-engine/docstore/httpobject"
	"github.com/warp/points-engine/docstore/localfile"
	"github.com/warp/points-engine/docstore/memory"
	"github.com/warp/points-engine/docstore/redis"
	"github.com/warp/points-engine/docstore/sqlite"
)

// Opened is a selected store plus whatever must be released on shutdown.
type Opened struct {
	Name  string
	Store docstore.Store

	closer io.Closer
}

// Close releases the backend's connections, if it holds any.
func (o *Opened) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// Open builds the store named by cfg.Store.Backend.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Opened, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sc := cfg.Store
	client := &http.Client{Timeout: cfg.StoreTimeout}

	var (
		store docstore.Store
		c     io.Closer
		err   error
	)
	switch sc.Backend {
	case config.BackendMemory:
		store = memory.New()

	case config.BackendSQLite:
		if err = ensureDir(sc.SQLitePath); err != nil {
			return nil, err
		}
		var s *sqlite.Store
		s, err = sqlite.NewNamed(sc.SQLitePath, sc.SQLiteName)
		store, c = s, s

	case config.BackendFile:
		store = localfile.New(sc.FilePath)

	case config.BackendGitee:
		store, err = gitee.New(gitee.Config{
			BaseURL:     sc.GiteeBaseURL,
			Owner:       sc.GiteeOwner,
			Repo:        sc.GiteeRepo,
			Path:        sc.GiteePath,
			Branch:      sc.GiteeBranch,
			AccessToken: sc.GiteeToken,
		}, client)

	case config.BackendHTTPObject:
		header := http.Header{}
		if sc.ObjectMasterKey != "" {
			header.Set("X-Master-Key", sc.ObjectMasterKey)
		}
		store, err = httpobject.New(httpobject.Config{
			URL:      sc.ObjectURL,
			Header:   header,
			Envelope: sc.ObjectEnvelope,
		}, client)

	case config.BackendRedis:
		var s *redis.Store
		s, err = redis.Dial(ctx, redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
			Prefix:   sc.RedisPrefix,
			Name:     sc.RedisDocument,
		})
		store, c = s, s

	default:
		return nil, fmt.Errorf("unknown backend %q", sc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", sc.Backend, err)
	}

	_, keepsHistory := store.(docstore.RevisionLister)
	log.Info("store opened",
		zap.String("backend", sc.Backend),
		zap.Bool("history", keepsHistory),
	)
	return &Opened{Name: sc.Backend, Store: store, closer: c}, nil
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}
