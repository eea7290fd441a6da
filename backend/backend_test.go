package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/backend"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

func baseConfig(backendName string) config.Config {
	return config.Config{
		StoreTimeout: 5 * time.Second,
		Store:        config.Store{Backend: backendName},
	}
}

// roundTrip writes one record through the opened store and reads it back.
func roundTrip(t *testing.T, s docstore.Store) {
	t.Helper()
	ctx := context.Background()
	doc := ledger.Append(ledger.Empty(), ledger.NewManual(7, "hello", time.Now()))

	_, err := s.Write(ctx, doc, "")
	require.NoError(t, err)
	got, _, err := s.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, ledger.Balance(got.Records))
}

func TestOpen_LocalBackends(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]func(*config.Config){
		config.BackendMemory: func(*config.Config) {},
		config.BackendSQLite: func(c *config.Config) {
			c.Store.SQLitePath = filepath.Join(dir, "nested", "points.db")
			c.Store.SQLiteName = "points"
		},
		config.BackendFile: func(c *config.Config) {
			c.Store.FilePath = filepath.Join(dir, "points.json")
		},
	}
	for name, tweak := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig(name)
			tweak(&cfg)

			opened, err := backend.Open(context.Background(), cfg, nil)
			require.NoError(t, err)
			defer opened.Close()

			assert.Equal(t, name, opened.Name)
			roundTrip(t, opened.Store)
		})
	}
}

func TestOpen_SQLiteKeepsHistory(t *testing.T) {
	cfg := baseConfig(config.BackendSQLite)
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "points.db")
	cfg.Store.SQLiteName = "points"

	opened, err := backend.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer opened.Close()

	_, ok := opened.Store.(docstore.RevisionLister)
	assert.True(t, ok)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(config.BackendRedis)
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Store.RedisPrefix = "points"
	cfg.Store.RedisDocument = "test"

	opened, err := backend.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer opened.Close()

	roundTrip(t, opened.Store)
	assert.True(t, mr.Exists("points:doc:test"))
}

func TestOpen_HTTPObjectSendsMasterKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Master-Key")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := baseConfig(config.BackendHTTPObject)
	cfg.Store.ObjectURL = srv.URL + "/b/ledger"
	cfg.Store.ObjectMasterKey = "secret"

	opened, err := backend.Open(context.Background(), cfg, nil)
	require.NoError(t, err)

	doc, token, err := opened.Store.Read(context.Background())
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Equal(t, docstore.Token(""), token)
	assert.Equal(t, "secret", gotKey)
}

func TestOpen_Failures(t *testing.T) {
	tests := map[string]config.Config{
		"unknown backend":  baseConfig("floppy"),
		"gitee without id": baseConfig(config.BackendGitee),
		"object no url":    baseConfig(config.BackendHTTPObject),
		"redis unreachable": func() config.Config {
			c := baseConfig(config.BackendRedis)
			c.Store.RedisAddr = "127.0.0.1:1"
			return c
		}(),
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Open(context.Background(), cfg, nil)
			assert.Error(t, err)
		})
	}
}
