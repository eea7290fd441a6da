package config_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "./data/points.db", cfg.Store.SQLitePath)
	assert.Equal(t, 15*time.Second, cfg.StoreTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 0, cfg.ConflictRetries)
	assert.Zero(t, cfg.RefreshInterval)
	assert.Equal(t, time.Local, cfg.Location())
}

func TestParse_ReadsPrefixedSettings(t *testing.T) {
	t.Setenv("POINTS_BACKEND", "gitee")
	t.Setenv("POINTS_GITEE_OWNER", "kid")
	t.Setenv("POINTS_GITEE_REPO", "storage")
	t.Setenv("POINTS_GITEE_TOKEN", "secret")
	t.Setenv("POINTS_CATALOG_TASKS", "https://example.test/tasks.json")
	t.Setenv("POINTS_TIMEZONE", "Asia/Shanghai")
	t.Setenv("POINTS_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, "kid", cfg.Store.GiteeOwner)
	assert.Equal(t, "secret", cfg.Store.GiteeToken)
	assert.Equal(t, "points.json", cfg.Store.GiteePath)
	assert.Equal(t, "https://example.test/tasks.json", cfg.Catalog.Tasks)
	assert.Equal(t, "Asia/Shanghai", cfg.Location().String())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestParse_RejectsIncompleteBackend(t *testing.T) {
	tests := map[string]map[string]string{
		"gitee without repo":    {"POINTS_BACKEND": "gitee", "POINTS_GITEE_OWNER": "kid"},
		"object without url":    {"POINTS_BACKEND": "httpobject"},
		"unknown backend":       {"POINTS_BACKEND": "floppy"},
		"bad timezone":          {"POINTS_TIMEZONE": "Mars/Olympus"},
		"max bet below min bet": {"POINTS_QUIZ_MIN_BET": "5", "POINTS_QUIZ_MAX_BET": "2"},
		"negative retries":      {"POINTS_CONFLICT_RETRIES": "-1"},
		"non numeric redis db":  {"POINTS_REDIS_DB": "zero"},
		"negative refresh":      {"POINTS_REFRESH_INTERVAL": "-1s"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := config.Parse()
			assert.Error(t, err)
		})
	}
}
