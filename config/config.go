/*
Package config loads process configuration from the environment.

PURPOSE:
  Everything the binary needs to run (listen address, which store backend,
  catalog sources, credentials) comes from environment variables, optionally
  seeded from a .env file. Credentials are never hardcoded or passed on the
  command line.

USAGE:
  cfg, err := config.Load()
  if err != nil {
      log.Fatal(err)
  }

SEE ALSO:
  - backend/backend.go: turns Store settings into a docstore.Store
  - cmd/points/main.go: flags override Addr and Backend
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/warp/points-engine/calendar"
)

// Backend names accepted in POINTS_BACKEND.
const (
	BackendMemory     = "memory"
	BackendSQLite     = "sqlite"
	BackendFile       = "file"
	BackendGitee      = "gitee"
	BackendHTTPObject = "httpobject"
	BackendRedis      = "redis"
)

type Config struct {
	Addr        string   `env:"POINTS_ADDR" envDefault:":8080"`
	Timezone    string   `env:"POINTS_TIMEZONE" envDefault:"Local"`
	CORSOrigins []string `env:"POINTS_CORS_ORIGINS" envDefault:"*" envSeparator:","`

	LogLevel  string `env:"POINTS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"POINTS_LOG_FORMAT" envDefault:"console"`

	// Quiz
	QuizMinBet int `env:"POINTS_QUIZ_MIN_BET" envDefault:"1"`
	QuizMaxBet int `env:"POINTS_QUIZ_MAX_BET" envDefault:"0"`
	// ConflictRetries > 0 re-reads and re-applies after a stale-token write.
	ConflictRetries int           `env:"POINTS_CONFLICT_RETRIES" envDefault:"0"`
	StoreTimeout    time.Duration `env:"POINTS_STORE_TIMEOUT" envDefault:"15s"`
	// RefreshInterval re-reads the document and catalog in the background.
	// Zero disables the refresher.
	RefreshInterval time.Duration `env:"POINTS_REFRESH_INTERVAL" envDefault:"0"`

	Catalog Catalog `envPrefix:"POINTS_CATALOG_"`
	Store   Store   `envPrefix:"POINTS_"`
}

// Catalog sources: file paths or http(s) URLs.
type Catalog struct {
	Tasks     string `env:"TASKS"`
	Rewards   string `env:"REWARDS"`
	Questions string `env:"QUESTIONS"`
	// MasterKey is sent as X-Master-Key with URL fetches.
	MasterKey string `env:"MASTER_KEY"`
}

type Store struct {
	Backend string `env:"BACKEND" envDefault:"sqlite"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"./data/points.db"`
	SQLiteName string `env:"SQLITE_DOCUMENT" envDefault:"points"`
	FilePath   string `env:"FILE_PATH" envDefault:"./data/points.json"`

	GiteeBaseURL string `env:"GITEE_BASE_URL" envDefault:"https://gitee.com/api/v5"`
	GiteeOwner   string `env:"GITEE_OWNER"`
	GiteeRepo    string `env:"GITEE_REPO"`
	GiteePath    string `env:"GITEE_PATH" envDefault:"points.json"`
	GiteeBranch  string `env:"GITEE_BRANCH"`
	GiteeToken   string `env:"GITEE_TOKEN"`

	ObjectURL       string `env:"OBJECT_URL"`
	ObjectMasterKey string `env:"OBJECT_MASTER_KEY"`
	ObjectEnvelope  bool   `env:"OBJECT_ENVELOPE" envDefault:"false"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"points"`
	RedisDocument string `env:"REDIS_DOCUMENT" envDefault:"default"`
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings the selected backend needs.
func (c Config) Validate() error {
	if _, err := calendar.LoadLocation(c.Timezone); err != nil {
		return err
	}
	if c.QuizMinBet < 1 {
		return fmt.Errorf("POINTS_QUIZ_MIN_BET must be at least 1")
	}
	if c.QuizMaxBet != 0 && c.QuizMaxBet < c.QuizMinBet {
		return fmt.Errorf("POINTS_QUIZ_MAX_BET must be 0 or at least POINTS_QUIZ_MIN_BET")
	}
	if c.ConflictRetries < 0 {
		return fmt.Errorf("POINTS_CONFLICT_RETRIES must not be negative")
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("POINTS_REFRESH_INTERVAL must not be negative")
	}

	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendFile, BackendRedis:
	case BackendGitee:
		if c.Store.GiteeOwner == "" || c.Store.GiteeRepo == "" {
			return fmt.Errorf("gitee backend requires POINTS_GITEE_OWNER and POINTS_GITEE_REPO")
		}
	case BackendHTTPObject:
		if c.Store.ObjectURL == "" {
			return fmt.Errorf("httpobject backend requires POINTS_OBJECT_URL")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Store.Backend)
	}
	return nil
}

// Location resolves Timezone. Validate has already accepted it.
func (c Config) Location() *time.Location {
	loc, err := calendar.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
