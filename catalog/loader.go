package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SOURCES
// =============================================================================

// Sources names where each list comes from. A source is a file path or an
// http(s) URL; an empty source yields an empty list.
type Sources struct {
	Tasks     string
	Rewards   string
	Questions string
}

// Loader fetches the three lists concurrently. A list whose source fails is
// logged and degraded to empty; it never fails the other two.
type Loader struct {
	Sources Sources
	Client  *http.Client
	// Header is sent with URL fetches (e.g. an object-store master key).
	Header http.Header
	Logger *zap.Logger
}

// NewLoader creates a loader with a default HTTP client.
func NewLoader(src Sources, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Sources: src, Client: http.DefaultClient, Logger: logger}
}

// Load returns the catalog once every source has completed or failed.
func (l *Loader) Load(ctx context.Context) Catalog {
	var (
		c Catalog
		g errgroup.Group
	)

	g.Go(func() error {
		c.Tasks = loadList[Task](ctx, l, "tasks", l.Sources.Tasks, Task.Validate)
		return nil
	})
	g.Go(func() error {
		c.Rewards = loadList[Reward](ctx, l, "rewards", l.Sources.Rewards, Reward.Validate)
		return nil
	})
	g.Go(func() error {
		c.Questions = loadList[Question](ctx, l, "questions", l.Sources.Questions, Question.Validate)
		return nil
	})
	_ = g.Wait()

	l.Logger.Info("catalog loaded",
		zap.Int("tasks", len(c.Tasks)),
		zap.Int("rewards", len(c.Rewards)),
		zap.Int("questions", len(c.Questions)),
	)
	return c
}

func loadList[T any](ctx context.Context, l *Loader, kind, source string, validate func(T) error) []T {
	if source == "" {
		return []T{}
	}
	log := l.Logger.With(zap.String("list", kind), zap.String("source", source))

	data, err := l.fetch(ctx, source)
	if err != nil {
		log.Warn("catalog source unavailable, using empty list", zap.Error(err))
		return []T{}
	}

	items, err := Decode[T](data, kind, isTOML(source))
	if err != nil {
		log.Warn("catalog source unreadable, using empty list", zap.Error(err))
		return []T{}
	}

	valid := make([]T, 0, len(items))
	for _, item := range items {
		if err := validate(item); err != nil {
			log.Warn("skipping invalid catalog entry", zap.Error(err))
			continue
		}
		valid = append(valid, item)
	}
	return valid
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	if !isURL(source) {
		return os.ReadFile(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range l.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", source, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// =============================================================================
// DECODING
// =============================================================================

// Decode parses one list. JSON input may be a bare array or an object with
// the array under "record" (the JSONBin envelope). TOML input keeps the
// array under the list's kind, e.g. [[tasks]].
func Decode[T any](data []byte, kind string, asTOML bool) ([]T, error) {
	if asTOML {
		var doc map[string][]T
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s toml: %w", kind, err)
		}
		return nonNil(doc[kind]), nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Record []T `json:"record"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("decode %s json envelope: %w", kind, err)
		}
		return nonNil(env.Record), nil
	}

	var items []T
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode %s json: %w", kind, err)
	}
	return nonNil(items), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func isTOML(source string) bool {
	if isURL(source) {
		source = strings.SplitN(source, "?", 2)[0]
	}
	return strings.EqualFold(filepath.Ext(source), ".toml")
}
