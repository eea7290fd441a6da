package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/warp/points-engine/backend"
	"github.com/warp/points-engine/catalog"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/logging"
	"github.com/warp/points-engine/metrics"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/syncengine"
)

// app is one fully wired process.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	backend  *backend.Opened
	service  *points.Service
}

// overrides are flag values that win over the environment.
type overrides struct {
	backend  string
	addr     string
	logLevel string
}

func loadConfig(o overrides) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if o.backend != "" {
		cfg.Store.Backend = o.backend
	}
	if o.addr != "" {
		cfg.Addr = o.addr
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, cfg.Validate()
}

// newApp opens the backend and loads catalog and document. With
// tolerateLoadFailure the app is returned even if the first load fails, so
// a server can come up while the store is unreachable.
func newApp(ctx context.Context, cfg config.Config, tolerateLoadFailure bool) (*app, error) {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	opened, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	engine := syncengine.New(
		metrics.InstrumentStore(opened.Store, rec),
		syncengine.WithConflictRetries(cfg.ConflictRetries),
		syncengine.WithLogger(log.Named("sync")),
	)

	loader := catalog.NewLoader(catalog.Sources{
		Tasks:     cfg.Catalog.Tasks,
		Rewards:   cfg.Catalog.Rewards,
		Questions: cfg.Catalog.Questions,
	}, log.Named("catalog"))
	loader.Client = &http.Client{Timeout: cfg.StoreTimeout}
	if cfg.Catalog.MasterKey != "" {
		loader.Header = http.Header{"X-Master-Key": []string{cfg.Catalog.MasterKey}}
	}

	svc := points.New(engine, loader, points.Options{
		Location:     cfg.Location(),
		Logger:       log.Named("points"),
		Metrics:      rec,
		StoreTimeout: cfg.StoreTimeout,
		QuizMinBet:   cfg.QuizMinBet,
		QuizMaxBet:   cfg.QuizMaxBet,
	})

	a := &app{cfg: cfg, log: log, registry: reg, backend: opened, service: svc}
	if err := svc.Reload(ctx); err != nil {
		if !tolerateLoadFailure {
			a.Close()
			return nil, err
		}
		log.Warn("initial load failed, serving without a document", zap.Error(err))
	}
	return a, nil
}

func (a *app) Close() error {
	err := a.backend.Close()
	_ = a.log.Sync()
	return err
}
