// Package metrics records engine activity as Prometheus metrics.
//
// Metrics are registered on an injected registry so tests and multiple
// engines in one process never collide on the global default.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/points-engine/docstore"
	"github.com/warp/points-engine/ledger"
)

// Recorder holds the engine's collectors.
type Recorder struct {
	actions    *prometheus.CounterVec
	storeOps   *prometheus.CounterVec
	storeTimes *prometheus.HistogramVec
	balance    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "points_actions_total",
			Help: "User actions by kind and outcome.",
		}, []string{"action", "outcome"}),
		storeOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "points_store_operations_total",
			Help: "Document store reads and writes by outcome.",
		}, []string{"op", "outcome"}),
		storeTimes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "points_store_operation_seconds",
			Help:    "Document store latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		balance: f.NewGauge(prometheus.GaugeOpts{
			Name: "points_balance",
			Help: "Balance derived from the last synchronized document.",
		}),
	}
}

// Nop returns a recorder backed by a throwaway registry.
func Nop() *Recorder { return New(prometheus.NewRegistry()) }

// Action counts one user action.
func (r *Recorder) Action(action string, err error) {
	r.actions.WithLabelValues(action, Outcome(err)).Inc()
}

// StoreOp records one store call started at start.
func (r *Recorder) StoreOp(op string, start time.Time, err error) {
	r.storeOps.WithLabelValues(op, Outcome(err)).Inc()
	r.storeTimes.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Balance sets the balance gauge.
func (r *Recorder) Balance(points int) { r.balance.Set(float64(points)) }

// Outcome collapses an error into a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrTransport):
		return "transport"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrValidation):
		return "validation"
	case errors.Is(err, ledger.ErrBusinessRule):
		return "rejected"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrNotLoaded):
		return "not_loaded"
	}
	return "error"
}

// =============================================================================
// INSTRUMENTED STORE
// =============================================================================

// Store wraps a docstore.Store and times every call.
type Store struct {
	next docstore.Store
	rec  *Recorder
}

func InstrumentStore(next docstore.Store, rec *Recorder) *Store {
	return &Store{next: next, rec: rec}
}

func (s *Store) Read(ctx context.Context) (*ledger.Document, docstore.Token, error) {
	start := time.Now()
	doc, token, err := s.next.Read(ctx)
	s.rec.StoreOp("read", start, err)
	return doc, token, err
}

func (s *Store) Write(ctx context.Context, doc ledger.Document, token docstore.Token) (docstore.Token, error) {
	start := time.Now()
	next, err := s.next.Write(ctx, doc, token)
	s.rec.StoreOp("write", start, err)
	return next, err
}

// Revisions forwards to the wrapped store when it keeps history.
func (s *Store) Revisions(ctx context.Context, limit int) ([]docstore.Revision, error) {
	lister, ok := s.next.(docstore.RevisionLister)
	if !ok {
		return nil, docstore.ErrNoHistory
	}
	return lister.Revisions(ctx, limit)
}
