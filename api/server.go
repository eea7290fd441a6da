/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request log (method, path, status, duration, id)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /health               Liveness
  /metrics              Prometheus exposition
  /api/*                Dashboard, actions, quiz
  /api/admin/*          Revision history

SECURITY NOTE:
  No authentication middleware. Credentials for the backing store are
  injected through configuration and never reach the client.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/points/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions configures cross-cutting concerns of the router.
type RouterOptions struct {
	CORSOrigins []string
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/records", h.GetRecords)
		r.Post("/reload", h.Reload)
		r.Post("/signin", h.SignIn)
		r.Post("/manual", h.AddManual)

		r.Post("/tasks/{code}/complete", h.CompleteTask)
		r.Post("/rewards/{code}/redeem", h.RedeemReward)

		// Voucher routes
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/{id}/use", h.UseVoucher)
		})

		// Quiz routes
		r.Route("/quiz", func(r chi.Router) {
			r.Get("/", h.GetQuiz)
			r.Post("/start", h.StartQuiz)
			r.Put("/answers", h.AnswerQuiz)
			r.Post("/submit", h.SubmitQuiz)
			r.Get("/review", h.ReviewQuiz)
			r.Get("/history", h.QuizHistory)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/revisions", h.ListRevisions)
		})
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
