/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes points.Service via REST. Handles HTTP request/response and JSON
  serialization, and delegates everything else to the service.

ENDPOINTS:
  Dashboard:
    GET    /api/state                   Balance, task/reward views, vouchers, quiz
    GET    /api/records                 Full ledger
    POST   /api/reload                  Re-read catalog and document

  Actions:
    POST   /api/signin                  Daily sign-in
    POST   /api/tasks/{code}/complete   Complete a task
    POST   /api/rewards/{code}/redeem   Redeem a reward (creates a voucher)
    GET    /api/vouchers                Unused vouchers, newest first
    POST   /api/vouchers/{id}/use       Mark a voucher used
    POST   /api/manual                  Manual adjustment {points, reason}

  Quiz:
    GET    /api/quiz                    Today's quiz
    POST   /api/quiz/start              Place the wager {bet}
    PUT    /api/quiz/answers            Record an answer {index, choice}
    POST   /api/quiz/submit             Grade and settle
    GET    /api/quiz/review?date=       Replay a finished quiz
    GET    /api/quiz/history            All finished quizzes

  Admin:
    GET    /api/admin/revisions?limit=  Store write history

ERROR HANDLING:
  Errors are returned as JSON with a status chosen by error class:
  - 400: Validation (bad points, empty reason, bad bet, bad choice)
  - 404: Unknown task, reward, voucher, quiz; no revision history
  - 409: Stale token, or the same action is already running
  - 422: Business rule (daily cap, balance, already signed in)
  - 502: Store unreachable or returned garbage
  - 503: No document loaded yet

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/errors.go: Error classes
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-engine/calendar"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *points.Service
	Log     *zap.Logger
}

// NewHandler creates a handler for svc.
func NewHandler(svc *points.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Log: log}
}

// Health reports liveness. It succeeds even before the first load.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_, err := h.Service.Records()
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Loaded: err == nil})
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// GetState returns the dashboard.
// GET /api/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.State()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetRecords returns the whole ledger.
// GET /api/records
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Records()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{
		Records: publicRecords(records),
		Balance: ledger.Balance(records),
	})
}

// Reload re-reads the catalog and document, then returns the dashboard.
// POST /api/reload
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Reload(r.Context()); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.GetState(w, r)
}

// =============================================================================
// ACTION HANDLERS
// =============================================================================

// SignIn performs today's sign-in.
// POST /api/signin
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.SignIn(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// CompleteTask appends a task completion.
// POST /api/tasks/{code}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.CompleteTask(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// RedeemReward buys a reward and returns the voucher.
// POST /api/rewards/{code}/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.RedeemReward(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListVouchers returns unused vouchers.
// GET /api/vouchers
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Vouchers()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// UseVoucher marks a voucher used.
// POST /api/vouchers/{id}/use
func (h *Handler) UseVoucher(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.UseVoucher(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AddManual appends a manual adjustment.
// POST /api/manual
func (h *Handler) AddManual(w http.ResponseWriter, r *http.Request) {
	var req ManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rec, err := h.Service.AddManual(r.Context(), string(req.Points), req.Reason)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// =============================================================================
// QUIZ HANDLERS
// =============================================================================

// GetQuiz returns today's quiz.
// GET /api/quiz
func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	q, err := h.Service.Quiz()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// StartQuiz places today's wager.
// POST /api/quiz/start
func (h *Handler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	var req StartQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	q, err := h.Service.StartQuiz(r.Context(), req.Bet)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// AnswerQuiz records one answer.
// PUT /api/quiz/answers
func (h *Handler) AnswerQuiz(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	q, err := h.Service.AnswerQuiz(req.Index, req.Choice)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// SubmitQuiz grades and settles.
// POST /api/quiz/submit
func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.SubmitQuiz(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReviewQuiz replays the quiz finished on ?date=YYYY-MM-DD (today if absent).
// GET /api/quiz/review
func (h *Handler) ReviewQuiz(w http.ResponseWriter, r *http.Request) {
	key := calendar.DayKey(r.URL.Query().Get("date"))
	if key == "" {
		q, err := h.Service.Quiz()
		if err != nil {
			h.writeFailure(w, r, err)
			return
		}
		key = q.Day
	}
	res, err := h.Service.ReviewQuiz(key)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// QuizHistory lists finished quizzes.
// GET /api/quiz/history
func (h *Handler) QuizHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Service.QuizHistory()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ListRevisions returns the store's write history.
// GET /api/admin/revisions?limit=20
func (h *Handler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}
	revs, err := h.Service.Revisions(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionsResponse{Revisions: revs})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrBusinessRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrNotLoaded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	resp := ErrorResponse{Error: err.Error(), Code: ledger.Code(err)}

	var balErr *ledger.InsufficientBalanceError
	var capErr *ledger.DailyCapError
	switch {
	case errors.As(err, &balErr):
		resp.Details = map[string]int{"balance": balErr.Balance, "required": balErr.Required}
	case errors.As(err, &capErr):
		resp.Details = map[string]any{"max": capErr.Max, "count": capErr.Count, "day": capErr.Day}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
