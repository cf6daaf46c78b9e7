package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/vivavoce/internal/jobs"
	"github.com/pavelanni/vivavoce/internal/llm"
	"github.com/pavelanni/vivavoce/internal/model"
	"github.com/pavelanni/vivavoce/internal/session"
	"github.com/pavelanni/vivavoce/internal/store"
	"github.com/pavelanni/vivavoce/internal/tools"
)

// Planner generates an exam plan from objectives, rubric, and document
// text. The LLM client satisfies this; tests substitute their own.
type Planner interface {
	GeneratePlan(ctx context.Context, in llm.PlanInput) (*model.Plan, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	sessions   *session.Store
	dispatcher *tools.Dispatcher
	planner    Planner
	jobs       *jobs.Runner
}

// New creates a new Handler.
func New(s *store.Store, sessions *session.Store, d *tools.Dispatcher, planner Planner, runner *jobs.Runner) *Handler {
	return &Handler{
		store:      s,
		sessions:   sessions,
		dispatcher: d,
		planner:    planner,
		jobs:       runner,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/vapi/webhook", h.handleWebhook)

	r.Post("/api/exams", h.handleCreateExam)
	r.Get("/api/exams/{examID}", h.handleGetExam)
	r.Post("/api/exams/{examID}/plan", h.handleGeneratePlan)
	r.Get("/api/plan/jobs/{jobID}", h.handleGetPlanJob)

	r.Get("/api/attempts", h.handleListAttempts)
	r.Post("/api/attempts", h.handleCreateAttempt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
