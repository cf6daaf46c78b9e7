package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/vivavoce/internal/llm"
	"github.com/pavelanni/vivavoce/internal/model"
	"github.com/pavelanni/vivavoce/internal/pdftext"
	"github.com/pavelanni/vivavoce/internal/tools"
)

const attemptListLimit = 10

type createExamRequest struct {
	Title      string `json:"title"`
	Objectives string `json:"objectives"`
	Rubric     string `json:"rubric"`
	Assignee   string `json:"assignee"`
	Documents  []struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
		URL      string `json:"url"`
	} `json:"documents"`
}

type examView struct {
	model.Exam
	Documents   []model.Document   `json:"documents"`
	Assignments []model.Assignment `json:"assignments"`
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Missing title")
		return
	}

	docs := make([]model.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, model.Document{Name: d.Name, MimeType: d.MimeType, URL: d.URL})
	}

	examID, err := h.store.CreateExam(model.Exam{
		Title:      req.Title,
		Objectives: req.Objectives,
		Rubric:     req.Rubric,
	}, docs, req.Assignee)
	if err != nil {
		slog.Error("create exam", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create exam")
		return
	}

	view, err := h.examView(examID)
	if err != nil {
		slog.Error("load created exam", "exam_id", examID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create exam")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": examID, "exam": view})
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exam id")
		return
	}

	view, err := h.examView(examID)
	if err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		slog.Error("load exam", "exam_id", examID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load exam")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exam": view})
}

func (h *Handler) examView(examID int64) (*examView, error) {
	exam, err := h.store.GetExam(examID)
	if err != nil {
		return nil, err
	}
	docs, err := h.store.ListDocuments(examID)
	if err != nil {
		return nil, err
	}
	assignments, err := h.store.ListAssignments(examID)
	if err != nil {
		return nil, err
	}
	return &examView{Exam: exam, Documents: docs, Assignments: assignments}, nil
}

// handleGeneratePlan starts plan generation as a tracked background
// job and returns its ID immediately; clients poll the job endpoint for
// completion.
func (h *Handler) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "examID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid exam id")
		return
	}
	if _, err := h.store.GetExam(examID); err == sql.ErrNoRows {
		writeError(w, http.StatusNotFound, "Exam not found")
		return
	} else if err != nil {
		slog.Error("load exam", "exam_id", examID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load exam")
		return
	}

	jobID := h.jobs.Start("generate_plan", func(ctx context.Context) error {
		return h.generatePlan(ctx, examID)
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) handleGetPlanJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Status(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// generatePlan backfills missing document text, builds the corpus, and
// asks the planner for an outline/question plan, which is stored on the
// exam together with the objectives and rubric it settled on.
func (h *Handler) generatePlan(ctx context.Context, examID int64) error {
	exam, err := h.store.GetExam(examID)
	if err != nil {
		return fmt.Errorf("load exam: %w", err)
	}
	docs, err := h.store.ListDocuments(examID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	var corpus strings.Builder
	docNames := make([]string, 0, len(docs))
	for _, doc := range docs {
		docNames = append(docNames, doc.Name)

		text := ""
		switch {
		case doc.Text != nil:
			text = *doc.Text
		case strings.Contains(doc.MimeType, "pdf"):
			extracted, err := pdftext.Extract(doc.URL)
			if err != nil {
				// A single unreadable document should not block the plan.
				slog.Warn("extract document", "doc", doc.Name, "error", err)
				continue
			}
			if err := h.store.UpdateDocumentText(doc.ID, extracted); err != nil {
				return fmt.Errorf("store document text: %w", err)
			}
			text = extracted
		}
		if text != "" {
			fmt.Fprintf(&corpus, "\n\n## Document: %s\n%s", doc.Name, text)
		}
	}

	plan, err := h.planner.GeneratePlan(ctx, llm.PlanInput{
		Title:      exam.Title,
		Objectives: exam.Objectives,
		Rubric:     exam.Rubric,
		DocNames:   docNames,
		Corpus:     corpus.String(),
	})
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}

	objectives := plan.Objectives
	if objectives == "" {
		objectives = exam.Objectives
	}
	rubric := plan.Rubric
	if rubric == "" {
		rubric = exam.Rubric
	}
	if err := h.store.UpdateExamPlan(examID, plan, objectives, rubric); err != nil {
		return fmt.Errorf("store plan: %w", err)
	}
	slog.Info("plan generated", "exam_id", examID, "questions", len(plan.Questions))
	return nil
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(r.URL.Query().Get("examId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid examId")
		return
	}

	attempts, err := h.store.ListAttempts(examID, r.URL.Query().Get("email"), attemptListLimit)
	if err != nil {
		slog.Error("list attempts", "exam_id", examID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *Handler) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExamID tools.ID `json:"examId"`
		Email  string   `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.ExamID.OK || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Missing examId or email")
		return
	}

	attempt, err := h.store.FindOrCreateAttempt(req.ExamID.Value, req.Email)
	if err != nil {
		slog.Error("create attempt", "exam_id", req.ExamID.Value, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create attempt")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attempt": attempt})
}
