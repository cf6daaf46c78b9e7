package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/vivavoce/internal/jobs"
	"github.com/pavelanni/vivavoce/internal/llm"
	"github.com/pavelanni/vivavoce/internal/model"
	"github.com/pavelanni/vivavoce/internal/session"
	"github.com/pavelanni/vivavoce/internal/store"
	"github.com/pavelanni/vivavoce/internal/tools"
)

type stubScorer struct {
	result *llm.ScoreResult
	err    error
}

func (s *stubScorer) ScoreAnswer(ctx context.Context, in llm.ScoreInput) (*llm.ScoreResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubPlanner struct {
	plan *model.Plan
	err  error
	got  llm.PlanInput
}

func (p *stubPlanner) GeneratePlan(ctx context.Context, in llm.PlanInput) (*model.Plan, error) {
	p.got = in
	if p.err != nil {
		return nil, p.err
	}
	return p.plan, nil
}

type testHandler struct {
	*Handler
	router   chi.Router
	store    *store.Store
	sessions *session.Store
	planner  *stubPlanner
}

func newTestHandler(t *testing.T) *testHandler {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sessions := session.NewStore()
	scorer := &stubScorer{result: &llm.ScoreResult{Score: 4, Rationale: "solid"}}
	planner := &stubPlanner{plan: testPlan()}
	h := New(st, sessions, tools.NewDispatcher(st, sessions, scorer), planner, jobs.NewRunner())

	r := chi.NewRouter()
	h.Routes(r)
	return &testHandler{Handler: h, router: r, store: st, sessions: sessions, planner: planner}
}

func testPlan() *model.Plan {
	return &model.Plan{
		Outline: []model.OutlineSection{{Title: "Basics"}},
		Questions: []model.PlanQuestion{
			{ID: "q1", Prompt: "What is a goroutine?"},
			{ID: "q2", Prompt: "Explain channels."},
			{ID: "q3", Prompt: "What does select do?"},
		},
		RubricSummary: "Score for correctness.",
		Objectives:    "Understand Go concurrency primitives.",
		Rubric:        "Full marks require mechanism and tradeoffs.",
	}
}

func (th *testHandler) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)
	return rec
}

func (th *testHandler) seedExam(t *testing.T, assignee string) int64 {
	t.Helper()
	examID, err := th.store.CreateExam(model.Exam{
		Title:      "Go Concurrency",
		Objectives: "Understand goroutines.",
		Rubric:     "Full marks for mechanism.",
	}, nil, assignee)
	if err != nil {
		t.Fatalf("seedExam: %v", err)
	}
	plan := testPlan()
	if err := th.store.UpdateExamPlan(examID, plan, plan.Objectives, plan.Rubric); err != nil {
		t.Fatalf("seedExam plan: %v", err)
	}
	return examID
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestWebhookMalformedBody(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodPost, "/api/vapi/webhook", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "invalid JSON body" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestWebhookIgnoredMessages(t *testing.T) {
	th := newTestHandler(t)

	for _, tt := range []struct {
		name string
		body string
	}{
		{"no message", `{}`},
		{"unknown type", `{"message":{"type":"status-update","call":{"id":"call-1"}}}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := th.do(t, http.MethodPost, "/api/vapi/webhook", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if body := decodeBody(t, rec); body["status"] != "ignored" {
				t.Errorf("expected ignored status, got %v", body)
			}
		})
	}
}

func TestWebhookToolCalls(t *testing.T) {
	th := newTestHandler(t)
	examID := th.seedExam(t, "sam@example.com")

	body := fmt.Sprintf(`{
		"message": {
			"type": "tool-calls",
			"call": {"id": "call-1"},
			"toolCallList": [
				{"id": "tc-1", "type": "function", "function": {
					"name": "get_exam_context",
					"arguments": {"examId": %d, "email": "sam@example.com"}
				}}
			]
		}
	}`, examID)

	rec := th.do(t, http.MethodPost, "/api/vapi/webhook", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	payload := decodeBody(t, rec)
	results := payload["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	first := results[0].(map[string]any)
	if first["toolCallId"] != "tc-1" {
		t.Errorf("expected toolCallId tc-1, got %v", first["toolCallId"])
	}
	if first["error"] != nil {
		t.Errorf("unexpected error %v", first["error"])
	}
	msg := first["message"].(map[string]any)
	if !strings.HasPrefix(msg["content"].(string), "We will begin Go Concurrency") {
		t.Errorf("unexpected spoken content %v", msg["content"])
	}

	// The call now has session state.
	if state := th.sessions.Get("call-1"); state["examId"] == nil {
		t.Error("expected session state to be seeded")
	}
}

func TestWebhookStringEncodedArguments(t *testing.T) {
	th := newTestHandler(t)
	examID := th.seedExam(t, "sam@example.com")

	args, _ := json.Marshal(fmt.Sprintf(`{"examId": %d, "email": "sam@example.com"}`, examID))
	body := fmt.Sprintf(`{
		"message": {
			"type": "tool-calls",
			"call": {"id": "call-1"},
			"toolCallList": [
				{"id": "tc-1", "type": "function", "function": {
					"name": "get_exam_context",
					"arguments": %s
				}}
			]
		}
	}`, args)

	rec := th.do(t, http.MethodPost, "/api/vapi/webhook", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	results := decodeBody(t, rec)["results"].([]any)
	first := results[0].(map[string]any)
	if first["error"] != nil {
		t.Errorf("string-encoded arguments should decode: %v", first["error"])
	}
}

func TestWebhookLegacyToolCallsField(t *testing.T) {
	th := newTestHandler(t)
	examID := th.seedExam(t, "sam@example.com")

	body := fmt.Sprintf(`{
		"message": {
			"type": "tool-calls",
			"call": {"id": "call-1"},
			"toolCalls": [
				{"id": "tc-1", "type": "function", "function": {
					"name": "get_exam_context",
					"arguments": {"examId": %d}
				}}
			]
		}
	}`, examID)

	rec := th.do(t, http.MethodPost, "/api/vapi/webhook", body)
	results := decodeBody(t, rec)["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("expected 1 result from legacy field, got %d", len(results))
	}
}

func TestWebhookEmptyToolCalls(t *testing.T) {
	th := newTestHandler(t)
	rec := th.do(t, http.MethodPost, "/api/vapi/webhook",
		`{"message":{"type":"tool-calls","call":{"id":"call-1"},"toolCallList":[]}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	results := decodeBody(t, rec)["results"].([]any)
	if len(results) != 0 {
		t.Errorf("expected empty results, got %v", results)
	}
}

func TestWebhookEndOfCallClearsSession(t *testing.T) {
	th := newTestHandler(t)
	th.sessions.Set("call-1", session.State{"examId": int64(1)})

	rec := th.do(t, http.MethodPost, "/api/vapi/webhook",
		`{"message":{"type":"end-of-call-report","call":{"id":"call-1"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("expected ok status, got %v", body)
	}
	if state := th.sessions.Get("call-1"); len(state) != 0 {
		t.Errorf("expected session state cleared, got %v", state)
	}

	// A report for an unknown call is still fine.
	rec = th.do(t, http.MethodPost, "/api/vapi/webhook",
		`{"message":{"type":"end-of-call-report","call":{"id":"call-unknown"}}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown call, got %d", rec.Code)
	}
}
