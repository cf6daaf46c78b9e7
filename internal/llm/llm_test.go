package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClampScore(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want int
	}{
		{"in range", 3, 3},
		{"rounds up", 4.6, 5},
		{"rounds down", 2.4, 2},
		{"negative clamps to zero", -3, 0},
		{"above range clamps to five", 9, 5},
		{"zero", 0, 0},
		{"five exactly", 5, 5},
		{"NaN", math.NaN(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampScore(tt.raw)
			if got != tt.want {
				t.Errorf("ClampScore(%v) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCoerceNumber(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want float64
	}{
		{"float", float64(4), 4},
		{"numeric string", "4.5", 4.5},
		{"string with spaces", " 3 ", 3},
		{"garbage string", "five", 0},
		{"nil", nil, 0},
		{"bool", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceNumber(tt.v)
			if got != tt.want {
				t.Errorf("coerceNumber(%v) = %v, want %v", tt.v, got, tt.want)
			}
		})
	}
}

func TestBuildScoringPrompt(t *testing.T) {
	in := ScoreInput{
		Objectives:     "Understand goroutines",
		Rubric:         "Full marks for mechanism",
		QuestionPrompt: "What is a goroutine?",
		AnswerText:     "A lightweight thread.",
	}
	prompt := buildScoringPrompt(in)
	for _, want := range []string{in.Objectives, in.Rubric, in.QuestionPrompt, in.AnswerText, "0 to 5", "strict JSON"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt should contain %q", want)
		}
	}
}

func TestBuildPlanPrompt(t *testing.T) {
	in := PlanInput{
		Title:    "Go Basics",
		DocNames: []string{"notes.pdf", "slides.pdf"},
	}
	prompt := buildPlanPrompt(in, "corpus text")
	for _, want := range []string{"Go Basics", "notes.pdf, slides.pdf", "corpus text", "rubricSummary"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt should contain %q", want)
		}
	}
	// Empty objectives and rubric are spelled out, not left blank.
	if !strings.Contains(prompt, "Existing Objectives: (none)") {
		t.Error("prompt should mark missing objectives as (none)")
	}
}

// newTestClient points the client at a stub completion endpoint that
// always replies with the given message content.
func newTestClient(t *testing.T, status int, content string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", "test-model", 0)
}

func TestScoreAnswer(t *testing.T) {
	in := ScoreInput{QuestionPrompt: "Q", AnswerText: "A"}

	t.Run("valid response", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `{"score":4,"rationale":"solid","followup":"Anything else?"}`)
		got, err := c.ScoreAnswer(context.Background(), in)
		if err != nil {
			t.Fatalf("ScoreAnswer: %v", err)
		}
		if got.Score != 4 {
			t.Errorf("expected score 4, got %d", got.Score)
		}
		if got.Rationale != "solid" {
			t.Errorf("expected rationale 'solid', got %q", got.Rationale)
		}
		if got.Followup != "Anything else?" {
			t.Errorf("unexpected followup %q", got.Followup)
		}
	})

	t.Run("string score is coerced and rounded", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `{"score":"4.6","rationale":"ok"}`)
		got, err := c.ScoreAnswer(context.Background(), in)
		if err != nil {
			t.Fatalf("ScoreAnswer: %v", err)
		}
		if got.Score != 5 {
			t.Errorf("expected score 5, got %d", got.Score)
		}
	})

	t.Run("out-of-range score clamps", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `{"score":9,"rationale":"ok"}`)
		got, err := c.ScoreAnswer(context.Background(), in)
		if err != nil {
			t.Fatalf("ScoreAnswer: %v", err)
		}
		if got.Score != 5 {
			t.Errorf("expected score 5, got %d", got.Score)
		}
	})

	t.Run("non-JSON reply", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `I would give this a 3.`)
		_, err := c.ScoreAnswer(context.Background(), in)
		if !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("expected ErrInvalidJSON, got %v", err)
		}
	})

	t.Run("endpoint failure", func(t *testing.T) {
		c := newTestClient(t, http.StatusInternalServerError, "")
		_, err := c.ScoreAnswer(context.Background(), in)
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestGeneratePlan(t *testing.T) {
	in := PlanInput{Title: "Go Basics"}

	t.Run("valid plan", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `{
			"outline":[{"title":"Basics"}],
			"questions":[
				{"id":"q1","prompt":"P1"},
				{"id":"q2","prompt":"P2"},
				{"id":"q3","prompt":"P3"}
			],
			"rubricSummary":"Score on correctness.",
			"objectives":"Understand Go fundamentals.",
			"rubric":"Full marks for correct mechanism."
		}`)
		plan, err := c.GeneratePlan(context.Background(), in)
		if err != nil {
			t.Fatalf("GeneratePlan: %v", err)
		}
		if len(plan.Questions) != 3 {
			t.Errorf("expected 3 questions, got %d", len(plan.Questions))
		}
		if plan.RubricSummary != "Score on correctness." {
			t.Errorf("unexpected rubric summary %q", plan.RubricSummary)
		}
	})

	t.Run("too few questions fails validation", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `{
			"outline":[{"title":"Basics"}],
			"questions":[{"id":"q1","prompt":"P1"}],
			"rubricSummary":"Summary.",
			"objectives":"Long enough objectives.",
			"rubric":"Long enough rubric text."
		}`)
		if _, err := c.GeneratePlan(context.Background(), in); err == nil {
			t.Fatal("expected a validation error for a 1-question plan")
		}
	})

	t.Run("non-JSON reply", func(t *testing.T) {
		c := newTestClient(t, http.StatusOK, `Here is your plan!`)
		_, err := c.GeneratePlan(context.Background(), in)
		if !errors.Is(err, ErrInvalidJSON) {
			t.Fatalf("expected ErrInvalidJSON, got %v", err)
		}
	})
}
