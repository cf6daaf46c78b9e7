package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/vivavoce/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Errors the caller can distinguish: a model that answered with
// something other than JSON, versus a model that did not answer at all.
// The voice agent needs a spoken fallback for both, and the fallbacks
// differ.
var (
	ErrInvalidJSON = errors.New("model did not return valid JSON")
	ErrUnavailable = errors.New("evaluator unavailable")
)

const defaultTimeout = 15 * time.Second

// ScoreInput carries the rubric context and the transcribed answer for
// one scoring request.
type ScoreInput struct {
	Objectives     string
	Rubric         string
	QuestionPrompt string
	AnswerText     string
}

// ScoreResult is the validated outcome of a scoring request. Score is
// always in [0,5].
type ScoreResult struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
	Followup  string `json:"followup,omitempty"`
}

// PlanInput carries everything the plan generator needs.
type PlanInput struct {
	Title      string
	Objectives string
	Rubric     string
	DocNames   []string
	Corpus     string
}

// corpusLimit bounds the document text included in a plan request.
const corpusLimit = 60000

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api      *openai.Client
	model    string
	timeout  time.Duration
	validate *validator.Validate
}

// New creates a new LLM client. A zero timeout selects the default.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		api:      openai.NewClientWithConfig(config),
		model:    modelName,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// ScoreAnswer asks the model to score an answer 0-5 against the exam's
// objectives and rubric. The model's reply must be strict JSON; anything
// else is ErrInvalidJSON and nothing should be persisted. The numeric
// score is coerced, rounded, and clamped into [0,5] rather than
// rejected.
func (c *Client) ScoreAnswer(ctx context.Context, in ScoreInput) (*ScoreResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildScoringPrompt(in)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrUnavailable)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("scoring response", "raw", raw)

	var parsed struct {
		Score     any    `json:"score"`
		Rationale string `json:"rationale"`
		Followup  string `json:"followup"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w (raw: %s)", ErrInvalidJSON, raw)
	}

	return &ScoreResult{
		Score:     ClampScore(coerceNumber(parsed.Score)),
		Rationale: parsed.Rationale,
		Followup:  parsed.Followup,
	}, nil
}

// GeneratePlan asks the model for an exam outline, question list, and
// rubric summary, and validates the result against the plan schema.
func (c *Client) GeneratePlan(ctx context.Context, in PlanInput) (*model.Plan, error) {
	corpus := in.Corpus
	if len(corpus) > corpusLimit {
		corpus = corpus[:corpusLimit]
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildPlanPrompt(in, corpus)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrUnavailable)
	}

	raw := resp.Choices[0].Message.Content
	var plan model.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("%w (raw: %s)", ErrInvalidJSON, raw)
	}
	if err := c.validate.Struct(&plan); err != nil {
		return nil, fmt.Errorf("plan failed validation: %w", err)
	}
	return &plan, nil
}

// ClampScore rounds a raw score and clamps it into the 0-5 scale.
// Out-of-range and non-numeric values collapse toward the bounds, never
// into an error.
func ClampScore(raw float64) int {
	if math.IsNaN(raw) {
		return 0
	}
	s := int(math.Round(raw))
	if s < 0 {
		return 0
	}
	if s > 5 {
		return 5
	}
	return s
}

// coerceNumber turns whatever the model put in the score field into a
// float64. Numeric strings are accepted; everything else counts as 0.
func coerceNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func buildScoringPrompt(in ScoreInput) string {
	var sb strings.Builder
	sb.WriteString("You are an evaluator. Score the answer from 0 to 5 (integer) using the objectives and rubric. ")
	sb.WriteString(`Return strict JSON {"score":number,"rationale":string,"followup":string}.`)
	sb.WriteString("\nObjectives: " + in.Objectives)
	sb.WriteString("\nRubric: " + in.Rubric)
	sb.WriteString("\nQuestion: " + in.QuestionPrompt)
	sb.WriteString("\nAnswer: " + in.AnswerText)
	return sb.String()
}

func buildPlanPrompt(in PlanInput, corpus string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert educator designing an oral exam.\n")
	sb.WriteString("Given the exam title, learning objectives, rubric text, and a list of document names, produce:\n")
	sb.WriteString("- A short outline of 3-6 sections\n")
	sb.WriteString("- 5-10 competency questions\n")
	sb.WriteString("- A brief rubric summary for evaluators.\n")
	sb.WriteString("If documents are not available, infer from objectives and rubric. JSON only.\n\n")
	sb.WriteString(`Return strict JSON with this shape: {"outline":[{"title":"string","summary":"string?"}],`)
	sb.WriteString(`"questions":[{"id":"string","prompt":"string","competency":"string?"}],`)
	sb.WriteString(`"rubricSummary":"string","objectives":"string","rubric":"string"}.`)
	sb.WriteString("\n\nInput:\nTitle: " + in.Title)
	sb.WriteString("\nExisting Objectives: " + orNone(in.Objectives))
	sb.WriteString("\nExisting Rubric: " + orNone(in.Rubric))
	sb.WriteString("\nDocuments: " + strings.Join(in.DocNames, ", "))
	sb.WriteString("\n\nCorpus (may be truncated):\n" + corpus)
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
