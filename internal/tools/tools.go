// Package tools implements the voice agent's tool catalogue: the
// dispatcher that routes named tool calls to handlers, the identity
// resolution that maps speech-derived hints to exams and attempts, and
// the handlers themselves.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/vivavoce/internal/llm"
	"github.com/pavelanni/vivavoce/internal/session"
	"github.com/pavelanni/vivavoce/internal/store"
)

// Tool names form a closed catalogue; the dispatcher switches over
// these exhaustively, so adding a tool means adding a constant, a case,
// and a handler.
const (
	ToolGetExamContext   = "get_exam_context"
	ToolGetNextQuestion  = "get_next_question"
	ToolScoreAnswer      = "score_answer"
	ToolRecordTranscript = "record_transcript"
	ToolFinalizeAttempt  = "finalize_attempt"
	ToolSearchPDF        = "search_pdf"
)

// Call is one tool invocation from the webhook: the call-scoped tool
// call ID, the function name, and its decoded arguments.
type Call struct {
	ID   string
	Name string
	Args json.RawMessage
}

// SpokenMessage is a payload the voice agent reads aloud.
type SpokenMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Result is the per-invocation outcome returned to the voice agent.
type Result struct {
	ToolCallID string         `json:"toolCallId"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    *SpokenMessage `json:"message,omitempty"`
}

// Scorer evaluates a transcribed answer against an exam's rubric. The
// LLM client satisfies this; tests substitute their own.
type Scorer interface {
	ScoreAnswer(ctx context.Context, in llm.ScoreInput) (*llm.ScoreResult, error)
}

// Dispatcher routes tool calls to handlers, threading per-call session
// state through each batch.
type Dispatcher struct {
	store    *store.Store
	sessions *session.Store
	scorer   Scorer
	validate *validator.Validate
}

func NewDispatcher(st *store.Store, sessions *session.Store, scorer Scorer) *Dispatcher {
	return &Dispatcher{
		store:    st,
		sessions: sessions,
		scorer:   scorer,
		validate: validator.New(),
	}
}

// Dispatch processes one batch of tool calls for a voice call. The
// batch runs under the call's session lock: state is seeded from the
// prior snapshot, each invocation sees the state left by the previous
// one, and the store is written once with the final state. Results come
// back in call order, one per invocation, and a failing invocation
// never aborts the rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, callID string, calls []Call) []Result {
	results := make([]Result, 0, len(calls))
	d.sessions.Update(callID, func(state session.State) session.State {
		state["callId"] = callID
		for _, call := range calls {
			result, newState := d.invoke(ctx, callID, state, call)
			results = append(results, result)
			if newState != nil {
				state = newState
			}
		}
		return state
	})
	return results
}

// invocation is the context one handler runs with. Handlers receive a
// clone of the batch state, so a handler that fails halfway cannot
// corrupt what earlier invocations built up.
type invocation struct {
	callID     string
	toolCallID string
	state      session.State
	args       json.RawMessage
}

// response is what a handler produces: a result payload or an error
// string, an optional spoken message, and the state to carry forward.
type response struct {
	result  any
	errMsg  string
	message *SpokenMessage
	state   session.State
}

// fail builds the uniform tool-failure response: a per-invocation error
// plus a request-failed message the agent can speak, state unchanged.
func fail(inv *invocation, msg string) *response {
	return &response{
		errMsg:  msg,
		message: &SpokenMessage{Type: "request-failed", Content: msg},
		state:   inv.state,
	}
}

func (d *Dispatcher) invoke(ctx context.Context, callID string, state session.State, call Call) (result Result, newState session.State) {
	inv := &invocation{
		callID:     callID,
		toolCallID: call.ID,
		state:      maps.Clone(state),
		args:       call.Args,
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in tool handler", "tool", call.Name, "call_id", callID, "panic", r)
			result = Result{ToolCallID: call.ID, Error: "Internal error in " + call.Name}
			newState = nil
		}
	}()

	var resp *response
	var err error
	switch call.Name {
	case ToolGetExamContext:
		resp, err = d.getExamContext(ctx, inv)
	case ToolGetNextQuestion:
		resp, err = d.getNextQuestion(ctx, inv)
	case ToolScoreAnswer:
		resp, err = d.scoreAnswer(ctx, inv)
	case ToolRecordTranscript:
		resp, err = d.recordTranscript(ctx, inv)
	case ToolFinalizeAttempt:
		resp, err = d.finalizeAttempt(ctx, inv)
	case ToolSearchPDF:
		resp, err = d.searchPDF(ctx, inv)
	default:
		return Result{ToolCallID: call.ID, Error: "Unknown tool: " + call.Name}, nil
	}
	if err != nil {
		slog.Error("tool handler failed", "tool", call.Name, "call_id", callID, "error", err)
		return Result{ToolCallID: call.ID, Error: "Internal error in " + call.Name}, nil
	}

	result = Result{
		ToolCallID: call.ID,
		Error:      resp.errMsg,
		Message:    resp.message,
	}
	if resp.result != nil {
		if s, ok := resp.result.(string); ok {
			result.Result = s
		} else if data, err := json.Marshal(resp.result); err == nil {
			result.Result = string(data)
		}
	}
	return result, resp.state
}

// decodeArgs unmarshals raw arguments into a typed struct and checks
// its validate tags. Handlers translate the error into their own
// missing-fields message.
func (d *Dispatcher) decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return err
		}
	}
	return d.validate.Struct(dst)
}

// ID is a numeric tool argument that may arrive as a JSON number or a
// numeric string. Anything else leaves it unset rather than failing the
// decode; tool arguments are speech-derived and best-effort.
type ID struct {
	Value int64
	OK    bool
}

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	id.Value = int64(f)
	id.OK = true
	return nil
}

// identityArgs are the identity hints every tool accepts.
type identityArgs struct {
	ExamID    ID     `json:"examId"`
	AttemptID ID     `json:"attemptId"`
	Email     string `json:"email"`
}
