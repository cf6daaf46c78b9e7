package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pavelanni/vivavoce/internal/tools"
)

// webhookEnvelope is the inbound message wrapper from the voice
// platform. Message type decides the route; everything else is
// message-type specific.
type webhookEnvelope struct {
	Message *webhookMessage `json:"message"`
}

type webhookMessage struct {
	Type string `json:"type"`
	Call struct {
		ID string `json:"id"`
	} `json:"call"`
	ToolCallList []toolCallItem `json:"toolCallList"`
	// Legacy alias some platform versions send instead of toolCallList.
	ToolCalls []toolCallItem `json:"toolCalls"`
}

type toolCallItem struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// handleWebhook is the single externally reachable entry point for the
// voice agent. Tool-call batches go to the dispatcher; end-of-call
// reports tear down session state; everything else is acknowledged and
// ignored. Only a malformed envelope is a top-level HTTP error; every
// per-tool problem funnels into the per-invocation result shape so the
// agent always has something to speak from.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	msg := envelope.Message
	if msg == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	slog.Info("webhook message", "type", msg.Type, "call_id", msg.Call.ID)

	switch msg.Type {
	case "tool-calls":
		items := msg.ToolCallList
		if len(items) == 0 {
			items = msg.ToolCalls
		}
		if len(items) == 0 {
			writeJSON(w, http.StatusOK, map[string]any{"results": []tools.Result{}})
			return
		}

		calls := make([]tools.Call, 0, len(items))
		for _, item := range items {
			calls = append(calls, tools.Call{
				ID:   item.ID,
				Name: item.Function.Name,
				Args: decodeToolArguments(item.Function.Arguments),
			})
		}

		results := h.dispatcher.Dispatch(r.Context(), msg.Call.ID, calls)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})

	case "end-of-call-report":
		// Pure cleanup: idempotent, succeeds whether or not state exists.
		h.sessions.Delete(msg.Call.ID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

// decodeToolArguments normalizes tool arguments, which arrive either as
// a structured object or as a JSON-encoded string. A string that fails
// to decode becomes an empty object rather than failing the batch.
func decodeToolArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		// Already a structured value.
		return raw
	}
	if !json.Valid([]byte(encoded)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(encoded)
}
