package tools

import (
	"context"
	"errors"
	"strings"
)

type searchPDFArgs struct {
	identityArgs
	Query string `json:"query" validate:"required"`
	Limit ID     `json:"limit"`
}

const snippetLen = 240

// searchPDF does a linear case-insensitive substring scan over the
// exam's extracted document text, returning a snippet centered on the
// first match per document, up to the requested limit.
func (d *Dispatcher) searchPDF(ctx context.Context, inv *invocation) (*response, error) {
	var args searchPDFArgs
	if err := d.decodeArgs(inv.args, &args); err != nil {
		return fail(inv, "Missing query"), nil
	}

	examID, err := d.resolveExamID(args.identityArgs)
	if err != nil {
		if errors.Is(err, ErrExamNotResolved) {
			return fail(inv, "Could not find your exam. Share the exam ID or the email it was assigned to."), nil
		}
		return nil, err
	}

	docs, err := d.store.DocumentsWithText(examID)
	if err != nil {
		return nil, err
	}

	limit := 3
	if args.Limit.OK {
		limit = int(args.Limit.Value)
	}

	query := strings.ToLower(args.Query)
	type match struct {
		DocID   int64  `json:"docId"`
		Name    string `json:"name"`
		Snippet string `json:"snippet"`
	}
	var out []match
	for _, doc := range docs {
		if doc.Text == nil {
			continue
		}
		text := *doc.Text
		idx := strings.Index(strings.ToLower(text), query)
		if idx >= 0 {
			out = append(out, match{DocID: doc.ID, Name: doc.Name, Snippet: snippet(text, idx)})
		}
		if len(out) >= limit {
			break
		}
	}

	content := "No strong matches for that."
	if len(out) > 0 {
		content = "Found a relevant passage: " + out[0].Snippet
	}
	return &response{
		result:  map[string]any{"results": out},
		message: &SpokenMessage{Type: "request-complete", Content: content},
		state:   inv.state,
	}, nil
}

// snippet extracts a window of text centered on the match position,
// with ellipses marking truncation on either side.
func snippet(text string, idx int) string {
	start := idx - snippetLen/2
	if start < 0 {
		start = 0
	}
	end := start + snippetLen
	if end > len(text) {
		end = len(text)
	}
	var sb strings.Builder
	if start > 0 {
		sb.WriteString("…")
	}
	sb.WriteString(text[start:end])
	if end < len(text) {
		sb.WriteString("…")
	}
	return sb.String()
}
