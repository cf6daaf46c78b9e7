package tools

import (
	"context"
	"errors"
	"time"

	"github.com/pavelanni/vivavoce/internal/model"
)

type recordTranscriptArgs struct {
	identityArgs
	Role string `json:"role" validate:"required"`
	Text string `json:"text" validate:"required"`
	TS   string `json:"ts"`
}

// recordTranscript appends one transcript line to the attempt. The exam
// resolution is best-effort here: a transcript with only an attemptId
// should still land.
func (d *Dispatcher) recordTranscript(ctx context.Context, inv *invocation) (*response, error) {
	var args recordTranscriptArgs
	if err := d.decodeArgs(inv.args, &args); err != nil {
		return fail(inv, "Missing fields (role, text)"), nil
	}

	examID, err := d.resolveExamID(args.identityArgs)
	if err != nil && !errors.Is(err, ErrExamNotResolved) {
		return nil, err
	}
	attempt, err := d.resolveAttempt(args.identityArgs, examID)
	if err != nil {
		if errors.Is(err, ErrMissingExam) {
			return fail(inv, "Could not load your exam context."), nil
		}
		return nil, err
	}

	ts := time.Now()
	if args.TS != "" {
		if parsed, err := time.Parse(time.RFC3339, args.TS); err == nil {
			ts = parsed
		}
	}

	_, err = d.store.CreateTranscript(model.Transcript{
		AttemptID: attempt.ID,
		Role:      args.Role,
		Text:      args.Text,
		TS:        ts,
	})
	if err != nil {
		return nil, err
	}

	return &response{result: "recorded", state: inv.state}, nil
}
