package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pavelanni/vivavoce/internal/llm"
	"github.com/pavelanni/vivavoce/internal/model"
)

type scoreAnswerArgs struct {
	identityArgs
	QuestionID string `json:"questionId" validate:"required"`
	Prompt     string `json:"prompt" validate:"required"`
	AnswerText string `json:"answerText" validate:"required"`
}

// scoreAnswer runs the scoring pipeline for one question: evaluate the
// transcribed answer against the exam's rubric, persist exactly one
// Answer row on success, and speak the score back. Nothing is persisted
// when the evaluator fails.
func (d *Dispatcher) scoreAnswer(ctx context.Context, inv *invocation) (*response, error) {
	var args scoreAnswerArgs
	if err := d.decodeArgs(inv.args, &args); err != nil {
		return fail(inv, "Missing fields (questionId, prompt, answerText)"), nil
	}

	examID, err := d.resolveExamID(args.identityArgs)
	if err != nil {
		if errors.Is(err, ErrExamNotResolved) {
			return fail(inv, "Could not find your exam. Share the exam ID or the email it was assigned to."), nil
		}
		return nil, err
	}
	attempt, err := d.resolveAttempt(args.identityArgs, examID)
	if err != nil {
		if errors.Is(err, ErrMissingExam) {
			return fail(inv, "Could not load your exam context."), nil
		}
		return nil, err
	}

	exam, err := d.store.GetExam(examID)
	if err == sql.ErrNoRows {
		return fail(inv, "Exam not found"), nil
	}
	if err != nil {
		return nil, err
	}

	scored, err := d.scorer.ScoreAnswer(ctx, llm.ScoreInput{
		Objectives:     exam.Objectives,
		Rubric:         exam.Rubric,
		QuestionPrompt: args.Prompt,
		AnswerText:     args.AnswerText,
	})
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrInvalidJSON):
			return fail(inv, "Model did not return valid JSON"), nil
		case errors.Is(err, llm.ErrUnavailable):
			return fail(inv, "Scoring service unavailable"), nil
		}
		return nil, err
	}

	_, err = d.store.CreateAnswer(model.Answer{
		AttemptID:  attempt.ID,
		QuestionID: args.QuestionID,
		Prompt:     args.Prompt,
		AnswerText: args.AnswerText,
		Score:      scored.Score,
		Rationale:  scored.Rationale,
	})
	if err != nil {
		return nil, err
	}

	speak := fmt.Sprintf("Thanks. I scored that %d out of 5.", scored.Score)
	if scored.Followup != "" {
		speak += " " + scored.Followup
	}
	return &response{
		result: map[string]any{
			"score":     scored.Score,
			"rationale": scored.Rationale,
			"followup":  scored.Followup,
			"attemptId": attempt.ID,
		},
		message: &SpokenMessage{Type: "request-complete", Content: speak},
		state:   inv.state,
	}, nil
}

type finalizeAttemptArgs struct {
	AttemptID ID `json:"attemptId"`
}

// finalizeAttempt computes the mean of the attempt's answer scores
// (zero if there are none), marks the attempt completed, and announces
// the result.
func (d *Dispatcher) finalizeAttempt(ctx context.Context, inv *invocation) (*response, error) {
	var args finalizeAttemptArgs
	if err := d.decodeArgs(inv.args, &args); err != nil || !args.AttemptID.OK {
		return fail(inv, "Missing attemptId"), nil
	}

	answers, err := d.store.ListAnswers(args.AttemptID.Value)
	if err != nil {
		return nil, err
	}
	total := 0.0
	if len(answers) > 0 {
		sum := 0
		for _, a := range answers {
			sum += a.Score
		}
		total = float64(sum) / float64(len(answers))
	}

	attempt, err := d.store.FinalizeAttempt(args.AttemptID.Value, total)
	if err == sql.ErrNoRows {
		return fail(inv, "Attempt not found"), nil
	}
	if err != nil {
		return nil, err
	}

	inv.state["attemptId"] = attempt.ID
	inv.state["attemptCompleted"] = true
	return &response{
		result: map[string]any{
			"ok":         true,
			"attemptId":  attempt.ID,
			"totalScore": total,
		},
		message: &SpokenMessage{
			Type:    "request-complete",
			Content: fmt.Sprintf("All set. Overall score: %s out of 5.", formatScore(total)),
		},
		state: inv.state,
	}, nil
}

// formatScore renders a mean score with up to two decimals, trimming
// trailing zeros ("4", "4.5", "4.33").
func formatScore(total float64) string {
	s := strconv.FormatFloat(total, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
