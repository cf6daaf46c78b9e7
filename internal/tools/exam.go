package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/vivavoce/internal/model"
)

// getExamContext resolves the caller's exam and attempt, seeds the
// session state with both, and returns the exam metadata and plan so
// the agent can conduct the exam.
func (d *Dispatcher) getExamContext(ctx context.Context, inv *invocation) (*response, error) {
	var args identityArgs
	if err := d.decodeArgs(inv.args, &args); err != nil {
		return fail(inv, "Invalid arguments"), nil
	}

	examID, err := d.resolveExamID(args)
	if err != nil {
		if errors.Is(err, ErrExamNotResolved) {
			return fail(inv, "Could not find your exam. Share the exam ID or the email it was assigned to."), nil
		}
		return nil, err
	}
	attempt, err := d.resolveAttempt(args, examID)
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

	inv.state["examId"] = examID
	inv.state["attemptId"] = attempt.ID
	return &response{
		result: map[string]any{
			"id":         exam.ID,
			"title":      exam.Title,
			"objectives": exam.Objectives,
			"rubric":     exam.Rubric,
			"plan":       exam.Plan,
			"attemptId":  attempt.ID,
		},
		message: &SpokenMessage{
			Type:    "request-complete",
			Content: fmt.Sprintf("We will begin %s. Ready for the first question?", exam.Title),
		},
		state: inv.state,
	}, nil
}

// getNextQuestion scans the exam plan's questions in stored order and
// returns the first one without an answer in this attempt, or reports
// that none are left.
func (d *Dispatcher) getNextQuestion(ctx context.Context, inv *invocation) (*response, error) {
	var args identityArgs
	if err := d.decodeArgs(inv.args, &args); err != nil {
		return fail(inv, "Invalid arguments"), nil
	}

	examID, err := d.resolveExamID(args)
	if err != nil {
		if errors.Is(err, ErrExamNotResolved) {
			return fail(inv, "Could not find your exam. Share the exam ID or the email it was assigned to."), nil
		}
		return nil, err
	}
	attempt, err := d.resolveAttempt(args, examID)
	if err != nil {
		if errors.Is(err, ErrMissingExam) {
			return fail(inv, "Could not load your exam context."), nil
		}
		return nil, err
	}

	var questions []model.PlanQuestion
	exam, err := d.store.GetExam(examID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && exam.Plan != nil {
		questions = exam.Plan.Questions
	}

	answered, err := d.store.AnsweredQuestionIDs(attempt.ID)
	if err != nil {
		return nil, err
	}

	var next *model.PlanQuestion
	for i := range questions {
		if !answered[questions[i].ID] {
			next = &questions[i]
			break
		}
	}

	content := "No more questions."
	if next != nil {
		content = next.Prompt
	}

	inv.state["attemptId"] = attempt.ID
	if next != nil {
		inv.state["currentQuestionId"] = next.ID
	} else {
		delete(inv.state, "currentQuestionId")
	}
	return &response{
		result: map[string]any{
			"attemptId": attempt.ID,
			"question":  next,
		},
		message: &SpokenMessage{Type: "request-complete", Content: content},
		state:   inv.state,
	}, nil
}
