package tools

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/pavelanni/vivavoce/internal/model"
)

var (
	// ErrExamNotResolved means neither an explicit exam ID nor an
	// assignment lookup produced an exam.
	ErrExamNotResolved = errors.New("could not resolve exam")
	// ErrMissingExam means an attempt could not be resolved because no
	// exam identity was available to anchor it.
	ErrMissingExam = errors.New("missing exam to resolve attempt")
)

// speechTokens maps spoken email punctuation to its written form. Each
// token is matched with surrounding spaces so words containing "at" or
// "dot" survive.
var speechTokens = []struct{ spoken, written string }{
	{" at ", "@"},
	{" dot ", "."},
	{" point ", "."},
	{" period ", "."},
	{" underscore ", "_"},
	{" dash ", "-"},
	{" hyphen ", "-"},
	{" plus ", "+"},
}

// domainProviders are provider names commonly transcribed with the
// trailing "com" glued on ("gmailcom").
var domainProviders = []string{"gmail", "yahoo", "outlook", "hotmail", "icloud", "example"}

// NormalizeEmail rewrites common speech-to-text artifacts of an email
// address: "sam at example dot com" becomes "sam@example.com". It is a
// lossy best-effort heuristic, idempotent, and never fails; empty input
// yields an empty string.
func NormalizeEmail(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	for _, t := range speechTokens {
		s = strings.ReplaceAll(s, t.spoken, t.written)
	}
	// Whatever whitespace survives the token pass cannot be part of a
	// valid address; collapse it away.
	s = strings.Join(strings.Fields(s), "")
	for _, p := range domainProviders {
		if strings.HasSuffix(s, p+"com") {
			s = strings.TrimSuffix(s, p+"com") + p + ".com"
			break
		}
	}
	return s
}

// resolveExamID maps identity hints to an exam. An explicit numeric
// exam ID always wins; otherwise the most recent assignment for the
// normalized email decides.
func (d *Dispatcher) resolveExamID(args identityArgs) (int64, error) {
	if args.ExamID.OK {
		return args.ExamID.Value, nil
	}
	if email := NormalizeEmail(args.Email); email != "" {
		examID, err := d.store.LatestAssignmentExamID(email)
		if err == nil {
			return examID, nil
		}
		if err != sql.ErrNoRows {
			return 0, err
		}
	}
	return 0, ErrExamNotResolved
}

// resolveAttempt anchors the call to an attempt. An explicit attempt ID
// is trusted as-is when the attempt exists (no ownership check against
// the exam or email). Otherwise the exam must already be resolved, and
// the attempt is found-or-created for (exam, assignee) in one
// transaction; without an email the anonymous placeholder is used.
func (d *Dispatcher) resolveAttempt(args identityArgs, examID int64) (model.Attempt, error) {
	if args.AttemptID.OK {
		attempt, err := d.store.GetAttempt(args.AttemptID.Value)
		if err == nil {
			return attempt, nil
		}
		if err != sql.ErrNoRows {
			return model.Attempt{}, err
		}
	}
	if examID == 0 {
		return model.Attempt{}, ErrMissingExam
	}
	assignee := NormalizeEmail(args.Email)
	if assignee == "" {
		assignee = model.AnonymousAssignee
	}
	return d.store.FindOrCreateAttempt(examID, assignee)
}
