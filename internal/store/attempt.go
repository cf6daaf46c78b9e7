package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/vivavoce/internal/model"
)

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(id int64) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRow(
		`SELECT id, exam_id, assignee, status, started_at, completed_at, total_score
		 FROM attempts WHERE id = ?`, id,
	))
}

// FindOrCreateAttempt returns the most recent in-progress attempt for
// the (exam, assignee) pair, creating one if none exists. The lookup and
// insert run in one transaction, and a partial unique index on open
// attempts guarantees at most one in-progress row per pair even under
// concurrent callers.
func (s *Store) FindOrCreateAttempt(examID int64, assignee string) (model.Attempt, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Attempt{}, err
	}
	defer tx.Rollback()

	attempt, err := scanAttempt(openAttemptRow(tx, examID, assignee))
	if err == nil {
		return attempt, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return model.Attempt{}, err
	}

	_, err = tx.Exec(
		`INSERT INTO attempts (exam_id, assignee, status, started_at)
		 VALUES (?, ?, 'in_progress', ?)
		 ON CONFLICT (exam_id, assignee) WHERE status = 'in_progress' DO NOTHING`,
		examID, assignee, time.Now(),
	)
	if err != nil {
		return model.Attempt{}, err
	}

	attempt, err = scanAttempt(openAttemptRow(tx, examID, assignee))
	if err != nil {
		return model.Attempt{}, err
	}
	return attempt, tx.Commit()
}

func openAttemptRow(tx *sql.Tx, examID int64, assignee string) *sql.Row {
	return tx.QueryRow(
		`SELECT id, exam_id, assignee, status, started_at, completed_at, total_score
		 FROM attempts WHERE exam_id = ? AND assignee = ? AND status = 'in_progress'
		 ORDER BY started_at DESC, id DESC LIMIT 1`,
		examID, assignee,
	)
}

// FinalizeAttempt marks an attempt completed with the given total score.
// Finalizing an already completed attempt updates the score in place;
// the status never moves back to in_progress.
func (s *Store) FinalizeAttempt(id int64, totalScore float64) (model.Attempt, error) {
	_, err := s.db.Exec(
		`UPDATE attempts SET status = 'completed', completed_at = ?, total_score = ? WHERE id = ?`,
		time.Now(), totalScore, id,
	)
	if err != nil {
		return model.Attempt{}, err
	}
	return s.GetAttempt(id)
}

// ListAttempts returns the latest attempts for an exam, newest first,
// optionally filtered by assignee, with answer and transcript counts.
func (s *Store) ListAttempts(examID int64, assignee string, limit int) ([]model.AttemptSummary, error) {
	query := `SELECT a.id, a.exam_id, a.assignee, a.status, a.started_at, a.completed_at, a.total_score,
			(SELECT COUNT(*) FROM answers WHERE attempt_id = a.id),
			(SELECT COUNT(*) FROM transcripts WHERE attempt_id = a.id)
		 FROM attempts a WHERE a.exam_id = ?`
	args := []any{examID}
	if assignee != "" {
		query += ` AND a.assignee = ?`
		args = append(args, assignee)
	}
	query += ` ORDER BY a.started_at DESC, a.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.AttemptSummary
	for rows.Next() {
		var a model.AttemptSummary
		if err := rows.Scan(&a.ID, &a.ExamID, &a.Assignee, &a.Status, &a.StartedAt,
			&a.CompletedAt, &a.TotalScore, &a.AnswerCount, &a.TranscriptCount); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CreateAnswer stores a scored answer.
func (s *Store) CreateAnswer(a model.Answer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO answers (attempt_id, question_id, prompt, answer_text, score, rationale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.AttemptID, a.QuestionID, a.Prompt, a.AnswerText, a.Score, a.Rationale, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAnswers returns all answers for an attempt.
func (s *Store) ListAnswers(attemptID int64) ([]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, attempt_id, question_id, prompt, answer_text, score, rationale, created_at
		 FROM answers WHERE attempt_id = ? ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.Prompt, &a.AnswerText,
			&a.Score, &a.Rationale, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// AnsweredQuestionIDs returns the set of question IDs already answered
// in an attempt.
func (s *Store) AnsweredQuestionIDs(attemptID int64) (map[string]bool, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT question_id FROM answers WHERE attempt_id = ?`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answered := make(map[string]bool)
	for rows.Next() {
		var qid string
		if err := rows.Scan(&qid); err != nil {
			return nil, err
		}
		answered[qid] = true
	}
	return answered, rows.Err()
}

// CreateTranscript appends a transcript line.
func (s *Store) CreateTranscript(t model.Transcript) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO transcripts (attempt_id, role, text, ts) VALUES (?, ?, ?, ?)`,
		t.AttemptID, t.Role, t.Text, t.TS,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListTranscripts returns all transcript lines for an attempt in order.
func (s *Store) ListTranscripts(attemptID int64) ([]model.Transcript, error) {
	rows, err := s.db.Query(
		`SELECT id, attempt_id, role, text, ts FROM transcripts WHERE attempt_id = ? ORDER BY id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var transcripts []model.Transcript
	for rows.Next() {
		var t model.Transcript
		if err := rows.Scan(&t.ID, &t.AttemptID, &t.Role, &t.Text, &t.TS); err != nil {
			return nil, err
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}

func scanAttempt(row *sql.Row) (model.Attempt, error) {
	var a model.Attempt
	err := row.Scan(&a.ID, &a.ExamID, &a.Assignee, &a.Status, &a.StartedAt, &a.CompletedAt, &a.TotalScore)
	return a, err
}
