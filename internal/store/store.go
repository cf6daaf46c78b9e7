package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/vivavoce/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	// _txlock=immediate makes every transaction take the write lock up
	// front, so find-or-create never hits a stale read snapshot.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		objectives TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		plan TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		text TEXT,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		assignee TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exam_id INTEGER NOT NULL,
		assignee TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		total_score REAL,
		FOREIGN KEY (exam_id) REFERENCES exams(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS attempts_open_idx
		ON attempts(exam_id, assignee) WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		answer_text TEXT NOT NULL,
		score INTEGER NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		ts DATETIME NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateExam stores an exam with its documents and an optional initial
// assignment, all in one transaction.
func (s *Store) CreateExam(exam model.Exam, docs []model.Document, assignee string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO exams (title, objectives, rubric, created_at) VALUES (?, ?, ?, ?)`,
		exam.Title, exam.Objectives, exam.Rubric, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, d := range docs {
		_, err := tx.Exec(
			`INSERT INTO documents (exam_id, name, mime_type, url) VALUES (?, ?, ?, ?)`,
			examID, d.Name, d.MimeType, d.URL,
		)
		if err != nil {
			return 0, err
		}
	}

	if assignee != "" {
		_, err := tx.Exec(
			`INSERT INTO assignments (exam_id, assignee, created_at) VALUES (?, ?, ?)`,
			examID, assignee, time.Now(),
		)
		if err != nil {
			return 0, err
		}
	}

	return examID, tx.Commit()
}

// GetExam returns an exam by ID, with its plan decoded.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	var e model.Exam
	var plan sql.NullString
	err := s.db.QueryRow(
		`SELECT id, title, objectives, rubric, plan, created_at FROM exams WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.Objectives, &e.Rubric, &plan, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	if plan.Valid && plan.String != "" {
		var p model.Plan
		if err := json.Unmarshal([]byte(plan.String), &p); err != nil {
			return e, fmt.Errorf("decode plan for exam %d: %w", id, err)
		}
		e.Plan = &p
	}
	return e, nil
}

// UpdateExamPlan stores a generated plan along with the objectives and
// rubric the generator settled on.
func (s *Store) UpdateExamPlan(id int64, plan *model.Plan, objectives, rubric string) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE exams SET plan = ?, objectives = ?, rubric = ? WHERE id = ?`,
		string(data), objectives, rubric, id,
	)
	return err
}

// CreateAssignment binds an exam to an assignee.
func (s *Store) CreateAssignment(examID int64, assignee string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO assignments (exam_id, assignee, created_at) VALUES (?, ?, ?)`,
		examID, assignee, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestAssignmentExamID returns the exam from the most recently created
// assignment for the given assignee. Returns sql.ErrNoRows if none exists.
func (s *Store) LatestAssignmentExamID(assignee string) (int64, error) {
	var examID int64
	err := s.db.QueryRow(
		`SELECT exam_id FROM assignments WHERE assignee = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		assignee,
	).Scan(&examID)
	return examID, err
}

// ListAssignments returns all assignments for an exam.
func (s *Store) ListAssignments(examID int64) ([]model.Assignment, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, assignee, created_at FROM assignments WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []model.Assignment
	for rows.Next() {
		var a model.Assignment
		if err := rows.Scan(&a.ID, &a.ExamID, &a.Assignee, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ListDocuments returns all documents for an exam.
func (s *Store) ListDocuments(examID int64) ([]model.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, name, mime_type, url, text FROM documents WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// DocumentsWithText returns an exam's documents that already have
// extracted text, for searching.
func (s *Store) DocumentsWithText(examID int64) ([]model.Document, error) {
	rows, err := s.db.Query(
		`SELECT id, exam_id, name, mime_type, url, text FROM documents
		 WHERE exam_id = ? AND text IS NOT NULL ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// UpdateDocumentText stores the extracted text for a document.
func (s *Store) UpdateDocumentText(docID int64, text string) error {
	_, err := s.db.Exec(`UPDATE documents SET text = ? WHERE id = ?`, text, docID)
	return err
}

func scanDocuments(rows *sql.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.ExamID, &d.Name, &d.MimeType, &d.URL, &d.Text); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
