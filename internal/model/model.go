package model

import "time"

// AttemptStatus represents the lifecycle state of an exam attempt.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// AnonymousAssignee is recorded when an attempt is created without a
// resolvable learner email.
const AnonymousAssignee = "anonymous"

// Exam is the authored exam: free-text objectives and rubric plus an
// optional generated plan.
type Exam struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Objectives string    `json:"objectives"`
	Rubric     string    `json:"rubric"`
	Plan       *Plan     `json:"plan,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Plan is the generated outline and question list attached to an exam.
type Plan struct {
	Outline       []OutlineSection `json:"outline" validate:"min=1,dive"`
	Questions     []PlanQuestion   `json:"questions" validate:"min=3,max=12,dive"`
	RubricSummary string           `json:"rubricSummary" validate:"required"`
	Objectives    string           `json:"objectives" validate:"min=10"`
	Rubric        string           `json:"rubric" validate:"min=10"`
}

// OutlineSection is one section of a plan outline.
type OutlineSection struct {
	Title   string `json:"title" validate:"required"`
	Summary string `json:"summary,omitempty"`
}

// PlanQuestion is one question in a generated plan. Question identifiers
// are strings chosen by the generator, stable within the plan.
type PlanQuestion struct {
	ID         string `json:"id" validate:"required"`
	Prompt     string `json:"prompt" validate:"required"`
	Competency string `json:"competency,omitempty"`
}

// Document is a source document uploaded for an exam. Text holds the
// extracted content once a plan job has processed the file.
type Document struct {
	ID       int64   `json:"id"`
	ExamID   int64   `json:"examId"`
	Name     string  `json:"name"`
	MimeType string  `json:"mimeType"`
	URL      string  `json:"url"`
	Text     *string `json:"text,omitempty"`
}

// Assignment binds an exam to a learner identifier. Only the most recent
// assignment per assignee matters for identity resolution.
type Assignment struct {
	ID        int64     `json:"id"`
	ExamID    int64     `json:"examId"`
	Assignee  string    `json:"assignee"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attempt is one learner's run through an exam.
type Attempt struct {
	ID          int64         `json:"id"`
	ExamID      int64         `json:"examId"`
	Assignee    string        `json:"assignee"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	TotalScore  *float64      `json:"totalScore,omitempty"`
}

// Answer is one scored response within an attempt. Score is an integer
// in [0,5].
type Answer struct {
	ID         int64     `json:"id"`
	AttemptID  int64     `json:"attemptId"`
	QuestionID string    `json:"questionId"`
	Prompt     string    `json:"prompt"`
	AnswerText string    `json:"answerText"`
	Score      int       `json:"score"`
	Rationale  string    `json:"rationale"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Transcript is one append-only transcript line for an attempt.
type Transcript struct {
	ID        int64     `json:"id"`
	AttemptID int64     `json:"attemptId"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	TS        time.Time `json:"ts"`
}

// AttemptSummary is an attempt with answer/transcript counts for listing.
type AttemptSummary struct {
	Attempt
	AnswerCount     int `json:"answerCount"`
	TranscriptCount int `json:"transcriptCount"`
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	Addr         string
	DBPath       string
	LLMURL       string
	LLMKey       string
	LLMModel     string
	ScoreTimeout time.Duration
}
