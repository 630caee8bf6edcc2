package model

import (
	"encoding/json"
	"time"
)

// ExamExport is the top-level JSON structure for attempt result export.
type ExamExport struct {
	ExamID     string          `json:"exam_id"`
	Title      string          `json:"title"`
	ExportedAt time.Time       `json:"exported_at"`
	MaxScore   float64         `json:"max_score"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's attempt for export.
type StudentResult struct {
	AttemptID   int64            `json:"attempt_id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Status      AttemptStatus    `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	TotalScore  float64          `json:"total_score"`
	MaxScore    float64          `json:"max_score"`
	Passed      *bool            `json:"passed,omitempty"`
	Questions   []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question grading data for export and review.
type QuestionResult struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
	Points     float64      `json:"points"`
	Awarded    float64      `json:"awarded"`
	Outcome    Outcome      `json:"outcome"`
	Answer     Answer       `json:"answer,omitempty"`
}

// UnmarshalJSON decodes the answer through ParseAnswer.
func (q *QuestionResult) UnmarshalJSON(data []byte) error {
	type plain QuestionResult
	aux := struct {
		*plain
		Answer json.RawMessage `json:"answer,omitempty"`
	}{plain: (*plain)(q)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	q.Answer = nil
	if len(aux.Answer) == 0 || string(aux.Answer) == "null" {
		return nil
	}
	a, err := ParseAnswer(aux.Answer)
	if err != nil {
		return err
	}
	q.Answer = a
	return nil
}
