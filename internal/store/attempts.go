package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examrunner/internal/model"
)

const attemptColumns = `id, exam_id, student_id, status, answers, total_score, max_score,
	manual_grades, started_at, completed_at, graded_by, graded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*model.Attempt, error) {
	var a model.Attempt
	var answers, manual string
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &answers, &a.TotalScore, &a.MaxScore,
		&manual, &a.StartedAt, &a.CompletedAt, &a.GradedBy, &a.GradedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of attempt %d: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(manual), &a.ManualGrade); err != nil {
		return nil, fmt.Errorf("decode manual grades of attempt %d: %w", a.ID, err)
	}
	return &a, nil
}

// FindCompletedAttempt returns the completed or graded attempt for a pair, or nil.
func (s *Store) FindCompletedAttempt(ctx context.Context, examID string, studentID int64) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE exam_id = ? AND student_id = ? AND status IN ('completed', 'graded')`),
		examID, studentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// CreateAttempt returns the attempt for a pair, inserting an in-progress one first if
// none exists. Concurrent callers converge on the same row through the unique index.
func (s *Store) CreateAttempt(ctx context.Context, examID string, studentID int64) (*model.Attempt, error) {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO attempts (exam_id, student_id, status, answers, manual_grades, started_at)
		 VALUES (?, ?, 'in_progress', '{}', '{}', ?)
		 ON CONFLICT (exam_id, student_id) DO NOTHING`),
		examID, studentID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	a, err := scanAttempt(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+attemptColumns+` FROM attempts WHERE exam_id = ? AND student_id = ?`),
		examID, studentID,
	))
	if err != nil {
		return nil, fmt.Errorf("read attempt: %w", err)
	}
	return a, nil
}

// UpdateAttempt writes the submission of an in-progress attempt. It returns
// model.ErrAttemptFinalized if the attempt is already terminal.
func (s *Store) UpdateAttempt(ctx context.Context, id int64, patch model.AttemptPatch) error {
	answers, err := json.Marshal(patch.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	if patch.Answers == nil {
		answers = []byte("{}")
	}
	status := patch.Status
	if status == "" {
		status = model.StatusCompleted
	}
	var completedAt *time.Time
	if !patch.CompletedAt.IsZero() {
		completedAt = &patch.CompletedAt
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE attempts SET answers = ?, total_score = ?, max_score = ?, status = ?, completed_at = ?
		 WHERE id = ? AND status = 'in_progress'`),
		string(answers), patch.TotalScore, patch.MaxScore, status, completedAt, id,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id, model.ErrAttemptFinalized)
}

// GradeAttempt records teacher-awarded points and moves a submitted attempt to graded.
func (s *Store) GradeAttempt(ctx context.Context, id int64, grades map[string]float64, totalScore float64, graderID int64) error {
	data, err := json.Marshal(grades)
	if err != nil {
		return fmt.Errorf("encode grades: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE attempts SET manual_grades = ?, total_score = ?, status = 'graded', graded_by = ?, graded_at = ?
		 WHERE id = ? AND status IN ('completed', 'graded')`),
		string(data), totalScore, graderID, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, id, model.ErrAttemptInProgress)
}

// checkTransition maps a conditional update that touched no rows to a not-found or
// wrong-state error.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id int64, wrongState error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT status FROM attempts WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %d: %w", id, model.ErrAttemptNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("attempt %d is %s: %w", id, status, wrongState)
}

// GetAttempt returns an attempt by ID, or nil if there is none.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// AttemptFilter narrows ListAttempts. Zero values mean no filtering on that field.
type AttemptFilter struct {
	ExamID    string
	StudentID int64
	Status    model.AttemptStatus
}

// ListAttempts returns attempts matching the filter, newest first.
func (s *Store) ListAttempts(ctx context.Context, f AttemptFilter) ([]model.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM attempts WHERE 1=1`
	var args []any
	if f.ExamID != "" {
		query += ` AND exam_id = ?`
		args = append(args, f.ExamID)
	}
	if f.StudentID != 0 {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
