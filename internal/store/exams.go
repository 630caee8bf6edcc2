package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/examrunner/internal/model"
)

// PutExam inserts or replaces a raw exam definition.
func (s *Store) PutExam(ctx context.Context, rec model.ExamRecord) error {
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO exams (id, title, definition, source_hash, imported_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, definition = EXCLUDED.definition,
		 source_hash = EXCLUDED.source_hash, imported_at = EXCLUDED.imported_at`),
		rec.ID, rec.Title, string(rec.Raw), rec.SourceHash, rec.ImportedAt,
	)
	return err
}

// GetExam returns the raw definition of an exam, or nil if there is none.
func (s *Store) GetExam(ctx context.Context, id string) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT definition FROM exams WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

// GetExamRecord returns an exam with its metadata, or nil if there is none.
func (s *Store) GetExamRecord(ctx context.Context, id string) (*model.ExamRecord, error) {
	var rec model.ExamRecord
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, title, definition, source_hash, imported_at FROM exams WHERE id = ?`), id,
	).Scan(&rec.ID, &rec.Title, &raw, &rec.SourceHash, &rec.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Raw = []byte(raw)
	return &rec, nil
}

// ListExams returns all exams without their definitions.
func (s *Store) ListExams(ctx context.Context) ([]model.ExamRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, source_hash, imported_at FROM exams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.ExamRecord
	for rows.Next() {
		var rec model.ExamRecord
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.SourceHash, &rec.ImportedAt); err != nil {
			return nil, err
		}
		exams = append(exams, rec)
	}
	return exams, rows.Err()
}

// ExamAttemptCount returns how many attempts reference an exam.
func (s *Store) ExamAttemptCount(ctx context.Context, examID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM attempts WHERE exam_id = ?`), examID).Scan(&count)
	return count, err
}
