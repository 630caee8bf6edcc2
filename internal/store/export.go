package store

import (
	"context"

	"github.com/pavelanni/examrunner/internal/model"
)

// ExportRow is an attempt joined with its student's names.
type ExportRow struct {
	Attempt     model.Attempt
	Username    string
	DisplayName string
}

// ExportRows returns the submitted attempts of an exam with student names, ordered by username.
func (s *Store) ExportRows(ctx context.Context, examID string) ([]ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT a.id, a.exam_id, a.student_id, a.status, a.answers, a.total_score, a.max_score,
			a.manual_grades, a.started_at, a.completed_at, a.graded_by, a.graded_at,
			u.username, u.display_name
		 FROM attempts a JOIN users u ON u.id = a.student_id
		 WHERE a.exam_id = ? AND a.status IN ('completed', 'graded')
		 ORDER BY u.username`),
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var row ExportRow
		a, err := scanAttempt(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &row.Username, &row.DisplayName)...)
		}))
		if err != nil {
			return nil, err
		}
		row.Attempt = *a
		out = append(out, row)
	}
	return out, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
