// Package exam loads stored exam records and normalizes them into definitions.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examrunner/internal/model"
)

// Source fetches raw exam records. A nil record with a nil error means not found.
type Source interface {
	GetExam(ctx context.Context, id string) ([]byte, error)
}

// Loader turns exam ids into normalized definitions.
type Loader struct {
	src Source
}

// NewLoader creates a loader reading from src.
func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

// Load fetches and normalizes an exam. It returns model.ErrExamNotFound when no record
// matches and an error wrapping model.ErrMalformedDefinition when the record is unusable.
func (l *Loader) Load(ctx context.Context, id string) (*model.ExamDefinition, error) {
	raw, err := l.src.GetExam(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrExamNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch exam %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("exam %s: %w", id, model.ErrExamNotFound)
	}

	def, err := Normalize(id, raw)
	if err != nil {
		return nil, err
	}
	slog.Debug("exam loaded", "exam_id", id, "sections", len(def.Sections), "questions", len(def.Questions()))
	return def, nil
}
