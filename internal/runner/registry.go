package runner

import (
	"context"
	"log/slog"

	"github.com/pavelanni/examrunner/internal/model"
)

// Mode says whether a session counts toward the student's score.
type Mode string

const (
	ModeLive     Mode = "live"
	ModePractice Mode = "practice"
)

// AttemptStore is the persistence the runner needs for attempts.
type AttemptStore interface {
	AttemptUpdater
	// FindCompletedAttempt returns the terminal attempt for the pair, or nil.
	FindCompletedAttempt(ctx context.Context, examID string, studentID int64) (*model.Attempt, error)
	// CreateAttempt returns the single attempt row for the pair, inserting an
	// in-progress one if none exists.
	CreateAttempt(ctx context.Context, examID string, studentID int64) (*model.Attempt, error)
}

// Resolution is the registry's decision for one (exam, student) pair.
type Resolution struct {
	Mode      Mode
	AttemptID int64
	// Attempt is the live attempt, possibly resumed with saved answers.
	Attempt *model.Attempt

	PriorAttemptID int64
	PriorScore     float64
	PriorMaxScore  float64
}

// Registry decides between live and practice sessions.
type Registry struct {
	store AttemptStore
}

// NewRegistry creates a registry over store.
func NewRegistry(store AttemptStore) *Registry {
	return &Registry{store: store}
}

// Resolve returns practice mode when a terminal attempt exists and never creates a
// row in that case. Otherwise it creates or reuses the in-progress attempt.
func (r *Registry) Resolve(ctx context.Context, examID string, studentID int64) (Resolution, error) {
	prior, err := r.store.FindCompletedAttempt(ctx, examID, studentID)
	if err != nil {
		return Resolution{}, &model.PersistenceError{Op: "find completed attempt", Err: err}
	}
	if prior != nil {
		return practice(prior), nil
	}

	a, err := r.store.CreateAttempt(ctx, examID, studentID)
	if err != nil {
		return Resolution{}, &model.PersistenceError{Op: "create attempt", Err: err}
	}
	// A concurrent session may have finished the attempt between the two calls.
	if a.Status.Terminal() {
		return practice(a), nil
	}

	slog.Debug("live attempt resolved", "exam_id", examID, "student_id", studentID, "attempt_id", a.ID)
	return Resolution{Mode: ModeLive, AttemptID: a.ID, Attempt: a}, nil
}

func practice(a *model.Attempt) Resolution {
	return Resolution{
		Mode:           ModePractice,
		PriorAttemptID: a.ID,
		PriorScore:     a.TotalScore,
		PriorMaxScore:  a.MaxScore,
	}
}
