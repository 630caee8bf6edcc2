package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/scoring"
)

// State is the submission state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed" // last persist failed; submit may be retried
)

// Trigger names what started a submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimeout Trigger = "timeout"
)

// SubmitStatus describes what a Submit call did.
type SubmitStatus string

const (
	SubmitSubmitted    SubmitStatus = "submitted"     // scored and persisted
	SubmitSkipped      SubmitStatus = "skipped"       // another submission owns the session
	SubmitPractice     SubmitStatus = "practice"      // routed to prior results without writing
	SubmitAlreadyFinal SubmitStatus = "already_final" // store already held a terminal attempt
)

// Submission is the outcome of one Submit call.
type Submission struct {
	Status  SubmitStatus
	Trigger Trigger
	Result  *scoring.Result
	Target  ResultsTarget
}

// ResultsTarget identifies the results view to show after submission.
type ResultsTarget struct {
	AttemptID     int64   `json:"attempt_id,omitempty"`
	Practice      bool    `json:"practice,omitempty"`
	PriorScore    float64 `json:"prior_score,omitempty"`
	PriorMaxScore float64 `json:"prior_max_score,omitempty"`
}

// Navigation receives the hand-off to the results view.
type Navigation interface {
	GoToResults(examID string, target ResultsTarget)
}

// AttemptUpdater persists the final state of a live attempt.
type AttemptUpdater interface {
	UpdateAttempt(ctx context.Context, attemptID int64, patch model.AttemptPatch) error
}

// Coordinator runs the final transition of a session at most once.
// Every trigger goes through Submit's single-flight guard.
type Coordinator struct {
	def     *model.ExamDefinition
	res     Resolution
	answers *AnswerStore
	store   AttemptUpdater
	nav     Navigation
	now     func() time.Time

	mu     sync.Mutex
	state  State
	closed bool
}

// NewCoordinator wires a coordinator for one session. answers is re-read on every submit.
func NewCoordinator(def *model.ExamDefinition, res Resolution, answers *AnswerStore, store AttemptUpdater, nav Navigation) *Coordinator {
	return &Coordinator{
		def:     def,
		res:     res,
		answers: answers,
		store:   store,
		nav:     nav,
		now:     time.Now,
		state:   StateIdle,
	}
}

// State returns the current submission state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close makes every later Submit a no-op. An in-flight submission still completes.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Submit scores and persists the attempt, or routes a practice session to its prior
// results. Calls made while a submission is in flight or after completion are skipped.
// A failed persist leaves the answers intact and returns a *model.PersistenceError.
func (c *Coordinator) Submit(ctx context.Context, trigger Trigger) (Submission, error) {
	c.mu.Lock()
	if c.closed || c.state == StateSubmitting || c.state == StateCompleted {
		c.mu.Unlock()
		return Submission{Status: SubmitSkipped, Trigger: trigger}, nil
	}

	if c.res.Mode == ModePractice {
		c.state = StateCompleted
		c.mu.Unlock()
		target := ResultsTarget{Practice: true, PriorScore: c.res.PriorScore, PriorMaxScore: c.res.PriorMaxScore}
		c.nav.GoToResults(c.def.ID, target)
		return Submission{Status: SubmitPractice, Trigger: trigger, Target: target}, nil
	}
	if c.res.AttemptID == 0 {
		c.mu.Unlock()
		return Submission{Status: SubmitSkipped, Trigger: trigger}, nil
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	answers := c.answers.Snapshot()
	result := scoring.Score(c.def, answers)
	err := c.store.UpdateAttempt(ctx, c.res.AttemptID, model.AttemptPatch{
		Answers:     answers,
		TotalScore:  result.TotalScore,
		MaxScore:    result.MaxScore,
		Status:      model.StatusCompleted,
		CompletedAt: c.now().UTC(),
	})

	status := SubmitSubmitted
	if errors.Is(err, model.ErrAttemptFinalized) {
		slog.Warn("attempt already finalized, skipping write", "attempt_id", c.res.AttemptID)
		status = SubmitAlreadyFinal
		err = nil
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return Submission{}, &model.PersistenceError{Op: "update attempt", Err: err}
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.mu.Unlock()

	target := ResultsTarget{AttemptID: c.res.AttemptID}
	c.nav.GoToResults(c.def.ID, target)
	sub := Submission{Status: status, Trigger: trigger, Target: target}
	if status == SubmitSubmitted {
		sub.Result = &result
	}
	return sub, nil
}
