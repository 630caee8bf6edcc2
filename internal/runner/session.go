// Package runner drives one student's timed pass through an exam.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/metrics"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/scoring"
)

var (
	// ErrUnknownQuestion is returned when an answer names a question the exam does not have.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrAnswerKind is returned when an answer's shape does not fit its question.
	ErrAnswerKind = errors.New("answer does not fit question type")
	// ErrSessionFinished is returned for writes after submission or teardown.
	ErrSessionFinished = errors.New("session finished")
)

// Session owns the runtime state of one (exam, student) pass.
type Session struct {
	ID         string
	Definition *model.ExamDefinition
	StudentID  int64
	Resolution Resolution
	CreatedAt  time.Time

	answers *AnswerStore
	nav     *Navigator
	timer   *Timer
	coord   *Coordinator
	events  events.Publisher

	submitTimeout time.Duration
	onFinish      func(*Session)

	mu       sync.Mutex
	target   *ResultsTarget
	result   *scoring.Result
	lastErr  error
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
}

// SessionOptions tunes a session.
type SessionOptions struct {
	// SubmitTimeout bounds a timer-triggered submit. Zero means 30 seconds.
	SubmitTimeout time.Duration
	Events        events.Publisher
	// Now is used to resume the countdown of a live attempt from its start time.
	Now func() time.Time
}

// NewSession builds a session. The timer is not started until Start.
func NewSession(def *model.ExamDefinition, studentID int64, res Resolution, store AttemptUpdater, opts SessionOptions) *Session {
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 30 * time.Second
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	var initial model.Answers
	if res.Attempt != nil {
		initial = res.Attempt.Answers
	}

	s := &Session{
		ID:            uuid.NewString(),
		Definition:    def,
		StudentID:     studentID,
		Resolution:    res,
		CreatedAt:     opts.Now(),
		answers:       NewAnswerStore(initial),
		nav:           NewNavigator(len(def.Sections)),
		events:        opts.Events,
		submitTimeout: opts.SubmitTimeout,
		done:          make(chan struct{}),
	}
	s.coord = NewCoordinator(def, res, s.answers, store, s)
	s.timer = NewTimer(def.DurationMinutes, s.expire)
	if res.Mode == ModeLive && res.Attempt != nil && !res.Attempt.StartedAt.IsZero() {
		s.timer.Advance(opts.Now().Sub(res.Attempt.StartedAt))
	}
	return s
}

// Start begins the countdown, if the exam is timed.
func (s *Session) Start() {
	s.timer.Start()
}

// Mode returns live or practice.
func (s *Session) Mode() Mode { return s.Resolution.Mode }

// Navigator returns the session's section navigator.
func (s *Session) Navigator() *Navigator { return s.nav }

// Answers returns a copy of the current answers.
func (s *Session) Answers() model.Answers { return s.answers.Snapshot() }

// SetAnswer records the latest answer for a question. A nil answer clears it.
func (s *Session) SetAnswer(questionID string, a model.Answer) error {
	if s.finished() {
		return ErrSessionFinished
	}
	q, ok := s.Definition.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if a != nil && !q.Accepts(a.Kind()) {
		return fmt.Errorf("%w: %s answer for %s question %s", ErrAnswerKind, a.Kind(), q.Type(), questionID)
	}
	s.answers.Set(questionID, a)
	return nil
}

// Submit routes a trigger through the coordinator. Live submissions publish an
// attempt.completed event and record metrics.
func (s *Session) Submit(ctx context.Context, trigger Trigger) (Submission, error) {
	start := time.Now()
	sub, err := s.coord.Submit(ctx, trigger)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		metrics.Submissions.WithLabelValues(string(trigger), "failed").Inc()
		return sub, err
	}
	metrics.Submissions.WithLabelValues(string(trigger), string(sub.Status)).Inc()

	if sub.Status != SubmitSubmitted {
		return sub, nil
	}
	metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if sub.Result.MaxScore > 0 {
		metrics.ScoreRatio.Observe(sub.Result.TotalScore / sub.Result.MaxScore)
	}

	s.mu.Lock()
	s.result = sub.Result
	s.lastErr = nil
	s.mu.Unlock()

	slog.Info("attempt submitted",
		"session_id", s.ID,
		"exam_id", s.Definition.ID,
		"attempt_id", s.Resolution.AttemptID,
		"trigger", trigger,
		"total_score", sub.Result.TotalScore,
		"max_score", sub.Result.MaxScore,
	)
	err = s.events.Publish(ctx, events.Event{
		Type:       events.AttemptCompleted,
		ExamID:     s.Definition.ID,
		AttemptID:  s.Resolution.AttemptID,
		StudentID:  s.StudentID,
		Mode:       string(ModeLive),
		Trigger:    string(trigger),
		TotalScore: sub.Result.TotalScore,
		MaxScore:   sub.Result.MaxScore,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("publish attempt event", "attempt_id", s.Resolution.AttemptID, "error", err)
	}
	return sub, nil
}

// expire is the timer callback. It reads answers at call time through the store.
func (s *Session) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()
	if _, err := s.Submit(ctx, TriggerTimeout); err != nil {
		slog.Error("auto-submit failed", "session_id", s.ID, "attempt_id", s.Resolution.AttemptID, "error", err)
	}
}

// GoToResults records the results target and signals Done.
func (s *Session) GoToResults(examID string, target ResultsTarget) {
	s.mu.Lock()
	s.target = &target
	s.mu.Unlock()
	s.timer.Stop()
	s.doneOnce.Do(func() {
		close(s.done)
		if s.onFinish != nil {
			s.onFinish(s)
		}
	})
	slog.Debug("session routed to results", "session_id", s.ID, "exam_id", examID, "practice", target.Practice)
}

// Done is closed once the session has handed off to results.
func (s *Session) Done() <-chan struct{} { return s.done }

// Results returns the results target, or nil before submission.
func (s *Session) Results() *ResultsTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return nil
	}
	t := *s.target
	return &t
}

// Result returns the score computed by this session's live submission, if any.
func (s *Session) Result() *scoring.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Close tears the session down. The timer stops and later triggers are no-ops.
func (s *Session) Close() {
	s.timer.Stop()
	s.coord.Close()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Session) finished() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return true
	}
	switch s.coord.State() {
	case StateSubmitting, StateCompleted:
		return true
	}
	return false
}

// SessionState is a point-in-time view of a session for clients.
type SessionState struct {
	ID            string         `json:"id"`
	ExamID        string         `json:"exam_id"`
	Mode          Mode           `json:"mode"`
	State         State          `json:"state"`
	Section       int            `json:"section"`
	SectionCount  int            `json:"section_count"`
	Timed         bool           `json:"timed"`
	RemainingSecs int            `json:"remaining_seconds"`
	Answered      int            `json:"answered"`
	QuestionCount int            `json:"question_count"`
	Results       *ResultsTarget `json:"results,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
}

// State returns a snapshot of the session.
func (s *Session) State() SessionState {
	st := SessionState{
		ID:            s.ID,
		ExamID:        s.Definition.ID,
		Mode:          s.Resolution.Mode,
		State:         s.coord.State(),
		Section:       s.nav.Current(),
		SectionCount:  s.nav.Count(),
		Timed:         s.timer.Enabled(),
		RemainingSecs: int(s.timer.Remaining() / time.Second),
		Answered:      s.answers.Count(),
		QuestionCount: len(s.Definition.Questions()),
		Results:       s.Results(),
	}
	s.mu.Lock()
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()
	return st
}
