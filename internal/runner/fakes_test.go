package runner

import (
	"context"
	"sync"
	"time"

	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/model"
)

// memStore is an in-memory AttemptStore with call counters.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	attempts map[int64]*model.Attempt
	creates  int
	updates  int
	failNext int           // fail this many UpdateAttempt calls
	block    chan struct{} // if set, UpdateAttempt waits on it
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[int64]*model.Attempt)}
}

func (m *memStore) FindCompletedAttempt(_ context.Context, examID string, studentID int64) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status.Terminal() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateAttempt(_ context.Context, examID string, studentID int64) (*model.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			cp := *a
			return &cp, nil
		}
	}
	m.creates++
	m.nextID++
	a := &model.Attempt{
		ID:        m.nextID,
		ExamID:    examID,
		StudentID: studentID,
		Status:    model.StatusInProgress,
		Answers:   model.Answers{},
		StartedAt: time.Now(),
	}
	m.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateAttempt(_ context.Context, id int64, patch model.AttemptPatch) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return errTransient
	}
	a, ok := m.attempts[id]
	if !ok {
		return model.ErrAttemptNotFound
	}
	if a.Status.Terminal() {
		return model.ErrAttemptFinalized
	}
	m.updates++
	a.Answers = patch.Answers
	a.TotalScore = patch.TotalScore
	a.MaxScore = patch.MaxScore
	a.Status = patch.Status
	at := patch.CompletedAt
	a.CompletedAt = &at
	return nil
}

func (m *memStore) counts() (creates, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.updates
}

func (m *memStore) attempt(id int64) model.Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.attempts[id]
}

type errString string

func (e errString) Error() string { return string(e) }

const errTransient = errString("database is locked")

// recordingNav records results hand-offs.
type recordingNav struct {
	mu      sync.Mutex
	targets []ResultsTarget
}

func (n *recordingNav) GoToResults(_ string, t ResultsTarget) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, t)
}

func (n *recordingNav) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.targets)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type staticLoader map[string]*model.ExamDefinition

func (l staticLoader) Load(_ context.Context, id string) (*model.ExamDefinition, error) {
	def, ok := l[id]
	if !ok {
		return nil, model.ErrExamNotFound
	}
	return def, nil
}

func minutes(n float64) *float64 { return &n }

// testExam has one mcq worth 5 points and a chooseTwo worth 2, in two sections.
func testExam(duration *float64) *model.ExamDefinition {
	return &model.ExamDefinition{
		ID:              "exam1",
		Title:           "Test exam",
		DurationMinutes: duration,
		Sections: []model.Section{
			{
				ID: "s1",
				Vocabulary: []model.Question{
					model.SingleChoice{ID: "q1", Kind: model.TypeMCQ, Options: []string{"A", "B"}, CorrectIndex: 1, Value: 5},
				},
			},
			{
				ID: "s2",
				ChooseTwo: []model.Question{
					model.ChooseTwo{ID: "q2", Options: []string{"a", "b", "c"}, CorrectIndices: [2]int{2, 1}, Value: 2},
				},
				Essay: []model.Question{
					model.FreeText{ID: "q3", Kind: model.TypeEssay, Value: 3},
				},
			},
		},
	}
}
