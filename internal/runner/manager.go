package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/metrics"
	"github.com/pavelanni/examrunner/internal/model"
)

// DefinitionLoader loads normalized exam definitions.
type DefinitionLoader interface {
	Load(ctx context.Context, examID string) (*model.ExamDefinition, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	SubmitTimeout time.Duration
	// Retention is how long a finished session stays addressable. Zero means 10 minutes.
	Retention time.Duration
	Events    events.Publisher
}

type ownerKey struct {
	examID    string
	studentID int64
}

// Manager holds the open sessions of the process.
type Manager struct {
	loader   DefinitionLoader
	registry *Registry
	store    AttemptStore
	opts     ManagerOptions

	mu       sync.Mutex
	sessions map[string]*Session
	owners   map[ownerKey]*Session
	reapers  map[string]*time.Timer
}

// NewManager creates a manager.
func NewManager(loader DefinitionLoader, store AttemptStore, opts ManagerOptions) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = 10 * time.Minute
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Manager{
		loader:   loader,
		registry: NewRegistry(store),
		store:    store,
		opts:     opts,
		sessions: make(map[string]*Session),
		owners:   make(map[ownerKey]*Session),
		reapers:  make(map[string]*time.Timer),
	}
}

// Start returns the open session of user for examID, or loads the exam, resolves
// the attempt and starts a new one. Anonymous users get model.ErrAuthRequired.
func (m *Manager) Start(ctx context.Context, examID string, user *model.User) (*Session, error) {
	if user == nil {
		return nil, model.ErrAuthRequired
	}
	key := ownerKey{examID: examID, studentID: user.ID}

	m.mu.Lock()
	if s, ok := m.owners[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	def, err := m.loader.Load(ctx, examID)
	if err != nil {
		return nil, err
	}
	res, err := m.registry.Resolve(ctx, examID, user.ID)
	if err != nil {
		return nil, err
	}

	s := NewSession(def, user.ID, res, m.store, SessionOptions{
		SubmitTimeout: m.opts.SubmitTimeout,
		Events:        m.opts.Events,
	})
	s.onFinish = m.finished

	m.mu.Lock()
	if existing, ok := m.owners[key]; ok {
		// A concurrent Start for the same pair won; both resolved to the same attempt.
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[s.ID] = s
	m.owners[key] = s
	metrics.ActiveSessions.Inc()
	m.mu.Unlock()

	s.Start()
	metrics.SessionsStarted.WithLabelValues(string(res.Mode)).Inc()
	slog.Info("session started",
		"session_id", s.ID,
		"exam_id", examID,
		"student_id", user.ID,
		"mode", res.Mode,
		"attempt_id", res.AttemptID,
	)

	if res.Mode == ModeLive {
		err := m.opts.Events.Publish(ctx, events.Event{
			Type:       events.AttemptStarted,
			ExamID:     examID,
			AttemptID:  res.AttemptID,
			StudentID:  user.ID,
			Mode:       string(res.Mode),
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			slog.Warn("publish attempt event", "attempt_id", res.AttemptID, "error", err)
		}
	}
	return s, nil
}

// Get returns a session by id, including recently finished ones.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears a session down and forgets it. It reports whether the session existed.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.forget(s)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of sessions held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
		m.forget(s)
	}
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
	slog.Info("runner sessions closed", "count", len(all))
}

// finished releases the owner slot so the next Start resolves afresh, and keeps
// the session addressable for the retention period. A retained session no
// longer counts as active.
func (m *Manager) finished(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ownerKey{examID: s.Definition.ID, studentID: s.StudentID}
	if m.owners[key] == s {
		delete(m.owners, key)
	}
	if _, ok := m.sessions[s.ID]; !ok {
		return
	}
	if _, ok := m.reapers[s.ID]; ok {
		return
	}
	metrics.ActiveSessions.Dec()
	m.reapers[s.ID] = time.AfterFunc(m.opts.Retention, func() {
		m.Close(s.ID)
	})
}

// forget removes s from every index. m.mu must be held.
func (m *Manager) forget(s *Session) {
	if _, ok := m.sessions[s.ID]; !ok {
		return
	}
	delete(m.sessions, s.ID)
	key := ownerKey{examID: s.Definition.ID, studentID: s.StudentID}
	if m.owners[key] == s {
		delete(m.owners, key)
	}
	if t, ok := m.reapers[s.ID]; ok {
		// Already uncounted by finished.
		t.Stop()
		delete(m.reapers, s.ID)
		return
	}
	metrics.ActiveSessions.Dec()
}

