package runner

import (
	"sync"

	"github.com/pavelanni/examrunner/internal/model"
)

// AnswerStore holds the latest answer per question for one session.
// Reads always observe the most recent Set, from any goroutine.
type AnswerStore struct {
	mu      sync.RWMutex
	answers model.Answers
}

// NewAnswerStore creates a store seeded with prior answers, if any.
func NewAnswerStore(initial model.Answers) *AnswerStore {
	s := &AnswerStore{answers: make(model.Answers, len(initial))}
	for id, a := range initial {
		if a != nil {
			s.answers[id] = a
		}
	}
	return s
}

// Set overwrites the answer for questionID. A nil answer clears it.
func (s *AnswerStore) Set(questionID string, a model.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a == nil {
		delete(s.answers, questionID)
		return
	}
	s.answers[questionID] = a
}

// Get returns the answer for questionID, or nil.
func (s *AnswerStore) Get(questionID string) model.Answer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers[questionID]
}

// Count returns the number of distinct answered questions.
func (s *AnswerStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}

// Snapshot returns a copy of the current answers.
func (s *AnswerStore) Snapshot() model.Answers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answers.Clone()
}
