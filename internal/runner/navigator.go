package runner

import (
	"errors"
	"fmt"
	"sync"
)

// ErrSectionOutOfRange is returned by JumpTo for an index outside the exam.
var ErrSectionOutOfRange = errors.New("section index out of range")

// Navigator tracks the current section. It never touches answers.
type Navigator struct {
	mu      sync.Mutex
	current int
	count   int
}

// NewNavigator creates a navigator over count sections, starting at the first.
func NewNavigator(count int) *Navigator {
	return &Navigator{count: count}
}

// Current returns the current section index.
func (n *Navigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Count returns the number of sections.
func (n *Navigator) Count() int { return n.count }

// Next moves forward one section; no-op on the last.
func (n *Navigator) Next() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current < n.count-1 {
		n.current++
	}
	return n.current
}

// Previous moves back one section; no-op on the first.
func (n *Navigator) Previous() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current > 0 {
		n.current--
	}
	return n.current
}

// JumpTo moves directly to index.
func (n *Navigator) JumpTo(index int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if index < 0 || index >= n.count {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSectionOutOfRange, index, n.count)
	}
	n.current = index
	return nil
}
