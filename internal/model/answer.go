package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidAnswer is returned when an answer value cannot be decoded or violates its shape.
var ErrInvalidAnswer = errors.New("invalid answer")

// AnswerKind identifies the shape of an answer value.
type AnswerKind string

const (
	AnswerChoice AnswerKind = "choice" // selected option index
	AnswerPair   AnswerKind = "pair"   // up to two selected option indices
	AnswerText   AnswerKind = "text"   // free text
)

// Answer is a submitted answer value. The set of implementations is closed.
type Answer interface {
	Kind() AnswerKind
}

// ChoiceAnswer is the selected option index of a single-choice question.
type ChoiceAnswer int

func (ChoiceAnswer) Kind() AnswerKind { return AnswerChoice }

// TextAnswer is a free-text answer.
type TextAnswer string

func (TextAnswer) Kind() AnswerKind { return AnswerText }

// PairAnswer is a chooseTwo selection. It never holds more than two distinct indices.
type PairAnswer struct {
	picks []int
}

func (PairAnswer) Kind() AnswerKind { return AnswerPair }

// NewPairAnswer builds a selection from at most two distinct, non-negative indices.
func NewPairAnswer(indices ...int) (PairAnswer, error) {
	if len(indices) > 2 {
		return PairAnswer{}, fmt.Errorf("%w: chooseTwo accepts at most 2 selections, got %d", ErrInvalidAnswer, len(indices))
	}
	var p PairAnswer
	for _, i := range indices {
		if i < 0 {
			return PairAnswer{}, fmt.Errorf("%w: negative option index %d", ErrInvalidAnswer, i)
		}
		if slices.Contains(p.picks, i) {
			return PairAnswer{}, fmt.Errorf("%w: duplicate option index %d", ErrInvalidAnswer, i)
		}
		p.picks = append(p.picks, i)
	}
	return p, nil
}

// Toggle deselects index if selected, otherwise selects it unless two are already chosen.
func (p PairAnswer) Toggle(index int) PairAnswer {
	if pos := slices.Index(p.picks, index); pos >= 0 {
		return PairAnswer{picks: slices.Delete(slices.Clone(p.picks), pos, pos+1)}
	}
	if len(p.picks) >= 2 || index < 0 {
		return p
	}
	return PairAnswer{picks: append(slices.Clone(p.picks), index)}
}

// Indices returns a copy of the selected indices in selection order.
func (p PairAnswer) Indices() []int {
	return slices.Clone(p.picks)
}

// MarshalJSON encodes the selection as a JSON array.
func (p PairAnswer) MarshalJSON() ([]byte, error) {
	if p.picks == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.picks)
}

// ParseAnswer decodes a JSON answer value: a number, an array of numbers, or a string.
func ParseAnswer(raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidAnswer)
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		return TextAnswer(s), nil
	case '[':
		var nums []float64
		if err := json.Unmarshal(raw, &nums); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		indices := make([]int, 0, len(nums))
		for _, n := range nums {
			i, err := wholeIndex(n)
			if err != nil {
				return nil, err
			}
			indices = append(indices, i)
		}
		return NewPairAnswer(indices...)
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, err)
		}
		i, err := wholeIndex(n)
		if err != nil {
			return nil, err
		}
		return ChoiceAnswer(i), nil
	}
}

func wholeIndex(n float64) (int, error) {
	if n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: option index must be a non-negative integer, got %v", ErrInvalidAnswer, n)
	}
	return int(n), nil
}

// Answers maps question id to the latest answer value.
type Answers map[string]Answer

// Clone returns a shallow copy; answer values are immutable.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// UnmarshalJSON decodes an object of question id to answer value.
func (a *Answers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Answers, len(raw))
	for id, v := range raw {
		ans, err := ParseAnswer(v)
		if err != nil {
			return fmt.Errorf("answer %q: %w", id, err)
		}
		out[id] = ans
	}
	*a = out
	return nil
}
