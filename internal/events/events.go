// Package events publishes attempt lifecycle events to RabbitMQ and the event log.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Type is the routing key of an event.
type Type string

const (
	AttemptStarted   Type = "attempt.started"
	AttemptCompleted Type = "attempt.completed"
	AttemptGraded    Type = "attempt.graded"
)

// Event describes something that happened to an attempt.
type Event struct {
	Type       Type      `json:"type"`
	ExamID     string    `json:"exam_id"`
	AttemptID  int64     `json:"attempt_id,omitempty"`
	StudentID  int64     `json:"student_id"`
	Mode       string    `json:"mode,omitempty"`
	Trigger    string    `json:"trigger,omitempty"`
	TotalScore float64   `json:"total_score,omitempty"`
	MaxScore   float64   `json:"max_score,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sink appends encoded events to durable storage.
type Sink interface {
	AppendEvent(ctx context.Context, eventType string, payload []byte) error
}

// LogPublisher writes events to a Sink such as the store's event_log table.
type LogPublisher struct {
	sink Sink
}

// NewLogPublisher creates a publisher that records events in sink.
func NewLogPublisher(sink Sink) *LogPublisher {
	return &LogPublisher{sink: sink}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.sink.AppendEvent(ctx, string(e.Type), payload); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	slog.Debug("event logged", "type", e.Type, "attempt_id", e.AttemptID)
	return nil
}
