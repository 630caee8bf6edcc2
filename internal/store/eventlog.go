package store

import (
	"context"
	"time"
)

// EventRecord is one row of the event log.
type EventRecord struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvent adds an encoded event to the log.
func (s *Store) AppendEvent(ctx context.Context, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO event_log (typ, data, created_at) VALUES (?, ?, ?)`),
		eventType, string(payload), time.Now().UTC(),
	)
	return err
}

// ListEvents returns up to limit events with id greater than afterID, oldest first.
func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, typ, data, created_at FROM event_log WHERE id > ? ORDER BY id LIMIT ?`),
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
