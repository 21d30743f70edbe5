package notify

import (
	"context"
	"fmt"

	"github.com/hackgods/hospital-scheduling/internal/appointment"
	"github.com/hackgods/hospital-scheduling/internal/db"
)

// EventStore is the outbox side of the event log.
type EventStore interface {
	FetchUnpublished(ctx context.Context, limit int32) ([]appointment.EventLog, error)
	MarkPublished(ctx context.Context, id int64) (bool, error)
}

// PgEventStore reads and acknowledges rows of event_logs.
type PgEventStore struct {
	pool db.Pool
}

func NewPgEventStore(pool db.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

func (s *PgEventStore) FetchUnpublished(ctx context.Context, limit int32) ([]appointment.EventLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, COALESCE(payload, '{}'::jsonb), created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: fetch unpublished: %w", err)
	}
	defer rows.Close()

	var events []appointment.EventLog
	for rows.Next() {
		var ev appointment.EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate events: %w", err)
	}
	return events, nil
}

// MarkPublished reports false when another relay got there first.
func (s *PgEventStore) MarkPublished(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = $1 AND published_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("notify: mark published: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
