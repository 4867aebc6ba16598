package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// EventLogPG implements domain.EventLog on PostgreSQL. Sequence numbers are
// assigned per job at insert time; the single-flight guarantee of the worker
// manager means there is never more than one writer per job, so the
// MAX(seq)+1 assignment cannot race with itself.
type EventLogPG struct {
	pool *pgxpool.Pool
}

// NewEventLog creates a new event log backed by PostgreSQL.
func NewEventLog(pool *pgxpool.Pool) *EventLogPG {
	return &EventLogPG{pool: pool}
}

// Append writes one event and returns it with its assigned sequence number.
func (l *EventLogPG) Append(ctx context.Context, jobID, eventType string, payload []byte) (*domain.Event, error) {
	query := `
INSERT INTO video_job_events (job_id, seq, event_type, payload)
SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3
FROM video_job_events
WHERE job_id = $1
RETURNING seq, created_at;
`
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	event := &domain.Event{JobID: jobID, Type: eventType, Payload: payload}
	row := l.pool.QueryRow(ctx, query, jobID, eventType, payload)
	if err := row.Scan(&event.Seq, &event.CreatedAt); err != nil {
		return nil, err
	}
	return event, nil
}

// Since returns events with seq strictly greater than after, ascending.
func (l *EventLogPG) Since(ctx context.Context, jobID string, after int64) ([]domain.Event, error) {
	query := `
SELECT seq, job_id, event_type, payload, created_at
FROM video_job_events
WHERE job_id = $1 AND seq > $2
ORDER BY seq ASC;
`
	rows, err := l.pool.Query(ctx, query, jobID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.Seq, &e.JobID, &e.Type, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeJob removes every event for a job.
func (l *EventLogPG) PurgeJob(ctx context.Context, jobID string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM video_job_events WHERE job_id = $1;`, jobID)
	return err
}

// PurgeOlderThan removes events created before the cutoff and reports how
// many were deleted. Events of jobs that are still running are kept
// regardless of age: Append derives the next seq from MAX(seq), so deleting
// a live job's history would let later appends reuse sequence numbers that
// replay cursors have already seen.
func (l *EventLogPG) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
DELETE FROM video_job_events e
WHERE e.created_at < $1
  AND NOT EXISTS (
      SELECT 1 FROM video_jobs j
      WHERE j.id = e.job_id AND j.status IN ('planning', 'generating')
  );
`
	tag, err := l.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ domain.EventLog = (*EventLogPG)(nil)
