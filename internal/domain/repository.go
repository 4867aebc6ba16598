package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error
	UpdateScript(ctx context.Context, jobID string, title string, scriptJSON []byte) error
	SetFinalMedia(ctx context.Context, jobID string, media []byte, mime string) error
	Delete(ctx context.Context, jobID string) error
}

// SceneRepository defines persistence for scene rows.
type SceneRepository interface {
	CreateAll(ctx context.Context, scenes []Scene) error
	ListByJobID(ctx context.Context, jobID string) ([]Scene, error)
	UpdateStatus(ctx context.Context, sceneID string, status SceneStatus, errMsg string) error
	SetFirstFrame(ctx context.Context, sceneID string, image []byte) error
	SetVideo(ctx context.Context, sceneID string, video []byte, durationSeconds int) error
	DeleteByJobID(ctx context.Context, jobID string) error
}

// EventLog is the append-only, per-job ordered event store. Append assigns
// the next per-job sequence number; Since returns events with seq strictly
// greater than after, in ascending order.
type EventLog interface {
	Append(ctx context.Context, jobID, eventType string, payload []byte) (*Event, error)
	Since(ctx context.Context, jobID string, after int64) ([]Event, error)
	PurgeJob(ctx context.Context, jobID string) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
