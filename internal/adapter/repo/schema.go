package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the pipeline tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS video_jobs (
    id               TEXT PRIMARY KEY,
    status           TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    script_json      JSONB,
    error_message    TEXT NOT NULL DEFAULT '',
    final_media      BYTEA,
    final_media_mime TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`
CREATE TABLE IF NOT EXISTS video_scenes (
    id                TEXT PRIMARY KEY,
    job_id            TEXT NOT NULL REFERENCES video_jobs(id) ON DELETE CASCADE,
    scene_number      INT NOT NULL,
    prompt            TEXT NOT NULL DEFAULT '',
    narration         TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL,
    first_frame_image BYTEA,
    video_data        BYTEA,
    duration_seconds  INT NOT NULL DEFAULT 0,
    error_message     TEXT NOT NULL DEFAULT '',
    UNIQUE (job_id, scene_number)
);`,
		`
CREATE TABLE IF NOT EXISTS video_job_events (
    job_id     TEXT NOT NULL,
    seq        BIGINT NOT NULL,
    event_type TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (job_id, seq)
);`,
		`CREATE INDEX IF NOT EXISTS idx_video_job_events_created_at ON video_job_events (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_video_scenes_job_id ON video_scenes (job_id, scene_number);`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
