package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO video_jobs (id, status, title, script_json, error_message, final_media, final_media_mime)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.Title,
		nullableBytes(job.ScriptJSON),
		job.ErrorMessage,
		nullableBytes(job.FinalMedia),
		job.FinalMediaMIME,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, status, title, script_json, error_message, final_media, final_media_mime, created_at, updated_at
FROM video_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.Title,
		&job.ScriptJSON,
		&job.ErrorMessage,
		&job.FinalMedia,
		&job.FinalMediaMIME,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// UpdateStatus advances the job status, optionally recording a failure message.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	query := `
UPDATE video_jobs
SET status = $2,
    error_message = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, status, errMsg)
	return err
}

// UpdateScript persists the planned script and the refined title.
func (r *JobRepositoryPG) UpdateScript(ctx context.Context, jobID string, title string, scriptJSON []byte) error {
	query := `
UPDATE video_jobs
SET title = $2,
    script_json = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, title, nullableBytes(scriptJSON))
	return err
}

// SetFinalMedia stores the assembled video bytes.
func (r *JobRepositoryPG) SetFinalMedia(ctx context.Context, jobID string, media []byte, mime string) error {
	query := `
UPDATE video_jobs
SET final_media = $2,
    final_media_mime = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, nullableBytes(media), mime)
	return err
}

// Delete removes the job row. Scene rows cascade.
func (r *JobRepositoryPG) Delete(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM video_jobs WHERE id = $1;`, jobID)
	return err
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
