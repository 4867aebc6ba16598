package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// SceneRepositoryPG implements domain.SceneRepository.
type SceneRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSceneRepository creates a new scene repository backed by PostgreSQL.
func NewSceneRepository(pool *pgxpool.Pool) *SceneRepositoryPG {
	return &SceneRepositoryPG{pool: pool}
}

// CreateAll inserts every scene row for a job in one batch, so the full
// scene count is visible before generation starts.
func (r *SceneRepositoryPG) CreateAll(ctx context.Context, scenes []domain.Scene) error {
	if len(scenes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
INSERT INTO video_scenes (id, job_id, scene_number, prompt, narration, status)
VALUES ($1, $2, $3, $4, $5, $6);
`
	for _, s := range scenes {
		batch.Queue(query, s.ID, s.JobID, s.SceneNumber, s.Prompt, s.Narration, s.Status)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range scenes {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListByJobID returns all scenes for a job ordered by scene number.
func (r *SceneRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Scene, error) {
	query := `
SELECT id, job_id, scene_number, prompt, narration, status, first_frame_image, video_data, duration_seconds, error_message
FROM video_scenes
WHERE job_id = $1
ORDER BY scene_number ASC;
`
	rows, err := r.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scenes []domain.Scene
	for rows.Next() {
		var s domain.Scene
		if err := rows.Scan(
			&s.ID,
			&s.JobID,
			&s.SceneNumber,
			&s.Prompt,
			&s.Narration,
			&s.Status,
			&s.FirstFrameImage,
			&s.VideoData,
			&s.DurationSeconds,
			&s.ErrorMessage,
		); err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}
	return scenes, rows.Err()
}

// UpdateStatus advances a scene's status, optionally recording a failure message.
func (r *SceneRepositoryPG) UpdateStatus(ctx context.Context, sceneID string, status domain.SceneStatus, errMsg string) error {
	query := `
UPDATE video_scenes
SET status = $2,
    error_message = $3
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, sceneID, status, errMsg)
	return err
}

// SetFirstFrame stores the generated first-frame image.
func (r *SceneRepositoryPG) SetFirstFrame(ctx context.Context, sceneID string, image []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE video_scenes SET first_frame_image = $2 WHERE id = $1;`, sceneID, nullableBytes(image))
	return err
}

// SetVideo stores the scene's video bytes and duration.
func (r *SceneRepositoryPG) SetVideo(ctx context.Context, sceneID string, video []byte, durationSeconds int) error {
	query := `
UPDATE video_scenes
SET video_data = $2,
    duration_seconds = $3
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, sceneID, nullableBytes(video), durationSeconds)
	return err
}

// DeleteByJobID removes all scene rows for a job.
func (r *SceneRepositoryPG) DeleteByJobID(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM video_scenes WHERE job_id = $1;`, jobID)
	return err
}

var _ domain.SceneRepository = (*SceneRepositoryPG)(nil)
