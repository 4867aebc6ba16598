// Package memory provides in-process implementations of the domain
// repositories. It backs tests and development environments where a
// PostgreSQL instance is not available, mirroring the transactional
// contract the pipeline relies on: atomic appends and consistent
// reads-since-seq.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
)

// Store holds jobs, scenes and events behind one mutex. The pipeline's
// single-flight writer per job keeps contention trivial.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	scenes map[string][]domain.Scene
	events map[string][]domain.Event
	// lastSeq outlives retention sweeps so replay cursors issued before
	// a purge never match a later event's seq.
	lastSeq map[string]int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*domain.Job),
		scenes:  make(map[string][]domain.Scene),
		events:  make(map[string][]domain.Event),
		lastSeq: make(map[string]int64),
	}
}

// Jobs returns the store's domain.JobRepository view.
func (s *Store) Jobs() domain.JobRepository { return (*jobView)(s) }

// Scenes returns the store's domain.SceneRepository view.
func (s *Store) Scenes() domain.SceneRepository { return (*sceneView)(s) }

// Events returns the store's domain.EventLog view.
func (s *Store) Events() domain.EventLog { return (*eventView)(s) }

type jobView Store

func (v *jobView) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	clone := *job
	clone.CreatedAt = now
	clone.UpdatedAt = now
	v.jobs[job.ID] = &clone
	return nil
}

func (v *jobView) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (v *jobView) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now()
	return nil
}

func (v *jobView) UpdateScript(ctx context.Context, jobID string, title string, scriptJSON []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.Title = title
	job.ScriptJSON = append([]byte(nil), scriptJSON...)
	job.UpdatedAt = time.Now()
	return nil
}

func (v *jobView) SetFinalMedia(ctx context.Context, jobID string, media []byte, mime string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	job, ok := v.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.FinalMedia = append([]byte(nil), media...)
	job.FinalMediaMIME = mime
	job.UpdatedAt = time.Now()
	return nil
}

func (v *jobView) Delete(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.jobs, jobID)
	delete(v.scenes, jobID)
	return nil
}

type sceneView Store

func (v *sceneView) CreateAll(ctx context.Context, scenes []domain.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(scenes) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	jobID := scenes[0].JobID
	v.scenes[jobID] = append(v.scenes[jobID], scenes...)
	sort.Slice(v.scenes[jobID], func(i, j int) bool {
		return v.scenes[jobID][i].SceneNumber < v.scenes[jobID][j].SceneNumber
	})
	return nil
}

func (v *sceneView) ListByJobID(ctx context.Context, jobID string) ([]domain.Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Scene(nil), v.scenes[jobID]...), nil
}

func (v *sceneView) UpdateStatus(ctx context.Context, sceneID string, status domain.SceneStatus, errMsg string) error {
	return v.mutate(ctx, sceneID, func(s *domain.Scene) {
		s.Status = status
		s.ErrorMessage = errMsg
	})
}

func (v *sceneView) SetFirstFrame(ctx context.Context, sceneID string, image []byte) error {
	return v.mutate(ctx, sceneID, func(s *domain.Scene) {
		s.FirstFrameImage = append([]byte(nil), image...)
	})
}

func (v *sceneView) SetVideo(ctx context.Context, sceneID string, video []byte, durationSeconds int) error {
	return v.mutate(ctx, sceneID, func(s *domain.Scene) {
		s.VideoData = append([]byte(nil), video...)
		s.DurationSeconds = durationSeconds
	})
}

func (v *sceneView) DeleteByJobID(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.scenes, jobID)
	return nil
}

func (v *sceneView) mutate(ctx context.Context, sceneID string, apply func(*domain.Scene)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for jobID := range v.scenes {
		for i := range v.scenes[jobID] {
			if v.scenes[jobID][i].ID == sceneID {
				apply(&v.scenes[jobID][i])
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

type eventView Store

func (v *eventView) Append(ctx context.Context, jobID, eventType string, payload []byte) (*domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	v.lastSeq[jobID]++
	event := domain.Event{
		Seq:       v.lastSeq[jobID],
		JobID:     jobID,
		Type:      eventType,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	}
	v.events[jobID] = append(v.events[jobID], event)
	return &event, nil
}

func (v *eventView) Since(ctx context.Context, jobID string, after int64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Event
	for _, e := range v.events[jobID] {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *eventView) PurgeJob(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.events, jobID)
	delete(v.lastSeq, jobID)
	return nil
}

func (v *eventView) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	var purged int64
	for jobID, events := range v.events {
		kept := events[:0]
		for _, e := range events {
			if e.CreatedAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(v.events, jobID)
			continue
		}
		v.events[jobID] = kept
	}
	return purged, nil
}

var (
	_ domain.JobRepository   = (*jobView)(nil)
	_ domain.SceneRepository = (*sceneView)(nil)
	_ domain.EventLog        = (*eventView)(nil)
)
