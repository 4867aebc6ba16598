package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/generation"
	"server/internal/storage"
)

// Config tunes the scene pipeline. Zero values fall back to defaults.
type Config struct {
	// SceneCooldown is the pause inserted before every scene after the
	// first, giving upstream quota accounting room to settle.
	SceneCooldown time.Duration

	// QuotaBackoff is the wait schedule applied when a provider call
	// reports quota exhaustion. Each entry funds one retry.
	QuotaBackoff []time.Duration

	// SceneDurationSeconds is the nominal length of a single scene clip.
	SceneDurationSeconds int
}

func (c Config) withDefaults() Config {
	if c.SceneCooldown <= 0 {
		c.SceneCooldown = 10 * time.Second
	}
	if len(c.QuotaBackoff) == 0 {
		c.QuotaBackoff = []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}
	}
	if c.SceneDurationSeconds <= 0 {
		c.SceneDurationSeconds = 8
	}
	return c
}

// Params describes one generation job to run end to end.
type Params struct {
	JobID          string
	Topic          string
	Style          string
	TargetDuration int
	UserPrompt     string
	AspectRatio    string
	SceneCount     int

	CharacterName        string
	CharacterDescription string
	CharacterStyle       string
	CharacterReference   []byte
}

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Jobs      domain.JobRepository
	Scenes    domain.SceneRepository
	Events    domain.EventLog
	Generator generation.Client
	Archive   *storage.FileStore
	Logger    infra.Logger
	Config    Config
}

// Orchestrator drives a job through planning, per-scene synthesis, and
// chained extension, recording every transition in the job event log. A
// single Orchestrator is shared by all workers; per-job state lives on the
// stack of Run.
type Orchestrator struct {
	jobs    domain.JobRepository
	scenes  domain.SceneRepository
	events  domain.EventLog
	gen     generation.Client
	archive *storage.FileStore
	logger  infra.Logger
	cfg     Config

	// sleep is swapped out by tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs an Orchestrator from its dependencies.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		jobs:    opts.Jobs,
		scenes:  opts.Scenes,
		events:  opts.Events,
		gen:     opts.Generator,
		archive: opts.Archive,
		logger:  opts.Logger,
		cfg:     opts.Config.withDefaults(),
		sleep:   sleepContext,
	}
}

// sceneCursor carries the chain state from one scene to the next: the
// provider handle of the latest clip, the cumulative video covering every
// completed scene, and how many scenes have completed.
type sceneCursor struct {
	handle    string
	video     []byte
	mime      string
	completed int
}

// Run executes the full pipeline for one job. It returns the first fatal
// error; terminal status and the closing event are always persisted before
// returning, so callers only need the error for logging.
func (o *Orchestrator) Run(ctx context.Context, p Params) error {
	log := o.logger.With().Str("job_id", p.JobID).Logger()

	if err := o.emit(ctx, p.JobID, domain.EventJobCreated, jobCreatedPayload{JobID: p.JobID}); err != nil {
		return o.finishError(log, p.JobID, sceneCursor{}, err)
	}

	plan, scenes, err := o.planPhase(ctx, p)
	if err != nil {
		return o.finishError(log, p.JobID, sceneCursor{}, err)
	}

	cursor := sceneCursor{}
	total := len(plan.Scenes)
	for i := range plan.Scenes {
		if i > 0 {
			if err := o.cooldown(ctx, p.JobID, plan.Scenes[i].SceneNumber); err != nil {
				return o.finishError(log, p.JobID, cursor, err)
			}
		}
		cursor, err = o.runScene(ctx, p, scenes[i], plan.Scenes[i], total, cursor)
		if err != nil {
			o.markSceneError(scenes[i].ID, err)
			return o.finishError(log, p.JobID, cursor, err)
		}
	}

	return o.finishComplete(ctx, log, p.JobID, plan.Title, cursor)
}

// planPhase produces the scene script and persists it along with one pending
// row per planned scene.
func (o *Orchestrator) planPhase(ctx context.Context, p Params) (*domain.ScriptPlan, []domain.Scene, error) {
	if err := o.jobs.UpdateStatus(ctx, p.JobID, domain.JobStatusPlanning, ""); err != nil {
		return nil, nil, fmt.Errorf("pipeline: mark planning: %w", err)
	}
	if err := o.emit(ctx, p.JobID, domain.EventPlanning, messagePayload{Message: "Planning video script"}); err != nil {
		return nil, nil, err
	}

	plan, err := o.gen.PlanScript(ctx, generation.PlanRequest{
		Topic:                p.Topic,
		Style:                p.Style,
		TargetDuration:       p.TargetDuration,
		SceneCount:           p.SceneCount,
		UserPrompt:           p.UserPrompt,
		CharacterName:        p.CharacterName,
		CharacterDescription: p.CharacterDescription,
		CharacterStyle:       p.CharacterStyle,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: plan script: %w", err)
	}

	scriptJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: encode script: %w", err)
	}
	if err := o.jobs.UpdateScript(ctx, p.JobID, plan.Title, scriptJSON); err != nil {
		return nil, nil, fmt.Errorf("pipeline: persist script: %w", err)
	}

	scenes := make([]domain.Scene, 0, len(plan.Scenes))
	for _, ps := range plan.Scenes {
		scenes = append(scenes, domain.Scene{
			ID:          uuid.NewString(),
			JobID:       p.JobID,
			SceneNumber: ps.SceneNumber,
			Prompt:      ps.VideoPrompt,
			Narration:   ps.Narration,
			Status:      domain.SceneStatusPending,
		})
	}
	if err := o.scenes.CreateAll(ctx, scenes); err != nil {
		return nil, nil, fmt.Errorf("pipeline: persist scenes: %w", err)
	}

	if err := o.jobs.UpdateStatus(ctx, p.JobID, domain.JobStatusGenerating, ""); err != nil {
		return nil, nil, fmt.Errorf("pipeline: mark generating: %w", err)
	}
	if err := o.emit(ctx, p.JobID, domain.EventScriptReady, scriptReadyPayload{
		Title:      plan.Title,
		Summary:    plan.Summary,
		SceneCount: len(plan.Scenes),
	}); err != nil {
		return nil, nil, err
	}
	return plan, scenes, nil
}

// cooldown pauses between scenes and records the wait so streaming clients
// can surface it.
func (o *Orchestrator) cooldown(ctx context.Context, jobID string, scene int) error {
	delay := o.cfg.SceneCooldown
	o.emitBestEffort(jobID, domain.EventSceneDelay, sceneDelayPayload{
		Scene:        scene,
		DelaySeconds: int(delay.Seconds()),
	})
	return o.sleep(ctx, delay)
}

// runScene synthesizes one scene and folds its result into the cursor. The
// first scene starts from a generated keyframe image; every later scene
// extends the cumulative video through the provider handle.
func (o *Orchestrator) runScene(ctx context.Context, p Params, scene domain.Scene, planned domain.PlannedScene, total int, cursor sceneCursor) (sceneCursor, error) {
	n := planned.SceneNumber
	progress := func(attempt, maxAttempts int) {
		o.emitBestEffort(p.JobID, domain.EventSceneProgress, sceneProgressPayload{
			Scene:       n,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
		})
	}

	var result *generation.VideoResult
	if cursor.handle == "" {
		if err := o.scenes.UpdateStatus(ctx, scene.ID, domain.SceneStatusGeneratingImage, ""); err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: mark image: %w", n, err)
		}
		if err := o.emit(ctx, p.JobID, domain.EventSceneImage, scenePayload{
			Scene:   n,
			Total:   total,
			Message: fmt.Sprintf("Generating first frame for scene %d", n),
		}); err != nil {
			return cursor, err
		}

		var image []byte
		err := o.withQuotaRetry(ctx, p.JobID, n, func() error {
			var callErr error
			image, callErr = o.gen.GenerateSceneImage(ctx, generation.ImageRequest{
				Prompt:    planned.ImagePrompt,
				Style:     pickStyle(planned.IncludeCharacter, p.CharacterStyle, p.Style),
				Reference: referenceFor(planned.IncludeCharacter, p.CharacterReference),
				RequestID: p.JobID,
			})
			return callErr
		})
		if err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: image: %w", n, err)
		}
		if err := o.scenes.SetFirstFrame(ctx, scene.ID, image); err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: persist frame: %w", n, err)
		}

		if err := o.scenes.UpdateStatus(ctx, scene.ID, domain.SceneStatusGeneratingVideo, ""); err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: mark video: %w", n, err)
		}
		if err := o.emit(ctx, p.JobID, domain.EventSceneVideo, scenePayload{
			Scene:   n,
			Total:   total,
			Message: fmt.Sprintf("Generating video for scene %d", n),
		}); err != nil {
			return cursor, err
		}

		err = o.withQuotaRetry(ctx, p.JobID, n, func() error {
			var callErr error
			result, callErr = o.gen.GenerateVideoFromImage(ctx, generation.VideoRequest{
				Image:       image,
				Prompt:      planned.VideoPrompt,
				AspectRatio: p.AspectRatio,
				RequestID:   p.JobID,
				Progress:    progress,
			})
			return callErr
		})
		if err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: video: %w", n, err)
		}
	} else {
		if err := o.scenes.UpdateStatus(ctx, scene.ID, domain.SceneStatusExtendingVideo, ""); err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: mark extend: %w", n, err)
		}
		if err := o.emit(ctx, p.JobID, domain.EventSceneVideo, scenePayload{
			Scene:   n,
			Total:   total,
			Message: fmt.Sprintf("Extending video for scene %d", n),
		}); err != nil {
			return cursor, err
		}

		err := o.withQuotaRetry(ctx, p.JobID, n, func() error {
			var callErr error
			result, callErr = o.gen.ExtendVideo(ctx, generation.ExtendRequest{
				Handle:      cursor.handle,
				Prompt:      planned.VideoPrompt,
				AspectRatio: p.AspectRatio,
				RequestID:   p.JobID,
				Progress:    progress,
			})
			return callErr
		})
		if err != nil {
			return cursor, fmt.Errorf("pipeline: scene %d: extend: %w", n, err)
		}
	}

	if err := o.scenes.SetVideo(ctx, scene.ID, result.Data, o.cfg.SceneDurationSeconds); err != nil {
		return cursor, fmt.Errorf("pipeline: scene %d: persist video: %w", n, err)
	}
	if err := o.scenes.UpdateStatus(ctx, scene.ID, domain.SceneStatusComplete, ""); err != nil {
		return cursor, fmt.Errorf("pipeline: scene %d: mark complete: %w", n, err)
	}
	if err := o.emit(ctx, p.JobID, domain.EventSceneComplete, scenePayload{Scene: n, Total: total}); err != nil {
		return cursor, err
	}

	return sceneCursor{
		handle:    result.Handle,
		video:     result.Data,
		mime:      result.MIME,
		completed: cursor.completed + 1,
	}, nil
}

// withQuotaRetry runs call, waiting and retrying on quota exhaustion until
// the backoff schedule is spent. Every retry is announced through a
// quota_retry event carrying the delay it is about to wait.
func (o *Orchestrator) withQuotaRetry(ctx context.Context, jobID string, scene int, call func() error) error {
	for attempt := 0; ; attempt++ {
		err := call()
		if err == nil || !errors.Is(err, domain.ErrQuotaExceeded) || attempt >= len(o.cfg.QuotaBackoff) {
			return err
		}
		delay := o.cfg.QuotaBackoff[attempt]
		o.emitBestEffort(jobID, domain.EventQuotaRetry, quotaRetryPayload{
			Scene:        scene,
			Attempt:      attempt + 1,
			DelaySeconds: int(delay.Seconds()),
			Message:      fmt.Sprintf("Quota exceeded, retrying in %ds", int(delay.Seconds())),
		})
		if serr := o.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// finishComplete persists the final media, archives a copy when a store is
// configured, and closes the log with a complete event.
func (o *Orchestrator) finishComplete(ctx context.Context, log infra.Logger, jobID, title string, cursor sceneCursor) error {
	if err := o.jobs.SetFinalMedia(ctx, jobID, cursor.video, cursor.mime); err != nil {
		return o.finishError(log, jobID, cursor, fmt.Errorf("pipeline: persist final media: %w", err))
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusComplete, ""); err != nil {
		return o.finishError(log, jobID, cursor, fmt.Errorf("pipeline: mark complete: %w", err))
	}
	if o.archive != nil {
		key := fmt.Sprintf("videos/%s.mp4", jobID)
		if _, err := o.archive.Write(ctx, key, cursor.video); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("archive final video")
		}
	}
	o.emitBestEffort(jobID, domain.EventComplete, completePayload{
		JobID:       jobID,
		Title:       title,
		Duration:    cursor.completed * o.cfg.SceneDurationSeconds,
		VideoBase64: base64.StdEncoding.EncodeToString(cursor.video),
	})
	log.Info().Int("scenes", cursor.completed).Msg("job complete")
	return nil
}

// finishError records the terminal state for a failed or canceled run. When
// at least one scene completed, the job lands in partial with the cumulative
// video preserved; otherwise it lands in error. Writes use a detached context
// so cancellation of the run cannot lose the terminal record.
func (o *Orchestrator) finishError(log infra.Logger, jobID string, cursor sceneCursor, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	canceled := errors.Is(cause, context.Canceled)
	if canceled {
		msg = "job canceled"
	}

	status := domain.JobStatusError
	payload := errorPayload{Message: msg, ScenesCompleted: cursor.completed}
	if !canceled && cursor.completed > 0 {
		status = domain.JobStatusPartial
		payload.Partial = true
		payload.Scene = cursor.completed + 1
		if err := o.jobs.SetFinalMedia(ctx, jobID, cursor.video, cursor.mime); err != nil {
			log.Error().Err(err).Msg("persist partial media")
		}
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, status, msg); err != nil {
		log.Error().Err(err).Msg("persist terminal status")
	}
	if _, err := o.events.Append(ctx, jobID, domain.EventError, mustJSON(payload)); err != nil {
		log.Error().Err(err).Msg("append error event")
	}
	log.Error().Err(cause).Str("status", string(status)).Int("scenes_completed", cursor.completed).Msg("job failed")
	return cause
}

// markSceneError records a failure on the scene row. Cancellation is not an
// error of the scene itself, so it leaves the row as-is.
func (o *Orchestrator) markSceneError(sceneID string, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.scenes.UpdateStatus(ctx, sceneID, domain.SceneStatusError, cause.Error()); err != nil {
		o.logger.Error().Err(err).Str("scene_id", sceneID).Msg("persist scene error")
	}
}

func (o *Orchestrator) emit(ctx context.Context, jobID, eventType string, payload any) error {
	if _, err := o.events.Append(ctx, jobID, eventType, mustJSON(payload)); err != nil {
		return fmt.Errorf("pipeline: append %s event: %w", eventType, err)
	}
	return nil
}

// emitBestEffort appends an event that must not interrupt the run, such as a
// progress tick. Failures are logged and dropped.
func (o *Orchestrator) emitBestEffort(jobID, eventType string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := o.events.Append(ctx, jobID, eventType, mustJSON(payload)); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Str("event", eventType).Msg("drop event")
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("pipeline: encode event payload: %v", err))
	}
	return data
}

func pickStyle(includeCharacter bool, characterStyle, style string) string {
	if includeCharacter && characterStyle != "" {
		return characterStyle
	}
	return style
}

func referenceFor(includeCharacter bool, reference []byte) []byte {
	if !includeCharacter {
		return nil
	}
	return reference
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
