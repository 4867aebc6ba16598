package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/adapter/repo/memory"
	"server/internal/domain"
	"server/internal/providers/generation"
)

type fakeClient struct {
	planFn   func(ctx context.Context, req generation.PlanRequest) (*domain.ScriptPlan, error)
	imageFn  func(ctx context.Context, req generation.ImageRequest) ([]byte, error)
	videoFn  func(ctx context.Context, req generation.VideoRequest) (*generation.VideoResult, error)
	extendFn func(ctx context.Context, req generation.ExtendRequest) (*generation.VideoResult, error)
}

func (f *fakeClient) PlanScript(ctx context.Context, req generation.PlanRequest) (*domain.ScriptPlan, error) {
	return f.planFn(ctx, req)
}

func (f *fakeClient) GenerateSceneImage(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
	return f.imageFn(ctx, req)
}

func (f *fakeClient) GenerateVideoFromImage(ctx context.Context, req generation.VideoRequest) (*generation.VideoResult, error) {
	return f.videoFn(ctx, req)
}

func (f *fakeClient) ExtendVideo(ctx context.Context, req generation.ExtendRequest) (*generation.VideoResult, error) {
	return f.extendFn(ctx, req)
}

func testPlan(scenes int) *domain.ScriptPlan {
	plan := &domain.ScriptPlan{
		Title:             "Ocean Currents",
		Summary:           "How currents move heat around the planet",
		TotalScenes:       scenes,
		EstimatedDuration: scenes * 8,
	}
	for i := 1; i <= scenes; i++ {
		plan.Scenes = append(plan.Scenes, domain.PlannedScene{
			SceneNumber: i,
			Narration:   fmt.Sprintf("narration %d", i),
			ImagePrompt: fmt.Sprintf("image prompt %d", i),
			VideoPrompt: fmt.Sprintf("video prompt %d", i),
		})
	}
	return plan
}

func happyClient(scenes int) *fakeClient {
	return &fakeClient{
		planFn: func(ctx context.Context, req generation.PlanRequest) (*domain.ScriptPlan, error) {
			return testPlan(scenes), nil
		},
		imageFn: func(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
			return []byte("frame-1"), nil
		},
		videoFn: func(ctx context.Context, req generation.VideoRequest) (*generation.VideoResult, error) {
			return &generation.VideoResult{Handle: "files/clip-1", Data: []byte("video-1"), MIME: "video/mp4"}, nil
		},
		extendFn: func(ctx context.Context, req generation.ExtendRequest) (*generation.VideoResult, error) {
			next := len(req.Handle) // any deterministic variation
			return &generation.VideoResult{
				Handle: fmt.Sprintf("files/clip-ext-%d", next),
				Data:   append([]byte("video-1+"), req.Prompt...),
				MIME:   "video/mp4",
			}, nil
		},
	}
}

type testHarness struct {
	store *memory.Store
	orch  *Orchestrator
	slept []time.Duration
}

func newHarness(t *testing.T, client generation.Client) *testHarness {
	t.Helper()
	h := &testHarness{store: memory.NewStore()}
	h.orch = New(Options{
		Jobs:      h.store.Jobs(),
		Scenes:    h.store.Scenes(),
		Events:    h.store.Events(),
		Generator: client,
		Logger:    zerolog.Nop(),
	})
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.slept = append(h.slept, d)
		return ctx.Err()
	}
	return h
}

func (h *testHarness) createJob(t *testing.T, jobID string) {
	t.Helper()
	err := h.store.Jobs().Create(context.Background(), &domain.Job{
		ID:     jobID,
		Status: domain.JobStatusPlanning,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func (h *testHarness) eventTypes(t *testing.T, jobID string) []string {
	t.Helper()
	events, err := h.store.Events().Since(context.Background(), jobID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	return types
}

func (h *testHarness) eventsOfType(t *testing.T, jobID, eventType string) []domain.Event {
	t.Helper()
	events, err := h.store.Events().Since(context.Background(), jobID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var matched []domain.Event
	for _, ev := range events {
		if ev.Type == eventType {
			matched = append(matched, ev)
		}
	}
	return matched
}

func TestRunTwoSceneHappyPath(t *testing.T) {
	h := newHarness(t, happyClient(2))
	h.createJob(t, "job-1")

	if err := h.orch.Run(context.Background(), Params{JobID: "job-1", Topic: "ocean currents", SceneCount: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		domain.EventJobCreated,
		domain.EventPlanning,
		domain.EventScriptReady,
		domain.EventSceneImage,
		domain.EventSceneVideo,
		domain.EventSceneComplete,
		domain.EventSceneDelay,
		domain.EventSceneVideo,
		domain.EventSceneComplete,
		domain.EventComplete,
	}
	got := h.eventTypes(t, "job-1")
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	job, err := h.store.Jobs().GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusComplete {
		t.Fatalf("job status = %q, want complete", job.Status)
	}
	if !job.HasFinalMedia() {
		t.Fatal("job has no final media")
	}
	if job.Title != "Ocean Currents" {
		t.Fatalf("job title = %q", job.Title)
	}

	scenes, err := h.store.Scenes().ListByJobID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("list scenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("scene count = %d, want 2", len(scenes))
	}
	for _, sc := range scenes {
		if sc.Status != domain.SceneStatusComplete {
			t.Fatalf("scene %d status = %q, want complete", sc.SceneNumber, sc.Status)
		}
		if sc.DurationSeconds != 8 {
			t.Fatalf("scene %d duration = %d, want 8", sc.SceneNumber, sc.DurationSeconds)
		}
	}

	complete := h.eventsOfType(t, "job-1", domain.EventComplete)
	var payload completePayload
	if err := json.Unmarshal(complete[0].Payload, &payload); err != nil {
		t.Fatalf("decode complete payload: %v", err)
	}
	if payload.Duration != 16 {
		t.Fatalf("complete duration = %d, want 16", payload.Duration)
	}
	if payload.VideoBase64 == "" {
		t.Fatal("complete payload has no video")
	}

	// The only wait in a two-scene run is the single inter-scene cooldown.
	if len(h.slept) != 1 || h.slept[0] != 10*time.Second {
		t.Fatalf("sleeps = %v, want [10s]", h.slept)
	}
}

func TestQuotaRetrySucceedsAfterBackoff(t *testing.T) {
	client := happyClient(1)
	calls := 0
	client.imageFn = func(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("image: %w", domain.ErrQuotaExceeded)
		}
		return []byte("frame-1"), nil
	}

	h := newHarness(t, client)
	h.createJob(t, "job-q")

	if err := h.orch.Run(context.Background(), Params{JobID: "job-q", Topic: "tides", SceneCount: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	retries := h.eventsOfType(t, "job-q", domain.EventQuotaRetry)
	if len(retries) != 1 {
		t.Fatalf("quota_retry events = %d, want 1", len(retries))
	}
	var payload quotaRetryPayload
	if err := json.Unmarshal(retries[0].Payload, &payload); err != nil {
		t.Fatalf("decode quota_retry payload: %v", err)
	}
	if payload.DelaySeconds != 60 {
		t.Fatalf("quota_retry delay = %d, want 60", payload.DelaySeconds)
	}
	if payload.Attempt != 1 {
		t.Fatalf("quota_retry attempt = %d, want 1", payload.Attempt)
	}

	if len(h.slept) != 1 || h.slept[0] != 60*time.Second {
		t.Fatalf("sleeps = %v, want [1m0s]", h.slept)
	}
	if got := h.eventTypes(t, "job-q"); got[len(got)-1] != domain.EventComplete {
		t.Fatalf("final event = %q, want complete", got[len(got)-1])
	}
}

func TestQuotaExhaustionFailsJob(t *testing.T) {
	client := happyClient(1)
	client.imageFn = func(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
		return nil, fmt.Errorf("image: %w", domain.ErrQuotaExceeded)
	}

	h := newHarness(t, client)
	h.createJob(t, "job-x")

	err := h.orch.Run(context.Background(), Params{JobID: "job-x", Topic: "tides", SceneCount: 1})
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("Run error = %v, want quota exceeded", err)
	}

	retries := h.eventsOfType(t, "job-x", domain.EventQuotaRetry)
	if len(retries) != 3 {
		t.Fatalf("quota_retry events = %d, want 3", len(retries))
	}
	wantDelays := []int{60, 120, 240}
	for i, ev := range retries {
		var payload quotaRetryPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("decode quota_retry payload: %v", err)
		}
		if payload.DelaySeconds != wantDelays[i] {
			t.Fatalf("retry %d delay = %d, want %d", i, payload.DelaySeconds, wantDelays[i])
		}
	}

	job, err := h.store.Jobs().GetByID(context.Background(), "job-x")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusError {
		t.Fatalf("job status = %q, want error", job.Status)
	}
	if got := h.eventTypes(t, "job-x"); got[len(got)-1] != domain.EventError {
		t.Fatalf("final event = %q, want error", got[len(got)-1])
	}
}

func TestPartialOnLaterSceneFailure(t *testing.T) {
	client := happyClient(3)
	client.extendFn = func(ctx context.Context, req generation.ExtendRequest) (*generation.VideoResult, error) {
		return nil, errors.New("provider exploded")
	}

	h := newHarness(t, client)
	h.createJob(t, "job-p")

	err := h.orch.Run(context.Background(), Params{JobID: "job-p", Topic: "tides", SceneCount: 3})
	if err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	job, getErr := h.store.Jobs().GetByID(context.Background(), "job-p")
	if getErr != nil {
		t.Fatalf("get job: %v", getErr)
	}
	if job.Status != domain.JobStatusPartial {
		t.Fatalf("job status = %q, want partial", job.Status)
	}
	if string(job.FinalMedia) != "video-1" {
		t.Fatalf("final media = %q, want scene 1 clip preserved", job.FinalMedia)
	}

	errEvents := h.eventsOfType(t, "job-p", domain.EventError)
	if len(errEvents) != 1 {
		t.Fatalf("error events = %d, want 1", len(errEvents))
	}
	var payload errorPayload
	if err := json.Unmarshal(errEvents[0].Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if !payload.Partial {
		t.Fatal("error payload not marked partial")
	}
	if payload.ScenesCompleted != 1 {
		t.Fatalf("scenes_completed = %d, want 1", payload.ScenesCompleted)
	}

	scenes, err := h.store.Scenes().ListByJobID(context.Background(), "job-p")
	if err != nil {
		t.Fatalf("list scenes: %v", err)
	}
	if scenes[0].Status != domain.SceneStatusComplete {
		t.Fatalf("scene 1 status = %q, want complete", scenes[0].Status)
	}
	if scenes[1].Status != domain.SceneStatusError {
		t.Fatalf("scene 2 status = %q, want error", scenes[1].Status)
	}
	if scenes[2].Status != domain.SceneStatusPending {
		t.Fatalf("scene 3 status = %q, want pending", scenes[2].Status)
	}
}

func TestEarlyFailureLandsInError(t *testing.T) {
	client := happyClient(2)
	client.imageFn = func(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
		return nil, errors.New("provider exploded")
	}

	h := newHarness(t, client)
	h.createJob(t, "job-e")

	if err := h.orch.Run(context.Background(), Params{JobID: "job-e", Topic: "tides", SceneCount: 2}); err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	job, err := h.store.Jobs().GetByID(context.Background(), "job-e")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusError {
		t.Fatalf("job status = %q, want error", job.Status)
	}
	if job.HasFinalMedia() {
		t.Fatal("failed job should have no final media")
	}

	// Scene rows are created up front from the script, so the untouched
	// second scene must still exist in pending.
	scenes, err := h.store.Scenes().ListByJobID(context.Background(), "job-e")
	if err != nil {
		t.Fatalf("list scenes: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("scene count = %d, want 2", len(scenes))
	}
	if scenes[1].Status != domain.SceneStatusPending {
		t.Fatalf("scene 2 status = %q, want pending", scenes[1].Status)
	}
}

func TestSceneOneImageFailureSequence(t *testing.T) {
	client := happyClient(1)
	client.imageFn = func(ctx context.Context, req generation.ImageRequest) ([]byte, error) {
		return nil, errors.New("image model refused")
	}

	h := newHarness(t, client)
	h.createJob(t, "job-b")

	if err := h.orch.Run(context.Background(), Params{JobID: "job-b", Topic: "tides", SceneCount: 1}); err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	want := []string{
		domain.EventJobCreated,
		domain.EventPlanning,
		domain.EventScriptReady,
		domain.EventSceneImage,
		domain.EventError,
	}
	got := h.eventTypes(t, "job-b")
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	job, err := h.store.Jobs().GetByID(context.Background(), "job-b")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobStatusError || job.HasFinalMedia() {
		t.Fatalf("job = status %q, media %v", job.Status, job.HasFinalMedia())
	}
}

func TestVideoTimeoutSurfacesProgressThenError(t *testing.T) {
	client := happyClient(1)
	client.videoFn = func(ctx context.Context, req generation.VideoRequest) (*generation.VideoResult, error) {
		// Mimic the provider's bounded polling: a tick per attempt, then
		// the timeout sentinel once the cap is hit.
		for attempt := 1; attempt <= 3; attempt++ {
			req.Progress(attempt, 3)
		}
		return nil, fmt.Errorf("operation op-1 after 3 polls: %w", domain.ErrGenerationTimeout)
	}

	h := newHarness(t, client)
	h.createJob(t, "job-t")

	err := h.orch.Run(context.Background(), Params{JobID: "job-t", Topic: "tides", SceneCount: 1})
	if !errors.Is(err, domain.ErrGenerationTimeout) {
		t.Fatalf("Run error = %v, want generation timeout", err)
	}

	progress := h.eventsOfType(t, "job-t", domain.EventSceneProgress)
	if len(progress) != 3 {
		t.Fatalf("scene_progress events = %d, want 3", len(progress))
	}
	if got := h.eventTypes(t, "job-t"); got[len(got)-1] != domain.EventError {
		t.Fatalf("final event = %q, want error", got[len(got)-1])
	}
	// Timeouts are not quota errors, so no retry may fire.
	if retries := h.eventsOfType(t, "job-t", domain.EventQuotaRetry); len(retries) != 0 {
		t.Fatalf("quota_retry events = %d, want 0", len(retries))
	}
}

func TestCancellationDuringCooldown(t *testing.T) {
	h := newHarness(t, happyClient(2))
	h.createJob(t, "job-c")

	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := h.orch.Run(ctx, Params{JobID: "job-c", Topic: "tides", SceneCount: 2})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	job, getErr := h.store.Jobs().GetByID(context.Background(), "job-c")
	if getErr != nil {
		t.Fatalf("get job: %v", getErr)
	}
	if job.Status != domain.JobStatusError {
		t.Fatalf("job status = %q, want error", job.Status)
	}
	if job.ErrorMessage != "job canceled" {
		t.Fatalf("error message = %q, want %q", job.ErrorMessage, "job canceled")
	}

	var payload errorPayload
	errEvents := h.eventsOfType(t, "job-c", domain.EventError)
	if len(errEvents) != 1 {
		t.Fatalf("error events = %d, want 1", len(errEvents))
	}
	if err := json.Unmarshal(errEvents[0].Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Partial {
		t.Fatal("canceled job must not be marked partial")
	}
}

func TestPlanFailureEmitsError(t *testing.T) {
	client := happyClient(1)
	client.planFn = func(ctx context.Context, req generation.PlanRequest) (*domain.ScriptPlan, error) {
		return nil, errors.New("model unavailable")
	}

	h := newHarness(t, client)
	h.createJob(t, "job-plan")

	if err := h.orch.Run(context.Background(), Params{JobID: "job-plan", Topic: "tides", SceneCount: 1}); err == nil {
		t.Fatal("Run succeeded, want failure")
	}

	want := []string{domain.EventJobCreated, domain.EventPlanning, domain.EventError}
	got := h.eventTypes(t, "job-plan")
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
