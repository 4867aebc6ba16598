package generation

import (
	"context"

	"server/internal/domain"
)

// PollProgress is invoked once per poll tick while a long-running video
// operation is pending, so callers can surface progress instead of a
// silent multi-minute gap.
type PollProgress func(attempt, maxAttempts int)

// PlanRequest carries the inputs for script planning.
type PlanRequest struct {
	Topic                string
	Style                string
	TargetDuration       int
	UserPrompt           string
	SceneCount           int
	CharacterName        string
	CharacterDescription string
	CharacterStyle       string
}

// ImageRequest carries the inputs for first-frame image synthesis.
type ImageRequest struct {
	Prompt    string
	Style     string
	Reference []byte
	RequestID string
}

// VideoRequest carries the inputs for generating a video from a first frame.
type VideoRequest struct {
	Image       []byte
	Prompt      string
	AspectRatio string
	RequestID   string
	Progress    PollProgress
}

// ExtendRequest carries the inputs for extending a previously generated
// video. Handle is the continuation handle returned by the prior call.
type ExtendRequest struct {
	Handle      string
	Prompt      string
	AspectRatio string
	RequestID   string
	Progress    PollProgress
}

// VideoResult is the outcome of a video generation or extension call.
// Data is cumulative: an extension's bytes include all prior content.
type VideoResult struct {
	Handle string
	Data   []byte
	MIME   string
}

// Client is the external generation provider boundary. Failures surface as
// wrapped domain sentinels where they are actionable: domain.ErrQuotaExceeded
// for provider quota exhaustion and domain.ErrGenerationTimeout when the
// polling cap is exceeded.
type Client interface {
	PlanScript(ctx context.Context, req PlanRequest) (*domain.ScriptPlan, error)
	GenerateSceneImage(ctx context.Context, req ImageRequest) ([]byte, error)
	GenerateVideoFromImage(ctx context.Context, req VideoRequest) (*VideoResult, error)
	ExtendVideo(ctx context.Context, req ExtendRequest) (*VideoResult, error)
}
