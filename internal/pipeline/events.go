package pipeline

// Event payloads persisted to the job event log. Field names mirror the
// frames consumed by streaming clients.

type jobCreatedPayload struct {
	JobID string `json:"job_id"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type scriptReadyPayload struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	SceneCount int    `json:"scene_count"`
}

type scenePayload struct {
	Scene   int    `json:"scene"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

type sceneProgressPayload struct {
	Scene       int `json:"scene"`
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`
}

type sceneDelayPayload struct {
	Scene        int `json:"scene"`
	DelaySeconds int `json:"delay_seconds"`
}

type quotaRetryPayload struct {
	Scene        int    `json:"scene"`
	Attempt      int    `json:"attempt"`
	DelaySeconds int    `json:"delay_seconds"`
	Message      string `json:"message"`
}

type completePayload struct {
	JobID       string `json:"job_id"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	VideoBase64 string `json:"video_base64"`
}

type errorPayload struct {
	Message         string `json:"message"`
	Scene           int    `json:"scene,omitempty"`
	Partial         bool   `json:"partial,omitempty"`
	ScenesCompleted int    `json:"scenes_completed,omitempty"`
}
