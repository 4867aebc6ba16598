package domain

// SceneStatus enumerates scene lifecycle states. A scene only advances
// forward and is mutated exclusively by its job's orchestrator.
type SceneStatus string

const (
	SceneStatusPending         SceneStatus = "pending"
	SceneStatusGeneratingImage SceneStatus = "generating_image"
	SceneStatusGeneratingVideo SceneStatus = "generating_video"
	SceneStatusExtendingVideo  SceneStatus = "extending_video"
	SceneStatusComplete        SceneStatus = "complete"
	SceneStatusError           SceneStatus = "error"
)

// Scene is one unit of the pipeline, corresponding to one provider video
// generation or extension call. All scene rows for a job are created before
// generation of scene 1 begins, so the total count is known right after
// planning.
type Scene struct {
	ID              string
	JobID           string
	SceneNumber     int
	Prompt          string
	Narration       string
	Status          SceneStatus
	FirstFrameImage []byte
	VideoData       []byte
	DurationSeconds int
	ErrorMessage    string
}
