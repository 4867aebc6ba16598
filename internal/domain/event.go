package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the pipeline. The event log is the sole channel
// through which progress becomes externally observable.
const (
	EventJobCreated    = "job_created"
	EventPlanning      = "planning"
	EventScriptReady   = "script_ready"
	EventSceneImage    = "scene_image"
	EventSceneVideo    = "scene_video"
	EventSceneProgress = "scene_progress"
	EventSceneDelay    = "scene_delay"
	EventQuotaRetry    = "quota_retry"
	EventSceneComplete = "scene_complete"
	EventComplete      = "complete"
	EventError         = "error"
)

// TerminalEvent reports whether an event type ends a job's stream.
func TerminalEvent(eventType string) bool {
	return eventType == EventComplete || eventType == EventError
}

// Event is one append-only progress record. Seq is strictly increasing per
// job; events are never mutated or reordered, and are deleted only by
// explicit cleanup (job deletion or age-based retention).
type Event struct {
	Seq       int64
	JobID     string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}
