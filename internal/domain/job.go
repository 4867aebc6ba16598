package domain

import "time"

// JobStatus enumerates the video job lifecycle states. Transitions are
// monotonic along planning -> generating -> {complete, partial, error};
// a job never re-enters an earlier state.
type JobStatus string

const (
	JobStatusPlanning   JobStatus = "planning"
	JobStatusGenerating JobStatus = "generating"
	JobStatusComplete   JobStatus = "complete"
	JobStatusPartial    JobStatus = "partial"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether the status is an outcome state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusComplete, JobStatusPartial, JobStatusError:
		return true
	}
	return false
}

// Job encapsulates one end-to-end multi-scene video generation request.
// While running it is owned exclusively by the orchestrator worker; status
// queries may read it at any time.
type Job struct {
	ID             string
	Status         JobStatus
	Title          string
	ScriptJSON     []byte
	ErrorMessage   string
	FinalMedia     []byte
	FinalMediaMIME string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasFinalMedia reports whether assembled video bytes were persisted.
func (j *Job) HasFinalMedia() bool {
	return j != nil && len(j.FinalMedia) > 0
}
