package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/storage"
)

// WorkerManager is the slice of the worker registry the handlers need.
type WorkerManager interface {
	Start(p pipeline.Params) error
	Cancel(jobID string) bool
	Running(jobID string) bool
}

// App bundles the dependencies shared by all HTTP handlers.
type App struct {
	Jobs    domain.JobRepository
	Scenes  domain.SceneRepository
	Events  domain.EventLog
	Manager WorkerManager
	Store   *storage.FileStore
	Logger  infra.Logger

	StreamPollInterval time.Duration
	StreamKeepalive    time.Duration
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (a *App) streamPollInterval() time.Duration {
	if a.StreamPollInterval > 0 {
		return a.StreamPollInterval
	}
	return 500 * time.Millisecond
}

func (a *App) streamKeepalive() time.Duration {
	if a.StreamKeepalive > 0 {
		return a.StreamKeepalive
	}
	return 15 * time.Second
}
