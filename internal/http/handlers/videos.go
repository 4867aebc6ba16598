package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
	"server/internal/domain/jsoncfg"
	"server/internal/pipeline"
)

type videoCreateResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

type sceneSummary struct {
	SceneNumber     int    `json:"scene_number"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	HasVideo        bool   `json:"has_video"`
	Error           string `json:"error,omitempty"`
}

type jobDetailResponse struct {
	JobID         string          `json:"job_id"`
	Status        string          `json:"status"`
	Title         string          `json:"title,omitempty"`
	Script        json.RawMessage `json:"script,omitempty"`
	Error         string          `json:"error,omitempty"`
	HasFinalVideo bool            `json:"has_final_video"`
	Scenes        []sceneSummary  `json:"scenes"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type eventResponse struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// VideoCreate validates the request, creates the job row, and launches the
// background worker. The response arrives long before any generation work.
func (a *App) VideoCreate(w http.ResponseWriter, r *http.Request) {
	var req jsoncfg.VideoRequestJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var reference []byte
	if req.ReferenceKey != "" {
		data, err := a.Store.Read(r.Context(), req.ReferenceKey)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown reference_key")
			return
		}
		reference = data
	}

	jobID := uuid.NewString()
	job := &domain.Job{
		ID:     jobID,
		Status: domain.JobStatusPlanning,
		Title:  req.Title(),
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("create job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	err := a.Manager.Start(pipeline.Params{
		JobID:                jobID,
		Topic:                req.Topic,
		Style:                req.Style,
		TargetDuration:       req.TargetDuration,
		UserPrompt:           req.UserPrompt,
		AspectRatio:          req.AspectRatio,
		SceneCount:           req.SceneCount(),
		CharacterName:        req.CharacterName,
		CharacterDescription: req.CharacterDescription,
		CharacterStyle:       req.CharacterStyle,
		CharacterReference:   reference,
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobRunning) {
			a.error(w, http.StatusConflict, "conflict", "job is already running")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("start worker")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start worker")
		return
	}

	a.json(w, http.StatusAccepted, videoCreateResponse{
		JobID:     jobID,
		Status:    string(domain.JobStatusPlanning),
		StreamURL: fmt.Sprintf("/v1/videos/%s/stream", jobID),
	})
}

// VideoDetail returns the job with per-scene summaries. Media bytes never
// travel through this endpoint; the download route serves them.
func (a *App) VideoDetail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.jobError(w, err)
		return
	}

	scenes, err := a.Scenes.ListByJobID(r.Context(), jobID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("list scenes")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load scenes")
		return
	}

	resp := jobDetailResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		Title:         job.Title,
		Script:        json.RawMessage(job.ScriptJSON),
		Error:         job.ErrorMessage,
		HasFinalVideo: job.HasFinalMedia(),
		Scenes:        make([]sceneSummary, 0, len(scenes)),
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	for _, sc := range scenes {
		resp.Scenes = append(resp.Scenes, sceneSummary{
			SceneNumber:     sc.SceneNumber,
			Status:          string(sc.Status),
			DurationSeconds: sc.DurationSeconds,
			HasVideo:        len(sc.VideoData) > 0,
			Error:           sc.ErrorMessage,
		})
	}
	a.json(w, http.StatusOK, resp)
}

// VideoEvents returns the raw event page after the given sequence cursor.
func (a *App) VideoEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.jobError(w, err)
		return
	}

	after := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "after must be a non-negative integer")
			return
		}
		after = parsed
	}

	events, err := a.Events.Since(r.Context(), jobID, after)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("list events")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load events")
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			Seq:       ev.Seq,
			Type:      ev.Type,
			Data:      ev.Payload,
			CreatedAt: ev.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"events": out})
}

// VideoCancel signals the running worker to stop. The terminal state lands
// asynchronously through the event log.
func (a *App) VideoCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.jobError(w, err)
		return
	}
	if !a.Manager.Cancel(jobID) {
		a.error(w, http.StatusConflict, "conflict", "job is not running")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "canceling"})
}

// VideoDelete removes the job, its scenes, its events, and any archived copy.
// Running jobs must be canceled first.
func (a *App) VideoDelete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.jobError(w, err)
		return
	}
	if a.Manager.Running(jobID) {
		a.error(w, http.StatusConflict, "conflict", "job is still running; cancel it first")
		return
	}

	ctx := r.Context()
	if err := a.Events.PurgeJob(ctx, jobID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("purge events")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	if err := a.Scenes.DeleteByJobID(ctx, jobID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("delete scenes")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	if err := a.Jobs.Delete(ctx, jobID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("delete job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	if a.Store != nil {
		if err := a.Store.Remove(ctx, fmt.Sprintf("videos/%s.mp4", jobID)); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("remove archived video")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// VideoDownload serves the final media bytes. Partial jobs expose their
// cumulative video the same way as completed ones.
func (a *App) VideoDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		a.jobError(w, err)
		return
	}
	if !job.HasFinalMedia() {
		a.error(w, http.StatusNotFound, "not_found", "no final video available")
		return
	}

	mime := job.FinalMediaMIME
	if mime == "" {
		mime = "video/mp4"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".mp4"))
	w.Header().Set("Content-Length", strconv.Itoa(len(job.FinalMedia)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.FinalMedia)
}

func (a *App) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.Logger.Error().Err(err).Msg("load job")
	a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
}
