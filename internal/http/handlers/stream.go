package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

// VideoStream serves the job's event log as server-sent events. New
// connections replay everything after the client's cursor (Last-Event-ID
// header or ?after=), then follow the log until a terminal event. Because
// progress lives in the append-only log rather than in worker memory, a
// client can disconnect and resume at any point without losing frames.
func (a *App) VideoStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.Jobs.GetByID(r.Context(), jobID); err != nil {
		a.jobError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	after := streamCursor(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pollInterval := a.streamPollInterval()
	idleCyclesPerKeepalive := int(a.streamKeepalive() / pollInterval)
	if idleCyclesPerKeepalive < 1 {
		idleCyclesPerKeepalive = 1
	}

	ctx := r.Context()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	idle := 0
	for {
		events, err := a.Events.Since(ctx, jobID, after)
		if err != nil {
			if ctx.Err() == nil {
				a.Logger.Error().Err(err).Str("job_id", jobID).Msg("stream: list events")
			}
			return
		}

		for _, ev := range events {
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, ev.Payload)
			after = ev.Seq
			if domain.TerminalEvent(ev.Type) {
				flusher.Flush()
				return
			}
		}

		if len(events) > 0 {
			idle = 0
			flusher.Flush()
		} else {
			idle++
			if idle >= idleCyclesPerKeepalive {
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
				idle = 0
			}
			// No worker and nothing buffered: the job either never ran or
			// its terminal event sits at or below the client's cursor.
			if !a.Manager.Running(jobID) {
				job, err := a.Jobs.GetByID(ctx, jobID)
				if err != nil || job.Status.Terminal() {
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func streamCursor(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0
	}
	return cursor
}
