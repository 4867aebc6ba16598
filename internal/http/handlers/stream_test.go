package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"server/internal/domain"
)

func seedStreamEvents(t *testing.T, env *testEnv, jobID string, types []string) {
	t.Helper()
	ctx := context.Background()
	env.seedJob(t, &domain.Job{ID: jobID, Status: domain.JobStatusComplete})
	for _, evType := range types {
		if _, err := env.store.Events().Append(ctx, jobID, evType, []byte(`{"k":1}`)); err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
}

func TestStreamReplaysLogAndClosesOnTerminal(t *testing.T) {
	env := newTestEnv(t)
	seedStreamEvents(t, env, "job-1", []string{
		domain.EventJobCreated,
		domain.EventPlanning,
		domain.EventComplete,
	})

	rec := env.do(http.MethodGet, "/v1/videos/job-1/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"id: 1\nevent: job_created\n",
		"id: 2\nevent: planning\n",
		"id: 3\nevent: complete\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("stream body missing %q:\n%s", want, body)
		}
	}
}

func TestStreamResumesFromLastEventID(t *testing.T) {
	env := newTestEnv(t)
	seedStreamEvents(t, env, "job-1", []string{
		domain.EventJobCreated,
		domain.EventPlanning,
		domain.EventComplete,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/videos/job-1/stream", nil)
	req.Header.Set("Last-Event-ID", "2")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "event: job_created") || strings.Contains(body, "event: planning") {
		t.Fatalf("replayed events at or below the cursor:\n%s", body)
	}
	if !strings.Contains(body, "id: 3\nevent: complete\n") {
		t.Fatalf("missing events above the cursor:\n%s", body)
	}
}

func TestStreamQueryCursorFallback(t *testing.T) {
	env := newTestEnv(t)
	seedStreamEvents(t, env, "job-1", []string{domain.EventJobCreated, domain.EventComplete})

	rec := env.do(http.MethodGet, "/v1/videos/job-1/stream?after=1", nil)
	body := rec.Body.String()
	if strings.Contains(body, "event: job_created") {
		t.Fatalf("replayed event below cursor:\n%s", body)
	}
	if !strings.Contains(body, "event: complete") {
		t.Fatalf("missing terminal event:\n%s", body)
	}
}

func TestStreamEndsWhenWorkerGoneAndJobTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.seedJob(t, &domain.Job{ID: "job-1", Status: domain.JobStatusError, ErrorMessage: "boom"})

	// No events, no worker: the handler must return instead of polling
	// forever.
	rec := env.do(http.MethodGet, "/v1/videos/job-1/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStreamUnknownJob(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/v1/videos/ghost/stream", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
