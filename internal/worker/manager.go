package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/pipeline"
)

// Runner executes one job end to end. Satisfied by pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, p pipeline.Params) error
}

// Manager owns the background workers. It enforces single-flight per job,
// supports cooperative cancellation, and converts worker panics into a
// persisted error state so no job is ever left running forever.
type Manager struct {
	runner Runner
	jobs   domain.JobRepository
	events domain.EventLog
	logger infra.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs a Manager around the given runner.
func NewManager(runner Runner, jobs domain.JobRepository, events domain.EventLog, logger infra.Logger) *Manager {
	return &Manager{
		runner:  runner,
		jobs:    jobs,
		events:  events,
		logger:  logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches a worker for the job. It returns domain.ErrJobRunning when
// a worker for the same job is already active.
func (m *Manager) Start(p pipeline.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[p.JobID]; ok {
		return domain.ErrJobRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running[p.JobID] = cancel
	m.wg.Add(1)
	go m.run(ctx, cancel, p)
	return nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, p pipeline.Params) {
	defer m.wg.Done()
	// Registry removal is registered before the recover handler so that a
	// panicking worker persists its terminal state before the job slot is
	// released for a retry.
	defer func() {
		m.mu.Lock()
		delete(m.running, p.JobID)
		m.mu.Unlock()
		cancel()
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("job_id", p.JobID).Interface("panic", r).Msg("worker panic")
			m.persistPanic(p.JobID)
		}
	}()

	if err := m.runner.Run(ctx, p); err != nil {
		// The runner already persisted terminal state; the error here is
		// informational only.
		m.logger.Debug().Err(err).Str("job_id", p.JobID).Msg("worker finished with error")
	}
}

// persistPanic records a generic terminal error for a panicked worker. The
// panic value stays in the logs only.
func (m *Manager) persistPanic(jobID string) {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCtx()

	const msg = "internal error"
	if err := m.jobs.UpdateStatus(ctx, jobID, domain.JobStatusError, msg); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("persist panic status")
	}
	if _, err := m.events.Append(ctx, jobID, domain.EventError, []byte(`{"message":"internal error"}`)); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("append panic event")
	}
}

// Cancel signals the worker for jobID to stop. It reports whether a worker
// was running.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a worker is currently active for jobID.
func (m *Manager) Running(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[jobID]
	return ok
}

// RunningJobIDs returns the IDs of all active workers, sorted.
func (m *Manager) RunningJobIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every active worker and waits for them to drain, or until
// ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
