package maintenance

import (
	"context"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

// Janitor periodically deletes job events older than the retention window.
// Terminal jobs keep their rows; only the replayable event history ages out.
type Janitor struct {
	events    domain.EventLog
	logger    infra.Logger
	interval  time.Duration
	retention time.Duration
}

// NewJanitor configures a Janitor. Zero interval and retention fall back to
// hourly sweeps keeping 24 hours of events.
func NewJanitor(events domain.EventLog, logger infra.Logger, interval, retention time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Janitor{
		events:    events,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps once immediately and then on every tick until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)
	purged, err := j.events.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("maintenance: purge events")
		}
		return
	}
	if purged > 0 {
		j.logger.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("maintenance: purged old events")
	}
}
