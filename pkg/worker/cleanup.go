package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/clinic-booking/pkg/logger"
)

// OutboxCleaner deletes processed events older than retention.
type OutboxCleaner interface {
	CleanupProcessedEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type OutboxCleanupWorker struct {
	cleaner   OutboxCleaner
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
}

func NewOutboxCleanupWorker(cleaner OutboxCleaner, retention, interval time.Duration, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		cleaner:   cleaner,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *OutboxCleanupWorker) RunOnce(ctx context.Context) {
	rows, err := w.cleaner.CleanupProcessedEvents(ctx, w.retention)
	if err != nil {
		w.logger.Error(err, "Failed to clean up outbox events")
		return
	}
	if rows > 0 {
		w.logger.Info("Cleaned up outbox events", "rows", rows, "retention", w.retention.String())
	}
}
