package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// DefaultRetentionHours keeps idempotency keys for thirty days.
const DefaultRetentionHours = 24 * 30

// KeyCleaner deletes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JobRecorder counts job runs.
type JobRecorder interface {
	JobRun(task string, err error)
}

// IdempotencyCleanupJob prunes processed request keys.
type IdempotencyCleanupJob struct {
	store   KeyCleaner
	logger  *slog.Logger
	metrics JobRecorder
}

// NewIdempotencyCleanupJob builds the job.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger, metrics JobRecorder) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, logger: logger, metrics: metrics}
}

// Handle implements asynq.HandlerFunc.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	payload := IdempotencyCleanupPayload{RetentionHours: DefaultRetentionHours}
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.RetentionHours <= 0 {
		return fmt.Errorf("jobs: invalid retention %d: %w", payload.RetentionHours, asynq.SkipRetry)
	}
	removed, err := j.store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if j.metrics != nil {
		j.metrics.JobRun(TaskIdempotencyCleanup, err)
	}
	if err != nil {
		j.logger.ErrorContext(ctx, "idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.logger.InfoContext(ctx, "idempotency keys pruned", slog.Int64("removed", removed))
	return nil
}
