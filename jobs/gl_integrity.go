package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// DefaultIntegrityLimit caps the entry ids reported by one scan.
const DefaultIntegrityLimit = 100

// ImbalanceScanner finds journal entries whose debits and credits disagree.
type ImbalanceScanner func(ctx context.Context, limit int) ([]int64, error)

// IntegrityRecorder receives scan outcomes.
type IntegrityRecorder interface {
	JobRun(task string, err error)
	IntegrityFindings(n int)
}

// GLIntegrityJob runs the read-only ledger balance scan.
type GLIntegrityJob struct {
	scan    ImbalanceScanner
	logger  *slog.Logger
	metrics IntegrityRecorder
}

// NewGLIntegrityJob builds the job.
func NewGLIntegrityJob(scan ImbalanceScanner, logger *slog.Logger, metrics IntegrityRecorder) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{scan: scan, logger: logger, metrics: metrics}
}

// Handle implements asynq.HandlerFunc.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	payload := GLIntegrityPayload{Limit: DefaultIntegrityLimit}
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode gl integrity payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.Limit)
	return err
}

// Run performs one scan and returns the offending entry ids.
func (j *GLIntegrityJob) Run(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = DefaultIntegrityLimit
	}
	ids, err := j.scan(ctx, limit)
	if j.metrics != nil {
		j.metrics.JobRun(TaskGLIntegrity, err)
	}
	if err != nil {
		j.logger.ErrorContext(ctx, "gl integrity scan failed", slog.Any("error", err))
		return nil, err
	}
	if j.metrics != nil {
		j.metrics.IntegrityFindings(len(ids))
	}
	if len(ids) > 0 {
		j.logger.WarnContext(ctx, "imbalanced journal entries found",
			slog.Int("count", len(ids)), slog.Any("entry_ids", ids))
		return ids, nil
	}
	j.logger.InfoContext(ctx, "gl integrity scan clean", slog.String("job", TaskGLIntegrity))
	return ids, nil
}
