package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity scans the journal for entries whose lines do not balance.
	TaskGLIntegrity = "gl:integrity"
	// TaskIdempotencyCleanup drops idempotency keys past their retention.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// GLIntegrityPayload bounds how many offending entries a scan reports.
type GLIntegrityPayload struct {
	Limit int `json:"limit"`
}

// IdempotencyCleanupPayload describes the retention applied by a cleanup run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewGLIntegrityTask constructs a scan task.
func NewGLIntegrityTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	if retentionHours <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive, got %d", retentionHours)
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewTask builds a task by name with its default payload.
func NewTask(name string) (*asynq.Task, error) {
	switch name {
	case TaskGLIntegrity:
		return NewGLIntegrityTask(DefaultIntegrityLimit)
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(DefaultRetentionHours)
	default:
		return nil, fmt.Errorf("jobs: unsupported task %q", name)
	}
}
