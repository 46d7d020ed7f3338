package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"lostack/internal/task"

	"github.com/hibiken/asynq"
)

var _ TaskWorker = (*TaskRunWorker)(nil)

// TaskRunWorker executes registered start/stop tasks off the asynq queue.
type TaskRunWorker struct {
	orchestrator *task.Orchestrator
	logger       *slog.Logger
}

func NewTaskRunWorker(orchestrator *task.Orchestrator, logger *slog.Logger) *TaskRunWorker {
	return &TaskRunWorker{
		orchestrator: orchestrator,
		logger:       logger.With("component", "task-worker"),
	}
}

func (w *TaskRunWorker) HandleTaskRun(ctx context.Context, t *asynq.Task) error {
	var payload task.RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}

	w.logger.Info("Processing task run", "task_id", payload.TaskID)
	return w.orchestrator.Run(ctx, payload.TaskID)
}

// NewEnqueuer returns the production EnqueueFunc backed by asynq.
// Tasks are never retried: failures are terminal and surfaced through
// the task's own status and stream.
func NewEnqueuer(client *asynq.Client) task.EnqueueFunc {
	return func(taskID string) error {
		payload, err := json.Marshal(task.RunPayload{TaskID: taskID})
		if err != nil {
			return err
		}
		_, err = client.Enqueue(asynq.NewTask(task.TaskRunJob, payload), asynq.MaxRetry(0))
		return err
	}
}
