package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

type TaskWorker interface {
	HandleTaskRun(ctx context.Context, task *asynq.Task) error
}
