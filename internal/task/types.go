package task

import (
	"errors"
	"time"

	"lostack/internal/registry"
)

type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// InFlight reports whether the task still holds its containers.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

var (
	// ErrTaskConflict：请求的容器与某个在途任务重叠。瞬态，调用方可重试。
	ErrTaskConflict = errors.New("conflicting task in flight")

	ErrNoContainers = errors.New("no containers given")

	ErrTaskNotFound = errors.New("task not found")
)

// Task 是一次异步 start/stop 操作。由 Orchestrator 独占持有，
// 状态变更只发生在 Orchestrator 的锁内。
type Task struct {
	ID              string
	Containers      []string
	Action          Action
	Status          Status
	CreatedAt       time.Time
	CompletedAt     time.Time
	Error           string
	RedirectTarget  string
	RefreshInterval time.Duration
	OwnerID         string
	SessionDuration time.Duration
	Target          *registry.Target // 目录条目，用于任务访问检查；管理员临时任务可为 nil
}

// Snapshot is the read-only task view returned by Status.
type Snapshot struct {
	TaskID          string   `json:"task_id"`
	Containers      []string `json:"containers"`
	Action          Action   `json:"action"`
	Status          Status   `json:"status"`
	CreatedAt       string   `json:"created_at"`
	CompletedAt     string   `json:"completed_at,omitempty"`
	Error           string   `json:"error,omitempty"`
	RedirectTarget  string   `json:"redirect_target,omitempty"`
	RefreshInterval string   `json:"refresh_interval,omitempty"`
}

// TaskRunJob is the asynq job type for executing a registered task.
const TaskRunJob = "task:run"

type RunPayload struct {
	TaskID string `json:"task_id"`
}
