package task

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"lostack/internal/eventbus"
	"lostack/internal/monitor"
	"lostack/internal/registry"
	"lostack/internal/runtime"
	"lostack/internal/session"

	"github.com/google/uuid"
)

// EnqueueFunc hands a registered task to the execution backend. In
// production this is an asynq enqueue; tests run the task as a goroutine.
type EnqueueFunc func(taskID string) error

type OrchestratorConfig struct {
	RetentionWindow time.Duration // 终态任务保留时长
	SweepInterval   time.Duration // 保留清扫间隔
}

// Orchestrator 拥有任务表及其锁。冲突检查与任务注册在同一临界区内完成，
// 任何与在途任务容器集相交的新请求都会被拒绝而不是排队。
type Orchestrator struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	active map[string]string // container name -> owning in-flight task id

	runtime runtime.Runtime
	tracker *session.Tracker
	bus     eventbus.EventBus
	enqueue EnqueueFunc
	config  OrchestratorConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	now     func() time.Time
}

func NewOrchestrator(
	rt runtime.Runtime,
	tracker *session.Tracker,
	bus eventbus.EventBus,
	enqueue EnqueueFunc,
	config OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if config.RetentionWindow == 0 {
		config.RetentionWindow = 24 * time.Hour
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = time.Minute
	}

	return &Orchestrator{
		tasks:   make(map[string]*Task),
		active:  make(map[string]string),
		runtime: rt,
		tracker: tracker,
		bus:     bus,
		enqueue: enqueue,
		config:  config,
		logger:  logger.With("component", "task-orchestrator"),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
}

// StartRequest carries everything a start task needs to open sessions and
// drive the progress page afterwards.
type StartRequest struct {
	Containers      []string
	Owner           string
	Redirect        string
	Target          *registry.Target
	SessionDuration time.Duration
	RefreshInterval time.Duration
}

// Start registers a start task and launches it. Returns ErrTaskConflict
// when any requested container participates in an in-flight task.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	t := &Task{
		Action:          ActionStart,
		OwnerID:         req.Owner,
		RedirectTarget:  req.Redirect,
		Target:          req.Target,
		SessionDuration: req.SessionDuration,
		RefreshInterval: req.RefreshInterval,
	}
	return o.register(t, req.Containers)
}

// Stop registers a stop task and launches it. Stop tasks never open
// sessions.
func (o *Orchestrator) Stop(ctx context.Context, containers []string, target *registry.Target) (string, error) {
	t := &Task{
		Action: ActionStop,
		Target: target,
	}
	return o.register(t, containers)
}

func (o *Orchestrator) register(t *Task, containers []string) (string, error) {
	valid := trimNames(containers)
	if len(valid) == 0 {
		return "", ErrNoContainers
	}

	t.ID = uuid.New().String()
	t.Containers = valid
	t.Status = StatusPending
	t.CreatedAt = o.now()

	// 检查与注册必须是一个原子临界区
	o.mu.Lock()
	for _, name := range valid {
		if holder, ok := o.active[name]; ok {
			o.mu.Unlock()
			monitor.TaskConflictsTotal.Inc()
			o.logger.Info("Task rejected for container overlap",
				"action", t.Action, "container", name, "holder", holder)
			return "", fmt.Errorf("%w: container %s", ErrTaskConflict, name)
		}
	}
	o.tasks[t.ID] = t
	for _, name := range valid {
		o.active[name] = t.ID
	}
	inFlight := len(o.active)
	o.mu.Unlock()

	monitor.TaskInFlightCount.Set(float64(inFlight))
	o.logger.Info("Task registered", "task_id", t.ID, "action", t.Action, "containers", valid)

	// 入队在锁外；入队失败时任务直接置为 failed
	if err := o.enqueue(t.ID); err != nil {
		o.logger.Error("Failed to enqueue task", "task_id", t.ID, "error", err)
		o.complete(t.ID, false, fmt.Sprintf("enqueue failed: %v", err))
		return "", err
	}

	return t.ID, nil
}

// Run is the worker body for one task. It never lets an error escape:
// runtime failures end up in task.Error with status failed, surfaced to
// clients only through the progress stream and status snapshots.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	t.Status = StatusRunning
	action := t.Action
	containers := slices.Clone(t.Containers)
	owner := t.OwnerID
	sessionDuration := t.SessionDuration
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Task worker panic", "task_id", taskID, "panic", r)
			o.publish(taskID, eventbus.EventError, fmt.Sprintf("internal error: %v", r))
			o.complete(taskID, false, fmt.Sprintf("internal error: %v", r))
		}
	}()

	o.publish(taskID, eventbus.EventStatus,
		fmt.Sprintf("Starting %s for %s", action, strings.Join(containers, ", ")))

	sink := func(line string) {
		o.publish(taskID, eventbus.EventStatus, line)
	}

	var err error
	switch action {
	case ActionStart:
		err = o.runtime.Start(ctx, containers, sink)
	case ActionStop:
		err = o.runtime.Stop(ctx, containers, sink)
	default:
		err = fmt.Errorf("unknown action: %s", action)
	}

	if err != nil {
		o.logger.Error("Task failed", "task_id", taskID, "action", action, "error", err)
		o.publish(taskID, eventbus.EventError, err.Error())
		o.complete(taskID, false, err.Error())
		return nil
	}

	// 启动成功后为每个容器开启/刷新会话
	if action == ActionStart && o.tracker != nil {
		for _, name := range containers {
			o.tracker.StartSession(name, owner, sessionDuration)
		}
	}

	for _, name := range containers {
		o.publish(taskID, eventbus.EventProgress, map[string]string{
			"container": name,
			"action":    string(action),
			"status":    "success",
		})
	}

	o.publish(taskID, eventbus.EventComplete, fmt.Sprintf("%s completed", capitalize(string(action))))
	o.complete(taskID, true, "")
	return nil
}

// HandleAutostart implements the gate-driven lazy start: sessions are
// opened for every container of the target so already-running ones keep
// accruing idle tracking, and only the non-running subset is started.
func (o *Orchestrator) HandleAutostart(ctx context.Context, target *registry.Target, owner, redirect string) (string, error) {
	names := trimNames(target.ContainerNames)
	if len(names) == 0 || !target.AutostartEnabled {
		return "", nil
	}

	states, err := o.runtime.QueryState(ctx, names)
	if err != nil {
		o.logger.Error("Failed to query container state", "service", target.Name, "error", err)
		return "", err
	}

	if o.tracker != nil {
		for _, name := range names {
			o.tracker.StartSession(name, owner, target.SessionDuration)
		}
	}

	var toStart []string
	for _, name := range names {
		if states[name] != runtime.StateRunning {
			toStart = append(toStart, name)
		}
	}
	if len(toStart) == 0 {
		return "", nil
	}

	return o.Start(ctx, StartRequest{
		Containers:      toStart,
		Owner:           owner,
		Redirect:        redirect,
		Target:          target,
		SessionDuration: target.SessionDuration,
		RefreshInterval: target.RefreshInterval,
	})
}

// Status returns a read-only snapshot of a task, without message replay.
func (o *Orchestrator) Status(taskID string) (*Snapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return nil, false
	}
	return o.snapshotLocked(t), true
}

// HasAccess reports whether a caller with the given groups may view a
// task. Admins see everything; otherwise the caller must share a group
// with the task's target.
func (o *Orchestrator) HasAccess(taskID string, groups []string, adminGroup string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return false
	}
	if slices.Contains(groups, adminGroup) {
		return true
	}
	if t.Target == nil {
		return false
	}
	for _, g := range groups {
		if slices.Contains(t.Target.AllowedGroups, g) {
			return true
		}
	}
	return false
}

// RunRetentionSweep purges terminal tasks older than the retention window.
// Blocks; run in a goroutine and Stop() to end it.
func (o *Orchestrator) RunRetentionSweep() {
	ticker := time.NewTicker(o.config.SweepInterval)
	defer ticker.Stop()

	o.logger.Info("Task retention sweep started",
		"interval", o.config.SweepInterval,
		"retention", o.config.RetentionWindow,
	)

	for {
		select {
		case <-o.stopCh:
			o.logger.Info("Task retention sweep stopped")
			return
		case <-ticker.C:
			o.sweepOldTasks()
		}
	}
}

func (o *Orchestrator) Shutdown() {
	select {
	case <-o.stopCh:
		// 已经关闭
	default:
		close(o.stopCh)
	}
}

func (o *Orchestrator) sweepOldTasks() {
	cutoff := o.now().Add(-o.config.RetentionWindow)

	o.mu.Lock()
	removed := 0
	for id, t := range o.tasks {
		if !t.Status.InFlight() && !t.CompletedAt.IsZero() && t.CompletedAt.Before(cutoff) {
			delete(o.tasks, id)
			removed++
		}
	}
	o.mu.Unlock()

	if removed > 0 {
		o.logger.Info("Purged old tasks", "count", removed)
	}
}

func (o *Orchestrator) complete(taskID string, success bool, errMsg string) {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if success {
		t.Status = StatusCompleted
	} else {
		t.Status = StatusFailed
	}
	t.CompletedAt = o.now()
	t.Error = errMsg
	for _, name := range t.Containers {
		delete(o.active, name)
	}
	inFlight := len(o.active)
	elapsed := t.CompletedAt.Sub(t.CreatedAt)
	o.mu.Unlock()

	monitor.TaskInFlightCount.Set(float64(inFlight))
	monitor.TaskDuration.Observe(elapsed.Seconds())
	o.logger.Info("Task finished", "task_id", taskID, "success", success, "elapsed", elapsed)
}

func (o *Orchestrator) publish(taskID string, eventType eventbus.EventType, payload any) {
	err := o.bus.Publish(context.Background(), taskID, eventbus.Event{
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payload,
		Timestamp: o.now(),
	})
	if err != nil {
		o.logger.Error("Failed to publish task event", "task_id", taskID, "type", eventType, "error", err)
	}
}

func (o *Orchestrator) snapshotLocked(t *Task) *Snapshot {
	snap := &Snapshot{
		TaskID:         t.ID,
		Containers:     slices.Clone(t.Containers),
		Action:         t.Action,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		Error:          t.Error,
		RedirectTarget: t.RedirectTarget,
	}
	if !t.CompletedAt.IsZero() {
		snap.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	if t.RefreshInterval > 0 {
		snap.RefreshInterval = t.RefreshInterval.String()
	}
	return snap
}

func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
