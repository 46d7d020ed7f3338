package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lostack/internal/eventbus"
	"lostack/internal/registry"
	"lostack/internal/runtime"
	"lostack/internal/session"
)

// fakeRuntime 可编程的运行时桩。block 为非 nil 时 Start/Stop 阻塞到通道
// 关闭，用于制造在途任务窗口。
type fakeRuntime struct {
	mu      sync.Mutex
	block   chan struct{}
	failErr error
	states  map[string]runtime.State
	started []string
	stopped []string
}

func (f *fakeRuntime) Start(ctx context.Context, names []string, sink runtime.LineSink) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.started = append(f.started, names...)
	return nil
}

func (f *fakeRuntime) Stop(ctx context.Context, names []string, sink runtime.LineSink) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.stopped = append(f.stopped, names...)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, names []string) error {
	return nil
}

func (f *fakeRuntime) QueryState(ctx context.Context, names []string) (map[string]runtime.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]runtime.State, len(names))
	for _, name := range names {
		state, ok := f.states[name]
		if !ok {
			state = runtime.StateAbsent
		}
		out[name] = state
	}
	return out, nil
}

type orchestratorHarness struct {
	orchestrator *Orchestrator
	runtime      *fakeRuntime
	tracker      *session.Tracker
	bus          *eventbus.MemoryBus
	done         chan string // 每个 Run 结束后收到 taskID
	finished     map[string]bool
}

// newOrchestratorHarness 用同步 EnqueueFunc 搭一套编排器：任务在
// goroutine 中立即执行，完成后通知 done。
func newOrchestratorHarness(t *testing.T, rt *fakeRuntime) *orchestratorHarness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.NewMemoryBus()
	tracker := session.NewTracker(
		session.NewStore(filepath.Join(t.TempDir(), "sessions.json")),
		session.TrackerConfig{DefaultDuration: time.Hour},
		logger,
	)

	h := &orchestratorHarness{
		runtime:  rt,
		tracker:  tracker,
		bus:      bus,
		done:     make(chan string, 16),
		finished: make(map[string]bool),
	}
	h.orchestrator = NewOrchestrator(rt, tracker, bus, func(taskID string) error {
		go func() {
			h.orchestrator.Run(context.Background(), taskID)
			h.done <- taskID
		}()
		return nil
	}, OrchestratorConfig{}, logger)

	return h
}

func (h *orchestratorHarness) waitDone(t *testing.T, taskID string) {
	t.Helper()
	if h.finished[taskID] {
		return
	}
	for {
		select {
		case id := <-h.done:
			h.finished[id] = true
			if id == taskID {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("task %s did not finish", taskID)
		}
	}
}

func mediaTarget() *registry.Target {
	return &registry.Target{
		Name:             "app",
		AllowedGroups:    []string{"media"},
		ContainerNames:   []string{"app", "app-db"},
		AutostartEnabled: true,
		SessionDuration:  time.Hour,
	}
}

func TestStartTaskOpensSessions(t *testing.T) {
	rt := &fakeRuntime{}
	h := newOrchestratorHarness(t, rt)

	taskID, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers:      []string{"app", "app-db"},
		Owner:           "alice",
		Target:          mediaTarget(),
		SessionDuration: time.Hour,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.waitDone(t, taskID)

	snap, ok := h.orchestrator.Status(taskID)
	if !ok {
		t.Fatal("task vanished")
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (error: %s)", snap.Status, StatusCompleted, snap.Error)
	}

	sessions := h.tracker.Snapshot()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions after start, got %d", len(sessions))
	}
}

func TestConflictOnContainerOverlap(t *testing.T) {
	rt := &fakeRuntime{block: make(chan struct{})}
	h := newOrchestratorHarness(t, rt)

	first, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"a", "b"},
		Owner:      "alice",
	})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	// 容器集相交的并发请求一律拒绝，无论动作
	if _, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"b", "c"},
		Owner:      "bob",
	}); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("overlapping start: err = %v, want ErrTaskConflict", err)
	}
	if _, err := h.orchestrator.Stop(context.Background(), []string{"a"}, nil); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("overlapping stop: err = %v, want ErrTaskConflict", err)
	}

	// 不相交的容器集不受影响
	disjoint, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"d"},
		Owner:      "carol",
	})
	if err != nil {
		t.Fatalf("disjoint Start failed: %v", err)
	}

	close(rt.block)
	h.waitDone(t, first)
	h.waitDone(t, disjoint)

	// 任务终态后容器占用释放，新任务可以注册
	if _, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"b", "c"},
		Owner:      "bob",
	}); err != nil {
		t.Fatalf("Start after completion failed: %v", err)
	}
}

func TestRuntimeFailureMarksTaskFailed(t *testing.T) {
	rt := &fakeRuntime{failErr: errors.New("daemon unreachable")}
	h := newOrchestratorHarness(t, rt)

	taskID, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"app"},
		Owner:      "alice",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.waitDone(t, taskID)

	snap, ok := h.orchestrator.Status(taskID)
	if !ok {
		t.Fatal("task vanished")
	}
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", snap.Status, StatusFailed)
	}
	if snap.Error == "" {
		t.Fatal("failed task carries no error message")
	}

	// 失败不开会话
	if n := len(h.tracker.Snapshot()); n != 0 {
		t.Fatalf("failed start opened %d sessions", n)
	}
}

func TestHandleAutostart(t *testing.T) {
	t.Run("starts only non-running subset", func(t *testing.T) {
		rt := &fakeRuntime{states: map[string]runtime.State{
			"app":    runtime.StateRunning,
			"app-db": runtime.StateExited,
		}}
		h := newOrchestratorHarness(t, rt)

		taskID, err := h.orchestrator.HandleAutostart(context.Background(), mediaTarget(), "alice", "https://app.example.com/")
		if err != nil {
			t.Fatalf("HandleAutostart failed: %v", err)
		}
		if taskID == "" {
			t.Fatal("expected a task for the stopped container")
		}
		h.waitDone(t, taskID)

		rt.mu.Lock()
		started := append([]string(nil), rt.started...)
		rt.mu.Unlock()
		if len(started) != 1 || started[0] != "app-db" {
			t.Fatalf("started %v, want [app-db]", started)
		}

		// 所有容器都拿到会话，包括已在运行的
		if n := len(h.tracker.Snapshot()); n != 2 {
			t.Fatalf("expected 2 sessions, got %d", n)
		}
	})

	t.Run("all running is a no-op", func(t *testing.T) {
		rt := &fakeRuntime{states: map[string]runtime.State{
			"app":    runtime.StateRunning,
			"app-db": runtime.StateRunning,
		}}
		h := newOrchestratorHarness(t, rt)

		taskID, err := h.orchestrator.HandleAutostart(context.Background(), mediaTarget(), "alice", "")
		if err != nil {
			t.Fatalf("HandleAutostart failed: %v", err)
		}
		if taskID != "" {
			t.Fatalf("expected no task, got %s", taskID)
		}

		// 运行中的容器照样续会话
		if n := len(h.tracker.Snapshot()); n != 2 {
			t.Fatalf("expected 2 sessions, got %d", n)
		}
	})

	t.Run("autostart disabled", func(t *testing.T) {
		rt := &fakeRuntime{}
		h := newOrchestratorHarness(t, rt)

		target := mediaTarget()
		target.AutostartEnabled = false

		taskID, err := h.orchestrator.HandleAutostart(context.Background(), target, "alice", "")
		if err != nil {
			t.Fatalf("HandleAutostart failed: %v", err)
		}
		if taskID != "" {
			t.Fatalf("expected no task for disabled autostart, got %s", taskID)
		}
	})
}

func TestEmptyContainerList(t *testing.T) {
	h := newOrchestratorHarness(t, &fakeRuntime{})

	if _, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{" ", ""},
	}); !errors.Is(err, ErrNoContainers) {
		t.Fatalf("err = %v, want ErrNoContainers", err)
	}
}

func TestHasAccess(t *testing.T) {
	rt := &fakeRuntime{}
	h := newOrchestratorHarness(t, rt)

	taskID, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"app"},
		Owner:      "alice",
		Target:     mediaTarget(),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.waitDone(t, taskID)

	if !h.orchestrator.HasAccess(taskID, []string{"media"}, "lostack_admin") {
		t.Fatal("group member denied task access")
	}
	if !h.orchestrator.HasAccess(taskID, []string{"lostack_admin"}, "lostack_admin") {
		t.Fatal("admin denied task access")
	}
	if h.orchestrator.HasAccess(taskID, []string{"guests"}, "lostack_admin") {
		t.Fatal("non-member granted task access")
	}
	if h.orchestrator.HasAccess("missing", []string{"media"}, "lostack_admin") {
		t.Fatal("access granted to unknown task")
	}
}

func TestRetentionSweep(t *testing.T) {
	rt := &fakeRuntime{}
	h := newOrchestratorHarness(t, rt)

	taskID, err := h.orchestrator.Start(context.Background(), StartRequest{
		Containers: []string{"app"},
		Owner:      "alice",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.waitDone(t, taskID)

	// 把时钟拨到保留窗口之外
	h.orchestrator.now = func() time.Time {
		return time.Now().Add(25 * time.Hour)
	}
	h.orchestrator.sweepOldTasks()

	if _, ok := h.orchestrator.Status(taskID); ok {
		t.Fatal("terminal task survived retention sweep")
	}
}
