package session

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type trackerHarness struct {
	tracker *Tracker
	clock   *fakeClock
	stops   *stopRecorder
}

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

type stopRecorder struct {
	mu      sync.Mutex
	stopped []string
}

func (s *stopRecorder) Stop(ctx context.Context, containers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, containers...)
	return nil
}

func (s *stopRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stopped)
}

func newTrackerHarness(t *testing.T) *trackerHarness {
	t.Helper()

	clock := &fakeClock{current: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	stops := &stopRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := NewStore(filepath.Join(t.TempDir(), "sessions.json"))
	tracker := NewTracker(store, TrackerConfig{
		SweepInterval:   10 * time.Second,
		FlushInterval:   time.Hour,
		DefaultDuration: time.Hour,
	}, logger)
	tracker.now = clock.Now
	tracker.BindStopper(stops.Stop)

	return &trackerHarness{tracker: tracker, clock: clock, stops: stops}
}

func TestSessionExpiresExactlyOnce(t *testing.T) {
	h := newTrackerHarness(t)

	h.tracker.StartSession("app", "alice", 30*time.Minute)

	// 空闲窗口内清扫不动它
	h.clock.Advance(29 * time.Minute)
	h.tracker.sweepExpired()
	if n := h.stops.count(); n != 0 {
		t.Fatalf("session stopped before expiry, stops=%d", n)
	}

	// 过期后第一次清扫停掉容器
	h.clock.Advance(2 * time.Minute)
	h.tracker.sweepExpired()
	if n := h.stops.count(); n != 1 {
		t.Fatalf("expected 1 stop after expiry, got %d", n)
	}

	// 会话已移除，后续清扫不再重复停机
	h.tracker.sweepExpired()
	if n := h.stops.count(); n != 1 {
		t.Fatalf("expired session stopped twice, stops=%d", n)
	}
}

func TestAccessBumpSurvivesSweep(t *testing.T) {
	h := newTrackerHarness(t)

	h.tracker.StartSession("app", "alice", 30*time.Minute)
	h.clock.Advance(31 * time.Minute)

	// 清扫快照后、删除前的访问更新必须让会话活下来：
	// removeIfExpired 在同一临界区内复查过期判定
	h.tracker.UpdateAccess("app", "alice")
	if h.tracker.removeIfExpired("app") {
		t.Fatal("session removed despite fresh access")
	}

	if n := len(h.tracker.Snapshot()); n != 1 {
		t.Fatalf("expected 1 live session, got %d", n)
	}
}

func TestUpdateAccessCreatesDefaultSession(t *testing.T) {
	h := newTrackerHarness(t)

	// 网关放行了一个编排器之外启动的容器
	h.tracker.UpdateAccess("sidecar", "alice")

	snap := h.tracker.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 session, got %d", len(snap))
	}
	if snap[0].ContainerID != "sidecar" || snap[0].OwnerID != "alice" {
		t.Fatalf("unexpected session: %+v", snap[0])
	}
	if snap[0].Duration != time.Hour {
		t.Fatalf("duration = %v, want default 1h", snap[0].Duration)
	}
}

func TestStartSessionResetsWindow(t *testing.T) {
	h := newTrackerHarness(t)

	h.tracker.StartSession("app", "alice", 30*time.Minute)
	h.clock.Advance(29 * time.Minute)

	// 重新启动重置空闲窗口
	h.tracker.StartSession("app", "bob", 30*time.Minute)
	h.clock.Advance(29 * time.Minute)

	h.tracker.sweepExpired()
	if n := h.stops.count(); n != 0 {
		t.Fatalf("reset session expired early, stops=%d", n)
	}

	snap := h.tracker.Snapshot()
	if len(snap) != 1 || snap[0].OwnerID != "bob" {
		t.Fatalf("unexpected sessions: %+v", snap)
	}
}

func TestDiscardSessionLeavesContainerAlone(t *testing.T) {
	h := newTrackerHarness(t)

	h.tracker.StartSession("app", "alice", time.Hour)
	h.tracker.DiscardSession("app")

	if n := h.stops.count(); n != 0 {
		t.Fatalf("DiscardSession issued %d stop calls, want 0", n)
	}
	if n := len(h.tracker.Snapshot()); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}

	// 不存在的会话是 no-op
	h.tracker.DiscardSession("app")
}

func TestEndSessionStopsContainer(t *testing.T) {
	h := newTrackerHarness(t)

	h.tracker.StartSession("app", "alice", time.Hour)
	h.tracker.EndSession(context.Background(), "app")

	if n := h.stops.count(); n != 1 {
		t.Fatalf("expected 1 stop, got %d", n)
	}
	if n := len(h.tracker.Snapshot()); n != 0 {
		t.Fatalf("expected no sessions, got %d", n)
	}

	// 不存在的会话是 no-op
	h.tracker.EndSession(context.Background(), "app")
	if n := h.stops.count(); n != 1 {
		t.Fatalf("EndSession on missing session stopped container, stops=%d", n)
	}
}

func TestTrackerReloadsFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := TrackerConfig{DefaultDuration: time.Hour}

	first := NewTracker(NewStore(path), cfg, logger)
	first.StartSession("app", "alice", 30*time.Minute)
	first.flush()

	second := NewTracker(NewStore(path), cfg, logger)
	snap := second.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 restored session, got %d", len(snap))
	}
	if snap[0].ContainerID != "app" || snap[0].Duration != 30*time.Minute {
		t.Fatalf("unexpected restored session: %+v", snap[0])
	}
}
