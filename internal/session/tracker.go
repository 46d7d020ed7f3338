package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lostack/internal/monitor"
)

// StopFunc issues the runtime stop for an expired session's container.
// Bound late (BindStopper) because the task orchestrator both consumes
// the tracker and provides the stop path.
type StopFunc func(ctx context.Context, containers []string) error

type TrackerConfig struct {
	SweepInterval   time.Duration // 空闲检查间隔
	FlushInterval   time.Duration // 全量落盘间隔
	DefaultDuration time.Duration // update_access 自动建会话时的空闲额度
}

// Tracker 拥有会话表及其锁。空闲清扫循环与请求驱动的访问更新竞争同一把锁，
// 过期判定在删除前于临界区内复查，保证清扫读到快照之后又被访问过的会话不会被杀。
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	dirty    bool

	store  *Store
	stopFn StopFunc
	config TrackerConfig
	logger *slog.Logger
	stopCh chan struct{}
	now    func() time.Time
}

func NewTracker(store *Store, config TrackerConfig, logger *slog.Logger) *Tracker {
	if config.SweepInterval == 0 {
		config.SweepInterval = 10 * time.Second
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = time.Hour
	}
	if config.DefaultDuration == 0 {
		config.DefaultDuration = time.Hour
	}

	t := &Tracker{
		sessions: make(map[string]*Session),
		store:    store,
		config:   config,
		logger:   logger.With("component", "session-tracker"),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if store != nil {
		sessions, err := store.Load()
		if err != nil {
			// 持久化故障降级运行，内存状态仍然权威
			t.logger.Error("Failed to load session store", "error", err)
		} else {
			t.sessions = sessions
			if len(sessions) > 0 {
				t.logger.Info("Loaded sessions from store", "count", len(sessions))
			}
		}
	}
	monitor.SessionActiveCount.Set(float64(len(t.sessions)))

	return t
}

// BindStopper wires the stop primitive. Must be called before Run.
func (t *Tracker) BindStopper(fn StopFunc) {
	t.stopFn = fn
}

// StartSession creates or resets the session for a container. Idempotent.
func (t *Tracker) StartSession(containerID, owner string, duration time.Duration) {
	if duration <= 0 {
		duration = t.config.DefaultDuration
	}
	now := t.now()

	t.mu.Lock()
	t.sessions[containerID] = &Session{
		ContainerID: containerID,
		OwnerID:     owner,
		Duration:    duration,
		StartedAt:   now,
		LastAccess:  now,
	}
	t.dirty = true
	count := len(t.sessions)
	t.mu.Unlock()

	monitor.SessionActiveCount.Set(float64(count))
	t.logger.Info("Session started", "container", containerID, "owner", owner, "duration", duration)
}

// UpdateAccess bumps last_access. A container visited through the gate
// without a session (e.g. started outside the orchestrator) gets one with
// the default duration so it still accrues idle tracking.
func (t *Tracker) UpdateAccess(containerID, owner string) {
	now := t.now()

	t.mu.Lock()
	if sess, ok := t.sessions[containerID]; ok {
		sess.LastAccess = now
	} else {
		t.sessions[containerID] = &Session{
			ContainerID: containerID,
			OwnerID:     owner,
			Duration:    t.config.DefaultDuration,
			StartedAt:   now,
			LastAccess:  now,
		}
	}
	t.dirty = true
	count := len(t.sessions)
	t.mu.Unlock()

	monitor.SessionActiveCount.Set(float64(count))
}

// EndSession removes the session and stops its container. Tolerant of
// "already stopped": stop errors are logged, never surfaced.
func (t *Tracker) EndSession(ctx context.Context, containerID string) {
	t.mu.Lock()
	_, ok := t.sessions[containerID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, containerID)
	t.dirty = true
	count := len(t.sessions)
	t.mu.Unlock()

	monitor.SessionActiveCount.Set(float64(count))
	t.flush()

	// 锁外调用运行时原语，避免慢停机阻塞无关请求
	if t.stopFn != nil {
		if err := t.stopFn(ctx, []string{containerID}); err != nil {
			t.logger.Error("Failed to stop container", "container", containerID, "error", err)
		}
	}
}

// DiscardSession removes the session without touching the container.
// For callers that stop containers through their own path (e.g. a stop
// task) and only need the bookkeeping cleared.
func (t *Tracker) DiscardSession(containerID string) {
	t.mu.Lock()
	_, ok := t.sessions[containerID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, containerID)
	t.dirty = true
	count := len(t.sessions)
	t.mu.Unlock()

	monitor.SessionActiveCount.Set(float64(count))
	t.flush()
}

// Snapshot returns a copy of every active session, for the admin API.
func (t *Tracker) Snapshot() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, *sess)
	}
	return out
}

// Run drives the idle sweep and the periodic flush. Blocks; call in a
// goroutine and Stop() to end it.
func (t *Tracker) Run() {
	sweep := time.NewTicker(t.config.SweepInterval)
	defer sweep.Stop()
	flush := time.NewTicker(t.config.FlushInterval)
	defer flush.Stop()

	t.logger.Info("Session tracker started",
		"sweep_interval", t.config.SweepInterval,
		"flush_interval", t.config.FlushInterval,
	)

	for {
		select {
		case <-t.stopCh:
			t.flush()
			t.logger.Info("Session tracker stopped")
			return
		case <-sweep.C:
			t.sweepExpired()
			t.flushIfDirty()
		case <-flush.C:
			t.flush()
		}
	}
}

func (t *Tracker) Stop() {
	select {
	case <-t.stopCh:
		// 已经关闭
	default:
		close(t.stopCh)
	}
}

// sweepExpired expires idle sessions exactly once each. The candidate list
// is taken under the lock, then each candidate is re-validated inside
// EndSession's critical section, so a session touched between snapshot and
// action survives.
func (t *Tracker) sweepExpired() {
	now := t.now()

	t.mu.Lock()
	var expired []string
	for containerID, sess := range t.sessions {
		if sess.Expired(now) {
			expired = append(expired, containerID)
		}
	}
	t.mu.Unlock()

	for _, containerID := range expired {
		if !t.removeIfExpired(containerID) {
			continue
		}

		monitor.SessionActiveCount.Set(float64(t.count()))
		monitor.SessionExpiredTotal.Inc()
		t.flush()

		t.logger.Info("Session expired, stopping container", "container", containerID)
		if t.stopFn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := t.stopFn(ctx, []string{containerID}); err != nil {
				t.logger.Error("Failed to stop container", "container", containerID, "error", err)
			}
			cancel()
		}
	}
}

// removeIfExpired re-validates and removes in a single critical section,
// so an access bump between snapshot and action keeps the session alive.
func (t *Tracker) removeIfExpired(containerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[containerID]
	if !ok || !sess.Expired(t.now()) {
		return false
	}
	delete(t.sessions, containerID)
	t.dirty = true
	return true
}

func (t *Tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *Tracker) flushIfDirty() {
	t.mu.Lock()
	dirty := t.dirty
	t.mu.Unlock()
	if dirty {
		t.flush()
	}
}

func (t *Tracker) flush() {
	if t.store == nil {
		return
	}

	t.mu.Lock()
	snapshot := make(map[string]*Session, len(t.sessions))
	for containerID, sess := range t.sessions {
		copied := *sess
		snapshot[containerID] = &copied
	}
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.Save(snapshot); err != nil {
		t.logger.Error("Failed to flush sessions", "error", err)
	}
}
