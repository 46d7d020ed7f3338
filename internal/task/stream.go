package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lostack/internal/eventbus"
	"lostack/internal/monitor"
)

type StreamConfig struct {
	PollInterval time.Duration // heartbeat 间隔，也是消息等待的轮询超时
	MaxWait      time.Duration // 任务迟迟不结束时的绝对墙钟上限
}

// Streamer 把任务的消息流转换成一个有限的、可多开的事件序列。
// 每次 Open 通过事件总线拿到自己的订阅，互相之间不会抢消息。
type Streamer struct {
	tasks  *Orchestrator
	bus    eventbus.EventBus
	config StreamConfig
	logger *slog.Logger
}

func NewStreamer(tasks *Orchestrator, bus eventbus.EventBus, config StreamConfig, logger *slog.Logger) *Streamer {
	if config.PollInterval == 0 {
		config.PollInterval = 500 * time.Millisecond
	}
	if config.MaxWait == 0 {
		config.MaxWait = 500 * time.Second
	}
	return &Streamer{
		tasks:  tasks,
		bus:    bus,
		config: config,
		logger: logger.With("component", "progress-stream"),
	}
}

// Open returns a finite, non-restartable event feed for one task. The
// sequence starts with a connected event and is guaranteed to end with
// exactly one terminal event (complete or error), even when the task's
// own messages never produce one. Cancelling ctx only stops the feed,
// never the task.
func (s *Streamer) Open(ctx context.Context, taskID string) (<-chan eventbus.Event, error) {
	if _, ok := s.tasks.Status(taskID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	// 先订阅再发 connected，避免丢掉紧随其后的消息
	sub, err := s.bus.Subscribe(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("subscribe task events: %w", err)
	}

	out := make(chan eventbus.Event, 16)
	go s.pump(ctx, taskID, sub, out)
	return out, nil
}

func (s *Streamer) pump(ctx context.Context, taskID string, sub <-chan eventbus.Event, out chan<- eventbus.Event) {
	monitor.StreamActiveSubscribers.Inc()
	defer monitor.StreamActiveSubscribers.Dec()
	defer close(out)

	if !s.send(ctx, out, s.event(taskID, eventbus.EventConnected, nil)) {
		return
	}

	deadline := time.Now().Add(s.config.MaxWait)
	terminalSent := false

loop:
	for {
		if time.Now().After(deadline) {
			s.logger.Error("Task stream timed out", "task_id", taskID, "max_wait", s.config.MaxWait)
			terminalSent = s.send(ctx, out, s.event(taskID, eventbus.EventError,
				fmt.Sprintf("task timed out after %s", s.config.MaxWait)))
			break loop
		}

		select {
		case ev, ok := <-sub:
			if !ok {
				break loop
			}
			if !s.send(ctx, out, ev) {
				return
			}
			if ev.Type.Terminal() {
				terminalSent = true
				break loop
			}

		case <-time.After(s.config.PollInterval):
			snap, ok := s.tasks.Status(taskID)
			if !ok {
				break loop
			}
			// 空轮询发心跳，带上当前任务状态，维持中间代理的连接
			if !s.send(ctx, out, s.event(taskID, eventbus.EventHeartbeat, string(snap.Status))) {
				return
			}
			if !snap.Status.InFlight() {
				break loop
			}

		case <-ctx.Done():
			return
		}
	}

	if terminalSent {
		return
	}

	// 兜底终止事件：无论消息通道给没给出终态，消费者都看到明确的结束
	snap, ok := s.tasks.Status(taskID)
	if ok && snap.Status == StatusCompleted {
		s.send(ctx, out, s.event(taskID, eventbus.EventComplete, "Task completed successfully"))
		return
	}
	msg := "Task failed"
	if ok && snap.Error != "" {
		msg = "Task failed: " + snap.Error
	}
	s.send(ctx, out, s.event(taskID, eventbus.EventError, msg))
}

func (s *Streamer) send(ctx context.Context, out chan<- eventbus.Event, ev eventbus.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Streamer) event(taskID string, eventType eventbus.EventType, payload any) eventbus.Event {
	return eventbus.Event{
		Type:      eventType,
		TaskID:    taskID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
