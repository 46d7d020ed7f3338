package eventbus

import (
	"context"
	"sync"
)

var _ EventBus = (*MemoryBus)(nil)

const subscriberBuffer = 64

// MemoryBus 进程内的事件总线，用于单机部署和测试。
// 语义与 RedisBus 一致：每个订阅者各收到一份事件拷贝。
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string][]chan Event),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, taskID string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[taskID] {
		select {
		case ch <- event:
		default:
			// 慢订阅者丢事件，不能阻塞任务 worker
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, taskID string) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[taskID] = append(b.subs[taskID], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(taskID, ch)
	}()

	return ch, nil
}

func (b *MemoryBus) unsubscribe(taskID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[taskID]
	for i, c := range subs {
		if c == ch {
			b.subs[taskID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[taskID]) == 0 {
		delete(b.subs, taskID)
	}
	close(ch)
}
