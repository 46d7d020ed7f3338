package eventbus

import "context"

type EventBus interface {
	Publish(ctx context.Context, taskID string, event Event) error
	Subscribe(ctx context.Context, taskID string) (<-chan Event, error)
}
