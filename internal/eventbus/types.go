package eventbus

import "time"

type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Terminal reports whether an event ends a task's progress feed.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func TaskChannelKey(taskID string) string {
	return "task:" + taskID + ":events"
}
