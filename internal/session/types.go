package session

import "time"

// Session 是一个运行中容器的空闲窗口记账。
// last_access 每次经过网关的授权访问都会前移；空闲超过 Duration 即过期。
type Session struct {
	ContainerID string        `json:"container_id"`
	OwnerID     string        `json:"owner_id"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"started_at"`
	LastAccess  time.Time     `json:"last_access"`
}

// Expired reports whether the idle window has elapsed at time now.
func (s *Session) Expired(now time.Time) bool {
	return now.Sub(s.LastAccess) > s.Duration
}
