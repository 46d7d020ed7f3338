package api

import (
	"strings"
	"time"

	"lostack/internal/gate"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

type TaskCreatedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type SessionResponse struct {
	ContainerID string `json:"container_id"`
	OwnerID     string `json:"owner_id"`
	Duration    string `json:"duration"`
	StartedAt   string `json:"started_at"`
	LastAccess  string `json:"last_access"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// SSEEvent 是推给进度页的事件结构
type SSEEvent struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp string `json:"timestamp"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// identityFromHeaders pulls the proxy-supplied identity and forwarded
// request metadata off a request, per the configured header names.
func identityFromHeaders(c *gin.Context, cfg HeaderConfig) gate.Request {
	groupsHeader := c.GetHeader(cfg.GroupsHeader)
	var groups []string
	for _, g := range strings.Split(groupsHeader, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}

	return gate.Request{
		User:            strings.TrimSpace(c.GetHeader(cfg.UsernameHeader)),
		Groups:          groups,
		RemoteAddr:      c.RemoteIP(),
		ForwardedFor:    c.GetHeader(cfg.ForwardedForHeader),
		ForwardedHost:   c.GetHeader(cfg.ForwardedHostHeader),
		ForwardedMethod: c.GetHeader(cfg.ForwardedMethodHeader),
		ForwardedURI:    c.GetHeader(cfg.ForwardedURIHeader),
	}
}

// HeaderConfig mirrors config.AuthConfig without importing it, so the
// api package stays constructible from tests with plain literals.
type HeaderConfig struct {
	AdminGroup            string
	TrustedProxyIPs       []string
	UsernameHeader        string
	GroupsHeader          string
	ForwardedForHeader    string
	ForwardedHostHeader   string
	ForwardedMethodHeader string
	ForwardedURIHeader    string
	DomainName            string
}
