package api

import (
	"fmt"
	"net/http"

	"lostack/internal/gate"

	"github.com/gin-gonic/gin"
)

// Authorize is the forward-auth endpoint the reverse proxy calls for
// every request to a gated subdomain. The verdict is the HTTP status:
// 2xx lets the request through, 401/403 block it, 302 parks the caller
// on the progress page while containers come up.
func (h *Handler) Authorize(c *gin.Context) {
	req := identityFromHeaders(c, h.headers)
	decision := h.gate.Decide(c.Request.Context(), req)

	if !decision.Allowed {
		switch decision.Reason {
		case gate.DenyMissingIdentity:
			c.String(http.StatusUnauthorized, "authentication required")
		default:
			c.String(http.StatusForbidden, "access denied")
		}
		return
	}

	// 放行响应把身份头原样回写，代理会拷贝给上游
	c.Header(h.headers.UsernameHeader, req.User)
	c.Header(h.headers.GroupsHeader, c.GetHeader(h.headers.GroupsHeader))

	if decision.Target == nil || !decision.Target.AutostartEnabled {
		c.String(http.StatusOK, "OK")
		return
	}

	redirect := forwardedURL(req)
	taskID, err := h.tasks.HandleAutostart(c.Request.Context(), decision.Target, req.User, redirect)
	if err != nil {
		// 自启失败不能连带掐掉已放行的请求，照常 200
		h.logger.Error("Autostart failed", "service", decision.ServiceName, "error", err)
		c.String(http.StatusOK, "OK")
		return
	}
	if taskID == "" {
		c.String(http.StatusOK, "OK")
		return
	}

	c.Redirect(http.StatusFound, h.progressPageURL(taskID))
}

func (h *Handler) progressPageURL(taskID string) string {
	return fmt.Sprintf("https://lostack.%s/middleware/autostart/task-stream-page/%s",
		h.headers.DomainName, taskID)
}

func forwardedURL(req gate.Request) string {
	if req.ForwardedHost == "" {
		return ""
	}
	return "https://" + req.ForwardedHost + req.ForwardedURI
}
