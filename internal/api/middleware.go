package api

import (
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
)

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqPath := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			"method", c.Request.Method,
			"path", reqPath,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		if status >= 500 {
			slog.Error("Request", attrs...)
		} else if status >= 400 {
			slog.Warn("Request", attrs...)
		} else {
			slog.Info("Request", attrs...)
		}
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func generateRequestID() string {
	return time.Now().Format("20060102150405.000000")
}

// TrustedProxyMiddleware rejects callers whose remote address does not
// match any configured glob pattern. The gate trusts identity headers,
// so only the reverse proxy may reach the gated endpoints.
func TrustedProxyMiddleware(patterns []string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		remote := c.RemoteIP()
		if !matchesAny(remote, patterns) {
			logger.Warn("Untrusted proxy", "remote_addr", remote)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func matchesAny(addr string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, addr); err == nil && ok {
			return true
		}
	}
	return false
}

// AdminRequiredMiddleware gates the management API on the admin group.
func AdminRequiredMiddleware(cfg HeaderConfig, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := identityFromHeaders(c, cfg)
		if req.User == "" || len(req.Groups) == 0 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !contains(req.Groups, cfg.AdminGroup) {
			logger.Warn("DENY ADMIN API", "user", req.User, "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Set("user", req.User)
		c.Next()
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
