package api

import (
	"log/slog"
	"net/http"
	"time"

	"lostack/internal/gate"
	"lostack/internal/registry"
	"lostack/internal/session"
	"lostack/internal/task"

	"github.com/gin-gonic/gin"
)

// Handler carries every collaborator the HTTP surface needs.
type Handler struct {
	gate     *gate.Gate
	tasks    *task.Orchestrator
	streamer *task.Streamer
	tracker  *session.Tracker
	finder   registry.Finder
	headers  HeaderConfig
	logger   *slog.Logger
}

func NewHandler(
	g *gate.Gate,
	tasks *task.Orchestrator,
	streamer *task.Streamer,
	tracker *session.Tracker,
	finder registry.Finder,
	headers HeaderConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		gate:     g,
		tasks:    tasks,
		streamer: streamer,
		tracker:  tracker,
		finder:   finder,
		headers:  headers,
		logger:   logger.With("component", "api"),
	}
}

func (h *Handler) SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware())
	router.Use(RequestIDMiddleware())

	router.GET("/health", h.Health)

	// 反向代理专用入口：forward-auth 判定与进度页
	middleware := router.Group("/middleware")
	middleware.Use(TrustedProxyMiddleware(h.headers.TrustedProxyIPs, h.logger))
	{
		// 代理按原始方法转发判定请求，任何方法都必须可达
		middleware.Any("/auth", h.Authorize)
		autostart := middleware.Group("/autostart")
		{
			autostart.GET("/task-stream-page/:id", h.TaskStreamPage)
			autostart.GET("/task-stream/:id", h.taskAccessRequired(), h.TaskStream)
			autostart.GET("/task-status/:id", h.taskAccessRequired(), h.TaskStatus)
		}
	}

	// 管理 API，仅限管理员组
	v1 := router.Group("/api/v1")
	v1.Use(AdminRequiredMiddleware(h.headers, h.logger))
	{
		v1.POST("/services/:name/start", h.StartService)
		v1.POST("/services/:name/stop", h.StopService)
		v1.GET("/services", h.ListServices)
		v1.PUT("/services/:name", h.UpsertService)
		v1.DELETE("/services/:name", h.DeleteService)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/tasks/:id", h.AdminTaskStatus)
		v1.POST("/cache/invalidate", h.InvalidateCache)
	}

	return router
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// taskAccessRequired enforces per-task visibility: admins always, others
// only when they share a group with the task's target.
func (h *Handler) taskAccessRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		req := identityFromHeaders(c, h.headers)
		if req.User == "" || len(req.Groups) == 0 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !h.tasks.HasAccess(taskID, req.Groups, h.headers.AdminGroup) {
			h.logger.Warn("DENY TASK ACCESS", "user", req.User, "task_id", taskID)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
