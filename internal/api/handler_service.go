package api

import (
	"context"
	"errors"
	"net/http"

	"lostack/internal/registry"
	"lostack/internal/registry/repo"
	"lostack/internal/task"

	"github.com/gin-gonic/gin"
)

// CatalogWriter is the mutation side of the service catalog, implemented
// by the pg-backed repository.
type CatalogWriter interface {
	Upsert(ctx context.Context, model *repo.TargetModel) error
	Delete(ctx context.Context, name string) error
}

// StartService POST /api/v1/services/:name/start
// 管理员手动启动一个目录服务的全部容器
func (h *Handler) StartService(c *gin.Context) {
	name := c.Param("name")

	target, err := h.finder.FindByServiceName(c.Request.Context(), name)
	if err != nil {
		respondError(c, mapTaskError(err), err)
		return
	}

	taskID, err := h.tasks.Start(c.Request.Context(), task.StartRequest{
		Containers:      target.ContainerNames,
		Owner:           c.GetString("user"),
		Target:          target,
		SessionDuration: target.SessionDuration,
		RefreshInterval: target.RefreshInterval,
	})
	if err != nil {
		respondError(c, mapTaskError(err), err)
		return
	}

	c.JSON(http.StatusAccepted, TaskCreatedResponse{TaskID: taskID, Status: "pending"})
}

// StopService POST /api/v1/services/:name/stop
func (h *Handler) StopService(c *gin.Context) {
	name := c.Param("name")

	target, err := h.finder.FindByServiceName(c.Request.Context(), name)
	if err != nil {
		respondError(c, mapTaskError(err), err)
		return
	}

	taskID, err := h.tasks.Stop(c.Request.Context(), target.ContainerNames, target)
	if err != nil {
		respondError(c, mapTaskError(err), err)
		return
	}

	// 停机由任务执行，这里只清掉会话记账，不再重复发停机调用
	for _, container := range target.ContainerNames {
		h.tracker.DiscardSession(container)
	}

	c.JSON(http.StatusAccepted, TaskCreatedResponse{TaskID: taskID, Status: "pending"})
}

// ListServices GET /api/v1/services
func (h *Handler) ListServices(c *gin.Context) {
	lister, ok := h.finder.(registry.Lister)
	if !ok {
		respondError(c, http.StatusNotImplemented, errors.New("catalog listing not supported"))
		return
	}

	targets, err := lister.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": targets})
}

// ListSessions GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions := h.tracker.Snapshot()

	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ContainerID: sess.ContainerID,
			OwnerID:     sess.OwnerID,
			Duration:    sess.Duration.String(),
			StartedAt:   formatTime(sess.StartedAt),
			LastAccess:  formatTime(sess.LastAccess),
		})
	}
	c.JSON(http.StatusOK, resp)
}

type upsertServiceRequest struct {
	AllowedGroups    string `json:"allowed_groups" binding:"required"`
	ContainerNames   string `json:"container_names" binding:"required"`
	AutostartEnabled bool   `json:"autostart_enabled"`
	SessionDuration  string `json:"session_duration"`
	RefreshInterval  string `json:"refresh_interval"`
}

// UpsertService PUT /api/v1/services/:name
// 新建或更新一条目录条目，随后丢弃判定缓存让改动立即生效
func (h *Handler) UpsertService(c *gin.Context) {
	writer, ok := h.finder.(CatalogWriter)
	if !ok {
		respondError(c, http.StatusNotImplemented, errors.New("catalog editing not supported"))
		return
	}

	var req upsertServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if req.SessionDuration != "" {
		if _, err := registry.ParseDuration(req.SessionDuration); err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
	}

	model := &repo.TargetModel{
		Name:             c.Param("name"),
		AllowedGroups:    req.AllowedGroups,
		ContainerNames:   req.ContainerNames,
		AutostartEnabled: req.AutostartEnabled,
		SessionDuration:  req.SessionDuration,
		RefreshInterval:  req.RefreshInterval,
	}
	if err := writer.Upsert(c.Request.Context(), model); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	h.gate.InvalidateCache()
	c.JSON(http.StatusOK, model)
}

// DeleteService DELETE /api/v1/services/:name
func (h *Handler) DeleteService(c *gin.Context) {
	writer, ok := h.finder.(CatalogWriter)
	if !ok {
		respondError(c, http.StatusNotImplemented, errors.New("catalog editing not supported"))
		return
	}

	if err := writer.Delete(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	h.gate.InvalidateCache()
	c.Status(http.StatusNoContent)
}

// AdminTaskStatus GET /api/v1/tasks/:id
func (h *Handler) AdminTaskStatus(c *gin.Context) {
	snap, ok := h.tasks.Status(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, task.ErrTaskNotFound)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// InvalidateCache POST /api/v1/cache/invalidate
// 目录编辑后调用，丢弃全部判定缓存
func (h *Handler) InvalidateCache(c *gin.Context) {
	h.gate.InvalidateCache()
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}
