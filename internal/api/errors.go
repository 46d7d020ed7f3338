package api

import (
	"errors"
	"net/http"

	"lostack/internal/registry"
	"lostack/internal/task"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, code int, err error) {
	c.JSON(code, ErrorResponse{
		Error: err.Error(),
		Code:  code,
	})
}

func mapTaskError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, task.ErrTaskConflict):
		return http.StatusConflict
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrNoContainers):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrTargetNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
