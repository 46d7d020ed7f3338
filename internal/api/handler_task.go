package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lostack/internal/task"

	"github.com/gin-gonic/gin"
)

// TaskStream GET /middleware/autostart/task-stream/:id
// 通过 SSE 向进度页推送任务事件流
func (h *Handler) TaskStream(c *gin.Context) {
	taskID := c.Param("id")

	eventCh, err := h.streamer.Open(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, mapTaskError(err), err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// 对于这个长时间存在的 SSE 连接，禁用服务器级别的 WriteTimeout。
	// 否则 http.Server.WriteTimeout 会在任务收尾前强行关闭 TCP 连接。
	rc := http.NewResponseController(c.Writer)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Warn("Failed to disable write deadline for SSE", "error", err)
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-eventCh:
			if !ok {
				// 事件序列结束，终态事件已经送达
				return false
			}

			sseEvent := SSEEvent{
				Type:      string(event.Type),
				TaskID:    event.TaskID,
				Payload:   event.Payload,
				Timestamp: formatTime(event.Timestamp),
			}

			data, err := json.Marshal(sseEvent)
			if err != nil {
				return false
			}

			c.SSEvent("message", string(data))
			return true

		case <-c.Request.Context().Done():
			// 客户端断连只结束本次订阅，任务继续跑
			return false
		}
	})
}

// TaskStatus GET /middleware/autostart/task-status/:id
func (h *Handler) TaskStatus(c *gin.Context) {
	taskID := c.Param("id")

	snap, ok := h.tasks.Status(taskID)
	if !ok {
		respondError(c, http.StatusNotFound, task.ErrTaskNotFound)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// TaskStreamPage serves the self-contained progress page. It subscribes
// to the task stream, renders progress lines, and navigates to the
// redirect target once a complete event arrives.
func (h *Handler) TaskStreamPage(c *gin.Context) {
	taskID := c.Param("id")

	snap, ok := h.tasks.Status(taskID)
	if !ok {
		c.String(http.StatusNotFound, "task not found")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, progressPageHTML, taskID, snap.RedirectTarget, taskID)
}

const progressPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Starting service...</title>
<style>
body { font-family: sans-serif; background: #1e1e2e; color: #cdd6f4; display: flex; flex-direction: column; align-items: center; padding-top: 10vh; }
#log { width: 80%%; max-width: 640px; background: #181825; border-radius: 8px; padding: 1em; font-family: monospace; font-size: 0.85em; white-space: pre-wrap; min-height: 8em; }
.spinner { border: 3px solid #313244; border-top-color: #89b4fa; border-radius: 50%%; width: 2em; height: 2em; animation: spin 1s linear infinite; margin-bottom: 1em; }
@keyframes spin { to { transform: rotate(360deg); } }
</style>
</head>
<body>
<div class="spinner" id="spinner"></div>
<h2>Starting service...</h2>
<div id="log">Connecting to task %s...</div>
<script>
const redirect = %q || document.referrer;
const log = document.getElementById("log");
const es = new EventSource("/middleware/autostart/task-stream/%s");
es.onmessage = function (msg) {
	const ev = JSON.parse(msg.data);
	if (ev.type === "heartbeat" || ev.type === "connected") return;
	if (typeof ev.payload === "string") log.textContent += "\n" + ev.payload;
	if (ev.type === "complete") {
		es.close();
		log.textContent += "\nDone, redirecting...";
		if (redirect) setTimeout(function () { window.location = redirect; }, 1000);
	}
	if (ev.type === "error") {
		es.close();
		document.getElementById("spinner").style.display = "none";
		log.textContent += "\nFailed: " + ev.payload;
	}
};
es.onerror = function () { es.close(); };
</script>
</body>
</html>`
