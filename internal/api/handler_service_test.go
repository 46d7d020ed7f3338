package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lostack/internal/registry"
	"lostack/internal/runtime"
)

func adminRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Remote-User", "root")
	req.Header.Set("Remote-Groups", "lostack_admin")
	return req
}

func TestStopServiceStopsOnlyThroughTask(t *testing.T) {
	finder := &stubFinder{targets: map[string]*registry.Target{
		"app": {
			Name:           "app",
			AllowedGroups:  []string{"media"},
			ContainerNames: []string{"app"},
		},
	}}
	rt := &stubRuntime{states: map[string]runtime.State{"app": runtime.StateRunning}}
	h := newTestHandler(t, finder, rt)
	router := h.SetupRouter()

	h.tracker.StartSession("app", "alice", time.Hour)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, adminRequest(http.MethodPost, "/api/v1/services/app/stop"))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body: %s)", w.Code, w.Body.String())
	}

	// 会话记账同步清掉
	if n := len(h.tracker.Snapshot()); n != 0 {
		t.Fatalf("expected no sessions after stop, got %d", n)
	}

	// 停机只由任务发出一次，handler 不直接调运行时
	deadline := time.Now().Add(2 * time.Second)
	for rt.stopCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stop task never reached the runtime")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rt.stopCount(); n != 1 {
		t.Fatalf("runtime stopped %d times, want exactly 1", n)
	}
}

func TestAdminEndpointsRequireAdminGroup(t *testing.T) {
	h := newTestHandler(t, &stubFinder{}, &stubRuntime{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Remote-User", "alice")
	req.Header.Set("Remote-Groups", "media")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
