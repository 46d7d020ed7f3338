package gate

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"lostack/internal/monitor"
	"lostack/internal/registry"
)

// AccessRecorder receives access notifications for containers behind an
// allowed target. Implemented by the session tracker.
type AccessRecorder interface {
	UpdateAccess(containerName, owner string)
}

// Gate 判定一个经代理转发的请求能否到达目标服务。
// 判定失败一律关闭：任何内部错误都以 Deny 形式返回，绝不向上抛。
type Gate struct {
	finder     registry.Finder
	cache      *Cache
	recorder   AccessRecorder
	adminGroup string
	logger     *slog.Logger
}

func NewGate(finder registry.Finder, cache *Cache, recorder AccessRecorder, adminGroup string, logger *slog.Logger) *Gate {
	return &Gate{
		finder:     finder,
		cache:      cache,
		recorder:   recorder,
		adminGroup: adminGroup,
		logger:     logger.With("component", "access-gate"),
	}
}

// Decide evaluates a forwarded request. Every allow and deny is logged
// with the caller identity and forwarded request line for audit.
func (g *Gate) Decide(ctx context.Context, req Request) Decision {
	serviceName := ServiceNameFromHost(req.ForwardedHost)

	if strings.TrimSpace(req.User) == "" || len(req.Groups) == 0 {
		return g.denied(req, deny(serviceName, DenyMissingIdentity))
	}

	// 管理员直接放行，无需目录查询
	if slices.Contains(req.Groups, g.adminGroup) {
		target, err := g.resolve(ctx, serviceName)
		if err != nil {
			// 管理员访问目录外的服务也放行，target 为 nil
			target = nil
		}
		return g.allowed(ctx, req, allow(serviceName, target))
	}

	target, err := g.resolve(ctx, serviceName)
	if errors.Is(err, registry.ErrTargetNotFound) {
		return g.denied(req, deny(serviceName, DenyTargetNotFound))
	}
	if err != nil {
		g.logger.Error("Target lookup failed", "service", serviceName, "error", err)
		return g.denied(req, deny(serviceName, DenyInternalError))
	}

	if !groupsIntersect(req.Groups, target.AllowedGroups) {
		return g.denied(req, deny(serviceName, DenyNotInGroups))
	}

	return g.allowed(ctx, req, allow(serviceName, target))
}

// InvalidateCache drops every cached resolution, e.g. after a catalog edit.
func (g *Gate) InvalidateCache() {
	g.cache.InvalidateAll()
}

func (g *Gate) resolve(ctx context.Context, serviceName string) (*registry.Target, error) {
	if res, ok := g.cache.Get(serviceName); ok {
		monitor.GateCacheHits.Inc()
		if !res.Found {
			return nil, registry.ErrTargetNotFound
		}
		return res.Target, nil
	}
	monitor.GateCacheMisses.Inc()

	target, err := g.finder.FindByServiceName(ctx, serviceName)
	if errors.Is(err, registry.ErrTargetNotFound) {
		g.cache.Set(serviceName, Resolution{Found: false})
		return nil, err
	}
	if err != nil {
		// 查询失败不缓存，下一个请求重新计算
		return nil, err
	}

	g.cache.Set(serviceName, Resolution{Found: true, Target: target})
	return target, nil
}

func (g *Gate) allowed(ctx context.Context, req Request, d Decision) Decision {
	monitor.GateAllowTotal.Inc()
	g.logger.Info("ALLOW",
		"user", req.User,
		"remote_addr", req.RemoteAddr,
		"forwarded_for", req.ForwardedFor,
		"method", req.ForwardedMethod,
		"host", req.ForwardedHost,
		"uri", req.ForwardedURI,
	)

	// 会话访问更新不能阻塞判定
	if g.recorder != nil && d.Target != nil && len(d.Target.ContainerNames) > 0 {
		containers := slices.Clone(d.Target.ContainerNames)
		owner := req.User
		go func() {
			for _, name := range containers {
				g.recorder.UpdateAccess(name, owner)
			}
		}()
	}

	return d
}

func (g *Gate) denied(req Request, d Decision) Decision {
	monitor.GateDenyTotal.Inc()
	g.logger.Warn("DENY",
		"reason", string(d.Reason),
		"user", req.User,
		"remote_addr", req.RemoteAddr,
		"forwarded_for", req.ForwardedFor,
		"method", req.ForwardedMethod,
		"host", req.ForwardedHost,
		"uri", req.ForwardedURI,
	)
	return d
}

// ServiceNameFromHost derives the service name from the leading label of
// the forwarded host ("app1.example.com" -> "app1").
func ServiceNameFromHost(host string) string {
	host = strings.TrimSpace(host)
	if i := strings.IndexByte(host, '.'); i >= 0 {
		return host[:i]
	}
	return host
}

func groupsIntersect(a, b []string) bool {
	for _, g := range a {
		if slices.Contains(b, g) {
			return true
		}
	}
	return false
}

// SweepCache evicts expired resolutions on a ticker. Blocks; run in a
// goroutine and close stopCh to end it.
func (g *Gate) SweepCache(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if n := g.cache.SweepExpired(); n > 0 {
				g.logger.Debug("Swept expired cache entries", "count", n)
			}
		}
	}
}
