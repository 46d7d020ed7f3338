package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"lostack/internal/api"
	"lostack/internal/config"
	"lostack/internal/eventbus"
	"lostack/internal/gate"
	"lostack/internal/monitor"
	"lostack/internal/registry/repo"
	"lostack/internal/runtime"
	"lostack/internal/session"
	"lostack/internal/task"
	"lostack/internal/task/worker"

	"github.com/hibiken/asynq"
)

type Server struct {
	cfg          *config.Config
	deps         *Dependency
	httpServer   *http.Server
	asynqServer  *asynq.Server
	asynqMux     *asynq.ServeMux
	tracker      *session.Tracker
	orchestrator *task.Orchestrator
	accessGate   *gate.Gate
	gateStopCh   chan struct{}
	logger       *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) *Server {
	logger := deps.Logger

	bus := eventbus.NewRedisBus(deps.Redis, logger)
	rt := runtime.NewDockerRuntime(deps.Docker, logger)

	store := session.NewStore(cfg.Session.StorePath)
	tracker := session.NewTracker(store, session.TrackerConfig{
		SweepInterval:   cfg.Session.SweepInterval,
		FlushInterval:   cfg.Session.FlushInterval,
		DefaultDuration: cfg.Session.DefaultDuration,
	}, logger)

	orchestrator := task.NewOrchestrator(
		rt,
		tracker,
		bus,
		worker.NewEnqueuer(deps.AsynqClient),
		task.OrchestratorConfig{
			RetentionWindow: cfg.Task.RetentionWindow,
			SweepInterval:   cfg.Task.SweepInterval,
		},
		logger,
	)

	// 过期会话由编排器之外的停机原语处理：直接走运行时，
	// 避免和在途任务的容器占用冲突检查纠缠
	tracker.BindStopper(func(ctx context.Context, containers []string) error {
		return rt.Stop(ctx, containers, nil)
	})

	targetRepo := repo.NewRepository(deps.PG, deps.Redis)
	permCache := gate.NewCache(cfg.Cache.TTL)
	accessGate := gate.NewGate(targetRepo, permCache, tracker, cfg.Auth.AdminGroup, logger)

	streamer := task.NewStreamer(orchestrator, bus, task.StreamConfig{
		PollInterval: cfg.Stream.PollInterval,
		MaxWait:      cfg.Stream.MaxWait,
	}, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	taskWorker := worker.NewTaskRunWorker(orchestrator, logger)
	mux := asynq.NewServeMux()
	mux.HandleFunc(task.TaskRunJob, taskWorker.HandleTaskRun)

	handler := api.NewHandler(accessGate, orchestrator, streamer, tracker, targetRepo, api.HeaderConfig{
		AdminGroup:            cfg.Auth.AdminGroup,
		TrustedProxyIPs:       cfg.Auth.TrustedProxyIPs,
		UsernameHeader:        cfg.Auth.UsernameHeader,
		GroupsHeader:          cfg.Auth.GroupsHeader,
		ForwardedForHeader:    cfg.Auth.ForwardedForHeader,
		ForwardedHostHeader:   cfg.Auth.ForwardedHostHeader,
		ForwardedMethodHeader: cfg.Auth.ForwardedMethodHeader,
		ForwardedURIHeader:    cfg.Auth.ForwardedURIHeader,
		DomainName:            cfg.Auth.DomainName,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:          cfg,
		deps:         deps,
		httpServer:   httpServer,
		asynqServer:  asynqServer,
		asynqMux:     mux,
		tracker:      tracker,
		orchestrator: orchestrator,
		accessGate:   accessGate,
		gateStopCh:   make(chan struct{}),
		logger:       logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go s.tracker.Run()
	go s.orchestrator.RunRetentionSweep()
	go s.accessGate.SweepCache(s.cfg.Cache.TTL, s.gateStopCh)

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()

	close(s.gateStopCh)
	s.orchestrator.Shutdown()
	s.tracker.Stop()

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
