package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/auth"
	"github.com/jgirmay/slidegenie-realtime/pkg/config"
	"github.com/jgirmay/slidegenie-realtime/pkg/database"
	"github.com/jgirmay/slidegenie-realtime/pkg/http/handlers"
	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/metrics"
	"github.com/jgirmay/slidegenie-realtime/pkg/monitoring"
	"github.com/jgirmay/slidegenie-realtime/pkg/realtime"
	"github.com/jgirmay/slidegenie-realtime/pkg/repository"
	"github.com/jgirmay/slidegenie-realtime/pkg/websocket"
)

// application holds the wired process.
type application struct {
	cfg        *config.Config
	log        *logging.Logger
	repos      *repository.Registry
	svc        *realtime.Service
	supervisor *realtime.Supervisor
	server     *http.Server
	draining   chan struct{}
}

// newApplication wires the process. Collectors register with reg and are
// served from gatherer.
func newApplication(cfg *config.Config, log *logging.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*application, error) {
	log.Info("[INIT] Opening database", zap.String("driver", cfg.Database.Driver))
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Realtime.LockBackend == config.LockBackendRedis {
		log.Info("[INIT] Connecting to redis", zap.String("addr", cfg.Redis.Addr))
		rdb, err = repository.NewRedisClient(context.Background(), cfg.Redis)
		if err != nil {
			database.Close(db)
			return nil, err
		}
	}

	repos := repository.NewRegistry(db, rdb)
	if err := repos.Initialize(cfg.Realtime.LockBackend); err != nil {
		repos.Close()
		return nil, fmt.Errorf("failed to initialize repository registry: %w", err)
	}
	log.Info("[INIT] Repository registry initialized", zap.String("lock_backend", cfg.Realtime.LockBackend))

	m := metrics.New(reg)

	svcConf := realtime.ServiceConfFromConfig(cfg.Realtime)
	svcConf.Logger = log
	svcConf.Metrics = m
	svc := realtime.NewService(svcConf, repos.Presentations, repos.SlideLocks)

	supervisor := realtime.NewSupervisor(svc, realtime.SupervisorConf{
		Interval:    cfg.Realtime.SweepInterval,
		IdleTimeout: cfg.Realtime.IdleTimeout,
		Clock:       svc.Now,
		Logger:      log,
		Metrics:     m,
	})

	identity := auth.NewProvider(cfg.Auth)
	ws := websocket.NewHandler(svc, identity, websocket.HandlerConf{
		Conn:         websocket.Options{SendQueueSize: cfg.Realtime.SendQueueSize},
		InboundRate:  cfg.Realtime.InboundRate,
		InboundBurst: cfg.Realtime.InboundBurst,
		Logger:       log,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	probes := []monitoring.Probe{}
	if sqlDB, err := db.DB(); err == nil {
		probes = append(probes, monitoring.DatabaseProbe(sqlDB))
	}
	if rdb != nil {
		probes = append(probes, monitoring.RedisProbe(rdb))
	}

	draining := make(chan struct{})
	handlers.RegisterRealtimeRoutes(router, svc, ws, identity, gatherer, handlers.HandlerConf{
		PollInterval: cfg.Realtime.SSEPollInterval,
		Keepalive:    cfg.Realtime.SSEKeepalive,
		Replay:       cfg.Realtime.SSEReplay,
		AdminRole:    cfg.Auth.AdminRole,
		Health:       monitoring.NewHealthChecker(probes...),
		Draining:     draining,
		Logger:       log,
	})
	log.Info("[INIT] Realtime routes registered", zap.String("auth_mode", cfg.Auth.Mode))

	return &application{
		cfg:        cfg,
		log:        log,
		repos:      repos,
		svc:        svc,
		supervisor: supervisor,
		draining:   draining,
		server: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

// run serves until ctx is cancelled, then shuts down gracefully.
func (a *application) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.close()
		return fmt.Errorf("server startup error: %w", err)
	}
	return a.serve(ctx, ln)
}

// serve is run on an already bound listener.
func (a *application) serve(ctx context.Context, ln net.Listener) error {
	a.supervisor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("[INFO] Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.close()
		return fmt.Errorf("server startup error: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("[SHUTDOWN] Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by the server; close
	// them first so their handlers return.
	a.svc.Shutdown()
	// SSE handlers hold their requests open until the client leaves.
	close(a.draining)
	err := a.server.Shutdown(shutdownCtx)
	if err != nil {
		a.log.Error("[SHUTDOWN] Server shutdown error", zap.Error(err))
	}
	a.close()
	a.log.Info("[SHUTDOWN] Graceful shutdown complete")
	return err
}

func (a *application) close() {
	a.log.Info("[SHUTDOWN] Stopping supervisor...")
	a.supervisor.Stop()
	a.log.Info("[SHUTDOWN] Closing repositories...")
	if err := a.repos.Close(); err != nil {
		a.log.Error("[SHUTDOWN] Failed to close repositories", zap.Error(err))
	}
}
