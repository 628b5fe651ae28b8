// Command server is the detection engine's process entrypoint: it loads
// configuration, wires the coordination store, the relational repository,
// and every core component (C1-C9), and serves the HTTP façade until
// signaled to stop. Grounded on codeready-toolchain-tarsy's cmd/tarsy/main.go
// wiring shape (flag/env bootstrap, construct services, serve, graceful
// shutdown on signal).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/suiyueqingqian/model-check-sub000/internal/api"
	"github.com/suiyueqingqian/model-check-sub000/internal/config"
	"github.com/suiyueqingqian/model-check-sub000/internal/coordination"
	"github.com/suiyueqingqian/model-check-sub000/internal/detect"
	"github.com/suiyueqingqian/model-check-sub000/internal/gate"
	"github.com/suiyueqingqian/model-check-sub000/internal/logging"
	"github.com/suiyueqingqian/model-check-sub000/internal/modelsync"
	"github.com/suiyueqingqian/model-check-sub000/internal/probe"
	"github.com/suiyueqingqian/model-check-sub000/internal/progress"
	"github.com/suiyueqingqian/model-check-sub000/internal/queue"
	"github.com/suiyueqingqian/model-check-sub000/internal/recorder"
	"github.com/suiyueqingqian/model-check-sub000/internal/scheduler"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

var log = logrus.WithField("component", "main")

func main() {
	cfg := config.Load("", "")

	logging.Setup(cfg.LogLevel)
	if cfg.LogToFile {
		if err := logging.EnableFileOutput(cfg.LogDir); err != nil {
			log.WithError(err).Fatal("failed to enable file logging")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo := buildRepository(ctx, cfg)
	defer closeRepo()

	coord := buildCoordination(cfg)
	defer coord.Close()

	g := gate.New(coord)
	q := queue.New(coord)
	executor := probe.New(cfg.GlobalProxy, cfg.DetectPrompt)
	rec := recorder.New(repo)

	httpClient := &http.Client{}
	syncPipeline := modelsync.New(repo, httpClient)

	poolCfg := queue.Config{
		ChannelConcurrency:   cfg.ChannelConcurrency,
		MaxGlobalConcurrency: cfg.MaxGlobalConcurrency,
		MinDelayMs:           cfg.MinDelayMs,
		MaxDelayMs:           cfg.MaxDelayMs,
	}
	pool := queue.NewWorkerPool(q, coord, g, executor, rec, repo, poolCfg, cfg.WorkerConcurrency)
	pool.Start(ctx)
	defer pool.Stop()

	bus := progress.New(coord, q)
	hub := progress.NewHub(bus)
	go hub.Run(ctx)

	detectSvc := detect.New(repo, coord, q, syncPipeline)

	sched := scheduler.New(ctx, repo, detectSvc, cfg.SchedulerDefaults())
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(detectSvc, bus, hub, syncPipeline, sched, cfg.AuthToken)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown error")
	}
}

// buildRepository picks Postgres when DATABASE_URL is configured, else an
// in-memory repository suitable for local/dev runs; there is no mandated
// backend for single-process deployments.
func buildRepository(ctx context.Context, cfg config.Config) (store.Repository, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory repository")
		return store.NewMemoryRepository(), func() {}
	}
	repo, err := store.NewPostgresRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	return repo, func() { repo.Close() }
}

// buildCoordination picks Redis when REDIS_ADDR resolves to a reachable
// instance at startup, else an in-memory coordination store (single-process
// only; the coordination primitives are store-agnostic).
func buildCoordination(cfg config.Config) coordination.Store {
	redisStore, err := coordination.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, using in-memory coordination store")
		return coordination.NewMemory()
	}
	return redisStore
}
