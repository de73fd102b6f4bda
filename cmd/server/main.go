// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/magictalent/ai-agent-backend/internal/app"
	"github.com/magictalent/ai-agent-backend/internal/clock"
	"github.com/magictalent/ai-agent-backend/internal/config"
	"github.com/magictalent/ai-agent-backend/internal/controller"
	"github.com/magictalent/ai-agent-backend/internal/handler"
	"github.com/magictalent/ai-agent-backend/internal/logging"
	"github.com/magictalent/ai-agent-backend/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info", false)
		log := logging.Component("server")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.LogLevel, !cfg.LogJSON)
	log := logging.Component("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open stores")
	}
	defer stores.Close()

	senders := app.NewSenders(ctx, cfg, stores.Tokens)
	defer senders.Close()

	clk := clock.Real{}
	builder := app.NewBuilder(stores, clk)
	dispatcher := app.NewDispatcher(cfg, stores, senders, clk)
	sched := scheduler.New(scheduler.Config{Interval: cfg.TickInterval, BatchSize: cfg.TickBatchSize}, dispatcher, clk)

	publisher, err := app.OpenPublisher(ctx, cfg, builder)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bulk start queue")
	}
	defer publisher.Close()

	if cfg.RunScheduler {
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		defer sched.Stop()
	}

	sequenceController := &controller.SequenceController{
		Builder:   builder,
		Queue:     dispatcher,
		Ticker:    sched,
		Publisher: publisher,
	}
	health := &handler.HealthHandler{Scheduler: sched}
	if stores.DB != nil {
		health.DB = stores.DB
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", health.Healthz)
	sequenceController.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("store", stores.Describe()).
		Bool("scheduler", cfg.RunScheduler).
		Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
