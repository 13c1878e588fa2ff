package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"loanflow/internal/platform/config"
	"loanflow/internal/platform/httpserver"
	"loanflow/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

// main loads configuration, builds the service graph and keeps the process
// lifecycle small. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing loanflow",
		"addr", cfg.Addr,
		"environment", cfg.Environment,
		"eager_tasks", cfg.EagerTasks(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("loanflow exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("loanflow stopped")
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	app, err := build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer app.close(log)

	srv := httpserver.New(cfg.Addr, httpserver.OpsRouter(app.health))

	app.start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ops server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if app.subscriber != nil {
		g.Go(func() error {
			return app.subscriber.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, app.stop(shutdownCtx)...)
		return errors.Join(errs...)
	})

	return g.Wait()
}
