package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/app/interview"
	"github.com/PabloGalante/mockinterview/internal/app/offload"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/bootstrap"
	"github.com/PabloGalante/mockinterview/internal/config"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

func main() {
	if err := run(); err != nil {
		observability.Logger().Error("mockinterview worker stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.SetLevel(cfg.LogLevel)
	log := observability.Logger()

	if cfg.Tasks.Broker != "redis" || cfg.StorageBackend != "redis" {
		return errors.New("a standalone worker needs MOCKINTERVIEW_TASK_BROKER=redis and MOCKINTERVIEW_STORAGE_BACKEND=redis")
	}

	infra, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	// Events reach API processes, and through them real-time clients, via
	// the shared channel.
	bus := eventbus.New(eventbus.WithForwarder(infra.Channel), eventbus.WithHistory(cfg.Events.HistorySize))
	defer bus.Flush()

	worker := tasks.NewWorker(infra.Broker, bus, tasks.WithConcurrency(cfg.Tasks.WorkersPerLane))
	offload.Register(worker, offload.Handlers{
		Scorer:  infra.LLM,
		Sampler: infra.Sampler,
		Reports: interview.NewReportService(infra.Store, infra.Timeline, infra.LLM, bus),
		Janitor: interview.NewJanitor(infra.Store, infra.Archive, bus),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lanes := offload.Lanes()
		log.Info("mockinterview worker started", "lanes", lanes, "workers_per_lane", cfg.Tasks.WorkersPerLane)
		return worker.Run(gctx, lanes...)
	})

	if addr := cfg.Tasks.WorkerMetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler(observability.NewRegistry()))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("worker metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
