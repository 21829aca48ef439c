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

	httpadapter "github.com/PabloGalante/mockinterview/internal/adapters/http"
	"github.com/PabloGalante/mockinterview/internal/adapters/realtime"
	"github.com/PabloGalante/mockinterview/internal/app/eventbus"
	"github.com/PabloGalante/mockinterview/internal/app/interview"
	"github.com/PabloGalante/mockinterview/internal/app/offload"
	"github.com/PabloGalante/mockinterview/internal/app/tasks"
	"github.com/PabloGalante/mockinterview/internal/app/turn"
	"github.com/PabloGalante/mockinterview/internal/bootstrap"
	"github.com/PabloGalante/mockinterview/internal/config"
	"github.com/PabloGalante/mockinterview/internal/domain"
	"github.com/PabloGalante/mockinterview/internal/observability"
)

const (
	shutdownGrace = 10 * time.Second
	turnTick      = time.Second
)

func main() {
	if err := run(); err != nil {
		observability.Logger().Error("mockinterview api stopped", "error", err)
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

	infra, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	hub := realtime.NewHub()
	defer hub.Close()

	bus := eventbus.New(
		eventbus.WithForwarder(infra.Channel),
		eventbus.WithTransport(hub),
		eventbus.WithHistory(cfg.Events.HistorySize),
	)
	defer bus.Flush()

	client := tasks.NewClient(infra.Broker, tasks.DefaultRoutes(), cfg.Tasks.PollInterval)

	var (
		scorer  domain.AnswerScorer   = infra.LLM
		sampler domain.EmotionSampler = infra.Sampler
	)
	if cfg.Interview.OffloadEvaluation {
		log.Info("evaluation runs on the task fabric")
		scorer = offload.NewRemoteScorer(client)
		sampler = offload.NewRemoteSampler(client)
	}

	orch := interview.New(interview.Deps{
		Store:     infra.Store,
		Scorer:    scorer,
		Sampler:   sampler,
		Generator: infra.LLM,
		Retriever: infra.Retriever,
		Timeline:  infra.Timeline,
		Events:    bus,
		Reports:   offload.NewReportTrigger(client),
	}, interview.Settings{
		MaxQuestions:         cfg.Interview.MaxQuestions,
		FollowUpCap:          cfg.Interview.FollowUpCap,
		EvaluateSoftDeadline: cfg.Interview.EvaluateSoftDeadline,
		ModeMinRun:           cfg.Interview.ModeMinRun,
		ModeMinConfidence:    cfg.Interview.ModeMinConfidence,
		RetrievalLimit:       cfg.RetrievalLimit,
	})
	defer orch.Subscribe(bus)()

	turns := turn.NewCoordinator(turn.Thresholds{
		GentleSilence:    cfg.Turn.GentleSilence,
		HardSilence:      cfg.Turn.HardSilence,
		SoftTurnDuration: cfg.Turn.SoftTurnDuration,
		MaxTurnDuration:  cfg.Turn.MaxTurnDuration,
	}, bus)

	handler := httpadapter.NewServer(httpadapter.Deps{
		Interviews: orch,
		Turns:      turns,
		Events:     bus,
		Tasks:      client,
		Realtime:   hub,
		Metrics:    observability.MetricsHandler(observability.NewRegistry()),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("mockinterview API listening", "port", cfg.Port, "mode", cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return eventbus.NewListener(bus, infra.Channel).Run(gctx)
	})
	g.Go(func() error {
		jobs := offload.MaintenanceJobs(cfg.Tasks.CleanupInterval, cfg.Tasks.StatsInterval)
		return tasks.NewScheduler(client, jobs...).Run(gctx)
	})
	g.Go(func() error {
		return turns.Run(gctx, turnTick)
	})

	if cfg.Tasks.RunInProcess {
		worker := tasks.NewWorker(infra.Broker, bus, tasks.WithConcurrency(cfg.Tasks.WorkersPerLane))
		offload.Register(worker, offload.Handlers{
			Scorer:  infra.LLM,
			Sampler: infra.Sampler,
			Reports: interview.NewReportService(infra.Store, infra.Timeline, infra.LLM, bus),
			Janitor: interview.NewJanitor(infra.Store, infra.Archive, bus),
		})
		g.Go(func() error {
			return worker.Run(gctx, offload.Lanes()...)
		})
	} else if cfg.Tasks.Broker == "memory" {
		log.Warn("in-memory task broker without an in-process worker; submitted tasks will never run")
	}

	return g.Wait()
}
