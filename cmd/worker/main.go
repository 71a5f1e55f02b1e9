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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tricot-erp/tricot-erp/internal/app"
	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/fabric"
	"github.com/tricot-erp/tricot-erp/internal/idgen"
	"github.com/tricot-erp/tricot-erp/internal/ironing"
	jobmetrics "github.com/tricot-erp/tricot-erp/internal/jobs"
	"github.com/tricot-erp/tricot-erp/internal/observability"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/platform/cache"
	"github.com/tricot-erp/tricot-erp/internal/platform/db"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
	"github.com/tricot-erp/tricot-erp/internal/vendors"
	"github.com/tricot-erp/tricot-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	// The worker only reads, so it wires the services without the event
	// bus; re-warming a projection must not enqueue more fanout tasks.
	auditLogger := shared.NewAuditLogger(pool)
	ids := idgen.NewAllocator(idgen.NewRepository(pool))
	lock := &shared.LedgerLock{}

	fabricSvc := fabric.NewService(fabric.NewRepository(pool), ids, auditLogger, nil, lock)
	cuttingSvc := cutting.NewService(cutting.NewRepository(pool), fabricSvc, ids, auditLogger, nil, lock)
	outsourcingSvc := outsourcing.NewService(outsourcing.NewRepository(pool), cuttingSvc, ids, auditLogger, nil, lock)
	stockSvc := stock.NewService(stock.NewRepository(pool), cuttingSvc, ids, auditLogger, nil, redisClient, cfg.ProjectionTTL, lock)
	ironingSvc := ironing.NewService(ironing.NewRepository(pool), outsourcingSvc, cuttingSvc, stockSvc, ids, auditLogger, nil, lock)
	vendorsSvc := vendors.NewService(vendors.NewRepository(pool), outsourcingSvc, ironingSvc, auditLogger, nil, redisClient, cfg.ProjectionTTL, cfg.AllowOverpayment, lock)

	obs := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(obs.Registerer())
	fanoutJob := jobs.NewFanoutJob(stockSvc, vendorsSvc, logger, metrics)
	warmupJob := jobs.NewWarmupJob(stockSvc, vendorsSvc, outsourcingSvc, logger, metrics)

	nightlyWarmup, err := jobs.NewProjectionWarmupTask(jobs.WarmupPayload{StockAggregates: true, VendorPending: true})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEventFanout, Handler: fanoutJob.Handle},
			{Type: jobs.TaskProjectionWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: nightlyWarmup, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	router.Use(obs.Middleware)
	router.Handle("/metrics", obs.Handler())
	router.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	opsServer := &http.Server{
		Addr:              cfg.WorkerOpsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("worker ops server listening", slog.String("addr", cfg.WorkerOpsAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
