package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/tricot-erp/tricot-erp/internal/app"
	"github.com/tricot-erp/tricot-erp/internal/audit"
	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/dispatch"
	"github.com/tricot-erp/tricot-erp/internal/fabric"
	"github.com/tricot-erp/tricot-erp/internal/idgen"
	"github.com/tricot-erp/tricot-erp/internal/ironing"
	"github.com/tricot-erp/tricot-erp/internal/observability"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/platform/cache"
	"github.com/tricot-erp/tricot-erp/internal/platform/db"
	"github.com/tricot-erp/tricot-erp/internal/returns"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
	"github.com/tricot-erp/tricot-erp/internal/vendors"
	"github.com/tricot-erp/tricot-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping startup")
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

	bus := shared.NewBus(logger)
	auditLogger := shared.NewAuditLogger(pool)
	ids := idgen.NewAllocator(idgen.NewRepository(pool))
	idempotency := shared.NewIdempotencyStore(pool)
	lock := &shared.LedgerLock{}

	fabricSvc := fabric.NewService(fabric.NewRepository(pool), ids, auditLogger, bus, lock)
	cuttingSvc := cutting.NewService(cutting.NewRepository(pool), fabricSvc, ids, auditLogger, bus, lock)
	outsourcingSvc := outsourcing.NewService(outsourcing.NewRepository(pool), cuttingSvc, ids, auditLogger, bus, lock)
	stockSvc := stock.NewService(stock.NewRepository(pool), cuttingSvc, ids, auditLogger, bus, redisClient, cfg.ProjectionTTL, lock)
	ironingSvc := ironing.NewService(ironing.NewRepository(pool), outsourcingSvc, cuttingSvc, stockSvc, ids, auditLogger, bus, lock)
	dispatchSvc := dispatch.NewService(dispatch.NewRepository(pool), stockSvc, ids, idempotency, auditLogger, bus, lock)
	returnsSvc := returns.NewService(returns.NewRepository(pool), dispatchSvc, stockSvc, outsourcingSvc, ironingSvc, auditLogger, bus, lock)
	vendorsSvc := vendors.NewService(vendors.NewRepository(pool), outsourcingSvc, ironingSvc, auditLogger, bus, redisClient, cfg.ProjectionTTL, cfg.AllowOverpayment, lock)
	auditSvc := audit.NewService(audit.NewRepository(pool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	bus.Subscribe(jobs.NewEventPublisher(queue, logger))

	// Warm projections on boot so the first read does not pay the rebuild.
	if _, err := queue.EnqueueWarmup(ctx, jobs.WarmupPayload{StockAggregates: true, VendorPending: true}); err != nil {
		logger.Warn("enqueue boot warmup", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := newRouter(routerDeps{
		logger:    logger,
		metrics:   observability.NewMetrics(),
		stocks:    stockSvc,
		vendors:   vendorsSvc,
		returns:   returnsSvc,
		dispatch:  dispatchSvc,
		audit:     auditSvc,
		jobsInfo:  jobs.NewHandler(inspector, logger),
		readiness: func(ctx context.Context) error { return pool.Ping(ctx) },
	})
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("reporting server listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run", slog.Any("error", err))
		os.Exit(1)
	}
}

type routerDeps struct {
	logger    *slog.Logger
	metrics   *observability.Metrics
	stocks    *stock.Service
	vendors   *vendors.Service
	returns   *returns.Service
	dispatch  *dispatch.Service
	audit     *audit.Service
	jobsInfo  *jobs.Handler
	readiness func(ctx context.Context) error
}

// newRouter mounts the read-only reporting endpoints plus health and
// metrics. Mutations go through the service layer, not HTTP.
func newRouter(deps routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(deps.metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := deps.readiness(req.Context()); err != nil {
			deps.logger.Warn("readiness", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", deps.metrics.Handler())
	r.Route("/jobs", deps.jobsInfo.MountRoutes)

	r.Route("/api", func(api chi.Router) {
		api.Get("/stock/aggregates", func(w http.ResponseWriter, req *http.Request) {
			aggregates, err := deps.stocks.Aggregates(req.Context())
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, aggregates)
		})
		api.Get("/stock", func(w http.ResponseWriter, req *http.Request) {
			items, paging, err := deps.stocks.List(req.Context(), stock.Filter{
				LotNumber:  req.URL.Query().Get("lot_number"),
				StyleType:  req.URL.Query().Get("style_type"),
				Color:      req.URL.Query().Get("color"),
				ActiveOnly: req.URL.Query().Get("active_only") == "true",
				Page:       queryInt(req, "page"),
				PerPage:    queryInt(req, "per_page"),
			})
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, map[string]any{"items": items, "paging": paging})
		})
		api.Get("/vendors/{unitName}/pending", func(w http.ResponseWriter, req *http.Request) {
			pending, err := deps.vendors.PendingBills(req.Context(), chi.URLParam(req, "unitName"))
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, pending)
		})
		api.Get("/vendors/{unitName}/payments", func(w http.ResponseWriter, req *http.Request) {
			payments, err := deps.vendors.Payments(req.Context(), chi.URLParam(req, "unitName"))
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, payments)
		})
		api.Get("/returns", func(w http.ResponseWriter, req *http.Request) {
			rets, paging, err := deps.returns.List(req.Context(), returns.Filter{
				SourceType: returns.SourceType(req.URL.Query().Get("source_type")),
				Status:     returns.Status(req.URL.Query().Get("status")),
				Page:       queryInt(req, "page"),
				PerPage:    queryInt(req, "per_page"),
			})
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, map[string]any{"returns": rets, "paging": paging})
		})
		api.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
			entries, paging, err := deps.audit.Timeline(req.Context(), audit.TimelineFilters{
				Actor:    req.URL.Query().Get("actor"),
				Entity:   req.URL.Query().Get("entity"),
				EntityID: req.URL.Query().Get("entity_id"),
				Action:   req.URL.Query().Get("action"),
				Page:     queryInt(req, "page"),
				PerPage:  queryInt(req, "per_page"),
			})
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, map[string]any{"entries": entries, "paging": paging})
		})
		api.Get("/dispatches", func(w http.ResponseWriter, req *http.Request) {
			dispatches, paging, err := deps.dispatch.List(req.Context(), dispatch.Filter{
				CustomerName: req.URL.Query().Get("customer_name"),
				Page:         queryInt(req, "page"),
				PerPage:      queryInt(req, "per_page"),
			})
			if err != nil {
				writeError(w, deps.logger, err)
				return
			}
			writeJSON(w, map[string]any{"dispatches": dispatches, "paging": paging})
		})
	})
	return r
}

func queryInt(req *http.Request, key string) int {
	n, _ := strconv.Atoi(req.URL.Query().Get(key))
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, shared.ErrNotFound) {
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		logger.Error("reporting endpoint", slog.Any("error", err))
	}
	http.Error(w, err.Error(), status)
}
