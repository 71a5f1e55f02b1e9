package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tricot-erp/tricot-erp/internal/jobs"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
)

// UnitLister names the units whose payables projection gets warmed.
type UnitLister interface {
	ListUnits(ctx context.Context) ([]outsourcing.Unit, error)
}

// WarmupJob rebuilds the cached projections from scratch. It runs on a
// nightly cron so a flushed Redis never serves a cold first read.
type WarmupJob struct {
	stocks  StockProjector
	vendors VendorProjector
	units   UnitLister
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewWarmupJob constructs the warmup handler.
func NewWarmupJob(stocks StockProjector, vendorsSvc VendorProjector, units UnitLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmupJob{stocks: stocks, vendors: vendorsSvc, units: units, logger: logger, metrics: metrics}
}

// Handle processes one TaskProjectionWarmup task.
func (j *WarmupJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track("projection_warmup")
	var payload WarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		j.logger.Warn("projection warmup: bad payload", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(j.run(ctx, payload))
}

func (j *WarmupJob) run(ctx context.Context, payload WarmupPayload) error {
	if payload.StockAggregates {
		aggregates, err := j.stocks.Aggregates(ctx)
		if err != nil {
			return err
		}
		j.metrics.AddProjectionRefresh("stock_aggregates")
		j.logger.Info("stock aggregates warmed", slog.Int("groups", len(aggregates)))
	}
	if !payload.VendorPending {
		return nil
	}
	names := payload.UnitNames
	if len(names) == 0 {
		units, err := j.units.ListUnits(ctx)
		if err != nil {
			return err
		}
		for _, unit := range units {
			if unit.Active {
				names = append(names, unit.Name)
			}
		}
	}
	for _, name := range names {
		if _, err := j.vendors.PendingBills(ctx, name); err != nil {
			return err
		}
		j.metrics.AddProjectionRefresh("vendor_pending")
	}
	j.logger.Info("vendor pending warmed", slog.Int("units", len(names)))
	return nil
}
