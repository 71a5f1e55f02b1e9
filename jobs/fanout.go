package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tricot-erp/tricot-erp/internal/jobs"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
	"github.com/tricot-erp/tricot-erp/internal/vendors"
)

// StockProjector rebuilds the stock aggregates projection. Reading it
// through the service repopulates the cache.
type StockProjector interface {
	Aggregates(ctx context.Context) ([]stock.Aggregate, error)
}

// VendorProjector rebuilds one unit's pending-bills projection.
type VendorProjector interface {
	PendingBills(ctx context.Context, unitName string) (vendors.PendingBills, error)
}

// FanoutJob re-warms cached projections after each committed ledger
// event, so the first read after a mutation is already a cache hit.
type FanoutJob struct {
	stocks  StockProjector
	vendors VendorProjector
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewFanoutJob constructs the fanout handler.
func NewFanoutJob(stocks StockProjector, vendorsSvc VendorProjector, logger *slog.Logger, metrics *jobmetrics.Metrics) *FanoutJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FanoutJob{stocks: stocks, vendors: vendorsSvc, logger: logger, metrics: metrics}
}

// Handle processes one TaskEventFanout task.
func (j *FanoutJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.metrics.Track("event_fanout")
	var evt shared.Event
	if err := json.Unmarshal(task.Payload(), &evt); err != nil {
		j.logger.Warn("event fanout: bad payload", slog.Any("error", err))
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(j.route(ctx, evt))
}

func (j *FanoutJob) route(ctx context.Context, evt shared.Event) error {
	switch evt.Family {
	case "stock", "bulk_dispatch", "customer_return", "ironing_receipt":
		if _, err := j.stocks.Aggregates(ctx); err != nil {
			return err
		}
		j.metrics.AddProjectionRefresh("stock_aggregates")
	case "outsourcing_order", "ironing_order", "vendor_payment":
		unit := snapshotUnit(evt)
		if unit == "" {
			j.logger.Debug("event fanout: no unit on event",
				slog.String("family", evt.Family), slog.String("entity_id", evt.EntityID))
			return nil
		}
		if _, err := j.vendors.PendingBills(ctx, unit); err != nil {
			return err
		}
		j.metrics.AddProjectionRefresh("vendor_pending")
	}
	j.logger.Debug("event fanned out",
		slog.String("kind", string(evt.Kind)),
		slog.String("family", evt.Family),
		slog.Uint64("seq", evt.Seq))
	return nil
}

// snapshotUnit pulls the unit name out of the event's after or before
// snapshot. Deleted-record events only carry a before snapshot.
func snapshotUnit(evt shared.Event) string {
	for _, snap := range []map[string]any{evt.After, evt.Before} {
		if snap == nil {
			continue
		}
		for _, key := range []string{"unit_name", "unit"} {
			if v, ok := snap[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
