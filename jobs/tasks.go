package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskEventFanout carries one committed ledger event to the worker,
	// which refreshes whichever projections the event touches.
	TaskEventFanout = "ledger:event_fanout"

	// TaskProjectionWarmup rebuilds the cached projections from scratch.
	// Scheduled nightly so a cold Redis never serves a stale first read.
	TaskProjectionWarmup = "projections:warmup"
)

// WarmupPayload selects which projections a warmup run rebuilds. Empty
// UnitNames means every active unit.
type WarmupPayload struct {
	StockAggregates bool     `json:"stock_aggregates"`
	VendorPending   bool     `json:"vendor_pending"`
	UnitNames       []string `json:"unit_names,omitempty"`
}

// NewEventFanoutTask wraps a committed event for the queue.
func NewEventFanoutTask(evt shared.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEventFanout, data), nil
}

// NewProjectionWarmupTask builds a warmup task.
func NewProjectionWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProjectionWarmup, data), nil
}
