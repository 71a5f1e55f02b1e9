package returns

import (
	"time"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// SourceType names where returned goods came from.
type SourceType string

const (
	SourceDispatch    SourceType = "dispatch"
	SourceOutsourcing SourceType = "outsourcing"
	SourceIroning     SourceType = "ironing"
)

// Status is the customer-return lifecycle. Only Pending records may
// transition; Accepted and Rejected are terminal.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
)

// CustomerReturn is a claim that goods came back. Accepting it reverses
// the ledger effects of its source: dispatched pieces rejoin stock,
// vendor receipt debits are cancelled.
type CustomerReturn struct {
	ID         string
	SourceType SourceType
	SourceID   string

	Quantity int
	// SizeBreakdown is the caller-supplied per-size split of Quantity.
	// When empty, acceptance splits proportionally over what the source
	// dispatched.
	SizeBreakdown shared.SizeDist
	Reason        string

	Status        Status
	StockRestored bool
	// Restored records the exact per-size credit acceptance applied, so
	// the record explains itself afterwards.
	Restored shared.SizeDist

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

func (r CustomerReturn) snapshot() map[string]any {
	return map[string]any{
		"source_type":    string(r.SourceType),
		"source_id":      r.SourceID,
		"quantity":       r.Quantity,
		"status":         string(r.Status),
		"stock_restored": r.StockRestored,
		"restored":       r.Restored.Clone(),
	}
}

// CreateInput files a customer return.
type CreateInput struct {
	SourceType    SourceType `validate:"required,oneof=dispatch outsourcing ironing"`
	SourceID      string     `validate:"required"`
	Quantity      int        `validate:"gt=0"`
	SizeBreakdown shared.SizeDist
	Reason        string
	Actor         string
}

// Filter narrows return listings.
type Filter struct {
	SourceType SourceType
	Status     Status
	Page       int
	PerPage    int
}
