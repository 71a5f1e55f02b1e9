package dispatch

import (
	"time"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Item is one stock line on a bulk dispatch. SizeDistribution is the
// exploded per-size debit: master_packs x ratio plus the loose pieces.
type Item struct {
	StockID          string          `json:"stock_id"`
	StockCode        string          `json:"stock_code"`
	MasterPacks      int             `json:"master_packs"`
	LoosePcs         shared.SizeDist `json:"loose_pcs"`
	SizeDistribution shared.SizeDist `json:"size_distribution"`
	TotalPieces      int             `json:"total_pieces"`
}

// BulkDispatch ships stock to a customer. Creation is all or nothing:
// if any line would drive a stock size negative the whole dispatch is
// rejected.
type BulkDispatch struct {
	ID             string
	DispatchNumber string
	Date           time.Time
	CustomerName   string
	BoraNumber     string

	Items         []Item
	TotalQuantity int

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d BulkDispatch) snapshot() map[string]any {
	items := make([]map[string]any, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, map[string]any{
			"stock_id":          item.StockID,
			"master_packs":      item.MasterPacks,
			"size_distribution": item.SizeDistribution.Clone(),
		})
	}
	return map[string]any{
		"customer_name":  d.CustomerName,
		"items":          items,
		"total_quantity": d.TotalQuantity,
	}
}

// ItemInput is one requested dispatch line.
type ItemInput struct {
	StockID     string `validate:"required"`
	MasterPacks int    `validate:"gte=0"`
	LoosePcs    shared.SizeDist
}

// CreateInput is the intake contract for a bulk dispatch. The optional
// idempotency key lets a retried submission land exactly once.
type CreateInput struct {
	Date           time.Time `validate:"required"`
	CustomerName   string    `validate:"required"`
	BoraNumber     string
	Items          []ItemInput `validate:"min=1,dive"`
	IdempotencyKey string
	Actor          string
}

// Filter narrows dispatch listings.
type Filter struct {
	CustomerName string
	Page         int
	PerPage      int
}
