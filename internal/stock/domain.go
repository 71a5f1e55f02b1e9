package stock

import (
	"time"

	"github.com/tricot-erp/tricot-erp/internal/packing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Source identifies how a stock row came into existence.
type Source string

const (
	SourceCutting    Source = "cutting"
	SourceIroning    Source = "ironing"
	SourceHistorical Source = "historical"
)

// Item is one finished-goods stock row. SizeDistribution is what was
// produced; Available shrinks with dispatches and grows back with
// accepted customer returns. Inactive rows are invisible to dispatch
// but stay around for historical reports.
type Item struct {
	ID        string
	StockCode string
	LotNumber string
	Source    Source
	SourceID  string

	Category  string
	StyleType string
	Color     string

	SizeDistribution  shared.SizeDist
	Available         shared.SizeDist
	TotalQuantity     int
	AvailableQuantity int

	MasterPackRatio shared.SizeDist
	CompletePacks   int
	LoosePerSize    shared.SizeDist

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// repack refreshes the pack view of the available pool.
func (i *Item) repack() {
	result := packing.Pack(i.Available, i.MasterPackRatio)
	i.CompletePacks = result.CompletePacks
	i.LoosePerSize = result.LoosePerSize
	i.AvailableQuantity = i.Available.Total()
}

func (i Item) snapshot() map[string]any {
	return map[string]any{
		"size_distribution":  i.SizeDistribution.Clone(),
		"available":          i.Available.Clone(),
		"available_quantity": i.AvailableQuantity,
		"complete_packs":     i.CompletePacks,
		"active":             i.Active,
	}
}

// CreateInput registers a stock row directly, used for historical
// imports and by the ironing receipt flow.
type CreateInput struct {
	LotNumber        string `validate:"required"`
	Source           Source `validate:"required"`
	SourceID         string
	Category         string
	StyleType        string          `validate:"required"`
	Color            string          `validate:"required"`
	SizeDistribution shared.SizeDist `validate:"required"`
	MasterPackRatio  shared.SizeDist
	Actor            string
}

// CreateFromCuttingInput moves pieces from a cutting order's pool
// straight into stock, skipping outsourcing and ironing.
type CreateFromCuttingInput struct {
	CuttingOrderID  string          `validate:"required"`
	Take            shared.SizeDist `validate:"required"`
	MasterPackRatio shared.SizeDist
	Actor           string
}

// Aggregate is the reporting view grouped by lot, style and color.
type Aggregate struct {
	LotNumber         string          `json:"lot_number"`
	StyleType         string          `json:"style_type"`
	Color             string          `json:"color"`
	TotalQuantity     int             `json:"total_quantity"`
	AvailableQuantity int             `json:"available_quantity"`
	Available         shared.SizeDist `json:"available"`
	Items             int             `json:"items"`
}

// Filter narrows stock listings.
type Filter struct {
	LotNumber  string
	StyleType  string
	Color      string
	ActiveOnly bool
	Page       int
	PerPage    int
}
