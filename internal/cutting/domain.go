package cutting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Order records one cutting run: fabric drawn from a lot (or from an
// untracked "old lot"), the per-size piece counts produced, and the
// cutting-master bill.
type Order struct {
	ID               string
	CuttingLotNumber string
	CuttingMaster    string
	Date             time.Time

	// FabricLotID is nil for old-lot orders cut from fabric that predates
	// the ledger. Such orders carry no fabric debit and are stamped with
	// OldLotWarning.
	FabricLotID   *string
	IsOldLot      bool
	OldLotWarning bool

	Color     string
	Category  string
	StyleType string

	FabricTaken    float64
	FabricReturned float64
	FabricUsed     float64
	RibTaken       float64
	RibReturned    float64
	RibUsed        float64

	SizeDistribution shared.SizeDist
	TotalQuantity    int

	// Issued tracks pieces currently out with a vendor or consumed into
	// stock; the available-for-operation pool is SizeDistribution − Issued.
	Issued shared.SizeDist

	CuttingRatePerPcs  decimal.Decimal
	TotalCuttingAmount decimal.Decimal
	AmountPaid         decimal.Decimal
	Balance            decimal.Decimal

	CompletedOperations []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the per-size pool still free for the next operation.
func (o Order) Available() shared.SizeDist {
	return o.SizeDistribution.Sub(o.Issued)
}

func (o Order) snapshot() map[string]any {
	return map[string]any{
		"fabric_used":       o.FabricUsed,
		"rib_used":          o.RibUsed,
		"size_distribution": o.SizeDistribution.Clone(),
		"issued":            o.Issued.Clone(),
		"total_quantity":    o.TotalQuantity,
		"balance":           o.Balance.String(),
	}
}

// CreateOrderInput is the intake contract for a cutting order.
type CreateOrderInput struct {
	CuttingMaster     string    `validate:"required"`
	Date              time.Time `validate:"required"`
	FabricLotID       *string
	Color             string          `validate:"required"`
	Category          string          `validate:"required"`
	StyleType         string          `validate:"required"`
	FabricTaken       float64         `validate:"gte=0"`
	FabricReturned    float64         `validate:"gte=0"`
	RibTaken          float64         `validate:"gte=0"`
	RibReturned       float64         `validate:"gte=0"`
	SizeDistribution  shared.SizeDist `validate:"required"`
	CuttingRatePerPcs decimal.Decimal
	Actor             string
}

// Filter narrows order listings.
type Filter struct {
	Category  string
	StyleType string
	Page      int
	PerPage   int
}
