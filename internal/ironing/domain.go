package ironing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// OrderStatus tracks the ironing challan lifecycle.
type OrderStatus string

const (
	OrderPending  OrderStatus = "Pending"
	OrderReceived OrderStatus = "Received"
)

// Order sends the good pieces of a stitching receipt out for ironing.
// It inherits lot, color, category and style from the cutting order the
// pieces came from; StockLotName and StockColor override what the
// resulting stock row will carry.
type Order struct {
	ID                 string
	DCNumber           string
	DCDate             time.Time
	StitchingReceiptID string

	UnitName string

	CuttingLotNumber string
	Color            string
	Category         string
	StyleType        string

	StockLotName string
	StockColor   string

	SizeDistribution shared.SizeDist
	TotalQuantity    int
	MasterPackRatio  shared.SizeDist

	RatePerPcs    decimal.Decimal
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	Balance       decimal.Decimal
	PaymentStatus PaymentStatus

	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatus mirrors the outsourcing bill states so the vendor
// ledger can treat both families uniformly.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "Unpaid"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

func (o Order) snapshot() map[string]any {
	return map[string]any{
		"unit_name":         o.UnitName,
		"size_distribution": o.SizeDistribution.Clone(),
		"total_quantity":    o.TotalQuantity,
		"total_amount":      o.TotalAmount.String(),
		"balance":           o.Balance.String(),
		"status":            string(o.Status),
	}
}

// StockLot returns the lot number the auto-created stock row carries.
func (o Order) StockLot() string {
	if o.StockLotName != "" {
		return o.StockLotName
	}
	return o.CuttingLotNumber
}

// FinishedColor returns the color the auto-created stock row carries.
func (o Order) FinishedColor() string {
	if o.StockColor != "" {
		return o.StockColor
	}
	return o.Color
}

// Receipt records what came back from the ironing unit. Its received
// pieces are packed with the order's master-pack ratio and become a
// stock row.
type Receipt struct {
	ID      string
	OrderID string

	Sent     shared.SizeDist
	Received shared.SizeDist
	Shortage shared.SizeDist
	Mistake  shared.SizeDist

	TotalSent     int
	TotalReceived int
	TotalShortage int
	TotalMistake  int

	ShortageDebitAmount decimal.Decimal
	MistakeDebitAmount  decimal.Decimal

	CompletePacks int
	LoosePieces   int
	LoosePerSize  shared.SizeDist

	StockID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Receipt) snapshot() map[string]any {
	return map[string]any{
		"received":       r.Received.Clone(),
		"shortage":       r.Shortage.Clone(),
		"mistake":        r.Mistake.Clone(),
		"complete_packs": r.CompletePacks,
		"loose_pieces":   r.LoosePieces,
		"stock_id":       r.StockID,
	}
}

// CreateOrderInput is the intake contract for an ironing challan.
type CreateOrderInput struct {
	DCDate             time.Time `validate:"required"`
	StitchingReceiptID string    `validate:"required"`
	UnitName           string    `validate:"required"`
	RatePerPcs         decimal.Decimal
	MasterPackRatio    shared.SizeDist
	StockLotName       string
	StockColor         string
	Actor              string
}

// CreateReceiptInput records what the ironing unit returned.
type CreateReceiptInput struct {
	OrderID  string          `validate:"required"`
	Received shared.SizeDist `validate:"required"`
	Mistake  shared.SizeDist
	Actor    string
}

// Filter narrows ironing challan listings.
type Filter struct {
	UnitName string
	Page     int
	PerPage  int
}
