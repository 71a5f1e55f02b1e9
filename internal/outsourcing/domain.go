package outsourcing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// PaymentStatus tracks how much of a bill has been settled.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "Unpaid"
	PaymentPartial PaymentStatus = "Partial"
	PaymentPaid    PaymentStatus = "Paid"
)

// OrderStatus tracks the challan lifecycle.
type OrderStatus string

const (
	// OrderPending means pieces are out with the vendor.
	OrderPending OrderStatus = "Pending"
	// OrderReceived means the receipt has been recorded.
	OrderReceived OrderStatus = "Received"
)

// ReceiptStatus is the stitching-to-ironing state machine. A receipt
// that never goes to ironing stays Received.
type ReceiptStatus string

const (
	ReceiptReceived         ReceiptStatus = "Received"
	ReceiptQueuedForIroning ReceiptStatus = "QueuedForIroning"
	ReceiptIroned           ReceiptStatus = "Ironed"
)

// Unit is a vendor workshop performing outsourced operations.
type Unit struct {
	ID         string
	Name       string
	Operations []string
	Contact    string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Order is a delivery challan sending cut pieces to a unit for one
// operation. Its size distribution is the per-size sum over the cited
// cutting orders' pools taken at send time.
type Order struct {
	ID              string
	DCNumber        string
	DCDate          time.Time
	CuttingOrderIDs []string
	// CuttingSent remembers the per-cutting share of the send so deletes
	// and receipts can walk the debit back to the right pools.
	CuttingSent map[string]shared.SizeDist

	OperationType string
	UnitName      string

	SizeDistribution shared.SizeDist
	TotalQuantity    int

	RatePerPcs    decimal.Decimal
	TotalAmount   decimal.Decimal
	AmountPaid    decimal.Decimal
	Balance       decimal.Decimal
	PaymentStatus PaymentStatus

	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

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

// Receipt records what came back from the vendor against one order.
// Per size: received + shortage + mistake == sent. Shortages are pieces
// the vendor never returned; mistakes are defective pieces returned and
// debited separately.
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

	SentToIroning bool
	Status        ReceiptStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Receipt) snapshot() map[string]any {
	return map[string]any{
		"received":              r.Received.Clone(),
		"shortage":              r.Shortage.Clone(),
		"mistake":               r.Mistake.Clone(),
		"shortage_debit_amount": r.ShortageDebitAmount.String(),
		"mistake_debit_amount":  r.MistakeDebitAmount.String(),
		"status":                string(r.Status),
	}
}

// CreateUnitInput registers a vendor unit.
type CreateUnitInput struct {
	Name       string `validate:"required"`
	Operations []string
	Contact    string
	Actor      string
}

// UpdateUnitInput changes a unit's mutable fields. The name stays fixed
// because orders and bills cite it.
type UpdateUnitInput struct {
	Name       string `validate:"required"`
	Operations []string
	Contact    string
	Actor      string
}

// CreateOrderInput is the intake contract for a delivery challan.
type CreateOrderInput struct {
	DCDate          time.Time `validate:"required"`
	CuttingOrderIDs []string  `validate:"min=1"`
	OperationType   string    `validate:"required"`
	UnitName        string    `validate:"required"`
	RatePerPcs      decimal.Decimal
	Actor           string
}

// CreateReceiptInput records what a vendor returned. Shortage is
// derived, never supplied.
type CreateReceiptInput struct {
	OrderID       string          `validate:"required"`
	Received      shared.SizeDist `validate:"required"`
	Mistake       shared.SizeDist
	SentToIroning bool
	Actor         string
}
