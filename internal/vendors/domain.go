package vendors

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillFamily names which stage a bill belongs to.
type BillFamily string

const (
	FamilyOutsourcing BillFamily = "outsourcing"
	FamilyIroning     BillFamily = "ironing"
)

// Bill is one challan viewed as a payable, regardless of stage.
type Bill struct {
	Family        BillFamily      `json:"family"`
	BillID        string          `json:"bill_id"`
	DCNumber      string          `json:"dc_number"`
	UnitName      string          `json:"unit_name"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Balance       decimal.Decimal `json:"balance"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PendingBills is the per-unit payables view.
type PendingBills struct {
	UnitName           string          `json:"unit_name"`
	OutsourcingPending decimal.Decimal `json:"outsourcing_pending"`
	IroningPending     decimal.Decimal `json:"ironing_pending"`
	TotalPending       decimal.Decimal `json:"total_pending"`
	Bills              []Bill          `json:"bills"`
}

// Application records how much of one payment landed on one bill.
type Application struct {
	Family BillFamily      `json:"family"`
	BillID string          `json:"bill_id"`
	Amount decimal.Decimal `json:"amount"`
}

// Payment is one settlement against a unit, spread over its bills in
// age order.
type Payment struct {
	ID       string
	UnitName string
	Amount   decimal.Decimal
	Method   string
	Notes    string
	Applied  []Application

	CreatedAt time.Time
}

// ApplyPaymentInput settles part of a unit's payables.
type ApplyPaymentInput struct {
	UnitName string `validate:"required"`
	Amount   decimal.Decimal
	Method   string
	Notes    string
	Actor    string
}
