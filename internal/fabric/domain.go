package fabric

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a traceable unit of fabric received from one supplier in one
// intake event. Quantity stays zero until the cumulative scale readings
// are submitted and resolved into per-roll weights.
type Lot struct {
	ID                   string
	LotNumber            string
	EntryDate            time.Time
	FabricType           string
	Supplier             string
	Color                string
	RatePerKg            decimal.Decimal
	NumberOfRolls        int
	RollNumbers          []string
	ScaleReadings        []float64
	RollWeights          []float64
	RibQuantity          float64
	Quantity             float64
	RemainingQuantity    float64
	RemainingRibQuantity float64
	TotalAmount          decimal.Decimal
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Return records rolls sent back to the supplier. The lot's intake
// quantity is never revised; the return is a separate ledger debit
// against the remaining quantity.
type Return struct {
	ID               string
	LotID            string
	ReturnedRolls    []string
	QuantityReturned float64
	Reason           string
	CreatedAt        time.Time
}

// CreateLotInput is the intake contract for a new fabric lot.
type CreateLotInput struct {
	EntryDate     time.Time `validate:"required"`
	FabricType    string    `validate:"required"`
	Supplier      string    `validate:"required"`
	Color         string    `validate:"required"`
	RibQuantity   float64   `validate:"gte=0"`
	RatePerKg     decimal.Decimal
	NumberOfRolls int `validate:"gt=0"`
	Actor         string
}

// CreateReturnInput names the rolls going back to the supplier.
type CreateReturnInput struct {
	LotID            string   `validate:"required"`
	ReturnedRolls    []string `validate:"min=1"`
	QuantityReturned float64  `validate:"gt=0"`
	Reason           string
	Actor            string
}

// Filter narrows lot listings.
type Filter struct {
	Supplier   string
	FabricType string
	Color      string
	Page       int
	PerPage    int
}

// snapshot captures the conservation-relevant fields for event diffs.
func (l Lot) snapshot() map[string]any {
	return map[string]any{
		"quantity":               l.Quantity,
		"remaining_quantity":     l.RemainingQuantity,
		"remaining_rib_quantity": l.RemainingRibQuantity,
		"roll_numbers":           append([]string(nil), l.RollNumbers...),
		"total_amount":           l.TotalAmount.String(),
	}
}
