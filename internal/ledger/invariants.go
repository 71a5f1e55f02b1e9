// Package ledger is the validation kernel: every conservation and
// arithmetic invariant lives here and nowhere else. Stage services call
// these checks on their in-flight working copies before committing;
// any violation rejects the mutation wholesale.
package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// KgTolerance is the comparison tolerance for kilogram arithmetic.
// Piece counts are integers and compared exactly.
const KgTolerance = 1e-2

// KgEqual compares two kilogram figures under the ledger tolerance.
func KgEqual(a, b float64) bool {
	return math.Abs(a-b) <= KgTolerance
}

// NonNegativeKg rejects negative kilogram figures beyond tolerance.
func NonNegativeKg(v float64, what string) error {
	if v < -KgTolerance {
		return shared.InvariantViolation("non-negativity", "%s is negative: %.2f", what, v)
	}
	return nil
}

// NonNegativeDist rejects any negative per-size count.
func NonNegativeDist(d shared.SizeDist, what string) error {
	for _, size := range d.Sizes() {
		if d[size] < 0 {
			return shared.InvariantViolation("non-negativity", "%s has negative count %d for size %q", what, d[size], size)
		}
	}
	return nil
}

// FabricConservation verifies intake == taken + returned + remaining
// for a fabric lot dimension (main fabric or rib).
func FabricConservation(intake, takenSum, returnedSum, remaining float64, what string) error {
	if !KgEqual(intake, takenSum+returnedSum+remaining) {
		return shared.InvariantViolation("fabric-lot conservation",
			"%s: intake %.2f != taken %.2f + returned %.2f + remaining %.2f",
			what, intake, takenSum, returnedSum, remaining)
	}
	return nil
}

// UsedIdentity verifies used == taken − returned on a cutting order.
func UsedIdentity(taken, returned, used float64, what string) error {
	if !KgEqual(used, taken-returned) {
		return shared.InvariantViolation("fabric-used identity",
			"%s: used %.2f != taken %.2f - returned %.2f", what, used, taken, returned)
	}
	return nil
}

// TotalMatches verifies a stored total equals the distribution sum.
func TotalMatches(d shared.SizeDist, total int, what string) error {
	if d.Total() != total {
		return shared.InvariantViolation("size-total identity",
			"%s: total %d != distribution sum %d", what, total, d.Total())
	}
	return nil
}

// AmountIdentity verifies total == quantity × rate.
func AmountIdentity(total decimal.Decimal, quantity int, rate decimal.Decimal, what string) error {
	want := rate.Mul(decimal.NewFromInt(int64(quantity)))
	if !total.Equal(want) {
		return shared.InvariantViolation("amount identity",
			"%s: total %s != %d x %s", what, total, quantity, rate)
	}
	return nil
}

// BalanceIdentity verifies balance == total − paid.
func BalanceIdentity(total, paid, balance decimal.Decimal, what string) error {
	if !balance.Equal(total.Sub(paid)) {
		return shared.InvariantViolation("balance identity",
			"%s: balance %s != total %s - paid %s", what, balance, total, paid)
	}
	return nil
}

// ReceiptIdentity verifies received + shortage + mistake == sent for
// every size across the union of keys, with shortage and mistake
// independently non-negative.
func ReceiptIdentity(sent, received, shortage, mistake shared.SizeDist, what string) error {
	if err := NonNegativeDist(received, what+" received"); err != nil {
		return err
	}
	if err := NonNegativeDist(shortage, what+" shortage"); err != nil {
		return err
	}
	if err := NonNegativeDist(mistake, what+" mistake"); err != nil {
		return err
	}
	for _, size := range shared.UnionSizes(sent, received, shortage, mistake) {
		got := received.Get(size) + shortage.Get(size) + mistake.Get(size)
		if got != sent.Get(size) {
			return shared.InvariantViolation("receipt identity",
				"%s: size %q: received+shortage+mistake %d != sent %d", what, size, got, sent.Get(size))
		}
	}
	return nil
}

// AvailabilityCovers rejects a per-size debit that any size cannot cover.
func AvailabilityCovers(available, debit shared.SizeDist, entity, id string) error {
	for _, size := range shared.UnionSizes(available, debit) {
		if debit.Get(size) > available.Get(size) {
			return shared.InsufficientStock(entity, id,
				"size %q: need %d, have %d", size, debit.Get(size), available.Get(size))
		}
	}
	return nil
}
