// Package idgen allocates the human-readable identifiers used by every
// stage family. It is the sole writer of identifier state.
package idgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Family names an identifier sequence.
type Family string

const (
	FamilyFabricLot Family = "fabric_lot"
	FamilyCutting   Family = "cutting"
	FamilyDC        Family = "dc"
	FamilyDispatch  Family = "dispatch"
	FamilyStock     Family = "stock"
)

// Store answers the two questions the allocator needs: how many records
// a counter-based family already holds, and whether a candidate id is
// taken in a timestamp-based family.
type Store interface {
	Count(ctx context.Context, family Family) (int64, error)
	Exists(ctx context.Context, family Family, id string) (bool, error)
}

// collisionRetries bounds the monotonic-suffix probe for timestamp ids.
const collisionRetries = 50

// Allocator issues identifiers. Counter families derive the next number
// from count(existing)+1; timestamp families use the UTC wall clock with
// a monotonic suffix on collision.
type Allocator struct {
	store Store
	now   func() time.Time
}

// NewAllocator constructs an Allocator on top of a Store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

// NextLotNumber returns the next "lot NNN" identifier.
func (a *Allocator) NextLotNumber(ctx context.Context) (string, error) {
	return a.counter(ctx, FamilyFabricLot, "lot")
}

// NextCuttingNumber returns the next "cut NNN" identifier.
func (a *Allocator) NextCuttingNumber(ctx context.Context) (string, error) {
	return a.counter(ctx, FamilyCutting, "cut")
}

// NextDCNumber returns a delivery-challan number "DC-YYYYMMDDHHMMSS".
func (a *Allocator) NextDCNumber(ctx context.Context) (string, error) {
	return a.timestamped(ctx, FamilyDC, "DC")
}

// NextDispatchNumber returns a dispatch number "DSP-YYYYMMDDHHMMSS".
func (a *Allocator) NextDispatchNumber(ctx context.Context) (string, error) {
	return a.timestamped(ctx, FamilyDispatch, "DSP")
}

// NextStockCode returns a stock code "STK-YYYYMMDDHHMMSS".
func (a *Allocator) NextStockCode(ctx context.Context) (string, error) {
	return a.timestamped(ctx, FamilyStock, "STK")
}

func (a *Allocator) counter(ctx context.Context, family Family, prefix string) (string, error) {
	n, err := a.store.Count(ctx, family)
	if err != nil {
		return "", fmt.Errorf("idgen: count %s: %w", family, err)
	}
	return fmt.Sprintf("%s %03d", prefix, n+1), nil
}

func (a *Allocator) timestamped(ctx context.Context, family Family, prefix string) (string, error) {
	base := fmt.Sprintf("%s-%s", prefix, a.now().UTC().Format("20060102150405"))
	candidate := base
	for i := 2; ; i++ {
		taken, err := a.store.Exists(ctx, family, candidate)
		if err != nil {
			return "", fmt.Errorf("idgen: probe %s: %w", family, err)
		}
		if !taken {
			return candidate, nil
		}
		if i > collisionRetries {
			return "", shared.ConflictingIdentifier(string(family), base)
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// RollNumbers derives roll identifiers for a lot:
// "<lot_number><color-without-spaces><index-from-1>".
func RollNumbers(lotNumber, color string, rolls int) []string {
	compact := strings.ReplaceAll(color, " ", "")
	out := make([]string, 0, rolls)
	for i := 1; i <= rolls; i++ {
		out = append(out, fmt.Sprintf("%s%s%d", lotNumber, compact, i))
	}
	return out
}
