package idgen

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// familyTables maps each identifier family to the column holding its
// issued values. DC numbers are shared between outsourcing and ironing
// challans and are probed across both tables.
var familyTables = map[Family]struct {
	table  string
	column string
}{
	FamilyFabricLot: {"fabric_lots", "lot_number"},
	FamilyCutting:   {"cutting_orders", "cutting_lot_number"},
	FamilyDispatch:  {"bulk_dispatches", "dispatch_number"},
	FamilyStock:     {"stock_items", "stock_code"},
}

// Repository implements Store against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Count returns the number of issued identifiers in a family.
func (r *Repository) Count(ctx context.Context, family Family) (int64, error) {
	spec, ok := familyTables[family]
	if !ok {
		return 0, fmt.Errorf("idgen: family %q is not counter-based", family)
	}
	var n int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, spec.table)).Scan(&n)
	return n, err
}

// Exists reports whether an identifier is already taken in a family.
func (r *Repository) Exists(ctx context.Context, family Family, id string) (bool, error) {
	if family == FamilyDC {
		var exists bool
		err := r.pool.QueryRow(ctx, `SELECT EXISTS (
			SELECT 1 FROM outsourcing_orders WHERE dc_number = $1
			UNION ALL
			SELECT 1 FROM ironing_orders WHERE dc_number = $1
		)`, id).Scan(&exists)
		return exists, err
	}
	spec, ok := familyTables[family]
	if !ok {
		return false, fmt.Errorf("idgen: unknown family %q", family)
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, spec.table, spec.column), id).
		Scan(&exists)
	return exists, err
}
