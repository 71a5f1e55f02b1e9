package fabric

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

func errNoLot(id string) error    { return shared.NotFound("fabric_lot", id) }
func errNoReturn(id string) error { return shared.NotFound("fabric_return", id) }

// Repository provides PostgreSQL backed persistence for fabric lots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const lotColumns = `id, lot_number, entry_date, fabric_type, supplier, color,
	rate_per_kg::text, number_of_rolls, roll_numbers, scale_readings, roll_weights,
	rib_quantity, quantity, remaining_quantity, remaining_rib_quantity,
	total_amount::text, created_at, updated_at`

// InsertLot stores a new lot.
func (r *Repository) InsertLot(ctx context.Context, lot Lot) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO fabric_lots
		(id, lot_number, entry_date, fabric_type, supplier, color, rate_per_kg,
		 number_of_rolls, roll_numbers, scale_readings, roll_weights, rib_quantity,
		 quantity, remaining_quantity, remaining_rib_quantity, total_amount, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		lot.ID, lot.LotNumber, lot.EntryDate, lot.FabricType, lot.Supplier, lot.Color,
		lot.RatePerKg.String(), lot.NumberOfRolls, lot.RollNumbers, lot.ScaleReadings,
		lot.RollWeights, lot.RibQuantity, lot.Quantity, lot.RemainingQuantity,
		lot.RemainingRibQuantity, lot.TotalAmount.String(), lot.CreatedAt, lot.UpdatedAt)
	return err
}

// GetLot fetches a lot by id.
func (r *Repository) GetLot(ctx context.Context, id string) (Lot, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM fabric_lots WHERE id=$1`, lotColumns), id)
	return scanLot(row)
}

// UpdateLot persists mutable lot fields.
func (r *Repository) UpdateLot(ctx context.Context, lot Lot) error {
	tag, err := r.pool.Exec(ctx, `UPDATE fabric_lots SET
		roll_numbers=$2, scale_readings=$3, roll_weights=$4, quantity=$5,
		remaining_quantity=$6, remaining_rib_quantity=$7, total_amount=$8, updated_at=$9
		WHERE id=$1`,
		lot.ID, lot.RollNumbers, lot.ScaleReadings, lot.RollWeights, lot.Quantity,
		lot.RemainingQuantity, lot.RemainingRibQuantity, lot.TotalAmount.String(), lot.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoLot(lot.ID)
	}
	return nil
}

// DeleteLot removes a lot row.
func (r *Repository) DeleteLot(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM fabric_lots WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoLot(id)
	}
	return nil
}

// ListLots returns a filtered page of lots plus the unpaged total.
func (r *Repository) ListLots(ctx context.Context, filter Filter) ([]Lot, int, error) {
	where := `WHERE ($1 = '' OR supplier = $1) AND ($2 = '' OR fabric_type = $2) AND ($3 = '' OR color = $3)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fabric_lots `+where,
		filter.Supplier, filter.FabricType, filter.Color).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM fabric_lots %s ORDER BY created_at DESC LIMIT $4 OFFSET $5`, lotColumns, where),
		filter.Supplier, filter.FabricType, filter.Color, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, lot)
	}
	return lots, total, rows.Err()
}

// InsertReturn stores a fabric return.
func (r *Repository) InsertReturn(ctx context.Context, ret Return) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO fabric_returns
		(id, fabric_lot_id, returned_rolls, quantity_returned, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		ret.ID, ret.LotID, ret.ReturnedRolls, ret.QuantityReturned, ret.Reason, ret.CreatedAt)
	return err
}

// GetReturn fetches a fabric return by id.
func (r *Repository) GetReturn(ctx context.Context, id string) (Return, error) {
	var ret Return
	err := r.pool.QueryRow(ctx, `SELECT id, fabric_lot_id, returned_rolls, quantity_returned, reason, created_at
		FROM fabric_returns WHERE id=$1`, id).
		Scan(&ret.ID, &ret.LotID, &ret.ReturnedRolls, &ret.QuantityReturned, &ret.Reason, &ret.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, errNoReturn(id)
	}
	return ret, err
}

// DeleteReturn removes a fabric return row.
func (r *Repository) DeleteReturn(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM fabric_returns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errNoReturn(id)
	}
	return nil
}

// ListReturnsByLot lists the returns citing a lot.
func (r *Repository) ListReturnsByLot(ctx context.Context, lotID string) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, fabric_lot_id, returned_rolls, quantity_returned, reason, created_at
		FROM fabric_returns WHERE fabric_lot_id=$1 ORDER BY created_at`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var returns []Return
	for rows.Next() {
		var ret Return
		if err := rows.Scan(&ret.ID, &ret.LotID, &ret.ReturnedRolls, &ret.QuantityReturned, &ret.Reason, &ret.CreatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, ret)
	}
	return returns, rows.Err()
}

// CuttingOrdersCiting lists cutting lot numbers still referencing a lot.
func (r *Repository) CuttingOrdersCiting(ctx context.Context, lotID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT cutting_lot_number FROM cutting_orders WHERE fabric_lot_id=$1 ORDER BY cutting_lot_number`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var numbers []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// CuttingConsumption sums the fabric and rib kilograms the cutting
// orders drew from a lot. Old-lot orders never debited the lot and are
// excluded.
func (r *Repository) CuttingConsumption(ctx context.Context, lotID string) (float64, float64, error) {
	var fabricKg, ribKg float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(fabric_used), 0), COALESCE(SUM(rib_used), 0)
		FROM cutting_orders WHERE fabric_lot_id=$1 AND NOT is_old_lot`, lotID).
		Scan(&fabricKg, &ribKg)
	return fabricKg, ribKg, err
}

func scanLot(row pgx.Row) (Lot, error) {
	var (
		lot         Lot
		rate, total string
	)
	err := row.Scan(&lot.ID, &lot.LotNumber, &lot.EntryDate, &lot.FabricType, &lot.Supplier,
		&lot.Color, &rate, &lot.NumberOfRolls, &lot.RollNumbers, &lot.ScaleReadings,
		&lot.RollWeights, &lot.RibQuantity, &lot.Quantity, &lot.RemainingQuantity,
		&lot.RemainingRibQuantity, &total, &lot.CreatedAt, &lot.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, errNoLot("")
	}
	if err != nil {
		return Lot{}, err
	}
	if lot.RatePerKg, err = decimal.NewFromString(rate); err != nil {
		return Lot{}, fmt.Errorf("fabric: parse rate_per_kg: %w", err)
	}
	if lot.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Lot{}, fmt.Errorf("fabric: parse total_amount: %w", err)
	}
	return lot, nil
}
