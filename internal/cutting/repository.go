package cutting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for cutting orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, cutting_lot_number, cutting_master, date, fabric_lot_id,
	is_old_lot, old_lot_warning, color, category, style_type,
	fabric_taken, fabric_returned, fabric_used, rib_taken, rib_returned, rib_used,
	size_distribution, issued, total_quantity,
	cutting_rate_per_pcs::text, total_cutting_amount::text, amount_paid::text, balance::text,
	completed_operations, created_at, updated_at`

// InsertOrder stores a new cutting order.
func (r *Repository) InsertOrder(ctx context.Context, order Order) error {
	dist, err := json.Marshal(order.SizeDistribution)
	if err != nil {
		return err
	}
	issued, err := json.Marshal(order.Issued)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO cutting_orders
		(id, cutting_lot_number, cutting_master, date, fabric_lot_id, is_old_lot, old_lot_warning,
		 color, category, style_type, fabric_taken, fabric_returned, fabric_used,
		 rib_taken, rib_returned, rib_used, size_distribution, issued, total_quantity,
		 cutting_rate_per_pcs, total_cutting_amount, amount_paid, balance,
		 completed_operations, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		order.ID, order.CuttingLotNumber, order.CuttingMaster, order.Date, order.FabricLotID,
		order.IsOldLot, order.OldLotWarning, order.Color, order.Category, order.StyleType,
		order.FabricTaken, order.FabricReturned, order.FabricUsed,
		order.RibTaken, order.RibReturned, order.RibUsed, dist, issued, order.TotalQuantity,
		order.CuttingRatePerPcs.String(), order.TotalCuttingAmount.String(),
		order.AmountPaid.String(), order.Balance.String(),
		order.CompletedOperations, order.CreatedAt, order.UpdatedAt)
	return err
}

// GetOrder fetches a cutting order by id.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM cutting_orders WHERE id=$1`, orderColumns), id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("cutting_order", id)
	}
	return order, err
}

// UpdateOrder persists mutable order fields.
func (r *Repository) UpdateOrder(ctx context.Context, order Order) error {
	issued, err := json.Marshal(order.Issued)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE cutting_orders SET
		issued=$2, amount_paid=$3, balance=$4, completed_operations=$5, updated_at=$6
		WHERE id=$1`,
		order.ID, issued, order.AmountPaid.String(), order.Balance.String(),
		order.CompletedOperations, order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("cutting_order", order.ID)
	}
	return nil
}

// DeleteOrder removes a cutting order row.
func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cutting_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("cutting_order", id)
	}
	return nil
}

// ListOrders returns a filtered page of orders plus the unpaged total.
func (r *Repository) ListOrders(ctx context.Context, filter Filter) ([]Order, int, error) {
	where := `WHERE ($1 = '' OR category = $1) AND ($2 = '' OR style_type = $2)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cutting_orders `+where,
		filter.Category, filter.StyleType).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM cutting_orders %s ORDER BY created_at DESC LIMIT $3 OFFSET $4`, orderColumns, where),
		filter.Category, filter.StyleType, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

// OutsourcingOrdersCiting lists DC numbers of outsourcing orders still
// referencing a cutting order.
func (r *Repository) OutsourcingOrdersCiting(ctx context.Context, cuttingID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT dc_number FROM outsourcing_orders WHERE $1 = ANY(cutting_order_ids) ORDER BY dc_number`, cuttingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

// StockCiting lists stock codes created directly from a cutting order.
func (r *Repository) StockCiting(ctx context.Context, cuttingID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT stock_code FROM stock_items WHERE source = 'cutting' AND source_id = $1 ORDER BY stock_code`, cuttingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStrings(rows)
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		order                      Order
		distRaw, issuedRaw         []byte
		rate, total, paid, balance string
	)
	err := row.Scan(&order.ID, &order.CuttingLotNumber, &order.CuttingMaster, &order.Date,
		&order.FabricLotID, &order.IsOldLot, &order.OldLotWarning, &order.Color,
		&order.Category, &order.StyleType, &order.FabricTaken, &order.FabricReturned,
		&order.FabricUsed, &order.RibTaken, &order.RibReturned, &order.RibUsed,
		&distRaw, &issuedRaw, &order.TotalQuantity, &rate, &total, &paid, &balance,
		&order.CompletedOperations, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(distRaw, &order.SizeDistribution); err != nil {
		return Order{}, fmt.Errorf("cutting: parse size_distribution: %w", err)
	}
	if err := json.Unmarshal(issuedRaw, &order.Issued); err != nil {
		return Order{}, fmt.Errorf("cutting: parse issued: %w", err)
	}
	if order.CuttingRatePerPcs, err = decimal.NewFromString(rate); err != nil {
		return Order{}, err
	}
	if order.TotalCuttingAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, err
	}
	if order.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return Order{}, err
	}
	if order.Balance, err = decimal.NewFromString(balance); err != nil {
		return Order{}, err
	}
	return order, nil
}
