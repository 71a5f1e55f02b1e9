package outsourcing

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

// Repository provides PostgreSQL backed persistence for the
// outsourcing stage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertUnit stores a vendor unit.
func (r *Repository) InsertUnit(ctx context.Context, unit Unit) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO outsourcing_units
		(id, name, operations, contact, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		unit.ID, unit.Name, unit.Operations, unit.Contact, unit.Active, unit.CreatedAt, unit.UpdatedAt)
	return err
}

// GetUnit fetches a unit by name.
func (r *Repository) GetUnit(ctx context.Context, name string) (Unit, error) {
	var unit Unit
	err := r.pool.QueryRow(ctx, `SELECT id, name, operations, contact, active, created_at, updated_at
		FROM outsourcing_units WHERE name=$1`, name).
		Scan(&unit.ID, &unit.Name, &unit.Operations, &unit.Contact, &unit.Active, &unit.CreatedAt, &unit.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, shared.NotFound("unit", name)
	}
	return unit, err
}

// UpdateUnit persists mutable unit fields.
func (r *Repository) UpdateUnit(ctx context.Context, unit Unit) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outsourcing_units SET
		operations=$2, contact=$3, active=$4, updated_at=$5 WHERE id=$1`,
		unit.ID, unit.Operations, unit.Contact, unit.Active, unit.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("unit", unit.ID)
	}
	return nil
}

// ListUnits returns all units ordered by name.
func (r *Repository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, operations, contact, active, created_at, updated_at
		FROM outsourcing_units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []Unit
	for rows.Next() {
		var unit Unit
		if err := rows.Scan(&unit.ID, &unit.Name, &unit.Operations, &unit.Contact,
			&unit.Active, &unit.CreatedAt, &unit.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

const orderColumns = `id, dc_number, dc_date, cutting_order_ids, cutting_sent,
	operation_type, unit_name, size_distribution, total_quantity,
	rate_per_pcs::text, total_amount::text, amount_paid::text, balance::text,
	payment_status, status, created_at, updated_at`

// InsertOrder stores a delivery challan.
func (r *Repository) InsertOrder(ctx context.Context, order Order) error {
	dist, err := json.Marshal(order.SizeDistribution)
	if err != nil {
		return err
	}
	sent, err := json.Marshal(order.CuttingSent)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO outsourcing_orders
		(id, dc_number, dc_date, cutting_order_ids, cutting_sent, operation_type, unit_name,
		 size_distribution, total_quantity, rate_per_pcs, total_amount, amount_paid, balance,
		 payment_status, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		order.ID, order.DCNumber, order.DCDate, order.CuttingOrderIDs, sent,
		order.OperationType, order.UnitName, dist, order.TotalQuantity,
		order.RatePerPcs.String(), order.TotalAmount.String(),
		order.AmountPaid.String(), order.Balance.String(),
		string(order.PaymentStatus), string(order.Status), order.CreatedAt, order.UpdatedAt)
	return err
}

// GetOrder fetches a challan by id.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM outsourcing_orders WHERE id=$1`, orderColumns), id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("outsourcing_order", id)
	}
	return order, err
}

// UpdateOrder persists mutable challan fields.
func (r *Repository) UpdateOrder(ctx context.Context, order Order) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outsourcing_orders SET
		amount_paid=$2, balance=$3, payment_status=$4, status=$5, updated_at=$6 WHERE id=$1`,
		order.ID, order.AmountPaid.String(), order.Balance.String(),
		string(order.PaymentStatus), string(order.Status), order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("outsourcing_order", order.ID)
	}
	return nil
}

// DeleteOrder removes a challan row.
func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM outsourcing_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("outsourcing_order", id)
	}
	return nil
}

// ListOrders returns a filtered page of challans plus the unpaged total.
func (r *Repository) ListOrders(ctx context.Context, filter Filter) ([]Order, int, error) {
	where := `WHERE ($1 = '' OR unit_name = $1) AND ($2 = '' OR operation_type = $2)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outsourcing_orders `+where,
		filter.UnitName, filter.OperationType).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM outsourcing_orders %s ORDER BY created_at DESC LIMIT $3 OFFSET $4`, orderColumns, where),
		filter.UnitName, filter.OperationType, perPage, (page-1)*perPage)
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

const receiptColumns = `id, order_id, sent, received, shortage, mistake,
	total_sent, total_received, total_shortage, total_mistake,
	shortage_debit_amount::text, mistake_debit_amount::text,
	sent_to_ironing, status, created_at, updated_at`

// InsertReceipt stores a vendor receipt.
func (r *Repository) InsertReceipt(ctx context.Context, receipt Receipt) error {
	sent, err := json.Marshal(receipt.Sent)
	if err != nil {
		return err
	}
	received, err := json.Marshal(receipt.Received)
	if err != nil {
		return err
	}
	shortage, err := json.Marshal(receipt.Shortage)
	if err != nil {
		return err
	}
	mistake, err := json.Marshal(receipt.Mistake)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO outsourcing_receipts
		(id, order_id, sent, received, shortage, mistake,
		 total_sent, total_received, total_shortage, total_mistake,
		 shortage_debit_amount, mistake_debit_amount, sent_to_ironing, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		receipt.ID, receipt.OrderID, sent, received, shortage, mistake,
		receipt.TotalSent, receipt.TotalReceived, receipt.TotalShortage, receipt.TotalMistake,
		receipt.ShortageDebitAmount.String(), receipt.MistakeDebitAmount.String(),
		receipt.SentToIroning, string(receipt.Status), receipt.CreatedAt, receipt.UpdatedAt)
	return err
}

// GetReceipt fetches a receipt by id.
func (r *Repository) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM outsourcing_receipts WHERE id=$1`, receiptColumns), id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFound("outsourcing_receipt", id)
	}
	return receipt, err
}

// UpdateReceipt persists mutable receipt fields.
func (r *Repository) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outsourcing_receipts SET
		sent_to_ironing=$2, status=$3, shortage_debit_amount=$4, mistake_debit_amount=$5, updated_at=$6
		WHERE id=$1`,
		receipt.ID, receipt.SentToIroning, string(receipt.Status),
		receipt.ShortageDebitAmount.String(), receipt.MistakeDebitAmount.String(), receipt.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("outsourcing_receipt", receipt.ID)
	}
	return nil
}

// DeleteReceipt removes a receipt row.
func (r *Repository) DeleteReceipt(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM outsourcing_receipts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("outsourcing_receipt", id)
	}
	return nil
}

// ReceiptForOrder fetches the receipt recorded against a challan.
func (r *Repository) ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM outsourcing_receipts WHERE order_id=$1`, receiptColumns), orderID)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFound("outsourcing_receipt", orderID)
	}
	return receipt, err
}

// IroningOrdersCiting lists DC numbers of ironing orders built from a
// receipt.
func (r *Repository) IroningOrdersCiting(ctx context.Context, receiptID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT dc_number FROM ironing_orders WHERE stitching_receipt_id = $1 ORDER BY dc_number`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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
		distRaw, sentRaw           []byte
		rate, total, paid, balance string
		payStatus, status          string
	)
	err := row.Scan(&order.ID, &order.DCNumber, &order.DCDate, &order.CuttingOrderIDs, &sentRaw,
		&order.OperationType, &order.UnitName, &distRaw, &order.TotalQuantity,
		&rate, &total, &paid, &balance, &payStatus, &status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(distRaw, &order.SizeDistribution); err != nil {
		return Order{}, fmt.Errorf("outsourcing: parse size_distribution: %w", err)
	}
	if err := json.Unmarshal(sentRaw, &order.CuttingSent); err != nil {
		return Order{}, fmt.Errorf("outsourcing: parse cutting_sent: %w", err)
	}
	if order.RatePerPcs, err = decimal.NewFromString(rate); err != nil {
		return Order{}, err
	}
	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, err
	}
	if order.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return Order{}, err
	}
	if order.Balance, err = decimal.NewFromString(balance); err != nil {
		return Order{}, err
	}
	order.PaymentStatus = PaymentStatus(payStatus)
	order.Status = OrderStatus(status)
	return order, nil
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var (
		receipt                                    Receipt
		sentRaw, receivedRaw, shortRaw, mistakeRaw []byte
		shortDebit, mistakeDebit, status           string
	)
	err := row.Scan(&receipt.ID, &receipt.OrderID, &sentRaw, &receivedRaw, &shortRaw, &mistakeRaw,
		&receipt.TotalSent, &receipt.TotalReceived, &receipt.TotalShortage, &receipt.TotalMistake,
		&shortDebit, &mistakeDebit, &receipt.SentToIroning, &status,
		&receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return Receipt{}, err
	}
	if err := json.Unmarshal(sentRaw, &receipt.Sent); err != nil {
		return Receipt{}, fmt.Errorf("outsourcing: parse sent: %w", err)
	}
	if err := json.Unmarshal(receivedRaw, &receipt.Received); err != nil {
		return Receipt{}, fmt.Errorf("outsourcing: parse received: %w", err)
	}
	if err := json.Unmarshal(shortRaw, &receipt.Shortage); err != nil {
		return Receipt{}, fmt.Errorf("outsourcing: parse shortage: %w", err)
	}
	if err := json.Unmarshal(mistakeRaw, &receipt.Mistake); err != nil {
		return Receipt{}, fmt.Errorf("outsourcing: parse mistake: %w", err)
	}
	if receipt.ShortageDebitAmount, err = decimal.NewFromString(shortDebit); err != nil {
		return Receipt{}, err
	}
	if receipt.MistakeDebitAmount, err = decimal.NewFromString(mistakeDebit); err != nil {
		return Receipt{}, err
	}
	receipt.Status = ReceiptStatus(status)
	return receipt, nil
}
