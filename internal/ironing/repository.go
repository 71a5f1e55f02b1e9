package ironing

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

// Repository provides PostgreSQL backed persistence for the ironing
// stage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, dc_number, dc_date, stitching_receipt_id, unit_name,
	cutting_lot_number, color, category, style_type, stock_lot_name, stock_color,
	size_distribution, total_quantity, master_pack_ratio,
	rate_per_pcs::text, total_amount::text, amount_paid::text, balance::text,
	payment_status, status, created_at, updated_at`

// InsertOrder stores an ironing challan.
func (r *Repository) InsertOrder(ctx context.Context, order Order) error {
	dist, err := json.Marshal(order.SizeDistribution)
	if err != nil {
		return err
	}
	ratio, err := json.Marshal(order.MasterPackRatio)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO ironing_orders
		(id, dc_number, dc_date, stitching_receipt_id, unit_name,
		 cutting_lot_number, color, category, style_type, stock_lot_name, stock_color,
		 size_distribution, total_quantity, master_pack_ratio,
		 rate_per_pcs, total_amount, amount_paid, balance, payment_status, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		order.ID, order.DCNumber, order.DCDate, order.StitchingReceiptID, order.UnitName,
		order.CuttingLotNumber, order.Color, order.Category, order.StyleType,
		order.StockLotName, order.StockColor, dist, order.TotalQuantity, ratio,
		order.RatePerPcs.String(), order.TotalAmount.String(),
		order.AmountPaid.String(), order.Balance.String(),
		string(order.PaymentStatus), string(order.Status), order.CreatedAt, order.UpdatedAt)
	return err
}

// GetOrder fetches a challan by id.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM ironing_orders WHERE id=$1`, orderColumns), id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("ironing_order", id)
	}
	return order, err
}

// UpdateOrder persists mutable challan fields.
func (r *Repository) UpdateOrder(ctx context.Context, order Order) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ironing_orders SET
		amount_paid=$2, balance=$3, payment_status=$4, status=$5, updated_at=$6 WHERE id=$1`,
		order.ID, order.AmountPaid.String(), order.Balance.String(),
		string(order.PaymentStatus), string(order.Status), order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("ironing_order", order.ID)
	}
	return nil
}

// DeleteOrder removes a challan row.
func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ironing_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("ironing_order", id)
	}
	return nil
}

// ListOrders returns a filtered page of challans plus the unpaged total.
func (r *Repository) ListOrders(ctx context.Context, filter Filter) ([]Order, int, error) {
	where := `WHERE ($1 = '' OR unit_name = $1)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ironing_orders `+where,
		filter.UnitName).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM ironing_orders %s ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orderColumns, where),
		filter.UnitName, perPage, (page-1)*perPage)
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

// OrderForReceipt fetches the challan built from a stitching receipt.
func (r *Repository) OrderForReceipt(ctx context.Context, stitchingReceiptID string) (Order, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM ironing_orders WHERE stitching_receipt_id=$1`, orderColumns), stitchingReceiptID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("ironing_order", stitchingReceiptID)
	}
	return order, err
}

const receiptColumns = `id, order_id, sent, received, shortage, mistake,
	total_sent, total_received, total_shortage, total_mistake,
	shortage_debit_amount::text, mistake_debit_amount::text,
	complete_packs, loose_pieces, loose_per_size, stock_id, created_at, updated_at`

// InsertReceipt stores an ironing receipt.
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
	loose, err := json.Marshal(receipt.LoosePerSize)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO ironing_receipts
		(id, order_id, sent, received, shortage, mistake,
		 total_sent, total_received, total_shortage, total_mistake,
		 shortage_debit_amount, mistake_debit_amount,
		 complete_packs, loose_pieces, loose_per_size, stock_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		receipt.ID, receipt.OrderID, sent, received, shortage, mistake,
		receipt.TotalSent, receipt.TotalReceived, receipt.TotalShortage, receipt.TotalMistake,
		receipt.ShortageDebitAmount.String(), receipt.MistakeDebitAmount.String(),
		receipt.CompletePacks, receipt.LoosePieces, loose, receipt.StockID,
		receipt.CreatedAt, receipt.UpdatedAt)
	return err
}

// GetReceipt fetches a receipt by id.
func (r *Repository) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM ironing_receipts WHERE id=$1`, receiptColumns), id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFound("ironing_receipt", id)
	}
	return receipt, err
}

// UpdateReceipt persists mutable receipt fields.
func (r *Repository) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	tag, err := r.pool.Exec(ctx, `UPDATE ironing_receipts SET
		shortage_debit_amount=$2, mistake_debit_amount=$3, updated_at=$4 WHERE id=$1`,
		receipt.ID, receipt.ShortageDebitAmount.String(), receipt.MistakeDebitAmount.String(), receipt.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("ironing_receipt", receipt.ID)
	}
	return nil
}

// DeleteReceipt removes a receipt row.
func (r *Repository) DeleteReceipt(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ironing_receipts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("ironing_receipt", id)
	}
	return nil
}

// ReceiptForOrder fetches the receipt recorded against a challan.
func (r *Repository) ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM ironing_receipts WHERE order_id=$1`, receiptColumns), orderID)
	receipt, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, shared.NotFound("ironing_receipt", orderID)
	}
	return receipt, err
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		order                      Order
		distRaw, ratioRaw          []byte
		rate, total, paid, balance string
		payStatus, status          string
	)
	err := row.Scan(&order.ID, &order.DCNumber, &order.DCDate, &order.StitchingReceiptID,
		&order.UnitName, &order.CuttingLotNumber, &order.Color, &order.Category,
		&order.StyleType, &order.StockLotName, &order.StockColor,
		&distRaw, &order.TotalQuantity, &ratioRaw,
		&rate, &total, &paid, &balance, &payStatus, &status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(distRaw, &order.SizeDistribution); err != nil {
		return Order{}, fmt.Errorf("ironing: parse size_distribution: %w", err)
	}
	if err := json.Unmarshal(ratioRaw, &order.MasterPackRatio); err != nil {
		return Order{}, fmt.Errorf("ironing: parse master_pack_ratio: %w", err)
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
		receipt                                              Receipt
		sentRaw, receivedRaw, shortRaw, mistakeRaw, looseRaw []byte
		shortDebit, mistakeDebit                             string
	)
	err := row.Scan(&receipt.ID, &receipt.OrderID, &sentRaw, &receivedRaw, &shortRaw, &mistakeRaw,
		&receipt.TotalSent, &receipt.TotalReceived, &receipt.TotalShortage, &receipt.TotalMistake,
		&shortDebit, &mistakeDebit, &receipt.CompletePacks, &receipt.LoosePieces, &looseRaw,
		&receipt.StockID, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return Receipt{}, err
	}
	if err := json.Unmarshal(sentRaw, &receipt.Sent); err != nil {
		return Receipt{}, fmt.Errorf("ironing: parse sent: %w", err)
	}
	if err := json.Unmarshal(receivedRaw, &receipt.Received); err != nil {
		return Receipt{}, fmt.Errorf("ironing: parse received: %w", err)
	}
	if err := json.Unmarshal(shortRaw, &receipt.Shortage); err != nil {
		return Receipt{}, fmt.Errorf("ironing: parse shortage: %w", err)
	}
	if err := json.Unmarshal(mistakeRaw, &receipt.Mistake); err != nil {
		return Receipt{}, fmt.Errorf("ironing: parse mistake: %w", err)
	}
	if err := json.Unmarshal(looseRaw, &receipt.LoosePerSize); err != nil {
		return Receipt{}, fmt.Errorf("ironing: parse loose_per_size: %w", err)
	}
	if receipt.ShortageDebitAmount, err = decimal.NewFromString(shortDebit); err != nil {
		return Receipt{}, err
	}
	if receipt.MistakeDebitAmount, err = decimal.NewFromString(mistakeDebit); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}
