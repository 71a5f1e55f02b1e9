package vendors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads the cross-stage bill view straight from the
// outsourcing and ironing tables and persists payment records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BillsForUnit lists every bill of a unit, oldest first.
func (r *Repository) BillsForUnit(ctx context.Context, unitName string) ([]Bill, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT 'outsourcing' AS family, id, dc_number, unit_name,
		       total_amount::text, amount_paid::text, balance::text, payment_status, created_at
		FROM outsourcing_orders WHERE unit_name = $1
		UNION ALL
		SELECT 'ironing' AS family, id, dc_number, unit_name,
		       total_amount::text, amount_paid::text, balance::text, payment_status, created_at
		FROM ironing_orders WHERE unit_name = $1
		ORDER BY created_at`, unitName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, rows.Err()
}

// InsertPayment stores a payment with its per-bill applications
// embedded as JSONB.
func (r *Repository) InsertPayment(ctx context.Context, payment Payment) error {
	applied, err := json.Marshal(payment.Applied)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO vendor_payments
		(id, unit_name, amount, method, notes, applied, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		payment.ID, payment.UnitName, payment.Amount.String(), payment.Method,
		payment.Notes, applied, payment.CreatedAt)
	return err
}

// ListPayments returns a unit's payment history, newest first.
func (r *Repository) ListPayments(ctx context.Context, unitName string) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, unit_name, amount::text, method, notes, applied, created_at
		FROM vendor_payments WHERE unit_name = $1 ORDER BY created_at DESC`, unitName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var (
			payment    Payment
			amount     string
			appliedRaw []byte
		)
		if err := rows.Scan(&payment.ID, &payment.UnitName, &amount, &payment.Method,
			&payment.Notes, &appliedRaw, &payment.CreatedAt); err != nil {
			return nil, err
		}
		if payment.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(appliedRaw, &payment.Applied); err != nil {
			return nil, fmt.Errorf("vendors: parse applied: %w", err)
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanBill(row pgx.Row) (Bill, error) {
	var (
		bill                 Bill
		family               string
		total, paid, balance string
	)
	err := row.Scan(&family, &bill.BillID, &bill.DCNumber, &bill.UnitName,
		&total, &paid, &balance, &bill.PaymentStatus, &bill.CreatedAt)
	if err != nil {
		return Bill{}, err
	}
	bill.Family = BillFamily(family)
	if bill.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Bill{}, err
	}
	if bill.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return Bill{}, err
	}
	if bill.Balance, err = decimal.NewFromString(balance); err != nil {
		return Bill{}, err
	}
	return bill, nil
}
