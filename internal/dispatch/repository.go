package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for bulk
// dispatches.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const dispatchColumns = `id, dispatch_number, date, customer_name, bora_number,
	items, total_quantity, created_at, updated_at`

// Insert stores a dispatch with its item lines embedded as JSONB.
func (r *Repository) Insert(ctx context.Context, d BulkDispatch) error {
	items, err := json.Marshal(d.Items)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO bulk_dispatches
		(id, dispatch_number, date, customer_name, bora_number, items, total_quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.DispatchNumber, d.Date, d.CustomerName, d.BoraNumber, items,
		d.TotalQuantity, d.CreatedAt, d.UpdatedAt)
	return err
}

// Get fetches a dispatch by id.
func (r *Repository) Get(ctx context.Context, id string) (BulkDispatch, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM bulk_dispatches WHERE id=$1`, dispatchColumns), id)
	d, err := scanDispatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return BulkDispatch{}, shared.NotFound("bulk_dispatch", id)
	}
	return d, err
}

// Delete removes a dispatch row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bulk_dispatches WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("bulk_dispatch", id)
	}
	return nil
}

// List returns a filtered page of dispatches plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter Filter) ([]BulkDispatch, int, error) {
	where := `WHERE ($1 = '' OR customer_name = $1)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bulk_dispatches `+where,
		filter.CustomerName).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM bulk_dispatches %s ORDER BY created_at DESC LIMIT $2 OFFSET $3`, dispatchColumns, where),
		filter.CustomerName, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var dispatches []BulkDispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, 0, err
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, total, rows.Err()
}

// ReturnsCiting lists customer returns filed against a dispatch.
func (r *Repository) ReturnsCiting(ctx context.Context, dispatchID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM customer_returns WHERE source_type='dispatch' AND source_id=$1 ORDER BY created_at`, dispatchID)
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

func scanDispatch(row pgx.Row) (BulkDispatch, error) {
	var (
		d        BulkDispatch
		itemsRaw []byte
	)
	err := row.Scan(&d.ID, &d.DispatchNumber, &d.Date, &d.CustomerName, &d.BoraNumber,
		&itemsRaw, &d.TotalQuantity, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return BulkDispatch{}, err
	}
	if err := json.Unmarshal(itemsRaw, &d.Items); err != nil {
		return BulkDispatch{}, fmt.Errorf("dispatch: parse items: %w", err)
	}
	return d, nil
}
