package returns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for customer
// returns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const returnColumns = `id, source_type, source_id, quantity, size_breakdown, reason,
	status, stock_restored, restored, created_at, updated_at, resolved_at`

// Insert stores a customer return.
func (r *Repository) Insert(ctx context.Context, ret CustomerReturn) error {
	breakdown, err := json.Marshal(ret.SizeBreakdown)
	if err != nil {
		return err
	}
	restored, err := json.Marshal(ret.Restored)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO customer_returns
		(id, source_type, source_id, quantity, size_breakdown, reason,
		 status, stock_restored, restored, created_at, updated_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ret.ID, string(ret.SourceType), ret.SourceID, ret.Quantity, breakdown, ret.Reason,
		string(ret.Status), ret.StockRestored, restored, ret.CreatedAt, ret.UpdatedAt, ret.ResolvedAt)
	return err
}

// Get fetches a return by id.
func (r *Repository) Get(ctx context.Context, id string) (CustomerReturn, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM customer_returns WHERE id=$1`, returnColumns), id)
	ret, err := scanReturn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CustomerReturn{}, shared.NotFound("customer_return", id)
	}
	return ret, err
}

// Update persists mutable return fields.
func (r *Repository) Update(ctx context.Context, ret CustomerReturn) error {
	restored, err := json.Marshal(ret.Restored)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE customer_returns SET
		status=$2, stock_restored=$3, restored=$4, updated_at=$5, resolved_at=$6 WHERE id=$1`,
		ret.ID, string(ret.Status), ret.StockRestored, restored, ret.UpdatedAt, ret.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("customer_return", ret.ID)
	}
	return nil
}

// List returns a filtered page of returns plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter Filter) ([]CustomerReturn, int, error) {
	where := `WHERE ($1 = '' OR source_type = $1) AND ($2 = '' OR status = $2)`
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customer_returns `+where,
		string(filter.SourceType), string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM customer_returns %s ORDER BY created_at DESC LIMIT $3 OFFSET $4`, returnColumns, where),
		string(filter.SourceType), string(filter.Status), perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var rets []CustomerReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		rets = append(rets, ret)
	}
	return rets, total, rows.Err()
}

// RestoredBySource sums the restored distributions of every accepted
// return against one source.
func (r *Repository) RestoredBySource(ctx context.Context, sourceType SourceType, sourceID string) (shared.SizeDist, error) {
	rows, err := r.pool.Query(ctx, `SELECT restored FROM customer_returns
		WHERE source_type=$1 AND source_id=$2 AND status=$3 AND restored IS NOT NULL`,
		string(sourceType), sourceID, string(StatusAccepted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	total := shared.SizeDist{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var dist shared.SizeDist
		if err := json.Unmarshal(raw, &dist); err != nil {
			return nil, fmt.Errorf("returns: parse restored: %w", err)
		}
		total = total.Add(dist)
	}
	return total, rows.Err()
}

func scanReturn(row pgx.Row) (CustomerReturn, error) {
	var (
		ret                       CustomerReturn
		breakdownRaw, restoredRaw []byte
		sourceType, status        string
	)
	err := row.Scan(&ret.ID, &sourceType, &ret.SourceID, &ret.Quantity, &breakdownRaw, &ret.Reason,
		&status, &ret.StockRestored, &restoredRaw, &ret.CreatedAt, &ret.UpdatedAt, &ret.ResolvedAt)
	if err != nil {
		return CustomerReturn{}, err
	}
	ret.SourceType = SourceType(sourceType)
	ret.Status = Status(status)
	if err := json.Unmarshal(breakdownRaw, &ret.SizeBreakdown); err != nil {
		return CustomerReturn{}, fmt.Errorf("returns: parse size_breakdown: %w", err)
	}
	if err := json.Unmarshal(restoredRaw, &ret.Restored); err != nil {
		return CustomerReturn{}, fmt.Errorf("returns: parse restored: %w", err)
	}
	return ret, nil
}
