package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for stock rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, stock_code, lot_number, source, source_id, category, style_type, color,
	size_distribution, available, total_quantity, available_quantity,
	master_pack_ratio, complete_packs, loose_per_size, active, created_at, updated_at`

// Insert stores a stock row.
func (r *Repository) Insert(ctx context.Context, item Item) error {
	dist, err := json.Marshal(item.SizeDistribution)
	if err != nil {
		return err
	}
	available, err := json.Marshal(item.Available)
	if err != nil {
		return err
	}
	ratio, err := json.Marshal(item.MasterPackRatio)
	if err != nil {
		return err
	}
	loose, err := json.Marshal(item.LoosePerSize)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO stock_items
		(id, stock_code, lot_number, source, source_id, category, style_type, color,
		 size_distribution, available, total_quantity, available_quantity,
		 master_pack_ratio, complete_packs, loose_per_size, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		item.ID, item.StockCode, item.LotNumber, string(item.Source), item.SourceID,
		item.Category, item.StyleType, item.Color, dist, available,
		item.TotalQuantity, item.AvailableQuantity, ratio, item.CompletePacks, loose,
		item.Active, item.CreatedAt, item.UpdatedAt)
	return err
}

// Get fetches a stock row by id.
func (r *Repository) Get(ctx context.Context, id string) (Item, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM stock_items WHERE id=$1`, itemColumns), id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFound("stock", id)
	}
	return item, err
}

// Update persists mutable stock fields.
func (r *Repository) Update(ctx context.Context, item Item) error {
	available, err := json.Marshal(item.Available)
	if err != nil {
		return err
	}
	loose, err := json.Marshal(item.LoosePerSize)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE stock_items SET
		available=$2, available_quantity=$3, complete_packs=$4, loose_per_size=$5,
		active=$6, updated_at=$7 WHERE id=$1`,
		item.ID, available, item.AvailableQuantity, item.CompletePacks, loose,
		item.Active, item.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("stock", item.ID)
	}
	return nil
}

// Delete removes a stock row.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stock_items WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("stock", id)
	}
	return nil
}

// List returns a filtered page of stock rows plus the unpaged total.
// A negative PerPage disables paging.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Item, int, error) {
	where := `WHERE ($1 = '' OR lot_number = $1) AND ($2 = '' OR style_type = $2)
		AND ($3 = '' OR color = $3) AND (NOT $4 OR active)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_items `+where,
		filter.LotNumber, filter.StyleType, filter.Color, filter.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT %s FROM stock_items %s ORDER BY created_at DESC`, itemColumns, where)
	args := []any{filter.LotNumber, filter.StyleType, filter.Color, filter.ActiveOnly}
	if filter.PerPage >= 0 {
		perPage := filter.PerPage
		if perPage == 0 {
			perPage = 20
		}
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query += ` LIMIT $5 OFFSET $6`
		args = append(args, perPage, (page-1)*perPage)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// BySource fetches the stock row created from a given upstream record.
func (r *Repository) BySource(ctx context.Context, source Source, sourceID string) (Item, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM stock_items WHERE source=$1 AND source_id=$2`, itemColumns),
		string(source), sourceID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.NotFound("stock", sourceID)
	}
	return item, err
}

// DispatchesCiting lists dispatch numbers whose items reference a stock
// row.
func (r *Repository) DispatchesCiting(ctx context.Context, stockID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT d.dispatch_number
		FROM bulk_dispatches d, jsonb_array_elements(d.items) item
		WHERE item->>'stock_id' = $1 ORDER BY d.dispatch_number`, stockID)
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

func scanItem(row pgx.Row) (Item, error) {
	var (
		item                                      Item
		distRaw, availableRaw, ratioRaw, looseRaw []byte
		source                                    string
	)
	err := row.Scan(&item.ID, &item.StockCode, &item.LotNumber, &source, &item.SourceID,
		&item.Category, &item.StyleType, &item.Color, &distRaw, &availableRaw,
		&item.TotalQuantity, &item.AvailableQuantity, &ratioRaw, &item.CompletePacks,
		&looseRaw, &item.Active, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	item.Source = Source(source)
	if err := json.Unmarshal(distRaw, &item.SizeDistribution); err != nil {
		return Item{}, fmt.Errorf("stock: parse size_distribution: %w", err)
	}
	if err := json.Unmarshal(availableRaw, &item.Available); err != nil {
		return Item{}, fmt.Errorf("stock: parse available: %w", err)
	}
	if err := json.Unmarshal(ratioRaw, &item.MasterPackRatio); err != nil {
		return Item{}, fmt.Errorf("stock: parse master_pack_ratio: %w", err)
	}
	if err := json.Unmarshal(looseRaw, &item.LoosePerSize); err != nil {
		return Item{}, fmt.Errorf("stock: parse loose_per_size: %w", err)
	}
	return item, nil
}
