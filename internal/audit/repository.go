package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads audit_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Timeline lists audit entries matching the filters, newest first.
// A negative PerPage disables paging.
func (r *Repository) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, int, error) {
	from := filters.From
	to := filters.To
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	where := `($1 = '' OR actor = $1)
		AND ($2 = '' OR entity = $2)
		AND ($3 = '' OR entity_id = $3)
		AND ($4 = '' OR action = $4)
		AND occurred_at >= $5 AND occurred_at < $6`
	args := []any{filters.Actor, filters.Entity, filters.EntityID, filters.Action, from, to}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT actor, action, entity, entity_id, meta, occurred_at
		FROM audit_logs WHERE ` + where + ` ORDER BY occurred_at DESC`
	if filters.PerPage >= 0 {
		page := filters.Page
		if page <= 0 {
			page = 1
		}
		perPage := filters.PerPage
		if perPage == 0 {
			perPage = 20
		}
		query += ` LIMIT $7 OFFSET $8`
		args = append(args, perPage, (page-1)*perPage)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			metaRaw []byte
		)
		if err := rows.Scan(&entry.Actor, &entry.Action, &entry.Entity, &entry.EntityID, &metaRaw, &entry.At); err != nil {
			return nil, 0, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &entry.Meta); err != nil {
				return nil, 0, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}
