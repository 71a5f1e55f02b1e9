package audit

import (
	"context"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// RepositoryPort reads the audit_logs table.
type RepositoryPort interface {
	Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, int, error)
}

// Service serves the who-did-what timeline every stage writes into.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the audit timeline service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Timeline returns a page of audit entries, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]Entry, shared.Pagination, error) {
	entries, total, err := s.repo.Timeline(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// EntityHistory returns every entry touching one record, newest first.
func (s *Service) EntityHistory(ctx context.Context, entity, entityID string) ([]Entry, error) {
	entries, _, err := s.repo.Timeline(ctx, TimelineFilters{Entity: entity, EntityID: entityID, PerPage: -1})
	return entries, err
}
