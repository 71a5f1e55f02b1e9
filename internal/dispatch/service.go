package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/packing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
)

// RepositoryPort is the persistence contract for bulk dispatches.
type RepositoryPort interface {
	Insert(ctx context.Context, d BulkDispatch) error
	Get(ctx context.Context, id string) (BulkDispatch, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]BulkDispatch, int, error)
	ReturnsCiting(ctx context.Context, dispatchID string) ([]string, error)
}

// StockPort is the slice of the stock service dispatches need. Debit
// and Credit run under this service's ledger lock.
type StockPort interface {
	Get(ctx context.Context, id string) (stock.Item, error)
	Debit(ctx context.Context, id string, take shared.SizeDist) (stock.Item, error)
	Credit(ctx context.Context, id string, give shared.SizeDist) (stock.Item, error)
}

// IDPort allocates dispatch numbers.
type IDPort interface {
	NextDispatchNumber(ctx context.Context) (string, error)
}

// IdempotencyPort guards against double-submitted dispatches.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service owns bulk dispatches.
type Service struct {
	repo        RepositoryPort
	stocks      StockPort
	ids         IDPort
	idempotency IdempotencyPort
	audit       AuditPort
	events      EventPort
	lock        *shared.LedgerLock
	validate    *validator.Validate
}

// NewService builds the dispatch service. The idempotency store may be
// nil, in which case keys are ignored.
func NewService(repo RepositoryPort, stocks StockPort, ids IDPort, idempotency IdempotencyPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:        repo,
		stocks:      stocks,
		ids:         ids,
		idempotency: idempotency,
		audit:       audit,
		events:      events,
		lock:        lock,
		validate:    validator.New(),
	}
}

// Create ships stock lines to a customer. Every line is checked
// against its stock row's availability before any debit happens, so a
// rejected dispatch leaves no trace.
func (s *Service) Create(ctx context.Context, input CreateInput) (BulkDispatch, error) {
	if err := s.validate.Struct(input); err != nil {
		return BulkDispatch{}, fmt.Errorf("dispatch: invalid input: %w", err)
	}
	for _, line := range input.Items {
		if err := ledger.NonNegativeDist(line.LoosePcs, "dispatch loose pieces"); err != nil {
			return BulkDispatch{}, err
		}
	}
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "dispatch"); err != nil {
			return BulkDispatch{}, err
		}
	}

	s.lock.Acquire()
	defer s.lock.Release()

	d, err := s.create(ctx, input)
	if err != nil && s.idempotency != nil && input.IdempotencyKey != "" {
		_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
	}
	return d, err
}

func (s *Service) create(ctx context.Context, input CreateInput) (BulkDispatch, error) {
	// First pass: explode every line and prove the whole dispatch fits.
	items := make([]Item, 0, len(input.Items))
	perStock := map[string]shared.SizeDist{}
	codes := map[string]string{}
	for _, line := range input.Items {
		st, err := s.stocks.Get(ctx, line.StockID)
		if err != nil {
			return BulkDispatch{}, err
		}
		if !st.Active {
			return BulkDispatch{}, shared.InvalidTransition("stock %s is inactive", st.StockCode)
		}
		dist := packing.Explode(line.MasterPacks, st.MasterPackRatio, line.LoosePcs)
		if dist.IsZero() {
			return BulkDispatch{}, shared.InvariantViolation("non-negativity",
				"dispatch line for stock %s moves no pieces", st.StockCode)
		}
		items = append(items, Item{
			StockID:          st.ID,
			StockCode:        st.StockCode,
			MasterPacks:      line.MasterPacks,
			LoosePcs:         line.LoosePcs.Clone(),
			SizeDistribution: dist,
			TotalPieces:      dist.Total(),
		})
		perStock[st.ID] = perStock[st.ID].Add(dist)
		codes[st.ID] = st.StockCode
	}
	for stockID, want := range perStock {
		st, err := s.stocks.Get(ctx, stockID)
		if err != nil {
			return BulkDispatch{}, err
		}
		if err := ledger.AvailabilityCovers(st.Available, want, "stock", codes[stockID]); err != nil {
			return BulkDispatch{}, err
		}
	}

	number, err := s.ids.NextDispatchNumber(ctx)
	if err != nil {
		return BulkDispatch{}, err
	}
	now := time.Now().UTC()
	d := BulkDispatch{
		ID:             uuid.NewString(),
		DispatchNumber: number,
		Date:           input.Date,
		CustomerName:   input.CustomerName,
		BoraNumber:     input.BoraNumber,
		Items:          items,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, item := range items {
		d.TotalQuantity += item.TotalPieces
	}

	var debited []Item
	for _, item := range items {
		if _, err := s.stocks.Debit(ctx, item.StockID, item.SizeDistribution); err != nil {
			for _, done := range debited {
				_, _ = s.stocks.Credit(ctx, done.StockID, done.SizeDistribution)
			}
			return BulkDispatch{}, err
		}
		debited = append(debited, item)
	}
	if err := s.repo.Insert(ctx, d); err != nil {
		for _, done := range debited {
			_, _ = s.stocks.Credit(ctx, done.StockID, done.SizeDistribution)
		}
		return BulkDispatch{}, err
	}
	s.recordAudit(ctx, input.Actor, "dispatch:create", d.ID,
		map[string]any{"dispatch_number": number, "customer": d.CustomerName})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "bulk_dispatch", EntityID: d.ID,
		Actor: input.Actor, After: d.snapshot(),
	})
	return d, nil
}

// Delete removes a dispatch and restores every stock line exactly.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	citing, err := s.repo.ReturnsCiting(ctx, id)
	if err != nil {
		return err
	}
	if len(citing) > 0 {
		offenders := make([]string, 0, len(citing))
		for _, rid := range citing {
			offenders = append(offenders, "customer_return "+rid)
		}
		return shared.ReferentialIntegrity("bulk_dispatch", d.DispatchNumber, offenders)
	}
	for _, item := range d.Items {
		if _, err := s.stocks.Credit(ctx, item.StockID, item.SizeDistribution); err != nil {
			return err
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "dispatch:delete", id, map[string]any{"dispatch_number": d.DispatchNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "bulk_dispatch", EntityID: id,
		Actor: actor, Before: d.snapshot(),
	})
	return nil
}

// Get fetches one dispatch.
func (s *Service) Get(ctx context.Context, id string) (BulkDispatch, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of dispatches with pagination metadata.
func (s *Service) List(ctx context.Context, filter Filter) ([]BulkDispatch, shared.Pagination, error) {
	dispatches, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return dispatches, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) publish(evt shared.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "bulk_dispatch", EntityID: id, Meta: meta})
}
