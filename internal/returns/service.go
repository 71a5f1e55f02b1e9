package returns

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tricot-erp/tricot-erp/internal/dispatch"
	"github.com/tricot-erp/tricot-erp/internal/ironing"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
)

// RepositoryPort is the persistence contract for customer returns.
type RepositoryPort interface {
	Insert(ctx context.Context, ret CustomerReturn) error
	Get(ctx context.Context, id string) (CustomerReturn, error)
	Update(ctx context.Context, ret CustomerReturn) error
	List(ctx context.Context, filter Filter) ([]CustomerReturn, int, error)
	RestoredBySource(ctx context.Context, sourceType SourceType, sourceID string) (shared.SizeDist, error)
}

// DispatchPort resolves the dispatch a return claims against.
type DispatchPort interface {
	Get(ctx context.Context, id string) (dispatch.BulkDispatch, error)
}

// StockPort restores accepted pieces. Credit runs under this service's
// ledger lock.
type StockPort interface {
	Credit(ctx context.Context, id string, give shared.SizeDist) (stock.Item, error)
}

// OutsourcingPort reverses vendor debits on accepted outsourcing
// returns.
type OutsourcingPort interface {
	GetReceipt(ctx context.Context, id string) (outsourcing.Receipt, error)
	ReverseReceiptDebits(ctx context.Context, id string) (outsourcing.Receipt, error)
}

// IroningPort reverses vendor debits on accepted ironing returns.
type IroningPort interface {
	GetReceipt(ctx context.Context, id string) (ironing.Receipt, error)
	ReverseReceiptDebits(ctx context.Context, id string) (ironing.Receipt, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// RestoreStrategy splits a size-silent return quantity over what the
// source dispatched. The default splits proportionally with largest
// remainders; a caller can install a different policy.
type RestoreStrategy func(dispatched shared.SizeDist, quantity int) shared.SizeDist

// Service owns customer returns.
type Service struct {
	repo       RepositoryPort
	dispatches DispatchPort
	stocks     StockPort
	outsource  OutsourcingPort
	ironings   IroningPort
	audit      AuditPort
	events     EventPort
	lock       *shared.LedgerLock
	validate   *validator.Validate
	strategy   RestoreStrategy
}

// NewService builds the returns service.
func NewService(repo RepositoryPort, dispatches DispatchPort, stocks StockPort, outsource OutsourcingPort, ironings IroningPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:       repo,
		dispatches: dispatches,
		stocks:     stocks,
		outsource:  outsource,
		ironings:   ironings,
		audit:      audit,
		events:     events,
		lock:       lock,
		validate:   validator.New(),
		strategy:   ProportionalSplit,
	}
}

// WithRestoreStrategy replaces the size-silent split policy.
func (s *Service) WithRestoreStrategy(strategy RestoreStrategy) *Service {
	s.strategy = strategy
	return s
}

// Create files a return in Pending state. The source must exist; no
// ledger effect happens until acceptance.
func (s *Service) Create(ctx context.Context, input CreateInput) (CustomerReturn, error) {
	if err := s.validate.Struct(input); err != nil {
		return CustomerReturn{}, fmt.Errorf("returns: invalid input: %w", err)
	}
	if err := ledger.NonNegativeDist(input.SizeBreakdown, "return size breakdown"); err != nil {
		return CustomerReturn{}, err
	}
	if len(input.SizeBreakdown) > 0 && input.SizeBreakdown.Total() != input.Quantity {
		return CustomerReturn{}, shared.InvariantViolation("size-key consistency",
			"return breakdown totals %d, quantity is %d", input.SizeBreakdown.Total(), input.Quantity)
	}
	switch input.SourceType {
	case SourceDispatch:
		if _, err := s.dispatches.Get(ctx, input.SourceID); err != nil {
			return CustomerReturn{}, err
		}
	case SourceOutsourcing:
		if _, err := s.outsource.GetReceipt(ctx, input.SourceID); err != nil {
			return CustomerReturn{}, err
		}
	case SourceIroning:
		if _, err := s.ironings.GetReceipt(ctx, input.SourceID); err != nil {
			return CustomerReturn{}, err
		}
	}

	now := time.Now().UTC()
	ret := CustomerReturn{
		ID:            uuid.NewString(),
		SourceType:    input.SourceType,
		SourceID:      input.SourceID,
		Quantity:      input.Quantity,
		SizeBreakdown: input.SizeBreakdown.Clone(),
		Reason:        input.Reason,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, ret); err != nil {
		return CustomerReturn{}, err
	}
	s.recordAudit(ctx, input.Actor, "returns:create", ret.ID,
		map[string]any{"source_type": string(ret.SourceType), "source_id": ret.SourceID})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "customer_return", EntityID: ret.ID,
		Actor: input.Actor, After: ret.snapshot(),
	})
	return ret, nil
}

// Accept applies a pending return to the ledger. Dispatch returns put
// pieces back on the dispatched stock rows; outsourcing and ironing
// returns cancel the receipt's vendor debits.
func (s *Service) Accept(ctx context.Context, id, actor string) (CustomerReturn, error) {
	s.lock.Acquire()
	defer s.lock.Release()

	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return CustomerReturn{}, err
	}
	if ret.Status != StatusPending {
		return CustomerReturn{}, shared.InvalidTransition("return %s is already %s", id, ret.Status)
	}
	before := ret.snapshot()

	switch ret.SourceType {
	case SourceDispatch:
		restored, err := s.restoreDispatch(ctx, ret)
		if err != nil {
			return CustomerReturn{}, err
		}
		ret.Restored = restored
		ret.StockRestored = true
	case SourceOutsourcing:
		if _, err := s.outsource.ReverseReceiptDebits(ctx, ret.SourceID); err != nil {
			return CustomerReturn{}, err
		}
	case SourceIroning:
		if _, err := s.ironings.ReverseReceiptDebits(ctx, ret.SourceID); err != nil {
			return CustomerReturn{}, err
		}
	}

	now := time.Now().UTC()
	ret.Status = StatusAccepted
	ret.UpdatedAt = now
	ret.ResolvedAt = &now
	if err := s.repo.Update(ctx, ret); err != nil {
		return CustomerReturn{}, err
	}
	s.recordAudit(ctx, actor, "returns:accept", id, map[string]any{"quantity": ret.Quantity})
	s.publish(shared.Event{
		Kind: shared.EventReturnAccepted, Family: "customer_return", EntityID: id,
		Actor: actor, Before: before, After: ret.snapshot(),
	})
	return ret, nil
}

// Reject closes a pending return with no ledger effect.
func (s *Service) Reject(ctx context.Context, id, actor string) (CustomerReturn, error) {
	s.lock.Acquire()
	defer s.lock.Release()

	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return CustomerReturn{}, err
	}
	if ret.Status != StatusPending {
		return CustomerReturn{}, shared.InvalidTransition("return %s is already %s", id, ret.Status)
	}
	before := ret.snapshot()
	now := time.Now().UTC()
	ret.Status = StatusRejected
	ret.UpdatedAt = now
	ret.ResolvedAt = &now
	if err := s.repo.Update(ctx, ret); err != nil {
		return CustomerReturn{}, err
	}
	s.recordAudit(ctx, actor, "returns:reject", id, nil)
	s.publish(shared.Event{
		Kind: shared.EventStageUpdated, Family: "customer_return", EntityID: id,
		Actor: actor, Before: before, After: ret.snapshot(),
	})
	return ret, nil
}

// Get fetches one return.
func (s *Service) Get(ctx context.Context, id string) (CustomerReturn, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of returns with pagination metadata.
func (s *Service) List(ctx context.Context, filter Filter) ([]CustomerReturn, shared.Pagination, error) {
	rets, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rets, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// restoreDispatch credits the returned pieces back onto the stock rows
// the dispatch drew from, walking the dispatch items in order. Earlier
// accepted returns shrink what this one may restore, so a dispatch can
// never take back more than it shipped across any number of returns.
func (s *Service) restoreDispatch(ctx context.Context, ret CustomerReturn) (shared.SizeDist, error) {
	d, err := s.dispatches.Get(ctx, ret.SourceID)
	if err != nil {
		return nil, err
	}
	dispatched := shared.SizeDist{}
	for _, item := range d.Items {
		dispatched = dispatched.Add(item.SizeDistribution)
	}
	prior, err := s.repo.RestoredBySource(ctx, ret.SourceType, ret.SourceID)
	if err != nil {
		return nil, err
	}
	headroom := dispatched.Sub(prior)
	restore := ret.SizeBreakdown
	if len(restore) == 0 {
		if ret.Quantity > headroom.Total() {
			return nil, shared.InvariantViolation("non-negativity",
				"return quantity %d exceeds the %d pieces of %s still out",
				ret.Quantity, headroom.Total(), d.DispatchNumber)
		}
		restore = s.strategy(headroom, ret.Quantity)
	}
	if headroom.Sub(restore).HasNegative() {
		return nil, shared.InvariantViolation("non-negativity",
			"return exceeds the pieces of %s still out", d.DispatchNumber)
	}

	remaining := restore.Clone()
	for _, item := range d.Items {
		share := shared.SizeDist{}
		for size, sentN := range item.SizeDistribution {
			n := remaining.Get(size)
			if n > sentN {
				n = sentN
			}
			if n > 0 {
				share[size] = n
				remaining[size] -= n
			}
		}
		if share.IsZero() {
			continue
		}
		if _, err := s.stocks.Credit(ctx, item.StockID, share); err != nil {
			return nil, err
		}
	}
	return restore, nil
}

// ProportionalSplit divides quantity over the dispatched sizes in
// proportion, handing leftover pieces to the largest remainders first
// (size name breaks ties, so the split is deterministic).
func ProportionalSplit(dispatched shared.SizeDist, quantity int) shared.SizeDist {
	total := dispatched.Total()
	if total == 0 || quantity <= 0 {
		return shared.SizeDist{}
	}
	if quantity >= total {
		return dispatched.Clone()
	}

	type slot struct {
		size      string
		remainder int
	}
	out := shared.SizeDist{}
	assigned := 0
	slots := make([]slot, 0, len(dispatched))
	for size, n := range dispatched {
		share := quantity * n / total
		out[size] = share
		assigned += share
		slots = append(slots, slot{size: size, remainder: quantity*n - share*total})
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].remainder != slots[j].remainder {
			return slots[i].remainder > slots[j].remainder
		}
		return slots[i].size < slots[j].size
	})
	for _, sl := range slots {
		if assigned == quantity {
			break
		}
		if out[sl.size] < dispatched.Get(sl.size) {
			out[sl.size]++
			assigned++
		}
	}
	return out.Compact()
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "customer_return", EntityID: id, Meta: meta})
}
