package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

const aggregatesKey = "tricot:stock:aggregates"

// RepositoryPort is the persistence contract for stock rows.
type RepositoryPort interface {
	Insert(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	Update(ctx context.Context, item Item) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]Item, int, error)
	BySource(ctx context.Context, source Source, sourceID string) (Item, error)
	DispatchesCiting(ctx context.Context, stockID string) ([]string, error)
}

// CuttingPort is the slice of the cutting service the direct-to-stock
// flow needs.
type CuttingPort interface {
	Get(ctx context.Context, id string) (cutting.Order, error)
	DebitForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error)
	CreditForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error)
}

// IDPort allocates stock codes.
type IDPort interface {
	NextStockCode(ctx context.Context) (string, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service owns the finished-goods inventory.
type Service struct {
	repo     RepositoryPort
	cuttings CuttingPort
	ids      IDPort
	audit    AuditPort
	events   EventPort
	cache    *redis.Client
	cacheTTL time.Duration
	lock     *shared.LedgerLock
	validate *validator.Validate
}

// NewService builds the stock service. The cache client may be nil.
func NewService(repo RepositoryPort, cuttings CuttingPort, ids IDPort, audit AuditPort, events EventPort, cache *redis.Client, cacheTTL time.Duration, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:     repo,
		cuttings: cuttings,
		ids:      ids,
		audit:    audit,
		events:   events,
		cache:    cache,
		cacheTTL: cacheTTL,
		lock:     lock,
		validate: validator.New(),
	}
}

// Create registers a stock row from a historical import.
func (s *Service) Create(ctx context.Context, input CreateInput) (Item, error) {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.create(ctx, input)
}

// CreateFromIroning registers the stock row an ironing receipt
// produces. Runs under the caller's ledger lock.
func (s *Service) CreateFromIroning(ctx context.Context, input CreateInput) (Item, error) {
	return s.create(ctx, input)
}

func (s *Service) create(ctx context.Context, input CreateInput) (Item, error) {
	if err := s.validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("stock: invalid input: %w", err)
	}
	if err := ledger.NonNegativeDist(input.SizeDistribution, "stock size distribution"); err != nil {
		return Item{}, err
	}
	if err := ledger.NonNegativeDist(input.MasterPackRatio, "master pack ratio"); err != nil {
		return Item{}, err
	}
	code, err := s.ids.NextStockCode(ctx)
	if err != nil {
		return Item{}, err
	}
	now := time.Now().UTC()
	item := Item{
		ID:               uuid.NewString(),
		StockCode:        code,
		LotNumber:        input.LotNumber,
		Source:           input.Source,
		SourceID:         input.SourceID,
		Category:         input.Category,
		StyleType:        input.StyleType,
		Color:            input.Color,
		SizeDistribution: input.SizeDistribution.Clone(),
		Available:        input.SizeDistribution.Clone(),
		TotalQuantity:    input.SizeDistribution.Total(),
		MasterPackRatio:  input.MasterPackRatio.Clone(),
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	item.repack()
	if err := s.repo.Insert(ctx, item); err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, input.Actor, "stock:create", item.ID, map[string]any{"stock_code": code})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "stock", EntityID: item.ID,
		Actor: input.Actor, After: item.snapshot(),
	})
	return item, nil
}

// CreateFromCutting consumes pieces from a cutting order's available
// pool into a stock row, inheriting the order's lot and color.
func (s *Service) CreateFromCutting(ctx context.Context, input CreateFromCuttingInput) (Item, error) {
	if err := s.validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("stock: invalid input: %w", err)
	}

	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.cuttings.Get(ctx, input.CuttingOrderID)
	if err != nil {
		return Item{}, err
	}
	if _, err := s.cuttings.DebitForOperation(ctx, input.CuttingOrderID, input.Take); err != nil {
		return Item{}, err
	}
	item, err := s.create(ctx, CreateInput{
		LotNumber:        order.CuttingLotNumber,
		Source:           SourceCutting,
		SourceID:         order.ID,
		Category:         order.Category,
		StyleType:        order.StyleType,
		Color:            order.Color,
		SizeDistribution: input.Take,
		MasterPackRatio:  input.MasterPackRatio,
		Actor:            input.Actor,
	})
	if err != nil {
		_, _ = s.cuttings.CreditForOperation(ctx, input.CuttingOrderID, input.Take)
		return Item{}, err
	}
	return item, nil
}

// Debit reserves dispatched pieces. Runs under the caller's ledger
// lock; inactive rows cannot be dispatched from.
func (s *Service) Debit(ctx context.Context, id string, take shared.SizeDist) (Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !item.Active {
		return Item{}, shared.InvalidTransition("stock %s is inactive", item.StockCode)
	}
	if err := ledger.AvailabilityCovers(item.Available, take, "stock", item.StockCode); err != nil {
		return Item{}, err
	}
	item.Available = item.Available.Sub(take).Compact()
	item.repack()
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, item); err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return item, nil
}

// Credit restores pieces when a dispatch is deleted or a customer
// return is accepted. Runs under the caller's ledger lock.
func (s *Service) Credit(ctx context.Context, id string, give shared.SizeDist) (Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	item.Available = item.Available.Add(give)
	if err := ledger.AvailabilityCovers(item.SizeDistribution, item.Available, "stock", item.StockCode); err != nil {
		return Item{}, shared.InvariantViolation("availability identity",
			"stock %s: restore exceeds produced quantity", item.StockCode)
	}
	item.repack()
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, item); err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return item, nil
}

// Deactivate soft-deletes a stock row. It disappears from dispatch and
// aggregates but stays referentially available to reports.
func (s *Service) Deactivate(ctx context.Context, id, actor string) (Item, error) {
	s.lock.Acquire()
	defer s.lock.Release()

	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !item.Active {
		return Item{}, shared.InvalidTransition("stock %s is already inactive", item.StockCode)
	}
	before := item.snapshot()
	item.Active = false
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, item); err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "stock:deactivate", id, map[string]any{"stock_code": item.StockCode})
	s.publish(shared.Event{
		Kind: shared.EventStageUpdated, Family: "stock", EntityID: id,
		Actor: actor, Before: before, After: item.snapshot(),
	})
	return item, nil
}

// DeleteBySource hard-deletes the stock row a receipt created, used
// when that receipt is unwound. Refused once anything was dispatched
// from it. Runs under the caller's ledger lock.
func (s *Service) DeleteBySource(ctx context.Context, source Source, sourceID, actor string) error {
	item, err := s.repo.BySource(ctx, source, sourceID)
	if err != nil {
		return err
	}
	citing, err := s.repo.DispatchesCiting(ctx, item.ID)
	if err != nil {
		return err
	}
	if len(citing) > 0 {
		offenders := make([]string, 0, len(citing))
		for _, n := range citing {
			offenders = append(offenders, "bulk_dispatch "+n)
		}
		return shared.ReferentialIntegrity("stock", item.StockCode, offenders)
	}
	if item.AvailableQuantity != item.TotalQuantity {
		return shared.InvalidTransition("stock %s has dispatched pieces outstanding", item.StockCode)
	}
	if err := s.repo.Delete(ctx, item.ID); err != nil {
		return err
	}
	s.invalidate(ctx)
	s.recordAudit(ctx, actor, "stock:delete", item.ID, map[string]any{"stock_code": item.StockCode})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "stock", EntityID: item.ID,
		Actor: actor, Before: item.snapshot(),
	})
	return nil
}

// Get fetches one stock row.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of stock rows with pagination metadata.
func (s *Service) List(ctx context.Context, filter Filter) ([]Item, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Aggregates groups active stock by lot, style and color. The result
// is cached; every stock mutation invalidates it.
func (s *Service) Aggregates(ctx context.Context) ([]Aggregate, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, aggregatesKey).Bytes()
		if err == nil {
			var cached []Aggregate
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	items, _, err := s.repo.List(ctx, Filter{ActiveOnly: true, PerPage: -1})
	if err != nil {
		return nil, err
	}
	grouped := map[string]*Aggregate{}
	for _, item := range items {
		key := item.LotNumber + "|" + item.StyleType + "|" + item.Color
		agg, ok := grouped[key]
		if !ok {
			agg = &Aggregate{
				LotNumber: item.LotNumber,
				StyleType: item.StyleType,
				Color:     item.Color,
				Available: shared.SizeDist{},
			}
			grouped[key] = agg
		}
		agg.TotalQuantity += item.TotalQuantity
		agg.AvailableQuantity += item.AvailableQuantity
		agg.Available = agg.Available.Add(item.Available)
		agg.Items++
	}
	out := make([]Aggregate, 0, len(grouped))
	for _, agg := range grouped {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LotNumber != out[j].LotNumber {
			return out[i].LotNumber < out[j].LotNumber
		}
		if out[i].StyleType != out[j].StyleType {
			return out[i].StyleType < out[j].StyleType
		}
		return out[i].Color < out[j].Color
	})
	if s.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			s.cache.Set(ctx, aggregatesKey, raw, s.cacheTTL)
		}
	}
	return out, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Del(ctx, aggregatesKey)
	}
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "stock", EntityID: id, Meta: meta})
}
