package fabric

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/idgen"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// RepositoryPort abstracts persistence for lots and fabric returns.
type RepositoryPort interface {
	InsertLot(ctx context.Context, lot Lot) error
	GetLot(ctx context.Context, id string) (Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error
	DeleteLot(ctx context.Context, id string) error
	ListLots(ctx context.Context, filter Filter) ([]Lot, int, error)
	InsertReturn(ctx context.Context, ret Return) error
	GetReturn(ctx context.Context, id string) (Return, error)
	DeleteReturn(ctx context.Context, id string) error
	ListReturnsByLot(ctx context.Context, lotID string) ([]Return, error)
	CuttingOrdersCiting(ctx context.Context, lotID string) ([]string, error)
	CuttingConsumption(ctx context.Context, lotID string) (fabricKg, ribKg float64, err error)
}

// IDPort allocates lot numbers.
type IDPort interface {
	NextLotNumber(ctx context.Context) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service owns fabric lots and fabric returns.
type Service struct {
	repo     RepositoryPort
	ids      IDPort
	audit    AuditPort
	events   EventPort
	lock     *shared.LedgerLock
	validate *validator.Validate
}

// NewService builds the fabric service.
func NewService(repo RepositoryPort, ids IDPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:     repo,
		ids:      ids,
		audit:    audit,
		events:   events,
		lock:     lock,
		validate: validator.New(),
	}
}

// CreateLot registers a lot with quantity zero. Weights and monetary
// totals appear only once scale readings are submitted.
func (s *Service) CreateLot(ctx context.Context, input CreateLotInput) (Lot, error) {
	if err := s.validate.Struct(input); err != nil {
		return Lot{}, fmt.Errorf("fabric: invalid lot input: %w", err)
	}
	s.lock.Acquire()
	defer s.lock.Release()

	lotNumber, err := s.ids.NextLotNumber(ctx)
	if err != nil {
		return Lot{}, err
	}
	now := time.Now().UTC()
	lot := Lot{
		ID:                   uuid.NewString(),
		LotNumber:            lotNumber,
		EntryDate:            input.EntryDate,
		FabricType:           input.FabricType,
		Supplier:             input.Supplier,
		Color:                input.Color,
		RatePerKg:            input.RatePerKg,
		NumberOfRolls:        input.NumberOfRolls,
		RollNumbers:          idgen.RollNumbers(lotNumber, input.Color, input.NumberOfRolls),
		RibQuantity:          input.RibQuantity,
		RemainingRibQuantity: input.RibQuantity,
		TotalAmount:          decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.InsertLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, input.Actor, "fabric:create_lot", "fabric_lot", lot.ID, map[string]any{"lot_number": lot.LotNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "fabric_lot", EntityID: lot.ID,
		Actor: input.Actor, After: lot.snapshot(),
	})
	return lot, nil
}

// SubmitScaleReadings resolves cumulative readings into roll weights
// and sets the lot's quantities and monetary total. Resubmission is
// allowed only while nothing has been consumed from the lot.
func (s *Service) SubmitScaleReadings(ctx context.Context, lotID string, readings []float64, actor string) (Lot, error) {
	s.lock.Acquire()
	defer s.lock.Release()

	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return Lot{}, err
	}
	if !ledger.KgEqual(lot.RemainingQuantity, lot.Quantity) {
		return Lot{}, shared.InvalidTransition("lot %s already has consumption; readings cannot be resubmitted", lot.LotNumber)
	}
	weights, total, err := ResolveRollWeights(readings, lot.NumberOfRolls)
	if err != nil {
		return Lot{}, err
	}
	before := lot.snapshot()
	lot.ScaleReadings = slices.Clone(readings)
	lot.RollWeights = weights
	lot.Quantity = total
	lot.RemainingQuantity = total
	lot.TotalAmount = lot.RatePerKg.Mul(decimal.NewFromFloat(total))
	lot.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	s.recordAudit(ctx, actor, "fabric:submit_readings", "fabric_lot", lot.ID, map[string]any{"quantity": total})
	s.publish(shared.Event{
		Kind: shared.EventStageUpdated, Family: "fabric_lot", EntityID: lot.ID,
		Actor: actor, Before: before, After: lot.snapshot(),
	})
	return lot, nil
}

// DebitForCutting reserves kilograms for a cutting order. Callers hold
// the ledger lock; this method must not re-acquire it.
func (s *Service) DebitForCutting(ctx context.Context, lotID string, fabricKg, ribKg float64) (Lot, error) {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return Lot{}, err
	}
	newRemaining := lot.RemainingQuantity - fabricKg
	newRib := lot.RemainingRibQuantity - ribKg
	if newRemaining < -ledger.KgTolerance {
		return Lot{}, shared.InsufficientStock("fabric_lot", lot.LotNumber, "need %.2f kg, have %.2f kg", fabricKg, lot.RemainingQuantity)
	}
	if newRib < -ledger.KgTolerance {
		return Lot{}, shared.InsufficientStock("fabric_lot", lot.LotNumber, "need %.2f kg rib, have %.2f kg", ribKg, lot.RemainingRibQuantity)
	}
	lot.RemainingQuantity = newRemaining
	lot.RemainingRibQuantity = newRib
	lot.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// CreditForCutting reverses a cutting debit when the order is deleted.
// Callers hold the ledger lock.
func (s *Service) CreditForCutting(ctx context.Context, lotID string, fabricKg, ribKg float64) (Lot, error) {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return Lot{}, err
	}
	lot.RemainingQuantity += fabricKg
	lot.RemainingRibQuantity += ribKg
	lot.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// CreateReturn sends named rolls back to the supplier. The lot's intake
// quantity is untouched; remaining quantity is debited and the rolls
// leave the lot's roll list.
func (s *Service) CreateReturn(ctx context.Context, input CreateReturnInput) (Return, error) {
	if err := s.validate.Struct(input); err != nil {
		return Return{}, fmt.Errorf("fabric: invalid return input: %w", err)
	}
	s.lock.Acquire()
	defer s.lock.Release()

	lot, err := s.repo.GetLot(ctx, input.LotID)
	if err != nil {
		return Return{}, err
	}
	for _, roll := range input.ReturnedRolls {
		if !slices.Contains(lot.RollNumbers, roll) {
			return Return{}, shared.NotFound("roll", roll)
		}
	}
	if lot.RemainingQuantity-input.QuantityReturned < -ledger.KgTolerance {
		return Return{}, shared.InsufficientStock("fabric_lot", lot.LotNumber,
			"return of %.2f kg exceeds remaining %.2f kg", input.QuantityReturned, lot.RemainingQuantity)
	}
	before := lot.snapshot()
	lot.RollNumbers = slices.DeleteFunc(slices.Clone(lot.RollNumbers), func(r string) bool {
		return slices.Contains(input.ReturnedRolls, r)
	})
	lot.RemainingQuantity -= input.QuantityReturned
	lot.UpdatedAt = time.Now().UTC()

	ret := Return{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		ReturnedRolls:    slices.Clone(input.ReturnedRolls),
		QuantityReturned: input.QuantityReturned,
		Reason:           input.Reason,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.verifyConservation(ctx, lot, input.QuantityReturned); err != nil {
		return Return{}, err
	}
	if err := s.repo.UpdateLot(ctx, lot); err != nil {
		return Return{}, err
	}
	if err := s.repo.InsertReturn(ctx, ret); err != nil {
		return Return{}, err
	}
	s.recordAudit(ctx, input.Actor, "fabric:create_return", "fabric_return", ret.ID, map[string]any{
		"lot_number": lot.LotNumber, "quantity_returned": ret.QuantityReturned,
	})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "fabric_return", EntityID: ret.ID,
		Actor: input.Actor, Before: before, After: lot.snapshot(),
	})
	return ret, nil
}

// DeleteReturn reverses a fabric return: the rolls rejoin the lot and
// the remaining quantity is credited back.
func (s *Service) DeleteReturn(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	ret, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return err
	}
	lot, err := s.repo.GetLot(ctx, ret.LotID)
	if err != nil {
		return err
	}
	before := lot.snapshot()
	lot.RollNumbers = append(slices.Clone(lot.RollNumbers), ret.ReturnedRolls...)
	slices.Sort(lot.RollNumbers)
	lot.RemainingQuantity += ret.QuantityReturned
	lot.UpdatedAt = time.Now().UTC()
	if err := s.verifyConservation(ctx, lot, -ret.QuantityReturned); err != nil {
		return err
	}
	if err := s.repo.UpdateLot(ctx, lot); err != nil {
		return err
	}
	if err := s.repo.DeleteReturn(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "fabric:delete_return", "fabric_return", id, nil)
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "fabric_return", EntityID: id,
		Actor: actor, Before: before, After: lot.snapshot(),
	})
	return nil
}

// DeleteLot removes a lot only when no cutting order or fabric return
// still cites it.
func (s *Service) DeleteLot(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	lot, err := s.repo.GetLot(ctx, id)
	if err != nil {
		return err
	}
	var offenders []string
	cuttings, err := s.repo.CuttingOrdersCiting(ctx, id)
	if err != nil {
		return err
	}
	for _, c := range cuttings {
		offenders = append(offenders, "cutting_order "+c)
	}
	returns, err := s.repo.ListReturnsByLot(ctx, id)
	if err != nil {
		return err
	}
	for _, ret := range returns {
		offenders = append(offenders, "fabric_return "+ret.ID)
	}
	if len(offenders) > 0 {
		return shared.ReferentialIntegrity("fabric_lot", lot.LotNumber, offenders)
	}
	if err := s.repo.DeleteLot(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "fabric:delete_lot", "fabric_lot", id, map[string]any{"lot_number": lot.LotNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "fabric_lot", EntityID: id,
		Actor: actor, Before: lot.snapshot(),
	})
	return nil
}

// GetLot fetches one lot.
func (s *Service) GetLot(ctx context.Context, id string) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

// ListLots returns a page of lots with pagination metadata.
func (s *Service) ListLots(ctx context.Context, filter Filter) ([]Lot, shared.Pagination, error) {
	lots, total, err := s.repo.ListLots(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return lots, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// verifyConservation re-evaluates the lot conservation identity on the
// working copy before it is committed: intake equals the kilograms the
// cutting orders used plus the kilograms returned to the supplier plus
// what remains. pendingReturn adjusts for a return row this mutation
// inserts (positive) or deletes (negative), since the row set in the
// store does not reflect it yet.
func (s *Service) verifyConservation(ctx context.Context, lot Lot, pendingReturn float64) error {
	usedKg, usedRib, err := s.repo.CuttingConsumption(ctx, lot.ID)
	if err != nil {
		return err
	}
	rets, err := s.repo.ListReturnsByLot(ctx, lot.ID)
	if err != nil {
		return err
	}
	returned := pendingReturn
	for _, ret := range rets {
		returned += ret.QuantityReturned
	}
	if err := ledger.NonNegativeKg(lot.RemainingQuantity, "lot "+lot.LotNumber+" remaining"); err != nil {
		return err
	}
	if err := ledger.NonNegativeKg(lot.RemainingRibQuantity, "lot "+lot.LotNumber+" remaining rib"); err != nil {
		return err
	}
	if err := ledger.FabricConservation(lot.Quantity, usedKg, returned, lot.RemainingQuantity, "lot "+lot.LotNumber); err != nil {
		return err
	}
	return ledger.FabricConservation(lot.RibQuantity, usedRib, 0, lot.RemainingRibQuantity, "lot "+lot.LotNumber+" rib")
}

func (s *Service) publish(evt shared.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: entity, EntityID: id, Meta: meta})
}
