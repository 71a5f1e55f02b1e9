package cutting

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/fabric"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// RepositoryPort abstracts persistence for cutting orders.
type RepositoryPort interface {
	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	DeleteOrder(ctx context.Context, id string) error
	ListOrders(ctx context.Context, filter Filter) ([]Order, int, error)
	OutsourcingOrdersCiting(ctx context.Context, cuttingID string) ([]string, error)
	StockCiting(ctx context.Context, cuttingID string) ([]string, error)
}

// FabricPort is the upstream debit/credit interface, satisfied by the
// fabric service. Both methods run under the caller's ledger lock.
type FabricPort interface {
	DebitForCutting(ctx context.Context, lotID string, fabricKg, ribKg float64) (fabric.Lot, error)
	CreditForCutting(ctx context.Context, lotID string, fabricKg, ribKg float64) (fabric.Lot, error)
}

// IDPort allocates cutting lot numbers.
type IDPort interface {
	NextCuttingNumber(ctx context.Context) (string, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service owns cutting orders.
type Service struct {
	repo     RepositoryPort
	fabrics  FabricPort
	ids      IDPort
	audit    AuditPort
	events   EventPort
	lock     *shared.LedgerLock
	validate *validator.Validate
}

// NewService builds the cutting service.
func NewService(repo RepositoryPort, fabrics FabricPort, ids IDPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:     repo,
		fabrics:  fabrics,
		ids:      ids,
		audit:    audit,
		events:   events,
		lock:     lock,
		validate: validator.New(),
	}
}

// Create registers a cutting order and debits the cited fabric lot by
// the kilograms actually used. Old-lot orders skip the debit and are
// stamped with a warning flag.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, fmt.Errorf("cutting: invalid order input: %w", err)
	}
	if err := ledger.NonNegativeDist(input.SizeDistribution, "cutting size distribution"); err != nil {
		return Order{}, err
	}
	if input.FabricReturned > input.FabricTaken+ledger.KgTolerance {
		return Order{}, shared.InvariantViolation("fabric-used identity",
			"fabric returned %.2f exceeds taken %.2f", input.FabricReturned, input.FabricTaken)
	}
	if input.RibReturned > input.RibTaken+ledger.KgTolerance {
		return Order{}, shared.InvariantViolation("fabric-used identity",
			"rib returned %.2f exceeds taken %.2f", input.RibReturned, input.RibTaken)
	}

	s.lock.Acquire()
	defer s.lock.Release()

	number, err := s.ids.NextCuttingNumber(ctx)
	if err != nil {
		return Order{}, err
	}
	now := time.Now().UTC()
	totalQty := input.SizeDistribution.Total()
	totalAmount := input.CuttingRatePerPcs.Mul(decimal.NewFromInt(int64(totalQty)))
	order := Order{
		ID:                 uuid.NewString(),
		CuttingLotNumber:   number,
		CuttingMaster:      input.CuttingMaster,
		Date:               input.Date,
		FabricLotID:        input.FabricLotID,
		IsOldLot:           input.FabricLotID == nil,
		OldLotWarning:      input.FabricLotID == nil,
		Color:              input.Color,
		Category:           input.Category,
		StyleType:          input.StyleType,
		FabricTaken:        input.FabricTaken,
		FabricReturned:     input.FabricReturned,
		FabricUsed:         input.FabricTaken - input.FabricReturned,
		RibTaken:           input.RibTaken,
		RibReturned:        input.RibReturned,
		RibUsed:            input.RibTaken - input.RibReturned,
		SizeDistribution:   input.SizeDistribution.Clone(),
		TotalQuantity:      totalQty,
		Issued:             shared.SizeDist{},
		CuttingRatePerPcs:  input.CuttingRatePerPcs,
		TotalCuttingAmount: totalAmount,
		AmountPaid:         decimal.Zero,
		Balance:            totalAmount,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.check(order); err != nil {
		return Order{}, err
	}
	if order.FabricLotID != nil {
		if _, err := s.fabrics.DebitForCutting(ctx, *order.FabricLotID, order.FabricUsed, order.RibUsed); err != nil {
			return Order{}, err
		}
	}
	if err := s.repo.InsertOrder(ctx, order); err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.Actor, "cutting:create", order.ID, map[string]any{"cutting_lot_number": number})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "cutting_order", EntityID: order.ID,
		Actor: input.Actor, After: order.snapshot(),
	})
	return order, nil
}

// Delete removes a cutting order when nothing downstream cites it and
// re-credits the fabric lot it drew from.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	var offenders []string
	citing, err := s.repo.OutsourcingOrdersCiting(ctx, id)
	if err != nil {
		return err
	}
	for _, dc := range citing {
		offenders = append(offenders, "outsourcing_order "+dc)
	}
	stocks, err := s.repo.StockCiting(ctx, id)
	if err != nil {
		return err
	}
	for _, code := range stocks {
		offenders = append(offenders, "stock "+code)
	}
	if len(offenders) > 0 {
		return shared.ReferentialIntegrity("cutting_order", order.CuttingLotNumber, offenders)
	}
	if order.FabricLotID != nil {
		if _, err := s.fabrics.CreditForCutting(ctx, *order.FabricLotID, order.FabricUsed, order.RibUsed); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "cutting:delete", id, map[string]any{"cutting_lot_number": order.CuttingLotNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "cutting_order", EntityID: id,
		Actor: actor, Before: order.snapshot(),
	})
	return nil
}

// DebitForOperation reserves pieces from the order's available pool for
// an outsourcing send or a direct-to-stock consumption. Runs under the
// caller's ledger lock.
func (s *Service) DebitForOperation(ctx context.Context, id string, take shared.SizeDist) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := ledger.NonNegativeDist(take, "operation debit"); err != nil {
		return Order{}, err
	}
	if err := ledger.AvailabilityCovers(order.Available(), take, "cutting_order", order.CuttingLotNumber); err != nil {
		return Order{}, err
	}
	order.Issued = order.Issued.Add(take)
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// CreditForOperation reverses a reservation when the downstream stage
// is deleted. Runs under the caller's ledger lock.
func (s *Service) CreditForOperation(ctx context.Context, id string, take shared.SizeDist) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	order.Issued = order.Issued.Sub(take).Compact()
	if order.Issued.HasNegative() {
		return Order{}, shared.InvariantViolation("non-negativity",
			"cutting %s: operation credit exceeds issued pieces", order.CuttingLotNumber)
	}
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// CompleteOperation stamps a finished vendor operation on the order and
// releases the processed pieces back into the available pool. Runs
// under the caller's ledger lock.
func (s *Service) CompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !slices.Contains(order.CompletedOperations, operation) {
		order.CompletedOperations = append(order.CompletedOperations, operation)
	}
	order.Issued = order.Issued.Sub(processed).Compact()
	if order.Issued.HasNegative() {
		return Order{}, shared.InvariantViolation("non-negativity",
			"cutting %s: completed pieces exceed issued pieces", order.CuttingLotNumber)
	}
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// UncompleteOperation reverses CompleteOperation when a receipt is
// deleted. Runs under the caller's ledger lock.
func (s *Service) UncompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	order.CompletedOperations = slices.DeleteFunc(slices.Clone(order.CompletedOperations), func(op string) bool {
		return op == operation
	})
	order.Issued = order.Issued.Add(processed)
	if err := ledger.AvailabilityCovers(order.SizeDistribution, order.Issued, "cutting_order", order.CuttingLotNumber); err != nil {
		return Order{}, err
	}
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// RecordPayment applies a cutting-master payment against the order bill.
func (s *Service) RecordPayment(ctx context.Context, id string, amount decimal.Decimal, actor string) (Order, error) {
	if amount.Sign() <= 0 {
		return Order{}, shared.InvalidTransition("payment amount must be positive")
	}
	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	before := order.snapshot()
	order.AmountPaid = order.AmountPaid.Add(amount)
	order.Balance = order.TotalCuttingAmount.Sub(order.AmountPaid)
	order.UpdatedAt = time.Now().UTC()
	if err := s.check(order); err != nil {
		return Order{}, err
	}
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor, "cutting:payment", id, map[string]any{"amount": amount.String()})
	s.publish(shared.Event{
		Kind: shared.EventStageUpdated, Family: "cutting_order", EntityID: id,
		Actor: actor, Before: before, After: order.snapshot(),
	})
	return order, nil
}

// Get fetches one cutting order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// List returns a page of orders with pagination metadata.
func (s *Service) List(ctx context.Context, filter Filter) ([]Order, shared.Pagination, error) {
	orders, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// check re-evaluates the arithmetic invariants on a working copy.
func (s *Service) check(order Order) error {
	if err := ledger.UsedIdentity(order.FabricTaken, order.FabricReturned, order.FabricUsed, "cutting "+order.CuttingLotNumber); err != nil {
		return err
	}
	if err := ledger.UsedIdentity(order.RibTaken, order.RibReturned, order.RibUsed, "cutting rib "+order.CuttingLotNumber); err != nil {
		return err
	}
	if err := ledger.TotalMatches(order.SizeDistribution, order.TotalQuantity, "cutting "+order.CuttingLotNumber); err != nil {
		return err
	}
	if err := ledger.AmountIdentity(order.TotalCuttingAmount, order.TotalQuantity, order.CuttingRatePerPcs, "cutting "+order.CuttingLotNumber); err != nil {
		return err
	}
	return ledger.BalanceIdentity(order.TotalCuttingAmount, order.AmountPaid, order.Balance, "cutting "+order.CuttingLotNumber)
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "cutting_order", EntityID: id, Meta: meta})
}
