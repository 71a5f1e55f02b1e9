package ironing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/packing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
)

// RepositoryPort is the persistence contract for ironing challans and
// receipts.
type RepositoryPort interface {
	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	DeleteOrder(ctx context.Context, id string) error
	ListOrders(ctx context.Context, filter Filter) ([]Order, int, error)
	OrderForReceipt(ctx context.Context, stitchingReceiptID string) (Order, error)

	InsertReceipt(ctx context.Context, receipt Receipt) error
	GetReceipt(ctx context.Context, id string) (Receipt, error)
	UpdateReceipt(ctx context.Context, receipt Receipt) error
	DeleteReceipt(ctx context.Context, id string) error
	ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error)
}

// OutsourcingPort is the slice of the outsourcing service the ironing
// flow needs. All methods run under this service's ledger lock.
type OutsourcingPort interface {
	GetUnit(ctx context.Context, name string) (outsourcing.Unit, error)
	GetOrder(ctx context.Context, id string) (outsourcing.Order, error)
	GetReceipt(ctx context.Context, id string) (outsourcing.Receipt, error)
	MarkReceiptIroned(ctx context.Context, id string) (outsourcing.Receipt, error)
	UnmarkReceiptIroned(ctx context.Context, id string) (outsourcing.Receipt, error)
}

// CuttingPort resolves the cutting order the ironed pieces descend
// from, for inherited lot and color.
type CuttingPort interface {
	Get(ctx context.Context, id string) (cutting.Order, error)
}

// StockPort creates and unwinds the stock rows ironing receipts
// produce. Both methods run under this service's ledger lock.
type StockPort interface {
	CreateFromIroning(ctx context.Context, input stock.CreateInput) (stock.Item, error)
	DeleteBySource(ctx context.Context, source stock.Source, sourceID, actor string) error
}

// IDPort allocates DC numbers.
type IDPort interface {
	NextDCNumber(ctx context.Context) (string, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service owns the ironing stage.
type Service struct {
	repo      RepositoryPort
	outsource OutsourcingPort
	cuttings  CuttingPort
	stocks    StockPort
	ids       IDPort
	audit     AuditPort
	events    EventPort
	lock      *shared.LedgerLock
	validate  *validator.Validate
}

// NewService builds the ironing service.
func NewService(repo RepositoryPort, outsource OutsourcingPort, cuttings CuttingPort, stocks StockPort, ids IDPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:      repo,
		outsource: outsource,
		cuttings:  cuttings,
		stocks:    stocks,
		ids:       ids,
		audit:     audit,
		events:    events,
		lock:      lock,
		validate:  validator.New(),
	}
}

// CreateOrder sends a queued stitching receipt's good pieces out for
// ironing. The challan distribution is exactly what the stitching
// receipt received.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, fmt.Errorf("ironing: invalid order input: %w", err)
	}
	if input.RatePerPcs.Sign() < 0 {
		return Order{}, shared.InvariantViolation("amount identity", "rate per pcs must not be negative")
	}
	if err := ledger.NonNegativeDist(input.MasterPackRatio, "master pack ratio"); err != nil {
		return Order{}, err
	}

	s.lock.Acquire()
	defer s.lock.Release()

	receipt, err := s.outsource.GetReceipt(ctx, input.StitchingReceiptID)
	if err != nil {
		return Order{}, err
	}
	if receipt.Status != outsourcing.ReceiptQueuedForIroning {
		return Order{}, shared.InvalidTransition("stitching receipt %s is %s, not queued for ironing",
			receipt.ID, receipt.Status)
	}
	if existing, err := s.repo.OrderForReceipt(ctx, receipt.ID); err == nil {
		return Order{}, shared.InvalidTransition("stitching receipt %s already feeds ironing challan %s",
			receipt.ID, existing.DCNumber)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Order{}, err
	}

	unit, err := s.outsource.GetUnit(ctx, input.UnitName)
	if err != nil {
		return Order{}, err
	}
	if !unit.Active {
		return Order{}, shared.InvalidTransition("unit %s is deactivated", unit.Name)
	}

	stitchOrder, err := s.outsource.GetOrder(ctx, receipt.OrderID)
	if err != nil {
		return Order{}, err
	}
	if len(stitchOrder.CuttingOrderIDs) == 0 {
		return Order{}, shared.InvariantViolation("referential presence",
			"challan %s cites no cutting orders", stitchOrder.DCNumber)
	}
	cut, err := s.cuttings.Get(ctx, stitchOrder.CuttingOrderIDs[0])
	if err != nil {
		return Order{}, err
	}

	number, err := s.ids.NextDCNumber(ctx)
	if err != nil {
		return Order{}, err
	}
	dist := receipt.Received.Clone().Compact()
	totalQty := dist.Total()
	totalAmount := input.RatePerPcs.Mul(decimal.NewFromInt(int64(totalQty)))
	now := time.Now().UTC()
	order := Order{
		ID:                 uuid.NewString(),
		DCNumber:           number,
		DCDate:             input.DCDate,
		StitchingReceiptID: receipt.ID,
		UnitName:           unit.Name,
		CuttingLotNumber:   cut.CuttingLotNumber,
		Color:              cut.Color,
		Category:           cut.Category,
		StyleType:          cut.StyleType,
		StockLotName:       input.StockLotName,
		StockColor:         input.StockColor,
		SizeDistribution:   dist,
		TotalQuantity:      totalQty,
		MasterPackRatio:    input.MasterPackRatio.Clone(),
		RatePerPcs:         input.RatePerPcs,
		TotalAmount:        totalAmount,
		AmountPaid:         decimal.Zero,
		Balance:            totalAmount,
		PaymentStatus:      PaymentUnpaid,
		Status:             OrderPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.checkOrder(order); err != nil {
		return Order{}, err
	}
	if err := s.repo.InsertOrder(ctx, order); err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, input.Actor, "ironing:order-create", order.ID,
		map[string]any{"dc_number": number, "unit": unit.Name})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "ironing_order", EntityID: order.ID,
		Actor: input.Actor, After: order.snapshot(),
	})
	return order, nil
}

// DeleteOrder removes an ironing challan that has no receipt and no
// payments. The stitching receipt stays queued.
func (s *Service) DeleteOrder(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if receipt, err := s.repo.ReceiptForOrder(ctx, order.ID); err == nil {
		return shared.ReferentialIntegrity("ironing_order", order.DCNumber,
			[]string{"ironing_receipt " + receipt.ID})
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if order.AmountPaid.Sign() > 0 {
		return shared.InvalidTransition("challan %s has payments recorded against it", order.DCNumber)
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ironing:order-delete", id, map[string]any{"dc_number": order.DCNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "ironing_order", EntityID: id,
		Actor: actor, Before: order.snapshot(),
	})
	return nil
}

// CreateReceipt records what the ironing unit returned, packs the good
// pieces with the challan's master-pack ratio and turns them into a
// stock row. The upstream stitching receipt advances to Ironed.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (Receipt, error) {
	if err := s.validate.Struct(input); err != nil {
		return Receipt{}, fmt.Errorf("ironing: invalid receipt input: %w", err)
	}
	if err := ledger.NonNegativeDist(input.Received, "receipt received"); err != nil {
		return Receipt{}, err
	}
	if err := ledger.NonNegativeDist(input.Mistake, "receipt mistake"); err != nil {
		return Receipt{}, err
	}

	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return Receipt{}, err
	}
	if order.Status != OrderPending {
		return Receipt{}, shared.InvalidTransition("challan %s already has a receipt", order.DCNumber)
	}

	sent := order.SizeDistribution
	shortage := sent.Sub(input.Received).Sub(input.Mistake).Compact()
	if shortage.HasNegative() {
		return Receipt{}, shared.InvariantViolation("receipt identity",
			"challan %s: received plus mistake exceeds sent pieces", order.DCNumber)
	}
	if err := ledger.ReceiptIdentity(sent, input.Received, shortage, input.Mistake, "challan "+order.DCNumber); err != nil {
		return Receipt{}, err
	}

	packed := packing.Pack(input.Received, order.MasterPackRatio)
	now := time.Now().UTC()
	receipt := Receipt{
		ID:                  uuid.NewString(),
		OrderID:             order.ID,
		Sent:                sent.Clone(),
		Received:            input.Received.Clone(),
		Shortage:            shortage,
		Mistake:             input.Mistake.Clone(),
		TotalSent:           sent.Total(),
		TotalReceived:       input.Received.Total(),
		TotalShortage:       shortage.Total(),
		TotalMistake:        input.Mistake.Total(),
		ShortageDebitAmount: order.RatePerPcs.Mul(decimal.NewFromInt(int64(shortage.Total()))),
		MistakeDebitAmount:  order.RatePerPcs.Mul(decimal.NewFromInt(int64(input.Mistake.Total()))),
		CompletePacks:       packed.CompletePacks,
		LoosePieces:         packed.TotalLoose,
		LoosePerSize:        packed.LoosePerSize,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	item, err := s.stocks.CreateFromIroning(ctx, stock.CreateInput{
		LotNumber:        order.StockLot(),
		Source:           stock.SourceIroning,
		SourceID:         receipt.ID,
		Category:         order.Category,
		StyleType:        order.StyleType,
		Color:            order.FinishedColor(),
		SizeDistribution: input.Received,
		MasterPackRatio:  order.MasterPackRatio,
		Actor:            input.Actor,
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt.StockID = item.ID

	if _, err := s.outsource.MarkReceiptIroned(ctx, order.StitchingReceiptID); err != nil {
		_ = s.stocks.DeleteBySource(ctx, stock.SourceIroning, receipt.ID, input.Actor)
		return Receipt{}, err
	}
	if err := s.repo.InsertReceipt(ctx, receipt); err != nil {
		_, _ = s.outsource.UnmarkReceiptIroned(ctx, order.StitchingReceiptID)
		_ = s.stocks.DeleteBySource(ctx, stock.SourceIroning, receipt.ID, input.Actor)
		return Receipt{}, err
	}
	order.Status = OrderReceived
	order.UpdatedAt = now
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.Actor, "ironing:receipt-create", receipt.ID,
		map[string]any{"dc_number": order.DCNumber, "stock_id": item.ID})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "ironing_receipt", EntityID: receipt.ID,
		Actor: input.Actor, After: receipt.snapshot(),
	})
	return receipt, nil
}

// DeleteReceipt unwinds an ironing receipt: the auto-created stock row
// is removed (refused once dispatched from) and the stitching receipt
// drops back to queued.
func (s *Service) DeleteReceipt(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	order, err := s.repo.GetOrder(ctx, receipt.OrderID)
	if err != nil {
		return err
	}
	if err := s.stocks.DeleteBySource(ctx, stock.SourceIroning, receipt.ID, actor); err != nil {
		return err
	}
	if _, err := s.outsource.UnmarkReceiptIroned(ctx, order.StitchingReceiptID); err != nil {
		return err
	}
	if err := s.repo.DeleteReceipt(ctx, id); err != nil {
		return err
	}
	order.Status = OrderPending
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ironing:receipt-delete", id, map[string]any{"dc_number": order.DCNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "ironing_receipt", EntityID: id,
		Actor: actor, Before: receipt.snapshot(),
	})
	return nil
}

// ReverseReceiptDebits cancels the shortage and mistake debits on a
// receipt when a customer return against it is accepted. Runs under
// the caller's ledger lock.
func (s *Service) ReverseReceiptDebits(ctx context.Context, id string) (Receipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.ShortageDebitAmount.IsZero() && receipt.MistakeDebitAmount.IsZero() {
		return Receipt{}, shared.InvalidTransition("receipt %s has no debits to reverse", id)
	}
	receipt.ShortageDebitAmount = decimal.Zero
	receipt.MistakeDebitAmount = decimal.Zero
	receipt.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// ApplyPayment settles part of the challan bill. Runs under the
// caller's ledger lock; the vendor ledger drives it.
func (s *Service) ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	order.AmountPaid = order.AmountPaid.Add(amount)
	order.Balance = order.TotalAmount.Sub(order.AmountPaid)
	order.PaymentStatus = paymentStatusFor(order.TotalAmount, order.AmountPaid)
	order.UpdatedAt = time.Now().UTC()
	if err := ledger.BalanceIdentity(order.TotalAmount, order.AmountPaid, order.Balance, "challan "+order.DCNumber); err != nil {
		return Order{}, err
	}
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder fetches one ironing challan.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetReceipt fetches one ironing receipt.
func (s *Service) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ListOrders returns a page of challans with pagination metadata.
func (s *Service) ListOrders(ctx context.Context, filter Filter) ([]Order, shared.Pagination, error) {
	orders, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) checkOrder(order Order) error {
	if err := ledger.TotalMatches(order.SizeDistribution, order.TotalQuantity, "challan "+order.DCNumber); err != nil {
		return err
	}
	if err := ledger.AmountIdentity(order.TotalAmount, order.TotalQuantity, order.RatePerPcs, "challan "+order.DCNumber); err != nil {
		return err
	}
	return ledger.BalanceIdentity(order.TotalAmount, order.AmountPaid, order.Balance, "challan "+order.DCNumber)
}

func paymentStatusFor(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.Sign() <= 0:
		return PaymentUnpaid
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	default:
		return PaymentPartial
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "ironing", EntityID: id, Meta: meta})
}
