package outsourcing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/ledger"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// RepositoryPort is the persistence contract for units, challans and
// receipts.
type RepositoryPort interface {
	InsertUnit(ctx context.Context, unit Unit) error
	GetUnit(ctx context.Context, name string) (Unit, error)
	UpdateUnit(ctx context.Context, unit Unit) error
	ListUnits(ctx context.Context) ([]Unit, error)

	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, order Order) error
	DeleteOrder(ctx context.Context, id string) error
	ListOrders(ctx context.Context, filter Filter) ([]Order, int, error)

	InsertReceipt(ctx context.Context, receipt Receipt) error
	GetReceipt(ctx context.Context, id string) (Receipt, error)
	UpdateReceipt(ctx context.Context, receipt Receipt) error
	DeleteReceipt(ctx context.Context, id string) error
	ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error)
	IroningOrdersCiting(ctx context.Context, receiptID string) ([]string, error)
}

// CuttingPort is the slice of the cutting service the challan flow
// needs. All methods run under this service's ledger lock.
type CuttingPort interface {
	Get(ctx context.Context, id string) (cutting.Order, error)
	DebitForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error)
	CreditForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error)
	CompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (cutting.Order, error)
	UncompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (cutting.Order, error)
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

// Filter narrows challan listings.
type Filter struct {
	UnitName      string
	OperationType string
	Page          int
	PerPage       int
}

// Service owns the outsourcing stage: vendor units, delivery challans
// and vendor receipts.
type Service struct {
	repo     RepositoryPort
	cuttings CuttingPort
	ids      IDPort
	audit    AuditPort
	events   EventPort
	lock     *shared.LedgerLock
	validate *validator.Validate
}

// NewService builds the outsourcing service.
func NewService(repo RepositoryPort, cuttings CuttingPort, ids IDPort, audit AuditPort, events EventPort, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:     repo,
		cuttings: cuttings,
		ids:      ids,
		audit:    audit,
		events:   events,
		lock:     lock,
		validate: validator.New(),
	}
}

// CreateUnit registers a vendor workshop. Unit names are the stable
// identifier the rest of the ledger cites, so they must be unique.
func (s *Service) CreateUnit(ctx context.Context, input CreateUnitInput) (Unit, error) {
	if err := s.validate.Struct(input); err != nil {
		return Unit{}, fmt.Errorf("outsourcing: invalid unit input: %w", err)
	}
	if _, err := s.repo.GetUnit(ctx, input.Name); err == nil {
		return Unit{}, shared.ConflictingIdentifier("unit", input.Name)
	}
	now := time.Now().UTC()
	unit := Unit{
		ID:         uuid.NewString(),
		Name:       input.Name,
		Operations: input.Operations,
		Contact:    input.Contact,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertUnit(ctx, unit); err != nil {
		return Unit{}, err
	}
	s.recordAudit(ctx, input.Actor, "outsourcing:unit-create", unit.ID, map[string]any{"name": unit.Name})
	return unit, nil
}

// UpdateUnit changes the operations list and contact of a unit.
func (s *Service) UpdateUnit(ctx context.Context, input UpdateUnitInput) (Unit, error) {
	if err := s.validate.Struct(input); err != nil {
		return Unit{}, fmt.Errorf("outsourcing: invalid unit input: %w", err)
	}
	unit, err := s.repo.GetUnit(ctx, input.Name)
	if err != nil {
		return Unit{}, err
	}
	unit.Operations = input.Operations
	unit.Contact = input.Contact
	unit.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateUnit(ctx, unit); err != nil {
		return Unit{}, err
	}
	s.recordAudit(ctx, input.Actor, "outsourcing:unit-update", unit.ID, map[string]any{"name": unit.Name})
	return unit, nil
}

// DeactivateUnit retires a unit from new challans. Its history stays.
func (s *Service) DeactivateUnit(ctx context.Context, name, actor string) (Unit, error) {
	unit, err := s.repo.GetUnit(ctx, name)
	if err != nil {
		return Unit{}, err
	}
	unit.Active = false
	unit.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateUnit(ctx, unit); err != nil {
		return Unit{}, err
	}
	s.recordAudit(ctx, actor, "outsourcing:unit-deactivate", unit.ID, map[string]any{"name": unit.Name})
	return unit, nil
}

// GetUnit fetches a unit by name.
func (s *Service) GetUnit(ctx context.Context, name string) (Unit, error) {
	return s.repo.GetUnit(ctx, name)
}

// ListUnits returns every registered unit.
func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

// CreateOrder sends the available pool of each cited cutting order out
// to a unit on one delivery challan. The challan's distribution is the
// per-size sum of the pools it drained.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	if err := s.validate.Struct(input); err != nil {
		return Order{}, fmt.Errorf("outsourcing: invalid order input: %w", err)
	}
	if input.RatePerPcs.Sign() < 0 {
		return Order{}, shared.InvariantViolation("amount identity", "rate per pcs must not be negative")
	}

	s.lock.Acquire()
	defer s.lock.Release()

	unit, err := s.repo.GetUnit(ctx, input.UnitName)
	if err != nil {
		return Order{}, err
	}
	if !unit.Active {
		return Order{}, shared.InvalidTransition("unit %s is deactivated", unit.Name)
	}
	if len(unit.Operations) > 0 && !slices.Contains(unit.Operations, input.OperationType) {
		return Order{}, shared.InvalidTransition("unit %s does not perform %s", unit.Name, input.OperationType)
	}

	number, err := s.ids.NextDCNumber(ctx)
	if err != nil {
		return Order{}, err
	}

	sent := map[string]shared.SizeDist{}
	var debited []string
	rollback := func() {
		for _, cid := range debited {
			_, _ = s.cuttings.CreditForOperation(ctx, cid, sent[cid])
		}
	}
	for _, cid := range input.CuttingOrderIDs {
		cut, err := s.cuttings.Get(ctx, cid)
		if err != nil {
			rollback()
			return Order{}, err
		}
		take := cut.Available().Compact()
		if take.IsZero() {
			rollback()
			return Order{}, shared.InsufficientStock("cutting_order", cut.CuttingLotNumber,
				"no pieces available to send")
		}
		if _, err := s.cuttings.DebitForOperation(ctx, cid, take); err != nil {
			rollback()
			return Order{}, err
		}
		sent[cid] = take
		debited = append(debited, cid)
	}

	dists := make([]shared.SizeDist, 0, len(sent))
	for _, cid := range input.CuttingOrderIDs {
		dists = append(dists, sent[cid])
	}
	dist := shared.SumDists(dists...)
	totalQty := dist.Total()
	totalAmount := input.RatePerPcs.Mul(decimal.NewFromInt(int64(totalQty)))

	now := time.Now().UTC()
	order := Order{
		ID:               uuid.NewString(),
		DCNumber:         number,
		DCDate:           input.DCDate,
		CuttingOrderIDs:  append([]string(nil), input.CuttingOrderIDs...),
		CuttingSent:      sent,
		OperationType:    input.OperationType,
		UnitName:         unit.Name,
		SizeDistribution: dist,
		TotalQuantity:    totalQty,
		RatePerPcs:       input.RatePerPcs,
		TotalAmount:      totalAmount,
		AmountPaid:       decimal.Zero,
		Balance:          totalAmount,
		PaymentStatus:    PaymentUnpaid,
		Status:           OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.checkOrder(order); err != nil {
		rollback()
		return Order{}, err
	}
	if err := s.repo.InsertOrder(ctx, order); err != nil {
		rollback()
		return Order{}, err
	}
	s.recordAudit(ctx, input.Actor, "outsourcing:order-create", order.ID,
		map[string]any{"dc_number": number, "unit": unit.Name})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "outsourcing_order", EntityID: order.ID,
		Actor: input.Actor, After: order.snapshot(),
	})
	return order, nil
}

// DeleteOrder removes a challan that has no receipt and no payments,
// restoring the cutting pools it drained.
func (s *Service) DeleteOrder(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	if receipt, err := s.repo.ReceiptForOrder(ctx, order.ID); err == nil {
		return shared.ReferentialIntegrity("outsourcing_order", order.DCNumber,
			[]string{"outsourcing_receipt " + receipt.ID})
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if order.AmountPaid.Sign() > 0 {
		return shared.InvalidTransition("challan %s has payments recorded against it", order.DCNumber)
	}
	for _, cid := range order.CuttingOrderIDs {
		if _, err := s.cuttings.CreditForOperation(ctx, cid, order.CuttingSent[cid]); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "outsourcing:order-delete", id, map[string]any{"dc_number": order.DCNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "outsourcing_order", EntityID: id,
		Actor: actor, Before: order.snapshot(),
	})
	return nil
}

// CreateReceipt records what the vendor sent back. The shortage column
// is derived, never typed in: shortage = sent - received - mistake per
// size. Received pieces rejoin the cutting pools; shortages and
// mistakes stay debited and are billed back at the challan rate.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (Receipt, error) {
	if err := s.validate.Struct(input); err != nil {
		return Receipt{}, fmt.Errorf("outsourcing: invalid receipt input: %w", err)
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
	if input.SentToIroning && order.OperationType != "Stitching" {
		return Receipt{}, shared.InvalidTransition("only stitching receipts queue for ironing, challan %s is %s",
			order.DCNumber, order.OperationType)
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

	status := ReceiptReceived
	if input.SentToIroning {
		status = ReceiptQueuedForIroning
	}
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
		SentToIroning:       input.SentToIroning,
		Status:              status,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	released := releasedShares(order, receipt)
	var completed []string
	undo := func() {
		for _, cid := range completed {
			_, _ = s.cuttings.UncompleteOperation(ctx, cid, order.OperationType, released[cid])
		}
	}
	for _, cid := range order.CuttingOrderIDs {
		if _, err := s.cuttings.CompleteOperation(ctx, cid, order.OperationType, released[cid]); err != nil {
			undo()
			return Receipt{}, err
		}
		completed = append(completed, cid)
	}

	if err := s.repo.InsertReceipt(ctx, receipt); err != nil {
		undo()
		return Receipt{}, err
	}
	order.Status = OrderReceived
	order.UpdatedAt = now
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.Actor, "outsourcing:receipt-create", receipt.ID,
		map[string]any{"dc_number": order.DCNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageCreated, Family: "outsourcing_receipt", EntityID: receipt.ID,
		Actor: input.Actor, After: receipt.snapshot(),
	})
	return receipt, nil
}

// DeleteReceipt unwinds a receipt: released pieces are re-issued on
// their cutting orders and the challan goes back to pending. Receipts
// already consumed by ironing cannot be deleted.
func (s *Service) DeleteReceipt(ctx context.Context, id, actor string) error {
	s.lock.Acquire()
	defer s.lock.Release()

	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	citing, err := s.repo.IroningOrdersCiting(ctx, id)
	if err != nil {
		return err
	}
	if len(citing) > 0 {
		offenders := make([]string, 0, len(citing))
		for _, dc := range citing {
			offenders = append(offenders, "ironing_order "+dc)
		}
		return shared.ReferentialIntegrity("outsourcing_receipt", receipt.ID, offenders)
	}
	if receipt.Status == ReceiptIroned {
		return shared.InvalidTransition("receipt %s has already been ironed", receipt.ID)
	}
	order, err := s.repo.GetOrder(ctx, receipt.OrderID)
	if err != nil {
		return err
	}
	released := releasedShares(order, receipt)
	for _, cid := range order.CuttingOrderIDs {
		if _, err := s.cuttings.UncompleteOperation(ctx, cid, order.OperationType, released[cid]); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteReceipt(ctx, id); err != nil {
		return err
	}
	order.Status = OrderPending
	order.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateOrder(ctx, order); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "outsourcing:receipt-delete", id, map[string]any{"dc_number": order.DCNumber})
	s.publish(shared.Event{
		Kind: shared.EventStageDeleted, Family: "outsourcing_receipt", EntityID: id,
		Actor: actor, Before: receipt.snapshot(),
	})
	return nil
}

// MarkReceiptIroned advances a queued stitching receipt once its
// ironing receipt lands. Runs under the caller's ledger lock.
func (s *Service) MarkReceiptIroned(ctx context.Context, id string) (Receipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != ReceiptQueuedForIroning {
		return Receipt{}, shared.InvalidTransition("receipt %s is %s, not queued for ironing", id, receipt.Status)
	}
	receipt.Status = ReceiptIroned
	receipt.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// UnmarkReceiptIroned reverses MarkReceiptIroned when an ironing
// receipt is deleted. Runs under the caller's ledger lock.
func (s *Service) UnmarkReceiptIroned(ctx context.Context, id string) (Receipt, error) {
	receipt, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if receipt.Status != ReceiptIroned {
		return Receipt{}, shared.InvalidTransition("receipt %s is %s, not ironed", id, receipt.Status)
	}
	receipt.Status = ReceiptQueuedForIroning
	receipt.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateReceipt(ctx, receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
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

// GetOrder fetches one challan.
func (s *Service) GetOrder(ctx context.Context, id string) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetReceipt fetches one receipt.
func (s *Service) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ReceiptForOrder fetches the receipt recorded against a challan.
func (s *Service) ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error) {
	return s.repo.ReceiptForOrder(ctx, orderID)
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

// releasedShares computes the per-cutting pieces a receipt hands back
// to the available pools. Receipts queued for ironing release nothing:
// their good pieces stay issued until the ironing receipt turns them
// into stock. The split is deterministic, so delete can recompute it.
func releasedShares(order Order, receipt Receipt) map[string]shared.SizeDist {
	out := make(map[string]shared.SizeDist, len(order.CuttingOrderIDs))
	if receipt.SentToIroning {
		for _, cid := range order.CuttingOrderIDs {
			out[cid] = shared.SizeDist{}
		}
		return out
	}
	return allocateAcrossCuttings(order, receipt.Received)
}

// allocateAcrossCuttings splits a receipt's received pieces back over
// the cutting orders the challan drained, greedily in citation order.
func allocateAcrossCuttings(order Order, received shared.SizeDist) map[string]shared.SizeDist {
	remaining := received.Clone()
	out := make(map[string]shared.SizeDist, len(order.CuttingOrderIDs))
	for _, cid := range order.CuttingOrderIDs {
		share := shared.SizeDist{}
		for size, sentN := range order.CuttingSent[cid] {
			n := remaining.Get(size)
			if n > sentN {
				n = sentN
			}
			if n > 0 {
				share[size] = n
				remaining[size] -= n
			}
		}
		out[cid] = share
	}
	return out
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "outsourcing", EntityID: id, Meta: meta})
}
