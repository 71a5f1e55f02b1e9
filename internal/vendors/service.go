package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tricot-erp/tricot-erp/internal/ironing"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// RepositoryPort reads the cross-stage bill view and stores payments.
type RepositoryPort interface {
	BillsForUnit(ctx context.Context, unitName string) ([]Bill, error)
	InsertPayment(ctx context.Context, payment Payment) error
	ListPayments(ctx context.Context, unitName string) ([]Payment, error)
}

// OutsourcingPort settles outsourcing bills. Runs under this service's
// ledger lock.
type OutsourcingPort interface {
	ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (outsourcing.Order, error)
}

// IroningPort settles ironing bills. Runs under this service's ledger
// lock.
type IroningPort interface {
	ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (ironing.Order, error)
}

// AuditPort records who did what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes committed domain events.
type EventPort interface {
	Publish(evt shared.Event)
}

// Service is the vendor ledger: a payables projection over outsourcing
// and ironing bills, with FIFO payment application.
type Service struct {
	repo             RepositoryPort
	outsource        OutsourcingPort
	ironings         IroningPort
	audit            AuditPort
	events           EventPort
	cache            *redis.Client
	cacheTTL         time.Duration
	allowOverpayment bool
	lock             *shared.LedgerLock
	validate         *validator.Validate
}

// NewService builds the vendor ledger. The cache client may be nil.
func NewService(repo RepositoryPort, outsource OutsourcingPort, ironings IroningPort, audit AuditPort, events EventPort, cache *redis.Client, cacheTTL time.Duration, allowOverpayment bool, lock *shared.LedgerLock) *Service {
	return &Service{
		repo:             repo,
		outsource:        outsource,
		ironings:         ironings,
		audit:            audit,
		events:           events,
		cache:            cache,
		cacheTTL:         cacheTTL,
		allowOverpayment: allowOverpayment,
		lock:             lock,
		validate:         validator.New(),
	}
}

func pendingKey(unitName string) string {
	return "tricot:vendors:pending:" + unitName
}

// PendingBills returns the unit's open payables, oldest first.
func (s *Service) PendingBills(ctx context.Context, unitName string) (PendingBills, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, pendingKey(unitName)).Bytes()
		if err == nil {
			var cached PendingBills
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	bills, err := s.repo.BillsForUnit(ctx, unitName)
	if err != nil {
		return PendingBills{}, err
	}
	out := PendingBills{
		UnitName:           unitName,
		OutsourcingPending: decimal.Zero,
		IroningPending:     decimal.Zero,
		TotalPending:       decimal.Zero,
	}
	for _, bill := range bills {
		if bill.Balance.Sign() <= 0 {
			continue
		}
		out.Bills = append(out.Bills, bill)
		switch bill.Family {
		case FamilyOutsourcing:
			out.OutsourcingPending = out.OutsourcingPending.Add(bill.Balance)
		case FamilyIroning:
			out.IroningPending = out.IroningPending.Add(bill.Balance)
		}
	}
	out.TotalPending = out.OutsourcingPending.Add(out.IroningPending)
	if s.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			s.cache.Set(ctx, pendingKey(unitName), raw, s.cacheTTL)
		}
	}
	return out, nil
}

// ApplyPayment walks the unit's open bills oldest first, consuming the
// amount against each. A bill crosses Unpaid to Partial to Paid as its
// balance empties. When overpayment is allowed the surplus lands on
// the last bill as a negative balance; otherwise it is rejected.
func (s *Service) ApplyPayment(ctx context.Context, input ApplyPaymentInput) (Payment, error) {
	if err := s.validate.Struct(input); err != nil {
		return Payment{}, fmt.Errorf("vendors: invalid payment input: %w", err)
	}
	if input.Amount.Sign() <= 0 {
		return Payment{}, shared.InvalidTransition("payment amount must be positive")
	}

	s.lock.Acquire()
	defer s.lock.Release()

	all, err := s.repo.BillsForUnit(ctx, input.UnitName)
	if err != nil {
		return Payment{}, err
	}
	var open []Bill
	for _, bill := range all {
		if bill.Balance.Sign() > 0 {
			open = append(open, bill)
		}
	}
	if len(open) == 0 {
		return Payment{}, shared.InvalidTransition("unit %s has no pending bills", input.UnitName)
	}
	pending := decimal.Zero
	for _, bill := range open {
		pending = pending.Add(bill.Balance)
	}
	if input.Amount.GreaterThan(pending) && !s.allowOverpayment {
		return Payment{}, shared.InvalidTransition("payment %s exceeds pending %s for unit %s",
			input.Amount, pending, input.UnitName)
	}

	remaining := input.Amount
	var applied []Application
	for i, bill := range open {
		if remaining.Sign() <= 0 {
			break
		}
		pay := decimal.Min(remaining, bill.Balance)
		if i == len(open)-1 {
			// The last open bill absorbs any surplus as a negative balance.
			pay = remaining
		}
		if err := s.settle(ctx, bill, pay); err != nil {
			return Payment{}, err
		}
		applied = append(applied, Application{Family: bill.Family, BillID: bill.BillID, Amount: pay})
		remaining = remaining.Sub(pay)
	}

	payment := Payment{
		ID:        uuid.NewString(),
		UnitName:  input.UnitName,
		Amount:    input.Amount,
		Method:    input.Method,
		Notes:     input.Notes,
		Applied:   applied,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertPayment(ctx, payment); err != nil {
		return Payment{}, err
	}
	s.invalidate(ctx, input.UnitName)
	s.recordAudit(ctx, input.Actor, "vendors:payment", payment.ID,
		map[string]any{"unit": input.UnitName, "amount": input.Amount.String()})
	s.publish(shared.Event{
		Kind: shared.EventPaymentApplied, Family: "vendor_payment", EntityID: payment.ID,
		Actor: input.Actor, After: map[string]any{
			"unit":    input.UnitName,
			"amount":  input.Amount.String(),
			"applied": len(applied),
		},
	})
	return payment, nil
}

// Payments lists the unit's payment history.
func (s *Service) Payments(ctx context.Context, unitName string) ([]Payment, error) {
	return s.repo.ListPayments(ctx, unitName)
}

func (s *Service) settle(ctx context.Context, bill Bill, amount decimal.Decimal) error {
	switch bill.Family {
	case FamilyOutsourcing:
		_, err := s.outsource.ApplyPayment(ctx, bill.BillID, amount)
		return err
	case FamilyIroning:
		_, err := s.ironings.ApplyPayment(ctx, bill.BillID, amount)
		return err
	default:
		return shared.InvalidTransition("unknown bill family %s", bill.Family)
	}
}

func (s *Service) invalidate(ctx context.Context, unitName string) {
	if s.cache != nil {
		s.cache.Del(ctx, pendingKey(unitName))
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
	_ = s.audit.Record(ctx, shared.AuditLog{Actor: actor, Action: action, Entity: "vendor_payment", EntityID: id, Meta: meta})
}
