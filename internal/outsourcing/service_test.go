package outsourcing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

type memoryRepo struct {
	units    map[string]Unit
	orders   map[string]Order
	receipts map[string]Receipt
	ironing  map[string][]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		units:    map[string]Unit{},
		orders:   map[string]Order{},
		receipts: map[string]Receipt{},
		ironing:  map[string][]string{},
	}
}

func (r *memoryRepo) InsertUnit(ctx context.Context, unit Unit) error {
	r.units[unit.Name] = unit
	return nil
}

func (r *memoryRepo) GetUnit(ctx context.Context, name string) (Unit, error) {
	unit, ok := r.units[name]
	if !ok {
		return Unit{}, shared.NotFound("unit", name)
	}
	return unit, nil
}

func (r *memoryRepo) UpdateUnit(ctx context.Context, unit Unit) error {
	r.units[unit.Name] = unit
	return nil
}

func (r *memoryRepo) ListUnits(ctx context.Context) ([]Unit, error) {
	var out []Unit
	for _, u := range r.units {
		out = append(out, u)
	}
	return out, nil
}

func (r *memoryRepo) InsertOrder(ctx context.Context, order Order) error {
	r.orders[order.ID] = order
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return Order{}, shared.NotFound("outsourcing_order", id)
	}
	return order, nil
}

func (r *memoryRepo) UpdateOrder(ctx context.Context, order Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return shared.NotFound("outsourcing_order", order.ID)
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memoryRepo) DeleteOrder(ctx context.Context, id string) error {
	delete(r.orders, id)
	return nil
}

func (r *memoryRepo) ListOrders(ctx context.Context, filter Filter) ([]Order, int, error) {
	var out []Order
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out, len(out), nil
}

func (r *memoryRepo) InsertReceipt(ctx context.Context, receipt Receipt) error {
	r.receipts[receipt.ID] = receipt
	return nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return Receipt{}, shared.NotFound("outsourcing_receipt", id)
	}
	return receipt, nil
}

func (r *memoryRepo) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	if _, ok := r.receipts[receipt.ID]; !ok {
		return shared.NotFound("outsourcing_receipt", receipt.ID)
	}
	r.receipts[receipt.ID] = receipt
	return nil
}

func (r *memoryRepo) DeleteReceipt(ctx context.Context, id string) error {
	delete(r.receipts, id)
	return nil
}

func (r *memoryRepo) ReceiptForOrder(ctx context.Context, orderID string) (Receipt, error) {
	for _, receipt := range r.receipts {
		if receipt.OrderID == orderID {
			return receipt, nil
		}
	}
	return Receipt{}, shared.NotFound("outsourcing_receipt", orderID)
}

func (r *memoryRepo) IroningOrdersCiting(ctx context.Context, receiptID string) ([]string, error) {
	return r.ironing[receiptID], nil
}

// fakeCuttings mirrors the cutting pool arithmetic over an in-memory map.
type fakeCuttings struct {
	orders map[string]cutting.Order
}

func newFakeCuttings() *fakeCuttings {
	return &fakeCuttings{orders: map[string]cutting.Order{}}
}

func (f *fakeCuttings) add(id, number string, dist shared.SizeDist) {
	f.orders[id] = cutting.Order{
		ID: id, CuttingLotNumber: number,
		SizeDistribution: dist.Clone(), Issued: shared.SizeDist{},
	}
}

func (f *fakeCuttings) Get(ctx context.Context, id string) (cutting.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return cutting.Order{}, shared.NotFound("cutting_order", id)
	}
	return order, nil
}

func (f *fakeCuttings) DebitForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return cutting.Order{}, err
	}
	if order.Available().Sub(take).HasNegative() {
		return cutting.Order{}, shared.InsufficientStock("cutting_order", id, "pool short")
	}
	order.Issued = order.Issued.Add(take)
	f.orders[id] = order
	return order, nil
}

func (f *fakeCuttings) CreditForOperation(ctx context.Context, id string, take shared.SizeDist) (cutting.Order, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return cutting.Order{}, err
	}
	order.Issued = order.Issued.Sub(take).Compact()
	f.orders[id] = order
	return order, nil
}

func (f *fakeCuttings) CompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (cutting.Order, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return cutting.Order{}, err
	}
	order.CompletedOperations = append(order.CompletedOperations, operation)
	order.Issued = order.Issued.Sub(processed).Compact()
	f.orders[id] = order
	return order, nil
}

func (f *fakeCuttings) UncompleteOperation(ctx context.Context, id, operation string, processed shared.SizeDist) (cutting.Order, error) {
	order, err := f.Get(ctx, id)
	if err != nil {
		return cutting.Order{}, err
	}
	order.CompletedOperations = nil
	order.Issued = order.Issued.Add(processed)
	f.orders[id] = order
	return order, nil
}

type memoryIDs struct {
	n int
}

func (m *memoryIDs) NextDCNumber(ctx context.Context) (string, error) {
	m.n++
	return time.Date(2024, 3, 10, 12, 0, m.n, 0, time.UTC).Format("DC-20060102150405"), nil
}

func newTestService(repo *memoryRepo, cuttings *fakeCuttings) *Service {
	return NewService(repo, cuttings, &memoryIDs{}, nil, nil, &shared.LedgerLock{})
}

func seedUnit(t *testing.T, svc *Service, operations ...string) Unit {
	t.Helper()
	unit, err := svc.CreateUnit(context.Background(), CreateUnitInput{
		Name: "Krishna Stitching", Operations: operations, Actor: "tester",
	})
	require.NoError(t, err)
	return unit
}

func baseOrderInput(cuttingIDs ...string) CreateOrderInput {
	return CreateOrderInput{
		DCDate:          time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		CuttingOrderIDs: cuttingIDs,
		OperationType:   "Stitching",
		UnitName:        "Krishna Stitching",
		RatePerPcs:      decimal.NewFromInt(8),
		Actor:           "tester",
	}
}

func TestUnitLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, newFakeCuttings())
	ctx := context.Background()

	unit := seedUnit(t, svc, "Stitching")
	require.True(t, unit.Active)

	_, err := svc.CreateUnit(ctx, CreateUnitInput{Name: unit.Name, Actor: "tester"})
	require.ErrorIs(t, err, shared.ErrConflictingIdentifier)

	updated, err := svc.UpdateUnit(ctx, UpdateUnitInput{
		Name: unit.Name, Operations: []string{"Stitching", "Printing"}, Contact: "98765", Actor: "tester",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Stitching", "Printing"}, updated.Operations)
	require.Equal(t, "98765", updated.Contact)

	retired, err := svc.DeactivateUnit(ctx, unit.Name, "tester")
	require.NoError(t, err)
	require.False(t, retired.Active)
}

func TestCreateOrderDrainsCuttingPools(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	cuttings.add("cut-2", "cut 002", shared.SizeDist{"M": 0, "L": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)

	order, err := svc.CreateOrder(context.Background(), baseOrderInput("cut-1", "cut-2"))
	require.NoError(t, err)
	require.Equal(t, shared.SizeDist{"M": 10, "L": 10}, order.SizeDistribution)
	require.Equal(t, 20, order.TotalQuantity)
	require.True(t, order.TotalAmount.Equal(decimal.NewFromInt(160)))
	require.Equal(t, PaymentUnpaid, order.PaymentStatus)
	require.Equal(t, OrderPending, order.Status)
	require.True(t, cuttings.orders["cut-1"].Available().IsZero())
	require.True(t, cuttings.orders["cut-2"].Available().IsZero())
}

func TestCreateOrderGuards(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	ctx := context.Background()

	// Unknown unit.
	_, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.ErrorIs(t, err, shared.ErrNotFound)

	seedUnit(t, svc, "Stitching")

	input := baseOrderInput("cut-1")
	input.OperationType = "Printing"
	_, err = svc.CreateOrder(ctx, input)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	// A drained cutting order cannot be sent again.
	_, err = svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)
	_, err = svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestCreateOrderRollsBackOnMissingCutting(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)

	_, err := svc.CreateOrder(context.Background(), baseOrderInput("cut-1", "cut-missing"))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, 10, cuttings.orders["cut-1"].Available().Total())
	require.Empty(t, repo.orders)
}

func TestReceiptDerivesShortage(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10, "L": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)

	receipt, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:  order.ID,
		Received: shared.SizeDist{"M": 9, "L": 9},
		Mistake:  shared.SizeDist{"M": 1, "L": 0},
		Actor:    "tester",
	})
	require.NoError(t, err)
	require.Equal(t, 0, receipt.Shortage.Get("M"))
	require.Equal(t, 1, receipt.Shortage.Get("L"))
	require.Equal(t, 1, receipt.TotalShortage)
	require.Equal(t, 1, receipt.TotalMistake)
	require.True(t, receipt.ShortageDebitAmount.Equal(decimal.NewFromInt(8)))
	require.True(t, receipt.MistakeDebitAmount.Equal(decimal.NewFromInt(8)))
	require.Equal(t, ReceiptReceived, receipt.Status)

	// 18 good pieces rejoin the cutting pool; shortage and mistake stay out.
	cut := cuttings.orders["cut-1"]
	require.Equal(t, 18, cut.Available().Total())
	require.Contains(t, cut.CompletedOperations, "Stitching")

	got, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderReceived, got.Status)

	// One receipt per challan.
	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: order.ID, Received: shared.SizeDist{"M": 1}, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestReceiptRejectsOverReceive(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:  order.ID,
		Received: shared.SizeDist{"M": 10},
		Mistake:  shared.SizeDist{"M": 1},
		Actor:    "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestReceiptIroningQueue(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)

	receipt, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:       order.ID,
		Received:      shared.SizeDist{"M": 10},
		SentToIroning: true,
		Actor:         "tester",
	})
	require.NoError(t, err)
	require.Equal(t, ReceiptQueuedForIroning, receipt.Status)
	// Queued pieces stay issued on the cutting order.
	require.True(t, cuttings.orders["cut-1"].Available().IsZero())

	receipt, err = svc.MarkReceiptIroned(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, ReceiptIroned, receipt.Status)

	_, err = svc.MarkReceiptIroned(ctx, receipt.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	receipt, err = svc.UnmarkReceiptIroned(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, ReceiptQueuedForIroning, receipt.Status)
}

func TestReceiptIroningFlagNeedsStitching(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	input := baseOrderInput("cut-1")
	input.OperationType = "Printing"
	order, err := svc.CreateOrder(ctx, input)
	require.NoError(t, err)

	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:       order.ID,
		Received:      shared.SizeDist{"M": 10},
		SentToIroning: true,
		Actor:         "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestDeleteReceiptRestoresPool(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)
	receipt, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: order.ID, Received: shared.SizeDist{"M": 8}, Actor: "tester",
	})
	require.NoError(t, err)

	repo.ironing[receipt.ID] = []string{"DC-20240311090000"}
	err = svc.DeleteReceipt(ctx, receipt.ID, "tester")
	require.ErrorIs(t, err, shared.ErrReferentialIntegrity)

	repo.ironing[receipt.ID] = nil
	require.NoError(t, svc.DeleteReceipt(ctx, receipt.ID, "tester"))
	require.True(t, cuttings.orders["cut-1"].Available().IsZero())
	require.Empty(t, cuttings.orders["cut-1"].CompletedOperations)

	got, err := svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderPending, got.Status)
}

func TestDeleteOrderRestoresPool(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)
	require.True(t, cuttings.orders["cut-1"].Available().IsZero())

	require.NoError(t, svc.DeleteOrder(ctx, order.ID, "tester"))
	require.Equal(t, 10, cuttings.orders["cut-1"].Available().Total())
	require.Empty(t, repo.orders)
}

func TestDeleteOrderRefusedWithReceipt(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)
	_, err = svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: order.ID, Received: shared.SizeDist{"M": 10}, Actor: "tester",
	})
	require.NoError(t, err)

	err = svc.DeleteOrder(ctx, order.ID, "tester")
	require.ErrorIs(t, err, shared.ErrReferentialIntegrity)
}

func TestApplyPayment(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := newFakeCuttings()
	cuttings.add("cut-1", "cut 001", shared.SizeDist{"M": 10})
	svc := newTestService(repo, cuttings)
	seedUnit(t, svc)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, baseOrderInput("cut-1"))
	require.NoError(t, err)

	got, err := svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(30))
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, got.PaymentStatus)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(50)))

	got, err = svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(50))
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.True(t, got.Balance.IsZero())
}
