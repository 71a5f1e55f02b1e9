package ironing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
	"github.com/tricot-erp/tricot-erp/internal/stock"
)

type memoryRepo struct {
	orders   map[string]Order
	receipts map[string]Receipt
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: map[string]Order{}, receipts: map[string]Receipt{}}
}

func (r *memoryRepo) InsertOrder(ctx context.Context, order Order) error {
	r.orders[order.ID] = order
	return nil
}

func (r *memoryRepo) GetOrder(ctx context.Context, id string) (Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return Order{}, shared.NotFound("ironing_order", id)
	}
	return order, nil
}

func (r *memoryRepo) UpdateOrder(ctx context.Context, order Order) error {
	if _, ok := r.orders[order.ID]; !ok {
		return shared.NotFound("ironing_order", order.ID)
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

func (r *memoryRepo) OrderForReceipt(ctx context.Context, stitchingReceiptID string) (Order, error) {
	for _, order := range r.orders {
		if order.StitchingReceiptID == stitchingReceiptID {
			return order, nil
		}
	}
	return Order{}, shared.NotFound("ironing_order", stitchingReceiptID)
}

func (r *memoryRepo) InsertReceipt(ctx context.Context, receipt Receipt) error {
	r.receipts[receipt.ID] = receipt
	return nil
}

func (r *memoryRepo) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return Receipt{}, shared.NotFound("ironing_receipt", id)
	}
	return receipt, nil
}

func (r *memoryRepo) UpdateReceipt(ctx context.Context, receipt Receipt) error {
	if _, ok := r.receipts[receipt.ID]; !ok {
		return shared.NotFound("ironing_receipt", receipt.ID)
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
	return Receipt{}, shared.NotFound("ironing_receipt", orderID)
}

type fakeOutsourcing struct {
	units    map[string]outsourcing.Unit
	orders   map[string]outsourcing.Order
	receipts map[string]outsourcing.Receipt
}

func newFakeOutsourcing() *fakeOutsourcing {
	return &fakeOutsourcing{
		units:    map[string]outsourcing.Unit{},
		orders:   map[string]outsourcing.Order{},
		receipts: map[string]outsourcing.Receipt{},
	}
}

func (f *fakeOutsourcing) GetUnit(ctx context.Context, name string) (outsourcing.Unit, error) {
	unit, ok := f.units[name]
	if !ok {
		return outsourcing.Unit{}, shared.NotFound("unit", name)
	}
	return unit, nil
}

func (f *fakeOutsourcing) GetOrder(ctx context.Context, id string) (outsourcing.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return outsourcing.Order{}, shared.NotFound("outsourcing_order", id)
	}
	return order, nil
}

func (f *fakeOutsourcing) GetReceipt(ctx context.Context, id string) (outsourcing.Receipt, error) {
	receipt, ok := f.receipts[id]
	if !ok {
		return outsourcing.Receipt{}, shared.NotFound("outsourcing_receipt", id)
	}
	return receipt, nil
}

func (f *fakeOutsourcing) MarkReceiptIroned(ctx context.Context, id string) (outsourcing.Receipt, error) {
	receipt, err := f.GetReceipt(ctx, id)
	if err != nil {
		return outsourcing.Receipt{}, err
	}
	if receipt.Status != outsourcing.ReceiptQueuedForIroning {
		return outsourcing.Receipt{}, shared.InvalidTransition("not queued")
	}
	receipt.Status = outsourcing.ReceiptIroned
	f.receipts[id] = receipt
	return receipt, nil
}

func (f *fakeOutsourcing) UnmarkReceiptIroned(ctx context.Context, id string) (outsourcing.Receipt, error) {
	receipt, err := f.GetReceipt(ctx, id)
	if err != nil {
		return outsourcing.Receipt{}, err
	}
	receipt.Status = outsourcing.ReceiptQueuedForIroning
	f.receipts[id] = receipt
	return receipt, nil
}

type fakeCuttings struct {
	orders map[string]cutting.Order
}

func (f *fakeCuttings) Get(ctx context.Context, id string) (cutting.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return cutting.Order{}, shared.NotFound("cutting_order", id)
	}
	return order, nil
}

type fakeStocks struct {
	items      map[string]stock.Item
	dispatched map[string]bool
}

func newFakeStocks() *fakeStocks {
	return &fakeStocks{items: map[string]stock.Item{}, dispatched: map[string]bool{}}
}

func (f *fakeStocks) CreateFromIroning(ctx context.Context, input stock.CreateInput) (stock.Item, error) {
	item := stock.Item{
		ID:               uuid.NewString(),
		LotNumber:        input.LotNumber,
		Source:           input.Source,
		SourceID:         input.SourceID,
		StyleType:        input.StyleType,
		Color:            input.Color,
		SizeDistribution: input.SizeDistribution.Clone(),
		Available:        input.SizeDistribution.Clone(),
	}
	f.items[input.SourceID] = item
	return item, nil
}

func (f *fakeStocks) DeleteBySource(ctx context.Context, source stock.Source, sourceID, actor string) error {
	item, ok := f.items[sourceID]
	if !ok {
		return shared.NotFound("stock", sourceID)
	}
	if f.dispatched[sourceID] {
		return shared.ReferentialIntegrity("stock", item.StockCode, []string{"bulk_dispatch DSP-1"})
	}
	delete(f.items, sourceID)
	return nil
}

type memoryIDs struct {
	n int
}

func (m *memoryIDs) NextDCNumber(ctx context.Context) (string, error) {
	m.n++
	return time.Date(2024, 3, 12, 10, 0, m.n, 0, time.UTC).Format("DC-20060102150405"), nil
}

type fixture struct {
	repo      *memoryRepo
	outsource *fakeOutsourcing
	stocks    *fakeStocks
	svc       *Service
	receiptID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	outsource := newFakeOutsourcing()
	stocks := newFakeStocks()
	cuttings := &fakeCuttings{orders: map[string]cutting.Order{
		"cut-1": {
			ID: "cut-1", CuttingLotNumber: "cut 001", Color: "Navy Blue",
			Category: "Kids", StyleType: "Polo",
		},
	}}

	outsource.units["Sharma Ironing"] = outsourcing.Unit{
		ID: "unit-1", Name: "Sharma Ironing", Active: true,
	}
	outsource.orders["out-1"] = outsourcing.Order{
		ID: "out-1", DCNumber: "DC-20240310120001",
		CuttingOrderIDs: []string{"cut-1"}, OperationType: "Stitching",
	}
	outsource.receipts["rcpt-1"] = outsourcing.Receipt{
		ID: "rcpt-1", OrderID: "out-1",
		Received:      shared.SizeDist{"M": 9, "L": 9},
		SentToIroning: true,
		Status:        outsourcing.ReceiptQueuedForIroning,
	}

	svc := NewService(repo, outsource, cuttings, stocks, &memoryIDs{}, nil, nil, &shared.LedgerLock{})
	return &fixture{repo: repo, outsource: outsource, stocks: stocks, svc: svc, receiptID: "rcpt-1"}
}

func baseOrderInput(receiptID string) CreateOrderInput {
	return CreateOrderInput{
		DCDate:             time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		StitchingReceiptID: receiptID,
		UnitName:           "Sharma Ironing",
		RatePerPcs:         decimal.NewFromInt(3),
		MasterPackRatio:    shared.SizeDist{"M": 2, "L": 2},
		Actor:              "tester",
	}
}

func TestCreateOrderInheritsCuttingDetails(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(context.Background(), baseOrderInput(f.receiptID))
	require.NoError(t, err)
	require.Equal(t, "cut 001", order.CuttingLotNumber)
	require.Equal(t, "Navy Blue", order.Color)
	require.Equal(t, shared.SizeDist{"M": 9, "L": 9}, order.SizeDistribution)
	require.Equal(t, 18, order.TotalQuantity)
	require.True(t, order.TotalAmount.Equal(decimal.NewFromInt(54)))
	require.Equal(t, OrderPending, order.Status)
}

func TestCreateOrderGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Receipt not queued for ironing.
	rcpt := f.outsource.receipts[f.receiptID]
	rcpt.Status = outsourcing.ReceiptReceived
	f.outsource.receipts[f.receiptID] = rcpt
	_, err := f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	rcpt.Status = outsourcing.ReceiptQueuedForIroning
	f.outsource.receipts[f.receiptID] = rcpt
	_, err = f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.NoError(t, err)

	// One ironing challan per stitching receipt.
	_, err = f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateReceiptPacksAndCreatesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := baseOrderInput(f.receiptID)
	input.StockLotName = "lot 009"
	input.StockColor = "Jet Black"
	order, err := f.svc.CreateOrder(ctx, input)
	require.NoError(t, err)

	receipt, err := f.svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:  order.ID,
		Received: shared.SizeDist{"M": 8, "L": 9},
		Actor:    "tester",
	})
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Shortage.Get("M"))
	require.Equal(t, 4, receipt.CompletePacks)
	require.Equal(t, 1, receipt.LoosePieces)
	require.True(t, receipt.ShortageDebitAmount.Equal(decimal.NewFromInt(3)))

	item := f.stocks.items[receipt.ID]
	require.Equal(t, receipt.StockID, item.ID)
	require.Equal(t, "lot 009", item.LotNumber)
	require.Equal(t, "Jet Black", item.Color)
	require.Equal(t, 17, item.SizeDistribution.Total())

	require.Equal(t, outsourcing.ReceiptIroned, f.outsource.receipts[f.receiptID].Status)
	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderReceived, got.Status)

	_, err = f.svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: order.ID, Received: shared.SizeDist{"M": 1}, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateReceiptRejectsOverReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.NoError(t, err)

	_, err = f.svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID:  order.ID,
		Received: shared.SizeDist{"M": 9, "L": 9},
		Mistake:  shared.SizeDist{"M": 1},
		Actor:    "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestDeleteReceiptUnwindsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.NoError(t, err)
	receipt, err := f.svc.CreateReceipt(ctx, CreateReceiptInput{
		OrderID: order.ID, Received: shared.SizeDist{"M": 9, "L": 9}, Actor: "tester",
	})
	require.NoError(t, err)

	f.stocks.dispatched[receipt.ID] = true
	err = f.svc.DeleteReceipt(ctx, receipt.ID, "tester")
	require.ErrorIs(t, err, shared.ErrReferentialIntegrity)

	f.stocks.dispatched[receipt.ID] = false
	require.NoError(t, f.svc.DeleteReceipt(ctx, receipt.ID, "tester"))
	require.Empty(t, f.stocks.items)
	require.Equal(t, outsourcing.ReceiptQueuedForIroning, f.outsource.receipts[f.receiptID].Status)

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, OrderPending, got.Status)
}

func TestDeleteOrderGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.NoError(t, err)

	_, err = f.svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(10))
	require.NoError(t, err)
	err = f.svc.DeleteOrder(ctx, order.ID, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(-10))
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID, "tester"))
	require.Empty(t, f.repo.orders)
}

func TestApplyPaymentTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.CreateOrder(ctx, baseOrderInput(f.receiptID))
	require.NoError(t, err)

	got, err := f.svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(20))
	require.NoError(t, err)
	require.Equal(t, PaymentPartial, got.PaymentStatus)

	got, err = f.svc.ApplyPayment(ctx, order.ID, decimal.NewFromInt(40))
	require.NoError(t, err)
	require.Equal(t, PaymentPaid, got.PaymentStatus)
	require.True(t, got.Balance.Equal(decimal.NewFromInt(-6)))
}
