package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/cutting"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

type memoryRepo struct {
	items      map[string]Item
	dispatches map[string][]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[string]Item{}, dispatches: map[string][]string{}}
}

func (r *memoryRepo) Insert(ctx context.Context, item Item) error {
	r.items[item.ID] = item
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Item, error) {
	item, ok := r.items[id]
	if !ok {
		return Item{}, shared.NotFound("stock", id)
	}
	return item, nil
}

func (r *memoryRepo) Update(ctx context.Context, item Item) error {
	if _, ok := r.items[item.ID]; !ok {
		return shared.NotFound("stock", item.ID)
	}
	r.items[item.ID] = item
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	delete(r.items, id)
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Item, int, error) {
	var out []Item
	for _, item := range r.items {
		if filter.ActiveOnly && !item.Active {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (r *memoryRepo) BySource(ctx context.Context, source Source, sourceID string) (Item, error) {
	for _, item := range r.items {
		if item.Source == source && item.SourceID == sourceID {
			return item, nil
		}
	}
	return Item{}, shared.NotFound("stock", sourceID)
}

func (r *memoryRepo) DispatchesCiting(ctx context.Context, stockID string) ([]string, error) {
	return r.dispatches[stockID], nil
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

type memoryIDs struct {
	n int
}

func (m *memoryIDs) NextStockCode(ctx context.Context) (string, error) {
	m.n++
	return time.Date(2024, 3, 15, 9, 0, m.n, 0, time.UTC).Format("STK-20060102150405"), nil
}

func newTestService(t *testing.T, repo *memoryRepo, cuttings *fakeCuttings, withCache bool) *Service {
	t.Helper()
	var client *redis.Client
	if withCache {
		mr := miniredis.RunT(t)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	return NewService(repo, cuttings, &memoryIDs{}, nil, nil, client, time.Minute, &shared.LedgerLock{})
}

func historicalInput(lot, style, color string, dist shared.SizeDist) CreateInput {
	return CreateInput{
		LotNumber:        lot,
		Source:           SourceHistorical,
		StyleType:        style,
		Color:            color,
		SizeDistribution: dist,
		MasterPackRatio:  shared.SizeDist{"M": 2, "L": 2},
		Actor:            "tester",
	}
}

func TestCreatePacksAvailablePool(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil, false)

	item, err := svc.Create(context.Background(), historicalInput("lot 001", "Polo", "Navy Blue",
		shared.SizeDist{"M": 5, "L": 4}))
	require.NoError(t, err)
	require.Equal(t, 9, item.TotalQuantity)
	require.Equal(t, 9, item.AvailableQuantity)
	require.Equal(t, 2, item.CompletePacks)
	require.Equal(t, shared.SizeDist{"M": 1, "L": 0}, item.LoosePerSize)
	require.True(t, item.Active)
}

func TestDebitAndCredit(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil, false)
	ctx := context.Background()

	item, err := svc.Create(ctx, historicalInput("lot 001", "Polo", "Navy Blue",
		shared.SizeDist{"M": 10, "L": 10}))
	require.NoError(t, err)

	got, err := svc.Debit(ctx, item.ID, shared.SizeDist{"M": 4, "L": 6})
	require.NoError(t, err)
	require.Equal(t, 10, got.AvailableQuantity)
	require.Equal(t, 2, got.CompletePacks)

	_, err = svc.Debit(ctx, item.ID, shared.SizeDist{"M": 7})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err = svc.Credit(ctx, item.ID, shared.SizeDist{"M": 4, "L": 6})
	require.NoError(t, err)
	require.Equal(t, 20, got.AvailableQuantity)

	// Restoring past the produced quantity is refused.
	_, err = svc.Credit(ctx, item.ID, shared.SizeDist{"M": 1})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestDebitRefusedOnInactive(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil, false)
	ctx := context.Background()

	item, err := svc.Create(ctx, historicalInput("lot 001", "Polo", "Navy Blue", shared.SizeDist{"M": 5}))
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, item.ID, "tester")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, item.ID, shared.SizeDist{"M": 1})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.Deactivate(ctx, item.ID, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCreateFromCuttingConsumesPool(t *testing.T) {
	repo := newMemoryRepo()
	cuttings := &fakeCuttings{orders: map[string]cutting.Order{
		"cut-1": {
			ID: "cut-1", CuttingLotNumber: "cut 001", Color: "Navy Blue",
			Category: "Kids", StyleType: "Polo",
			SizeDistribution: shared.SizeDist{"M": 10}, Issued: shared.SizeDist{},
		},
	}}
	svc := newTestService(t, repo, cuttings, false)
	ctx := context.Background()

	item, err := svc.CreateFromCutting(ctx, CreateFromCuttingInput{
		CuttingOrderID: "cut-1",
		Take:           shared.SizeDist{"M": 6},
		Actor:          "tester",
	})
	require.NoError(t, err)
	require.Equal(t, SourceCutting, item.Source)
	require.Equal(t, "cut 001", item.LotNumber)
	require.Equal(t, "Navy Blue", item.Color)
	require.Equal(t, 4, cuttings.orders["cut-1"].Available().Total())

	_, err = svc.CreateFromCutting(ctx, CreateFromCuttingInput{
		CuttingOrderID: "cut-1",
		Take:           shared.SizeDist{"M": 5},
		Actor:          "tester",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestDeleteBySourceGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil, false)
	ctx := context.Background()

	item, err := svc.Create(ctx, CreateInput{
		LotNumber: "lot 001", Source: SourceIroning, SourceID: "rcpt-1",
		StyleType: "Polo", Color: "Navy Blue",
		SizeDistribution: shared.SizeDist{"M": 10}, Actor: "tester",
	})
	require.NoError(t, err)

	repo.dispatches[item.ID] = []string{"DSP-20240316100000"}
	err = svc.DeleteBySource(ctx, SourceIroning, "rcpt-1", "tester")
	require.ErrorIs(t, err, shared.ErrReferentialIntegrity)

	repo.dispatches[item.ID] = nil
	require.NoError(t, svc.DeleteBySource(ctx, SourceIroning, "rcpt-1", "tester"))
	require.Empty(t, repo.items)
}

func TestAggregatesGroupAndCache(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil, true)
	ctx := context.Background()

	_, err := svc.Create(ctx, historicalInput("lot 001", "Polo", "Navy Blue", shared.SizeDist{"M": 5}))
	require.NoError(t, err)
	_, err = svc.Create(ctx, historicalInput("lot 001", "Polo", "Navy Blue", shared.SizeDist{"M": 3, "L": 2}))
	require.NoError(t, err)
	inactive, err := svc.Create(ctx, historicalInput("lot 002", "Tee", "White", shared.SizeDist{"S": 4}))
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, inactive.ID, "tester")
	require.NoError(t, err)

	aggs, err := svc.Aggregates(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, "lot 001", aggs[0].LotNumber)
	require.Equal(t, 10, aggs[0].AvailableQuantity)
	require.Equal(t, 2, aggs[0].Items)
	require.Equal(t, 8, aggs[0].Available.Get("M"))

	// Cached answer survives a repo mutation done behind the service's back,
	// and a service write invalidates it.
	repo.items = map[string]Item{}
	aggs, err = svc.Aggregates(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)

	_, err = svc.Create(ctx, historicalInput("lot 003", "Polo", "Black", shared.SizeDist{"M": 1}))
	require.NoError(t, err)
	aggs, err = svc.Aggregates(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, "lot 003", aggs[0].LotNumber)
}
