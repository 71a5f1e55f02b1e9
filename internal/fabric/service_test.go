package fabric

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/shared"
)

type lotConsumption struct {
	fabricKg, ribKg float64
}

type memoryRepo struct {
	lots        map[string]Lot
	returns     map[string]Return
	cuttingRefs map[string][]string
	consumed    map[string]lotConsumption
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lots:        map[string]Lot{},
		returns:     map[string]Return{},
		cuttingRefs: map[string][]string{},
		consumed:    map[string]lotConsumption{},
	}
}

func (r *memoryRepo) InsertLot(ctx context.Context, lot Lot) error {
	r.lots[lot.ID] = lot
	return nil
}

func (r *memoryRepo) GetLot(ctx context.Context, id string) (Lot, error) {
	lot, ok := r.lots[id]
	if !ok {
		return Lot{}, shared.NotFound("fabric_lot", id)
	}
	return lot, nil
}

func (r *memoryRepo) UpdateLot(ctx context.Context, lot Lot) error {
	if _, ok := r.lots[lot.ID]; !ok {
		return shared.NotFound("fabric_lot", lot.ID)
	}
	r.lots[lot.ID] = lot
	return nil
}

func (r *memoryRepo) DeleteLot(ctx context.Context, id string) error {
	if _, ok := r.lots[id]; !ok {
		return shared.NotFound("fabric_lot", id)
	}
	delete(r.lots, id)
	return nil
}

func (r *memoryRepo) ListLots(ctx context.Context, filter Filter) ([]Lot, int, error) {
	var lots []Lot
	for _, lot := range r.lots {
		lots = append(lots, lot)
	}
	return lots, len(lots), nil
}

func (r *memoryRepo) InsertReturn(ctx context.Context, ret Return) error {
	r.returns[ret.ID] = ret
	return nil
}

func (r *memoryRepo) GetReturn(ctx context.Context, id string) (Return, error) {
	ret, ok := r.returns[id]
	if !ok {
		return Return{}, shared.NotFound("fabric_return", id)
	}
	return ret, nil
}

func (r *memoryRepo) DeleteReturn(ctx context.Context, id string) error {
	delete(r.returns, id)
	return nil
}

func (r *memoryRepo) ListReturnsByLot(ctx context.Context, lotID string) ([]Return, error) {
	var out []Return
	for _, ret := range r.returns {
		if ret.LotID == lotID {
			out = append(out, ret)
		}
	}
	return out, nil
}

func (r *memoryRepo) CuttingOrdersCiting(ctx context.Context, lotID string) ([]string, error) {
	return r.cuttingRefs[lotID], nil
}

func (r *memoryRepo) CuttingConsumption(ctx context.Context, lotID string) (float64, float64, error) {
	c := r.consumed[lotID]
	return c.fabricKg, c.ribKg, nil
}

type memoryIDs struct {
	lots int
}

func (m *memoryIDs) NextLotNumber(ctx context.Context) (string, error) {
	m.lots++
	return fmt.Sprintf("lot %03d", m.lots), nil
}

type captureEvents struct {
	events []shared.Event
}

func (c *captureEvents) Publish(evt shared.Event) {
	c.events = append(c.events, evt)
}

func newTestService(repo *memoryRepo) (*Service, *captureEvents) {
	events := &captureEvents{}
	svc := NewService(repo, &memoryIDs{}, nil, events, &shared.LedgerLock{})
	return svc, events
}

func navyLot(t *testing.T, svc *Service) Lot {
	t.Helper()
	lot, err := svc.CreateLot(context.Background(), CreateLotInput{
		EntryDate:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		FabricType:    "Single Jersey",
		Supplier:      "Shree Textiles",
		Color:         "Navy Blue",
		RibQuantity:   15.5,
		RatePerKg:     decimal.NewFromInt(450),
		NumberOfRolls: 3,
		Actor:         "tester",
	})
	require.NoError(t, err)
	return lot
}

func TestCreateLotAndSubmitReadings(t *testing.T) {
	repo := newMemoryRepo()
	svc, events := newTestService(repo)
	ctx := context.Background()

	lot := navyLot(t, svc)
	require.Equal(t, "lot 001", lot.LotNumber)
	require.Equal(t, []string{"lot 001NavyBlue1", "lot 001NavyBlue2", "lot 001NavyBlue3"}, lot.RollNumbers)
	require.Zero(t, lot.Quantity)
	require.True(t, lot.TotalAmount.IsZero())
	require.InDelta(t, 15.5, lot.RemainingRibQuantity, 1e-9)

	lot, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)
	require.Equal(t, []float64{25, 27, 28}, lot.RollWeights)
	require.InDelta(t, 80, lot.Quantity, 1e-9)
	require.InDelta(t, 80, lot.RemainingQuantity, 1e-9)
	require.True(t, lot.TotalAmount.Equal(decimal.NewFromInt(36000)), "got %s", lot.TotalAmount)

	require.Len(t, events.events, 2)
	require.Equal(t, shared.EventStageCreated, events.events[0].Kind)
	require.Equal(t, shared.EventStageUpdated, events.events[1].Kind)
	require.Equal(t, uint64(2), events.events[1].Seq-events.events[0].Seq+1)
}

func TestSubmitReadingsRejectsBadVectors(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)

	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52}, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidReading)

	_, err = svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 20, 80}, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidReading)

	_, err = svc.SubmitScaleReadings(ctx, lot.ID, []float64{-1, 20, 80}, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidReading)

	// Equal consecutive readings are a legal zero-weight roll.
	got, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 25, 80}, "tester")
	require.NoError(t, err)
	require.Equal(t, []float64{25, 0, 55}, got.RollWeights)
}

func TestReadingsRoundTripProperty(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		rolls := 1 + rng.Intn(8)
		lot, err := svc.CreateLot(ctx, CreateLotInput{
			EntryDate: time.Now().UTC(), FabricType: "Rib", Supplier: "S", Color: "Black",
			RatePerKg: decimal.NewFromInt(300), NumberOfRolls: rolls, Actor: "tester",
		})
		require.NoError(t, err)

		readings := make([]float64, rolls)
		cum := 0.0
		for j := range readings {
			cum += float64(rng.Intn(40))
			readings[j] = cum
		}
		got, err := svc.SubmitScaleReadings(ctx, lot.ID, readings, "tester")
		require.NoError(t, err)

		sum := 0.0
		for _, w := range got.RollWeights {
			sum += w
		}
		require.InDelta(t, readings[rolls-1], sum, 1e-9)

		// Resubmitting the same vector reproduces identical weights.
		again, err := svc.SubmitScaleReadings(ctx, lot.ID, readings, "tester")
		require.NoError(t, err)
		require.Equal(t, got.RollWeights, again.RollWeights)
	}
}

func TestResubmitAfterConsumptionRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)

	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)
	_, err = svc.DebitForCutting(ctx, lot.ID, 8, 0)
	require.NoError(t, err)

	_, err = svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestDebitAndCreditForCutting(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)
	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)

	got, err := svc.DebitForCutting(ctx, lot.ID, 8, 2.5)
	require.NoError(t, err)
	require.InDelta(t, 72, got.RemainingQuantity, 1e-9)
	require.InDelta(t, 13, got.RemainingRibQuantity, 1e-9)

	_, err = svc.DebitForCutting(ctx, lot.ID, 80, 0)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err = svc.CreditForCutting(ctx, lot.ID, 8, 2.5)
	require.NoError(t, err)
	require.InDelta(t, 80, got.RemainingQuantity, 1e-9)
	require.InDelta(t, 15.5, got.RemainingRibQuantity, 1e-9)
}

func TestFabricReturnAndReversal(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)
	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)
	_, err = svc.DebitForCutting(ctx, lot.ID, 8, 0)
	require.NoError(t, err)
	// The cutting order row the debit belongs to.
	repo.consumed[lot.ID] = lotConsumption{fabricKg: 8}

	ret, err := svc.CreateReturn(ctx, CreateReturnInput{
		LotID:            lot.ID,
		ReturnedRolls:    []string{"lot 001NavyBlue1"},
		QuantityReturned: 5,
		Reason:           "shade mismatch",
		Actor:            "tester",
	})
	require.NoError(t, err)

	got, err := svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.InDelta(t, 67, got.RemainingQuantity, 1e-9)
	require.Equal(t, []string{"lot 001NavyBlue2", "lot 001NavyBlue3"}, got.RollNumbers)

	require.NoError(t, svc.DeleteReturn(ctx, ret.ID, "tester"))
	got, err = svc.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.InDelta(t, 72, got.RemainingQuantity, 1e-9)
	require.Len(t, got.RollNumbers, 3)
}

func TestFabricReturnGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)
	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)

	_, err = svc.CreateReturn(ctx, CreateReturnInput{
		LotID: lot.ID, ReturnedRolls: []string{"lot 001NavyBlue9"}, QuantityReturned: 5, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.CreateReturn(ctx, CreateReturnInput{
		LotID: lot.ID, ReturnedRolls: []string{"lot 001NavyBlue1"}, QuantityReturned: 500, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
}

func TestReturnRefusesUnbalancedLot(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)
	_, err := svc.SubmitScaleReadings(ctx, lot.ID, []float64{25, 52, 80}, "tester")
	require.NoError(t, err)
	_, err = svc.DebitForCutting(ctx, lot.ID, 8, 0)
	require.NoError(t, err)
	repo.consumed[lot.ID] = lotConsumption{fabricKg: 8}

	// A stored remaining that no longer matches intake minus usage must
	// block further returns instead of compounding the drift.
	broken := repo.lots[lot.ID]
	broken.RemainingQuantity += 3
	repo.lots[lot.ID] = broken

	_, err = svc.CreateReturn(ctx, CreateReturnInput{
		LotID: lot.ID, ReturnedRolls: []string{"lot 001NavyBlue1"}, QuantityReturned: 5, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestDeleteLotRefusesWhenCited(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()
	lot := navyLot(t, svc)

	repo.cuttingRefs[lot.ID] = []string{"cut 004"}
	err := svc.DeleteLot(ctx, lot.ID, "tester")
	require.ErrorIs(t, err, shared.ErrReferentialIntegrity)
	var domainErr *shared.Error
	require.ErrorAs(t, err, &domainErr)
	require.Equal(t, []string{"cutting_order cut 004"}, domainErr.Offenders)

	repo.cuttingRefs[lot.ID] = nil
	require.NoError(t, svc.DeleteLot(ctx, lot.ID, "tester"))
	_, err = svc.GetLot(ctx, lot.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
