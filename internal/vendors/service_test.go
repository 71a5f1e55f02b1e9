package vendors

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tricot-erp/tricot-erp/internal/ironing"
	"github.com/tricot-erp/tricot-erp/internal/outsourcing"
	"github.com/tricot-erp/tricot-erp/internal/shared"
)

// billBook backs both the repository and the stage payment ports, so a
// settlement is visible on the next read like the real tables are.
type billBook struct {
	bills    []Bill
	payments []Payment
}

func (b *billBook) BillsForUnit(ctx context.Context, unitName string) ([]Bill, error) {
	var out []Bill
	for _, bill := range b.bills {
		if bill.UnitName == unitName {
			out = append(out, bill)
		}
	}
	return out, nil
}

func (b *billBook) InsertPayment(ctx context.Context, payment Payment) error {
	b.payments = append(b.payments, payment)
	return nil
}

func (b *billBook) ListPayments(ctx context.Context, unitName string) ([]Payment, error) {
	var out []Payment
	for _, p := range b.payments {
		if p.UnitName == unitName {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *billBook) apply(family BillFamily, id string, amount decimal.Decimal) error {
	for i, bill := range b.bills {
		if bill.Family != family || bill.BillID != id {
			continue
		}
		bill.AmountPaid = bill.AmountPaid.Add(amount)
		bill.Balance = bill.TotalAmount.Sub(bill.AmountPaid)
		switch {
		case bill.AmountPaid.Sign() <= 0:
			bill.PaymentStatus = "Unpaid"
		case bill.AmountPaid.GreaterThanOrEqual(bill.TotalAmount):
			bill.PaymentStatus = "Paid"
		default:
			bill.PaymentStatus = "Partial"
		}
		b.bills[i] = bill
		return nil
	}
	return shared.NotFound("bill", id)
}

type fakeOutsourcing struct{ book *billBook }

func (f *fakeOutsourcing) ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (outsourcing.Order, error) {
	return outsourcing.Order{}, f.book.apply(FamilyOutsourcing, id, amount)
}

type fakeIronings struct{ book *billBook }

func (f *fakeIronings) ApplyPayment(ctx context.Context, id string, amount decimal.Decimal) (ironing.Order, error) {
	return ironing.Order{}, f.book.apply(FamilyIroning, id, amount)
}

func bill(family BillFamily, id string, total int64, age int) Bill {
	amount := decimal.NewFromInt(total)
	return Bill{
		Family: family, BillID: id, DCNumber: "DC-" + id, UnitName: "Krishna Stitching",
		TotalAmount: amount, AmountPaid: decimal.Zero, Balance: amount,
		PaymentStatus: "Unpaid",
		CreatedAt:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, age),
	}
}

func seedBook() *billBook {
	return &billBook{bills: []Bill{
		bill(FamilyOutsourcing, "bill-1", 100, 0),
		bill(FamilyIroning, "bill-2", 50, 1),
		bill(FamilyOutsourcing, "bill-3", 80, 2),
	}}
}

func newTestService(t *testing.T, book *billBook, allowOverpayment, withCache bool) *Service {
	t.Helper()
	var client *redis.Client
	if withCache {
		mr := miniredis.RunT(t)
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	return NewService(book, &fakeOutsourcing{book: book}, &fakeIronings{book: book},
		nil, nil, client, time.Minute, allowOverpayment, &shared.LedgerLock{})
}

func TestPendingBillsSumsPerFamily(t *testing.T) {
	book := seedBook()
	book.bills[2].AmountPaid = decimal.NewFromInt(80)
	book.bills[2].Balance = decimal.Zero
	book.bills[2].PaymentStatus = "Paid"
	svc := newTestService(t, book, false, false)

	pending, err := svc.PendingBills(context.Background(), "Krishna Stitching")
	require.NoError(t, err)
	require.True(t, pending.OutsourcingPending.Equal(decimal.NewFromInt(100)))
	require.True(t, pending.IroningPending.Equal(decimal.NewFromInt(50)))
	require.True(t, pending.TotalPending.Equal(decimal.NewFromInt(150)))
	require.Len(t, pending.Bills, 2)
}

func TestApplyPaymentWalksOldestFirst(t *testing.T) {
	book := seedBook()
	svc := newTestService(t, book, false, false)

	payment, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(120),
		Method: "bank", Actor: "tester",
	})
	require.NoError(t, err)
	require.Len(t, payment.Applied, 2)
	require.Equal(t, "bill-1", payment.Applied[0].BillID)
	require.True(t, payment.Applied[0].Amount.Equal(decimal.NewFromInt(100)))
	require.Equal(t, "bill-2", payment.Applied[1].BillID)
	require.True(t, payment.Applied[1].Amount.Equal(decimal.NewFromInt(20)))

	require.Equal(t, "Paid", book.bills[0].PaymentStatus)
	require.Equal(t, "Partial", book.bills[1].PaymentStatus)
	require.Equal(t, "Unpaid", book.bills[2].PaymentStatus)
	require.True(t, book.bills[1].Balance.Equal(decimal.NewFromInt(30)))
}

func TestApplyPaymentOverpayment(t *testing.T) {
	book := seedBook()
	svc := newTestService(t, book, false, false)
	ctx := context.Background()

	_, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(300), Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	book = seedBook()
	svc = newTestService(t, book, true, false)
	payment, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(300), Actor: "tester",
	})
	require.NoError(t, err)
	require.Len(t, payment.Applied, 3)
	// The trailing credit lands on the last bill.
	require.True(t, book.bills[2].Balance.Equal(decimal.NewFromInt(-70)))
	require.Equal(t, "Paid", book.bills[2].PaymentStatus)
}

func TestApplyPaymentGuards(t *testing.T) {
	book := &billBook{}
	svc := newTestService(t, book, false, false)
	ctx := context.Background()

	_, err := svc.ApplyPayment(ctx, ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(10), Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.Zero, Actor: "tester",
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestPendingBillsCacheInvalidation(t *testing.T) {
	book := seedBook()
	svc := newTestService(t, book, false, true)
	ctx := context.Background()

	pending, err := svc.PendingBills(ctx, "Krishna Stitching")
	require.NoError(t, err)
	require.True(t, pending.TotalPending.Equal(decimal.NewFromInt(230)))

	// Cached answer survives a mutation done behind the service's back.
	book.bills[0].Balance = decimal.Zero
	pending, err = svc.PendingBills(ctx, "Krishna Stitching")
	require.NoError(t, err)
	require.True(t, pending.TotalPending.Equal(decimal.NewFromInt(230)))

	book.bills[0].Balance = decimal.NewFromInt(100)
	_, err = svc.ApplyPayment(ctx, ApplyPaymentInput{
		UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(100), Actor: "tester",
	})
	require.NoError(t, err)

	pending, err = svc.PendingBills(ctx, "Krishna Stitching")
	require.NoError(t, err)
	require.True(t, pending.TotalPending.Equal(decimal.NewFromInt(130)))
}

func TestFIFOPaidCountProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for iter := 0; iter < 100; iter++ {
		book := seedBook()
		svc := newTestService(t, book, false, false)

		amount := int64(rng.Intn(230) + 1)
		_, err := svc.ApplyPayment(context.Background(), ApplyPaymentInput{
			UnitName: "Krishna Stitching", Amount: decimal.NewFromInt(amount), Actor: "tester",
		})
		require.NoError(t, err)

		// Bills whose cumulative total fits inside the amount end Paid.
		wantPaid := 0
		cumulative := int64(0)
		for _, total := range []int64{100, 50, 80} {
			cumulative += total
			if cumulative <= amount {
				wantPaid++
			}
		}
		gotPaid := 0
		remaining := decimal.Zero
		for _, bill := range book.bills {
			if bill.PaymentStatus == "Paid" {
				gotPaid++
			}
			remaining = remaining.Add(bill.Balance)
		}
		require.Equal(t, wantPaid, gotPaid, "amount %d", amount)
		require.True(t, remaining.Equal(decimal.NewFromInt(230-amount)), "amount %d", amount)
	}
}
