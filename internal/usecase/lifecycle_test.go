package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder_ReservesAndClearsCart(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	a := e.cart(t, customer1, 1, 1, 2)
	b := e.cart(t, customer1, 1, 2, 3)

	o := e.checkout(t, customer1, a, b)
	assert.Equal(t, domain.StatusWaitingForPayment, o.Status)
	assert.Equal(t, int64(35000), o.TotalPrice)
	assert.Equal(t, "Jakarta", o.Address.City)
	require.Len(t, o.Lines, 2)
	for _, l := range o.Lines {
		assert.NotEmpty(t, l.ReservationID)
	}
	assert.Equal(t, domain.StockBalance{StoreID: 1, ProductID: 1, OnHand: 10, Held: 2}, e.balance(t, 1, 1))
	assert.Equal(t, int64(7), e.available(t, 1, 2))

	left, err := e.store.Carts.List(ctx, customer1.ID)
	require.NoError(t, err)
	assert.Empty(t, left)

	stored, err := e.lc.Get(ctx, customer1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalPrice, stored.TotalPrice)
	assert.Equal(t, []string{"CREATE"}, e.events.events())
}

func TestCreateOrder_InsufficientStockReleasesEverything(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	a := e.cart(t, customer1, 1, 1, 2)
	b := e.cart(t, customer1, 2, 3, 6)

	_, err := e.lc.CreateOrder(ctx, usecase.CreateOrderInput{
		Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a, b},
	})
	var ise *domain.InsufficientStockError
	require.True(t, errors.As(err, &ise), "got %v", err)
	assert.Equal(t, 1, ise.Line)
	assert.Equal(t, int64(2), ise.StoreID)
	assert.Equal(t, int64(5), ise.Available)

	assert.Equal(t, domain.StockBalance{StoreID: 1, ProductID: 1, OnHand: 10, Held: 0}, e.balance(t, 1, 1))
	ids, err := e.store.Orders.ListByStatusBefore(ctx, domain.StatusWaitingForPayment, e.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	items, err := e.store.Carts.List(ctx, customer1.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2, "cart kept on failure")
	assert.Empty(t, e.events.events())
}

func TestCreateOrder_RejectsBadRequests(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	a := e.cart(t, customer1, 1, 1, 1)
	other := e.cart(t, customer2, 1, 1, 1)

	tests := []struct {
		name string
		in   usecase.CreateOrderInput
		want error
	}{
		{"admin", usecase.CreateOrderInput{Actor: admin1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a}}, domain.ErrForbidden},
		{"payment method", usecase.CreateOrderInput{Actor: customer1, AddressID: 1, PaymentMethod: "CASH", CartItemIDs: []int64{a}}, domain.ErrInvalidInput},
		{"empty selection", usecase.CreateOrderInput{Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer}, domain.ErrInvalidInput},
		{"duplicate item", usecase.CreateOrderInput{Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a, a}}, domain.ErrInvalidInput},
		{"foreign cart item", usecase.CreateOrderInput{Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{other}}, domain.ErrNotFound},
		{"foreign address", usecase.CreateOrderInput{Actor: customer1, AddressID: 2, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a}}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.lc.CreateOrder(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(10), e.available(t, 1, 1))
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	a := e.cart(t, customer1, 1, 1, 3)
	in := usecase.CreateOrderInput{
		Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentGateway,
		CartItemIDs: []int64{a}, IdempotencyKey: "k-1",
	}

	first, err := e.lc.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := e.lc.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, int64(7), e.available(t, 1, 1), "reserved once")

	// the key is per customer
	b := e.cart(t, customer2, 1, 1, 1)
	other, err := e.lc.CreateOrder(ctx, usecase.CreateOrderInput{
		Actor: customer2, AddressID: 2, PaymentMethod: domain.PaymentGateway,
		CartItemIDs: []int64{b}, IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.Order.ID, other.Order.ID)
}

func TestCreateOrder_FailedAttemptFreesTheKey(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	a := e.cart(t, customer1, 2, 3, 7)
	in := usecase.CreateOrderInput{
		Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentGateway,
		CartItemIDs: []int64{a}, IdempotencyKey: "k-2",
	}

	_, err := e.lc.CreateOrder(ctx, in)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = e.ledger.Adjust(ctx, 2, 3, 5, domain.TxIn, "delivery")
	require.NoError(t, err)
	out, err := e.lc.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
}

// slowCart stretches every cart read so concurrent checkouts overlap.
type slowCart struct {
	usecase.CartRepo
	delay time.Duration
}

func (c slowCart) Items(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	time.Sleep(c.delay)
	return c.CartRepo.Items(ctx, customerID, ids)
}

func (c slowCart) Take(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	time.Sleep(c.delay)
	return c.CartRepo.Take(ctx, customerID, ids)
}

func TestCreateOrder_OneCartItemBecomesOneOrder(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	deps := e.deps
	deps.Carts = slowCart{CartRepo: e.store.Carts, delay: 20 * time.Millisecond}
	lc := usecase.NewOrderLifecycle(deps)
	a := e.cart(t, customer1, 1, 1, 2)

	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = lc.CreateOrder(ctx, usecase.CreateOrderInput{
				Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a},
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(2), e.balance(t, 1, 1).Held)

	ids, err := e.store.Orders.ListByStatusBefore(ctx, domain.StatusWaitingForPayment, e.clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	left, err := e.store.Carts.List(ctx, customer1.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// lostReplyStock stores reservations for one pair and then reports failure,
// the way a commit whose acknowledgement never arrived looks to the caller.
type lostReplyStock struct {
	usecase.StockRepo
	storeID, productID int64
}

func (s lostReplyStock) Append(ctx context.Context, e domain.StockEntry) error {
	if err := s.StockRepo.Append(ctx, e); err != nil {
		return err
	}
	if e.Type == domain.TxReserve && e.StoreID == s.storeID && e.ProductID == s.productID {
		return errors.New("connection reset")
	}
	return nil
}

func TestCreateOrder_FailureReleasesUnacknowledgedHolds(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	deps := e.deps
	deps.Ledger = usecase.NewStockLedger(lostReplyStock{StockRepo: e.store.Stock, storeID: 2, productID: 3}, e.clock.Now)
	lc := usecase.NewOrderLifecycle(deps)
	a := e.cart(t, customer1, 1, 1, 2)
	b := e.cart(t, customer1, 2, 3, 1)

	_, err := lc.CreateOrder(ctx, usecase.CreateOrderInput{
		Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer, CartItemIDs: []int64{a, b},
	})
	require.Error(t, err)

	assert.Equal(t, int64(10), e.available(t, 1, 1))
	assert.Equal(t, int64(5), e.available(t, 2, 3), "the unacknowledged hold is released too")
	items, err := e.store.Carts.List(ctx, customer1.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestCreateOrder_VoucherPolicy(t *testing.T) {
	v := domain.Discount{Type: domain.DiscountNominal, Code: "BIG", StoreID: 1, Value: decimal.NewFromInt(5000),
		Unit: domain.NominalAmount, MinPurchase: 100000,
		StartDate: newClock().Now().Add(-time.Hour), EndDate: newClock().Now().Add(time.Hour)}

	t.Run("lenient drops the voucher", func(t *testing.T) {
		e := newEnv(t, usecase.VoucherLenient, v)
		a := e.cart(t, customer1, 1, 1, 1)
		out, err := e.lc.CreateOrder(context.Background(), usecase.CreateOrderInput{
			Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer,
			CartItemIDs: []int64{a}, VoucherCode: "BIG",
		})
		require.NoError(t, err)
		assert.ErrorIs(t, out.VoucherErr, domain.ErrDiscountNotApplicable)
		assert.Empty(t, out.Order.VoucherCode)
		assert.Equal(t, int64(10000), out.Order.TotalPrice)
	})

	t.Run("strict refuses the checkout", func(t *testing.T) {
		e := newEnv(t, usecase.VoucherStrict, v)
		a := e.cart(t, customer1, 1, 1, 1)
		_, err := e.lc.CreateOrder(context.Background(), usecase.CreateOrderInput{
			Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer,
			CartItemIDs: []int64{a}, VoucherCode: "BIG",
		})
		assert.ErrorIs(t, err, domain.ErrDiscountNotApplicable)
		assert.Equal(t, int64(10), e.available(t, 1, 1))
	})

	t.Run("applied voucher lowers the total", func(t *testing.T) {
		e := newEnv(t, usecase.VoucherStrict, v)
		a := e.cart(t, customer1, 1, 1, 10)
		out, err := e.lc.CreateOrder(context.Background(), usecase.CreateOrderInput{
			Actor: customer1, AddressID: 1, PaymentMethod: domain.PaymentManualTransfer,
			CartItemIDs: []int64{a}, VoucherCode: "big",
		})
		require.NoError(t, err)
		assert.NoError(t, out.VoucherErr)
		assert.Equal(t, "big", out.Order.VoucherCode)
		assert.Equal(t, int64(5000), out.Order.VoucherDiscount)
		assert.Equal(t, int64(95000), out.Order.TotalPrice)
	})
}

func TestQuote_DoesNotReserve(t *testing.T) {
	pctOff := domain.Discount{Type: domain.DiscountPercentage, StoreID: 1, Value: decimal.NewFromInt(20),
		StartDate: newClock().Now().Add(-time.Hour), EndDate: newClock().Now().Add(time.Hour)}
	e := newEnv(t, usecase.VoucherLenient, pctOff)
	a := e.cart(t, customer1, 1, 1, 3)

	q, err := e.lc.Quote(context.Background(), customer1, []int64{a}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(24000), q.TotalPrice)
	assert.Equal(t, int64(10), e.available(t, 1, 1))

	_, err = e.lc.Quote(context.Background(), admin1, []int64{a}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLifecycle_HappyPath(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	o := e.paid(t, customer1, e.cart(t, customer1, 1, 1, 4))
	assert.Equal(t, domain.StatusWaitingConfirmation, o.Status)
	assert.NotEmpty(t, o.PaymentProof)

	o, err := e.lc.ApprovePayment(ctx, admin1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, o.Status)
	assert.Equal(t, domain.StockBalance{StoreID: 1, ProductID: 1, OnHand: 6, Held: 0}, e.balance(t, 1, 1))

	o, err = e.lc.Ship(ctx, admin1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusShipped, o.Status)

	o, err = e.lc.ConfirmReceived(ctx, customer1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, o.Status)

	want := []domain.Status{
		domain.StatusWaitingForPayment, domain.StatusWaitingConfirmation,
		domain.StatusProcessed, domain.StatusShipped, domain.StatusConfirmed,
	}
	got := make([]domain.Status, len(o.History))
	for i, h := range o.History {
		got[i] = h.Status
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"CREATE", "UPLOAD_PROOF", "APPROVE", "SHIP", "CONFIRM"}, e.events.events())
	assert.Equal(t, int64(6), e.balance(t, 1, 1).OnHand)
}

func TestLifecycle_CancelReleasesOrRestocks(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()

	unpaid := e.checkout(t, customer1, e.cart(t, customer1, 1, 1, 3))
	_, err := e.lc.Cancel(ctx, customer1, unpaid.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockBalance{StoreID: 1, ProductID: 1, OnHand: 10, Held: 0}, e.balance(t, 1, 1))

	rejected := e.paid(t, customer1, e.cart(t, customer1, 1, 1, 2))
	_, err = e.lc.Cancel(ctx, customer1, rejected.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "customers cannot cancel once a proof is uploaded")
	_, err = e.lc.RejectPayment(ctx, admin1, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.available(t, 1, 1))

	approved := e.paid(t, customer1, e.cart(t, customer1, 1, 1, 5))
	_, err = e.lc.ApprovePayment(ctx, admin1, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.balance(t, 1, 1).OnHand)

	_, err = e.lc.Cancel(ctx, customer1, approved.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	canceled, err := e.lc.Cancel(ctx, admin1, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)
	assert.Equal(t, domain.StockBalance{StoreID: 1, ProductID: 1, OnHand: 10, Held: 0}, e.balance(t, 1, 1))
}

func TestLifecycle_TerminalStatesAreFinal(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	o := e.checkout(t, customer1, e.cart(t, customer1, 1, 2, 1))
	_, err := e.lc.Cancel(ctx, customer1, o.ID)
	require.NoError(t, err)

	_, err = e.lc.Cancel(ctx, customer1, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.lc.ApprovePayment(ctx, admin1, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.lc.Ship(ctx, super, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.lc.Expire(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(10), e.available(t, 1, 2))
}

func TestLifecycle_Authorization(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	o := e.paid(t, customer1, e.cart(t, customer1, 1, 1, 1))

	_, err := e.lc.Get(ctx, customer2, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "other customers' orders are hidden")
	_, err = e.lc.Get(ctx, admin2, o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.lc.Get(ctx, admin1, o.ID)
	assert.NoError(t, err)

	_, err = e.lc.ApprovePayment(ctx, customer1, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.lc.ApprovePayment(ctx, admin2, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.lc.Expire(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.lc.ApprovePayment(ctx, admin1, o.ID)
	require.NoError(t, err)
	_, err = e.lc.Ship(ctx, admin1, o.ID)
	require.NoError(t, err)
	_, err = e.lc.ConfirmReceived(ctx, admin1, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = e.lc.ConfirmReceived(ctx, customer2, o.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestLifecycle_MultiStoreOrder(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	o := e.paid(t, customer1,
		e.cart(t, customer1, 1, 1, 2),
		e.cart(t, customer1, 2, 1, 3),
		e.cart(t, customer1, 2, 3, 1),
	)
	assert.Equal(t, []int64{1, 2}, o.Stores())

	_, err := e.lc.Get(ctx, admin2, o.ID)
	require.NoError(t, err)
	_, err = e.lc.ApprovePayment(ctx, admin2, o.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(8), e.balance(t, 1, 1).OnHand)
	assert.Equal(t, int64(2), e.balance(t, 2, 1).OnHand)
	assert.Equal(t, int64(4), e.balance(t, 2, 3).OnHand)

	_, err = e.lc.Cancel(ctx, super, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.available(t, 1, 1))
	assert.Equal(t, int64(5), e.available(t, 2, 1))
	assert.Equal(t, int64(5), e.available(t, 2, 3))
}

func TestLifecycle_ConcurrentDecisionsApplyOnce(t *testing.T) {
	e := newEnv(t, usecase.VoucherLenient)
	ctx := context.Background()
	o := e.paid(t, customer1, e.cart(t, customer1, 1, 2, 4))

	actors := []domain.Actor{admin1, super, admin1, super, admin1, super}
	errs := make([]error, len(actors))
	var wg sync.WaitGroup
	for i, a := range actors {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = e.lc.ApprovePayment(ctx, a, o.ID)
			} else {
				_, errs[i] = e.lc.RejectPayment(ctx, a, o.ID)
			}
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)

	final, err := e.lc.Get(ctx, super, o.ID)
	require.NoError(t, err)
	b := e.balance(t, 1, 2)
	assert.Equal(t, int64(0), b.Held)
	switch final.Status {
	case domain.StatusProcessed:
		assert.Equal(t, int64(6), b.OnHand)
	case domain.StatusCanceled:
		assert.Equal(t, int64(10), b.OnHand)
	default:
		t.Fatalf("unexpected status %s", final.Status)
	}
}
