package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_TransitionTable(t *testing.T) {
	tests := []struct {
		from   Status
		ev     Event
		to     Status
		effect LedgerEffect
	}{
		{StatusWaitingForPayment, EventUploadProof, StatusWaitingConfirmation, LedgerNone},
		{StatusWaitingConfirmation, EventApprove, StatusProcessed, LedgerFinalize},
		{StatusWaitingConfirmation, EventReject, StatusCanceled, LedgerRelease},
		{StatusWaitingForPayment, EventCustomerCancel, StatusCanceled, LedgerRelease},
		{StatusWaitingForPayment, EventAdminCancel, StatusCanceled, LedgerRelease},
		{StatusProcessed, EventAdminCancel, StatusCanceled, LedgerRelease},
		{StatusWaitingForPayment, EventExpire, StatusCanceled, LedgerRelease},
		{StatusProcessed, EventShip, StatusShipped, LedgerNone},
		{StatusShipped, EventConfirm, StatusConfirmed, LedgerNone},
	}
	for _, tt := range tests {
		t.Run(tt.ev.String()+"_from_"+tt.from.String(), func(t *testing.T) {
			to, effect, err := Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.effect, effect)
		})
	}
}

func TestNext_TerminalStatesAcceptNothing(t *testing.T) {
	for _, s := range []Status{StatusConfirmed, StatusCanceled} {
		require.True(t, s.Terminal())
		for _, ev := range Events() {
			_, _, err := Next(s, ev)
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s from %s", ev, s)
		}
	}
}

func TestNext_Rejected(t *testing.T) {
	_, _, err := Next(StatusWaitingForPayment, EventApprove)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = Next(StatusShipped, EventCustomerCancel)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _, err = Next(StatusWaitingConfirmation, EventCustomerCancel)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStatus_TextRoundTrip(t *testing.T) {
	b, err := StatusWaitingConfirmation.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WAITING_CONFIRMATION", string(b))

	var s Status
	require.NoError(t, s.UnmarshalText(b))
	assert.Equal(t, StatusWaitingConfirmation, s)

	_, err = ParseStatus("UNKNOWN")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFold_TracksHeldAndReservations(t *testing.T) {
	entries := []StockEntry{
		{StoreID: 1, ProductID: 2, Type: TxIn, Delta: 10},
		{StoreID: 1, ProductID: 2, Type: TxReserve, Delta: -3, ReservationID: "r1", OrderID: "o1"},
		{StoreID: 1, ProductID: 2, Type: TxReserve, Delta: -2, ReservationID: "r2", OrderID: "o2"},
		{StoreID: 1, ProductID: 2, Type: TxOut, Delta: -3, ReservationID: "r1"},
		{StoreID: 1, ProductID: 2, Type: TxRelease, Delta: 2, ReservationID: "r2"},
	}
	b, res := Fold(entries)
	assert.Equal(t, int64(7), b.OnHand)
	assert.Equal(t, int64(0), b.Held)
	assert.Equal(t, int64(7), b.Available())
	assert.Equal(t, ReservationFinalized, res["r1"].State)
	assert.Equal(t, ReservationReleased, res["r2"].State)

	b2, res2 := Fold(append(entries, StockEntry{StoreID: 1, ProductID: 2, Type: TxIn, Delta: 3, ReservationID: "r1"}))
	assert.Equal(t, int64(10), b2.OnHand)
	assert.Equal(t, ReservationRestocked, res2["r1"].State)
}

func TestSettlement(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	open := Reservation{ID: "r", StoreID: 1, ProductID: 2, Quantity: 4, OrderID: "o", State: ReservationOpen}

	e, err := Settlement(open, ReservationFinalized, "", at)
	require.NoError(t, err)
	assert.Equal(t, TxOut, e.Type)
	assert.Equal(t, int64(-4), e.Delta)
	assert.Equal(t, "o", e.OrderID)

	e, err = Settlement(open, ReservationReleased, "", at)
	require.NoError(t, err)
	assert.Equal(t, TxRelease, e.Type)
	assert.Equal(t, int64(4), e.Delta)

	fin := open
	fin.State = ReservationFinalized
	e, err = Settlement(fin, ReservationFinalized, "", at)
	require.NoError(t, err)
	assert.Nil(t, e, "repeated settlement is a no-op")

	e, err = Settlement(fin, ReservationRestocked, "", at)
	require.NoError(t, err)
	assert.Equal(t, TxIn, e.Type)

	_, err = Settlement(fin, ReservationReleased, "", at)
	assert.ErrorIs(t, err, ErrReservationSettled)

	rel := open
	rel.State = ReservationReleased
	_, err = Settlement(rel, ReservationFinalized, "", at)
	assert.ErrorIs(t, err, ErrReservationSettled)
}

func TestOrderValidate(t *testing.T) {
	line := OrderLine{ProductID: 1, StoreID: 1, Quantity: 3, BasePrice: 1000,
		EffectiveUnitPrice: decimal.RequireFromString("666.6666666667"), LineTotal: 2000}
	o := &Order{Lines: []OrderLine{line}, TotalPrice: 2000}
	require.NoError(t, o.Validate())

	o.TotalPrice = 1999
	assert.ErrorIs(t, o.Validate(), ErrInvalidInput)

	bad := line
	bad.Quantity = 0
	assert.ErrorIs(t, (&Order{Lines: []OrderLine{bad}}).Validate(), ErrInvalidInput)
	assert.ErrorIs(t, (&Order{}).Validate(), ErrInvalidInput)
}

func TestOrderValidate_UnitPriceAtStoredScale(t *testing.T) {
	const qty, total = 7_000_001, int64(10_000_000_000)
	unit := decimal.NewFromInt(total).Div(decimal.NewFromInt(qty))
	line := OrderLine{ProductID: 1, StoreID: 1, Quantity: qty, BasePrice: 1429, LineTotal: total}

	line.EffectiveUnitPrice = unit.Round(UnitPriceScale)
	require.NoError(t, (&Order{Lines: []OrderLine{line}, TotalPrice: total}).Validate())

	// six places drift by whole units at this quantity
	line.EffectiveUnitPrice = unit.Round(6)
	assert.ErrorIs(t, (&Order{Lines: []OrderLine{line}, TotalPrice: total}).Validate(), ErrInvalidInput)
}

func TestOrderStores(t *testing.T) {
	o := &Order{Lines: []OrderLine{{StoreID: 2}, {StoreID: 1}, {StoreID: 2}}}
	assert.Equal(t, []int64{2, 1}, o.Stores())
	assert.True(t, o.HasStore(1))
	assert.False(t, o.HasStore(3))
}

func TestDiscountValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	ok := Discount{Type: DiscountPercentage, StoreID: 1, Value: decimal.NewFromInt(15), StartDate: start, EndDate: end}
	require.NoError(t, ok.Validate())

	tooMuch := ok
	tooMuch.Value = decimal.NewFromInt(101)
	assert.ErrorIs(t, tooMuch.Validate(), ErrInvalidInput)

	noCode := Discount{Type: DiscountNominal, StoreID: 1, Unit: NominalAmount, StartDate: start, EndDate: end}
	assert.ErrorIs(t, noCode.Validate(), ErrInvalidInput)

	backwards := ok
	backwards.EndDate = start.Add(-time.Hour)
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidInput)

	assert.True(t, ok.ActiveAt(start))
	assert.True(t, ok.ActiveAt(end))
	assert.False(t, ok.ActiveAt(end.Add(time.Nanosecond)))
}

func TestInsufficientStockError(t *testing.T) {
	var err error = &InsufficientStockError{StoreID: 1, ProductID: 2, Requested: 5, Available: 3, Line: -1}
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, int64(3), ise.Available)
}

func TestActorManagesStore(t *testing.T) {
	assert.True(t, Actor{Role: RoleSuperAdmin}.ManagesStore(7))
	assert.True(t, System.ManagesStore(7))
	assert.True(t, Actor{Role: RoleStoreAdmin, StoreID: 7}.ManagesStore(7))
	assert.False(t, Actor{Role: RoleStoreAdmin, StoreID: 8}.ManagesStore(7))
	assert.False(t, Actor{Role: RoleCustomer, ID: 1}.ManagesStore(7))
}
