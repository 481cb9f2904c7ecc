package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/google/uuid"
)

// StockLedger is the only writer of stock entries. Quantities are derived
// from the entries on every read.
type StockLedger struct {
	repo StockRepo
	now  Clock
}

func NewStockLedger(repo StockRepo, now Clock) *StockLedger {
	if now == nil {
		now = time.Now
	}
	return &StockLedger{repo: repo, now: now}
}

func (l *StockLedger) AvailableQuantity(ctx context.Context, storeID, productID int64) (int64, error) {
	b, err := l.repo.Balance(ctx, storeID, productID)
	if err != nil {
		return 0, err
	}
	return b.Available(), nil
}

func (l *StockLedger) Balance(ctx context.Context, storeID, productID int64) (domain.StockBalance, error) {
	return l.repo.Balance(ctx, storeID, productID)
}

func (l *StockLedger) Entries(ctx context.Context, storeID, productID int64) ([]domain.StockEntry, error) {
	return l.repo.Entries(ctx, storeID, productID)
}

// Reserve holds qty units of (storeID, productID) for orderRef.
func (l *StockLedger) Reserve(ctx context.Context, storeID, productID int64, qty int, orderRef string) (domain.Reservation, error) {
	if qty < 1 {
		return domain.Reservation{}, fmt.Errorf("%w: reserve quantity must be >= 1, got %d", domain.ErrInvalidInput, qty)
	}
	e := domain.StockEntry{
		ID:            uuid.NewString(),
		StoreID:       storeID,
		ProductID:     productID,
		Delta:         domain.SignedDelta(domain.TxReserve, int64(qty)),
		Type:          domain.TxReserve,
		ReservationID: uuid.NewString(),
		OrderID:       orderRef,
		At:            l.now(),
	}
	if err := l.repo.Append(ctx, e); err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrInsufficientStock) {
			outcome = "insufficient"
		}
		stockReservations.WithLabelValues(outcome).Inc()
		return domain.Reservation{}, err
	}
	stockReservations.WithLabelValues("ok").Inc()
	return domain.Reservation{
		ID:        e.ReservationID,
		StoreID:   storeID,
		ProductID: productID,
		Quantity:  int64(qty),
		OrderID:   orderRef,
		State:     domain.ReservationOpen,
	}, nil
}

// OrderReservations lists every reservation written for orderRef, in
// whatever state it is now.
func (l *StockLedger) OrderReservations(ctx context.Context, orderRef string) ([]domain.Reservation, error) {
	return l.repo.ReservationsByOrder(ctx, orderRef)
}

// Finalize turns the hold into a permanent OUT. Repeating it is a no-op.
func (l *StockLedger) Finalize(ctx context.Context, reservationID string) error {
	return l.settle(ctx, reservationID, domain.ReservationFinalized)
}

// Release returns held units to availability. Repeating it is a no-op.
func (l *StockLedger) Release(ctx context.Context, reservationID string) error {
	return l.settle(ctx, reservationID, domain.ReservationReleased)
}

// Restock puts the units of a finalized reservation back on hand, used when
// an approved order is canceled before shipping. Repeating it is a no-op.
func (l *StockLedger) Restock(ctx context.Context, reservationID string) error {
	return l.settle(ctx, reservationID, domain.ReservationRestocked)
}

// Unwind undoes whatever a reservation currently holds: an open hold is
// released, a finalized one is restocked.
func (l *StockLedger) Unwind(ctx context.Context, reservationID string) error {
	r, err := l.repo.Reservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.State == domain.ReservationFinalized || r.State == domain.ReservationRestocked {
		return l.Restock(ctx, reservationID)
	}
	return l.Release(ctx, reservationID)
}

func (l *StockLedger) settle(ctx context.Context, reservationID string, kind domain.ReservationState) error {
	applied, err := l.repo.Settle(ctx, reservationID, kind, l.now())
	if err != nil {
		return fmt.Errorf("settle %s as %s: %w", reservationID, kind, err)
	}
	stockSettlements.WithLabelValues(string(kind), strconv.FormatBool(applied)).Inc()
	return nil
}

// Adjust records a manual stock-in or stock-out. OUT is refused when it
// would take availability below zero.
func (l *StockLedger) Adjust(ctx context.Context, storeID, productID, qty int64, typ domain.TxType, reason string) (domain.StockEntry, error) {
	if qty <= 0 {
		return domain.StockEntry{}, fmt.Errorf("%w: adjust quantity must be > 0, got %d", domain.ErrInvalidInput, qty)
	}
	if typ != domain.TxIn && typ != domain.TxOut {
		return domain.StockEntry{}, fmt.Errorf("%w: adjust type must be IN or OUT, got %q", domain.ErrInvalidInput, typ)
	}
	if storeID <= 0 || productID <= 0 {
		return domain.StockEntry{}, fmt.Errorf("%w: store and product are required", domain.ErrInvalidInput)
	}
	e := domain.StockEntry{
		ID:        uuid.NewString(),
		StoreID:   storeID,
		ProductID: productID,
		Delta:     domain.SignedDelta(typ, qty),
		Type:      typ,
		Reason:    reason,
		At:        l.now(),
	}
	if err := l.repo.Append(ctx, e); err != nil {
		return domain.StockEntry{}, err
	}
	logging.FromCtx(ctx).Info("stock adjusted",
		"store_id", storeID, "product_id", productID, "type", typ, "qty", qty, "reason", reason)
	return e, nil
}
