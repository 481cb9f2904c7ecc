package domain

import (
	"fmt"
	"time"
)

type TxType string

const (
	TxIn      TxType = "IN"
	TxOut     TxType = "OUT"
	TxReserve TxType = "RESERVE"
	TxRelease TxType = "RELEASE"
)

func (t TxType) Valid() bool {
	switch t {
	case TxIn, TxOut, TxReserve, TxRelease:
		return true
	}
	return false
}

// StockEntry is one immutable movement in the ledger of a (store, product)
// pair. Delta is signed: IN and RELEASE add, OUT and RESERVE subtract.
type StockEntry struct {
	ID            string    `json:"id"`
	StoreID       int64     `json:"storeId"`
	ProductID     int64     `json:"productId"`
	Delta         int64     `json:"delta"`
	Type          TxType    `json:"type"`
	ReservationID string    `json:"reservationId,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// SignedDelta returns the delta an entry of type t carries for quantity qty.
func SignedDelta(t TxType, qty int64) int64 {
	if t == TxOut || t == TxReserve {
		return -qty
	}
	return qty
}

type ReservationState string

const (
	ReservationOpen      ReservationState = "OPEN"
	ReservationFinalized ReservationState = "FINALIZED"
	ReservationReleased  ReservationState = "RELEASED"
	ReservationRestocked ReservationState = "RESTOCKED"
)

// Reservation is the handle returned by a successful reserve. Its state is
// derived from the entries that reference it.
type Reservation struct {
	ID        string           `json:"id"`
	StoreID   int64            `json:"storeId"`
	ProductID int64            `json:"productId"`
	Quantity  int64            `json:"quantity"`
	OrderID   string           `json:"orderId,omitempty"`
	State     ReservationState `json:"state"`
}

type StockBalance struct {
	StoreID   int64 `json:"storeId"`
	ProductID int64 `json:"productId"`
	OnHand    int64 `json:"onHand"`
	Held      int64 `json:"held"`
}

func (b StockBalance) Available() int64 { return b.OnHand - b.Held }

// Fold derives the balance and reservation states of one pair from its
// entries. Entries must all belong to the same pair.
func Fold(entries []StockEntry) (StockBalance, map[string]*Reservation) {
	var b StockBalance
	res := make(map[string]*Reservation)
	for _, e := range entries {
		b.StoreID, b.ProductID = e.StoreID, e.ProductID
		ApplyEntry(&b, res, e)
	}
	return b, res
}

// ApplyEntry folds a single entry into a running balance.
func ApplyEntry(b *StockBalance, res map[string]*Reservation, e StockEntry) {
	switch e.Type {
	case TxIn:
		b.OnHand += e.Delta
		if r, ok := res[e.ReservationID]; ok && e.ReservationID != "" {
			r.State = ReservationRestocked
		}
	case TxOut:
		b.OnHand += e.Delta
		if r, ok := res[e.ReservationID]; ok && e.ReservationID != "" && r.State == ReservationOpen {
			r.State = ReservationFinalized
			b.Held -= r.Quantity
		}
	case TxReserve:
		qty := -e.Delta
		b.Held += qty
		res[e.ReservationID] = &Reservation{
			ID:        e.ReservationID,
			StoreID:   e.StoreID,
			ProductID: e.ProductID,
			Quantity:  qty,
			OrderID:   e.OrderID,
			State:     ReservationOpen,
		}
	case TxRelease:
		if r, ok := res[e.ReservationID]; ok && r.State == ReservationOpen {
			r.State = ReservationReleased
			b.Held -= r.Quantity
		}
	}
}

// Settlement describes the entry to append when closing a reservation in a
// given way, or reports that nothing needs to happen.
//
// kind is the target state: FINALIZED, RELEASED or RESTOCKED. A repeated
// request for the state the reservation is already in returns (nil, nil).
func Settlement(r Reservation, kind ReservationState, orderID string, at time.Time) (*StockEntry, error) {
	if r.State == kind {
		return nil, nil
	}
	var typ TxType
	switch {
	case kind == ReservationFinalized && r.State == ReservationOpen:
		typ = TxOut
	case kind == ReservationReleased && r.State == ReservationOpen:
		typ = TxRelease
	case kind == ReservationRestocked && r.State == ReservationFinalized:
		typ = TxIn
	case kind == ReservationReleased && r.State == ReservationRestocked:
		// restocking already returned the units
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: reservation %s is %s, cannot become %s", ErrReservationSettled, r.ID, r.State, kind)
	}
	if orderID == "" {
		orderID = r.OrderID
	}
	return &StockEntry{
		StoreID:       r.StoreID,
		ProductID:     r.ProductID,
		Delta:         SignedDelta(typ, r.Quantity),
		Type:          typ,
		ReservationID: r.ID,
		OrderID:       orderID,
		Reason:        string(kind),
		At:            at,
	}, nil
}
