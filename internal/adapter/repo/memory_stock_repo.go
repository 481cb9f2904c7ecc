package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/google/uuid"
)

type pairKey struct{ store, product int64 }

// pairLedger is the entry log of one (store, product) pair plus its folded
// balance. mu serializes every access to the pair; a unit of work keeps it
// until the unit ends.
type pairLedger struct {
	mu      sync.Mutex
	entries []domain.StockEntry
	bal     domain.StockBalance
	res     map[string]*domain.Reservation
}

func (p *pairLedger) apply(e domain.StockEntry) {
	p.entries = append(p.entries, e)
	domain.ApplyEntry(&p.bal, p.res, e)
}

func (p *pairLedger) remove(entryID string) {
	kept := p.entries[:0]
	for _, e := range p.entries {
		if e.ID != entryID {
			kept = append(kept, e)
		}
	}
	bal, res := domain.Fold(kept)
	bal.StoreID, bal.ProductID = p.bal.StoreID, p.bal.ProductID
	p.entries, p.bal, p.res = kept, bal, res
}

// MemoryStockRepo keeps the ledger in process. Pairs lock independently.
// Units of work that touch several pairs must do so in ascending
// (store, product) order.
type MemoryStockRepo struct {
	mu      sync.Mutex
	pairs   map[pairKey]*pairLedger
	byRes   map[string]pairKey
	byOrder map[string][]string
}

func NewMemoryStockRepo() *MemoryStockRepo {
	return &MemoryStockRepo{
		pairs:   make(map[pairKey]*pairLedger),
		byRes:   make(map[string]pairKey),
		byOrder: make(map[string][]string),
	}
}

func (r *MemoryStockRepo) pair(storeID, productID int64) *pairLedger {
	k := pairKey{storeID, productID}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pairs[k]
	if !ok {
		p = &pairLedger{
			bal: domain.StockBalance{StoreID: storeID, ProductID: productID},
			res: make(map[string]*domain.Reservation),
		}
		r.pairs[k] = p
	}
	return p
}

func (r *MemoryStockRepo) Append(ctx context.Context, e domain.StockEntry) error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: entry type %q", domain.ErrInvalidInput, e.Type)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	p := r.pair(e.StoreID, e.ProductID)
	defer lockFor(ctx, &p.mu)()

	if e.Type == domain.TxReserve || e.Type == domain.TxOut {
		if avail := p.bal.Available(); avail+e.Delta < 0 {
			return &domain.InsufficientStockError{
				StoreID:   e.StoreID,
				ProductID: e.ProductID,
				Requested: int(-e.Delta),
				Available: avail,
				Line:      -1,
			}
		}
	}
	p.apply(e)
	if e.Type == domain.TxReserve {
		r.mu.Lock()
		r.byRes[e.ReservationID] = pairKey{e.StoreID, e.ProductID}
		if e.OrderID != "" {
			r.byOrder[e.OrderID] = append(r.byOrder[e.OrderID], e.ReservationID)
		}
		r.mu.Unlock()
	}
	onRollback(ctx, r.undo(p, e.ID))
	return nil
}

// undo runs during rollback, while the unit still holds p.mu.
func (r *MemoryStockRepo) undo(p *pairLedger, entryID string) func() {
	return func() { p.remove(entryID) }
}

func (r *MemoryStockRepo) Settle(ctx context.Context, reservationID string, kind domain.ReservationState, at time.Time) (bool, error) {
	r.mu.Lock()
	k, ok := r.byRes[reservationID]
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}
	p := r.pair(k.store, k.product)
	defer lockFor(ctx, &p.mu)()

	res, ok := p.res[reservationID]
	if !ok {
		return false, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}
	e, err := domain.Settlement(*res, kind, "", at)
	if err != nil || e == nil {
		return false, err
	}
	e.ID = uuid.NewString()
	p.apply(*e)
	onRollback(ctx, r.undo(p, e.ID))
	return true, nil
}

func (r *MemoryStockRepo) Balance(ctx context.Context, storeID, productID int64) (domain.StockBalance, error) {
	p := r.pair(storeID, productID)
	defer lockFor(ctx, &p.mu)()
	return p.bal, nil
}

func (r *MemoryStockRepo) Entries(ctx context.Context, storeID, productID int64) ([]domain.StockEntry, error) {
	p := r.pair(storeID, productID)
	defer lockFor(ctx, &p.mu)()
	out := make([]domain.StockEntry, len(p.entries))
	copy(out, p.entries)
	return out, nil
}

func (r *MemoryStockRepo) Reservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	r.mu.Lock()
	k, ok := r.byRes[reservationID]
	r.mu.Unlock()
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}
	p := r.pair(k.store, k.product)
	defer lockFor(ctx, &p.mu)()
	res, ok := p.res[reservationID]
	if !ok {
		return domain.Reservation{}, fmt.Errorf("%w: reservation %s", domain.ErrNotFound, reservationID)
	}
	return *res, nil
}

func (r *MemoryStockRepo) ReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	r.mu.Lock()
	ids := append([]string(nil), r.byOrder[orderID]...)
	r.mu.Unlock()
	out := make([]domain.Reservation, 0, len(ids))
	for _, id := range ids {
		res, err := r.Reservation(ctx, id)
		if err != nil {
			// rolled back
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

var _ usecase.StockRepo = (*MemoryStockRepo)(nil)
