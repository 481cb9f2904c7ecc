package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

type MemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[string]*domain.Order)}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Lines = append([]domain.OrderLine(nil), o.Lines...)
	c.History = append([]domain.StatusChange(nil), o.History...)
	return &c
}

func (r *MemoryOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("%w: order %s already exists", domain.ErrInvalidInput, o.ID)
	}
	r.orders[o.ID] = cloneOrder(o)
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.orders, o.ID)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (r *MemoryOrderRepo) UpdateStatusIf(ctx context.Context, id string, fromStatus, toStatus domain.Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != fromStatus {
		// nothing matched (either not found or status mismatch)
		return false, nil
	}
	prevHistory := len(o.History)
	o.Status = toStatus
	o.History = append(o.History, domain.StatusChange{Status: toStatus, At: at})
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if o.Status == toStatus {
			o.Status = fromStatus
			o.History = o.History[:prevHistory]
		}
	})
	return true, nil
}

func (r *MemoryOrderRepo) SetPaymentProof(ctx context.Context, id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	prev := o.PaymentProof
	o.PaymentProof = ref
	onRollback(ctx, func() {
		r.mu.Lock()
		o.PaymentProof = prev
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryOrderRepo) ListByStatusBefore(_ context.Context, status domain.Status, before time.Time, limit int) ([]string, error) {
	r.mu.RLock()
	matched := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if o.Status == status && o.CreatedAt.Before(before) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	ids := make([]string, 0, len(matched))
	for _, o := range matched {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	r.mu.RUnlock()
	return ids, nil
}

var _ usecase.OrderRepo = (*MemoryOrderRepo)(nil)
