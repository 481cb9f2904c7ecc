package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

type MemoryCartRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]domain.CartItem
}

func NewMemoryCartRepo() *MemoryCartRepo {
	return &MemoryCartRepo{items: make(map[int64]domain.CartItem)}
}

func (r *MemoryCartRepo) Items(_ context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CartItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.items[id]; ok && it.CustomerID == customerID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *MemoryCartRepo) List(_ context.Context, customerID int64) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CartItem, 0)
	for _, it := range r.items {
		if it.CustomerID == customerID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Add merges into an existing line for the same store and product.
func (r *MemoryCartRepo) Add(_ context.Context, it *domain.CartItem) error {
	if it.Quantity < 1 {
		return fmt.Errorf("%w: cart quantity must be >= 1", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(it)
	return nil
}

func (r *MemoryCartRepo) add(it *domain.CartItem) {
	for id, cur := range r.items {
		if cur.CustomerID == it.CustomerID && cur.StoreID == it.StoreID && cur.ProductID == it.ProductID {
			cur.Quantity += it.Quantity
			r.items[id] = cur
			*it = cur
			return
		}
	}
	if it.ID == 0 {
		r.nextID++
		it.ID = r.nextID
	} else if it.ID > r.nextID {
		r.nextID = it.ID
	}
	if it.AddedAt.IsZero() {
		it.AddedAt = time.Now()
	}
	r.items[it.ID] = *it
}

// Take removes the customer's items in one step. Nothing is removed unless
// every id is present and owned by the customer.
func (r *MemoryCartRepo) Take(_ context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CartItem, 0, len(ids))
	for _, id := range ids {
		it, ok := r.items[id]
		if !ok || it.CustomerID != customerID {
			return nil, fmt.Errorf("%w: cart item %d", domain.ErrNotFound, id)
		}
		out = append(out, it)
	}
	for _, id := range ids {
		delete(r.items, id)
	}
	return out, nil
}

// Restore puts taken items back under their old ids, merging into any line
// added for the same store and product since.
func (r *MemoryCartRepo) Restore(_ context.Context, items []domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.add(&it)
	}
	return nil
}

type MemoryProductRepo struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

func NewMemoryProductRepo(products ...domain.Product) *MemoryProductRepo {
	r := &MemoryProductRepo{products: make(map[int64]domain.Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *MemoryProductRepo) Get(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	return &p, nil
}

func (r *MemoryProductRepo) Put(p domain.Product) {
	r.mu.Lock()
	r.products[p.ID] = p
	r.mu.Unlock()
}

type MemoryAddressRepo struct {
	mu        sync.RWMutex
	addresses map[int64]domain.Address
}

func NewMemoryAddressRepo(addrs ...domain.Address) *MemoryAddressRepo {
	r := &MemoryAddressRepo{addresses: make(map[int64]domain.Address, len(addrs))}
	for _, a := range addrs {
		r.addresses[a.ID] = a
	}
	return r
}

// Get only returns addresses from the customer's own address book.
func (r *MemoryAddressRepo) Get(_ context.Context, customerID, addressID int64) (*domain.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.addresses[addressID]
	if !ok || a.CustomerID != customerID {
		return nil, fmt.Errorf("%w: address %d", domain.ErrNotFound, addressID)
	}
	return &a, nil
}

func (r *MemoryAddressRepo) Put(a domain.Address) {
	r.mu.Lock()
	r.addresses[a.ID] = a
	r.mu.Unlock()
}

type MemoryDiscountRepo struct {
	mu        sync.RWMutex
	nextID    int64
	discounts []domain.Discount
}

func NewMemoryDiscountRepo() *MemoryDiscountRepo { return &MemoryDiscountRepo{} }

func (r *MemoryDiscountRepo) ListActive(_ context.Context, storeID int64, at time.Time) ([]domain.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Discount, 0)
	for _, d := range r.discounts {
		if d.StoreID == storeID && d.ActiveAt(at) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *MemoryDiscountRepo) FindByCode(_ context.Context, code string) (*domain.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.discounts {
		if d.Code != "" && strings.EqualFold(d.Code, code) {
			d := d
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: voucher %q", domain.ErrNotFound, code)
}

func (r *MemoryDiscountRepo) Create(_ context.Context, d *domain.Discount) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Code != "" {
		for _, cur := range r.discounts {
			if strings.EqualFold(cur.Code, d.Code) {
				return fmt.Errorf("%w: voucher code %q already used", domain.ErrInvalidInput, d.Code)
			}
		}
	}
	if d.ID == 0 {
		r.nextID++
		d.ID = r.nextID
	} else if d.ID > r.nextID {
		r.nextID = d.ID
	}
	r.discounts = append(r.discounts, *d)
	return nil
}

func (r *MemoryDiscountRepo) ListByStore(_ context.Context, storeID int64) ([]domain.Discount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Discount, 0)
	for _, d := range r.discounts {
		if d.StoreID == storeID {
			out = append(out, d)
		}
	}
	return out, nil
}

var (
	_ usecase.CartRepo     = (*MemoryCartRepo)(nil)
	_ usecase.ProductRepo  = (*MemoryProductRepo)(nil)
	_ usecase.AddressRepo  = (*MemoryAddressRepo)(nil)
	_ usecase.DiscountRepo = (*MemoryDiscountRepo)(nil)
)
