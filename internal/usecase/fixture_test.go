package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/cache"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/repo"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/stretchr/testify/require"
)

var (
	customer1 = domain.Actor{ID: 1, Role: domain.RoleCustomer}
	customer2 = domain.Actor{ID: 2, Role: domain.RoleCustomer}
	admin1    = domain.Actor{ID: 101, Role: domain.RoleStoreAdmin, StoreID: 1}
	admin2    = domain.Actor{ID: 102, Role: domain.RoleStoreAdmin, StoreID: 2}
	super     = domain.Actor{ID: 900, Role: domain.RoleSuperAdmin}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []usecase.StatusChangedMsg
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, msg usecase.StatusChangedMsg) error {
	p.mu.Lock()
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Event
	}
	return out
}

type env struct {
	store   *repo.MemoryStore
	clock   *testClock
	ledger  *usecase.StockLedger
	pricing *usecase.DiscountEngine
	lc      *usecase.OrderLifecycle
	proofs  *usecase.PaymentProofGateway
	events  *recordingPublisher
	// deps built lc; tests swap single ports to build a variant
	deps usecase.LifecycleDeps
}

// newEnv seeds two stores:
//
//	store 1: product 1 x10, product 2 x10
//	store 2: product 1 x5,  product 3 x5
func newEnv(t *testing.T, policy usecase.VoucherPolicy, discounts ...domain.Discount) *env {
	t.Helper()
	ctx := context.Background()
	clk := newClock()
	seed := repo.Seed{
		Products: []domain.Product{
			{ID: 1, Name: "rice", BasePrice: 10000},
			{ID: 2, Name: "eggs", BasePrice: 5000},
			{ID: 3, Name: "oil", BasePrice: 2500},
		},
		Addresses: []domain.Address{
			{ID: 1, CustomerID: 1, AddressSnapshot: domain.AddressSnapshot{Recipient: "one", City: "Jakarta"}},
			{ID: 2, CustomerID: 2, AddressSnapshot: domain.AddressSnapshot{Recipient: "two", City: "Bandung"}},
		},
		Discounts: discounts,
		Stock: []repo.SeedStock{
			{StoreID: 1, ProductID: 1, Quantity: 10},
			{StoreID: 1, ProductID: 2, Quantity: 10},
			{StoreID: 2, ProductID: 1, Quantity: 5},
			{StoreID: 2, ProductID: 3, Quantity: 5},
		},
	}
	s, err := repo.NewMemoryStore(ctx, seed)
	require.NoError(t, err)

	ledger := usecase.NewStockLedger(s.Stock, clk.Now)
	pricing := usecase.NewDiscountEngine(s.Discounts, clk.Now)
	pub := &recordingPublisher{}
	deps := usecase.LifecycleDeps{
		Orders:        s.Orders,
		Carts:         s.Carts,
		Products:      s.Products,
		Addresses:     s.Addresses,
		Pricing:       pricing,
		Ledger:        ledger,
		Tx:            s.Tx,
		Idempotency:   cache.NewMemoryIdempotencyStore(time.Hour),
		Events:        pub,
		Now:           clk.Now,
		VoucherPolicy: policy,
	}
	lc := usecase.NewOrderLifecycle(deps)
	return &env{
		store:   s,
		clock:   clk,
		ledger:  ledger,
		pricing: pricing,
		lc:      lc,
		proofs:  usecase.NewPaymentProofGateway(lc, s.Proofs, 0, nil),
		events:  pub,
		deps:    deps,
	}
}

func (e *env) cart(t *testing.T, customer domain.Actor, storeID, productID int64, qty int) int64 {
	t.Helper()
	it := &domain.CartItem{CustomerID: customer.ID, StoreID: storeID, ProductID: productID, Quantity: qty}
	require.NoError(t, e.store.Carts.Add(context.Background(), it))
	return it.ID
}

func (e *env) checkout(t *testing.T, customer domain.Actor, items ...int64) *domain.Order {
	t.Helper()
	out, err := e.lc.CreateOrder(context.Background(), usecase.CreateOrderInput{
		Actor:         customer,
		AddressID:     customer.ID,
		PaymentMethod: domain.PaymentManualTransfer,
		CartItemIDs:   items,
	})
	require.NoError(t, err)
	return out.Order
}

func (e *env) available(t *testing.T, storeID, productID int64) int64 {
	t.Helper()
	n, err := e.ledger.AvailableQuantity(context.Background(), storeID, productID)
	require.NoError(t, err)
	return n
}

func (e *env) balance(t *testing.T, storeID, productID int64) domain.StockBalance {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), storeID, productID)
	require.NoError(t, err)
	return b
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

// paid moves a fresh order to WAITING_CONFIRMATION.
func (e *env) paid(t *testing.T, customer domain.Actor, items ...int64) *domain.Order {
	t.Helper()
	o := e.checkout(t, customer, items...)
	o, err := e.proofs.Upload(context.Background(), customer, o.ID, "image/png", pngHeader)
	require.NoError(t, err)
	return o
}
