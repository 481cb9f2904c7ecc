package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/google/uuid"
)

// MemoryProofStore keeps uploaded proofs in process for local runs.
type MemoryProofStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{blobs: make(map[string][]byte)}
}

func (s *MemoryProofStore) Put(_ context.Context, orderID, contentType string, data []byte) (string, error) {
	ext := strings.TrimPrefix(contentType, "image/")
	ref := fmt.Sprintf("mem://proofs/%s/%s.%s", orderID, uuid.NewString(), ext)
	s.mu.Lock()
	s.blobs[ref] = append([]byte(nil), data...)
	s.mu.Unlock()
	return ref, nil
}

func (s *MemoryProofStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	delete(s.blobs, ref)
	s.mu.Unlock()
	return nil
}

func (s *MemoryProofStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	return b, ok
}

type SeedStock struct {
	StoreID   int64
	ProductID int64
	Quantity  int64
}

// Seed is the initial catalog of a memory store.
type Seed struct {
	Products  []domain.Product
	Addresses []domain.Address
	Discounts []domain.Discount
	Carts     []domain.CartItem
	Stock     []SeedStock
}

// MemoryStore bundles one memory implementation of every repository.
type MemoryStore struct {
	Orders    *MemoryOrderRepo
	Stock     *MemoryStockRepo
	Discounts *MemoryDiscountRepo
	Carts     *MemoryCartRepo
	Products  *MemoryProductRepo
	Addresses *MemoryAddressRepo
	Proofs    *MemoryProofStore
	Tx        *MemoryTxManager
}

func NewMemoryStore(ctx context.Context, seed Seed) (*MemoryStore, error) {
	s := &MemoryStore{
		Orders:    NewMemoryOrderRepo(),
		Stock:     NewMemoryStockRepo(),
		Discounts: NewMemoryDiscountRepo(),
		Carts:     NewMemoryCartRepo(),
		Products:  NewMemoryProductRepo(seed.Products...),
		Addresses: NewMemoryAddressRepo(seed.Addresses...),
		Proofs:    NewMemoryProofStore(),
		Tx:        NewMemoryTxManager(),
	}
	for i := range seed.Discounts {
		if err := s.Discounts.Create(ctx, &seed.Discounts[i]); err != nil {
			return nil, fmt.Errorf("seed discount %d: %w", i, err)
		}
	}
	for i := range seed.Carts {
		if err := s.Carts.Add(ctx, &seed.Carts[i]); err != nil {
			return nil, fmt.Errorf("seed cart item %d: %w", i, err)
		}
	}
	for _, st := range seed.Stock {
		if st.Quantity <= 0 {
			continue
		}
		err := s.Stock.Append(ctx, domain.StockEntry{
			StoreID:   st.StoreID,
			ProductID: st.ProductID,
			Delta:     st.Quantity,
			Type:      domain.TxIn,
			Reason:    "seed",
		})
		if err != nil {
			return nil, fmt.Errorf("seed stock %d/%d: %w", st.StoreID, st.ProductID, err)
		}
	}
	return s, nil
}

var _ usecase.ProofStore = (*MemoryProofStore)(nil)
