package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
)

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// UpdateStatusIf moves the order from one status to another only if it
	// is still in fromStatus. It returns false when nothing matched.
	UpdateStatusIf(ctx context.Context, id string, fromStatus, toStatus domain.Status, at time.Time) (bool, error)
	SetPaymentProof(ctx context.Context, id, ref string) error
	ListByStatusBefore(ctx context.Context, status domain.Status, before time.Time, limit int) ([]string, error)
}

// StockRepo owns the persisted ledger entries. Implementations must make
// Append atomic per (store, product) pair.
type StockRepo interface {
	// Append writes e. RESERVE and OUT entries are written only when the
	// pair's available quantity covers them; otherwise the repo returns an
	// *domain.InsufficientStockError and writes nothing.
	Append(ctx context.Context, e domain.StockEntry) error
	// Settle appends the closing entry for a reservation as computed by
	// domain.Settlement, under the same pair lock used by Append.
	Settle(ctx context.Context, reservationID string, kind domain.ReservationState, at time.Time) (applied bool, err error)
	Balance(ctx context.Context, storeID, productID int64) (domain.StockBalance, error)
	Entries(ctx context.Context, storeID, productID int64) ([]domain.StockEntry, error)
	Reservation(ctx context.Context, reservationID string) (domain.Reservation, error)
	ReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)
}

type DiscountRepo interface {
	ListActive(ctx context.Context, storeID int64, at time.Time) ([]domain.Discount, error)
	FindByCode(ctx context.Context, code string) (*domain.Discount, error)
	Create(ctx context.Context, d *domain.Discount) error
	ListByStore(ctx context.Context, storeID int64) ([]domain.Discount, error)
}

type CartRepo interface {
	Items(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error)
	List(ctx context.Context, customerID int64) ([]domain.CartItem, error)
	Add(ctx context.Context, it *domain.CartItem) error
	// Take removes and returns the customer's items atomically, or fails
	// with domain.ErrNotFound and removes nothing.
	Take(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error)
	Restore(ctx context.Context, items []domain.CartItem) error
}

type ProductRepo interface {
	Get(ctx context.Context, id int64) (*domain.Product, error)
}

type AddressRepo interface {
	Get(ctx context.Context, customerID, addressID int64) (*domain.Address, error)
}

// TxManager runs fn as one unit of work. Repositories called with the
// context handed to fn join that unit.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Unlock(ctx context.Context, scope, key string) error
}

type OrderCache interface {
	SetStatus(ctx context.Context, orderID string, status string) error
}

type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, msg StatusChangedMsg) error
}

// ProofStore keeps payment proof images outside the order records.
type ProofStore interface {
	Put(ctx context.Context, orderID, contentType string, data []byte) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}

// Clock lets tests pin "now".
type Clock func() time.Time
