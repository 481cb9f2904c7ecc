package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrDiscountNotApplicable = errors.New("discount not applicable")
	ErrNotFound              = errors.New("not found")
	ErrForbidden             = errors.New("forbidden")
	ErrInvalidInput          = errors.New("invalid input")
	ErrReservationSettled    = errors.New("reservation already settled")
)

// ErrInvalidState is the name the payment-proof flow uses for a rejected
// transition; both names match the same condition.
var ErrInvalidState = ErrInvalidTransition

// InsufficientStockError identifies the (store, product) pair that could not
// be reserved.
type InsufficientStockError struct {
	StoreID   int64
	ProductID int64
	Requested int
	Available int64
	Line      int // index into the checkout selection, -1 when not line-bound
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: store=%d product=%d requested=%d available=%d",
		e.StoreID, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }
