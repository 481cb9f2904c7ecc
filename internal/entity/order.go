package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusWaitingForPayment
	StatusWaitingConfirmation
	StatusProcessed
	StatusShipped
	StatusConfirmed
	StatusCanceled
)

var statusNames = [...]string{
	StatusUnknown:             "UNKNOWN",
	StatusWaitingForPayment:   "WAITING_FOR_PAYMENT",
	StatusWaitingConfirmation: "WAITING_CONFIRMATION",
	StatusProcessed:           "PROCESSED",
	StatusShipped:             "SHIPPED",
	StatusConfirmed:           "CONFIRMED",
	StatusCanceled:            "CANCELED",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether no event can move an order out of s.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCanceled
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if i != int(StatusUnknown) && name == v {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, v)
}

type PaymentMethod string

const (
	PaymentManualTransfer PaymentMethod = "MANUAL_TRANSFER"
	PaymentGateway        PaymentMethod = "PAYMENT_GATEWAY"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentManualTransfer || m == PaymentGateway
}

// AddressSnapshot is copied onto the order at checkout; later edits to the
// customer's address book never reach it.
type AddressSnapshot struct {
	Label       string `json:"label"`
	Recipient   string `json:"recipient"`
	Phone       string `json:"phone"`
	AddressLine string `json:"addressLine"`
	City        string `json:"city"`
	Province    string `json:"province"`
	PostalCode  string `json:"postalCode"`
}

// UnitPriceScale is the number of fractional digits an effective unit price
// keeps in storage, enough to hold every digit the pricing division yields.
// LineTotal stays the amount of record.
const UnitPriceScale = 18

type OrderLine struct {
	ProductID          int64              `json:"productId"`
	StoreID            int64              `json:"storeId"`
	Quantity           int                `json:"quantity"`
	BasePrice          int64              `json:"basePrice"`
	EffectiveUnitPrice decimal.Decimal    `json:"effectiveUnitPrice"`
	LineTotal          int64              `json:"lineTotal"`
	Discount           DiscountDescriptor `json:"discount"`
	ReservationID      string             `json:"reservationId,omitempty"`
}

type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

type Order struct {
	ID              string          `json:"id"`
	CustomerID      int64           `json:"customerId"`
	Address         AddressSnapshot `json:"address"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	Lines           []OrderLine     `json:"lines"`
	TotalPrice      int64           `json:"totalPrice"`
	VoucherCode     string          `json:"voucherCode,omitempty"`
	VoucherDiscount int64           `json:"voucherDiscount"`
	Status          Status          `json:"status"`
	PaymentProof    string          `json:"paymentProof,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	History         []StatusChange  `json:"history"`
}

// Stores returns the distinct store ids of the order's lines in line order.
func (o *Order) Stores() []int64 {
	seen := make(map[int64]struct{}, len(o.Lines))
	out := make([]int64, 0, len(o.Lines))
	for _, l := range o.Lines {
		if _, ok := seen[l.StoreID]; ok {
			continue
		}
		seen[l.StoreID] = struct{}{}
		out = append(out, l.StoreID)
	}
	return out
}

// HasStore reports whether any line of the order is fulfilled by storeID.
func (o *Order) HasStore(storeID int64) bool {
	for _, l := range o.Lines {
		if l.StoreID == storeID {
			return true
		}
	}
	return false
}

// Validate checks the placement invariants of a freshly priced order.
func (o *Order) Validate() error {
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order has no lines", ErrInvalidInput)
	}
	var sum int64
	for i, l := range o.Lines {
		if l.Quantity < 1 {
			return fmt.Errorf("%w: line %d quantity %d", ErrInvalidInput, i, l.Quantity)
		}
		got := l.EffectiveUnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(0).IntPart()
		if got != l.LineTotal {
			return fmt.Errorf("%w: line %d total %d != quantity x unit price %d", ErrInvalidInput, i, l.LineTotal, got)
		}
		sum += l.LineTotal
	}
	if sum != o.TotalPrice {
		return fmt.Errorf("%w: total %d != sum of lines %d", ErrInvalidInput, o.TotalPrice, sum)
	}
	return nil
}
