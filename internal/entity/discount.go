package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountBuy1Get1   DiscountType = "BUY1GET1"
	DiscountNominal    DiscountType = "NOMINAL"
	DiscountNone       DiscountType = "NONE"
)

// NominalUnit tells how a NOMINAL voucher's Value is read.
type NominalUnit string

const (
	NominalAmount  NominalUnit = "AMOUNT"
	NominalPercent NominalUnit = "PERCENT"
)

type Discount struct {
	ID          int64           `json:"id"`
	Type        DiscountType    `json:"type"`
	Code        string          `json:"code,omitempty"`
	StoreID     int64           `json:"storeId"`
	ProductID   *int64          `json:"productId,omitempty"`
	Value       decimal.Decimal `json:"value"`
	Unit        NominalUnit     `json:"unit,omitempty"`
	StartDate   time.Time       `json:"startDate"`
	EndDate     time.Time       `json:"endDate"`
	MinPurchase int64           `json:"minPurchase,omitempty"`
	MaxDiscount *int64          `json:"maxDiscount,omitempty"`
}

// ActiveAt reports whether at falls inside the inclusive validity window.
func (d Discount) ActiveAt(at time.Time) bool {
	return !at.Before(d.StartDate) && !at.After(d.EndDate)
}

// Matches reports whether the discount's scope covers (storeID, productID).
// A discount without a product applies to the whole store.
func (d Discount) Matches(storeID, productID int64) bool {
	if d.StoreID != storeID {
		return false
	}
	return d.ProductID == nil || *d.ProductID == productID
}

func (d Discount) Validate() error {
	switch d.Type {
	case DiscountPercentage:
		if d.Value.IsNegative() || d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage must be within 0..100", ErrInvalidInput)
		}
	case DiscountBuy1Get1:
	case DiscountNominal:
		if d.Code == "" {
			return fmt.Errorf("%w: nominal discount needs a voucher code", ErrInvalidInput)
		}
		if d.Unit != NominalAmount && d.Unit != NominalPercent {
			return fmt.Errorf("%w: nominal unit must be AMOUNT or PERCENT", ErrInvalidInput)
		}
		if d.Value.IsNegative() {
			return fmt.Errorf("%w: nominal value must not be negative", ErrInvalidInput)
		}
		if d.MinPurchase < 0 || (d.MaxDiscount != nil && *d.MaxDiscount < 0) {
			return fmt.Errorf("%w: nominal bounds must not be negative", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidInput, d.Type)
	}
	if d.StoreID <= 0 {
		return fmt.Errorf("%w: discount needs a store", ErrInvalidInput)
	}
	if d.EndDate.Before(d.StartDate) {
		return fmt.Errorf("%w: discount ends before it starts", ErrInvalidInput)
	}
	return nil
}

// DiscountDescriptor records on an order line what was applied, for audit.
type DiscountDescriptor struct {
	Type         DiscountType    `json:"type"`
	DiscountID   int64           `json:"discountId,omitempty"`
	Magnitude    decimal.Decimal `json:"magnitude"`
	VoucherID    int64           `json:"voucherId,omitempty"`
	VoucherShare int64           `json:"voucherShare,omitempty"`
}
