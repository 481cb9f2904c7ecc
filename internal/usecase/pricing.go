package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineContext is what the engine needs to price one cart line.
type LineContext struct {
	StoreID   int64
	ProductID int64
	BasePrice int64
	Quantity  int
}

type PricedLine struct {
	EffectiveUnitPrice decimal.Decimal
	LineTotal          int64
	Discount           domain.DiscountDescriptor
}

// VoucherResult reports what a voucher did to a priced cart.
type VoucherResult struct {
	Discount domain.Discount
	Amount   int64
	Lines    []domain.OrderLine
}

// DiscountEngine prices lines against the promotions active "now". It only
// reads discounts.
type DiscountEngine struct {
	repo DiscountRepo
	now  Clock
}

func NewDiscountEngine(repo DiscountRepo, now Clock) *DiscountEngine {
	if now == nil {
		now = time.Now
	}
	return &DiscountEngine{repo: repo, now: now}
}

// Price loads the store's active discounts and prices a single line.
func (e *DiscountEngine) Price(ctx context.Context, lc LineContext) (PricedLine, error) {
	at := e.now()
	active, err := e.repo.ListActive(ctx, lc.StoreID, at)
	if err != nil {
		return PricedLine{}, fmt.Errorf("load discounts for store %d: %w", lc.StoreID, err)
	}
	return PriceLine(logging.FromCtx(ctx), lc, active, at)
}

// PriceLine is the deterministic core of Price. BUY1GET1 beats PERCENTAGE;
// discounts are never stacked on one line.
func PriceLine(log *slog.Logger, lc LineContext, discounts []domain.Discount, at time.Time) (PricedLine, error) {
	if lc.Quantity < 1 {
		return PricedLine{}, fmt.Errorf("%w: quantity must be >= 1, got %d", domain.ErrInvalidInput, lc.Quantity)
	}
	if lc.BasePrice < 0 {
		return PricedLine{}, fmt.Errorf("%w: negative base price %d", domain.ErrInvalidInput, lc.BasePrice)
	}
	qty := decimal.NewFromInt(int64(lc.Quantity))
	base := decimal.NewFromInt(lc.BasePrice)

	if d := pick(log, lc, discounts, domain.DiscountBuy1Get1, at); d != nil {
		payable := int64(lc.Quantity/2 + lc.Quantity%2)
		total := lc.BasePrice * payable
		return PricedLine{
			EffectiveUnitPrice: decimal.NewFromInt(total).Div(qty),
			LineTotal:          total,
			Discount:           domain.DiscountDescriptor{Type: domain.DiscountBuy1Get1, DiscountID: d.ID, Magnitude: decimal.NewFromInt(payable)},
		}, nil
	}

	if d := pick(log, lc, discounts, domain.DiscountPercentage, at); d != nil {
		unit := base.Mul(hundred.Sub(d.Value)).Div(hundred).Round(0)
		if unit.IsNegative() {
			unit = decimal.Zero
		}
		return PricedLine{
			EffectiveUnitPrice: unit,
			LineTotal:          unit.Mul(qty).IntPart(),
			Discount:           domain.DiscountDescriptor{Type: domain.DiscountPercentage, DiscountID: d.ID, Magnitude: d.Value},
		}, nil
	}

	return PricedLine{
		EffectiveUnitPrice: base,
		LineTotal:          lc.BasePrice * int64(lc.Quantity),
		Discount:           domain.DiscountDescriptor{Type: domain.DiscountNone, Magnitude: decimal.Zero},
	}, nil
}

// pick returns the applicable discount of type t, preferring the larger
// magnitude and then the lower id when several overlap.
func pick(log *slog.Logger, lc LineContext, discounts []domain.Discount, t domain.DiscountType, at time.Time) *domain.Discount {
	var matched []domain.Discount
	for _, d := range discounts {
		if d.Type == t && d.ActiveAt(at) && d.Matches(lc.StoreID, lc.ProductID) {
			matched = append(matched, d)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if c := matched[i].Value.Cmp(matched[j].Value); c != 0 {
			return c > 0
		}
		return matched[i].ID < matched[j].ID
	})
	if len(matched) > 1 && log != nil {
		ids := make([]int64, len(matched))
		for i, d := range matched {
			ids[i] = d.ID
		}
		log.Warn("overlapping discounts of the same type",
			"type", t, "store_id", lc.StoreID, "product_id", lc.ProductID,
			"candidates", ids, "chosen", matched[0].ID)
	}
	return &matched[0]
}

// ApplyVoucherCode looks the voucher up and applies it to already priced
// lines. Unknown, inactive or below-threshold vouchers fail with
// domain.ErrDiscountNotApplicable.
func (e *DiscountEngine) ApplyVoucherCode(ctx context.Context, code string, lines []domain.OrderLine) (VoucherResult, error) {
	d, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		return VoucherResult{}, fmt.Errorf("%w: voucher %q: %v", domain.ErrDiscountNotApplicable, code, err)
	}
	return ApplyVoucher(*d, lines, e.now())
}

// ApplyVoucher deducts a NOMINAL discount from the lines in its scope and
// spreads the amount over them in proportion to their totals. Leftover
// units go to the lines with the largest remainders, earlier lines first.
func ApplyVoucher(d domain.Discount, lines []domain.OrderLine, at time.Time) (VoucherResult, error) {
	if d.Type != domain.DiscountNominal {
		return VoucherResult{}, fmt.Errorf("%w: %s is not a voucher", domain.ErrDiscountNotApplicable, d.Code)
	}
	if !d.ActiveAt(at) {
		return VoucherResult{}, fmt.Errorf("%w: voucher %s is not active", domain.ErrDiscountNotApplicable, d.Code)
	}
	var scoped []int
	var subtotal int64
	for i, l := range lines {
		if d.Matches(l.StoreID, l.ProductID) {
			scoped = append(scoped, i)
			subtotal += l.LineTotal
		}
	}
	if len(scoped) == 0 {
		return VoucherResult{}, fmt.Errorf("%w: voucher %s does not cover any line", domain.ErrDiscountNotApplicable, d.Code)
	}
	if subtotal < d.MinPurchase {
		return VoucherResult{}, fmt.Errorf("%w: voucher %s needs a subtotal of %d, cart has %d",
			domain.ErrDiscountNotApplicable, d.Code, d.MinPurchase, subtotal)
	}

	amount := voucherAmount(d, subtotal)
	out := make([]domain.OrderLine, len(lines))
	copy(out, lines)
	if amount == 0 {
		return VoucherResult{Discount: d, Amount: 0, Lines: out}, nil
	}

	type share struct {
		idx int
		val int64
		rem decimal.Decimal
	}
	amt := decimal.NewFromInt(amount)
	sub := decimal.NewFromInt(subtotal)
	shares := make([]share, 0, len(scoped))
	var given int64
	for _, i := range scoped {
		prod := amt.Mul(decimal.NewFromInt(lines[i].LineTotal))
		q := prod.Div(sub).Floor()
		shares = append(shares, share{idx: i, val: q.IntPart(), rem: prod.Sub(q.Mul(sub))})
		given += q.IntPart()
	}
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if c := shares[order[a]].rem.Cmp(shares[order[b]].rem); c != 0 {
			return c > 0
		}
		return shares[order[a]].idx < shares[order[b]].idx
	})
	for k := 0; given < amount; k++ {
		shares[order[k%len(order)]].val++
		given++
	}

	for _, s := range shares {
		l := out[s.idx]
		l.LineTotal -= s.val
		l.EffectiveUnitPrice = decimal.NewFromInt(l.LineTotal).Div(decimal.NewFromInt(int64(l.Quantity)))
		l.Discount.VoucherID = d.ID
		l.Discount.VoucherShare = s.val
		out[s.idx] = l
	}
	return VoucherResult{Discount: d, Amount: amount, Lines: out}, nil
}

func voucherAmount(d domain.Discount, subtotal int64) int64 {
	var amount int64
	switch d.Unit {
	case domain.NominalPercent:
		amount = decimal.NewFromInt(subtotal).Mul(d.Value).Div(hundred).Floor().IntPart()
	default:
		amount = d.Value.Floor().IntPart()
	}
	if d.MaxDiscount != nil && amount > *d.MaxDiscount {
		amount = *d.MaxDiscount
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}
