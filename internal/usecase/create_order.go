package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/google/uuid"
)

var ErrDuplicate = errors.New("duplicate idempotency key")

// VoucherPolicy decides what checkout does with a voucher that does not apply.
type VoucherPolicy string

const (
	VoucherLenient VoucherPolicy = "LENIENT"
	VoucherStrict  VoucherPolicy = "STRICT"
)

type CreateOrderInput struct {
	Actor          domain.Actor
	AddressID      int64
	PaymentMethod  domain.PaymentMethod
	CartItemIDs    []int64
	VoucherCode    string
	IdempotencyKey string
}

type CreateOrderOutput struct {
	Order *domain.Order
	// VoucherErr is set when a voucher was supplied, did not apply, and the
	// lenient policy let checkout continue without it.
	VoucherErr error
	Replayed   bool
}

type QuoteOutput struct {
	Lines           []domain.OrderLine
	Subtotal        int64
	VoucherDiscount int64
	TotalPrice      int64
	VoucherErr      error
}

// CreateOrder turns cart items into an order in WAITING_FOR_PAYMENT. The
// items leave the cart first, then every line is priced and reserved; any
// failure releases the reservations already made and puts the items back.
func (lc *OrderLifecycle) CreateOrder(ctx context.Context, in CreateOrderInput) (CreateOrderOutput, error) {
	if in.Actor.Role != domain.RoleCustomer {
		return CreateOrderOutput{}, fmt.Errorf("%w: only customers can check out", domain.ErrForbidden)
	}
	if !in.PaymentMethod.Valid() {
		return CreateOrderOutput{}, fmt.Errorf("%w: payment method %q", domain.ErrInvalidInput, in.PaymentMethod)
	}
	scope := strconv.FormatInt(in.Actor.ID, 10)

	// Fast path: idempotency recall
	if lc.idem != nil && in.IdempotencyKey != "" {
		if id, ok, _ := lc.idem.Recall(ctx, scope, in.IdempotencyKey); ok {
			o, err := lc.orders.GetByID(ctx, id)
			if err != nil {
				return CreateOrderOutput{}, err
			}
			return CreateOrderOutput{Order: o, Replayed: true}, nil
		}
		ok, err := lc.idem.TryLock(ctx, scope, in.IdempotencyKey)
		if err != nil {
			return CreateOrderOutput{}, err
		}
		if !ok {
			return CreateOrderOutput{}, ErrDuplicate
		}
	}

	out, err := lc.createOrder(ctx, in)
	if lc.idem != nil && in.IdempotencyKey != "" {
		if err != nil {
			_ = lc.idem.Unlock(context.WithoutCancel(ctx), scope, in.IdempotencyKey)
		} else {
			_ = lc.idem.Remember(ctx, scope, in.IdempotencyKey, out.Order.ID)
		}
	}
	return out, err
}

func (lc *OrderLifecycle) createOrder(ctx context.Context, in CreateOrderInput) (_ CreateOrderOutput, err error) {
	log := logging.FromCtx(ctx)

	addr, err := lc.addresses.Get(ctx, in.Actor.ID, in.AddressID)
	if err != nil {
		return CreateOrderOutput{}, fmt.Errorf("address %d: %w", in.AddressID, err)
	}
	if err := checkSelection(in.CartItemIDs); err != nil {
		return CreateOrderOutput{}, err
	}
	// a concurrent checkout of the same items fails here, before reserving
	items, err := lc.carts.Take(ctx, in.Actor.ID, in.CartItemIDs)
	if err != nil {
		return CreateOrderOutput{}, err
	}
	defer func() {
		if err != nil {
			lc.restoreCart(ctx, items)
		}
	}()
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	q, err := lc.price(ctx, items, in.VoucherCode)
	if err != nil {
		return CreateOrderOutput{}, err
	}

	now := lc.now()
	o := &domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      in.Actor.ID,
		Address:         addr.AddressSnapshot,
		PaymentMethod:   in.PaymentMethod,
		Lines:           q.Lines,
		TotalPrice:      q.TotalPrice,
		VoucherDiscount: q.VoucherDiscount,
		Status:          domain.StatusWaitingForPayment,
		CreatedAt:       now,
		History:         []domain.StatusChange{{Status: domain.StatusWaitingForPayment, At: now}},
	}
	if in.VoucherCode != "" && q.VoucherErr == nil {
		o.VoucherCode = in.VoucherCode
	}
	if err := o.Validate(); err != nil {
		return CreateOrderOutput{}, err
	}

	if err := lc.reserveAll(ctx, o); err != nil {
		return CreateOrderOutput{}, err
	}
	if err := lc.orders.Create(ctx, o); err != nil {
		lc.compensate(ctx, o)
		return CreateOrderOutput{}, fmt.Errorf("persist order: %w", err)
	}

	log.Info("order created", "order_id", o.ID, "customer_id", o.CustomerID,
		"lines", len(o.Lines), "total_price", o.TotalPrice, "voucher_discount", o.VoucherDiscount)
	lc.announce(ctx, o, domain.StatusUnknown, "CREATE", now)
	return CreateOrderOutput{Order: o, VoucherErr: q.VoucherErr}, nil
}

func (lc *OrderLifecycle) restoreCart(ctx context.Context, items []domain.CartItem) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := lc.carts.Restore(cctx, items); err != nil {
		logging.FromCtx(ctx).Error("checkout failed and cart items were not restored",
			"items", len(items), "err", err)
	}
}

// Quote prices a prospective checkout without touching stock.
func (lc *OrderLifecycle) Quote(ctx context.Context, actor domain.Actor, cartItemIDs []int64, voucherCode string) (QuoteOutput, error) {
	if actor.Role != domain.RoleCustomer {
		return QuoteOutput{}, fmt.Errorf("%w: only customers have carts", domain.ErrForbidden)
	}
	items, err := lc.cartSelection(ctx, actor.ID, cartItemIDs)
	if err != nil {
		return QuoteOutput{}, err
	}
	return lc.price(ctx, items, voucherCode)
}

func checkSelection(ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no cart items selected", domain.ErrInvalidInput)
	}
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: cart item %d selected twice", domain.ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// cartSelection loads the chosen cart items, all of which must belong to
// the customer and still exist.
func (lc *OrderLifecycle) cartSelection(ctx context.Context, customerID int64, ids []int64) ([]domain.CartItem, error) {
	if err := checkSelection(ids); err != nil {
		return nil, err
	}
	items, err := lc.carts.Items(ctx, customerID, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if it.CustomerID != customerID {
			return nil, fmt.Errorf("%w: cart item %d", domain.ErrNotFound, it.ID)
		}
		found[it.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, fmt.Errorf("%w: cart item %d", domain.ErrNotFound, id)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (lc *OrderLifecycle) price(ctx context.Context, items []domain.CartItem, voucherCode string) (QuoteOutput, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		p, err := lc.products.Get(ctx, it.ProductID)
		if err != nil {
			return QuoteOutput{}, fmt.Errorf("product %d: %w", it.ProductID, err)
		}
		pl, err := lc.pricing.Price(ctx, LineContext{
			StoreID:   it.StoreID,
			ProductID: it.ProductID,
			BasePrice: p.BasePrice,
			Quantity:  it.Quantity,
		})
		if err != nil {
			return QuoteOutput{}, err
		}
		lines = append(lines, domain.OrderLine{
			ProductID:          it.ProductID,
			StoreID:            it.StoreID,
			Quantity:           it.Quantity,
			BasePrice:          p.BasePrice,
			EffectiveUnitPrice: pl.EffectiveUnitPrice,
			LineTotal:          pl.LineTotal,
			Discount:           pl.Discount,
		})
	}

	out := QuoteOutput{Lines: lines, Subtotal: sumLines(lines)}
	if voucherCode != "" {
		res, err := lc.pricing.ApplyVoucherCode(ctx, voucherCode, lines)
		switch {
		case err == nil:
			out.Lines = res.Lines
			out.VoucherDiscount = res.Amount
			voucherOutcomes.WithLabelValues("applied").Inc()
		case errors.Is(err, domain.ErrDiscountNotApplicable) && lc.voucherPolicy != VoucherStrict:
			out.VoucherErr = err
			voucherOutcomes.WithLabelValues("skipped").Inc()
			logging.FromCtx(ctx).Info("voucher not applied", "code", voucherCode, "err", err)
		default:
			voucherOutcomes.WithLabelValues("rejected").Inc()
			return QuoteOutput{}, err
		}
	}
	out.TotalPrice = sumLines(out.Lines)
	return out, nil
}

func sumLines(lines []domain.OrderLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.LineTotal
	}
	return total
}

// reserveAll reserves every line in ascending (store, product) order, so
// concurrent checkouts lock ledger pairs in the same order. A failure,
// including the request context expiring mid-loop, releases what was
// already reserved.
func (lc *OrderLifecycle) reserveAll(ctx context.Context, o *domain.Order) error {
	idx := make([]int, len(o.Lines))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		la, lb := o.Lines[idx[a]], o.Lines[idx[b]]
		if la.StoreID != lb.StoreID {
			return la.StoreID < lb.StoreID
		}
		return la.ProductID < lb.ProductID
	})

	for _, i := range idx {
		l := &o.Lines[i]
		if err := ctx.Err(); err != nil {
			lc.compensate(ctx, o)
			return fmt.Errorf("reserve line %d: %w", i, err)
		}
		r, err := lc.ledger.Reserve(ctx, l.StoreID, l.ProductID, l.Quantity, o.ID)
		if err != nil {
			lc.compensate(ctx, o)
			var ise *domain.InsufficientStockError
			if errors.As(err, &ise) {
				ise.Line = i
			}
			return fmt.Errorf("reserve line %d: %w", i, err)
		}
		l.ReservationID = r.ID
	}
	return nil
}

// compensate releases every open reservation the ledger holds for o,
// including a hold whose write succeeded but whose reply was lost. It runs
// detached from the caller's cancellation so a timed out checkout still
// cleans up.
func (lc *OrderLifecycle) compensate(ctx context.Context, o *domain.Order) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	log := logging.FromCtx(ctx)
	checkoutCompensations.Inc()

	var ids []string
	held, err := lc.ledger.OrderReservations(cctx, o.ID)
	if err != nil {
		log.Warn("cannot list order reservations, releasing recorded lines only", "order_id", o.ID, "err", err)
		for _, l := range o.Lines {
			if l.ReservationID != "" {
				ids = append(ids, l.ReservationID)
			}
		}
	} else {
		for _, r := range held {
			if r.State == domain.ReservationOpen {
				ids = append(ids, r.ID)
			}
		}
	}

	failed := make(map[string]struct{})
	for _, rid := range ids {
		if err := lc.ledger.Release(cctx, rid); err != nil {
			log.Error("checkout compensation failed", "order_id", o.ID, "reservation_id", rid, "err", err)
			failed[rid] = struct{}{}
		}
	}
	for i := range o.Lines {
		if _, ok := failed[o.Lines[i].ReservationID]; !ok {
			o.Lines[i].ReservationID = ""
		}
	}
}
