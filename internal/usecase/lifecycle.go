package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
)

// OrderLifecycle owns order status. Every transition is checked against the
// domain transition table and applied together with its ledger effect.
type OrderLifecycle struct {
	orders    OrderRepo
	carts     CartRepo
	products  ProductRepo
	addresses AddressRepo
	pricing   *DiscountEngine
	ledger    *StockLedger
	tx        TxManager
	idem      IdempotencyStore
	events    EventPublisher
	cache     OrderCache
	now       Clock

	voucherPolicy VoucherPolicy
}

type LifecycleDeps struct {
	Orders    OrderRepo
	Carts     CartRepo
	Products  ProductRepo
	Addresses AddressRepo
	Pricing   *DiscountEngine
	Ledger    *StockLedger
	Tx        TxManager
	// optional
	Idempotency IdempotencyStore
	Events      EventPublisher
	Cache       OrderCache
	Now         Clock

	VoucherPolicy VoucherPolicy
}

func NewOrderLifecycle(d LifecycleDeps) *OrderLifecycle {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.VoucherPolicy == "" {
		d.VoucherPolicy = VoucherLenient
	}
	return &OrderLifecycle{
		orders:        d.Orders,
		carts:         d.Carts,
		products:      d.Products,
		addresses:     d.Addresses,
		pricing:       d.Pricing,
		ledger:        d.Ledger,
		tx:            d.Tx,
		idem:          d.Idempotency,
		events:        d.Events,
		cache:         d.Cache,
		now:           d.Now,
		voucherPolicy: d.VoucherPolicy,
	}
}

func (lc *OrderLifecycle) Get(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	o, err := lc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		// hide other customers' orders entirely
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderID)
	}
	return o, nil
}

// UploadPaymentProof attaches the stored proof reference and moves the order
// to WAITING_CONFIRMATION.
func (lc *OrderLifecycle) UploadPaymentProof(ctx context.Context, actor domain.Actor, orderID, proofRef string) (*domain.Order, error) {
	if proofRef == "" {
		return nil, fmt.Errorf("%w: empty proof reference", domain.ErrInvalidInput)
	}
	return lc.transition(ctx, actor, orderID, domain.EventUploadProof, func(ctx context.Context) error {
		return lc.orders.SetPaymentProof(ctx, orderID, proofRef)
	})
}

func (lc *OrderLifecycle) ApprovePayment(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return lc.transition(ctx, actor, orderID, domain.EventApprove, nil)
}

func (lc *OrderLifecycle) RejectPayment(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return lc.transition(ctx, actor, orderID, domain.EventReject, nil)
}

// Cancel is the customer cancel for customers and the admin cancel for admins.
func (lc *OrderLifecycle) Cancel(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	ev := domain.EventCustomerCancel
	if actor.IsAdmin() {
		ev = domain.EventAdminCancel
	}
	return lc.transition(ctx, actor, orderID, ev, nil)
}

// Expire cancels an order whose payment window has passed.
func (lc *OrderLifecycle) Expire(ctx context.Context, orderID string) (*domain.Order, error) {
	return lc.transition(ctx, domain.System, orderID, domain.EventExpire, nil)
}

func (lc *OrderLifecycle) Ship(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return lc.transition(ctx, actor, orderID, domain.EventShip, nil)
}

func (lc *OrderLifecycle) ConfirmReceived(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	return lc.transition(ctx, actor, orderID, domain.EventConfirm, nil)
}

func (lc *OrderLifecycle) transition(ctx context.Context, actor domain.Actor, orderID string, ev domain.Event, extra func(ctx context.Context) error) (*domain.Order, error) {
	o, err := lc.orders.GetByID(ctx, orderID)
	if err != nil {
		orderTransitions.WithLabelValues(ev.String(), "not_found").Inc()
		return nil, err
	}
	if err := authorize(actor, o, ev); err != nil {
		orderTransitions.WithLabelValues(ev.String(), "forbidden").Inc()
		return nil, err
	}
	from := o.Status
	to, effect, err := domain.Next(from, ev)
	if err != nil {
		orderTransitions.WithLabelValues(ev.String(), "invalid").Inc()
		return nil, err
	}

	at := lc.now()
	err = lc.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := lc.orders.UpdateStatusIf(ctx, orderID, from, to, at)
		if err != nil {
			return err
		}
		if !ok {
			cur, gerr := lc.orders.GetByID(ctx, orderID)
			if gerr != nil {
				return gerr
			}
			return fmt.Errorf("%w: %s not allowed from %s", domain.ErrInvalidTransition, ev, cur.Status)
		}
		if extra != nil {
			if err := extra(ctx); err != nil {
				return err
			}
		}
		return lc.applyLedger(ctx, o, effect)
	})
	if err != nil {
		orderTransitions.WithLabelValues(ev.String(), "failed").Inc()
		return nil, err
	}
	orderTransitions.WithLabelValues(ev.String(), "ok").Inc()

	updated, err := lc.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	logging.FromCtx(ctx).Info("order transitioned", "order_id", orderID, "event", ev.String(),
		"from", from.String(), "to", to.String(), "actor_role", actor.Role, "actor_id", actor.ID)
	lc.announce(ctx, updated, from, ev.String(), at)
	return updated, nil
}

// applyLedger settles the order's reservations in (store, product) order so
// concurrent transitions lock ledger pairs in the same sequence.
func (lc *OrderLifecycle) applyLedger(ctx context.Context, o *domain.Order, effect domain.LedgerEffect) error {
	if effect == domain.LedgerNone {
		return nil
	}
	lines := make([]domain.OrderLine, len(o.Lines))
	copy(lines, o.Lines)
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].StoreID != lines[j].StoreID {
			return lines[i].StoreID < lines[j].StoreID
		}
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].ReservationID < lines[j].ReservationID
	})
	for _, l := range lines {
		if l.ReservationID == "" {
			continue
		}
		var err error
		switch effect {
		case domain.LedgerFinalize:
			err = lc.ledger.Finalize(ctx, l.ReservationID)
		case domain.LedgerRelease:
			err = lc.ledger.Unwind(ctx, l.ReservationID)
		}
		if err != nil {
			return fmt.Errorf("order %s line product=%d store=%d: %w", o.ID, l.ProductID, l.StoreID, err)
		}
	}
	return nil
}

// announce publishes the status change and refreshes the status cache.
// Both are best effort; the order record is the source of truth.
func (lc *OrderLifecycle) announce(ctx context.Context, o *domain.Order, from domain.Status, event string, at time.Time) {
	log := logging.FromCtx(ctx)
	if lc.cache != nil {
		if err := lc.cache.SetStatus(ctx, o.ID, o.Status.String()); err != nil {
			log.Warn("order status cache write failed", "order_id", o.ID, "err", err)
		}
	}
	if lc.events == nil {
		return
	}
	msg := StatusChangedMsg{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		StoreIDs:   o.Stores(),
		Status:     o.Status.String(),
		Event:      event,
		TotalPrice: o.TotalPrice,
		At:         at,
	}
	if from != domain.StatusUnknown {
		msg.From = from.String()
	}
	if err := lc.events.PublishStatusChanged(ctx, msg); err != nil {
		log.Warn("order event publish failed", "order_id", o.ID, "event", event, "err", err)
	}
}

func authorize(actor domain.Actor, o *domain.Order, ev domain.Event) error {
	switch ev {
	case domain.EventUploadProof, domain.EventCustomerCancel, domain.EventConfirm:
		if actor.Role == domain.RoleCustomer && actor.ID == o.CustomerID {
			return nil
		}
		return fmt.Errorf("%w: %s is reserved to the ordering customer", domain.ErrForbidden, ev)
	case domain.EventApprove, domain.EventReject, domain.EventAdminCancel, domain.EventShip:
		if manages(actor, o) {
			return nil
		}
		return fmt.Errorf("%w: %s needs an admin of the order's store", domain.ErrForbidden, ev)
	case domain.EventExpire:
		if actor.Role == domain.RoleSystem {
			return nil
		}
		return fmt.Errorf("%w: %s is run by the system", domain.ErrForbidden, ev)
	}
	return fmt.Errorf("%w: unknown event %s", domain.ErrForbidden, ev)
}

func manages(actor domain.Actor, o *domain.Order) bool {
	switch actor.Role {
	case domain.RoleSuperAdmin, domain.RoleSystem:
		return true
	case domain.RoleStoreAdmin:
		return o.HasStore(actor.StoreID)
	}
	return false
}

func canView(actor domain.Actor, o *domain.Order) bool {
	if actor.Role == domain.RoleCustomer {
		return actor.ID == o.CustomerID
	}
	return manages(actor, o)
}
