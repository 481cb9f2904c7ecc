package usecase

import (
	"context"
	"errors"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
)

const (
	DefaultPaymentDeadline = 2 * time.Hour
	sweepBatch             = 100
)

// Sweeper cancels orders left in WAITING_FOR_PAYMENT past the deadline.
type Sweeper struct {
	lifecycle *OrderLifecycle
	orders    OrderRepo
	deadline  time.Duration
	interval  time.Duration
	now       Clock
}

func NewSweeper(lc *OrderLifecycle, orders OrderRepo, deadline, interval time.Duration, now Clock) *Sweeper {
	if deadline <= 0 {
		deadline = DefaultPaymentDeadline
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Sweeper{lifecycle: lc, orders: orders, deadline: deadline, interval: interval, now: now}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logging.FromCtx(ctx).Error("payment deadline sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce expires every overdue order and returns how many it canceled.
// Orders that moved on in the meantime are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	log := logging.FromCtx(ctx)
	cutoff := s.now().Add(-s.deadline)
	expired := 0
	for {
		ids, err := s.orders.ListByStatusBefore(ctx, domain.StatusWaitingForPayment, cutoff, sweepBatch)
		if err != nil {
			return expired, err
		}
		progressed := 0
		for _, id := range ids {
			if _, err := s.lifecycle.Expire(ctx, id); err != nil {
				if errors.Is(err, domain.ErrInvalidTransition) {
					continue
				}
				log.Error("expire order failed", "order_id", id, "err", err)
				continue
			}
			expired++
			progressed++
		}
		if len(ids) < sweepBatch || progressed == 0 {
			break
		}
	}
	if expired > 0 {
		log.Info("expired unpaid orders", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}
