package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) Context() context.Context { return context.Background() }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func claimOf(values ...string) *fakeClaim {
	c := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Topic: "stock.adjustments", Offset: int64(i), Value: []byte(v)}
	}
	close(c.msgs)
	return c
}

func TestConsumeClaim_MarksHandledAndPoison(t *testing.T) {
	var seen []usecase.StockAdjustedMsg
	h := &cgHandler[usecase.StockAdjustedMsg]{
		logger: logging.New("test"),
		handle: func(_ context.Context, ev usecase.StockAdjustedMsg) error {
			seen = append(seen, ev)
			if ev.ProductID == 99 {
				return errors.New("db down")
			}
			return nil
		},
	}
	sess := &fakeSession{}
	claim := claimOf(
		`{"storeId":1,"productId":2,"quantity":5,"type":"IN"}`,
		`{broken`,
		`{"storeId":1,"productId":99,"quantity":1,"type":"IN"}`,
	)

	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Len(t, seen, 2)
	assert.Equal(t, []int64{0, 1}, sess.marked, "failed handler leaves offset 2 unmarked")
}

type fakeLedger struct {
	calls int
	typ   domain.TxType
	err   error
}

func (l *fakeLedger) Adjust(_ context.Context, storeID, productID, qty int64, typ domain.TxType, reason string) (domain.StockEntry, error) {
	l.calls++
	l.typ = typ
	if l.err != nil {
		return domain.StockEntry{}, l.err
	}
	return domain.StockEntry{StoreID: storeID, ProductID: productID, Delta: domain.SignedDelta(typ, qty), Type: typ, Reason: reason}, nil
}

func TestStockAdjustmentHandler(t *testing.T) {
	ctx := context.Background()
	ev := usecase.StockAdjustedMsg{StoreID: 1, ProductID: 2, Quantity: 3, Type: "OUT"}

	l := &fakeLedger{}
	require.NoError(t, NewStockAdjustmentHandler(l).Handle(ctx, ev))
	assert.Equal(t, domain.TxOut, l.typ)

	refused := &fakeLedger{err: fmt.Errorf("wrap: %w", &domain.InsufficientStockError{StoreID: 1, ProductID: 2})}
	assert.NoError(t, NewStockAdjustmentHandler(refused).Handle(ctx, ev), "refused adjustments are dropped")

	invalid := &fakeLedger{err: domain.ErrInvalidInput}
	assert.NoError(t, NewStockAdjustmentHandler(invalid).Handle(ctx, ev))

	down := &fakeLedger{err: errors.New("db down")}
	assert.Error(t, NewStockAdjustmentHandler(down).Handle(ctx, ev))
}
