package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type ackRecorder struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue map[uint64]bool
}

func newAckRecorder() *ackRecorder { return &ackRecorder{requeue: map[uint64]bool{}} }

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue[tag] = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *ackRecorder) settled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked) + len(a.nacked)
}

type fakeChannel struct {
	mu       sync.Mutex
	queues   map[string]chan amqp.Delivery
	byTag    map[string]chan amqp.Delivery
	prefetch int
}

func newFakeChannel(queues ...string) *fakeChannel {
	f := &fakeChannel{queues: map[string]chan amqp.Delivery{}, byTag: map[string]chan amqp.Delivery{}}
	for _, q := range queues {
		f.queues[q] = make(chan amqp.Delivery, 16)
	}
	return f
}

func (f *fakeChannel) Qos(n, _ int, _ bool) error {
	f.prefetch = n
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.queues[queue]
	if !ok {
		return nil, errors.New("no queue " + queue)
	}
	f.byTag[consumer] = ch
	return ch, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.byTag[consumer]; ok {
		close(ch)
		delete(f.byTag, consumer)
	}
	return nil
}

func delivery(rec *ackRecorder, tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{Acknowledger: rec, DeliveryTag: tag, Body: body}
}

func TestRouter_AckNackAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newFakeChannel("q1")
	rec := newAckRecorder()
	r := NewRouter(ch, WithPrefetch(5), WithTimeout(time.Second))

	type msg struct {
		N int `json:"n"`
	}
	r.Register("q1", JSONHandler[msg]{HandleFunc: func(ctx context.Context, m msg) error {
		if m.N == 2 {
			return errors.New("transient")
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	ch.queues["q1"] <- delivery(rec, 1, []byte(`{"n":1}`))
	ch.queues["q1"] <- delivery(rec, 2, []byte(`{"n":2}`))
	ch.queues["q1"] <- delivery(rec, 3, []byte(`not json`))

	require.Eventually(t, func() bool { return rec.settled() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 5, ch.prefetch)
	assert.Equal(t, []uint64{1}, rec.acked)
	assert.ElementsMatch(t, []uint64{2, 3}, rec.nacked)
	assert.True(t, rec.requeue[2], "transient failures are requeued")
	assert.False(t, rec.requeue[3], "undecodable bodies are dropped")
}

func TestRouter_ConsumeErrorStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	ch := newFakeChannel("q1")
	r := NewRouter(ch)
	r.Register("q1", HandlerFunc(func(context.Context, amqp.Delivery) error { return nil }))
	r.Register("missing", HandlerFunc(func(context.Context, amqp.Delivery) error { return nil }))

	err := r.Run(context.Background())
	require.Error(t, err)
}

type fakeGateway struct {
	actor   domain.Actor
	orderID string
	approve bool
	err     error
}

func (g *fakeGateway) Decide(_ context.Context, actor domain.Actor, orderID string, approve bool) (*domain.Order, error) {
	g.actor, g.orderID, g.approve = actor, orderID, approve
	if g.err != nil {
		return nil, g.err
	}
	return &domain.Order{ID: orderID}, nil
}

func TestPaymentDecisionHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("decision field wins over approve flag", func(t *testing.T) {
		gw := &fakeGateway{}
		h := NewPaymentDecisionHandler(gw)
		err := h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1", AdminID: 9, Approve: true, Decision: "reject"})
		require.NoError(t, err)
		assert.False(t, gw.approve)
		assert.Equal(t, domain.RoleSuperAdmin, gw.actor.Role)
	})

	t.Run("store admin actor", func(t *testing.T) {
		gw := &fakeGateway{}
		h := NewPaymentDecisionHandler(gw)
		require.NoError(t, h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1", AdminID: 9, StoreID: 3, Approve: true}))
		assert.Equal(t, domain.Actor{ID: 9, Role: domain.RoleStoreAdmin, StoreID: 3}, gw.actor)
		assert.True(t, gw.approve)
	})

	t.Run("stale decision is acked", func(t *testing.T) {
		gw := &fakeGateway{err: domain.ErrInvalidTransition}
		h := NewPaymentDecisionHandler(gw)
		assert.NoError(t, h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1", AdminID: 9}))
	})

	t.Run("forbidden is permanent", func(t *testing.T) {
		gw := &fakeGateway{err: domain.ErrForbidden}
		h := NewPaymentDecisionHandler(gw)
		err := h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1", AdminID: 9})
		require.Error(t, err)
		assert.True(t, isPermanent(err))
	})

	t.Run("infrastructure errors are retried", func(t *testing.T) {
		gw := &fakeGateway{err: errors.New("db down")}
		h := NewPaymentDecisionHandler(gw)
		err := h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1", AdminID: 9})
		require.Error(t, err)
		assert.False(t, isPermanent(err))
	})

	t.Run("missing ids", func(t *testing.T) {
		h := NewPaymentDecisionHandler(&fakeGateway{})
		err := h.HandleDecision(ctx, usecase.PaymentDecisionMsg{OrderID: "o1"})
		assert.True(t, isPermanent(err))
	})
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
}

func (p *fakePublisher) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	p.exchange, p.key, p.msg = exchange, key, msg
	return nil, nil
}

func TestRabbitProducer_PublishStatusChanged(t *testing.T) {
	pub := &fakePublisher{}
	p := &RabbitProducer{ch: pub, exchange: DefaultExchange, routingKey: DefaultRoutingKey}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishStatusChanged(context.Background(), usecase.StatusChangedMsg{
		OrderID: "o1", CustomerID: 4, StoreIDs: []int64{1, 2}, From: "WAITING_CONFIRMATION",
		Status: "PROCESSED", Event: "APPROVE", TotalPrice: 900, At: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "order.events", pub.exchange)
	assert.Equal(t, "order.status_changed", pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)
	assert.Equal(t, "o1:PROCESSED", pub.msg.MessageId)

	var got usecase.StatusChangedMsg
	require.NoError(t, json.Unmarshal(pub.msg.Body, &got))
	assert.Equal(t, "PROCESSED", got.Status)
	assert.Equal(t, []int64{1, 2}, got.StoreIDs)
}
