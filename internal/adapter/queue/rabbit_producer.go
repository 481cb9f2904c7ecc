package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange      = "order.events"
	DefaultRoutingKey    = "order.status_changed"
	DefaultDecisionQueue = "payment.decision.q"
	decisionRoutingKey   = "payment.decision"
)

// publisher is the publishing half of *amqp.Channel.
type publisher interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// RabbitProducer implements usecase.EventPublisher.
type RabbitProducer struct {
	ch         publisher
	exchange   string
	routingKey string
}

// NewRabbitProducer sets up the exchange and the payment decision queue once
// at startup.
func NewRabbitProducer(ch *amqp.Channel, exchange, routingKey, decisionQueue string) (*RabbitProducer, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	if decisionQueue == "" {
		decisionQueue = DefaultDecisionQueue
	}

	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	// 2. declare the queue the moderation tool feeds
	q, err := ch.QueueDeclare(
		decisionQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange
	if err := ch.QueueBind(q.Name, decisionRoutingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}

	// 4. publisher confirms
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}

	return &RabbitProducer{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// PublishStatusChanged sends an order.status_changed event and waits for
// the broker's confirm.
func (p *RabbitProducer) PublishStatusChanged(ctx context.Context, msg usecase.StatusChangedMsg) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		MessageId:    msg.OrderID + ":" + msg.Status,
		Timestamp:    msg.At,
		Type:         msg.Event,
		Body:         body,
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, p.routingKey, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if dc == nil {
		// channel not in confirm mode
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("publish: broker nacked %s", pub.MessageId)
	}
	return nil
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)
