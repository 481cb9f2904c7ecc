package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
)

// HandlerFunc processes a decoded event.
type HandlerFunc[T any] func(ctx context.Context, ev T) error

// Consumer consumes topics with a single handler, decoding JSON values into T.
type Consumer[T any] struct {
	Group  sarama.ConsumerGroup
	Topics []string
	Handle HandlerFunc[T]
	Logger *slog.Logger
}

func NewConsumer[T any](group sarama.ConsumerGroup, topics []string, h HandlerFunc[T]) *Consumer[T] {
	return &Consumer[T]{
		Group:  group,
		Topics: topics,
		Handle: h,
		Logger: logging.New("kafka-consumer"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer[T]) Start(ctx context.Context) error {
	handler := &cgHandler[T]{handle: c.Handle, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// When Consume returns, it's because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer[T]) Close() error { return c.Group.Close() }

type cgHandler[T any] struct {
	handle HandlerFunc[T]
	logger *slog.Logger
}

func (h *cgHandler[T]) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler[T]) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler[T]) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		var ev T
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Error("kafka decode error", "err", err)
			// mark to avoid reprocessing poison
			sess.MarkMessage(msg, "decode-error")
			continue
		}
		if err := h.handle(logging.WithCtx(sess.Context(), log), ev); err != nil {
			log.Error("handler error", "key", string(msg.Key), "err", err)
			// Do not mark; the offset is retried after the next rebalance.
			continue
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
