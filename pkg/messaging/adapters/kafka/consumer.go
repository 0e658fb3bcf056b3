package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
)

// consumer adapts a sarama.ConsumerGroup, scoped to one topic, to
// messaging.Consumer. Consume blocks for the group's lifetime, rejoining
// on rebalance the way sarama's own examples drive a ConsumerGroup.
type consumer struct {
	group sarama.ConsumerGroup
	topic string
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	h := &groupHandler{handler: handler}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			return messaging.ErrConsumeFailed(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *consumer) Close() error {
	return c.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler, translating each
// claimed message through the messaging.MessageHandler contract: a nil
// return marks the offset committed, an error leaves it uncommitted for
// redelivery on the next rebalance.
type groupHandler struct {
	handler messaging.MessageHandler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			m := &messaging.Message{
				ID:      string(headerValue(msg.Headers, "message-id")),
				Topic:   msg.Topic,
				Key:     msg.Key,
				Payload: msg.Value,
				Headers: decodeHeaders(msg.Headers),
				Metadata: messaging.MessageMetadata{
					Partition: msg.Partition,
					Offset:    msg.Offset,
					Raw:       msg,
				},
			}
			if err := h.handler(sess.Context(), m); err != nil {
				return messaging.ErrConsumeFailed(err)
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func headerValue(headers []*sarama.RecordHeader, key string) []byte {
	for _, rh := range headers {
		if string(rh.Key) == key {
			return rh.Value
		}
	}
	return nil
}

func decodeHeaders(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, rh := range headers {
		out[string(rh.Key)] = string(rh.Value)
	}
	return out
}
