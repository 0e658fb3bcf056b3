// Package natsmsg implements messaging.Broker over github.com/nats-io/nats.go
// core pub/sub (no JetStream): a lightweight at-most-once transport, the
// role NATS plays across the teacher's own services.
package natsmsg

import (
	"context"

	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
	"github.com/nats-io/nats.go"
)

// Config configures the NATS connection.
type Config struct {
	URL string // e.g. nats.DefaultURL
}

// Broker is a messaging.Broker backed by one shared *nats.Conn.
type Broker struct {
	conn *nats.Conn
}

var _ messaging.Broker = (*Broker)(nil)

func New(cfg Config) (*Broker, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, messaging.ErrConnectionFailed(err)
	}
	return &Broker{conn: conn}, nil
}

func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	return &producer{conn: b.conn, subject: topic}, nil
}

// Consumer subscribes to topic. A non-empty group becomes a NATS queue
// group, load-balancing delivery across every consumer sharing it; an
// empty group is a plain broadcast subscription.
func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	return &consumer{conn: b.conn, subject: topic, group: group}, nil
}

func (b *Broker) Close() error {
	b.conn.Close()
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	return b.conn.Status() == nats.CONNECTED
}

type producer struct {
	conn    *nats.Conn
	subject string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	subject := msg.Topic
	if subject == "" {
		subject = p.subject
	}
	if err := p.conn.Publish(subject, msg.Payload); err != nil {
		return messaging.ErrPublishFailed(err)
	}
	return nil
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *producer) Close() error { return nil }

type consumer struct {
	conn    *nats.Conn
	subject string
	group   string
}

// Consume subscribes and blocks until ctx is canceled. NATS core has no
// broker-side redelivery, so a handler error is reported to the caller but
// the message itself is not retried: at-most-once, matching nats.go's
// fire-and-forget pub/sub semantics.
func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	msgCh := make(chan *nats.Msg, 64)
	var sub *nats.Subscription
	var err error
	if c.group != "" {
		sub, err = c.conn.ChanQueueSubscribe(c.subject, c.group, msgCh)
	} else {
		sub, err = c.conn.ChanSubscribe(c.subject, msgCh)
	}
	if err != nil {
		return messaging.ErrConsumeFailed(err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case nm, ok := <-msgCh:
			if !ok {
				return messaging.ErrClosed(nil)
			}
			m := &messaging.Message{Topic: nm.Subject, Payload: nm.Data}
			if err := handler(ctx, m); err != nil {
				return messaging.ErrConsumeFailed(err)
			}
		}
	}
}

func (c *consumer) Close() error { return nil }
