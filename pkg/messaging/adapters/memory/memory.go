// Package memory is an in-process messaging.Broker backed by buffered Go
// channels, one per (topic, group) pair. It exists for tests and for
// single-process deployments that want the messaging.Broker interface
// without an external dependency, the same role the teacher's in-memory
// adapters play across its cache and secrets packages.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
	"github.com/google/uuid"
)

// Config configures the in-memory broker.
type Config struct {
	// BufferSize bounds each topic/group channel. Publish returns
	// ErrQueueFull once a group's channel is full.
	BufferSize int
}

type subscription struct {
	group string
	ch    chan *messaging.Message
}

// Broker is a messaging.Broker that fans out published messages to every
// distinct consumer group subscribed to a topic. Within a group only the
// first consumer created for it receives messages; later consumers in the
// same group receive none, so there is no load balancing inside a group.
// An empty group name gets a fresh unique group, so each such consumer
// receives its own copy.
type Broker struct {
	cfg Config

	mu     sync.Mutex
	closed bool
	subs   map[string][]*subscription // topic -> subscriptions across groups
}

func New(cfg Config) *Broker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Broker{cfg: cfg, subs: make(map[string][]*subscription)}
}

var _ messaging.Broker = (*Broker)(nil)

func (b *Broker) Producer(topic string) (messaging.Producer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, messaging.ErrClosed(nil)
	}
	return &producer{broker: b, topic: topic}, nil
}

func (b *Broker) Consumer(topic string, group string) (messaging.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, messaging.ErrClosed(nil)
	}
	if group == "" {
		group = uuid.NewString()
	}
	sub := &subscription{group: group, ch: make(chan *messaging.Message, b.cfg.BufferSize)}
	b.subs[topic] = append(b.subs[topic], sub)
	return &consumer{broker: b, topic: topic, sub: sub}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	return nil
}

func (b *Broker) Healthy(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// dispatch delivers msg to one subscription per distinct group subscribed
// to topic: the first subscription registered for a group is the one used,
// so distinct groups each get a copy, while further subscriptions sharing a
// group string (multiple Consumer calls with that group) get nothing.
func (b *Broker) dispatch(topic string, msg *messaging.Message) error {
	b.mu.Lock()
	subs := append([]*subscription(nil), b.subs[topic]...)
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return messaging.ErrClosed(nil)
	}
	if len(subs) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(subs))
	for _, s := range subs {
		if seen[s.group] {
			continue
		}
		seen[s.group] = true
		select {
		case s.ch <- msg:
		default:
			return messaging.ErrQueueFull(fmt.Errorf("topic %q group %q is at capacity", topic, s.group))
		}
	}
	return nil
}

type producer struct {
	broker *Broker
	topic  string
}

func (p *producer) Publish(ctx context.Context, msg *messaging.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Topic == "" {
		msg.Topic = p.topic
	}
	return p.broker.dispatch(msg.Topic, msg)
}

func (p *producer) PublishBatch(ctx context.Context, msgs []*messaging.Message) error {
	for _, m := range msgs {
		if err := p.Publish(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	broker *Broker
	topic  string
	sub    *subscription
}

func (c *consumer) Consume(ctx context.Context, handler messaging.MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.sub.ch:
			if !ok {
				return messaging.ErrClosed(nil)
			}
			if err := handler(ctx, msg); err != nil {
				return messaging.ErrConsumeFailed(err)
			}
		}
	}
}

func (c *consumer) Close() error { return nil }
