// Package gateway is the optional ingress/egress bridge between the
// generic pkg/messaging transports (memory, Kafka, NATS, ...) and a Node's
// send_message/local-dispatch surface (§2 "Gateway" in the expanded
// component table). It is a convenience entry point, not a core
// dependency: nothing under pkg/broker imports this package.
package gateway

import (
	"context"
	"strings"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/node"
	"github.com/chris-alexander-pop/relaymq/pkg/logger"
	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
)

const subjectsHeader = "relaymq-subjects"

// Config describes how inbound messaging.Message values are translated
// into a DelegateMessage against one topic.
type Config struct {
	Topic      broker.TopicCode
	TargetKind broker.TargetKind
	AckKind    broker.AckKind
}

// Ingress consumes a messaging.Consumer and forwards every message to
// Node.SendMessage, blocking on the result so the consumer's own
// ack/retry contract (§messaging.Consumer) reflects whether the message
// actually got admitted and completed.
type Ingress struct {
	node     *node.Node
	consumer messaging.Consumer
	cfg      Config
}

// NewIngress builds an Ingress delivering consumer's messages into node
// under cfg.
func NewIngress(n *node.Node, consumer messaging.Consumer, cfg Config) *Ingress {
	return &Ingress{node: n, consumer: consumer, cfg: cfg}
}

// Run blocks until ctx is canceled or the underlying consumer errors.
func (g *Ingress) Run(ctx context.Context) error {
	return g.consumer.Consume(ctx, g.handle)
}

func (g *Ingress) handle(ctx context.Context, msg *messaging.Message) error {
	subjects := strings.Split(msg.Headers[subjectsHeader], ",")
	if len(subjects) == 1 && subjects[0] == "" {
		subjects = []string{msg.Topic}
	}

	m := broker.Message{
		Id: broker.NewMessageId(),
		Header: broker.Header{
			TargetKind: g.cfg.TargetKind,
			Subjects:   subjects,
			AckKind:    g.cfg.AckKind,
		},
		Payload: msg.Payload,
	}

	reporter := g.node.SendMessage(ctx, g.cfg.Topic, m)
	select {
	case res := <-reporter:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Egress forwards locally-dispatched messages out through a
// messaging.Producer, keyed by the recipient endpoint address, so a
// remote endpoint process can consume its own topic/queue rather than
// attaching an in-process LocalSink. Bind it as a node.LocalSink via
// Egress.Dispatch.
type Egress struct {
	producer messaging.Producer
}

// NewEgress wraps producer for use as a node.LocalSink.
func NewEgress(producer messaging.Producer) *Egress {
	return &Egress{producer: producer}
}

// Dispatch matches node.LocalSink's signature. Publish failures are
// logged, not propagated: dispatch is best-effort re-delivery, the
// eventual ack (or Unreachable/Failed terminus) still flows back through
// the ordinary MessageStateUpdate log path.
func (e *Egress) Dispatch(ep broker.EndpointAddr, msg broker.Message) {
	out := &messaging.Message{
		ID:      msg.Id.String(),
		Topic:   ep.String(),
		Payload: msg.Payload,
		Headers: map[string]string{subjectsHeader: strings.Join(msg.Header.Subjects, ",")},
	}
	if err := e.producer.Publish(context.Background(), out); err != nil {
		logger.L().Error("gateway: egress publish failed", "endpoint", ep.String(), "error", err)
	}
}
