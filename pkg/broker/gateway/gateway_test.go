package gateway_test

import (
	"context"
	"testing"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	durmemory "github.com/chris-alexander-pop/relaymq/pkg/broker/durability/adapters/memory"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/gateway"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/node"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/wire"
	single "github.com/chris-alexander-pop/relaymq/pkg/consensus/adapters/single"
	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
	msgmemory "github.com/chris-alexander-pop/relaymq/pkg/messaging/adapters/memory"
	"github.com/stretchr/testify/require"
)

func TestIngressDeliversToLocalSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := single.New()
	delivered := make(chan broker.Message, 1)
	n := node.New(broker.NewNodeId(), engine, durmemory.New(), nil, func(ep broker.EndpointAddr, msg broker.Message) {
		delivered <- msg
	})

	_, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)

	ep := broker.NewEndpointAddr()
	data, err := wire.Encode(wire.Entry{
		Kind: wire.KindEndpointOnline, TopicCode: "orders", Ep: ep,
		Interests: []string{"orders.created"}, At: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = engine.Propose(ctx, data)
	require.NoError(t, err)

	transport := msgmemory.New(msgmemory.Config{BufferSize: 4})
	consumer, err := transport.Consumer("orders.created", "")
	require.NoError(t, err)
	producer, err := transport.Producer("orders.created")
	require.NoError(t, err)

	ingress := gateway.NewIngress(n, consumer, gateway.Config{
		Topic:      "orders",
		TargetKind: broker.TargetDurable,
		AckKind:    broker.AckSent,
	})

	done := make(chan error, 1)
	go func() { done <- ingress.Run(ctx) }()

	require.NoError(t, producer.Publish(ctx, &messaging.Message{Topic: "orders.created", Payload: []byte("payload")}))

	select {
	case msg := <-delivered:
		require.Equal(t, []byte("payload"), msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway-forwarded delivery")
	}

	cancel()
	<-done
}
