// Package tests holds a shared conformance suite that every messaging.Broker
// adapter can run against its own constructed instance, so driver-specific
// test files stay a one-liner.
package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/messaging"
	"github.com/stretchr/testify/require"
)

// RunBrokerTests exercises publish/consume, batch publish, and independent
// consumer groups against broker. Adapters construct and close their own
// instance; this suite assumes an empty, healthy broker.
func RunBrokerTests(t *testing.T, broker messaging.Broker) {
	t.Helper()

	t.Run("PublishAndConsume", func(t *testing.T) {
		testPublishAndConsume(t, broker)
	})
	t.Run("PublishBatch", func(t *testing.T) {
		testPublishBatch(t, broker)
	})
	t.Run("IndependentConsumerGroups", func(t *testing.T) {
		testIndependentGroups(t, broker)
	})
	t.Run("Healthy", func(t *testing.T) {
		require.True(t, broker.Healthy(context.Background()))
	})
}

func testPublishAndConsume(t *testing.T, broker messaging.Broker) {
	t.Helper()
	topic := "orders." + time.Now().Format("150405.000000000")

	consumer, err := broker.Consumer(topic, "")
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := broker.Producer(topic)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *messaging.Message, 1)
	go func() {
		_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			received <- msg
			cancel()
			return nil
		})
	}()

	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{
		Payload: []byte("hello"),
	}))

	select {
	case msg := <-received:
		require.Equal(t, []byte("hello"), msg.Payload)
		require.NotEmpty(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func testPublishBatch(t *testing.T, broker messaging.Broker) {
	t.Helper()
	topic := "batch." + time.Now().Format("150405.000000000")

	consumer, err := broker.Consumer(topic, "")
	require.NoError(t, err)
	defer consumer.Close()

	producer, err := broker.Producer(topic)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{})
	go func() {
		_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			mu.Lock()
			seen[string(msg.Payload)] = true
			n := len(seen)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		})
	}()

	require.NoError(t, producer.PublishBatch(context.Background(), []*messaging.Message{
		{Payload: []byte("a")},
		{Payload: []byte("b")},
		{Payload: []byte("c")},
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch delivery")
	}
}

func testIndependentGroups(t *testing.T, broker messaging.Broker) {
	t.Helper()
	topic := "fanout." + time.Now().Format("150405.000000000")

	consumerA, err := broker.Consumer(topic, "group-a")
	require.NoError(t, err)
	defer consumerA.Close()

	consumerB, err := broker.Consumer(topic, "group-b")
	require.NoError(t, err)
	defer consumerB.Close()

	producer, err := broker.Producer(topic)
	require.NoError(t, err)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	gotA := make(chan struct{}, 1)
	gotB := make(chan struct{}, 1)
	go func() {
		_ = consumerA.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			select {
			case gotA <- struct{}{}:
			default:
			}
			return nil
		})
	}()
	go func() {
		_ = consumerB.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			select {
			case gotB <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	require.NoError(t, producer.Publish(context.Background(), &messaging.Message{Payload: []byte("both")}))

	for _, ch := range []chan struct{}{gotA, gotB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanout delivery to both groups")
		}
	}
}
