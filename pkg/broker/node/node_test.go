package node_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/durability/adapters/memory"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/node"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/wire"
	"github.com/chris-alexander-pop/relaymq/pkg/consensus"
	single "github.com/chris-alexander-pop/relaymq/pkg/consensus/adapters/single"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, sink node.LocalSink) (*node.Node, *single.Engine) {
	t.Helper()
	engine := single.New()
	return node.New(broker.NewNodeId(), engine, memory.New(), nil, sink), engine
}

func propose(t *testing.T, engine *single.Engine, e wire.Entry) {
	t.Helper()
	data, err := wire.Encode(e)
	require.NoError(t, err)
	_, err = engine.Propose(context.Background(), data)
	require.NoError(t, err)
}

func TestLoadTopicCreatesOnce(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNode(t, nil)

	t1, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)
	t2, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)
	require.Same(t, t1, t2)
}

func TestSendMessageWithNoSubscriberReturnsNoAvailableTarget(t *testing.T) {
	ctx := context.Background()
	n, _ := newTestNode(t, nil)
	_, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)

	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetPush, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	reporter := n.SendMessage(ctx, "orders", m)

	select {
	case res := <-reporter:
		require.Error(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_message to resolve")
	}
}

func TestSendMessageDeliversToLocalSinkAndCompletesOnAck(t *testing.T) {
	ctx := context.Background()
	delivered := make(chan broker.Message, 1)
	n, engine := newTestNode(t, func(ep broker.EndpointAddr, msg broker.Message) {
		delivered <- msg
	})

	_, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)

	ep := broker.NewEndpointAddr()
	propose(t, engine, wire.Entry{
		Kind: wire.KindEndpointOnline, TopicCode: "orders", Ep: ep,
		Interests: []string{"orders.created"}, At: time.Now().UTC(),
	})

	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	reporter := n.SendMessage(ctx, "orders", m)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}

	propose(t, engine, wire.Entry{
		Kind:      wire.KindMessageStateUpdate,
		TopicCode: "orders",
		MessageId: m.Id,
		Updates:   []wire.StatusUpdate{{Ep: ep, Status: broker.StatusSent}},
	})

	select {
	case res := <-reporter:
		require.NoError(t, res.Err)
		require.Equal(t, broker.StatusSent, res.Status[ep])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_message to resolve after ack")
	}
}

func TestEndpointOnlineFacadeDeliversToLocalSinkAndSetEpInterestNarrowsMatch(t *testing.T) {
	ctx := context.Background()
	delivered := make(chan broker.Message, 1)
	n, _ := newTestNode(t, func(ep broker.EndpointAddr, msg broker.Message) {
		delivered <- msg
	})

	_, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)

	ep := broker.NewEndpointAddr()
	require.NoError(t, n.EndpointOnline(ctx, "orders", ep, []string{"orders.created"}))

	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	n.SendMessage(ctx, "orders", m)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery after EndpointOnline")
	}

	require.NoError(t, n.SetEpInterest(ctx, "orders", ep, []string{"orders.shipped"}))

	m2 := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetPush, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	reporter := n.SendMessage(ctx, "orders", m2)
	select {
	case res := <-reporter:
		require.Error(t, res.Err, "ep no longer interested in orders.created after SetEpInterest")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_message to resolve after SetEpInterest narrowed match")
	}

	require.NoError(t, n.EndpointOffline(ctx, "orders", ep))
	m3 := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetPush, Subjects: []string{"orders.shipped"}, AckKind: broker.AckSent},
	}
	reporter3 := n.SendMessage(ctx, "orders", m3)
	select {
	case res := <-reporter3:
		require.Error(t, res.Err, "ep removed from routing after EndpointOffline, no Push target available")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send_message to resolve after EndpointOffline")
	}
}

// flakyEngine wraps a *single.Engine, failing the first failUntil Propose
// calls before delegating, so tests can exercise Node's circuit
// breaker/retry wrapping without a real network partition.
type flakyEngine struct {
	*single.Engine
	attempts  atomic.Int32
	failUntil int32
}

func (f *flakyEngine) Propose(ctx context.Context, data []byte) (consensus.CommitResult, error) {
	if f.attempts.Add(1) <= f.failUntil {
		return consensus.CommitResult{}, errors.New("flaky: induced failure")
	}
	return f.Engine.Propose(ctx, data)
}

func TestLoadTopicRetriesThroughTransientProposeFailures(t *testing.T) {
	ctx := context.Background()
	engine := &flakyEngine{Engine: single.New(), failUntil: 2}
	n := node.New(broker.NewNodeId(), engine, memory.New(), nil, nil)

	topicHandle, err := n.LoadTopic(ctx, "orders", topic.Config{})
	require.NoError(t, err)
	require.NotNil(t, topicHandle)
	require.EqualValues(t, 3, engine.attempts.Load())
}
