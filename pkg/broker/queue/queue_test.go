package queue_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/brokererr"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/queue"
	pkgerrors "github.com/chris-alexander-pop/relaymq/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newHold(ep broker.EndpointAddr, at time.Time) broker.HoldMessage {
	return broker.HoldMessage{
		Message: broker.Message{
			Id:     broker.NewMessageId(),
			Header: broker.Header{TargetKind: broker.TargetDurable, AckKind: broker.AckProcessed},
		},
		WaitAck:    broker.NewWaitAck(broker.AckProcessed, []broker.EndpointAddr{ep}),
		AdmittedAt: at,
	}
}

func TestPushAndFlushInOrder(t *testing.T) {
	ep := broker.NewEndpointAddr()
	q := queue.New(queue.OverflowConfig{}, nil)

	base := time.Now()
	h1 := newHold(ep, base)
	h2 := newHold(ep, base.Add(time.Millisecond))

	r1, r2 := queue.NewReporter(), queue.NewReporter()
	require.NoError(t, q.Push(h1, r1))
	require.NoError(t, q.Push(h2, r2))
	require.Equal(t, 2, q.Len())

	// h2 completes first; flush must still block on h1 (head-of-line).
	_, found := q.UpdateAck(h2.Message.Id, ep, broker.StatusProcessed)
	require.True(t, found)
	complete, found := q.Poll(h2.Message.Id)
	require.True(t, found)
	require.True(t, complete)
	require.Empty(t, q.Flush(), "head h1 is still incomplete, nothing should flush")

	complete, found = q.UpdateAck(h1.Message.Id, ep, broker.StatusProcessed)
	require.True(t, found)
	require.True(t, complete)
	flushed := q.Flush()
	require.Equal(t, []broker.MessageId{h1.Message.Id, h2.Message.Id}, flushed)

	select {
	case res := <-r1:
		require.NoError(t, res.Err)
	default:
		t.Fatal("expected r1 to be resolved")
	}
	select {
	case res := <-r2:
		require.NoError(t, res.Err)
	default:
		t.Fatal("expected r2 to be resolved")
	}
}

func TestOverflowRejectNew(t *testing.T) {
	ep := broker.NewEndpointAddr()
	q := queue.New(queue.OverflowConfig{Enabled: true, Size: 1, Policy: queue.OverflowRejectNew}, nil)

	require.NoError(t, q.Push(newHold(ep, time.Now()), queue.NewReporter()))
	err := q.Push(newHold(ep, time.Now()), queue.NewReporter())
	require.Error(t, err)
	require.Equal(t, brokererr.CodeOverflow, errCode(t, err))
	require.Equal(t, 1, q.Len())
}

func TestOverflowDropOldEvictsHead(t *testing.T) {
	ep := broker.NewEndpointAddr()
	q := queue.New(queue.OverflowConfig{Enabled: true, Size: 1, Policy: queue.OverflowDropOld}, nil)

	h1 := newHold(ep, time.Now())
	r1 := queue.NewReporter()
	require.NoError(t, q.Push(h1, r1))

	h2 := newHold(ep, time.Now().Add(time.Millisecond))
	require.NoError(t, q.Push(h2, queue.NewReporter()))

	require.Equal(t, 1, q.Len())
	select {
	case res := <-r1:
		require.Error(t, res.Err)
		require.Equal(t, brokererr.CodeOverflow, errCode(t, res.Err))
	default:
		t.Fatal("expected evicted head's reporter to resolve with Overflow")
	}
	_, ok := q.Get(h1.Message.Id)
	require.False(t, ok)
}

func TestDrainResolvesAllWaitersWithDropped(t *testing.T) {
	ep := broker.NewEndpointAddr()
	q := queue.New(queue.OverflowConfig{}, nil)
	r1, r2 := queue.NewReporter(), queue.NewReporter()
	require.NoError(t, q.Push(newHold(ep, time.Now()), r1))
	require.NoError(t, q.Push(newHold(ep, time.Now()), r2))

	q.Drain()

	for _, r := range []queue.Reporter{r1, r2} {
		select {
		case res := <-r:
			require.Error(t, res.Err)
			require.Equal(t, brokererr.CodeMessageDropped, errCode(t, res.Err))
		default:
			t.Fatal("expected reporter to resolve on drain")
		}
	}
	require.Equal(t, 0, q.Len())
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	return pkgerrors.CodeOf(err)
}
