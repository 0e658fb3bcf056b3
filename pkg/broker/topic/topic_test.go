package topic_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/interest"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/queue"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/wire"
	pkgerrors "github.com/chris-alexander-pop/relaymq/pkg/errors"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, tp *topic.TopicData, ep broker.EndpointAddr, pattern string) {
	t.Helper()
	p, ok := interest.Parse(pattern)
	require.True(t, ok)
	tp.EpOnline(ep, []interest.Pattern{p}, broker.NewNodeId(), time.Now().UTC())
}

func TestHoldNewMessageRejectsPushWithNoRecipient(t *testing.T) {
	tp := topic.New("orders", topic.Config{}, nil)
	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetPush, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	err := tp.HoldNewMessage(m, time.Now(), nil)
	require.Error(t, err)
	require.Equal(t, "BROKER_NO_TARGET", pkgerrors.CodeOf(err))
}

// TestDurableAdmitsWithNoRecipientThenLateJoinCompletes covers spec scenario
// 3: a Durable message admitted while no endpoint matches still admits (an
// empty status map, not NoAvailableTarget); a later ep_online extends it and
// an eventual Processed ack flushes it.
func TestDurableAdmitsWithNoRecipientThenLateJoinCompletes(t *testing.T) {
	tp := topic.New("orders", topic.Config{}, nil)
	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckProcessed},
	}
	reporter := queue.NewReporter()
	require.NoError(t, tp.HoldNewMessage(m, time.Now(), reporter))

	select {
	case <-reporter:
		t.Fatal("message must not flush before any endpoint is tracked")
	default:
	}

	ep := broker.NewEndpointAddr()
	subscribe(t, tp, ep, "orders.created")

	tp.UpdateAndFlush(m.Id, []topic.StatusUpdate{{Ep: ep, Status: broker.StatusProcessed}})

	select {
	case res := <-reporter:
		require.NoError(t, res.Err)
		require.Equal(t, broker.StatusProcessed, res.Status[ep])
	default:
		t.Fatal("expected reporter to resolve once the late-joined endpoint processed")
	}
}

func TestHoldNewMessageFlushesOnImmediateCompletion(t *testing.T) {
	tp := topic.New("orders", topic.Config{}, nil)
	ep := broker.NewEndpointAddr()
	subscribe(t, tp, ep, "orders.created")

	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckSent},
	}
	reporter := queue.NewReporter()
	require.NoError(t, tp.HoldNewMessage(m, time.Now(), reporter))

	tp.UpdateAndFlush(m.Id, []topic.StatusUpdate{{Ep: ep, Status: broker.StatusSent}})

	select {
	case res := <-reporter:
		require.NoError(t, res.Err)
		require.Equal(t, broker.StatusSent, res.Status[ep])
	default:
		t.Fatal("expected reporter to resolve once AckSent satisfied")
	}
}

func TestDurableLateJoinerReceivesInFlightMessage(t *testing.T) {
	tp := topic.New("orders", topic.Config{}, nil)
	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckProcessed},
	}

	earlyEp := broker.NewEndpointAddr()
	subscribe(t, tp, earlyEp, "orders.created")

	reporter := queue.NewReporter()
	require.NoError(t, tp.HoldNewMessage(m, time.Now(), reporter))

	lateEp := broker.NewEndpointAddr()
	subscribe(t, tp, lateEp, "orders.created")

	tp.UpdateAndFlush(m.Id, []topic.StatusUpdate{
		{Ep: earlyEp, Status: broker.StatusProcessed},
		{Ep: lateEp, Status: broker.StatusProcessed},
	})

	select {
	case res := <-reporter:
		require.NoError(t, res.Err)
		require.Len(t, res.Status, 2)
	default:
		t.Fatal("expected reporter to resolve once both endpoints processed")
	}
}

func TestPushTargetIsDeterministic(t *testing.T) {
	tp := topic.New("fanout", topic.Config{}, nil)
	var eps []broker.EndpointAddr
	for i := 0; i < 5; i++ {
		ep := broker.NewEndpointAddr()
		eps = append(eps, ep)
		subscribe(t, tp, ep, "fanout.>")
	}

	m := broker.Message{
		Id:     broker.NewMessageId(),
		Header: broker.Header{TargetKind: broker.TargetPush, Subjects: []string{"fanout.x"}, AckKind: broker.AckSent},
	}

	var firstTarget broker.EndpointAddr
	for i := 0; i < 3; i++ {
		reporter := queue.NewReporter()
		mm := m
		mm.Id = m.Id // identical message id => identical target every time
		require.NoError(t, tp.HoldNewMessage(mm, time.Now(), reporter))
		hm, ok := lookupFirstHeld(tp)
		require.True(t, ok)
		require.Len(t, hm.WaitAck.Status, 1)
		var target broker.EndpointAddr
		for ep := range hm.WaitAck.Status {
			target = ep
		}
		if i == 0 {
			firstTarget = target
		} else {
			require.Equal(t, firstTarget, target, "push target must be deterministic for the same message id")
		}
		tp.UpdateAndFlush(mm.Id, []topic.StatusUpdate{{Ep: target, Status: broker.StatusSent}})
	}
}

func lookupFirstHeld(tp *topic.TopicData) (broker.HoldMessage, bool) {
	snap := tp.Snapshot()
	if len(snap.Queue) == 0 {
		return broker.HoldMessage{}, false
	}
	return snap.Queue[0], true
}

func TestOverflowDropOldResolvesEvictedWaiterWithError(t *testing.T) {
	tp := topic.New("bounded", topic.Config{Overflow: queue.OverflowConfig{Enabled: true, Size: 1, Policy: queue.OverflowDropOld}}, nil)
	ep := broker.NewEndpointAddr()
	subscribe(t, tp, ep, "bounded.x")

	m1 := broker.Message{Id: broker.NewMessageId(), Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"bounded.x"}, AckKind: broker.AckProcessed}}
	r1 := queue.NewReporter()
	require.NoError(t, tp.HoldNewMessage(m1, time.Now(), r1))

	m2 := broker.Message{Id: broker.NewMessageId(), Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"bounded.x"}, AckKind: broker.AckProcessed}}
	require.NoError(t, tp.HoldNewMessage(m2, time.Now().Add(time.Millisecond), queue.NewReporter()))

	select {
	case res := <-r1:
		require.Error(t, res.Err)
	default:
		t.Fatal("expected m1's reporter to be resolved with an overflow error")
	}
	require.Equal(t, 1, tp.Len())
}

func TestOverflowRejectNewResolvesIncomingWaiterWithError(t *testing.T) {
	tp := topic.New("bounded", topic.Config{Overflow: queue.OverflowConfig{Enabled: true, Size: 1, Policy: queue.OverflowRejectNew}}, nil)
	ep := broker.NewEndpointAddr()
	subscribe(t, tp, ep, "bounded.x")

	m1 := broker.Message{Id: broker.NewMessageId(), Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"bounded.x"}, AckKind: broker.AckProcessed}}
	require.NoError(t, tp.HoldNewMessage(m1, time.Now(), queue.NewReporter()))

	m2 := broker.Message{Id: broker.NewMessageId(), Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"bounded.x"}, AckKind: broker.AckProcessed}}
	r2 := queue.NewReporter()
	err := tp.HoldNewMessage(m2, time.Now().Add(time.Millisecond), r2)
	require.Error(t, err)

	select {
	case res := <-r2:
		require.Error(t, res.Err)
	default:
		t.Fatal("expected m2's own reporter to be resolved with an overflow error instead of leaking")
	}
	require.Equal(t, 1, tp.Len())
}

func TestSnapshotRoundTripPreservesQueueAndEndpoints(t *testing.T) {
	tp := topic.New("orders", topic.Config{}, nil)
	ep := broker.NewEndpointAddr()
	subscribe(t, tp, ep, "orders.created")

	m := broker.Message{Id: broker.NewMessageId(), Header: broker.Header{TargetKind: broker.TargetDurable, Subjects: []string{"orders.created"}, AckKind: broker.AckProcessed}}
	require.NoError(t, tp.HoldNewMessage(m, time.Now().UTC(), queue.NewReporter()))

	snap := tp.Snapshot()
	encoded := wire.EncodeSnapshot(snap)
	decoded, err := wire.DecodeSnapshot(encoded)
	require.NoError(t, err)

	rebuilt := topic.FromSnapshot("orders", decoded, nil)
	require.Equal(t, tp.Len(), rebuilt.Len())

	reSnap := rebuilt.Snapshot()
	require.Equal(t, snap.Endpoints, reSnap.Endpoints)
	require.Equal(t, len(snap.Queue), len(reSnap.Queue))
}
