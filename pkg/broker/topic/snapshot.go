package topic

import (
	"sort"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/interest"
)

// EndpointSnapshot is one row of the routing/activity/interest tables.
type EndpointSnapshot struct {
	Ep        broker.EndpointAddr
	Host      broker.NodeId
	LastActive time.Time
	Interests []string
}

// Snapshot is the full, deterministic state of one topic at a given log
// index: §3 invariant 5 requires that replaying any prefix L followed by
// installing S is equivalent to installing S alone.
type Snapshot struct {
	Config    Config
	Endpoints []EndpointSnapshot
	Queue     []broker.HoldMessage // ordered by admission time
}

// Snapshot produces a deterministic point-in-time view of t. Endpoints and
// queue entries are both emitted in a fixed sort order so byte-identical
// encoding (pkg/broker/wire) produces byte-identical snapshots across
// replicas that applied the same log prefix.
func (t *TopicData) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	eps := make([]broker.EndpointAddr, 0, len(t.routing))
	for ep := range t.routing {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Less(eps[j]) })

	endpoints := make([]EndpointSnapshot, 0, len(eps))
	for _, ep := range eps {
		patterns := t.interests.Patterns(ep)
		raw := make([]string, 0, len(patterns))
		for _, p := range patterns {
			raw = append(raw, p.String())
		}
		sort.Strings(raw)
		endpoints = append(endpoints, EndpointSnapshot{
			Ep:         ep,
			Host:       t.routing[ep],
			LastActive: t.activity[ep],
			Interests:  raw,
		})
	}

	mids := t.queue.All()
	held := make([]broker.HoldMessage, 0, len(mids))
	for _, mid := range mids {
		if hm, ok := t.queue.Get(mid); ok {
			held = append(held, hm)
		}
	}

	return Snapshot{Config: t.Config, Endpoints: endpoints, Queue: held}
}

// FromSnapshot rebuilds a topic from s. Messages are re-admitted in
// admission order with a nil reporter: surviving waiters do not carry over
// a snapshot install, per §3 ownership (local waiters are rebuilt by
// re-scanning the queue, not by the snapshot).
func FromSnapshot(code broker.TopicCode, s Snapshot, dispatch func(ep broker.EndpointAddr, msg broker.Message)) *TopicData {
	t := New(code, s.Config, dispatch)

	for _, e := range s.Endpoints {
		t.routing[e.Ep] = e.Host
		t.activity[e.Ep] = e.LastActive
		for _, raw := range e.Interests {
			if p, ok := interest.Parse(raw); ok {
				t.interests.Insert(p, e.Ep)
			}
		}
	}

	for _, hm := range s.Queue {
		_ = t.queue.Push(hm, nil)
	}
	for _, hm := range s.Queue {
		t.updateAndFlushLocked(hm.Message.Id, nil)
	}

	return t
}
