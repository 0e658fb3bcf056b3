// Package topic implements the per-topic state machine: the routing,
// activity, and interest tables plus the message queue, and the
// deterministic mutators the log applier drives.
package topic

import (
	"sort"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/brokererr"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/hashutil"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/interest"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/queue"
	"github.com/chris-alexander-pop/relaymq/pkg/concurrency"
)

// TopicData aggregates the routing, activity, and interest tables plus the
// message queue for one topic. It is exclusively mutated by one apply
// loop; reads take the shared reader lock, never contending with each
// other or blocking the single writer beyond one entry's apply.
type TopicData struct {
	Code   broker.TopicCode
	Config Config

	mu        *concurrency.SmartRWMutex
	routing   map[broker.EndpointAddr]broker.NodeId
	activity  map[broker.EndpointAddr]time.Time
	interests *interest.Index
	queue     *queue.MessageQueue
}

// New constructs an empty topic. dispatch delivers Unsent messages to
// locally-attached endpoints; it may be nil for replicas with no local
// endpoint SDK attachments.
func New(code broker.TopicCode, cfg Config, dispatch queue.Dispatcher) *TopicData {
	return &TopicData{
		Code:      code,
		Config:    cfg,
		mu:        concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "topic:" + string(code)}),
		routing:   make(map[broker.EndpointAddr]broker.NodeId),
		activity:  make(map[broker.EndpointAddr]time.Time),
		interests: interest.New(),
		queue:     queue.New(cfg.Overflow, dispatch),
	}
}

// HoldNewMessage implements §4.5: compute the recipient set for m, apply
// the overflow policy, admit, and attempt an immediate initial dispatch.
// at is the entry's replicated timestamp, never wall-clock. A Durable
// message with no currently-matching endpoint still admits, with an empty
// status map, and picks up late-joining endpoints via EpOnline's
// retro-subscription (§4.6). Push and Online reject an empty recipient set
// with NoAvailableTarget, since no later event extends their status maps.
func (t *TopicData) HoldNewMessage(m broker.Message, at time.Time, reporter queue.Reporter) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	recipients, err := t.resolveRecipientsLocked(m)
	if err != nil {
		reporter.Resolve(queue.Result{Err: err})
		return err
	}

	hm := broker.HoldMessage{
		Message:    m,
		WaitAck:    broker.NewWaitAck(m.Header.AckKind, recipients),
		AdmittedAt: at,
	}
	if err := t.queue.Push(hm, reporter); err != nil {
		// Push already resolved reporter (RejectNew) with the overflow
		// error; report the same error to the caller.
		return err
	}

	t.updateAndFlushLocked(m.Id, nil)
	return nil
}

// resolveRecipientsLocked computes R per §4.5 step 1. Caller must hold
// t.mu (read or write; only reads the interest index).
func (t *TopicData) resolveRecipientsLocked(m broker.Message) ([]broker.EndpointAddr, error) {
	switch m.Header.TargetKind {
	case broker.TargetDurable:
		return t.unionInterestLocked(m.Header.Subjects), nil
	case broker.TargetOnline:
		recipients := t.unionInterestLocked(m.Header.Subjects)
		if len(recipients) == 0 {
			return nil, brokererr.NoAvailableTarget("no endpoint matched message subjects")
		}
		return recipients, nil
	case broker.TargetPush:
		candidates := t.unionInterestLocked(m.Header.Subjects)
		if len(candidates) == 0 {
			return nil, brokererr.NoAvailableTarget("no endpoint matched message subjects")
		}
		sort.Slice(candidates, func(i, j int) bool {
			hi, hj := hashutil.Hash64(candidates[i].Bytes()), hashutil.Hash64(candidates[j].Bytes())
			if hi != hj {
				return hi < hj
			}
			return candidates[i].Less(candidates[j])
		})
		idx := hashutil.Hash64(m.Id.Bytes()) % uint64(len(candidates))
		return []broker.EndpointAddr{candidates[idx]}, nil
	case broker.TargetAvailable:
		return nil, brokererr.Unsupported("Available target kind is not implemented")
	default:
		return nil, brokererr.Unsupported("unknown target kind")
	}
}

func (t *TopicData) unionInterestLocked(subjects []string) []broker.EndpointAddr {
	seen := make(map[broker.EndpointAddr]struct{})
	for _, s := range subjects {
		for _, ep := range t.interests.Find(s) {
			seen[ep] = struct{}{}
		}
	}
	out := make([]broker.EndpointAddr, 0, len(seen))
	for ep := range seen {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// StatusUpdate is one (endpoint, status) pair of a MessageStateUpdate
// entry.
type StatusUpdate struct {
	Ep     broker.EndpointAddr
	Status broker.MessageStatus
}

// UpdateAndFlush implements §4.5's update_and_flush: apply each ack
// update, poll, and flush if the message became ready. Returns the ids
// flushed as a result (always a prefix of admission order).
func (t *TopicData) UpdateAndFlush(mid broker.MessageId, updates []StatusUpdate) []broker.MessageId {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updateAndFlushLocked(mid, updates)
}

func (t *TopicData) updateAndFlushLocked(mid broker.MessageId, updates []StatusUpdate) []broker.MessageId {
	for _, u := range updates {
		t.queue.UpdateAck(mid, u.Ep, u.Status)
	}
	complete, found := t.queue.Poll(mid)
	if found && complete {
		return t.queue.Flush()
	}
	return nil
}

// EpOnline implements §4.6: attach ep with its interests, and for every
// Durable hold message whose subjects match a newly registered interest
// and whose status map does not yet contain ep, extend that message's
// tracking and re-poll it.
func (t *TopicData) EpOnline(ep broker.EndpointAddr, patterns []interest.Pattern, host broker.NodeId, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.routing[ep] = host
	t.activity[ep] = at
	for _, p := range patterns {
		t.interests.Insert(p, ep)
	}

	for _, mid := range t.queue.All() {
		hm, ok := t.queue.Get(mid)
		if !ok || hm.Message.Header.TargetKind != broker.TargetDurable {
			continue
		}
		if _, tracked := hm.WaitAck.Status[ep]; tracked {
			continue
		}
		matched := false
		for _, s := range hm.Message.Header.Subjects {
			for _, p := range patterns {
				if p.Matches(s) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			continue
		}
		if t.queue.AddRecipient(mid, ep) {
			t.updateAndFlushLocked(mid, nil)
		}
	}
}

// EpOffline implements §4.6: remove ep from routing, interest, and
// activity tables. In-flight status rows are left untouched.
func (t *TopicData) EpOffline(ep broker.EndpointAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routing, ep)
	delete(t.activity, ep)
	t.interests.Delete(ep)
}

// UpdateEpInterest implements §4.6: replace ep's interests atomically.
func (t *TopicData) UpdateEpInterest(ep broker.EndpointAddr, patterns []interest.Pattern) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interests.Delete(ep)
	for _, p := range patterns {
		t.interests.Insert(p, ep)
	}
}

// Heartbeat bumps ep's last-active timestamp without altering membership.
func (t *TopicData) Heartbeat(ep broker.EndpointAddr, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.routing[ep]; ok {
		t.activity[ep] = at
	}
}

// Unload drains the queue, resolving every outstanding waiter with
// MessageDropped (§4.9 delete_topic).
func (t *TopicData) Unload() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue.Drain()
}

// Len returns the number of held messages (read path, takes the reader
// lock).
func (t *TopicData) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queue.Len()
}
