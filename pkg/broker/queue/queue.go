// Package queue implements the per-topic hold-and-ack message queue:
// admission order, overflow policy, monotone ack tracking, and strictly
// in-order flush. It composes pkg/datastructures/queue.Queue's admission
// ordering with a map for keyed O(1) lookup, since the generic Queue[T]
// does not itself support updates by key.
package queue

import (
	"sort"
	"sync"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/brokererr"
	genericqueue "github.com/chris-alexander-pop/relaymq/pkg/datastructures/queue"
)

// OverflowPolicy decides what happens when the queue is at capacity.
type OverflowPolicy int

const (
	// OverflowNone disables the check: the queue is unbounded.
	OverflowNone OverflowPolicy = iota
	// OverflowRejectNew refuses the incoming message.
	OverflowRejectNew
	// OverflowDropOld evicts the current head before admitting.
	OverflowDropOld
)

// OverflowConfig bounds queue depth.
type OverflowConfig struct {
	Enabled bool
	Size    int
	Policy  OverflowPolicy
}

// Result is delivered to a Reporter exactly once: either the message's
// final per-endpoint status map, or an error describing why it never got
// that far.
type Result struct {
	Status map[broker.EndpointAddr]broker.MessageStatus
	Err    error
}

// Reporter is a single-shot channel resolving a send_message future. It
// must be buffered by 1 so Resolve never blocks on an abandoned waiter.
type Reporter chan Result

// NewReporter allocates a reporter ready to receive exactly one Result.
func NewReporter() Reporter {
	return make(Reporter, 1)
}

// Resolve delivers r exactly once. Safe to call on a nil reporter (no
// waiter registered, e.g. replay with no surviving local waiters).
func (rep Reporter) Resolve(r Result) {
	if rep == nil {
		return
	}
	select {
	case rep <- r:
	default:
		// already resolved; every caller resolves at most once by
		// construction, but guard against double-resolve defensively.
	}
}

// Dispatcher delivers msg to a locally-attached endpoint. The queue calls
// it opportunistically on admission, on poll, and is not itself responsible
// for marking the result — callers observe delivery outcomes via
// UpdateAck.
type Dispatcher func(ep broker.EndpointAddr, msg broker.Message)

// MessageQueue is the FIFO of hold messages for one topic. Admission order
// is kept in a genericqueue.Queue of ids (adapted from
// pkg/datastructures/queue.Queue); the map gives O(1) keyed lookup that the
// bare generic queue cannot.
type MessageQueue struct {
	mu       sync.Mutex
	order    *genericqueue.Queue[broker.MessageId]
	holds    map[broker.MessageId]*broker.HoldMessage
	waiting  map[broker.MessageId]Reporter
	overflow OverflowConfig
	dispatch Dispatcher
}

func New(overflow OverflowConfig, dispatch Dispatcher) *MessageQueue {
	return &MessageQueue{
		order:    genericqueue.New[broker.MessageId](),
		holds:    make(map[broker.MessageId]*broker.HoldMessage),
		waiting:  make(map[broker.MessageId]Reporter),
		overflow: overflow,
		dispatch: dispatch,
	}
}

// Len returns the number of held messages.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Push admits hm, applying the overflow policy first if the queue is at
// capacity. When RejectNew fires, hm is never admitted, reporter itself is
// resolved with Overflow, and err reports the same Overflow error. When
// DropOld fires, the current head is evicted and its reporter resolved with
// Overflow before hm is admitted.
func (q *MessageQueue) Push(hm broker.HoldMessage, reporter Reporter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.overflow.Enabled && q.order.Len() >= q.overflow.Size {
		switch q.overflow.Policy {
		case OverflowRejectNew:
			err := brokererr.Overflow("queue at capacity, rejecting new message")
			if reporter != nil {
				reporter.Resolve(Result{Err: err})
			}
			return err
		case OverflowDropOld:
			q.evictHeadLocked()
		}
	}

	q.order.Enqueue(hm.Message.Id)
	hmCopy := hm
	q.holds[hm.Message.Id] = &hmCopy
	if reporter != nil {
		q.waiting[hm.Message.Id] = reporter
	}

	if q.dispatch != nil {
		q.dispatchUnsentLocked(&hmCopy)
	}
	return nil
}

// evictHeadLocked pops the current head and resolves its waiter with
// Overflow. Caller must hold q.mu.
func (q *MessageQueue) evictHeadLocked() {
	mid, ok := q.order.Dequeue()
	if !ok {
		return
	}
	delete(q.holds, mid)
	if rep, ok := q.waiting[mid]; ok {
		rep.Resolve(Result{Err: brokererr.Overflow("evicted by DropOld overflow policy")})
		delete(q.waiting, mid)
	}
}

// Get returns the hold message for mid, if present.
func (q *MessageQueue) Get(mid broker.MessageId) (broker.HoldMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	hm, ok := q.holds[mid]
	if !ok {
		return broker.HoldMessage{}, false
	}
	return *hm, true
}

// All returns every held message id in admission order. Order is recovered
// by sorting on AdmittedAt (set from the log entry, never wall-clock) with
// the message id as a deterministic tiebreaker, since the backing
// genericqueue.Queue does not support non-destructive iteration.
func (q *MessageQueue) All() []broker.MessageId {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]broker.MessageId, 0, len(q.holds))
	for mid := range q.holds {
		out = append(out, mid)
	}
	sort.Slice(out, func(i, j int) bool {
		hi, hj := q.holds[out[i]], q.holds[out[j]]
		if !hi.AdmittedAt.Equal(hj.AdmittedAt) {
			return hi.AdmittedAt.Before(hj.AdmittedAt)
		}
		return string(out[i].Bytes()) < string(out[j].Bytes())
	})
	return out
}

// AddRecipient inserts ep into mid's status map at Unsent if absent. Used
// by ep_online's Durable retro-subscription. Returns false if mid is not
// held or ep is already tracked.
func (q *MessageQueue) AddRecipient(mid broker.MessageId, ep broker.EndpointAddr) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	hm, ok := q.holds[mid]
	if !ok {
		return false
	}
	if _, exists := hm.WaitAck.Status[ep]; exists {
		return false
	}
	hm.WaitAck.Status[ep] = broker.StatusUnsent
	return true
}

// UpdateAck applies a monotone status update for (mid, from). A non-forward
// transition is a silent no-op per §4.3. Returns whether the message is now
// complete, and whether mid was found at all.
func (q *MessageQueue) UpdateAck(mid broker.MessageId, from broker.EndpointAddr, status broker.MessageStatus) (complete bool, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	hm, ok := q.holds[mid]
	if !ok {
		return false, false
	}
	current, tracked := hm.WaitAck.Status[from]
	if !tracked || current.Advances(status) {
		hm.WaitAck.Status[from] = status
	}
	return hm.WaitAck.Complete(), true
}

// dispatchUnsentLocked redispatches hm to every endpoint still at Unsent.
// Caller must hold q.mu.
func (q *MessageQueue) dispatchUnsentLocked(hm *broker.HoldMessage) {
	for ep, status := range hm.WaitAck.Status {
		if status == broker.StatusUnsent {
			q.dispatch(ep, hm.Message)
		}
	}
}

// Poll re-dispatches mid to any Unsent endpoints when it is not yet
// complete. Callers decide whether to follow with Flush when the message
// is complete; Poll itself does not flush, since completion of a
// non-head message must still wait behind its predecessors (§4.3).
func (q *MessageQueue) Poll(mid broker.MessageId) (complete bool, found bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	hm, ok := q.holds[mid]
	if !ok {
		return false, false
	}
	if hm.WaitAck.Complete() {
		return true, true
	}
	if q.dispatch != nil {
		q.dispatchUnsentLocked(hm)
	}
	return false, true
}

// Flush pops the head repeatedly while it is complete, resolving each
// popped message's waiter with its final status map. It stops at the first
// incomplete (or absent) head, preserving strict in-order delivery.
func (q *MessageQueue) Flush() []broker.MessageId {
	q.mu.Lock()
	defer q.mu.Unlock()

	var flushed []broker.MessageId
	for {
		mid, ok := q.order.Peek()
		if !ok {
			break
		}
		hm, held := q.holds[mid]
		if !held || !hm.WaitAck.Complete() {
			break
		}
		q.order.Dequeue()
		delete(q.holds, mid)
		if rep, ok := q.waiting[mid]; ok {
			status := make(map[broker.EndpointAddr]broker.MessageStatus, len(hm.WaitAck.Status))
			for ep, s := range hm.WaitAck.Status {
				status[ep] = s
			}
			rep.Resolve(Result{Status: status})
			delete(q.waiting, mid)
		}
		flushed = append(flushed, mid)
	}
	return flushed
}

// Drain empties the queue unconditionally (topic unload), resolving every
// outstanding waiter with MessageDropped.
func (q *MessageQueue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		mid, ok := q.order.Dequeue()
		if !ok {
			break
		}
		if rep, ok := q.waiting[mid]; ok {
			rep.Resolve(Result{Err: brokererr.MessageDropped("topic unloaded")})
		}
	}
	q.holds = make(map[broker.MessageId]*broker.HoldMessage)
	q.waiting = make(map[broker.MessageId]Reporter)
}
