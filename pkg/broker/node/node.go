// Package node implements the Node Facade (§4.9): the topic registry,
// leader-gated create/load/delete, send_message waiter bridging, and the
// single apply loop translating committed log entries into topic
// mutations.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/brokererr"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/durability"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/interest"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/metrics"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/queue"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/wire"
	"github.com/chris-alexander-pop/relaymq/pkg/concurrency"
	"github.com/chris-alexander-pop/relaymq/pkg/consensus"
	"github.com/chris-alexander-pop/relaymq/pkg/logger"
	"github.com/chris-alexander-pop/relaymq/pkg/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pkg/broker/node")

// LocalSink receives messages addressed to a locally-attached endpoint.
type LocalSink func(ep broker.EndpointAddr, msg broker.Message)

// Node owns the topic registry for one broker instance and is the sole
// entry point local callers (endpoint SDK, gateway) use.
type Node struct {
	ID         broker.NodeId
	engine     consensus.Engine
	durability durability.Service
	metrics    *metrics.Metrics
	localSink  LocalSink

	mu               sync.RWMutex
	topics           map[broker.TopicCode]*topic.TopicData
	pendingReporters map[broker.MessageId]queue.Reporter

	proposeBreaker *resilience.CircuitBreaker
	proposeRetry   resilience.RetryConfig
}

// New constructs a Node bound to engine for replication and durability for
// snapshot persistence. localSink delivers messages to this process's
// locally-attached endpoints; pass nil if this node hosts none. Proposals
// are wrapped in a circuit breaker plus bounded retry, mirroring
// pkg/messaging.ResilientBroker's treatment of Producer.Publish — a
// flapping consensus engine should fail fast rather than pile up proposers.
func New(id broker.NodeId, engine consensus.Engine, dur durability.Service, m *metrics.Metrics, localSink LocalSink) *Node {
	n := &Node{
		ID:               id,
		engine:           engine,
		durability:       dur,
		metrics:          m,
		localSink:        localSink,
		topics:           make(map[broker.TopicCode]*topic.TopicData),
		pendingReporters: make(map[broker.MessageId]queue.Reporter),
		proposeBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "node.propose",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          10 * time.Second,
		}),
		proposeRetry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 25 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			Multiplier:     2.0,
		},
	}
	committed := n.engine.Subscribe()
	concurrency.SafeGo(context.Background(), func() {
		n.runApplyLoop(committed)
	})
	return n
}

func (n *Node) runApplyLoop(committedCh <-chan consensus.CommittedEntry) {
	for committed := range committedCh {
		entry, err := wire.Decode(committed.Data)
		if err != nil {
			logger.L().Error("node: dropping unparseable committed entry", "error", err, "index", committed.Index)
			continue
		}
		n.apply(entry)
	}
}

// proposeResilient wraps engine.Propose in the circuit breaker + retry
// pair, matching pkg/messaging.ResilientBroker's wrapping of Publish: a
// flapping or partitioned consensus engine trips the breaker instead of
// every caller hammering it with retries forever.
func (n *Node) proposeResilient(ctx context.Context, data []byte) (consensus.CommitResult, error) {
	var result consensus.CommitResult
	err := resilience.Retry(ctx, n.proposeRetry, func(ctx context.Context) error {
		return n.proposeBreaker.Execute(ctx, func(ctx context.Context) error {
			res, err := n.engine.Propose(ctx, data)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	return result, err
}

func (n *Node) apply(e wire.Entry) {
	switch e.Kind {
	case wire.KindLoadTopic:
		n.applyLoadTopic(e)
	case wire.KindUnloadTopic:
		n.applyUnloadTopic(e)
	case wire.KindEndpointOnline:
		n.withTopic(e.TopicCode, func(t *topic.TopicData) {
			t.EpOnline(e.Ep, parsePatterns(e.Interests), e.HostNodeId, e.At)
		})
	case wire.KindEndpointOffline:
		n.withTopic(e.TopicCode, func(t *topic.TopicData) {
			t.EpOffline(e.Ep)
		})
	case wire.KindSetEpInterest:
		n.withTopic(e.TopicCode, func(t *topic.TopicData) {
			t.UpdateEpInterest(e.Ep, parsePatterns(e.Interests))
		})
	case wire.KindDelegateMessage:
		n.applyDelegateMessage(e)
	case wire.KindMessageStateUpdate:
		n.withTopic(e.TopicCode, func(t *topic.TopicData) {
			_, span := tracer.Start(context.Background(), "node.update_and_flush", trace.WithAttributes(
				attribute.String("relaymq.topic", string(e.TopicCode)),
				attribute.String("relaymq.message_id", e.MessageId.String()),
			))
			defer span.End()

			updates := make([]topic.StatusUpdate, len(e.Updates))
			for i, u := range e.Updates {
				updates[i] = topic.StatusUpdate{Ep: u.Ep, Status: u.Status}
			}
			t.UpdateAndFlush(e.MessageId, updates)
			span.SetStatus(codes.Ok, "flushed")
		})
	default:
		logger.L().Error("node: unsupported committed entry kind", "kind", e.Kind)
	}
}

func (n *Node) withTopic(code broker.TopicCode, fn func(*topic.TopicData)) {
	n.mu.RLock()
	t, ok := n.topics[code]
	n.mu.RUnlock()
	if !ok {
		logger.L().Warn("node: entry applied against unknown topic", "topic", code)
		return
	}
	fn(t)
}

func (n *Node) applyLoadTopic(e wire.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.topics[e.TopicCode]; exists {
		return
	}

	dispatch := n.dispatcherFor(e.TopicCode)
	if len(e.InitialSnapshot) > 0 {
		snap, err := wire.DecodeSnapshot(e.InitialSnapshot)
		if err != nil {
			logger.L().Error("node: decoding initial snapshot", "topic", e.TopicCode, "error", err)
			return
		}
		n.topics[e.TopicCode] = topic.FromSnapshot(e.TopicCode, snap, dispatch)
		return
	}
	n.topics[e.TopicCode] = topic.New(e.TopicCode, topic.Config{}, dispatch)
}

func (n *Node) applyUnloadTopic(e wire.Entry) {
	n.mu.Lock()
	t, ok := n.topics[e.TopicCode]
	delete(n.topics, e.TopicCode)
	n.mu.Unlock()
	if ok {
		t.Unload()
	}
}

func (n *Node) applyDelegateMessage(e wire.Entry) {
	_, span := tracer.Start(context.Background(), "node.hold_new_message", trace.WithAttributes(
		attribute.String("relaymq.topic", string(e.TopicCode)),
		attribute.String("relaymq.message_id", e.Message.Id.String()),
	))
	defer span.End()

	n.mu.Lock()
	t, ok := n.topics[e.TopicCode]
	reporter := n.pendingReporters[e.Message.Id]
	delete(n.pendingReporters, e.Message.Id)
	n.mu.Unlock()

	if !ok {
		span.SetStatus(codes.Error, "topic not loaded on this replica")
		reporter.Resolve(queue.Result{Err: brokererr.MessageDropped("topic not loaded on this replica")})
		return
	}
	if n.metrics != nil {
		n.metrics.MessagesHeld.Inc()
	}
	if err := t.HoldNewMessage(e.Message, e.At, reporter); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "admitted")
}

func (n *Node) dispatcherFor(code broker.TopicCode) queue.Dispatcher {
	if n.localSink == nil {
		return nil
	}
	return func(ep broker.EndpointAddr, msg broker.Message) {
		n.localSink(ep, msg)
	}
}

func parsePatterns(raw []string) []interest.Pattern {
	out := make([]interest.Pattern, 0, len(raw))
	for _, r := range raw {
		if p, ok := interest.Parse(r); ok {
			out = append(out, p)
		}
	}
	return out
}

// LoadTopic creates the topic if absent, or returns the existing handle.
// Leaders propose the LoadTopic entry and wait for their own applier to
// install it; non-leaders spin on the local registry until a leader's
// entry commits and is applied locally (§4.9).
func (n *Node) LoadTopic(ctx context.Context, code broker.TopicCode, cfg topic.Config) (*topic.TopicData, error) {
	if t, ok := n.lookupTopic(code); ok {
		return t, nil
	}

	if n.engine.IsLeader() {
		// cfg travels as a config-only initial snapshot, which
		// applyLoadTopic installs through topic.FromSnapshot.
		entry := wire.Entry{Kind: wire.KindLoadTopic, TopicCode: code, InitialSnapshot: wire.EncodeSnapshot(topic.Snapshot{Config: cfg})}
		data, err := wire.Encode(entry)
		if err != nil {
			return nil, brokererr.CommitFailed("encoding LoadTopic entry", err)
		}
		if _, err := n.proposeResilient(ctx, data); err != nil {
			return nil, brokererr.CommitFailed("proposing LoadTopic", err)
		}
	}

	for {
		if t, ok := n.lookupTopic(code); ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, brokererr.CommitFailed("waiting for topic to install", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

func (n *Node) lookupTopic(code broker.TopicCode) (*topic.TopicData, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.topics[code]
	return t, ok
}

// SendMessage registers a local waiter under m.Id and proposes
// DelegateMessage. A failed proposal resolves the waiter with
// CommitFailed (§4.9).
func (n *Node) SendMessage(ctx context.Context, code broker.TopicCode, m broker.Message) queue.Reporter {
	reporter := queue.NewReporter()

	n.mu.Lock()
	n.pendingReporters[m.Id] = reporter
	n.mu.Unlock()

	entry := wire.Entry{Kind: wire.KindDelegateMessage, TopicCode: code, Message: m, At: time.Now().UTC()}
	data, err := wire.Encode(entry)
	if err != nil {
		n.failPending(m.Id, fmt.Errorf("encoding DelegateMessage: %w", err))
		return reporter
	}
	if _, err := n.proposeResilient(ctx, data); err != nil {
		n.failPending(m.Id, err)
		return reporter
	}
	return reporter
}

func (n *Node) failPending(mid broker.MessageId, cause error) {
	n.mu.Lock()
	reporter, ok := n.pendingReporters[mid]
	delete(n.pendingReporters, mid)
	n.mu.Unlock()
	if ok {
		reporter.Resolve(queue.Result{Err: brokererr.CommitFailed("proposal rejected", cause)})
	}
}

// DeleteTopic proposes UnloadTopic; appliers drain the queue, resolving
// every outstanding waiter with MessageDropped (§4.9).
func (n *Node) DeleteTopic(ctx context.Context, code broker.TopicCode) error {
	entry := wire.Entry{Kind: wire.KindUnloadTopic, TopicCode: code}
	data, err := wire.Encode(entry)
	if err != nil {
		return brokererr.CommitFailed("encoding UnloadTopic entry", err)
	}
	_, err = n.proposeResilient(ctx, data)
	if err != nil {
		return brokererr.CommitFailed("proposing UnloadTopic", err)
	}
	return nil
}

// EndpointOnline proposes an EndpointOnline entry attaching ep to code with
// patterns, grounded the way SendMessage proposes DelegateMessage (§4.9).
// Only the leader proposes; a follower receiving this call is a routing
// mistake by the caller, not something this facade silently retries around.
func (n *Node) EndpointOnline(ctx context.Context, code broker.TopicCode, ep broker.EndpointAddr, interests []string) error {
	if !n.engine.IsLeader() {
		return brokererr.CommitFailed("proposing EndpointOnline", fmt.Errorf("not leader"))
	}
	entry := wire.Entry{
		Kind:       wire.KindEndpointOnline,
		TopicCode:  code,
		Ep:         ep,
		Interests:  interests,
		HostNodeId: n.ID,
		At:         time.Now().UTC(),
	}
	data, err := wire.Encode(entry)
	if err != nil {
		return brokererr.CommitFailed("encoding EndpointOnline entry", err)
	}
	if _, err := n.proposeResilient(ctx, data); err != nil {
		return brokererr.CommitFailed("proposing EndpointOnline", err)
	}
	return nil
}

// EndpointOffline proposes an EndpointOffline entry detaching ep from code.
func (n *Node) EndpointOffline(ctx context.Context, code broker.TopicCode, ep broker.EndpointAddr) error {
	if !n.engine.IsLeader() {
		return brokererr.CommitFailed("proposing EndpointOffline", fmt.Errorf("not leader"))
	}
	entry := wire.Entry{
		Kind:       wire.KindEndpointOffline,
		TopicCode:  code,
		Ep:         ep,
		HostNodeId: n.ID,
	}
	data, err := wire.Encode(entry)
	if err != nil {
		return brokererr.CommitFailed("encoding EndpointOffline entry", err)
	}
	if _, err := n.proposeResilient(ctx, data); err != nil {
		return brokererr.CommitFailed("proposing EndpointOffline", err)
	}
	return nil
}

// SetEpInterest proposes a SetEpInterest entry replacing ep's subscribed
// patterns on code.
func (n *Node) SetEpInterest(ctx context.Context, code broker.TopicCode, ep broker.EndpointAddr, interests []string) error {
	if !n.engine.IsLeader() {
		return brokererr.CommitFailed("proposing SetEpInterest", fmt.Errorf("not leader"))
	}
	entry := wire.Entry{
		Kind:      wire.KindSetEpInterest,
		TopicCode: code,
		Ep:        ep,
		Interests: interests,
	}
	data, err := wire.Encode(entry)
	if err != nil {
		return brokererr.CommitFailed("encoding SetEpInterest entry", err)
	}
	if _, err := n.proposeResilient(ctx, data); err != nil {
		return brokererr.CommitFailed("proposing SetEpInterest", err)
	}
	return nil
}

// PersistSnapshot snapshots code's current state through durability.
func (n *Node) PersistSnapshot(ctx context.Context, code broker.TopicCode) error {
	t, ok := n.lookupTopic(code)
	if !ok {
		return fmt.Errorf("node: unknown topic %q", code)
	}
	snap := wire.EncodeSnapshot(t.Snapshot())
	return n.durability.PersistSnapshot(ctx, code, snap)
}
