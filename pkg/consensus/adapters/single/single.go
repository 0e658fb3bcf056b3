// Package single provides a trivial consensus.Engine for unit tests and
// single-node deployments: every proposal commits immediately and this
// replica is always the leader. Grounded in the teacher's in-memory
// adapter pattern (a no-network, immediately-consistent stand-in used
// throughout its cache/secrets adapters) generalized to the consensus
// surface.
package single

import (
	"context"
	"sync"

	"github.com/chris-alexander-pop/relaymq/pkg/consensus"
)

// Engine is an always-leader, always-committed consensus.Engine.
type Engine struct {
	mu      sync.Mutex
	nextIdx uint64
	subs    []chan consensus.CommittedEntry
}

func New() *Engine {
	return &Engine{}
}

var _ consensus.Engine = (*Engine)(nil)

func (e *Engine) Propose(ctx context.Context, data []byte) (consensus.CommitResult, error) {
	e.mu.Lock()
	e.nextIdx++
	idx := e.nextIdx
	subs := append([]chan consensus.CommittedEntry(nil), e.subs...)
	e.mu.Unlock()

	entry := consensus.CommittedEntry{Index: idx, Term: 1, Data: data}
	for _, ch := range subs {
		ch <- entry
	}
	return consensus.CommitResult{Index: idx, Term: 1}, nil
}

func (e *Engine) IsLeader() bool { return true }

func (e *Engine) WaitClusterReady(ctx context.Context) error { return nil }

func (e *Engine) InstallSnapshot(ctx context.Context, snapshot []byte) error { return nil }

func (e *Engine) ExportSnapshot(ctx context.Context) ([]byte, error) { return nil, nil }

func (e *Engine) Subscribe() <-chan consensus.CommittedEntry {
	ch := make(chan consensus.CommittedEntry, 256)
	e.mu.Lock()
	e.subs = append(e.subs, ch)
	e.mu.Unlock()
	return ch
}
