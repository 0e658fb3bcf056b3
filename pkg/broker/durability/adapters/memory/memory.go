// Package memory is the in-memory durability.Service adapter: it holds
// the latest snapshot per topic in a map and nothing survives process
// restart. Grounded in the teacher's in-memory adapter pattern (the same
// shape used across its cache/secrets/messaging adapters: a mutex-guarded
// map standing in for a real backing store).
package memory

import (
	"context"
	"sync"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/durability"
)

type Service struct {
	mu        sync.RWMutex
	snapshots map[broker.TopicCode][]byte
}

func New() *Service {
	return &Service{snapshots: make(map[broker.TopicCode][]byte)}
}

var _ durability.Service = (*Service)(nil)

func (s *Service) PersistSnapshot(ctx context.Context, topic broker.TopicCode, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	s.snapshots[topic] = cp
	return nil
}

func (s *Service) LoadSnapshot(ctx context.Context, topic broker.TopicCode) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[topic]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(snap))
	copy(cp, snap)
	return cp, true, nil
}
