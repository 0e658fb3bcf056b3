// Package durability defines the pluggable disk persistence boundary for
// topic snapshots. The core only depends on this interface; no disk
// adapter ships with this module (§1 out of scope), only the in-memory
// one under adapters/memory used for tests and ephemeral deployments.
package durability

import (
	"context"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
)

// Service persists and retrieves the latest snapshot bytes for a topic.
type Service interface {
	PersistSnapshot(ctx context.Context, topic broker.TopicCode, snapshot []byte) error
	LoadSnapshot(ctx context.Context, topic broker.TopicCode) ([]byte, bool, error)
}
