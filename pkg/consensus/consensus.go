// Package consensus defines the black-box replicated-log surface the
// topic core drives: propose an entry, learn when it commits, and
// install/export snapshots around leadership changes.
package consensus

import "context"

// CommitResult is returned once a proposed entry has committed.
type CommitResult struct {
	Index uint64
	Term  uint64
}

// CommittedEntry is delivered, in commit order, to every replica including
// the leader.
type CommittedEntry struct {
	Index uint64
	Term  uint64
	Data  []byte
}

// Engine is the pluggable consensus black box. Its own network transport,
// peer discovery, and membership configuration are out of scope for this
// module; only the decision surface the core depends on is modeled here.
type Engine interface {
	// Propose appends data to the log and blocks until it commits or ctx
	// is canceled. Non-leaders return an error immediately.
	Propose(ctx context.Context, data []byte) (CommitResult, error)

	// IsLeader reports whether this replica currently believes itself
	// leader. Advisory: Propose is the authority.
	IsLeader() bool

	// WaitClusterReady blocks until the engine has a leader (itself or
	// another replica) or ctx is canceled.
	WaitClusterReady(ctx context.Context) error

	// InstallSnapshot replaces the engine's log state with snapshot,
	// typically used when bootstrapping a lagging replica.
	InstallSnapshot(ctx context.Context, snapshot []byte) error

	// ExportSnapshot returns the engine's current snapshot representation.
	ExportSnapshot(ctx context.Context) ([]byte, error)

	// Subscribe returns the channel of committed entries, in commit
	// order. Every replica — leader included — receives entries only
	// through this channel, so the applier has one code path regardless
	// of local leadership.
	Subscribe() <-chan CommittedEntry
}
