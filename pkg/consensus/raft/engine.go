package raft

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/consensus"
)

var _ consensus.Engine = (*Node)(nil)

// Propose appends data as a new log entry and replicates it to a majority
// of peers before returning. Non-leaders fail fast.
func (n *Node) Propose(ctx context.Context, data []byte) (consensus.CommitResult, error) {
	n.mu.Lock()
	if n.state != Leader {
		n.mu.Unlock()
		return consensus.CommitResult{}, fmt.Errorf("raft: %s is not leader", n.id)
	}
	term := n.currentTerm
	index := len(n.log) + 1
	entry := LogEntry{Term: term, Index: index, Data: data}
	n.log = append(n.log, entry)
	prevIndex, prevTerm := index-1, 0
	if prevIndex > 0 {
		prevTerm = n.log[prevIndex-1].Term
	}
	peers := append([]string(nil), n.peers...)
	n.mu.Unlock()

	acked := 1 // self
	ackCh := make(chan bool, len(peers))
	for _, peer := range peers {
		peer := peer
		go func() {
			responderTerm, ok := n.transport.AppendEntries(peer, term, n.id, prevIndex, prevTerm, []LogEntry{entry}, n.commitIndexSnapshot())
			n.observeTerm(responderTerm)
			ackCh <- ok
		}()
	}

	for i := 0; i < len(peers); i++ {
		select {
		case ok := <-ackCh:
			if ok {
				acked++
			}
		case <-ctx.Done():
			return consensus.CommitResult{}, ctx.Err()
		}
	}

	n.mu.Lock()
	if n.state != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return consensus.CommitResult{}, fmt.Errorf("raft: leadership lost while proposing")
	}
	if acked*2 > len(peers)+1 {
		if index > n.commitIndex {
			n.commitIndex = index
		}
	}
	toApply := n.collectNewlyCommittedLocked()
	committed := index <= n.commitIndex
	n.mu.Unlock()

	n.deliverCommitted(toApply)

	if !committed {
		return consensus.CommitResult{}, fmt.Errorf("raft: failed to reach quorum for index %d", index)
	}
	return consensus.CommitResult{Index: uint64(index), Term: uint64(term)}, nil
}

func (n *Node) commitIndexSnapshot() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// IsLeader reports this replica's last-known role.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == Leader
}

// WaitClusterReady blocks until some node (possibly this one) is known to
// be leading, or ctx is canceled.
func (n *Node) WaitClusterReady(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		n.mu.Lock()
		ready := n.leaderID != "" || n.state == Leader
		n.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ExportSnapshot encodes the node's committed log state: term, commit
// index, and the raw entry data blobs. This is the raft layer's own
// compaction snapshot, distinct from the topic-level snapshots built by
// pkg/broker/wire.
func (n *Node) ExportSnapshot(ctx context.Context) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, int64(n.currentTerm))
	binary.Write(&buf, binary.BigEndian, int64(n.commitIndex))
	binary.Write(&buf, binary.BigEndian, int64(len(n.log)))
	for _, e := range n.log {
		binary.Write(&buf, binary.BigEndian, int64(e.Term))
		binary.Write(&buf, binary.BigEndian, int64(e.Index))
		binary.Write(&buf, binary.BigEndian, int64(len(e.Data)))
		buf.Write(e.Data)
	}
	return buf.Bytes(), nil
}

// InstallSnapshot replaces the node's log state wholesale.
func (n *Node) InstallSnapshot(ctx context.Context, snapshot []byte) error {
	r := bytes.NewReader(snapshot)
	var term, commit, count int64
	if err := binary.Read(r, binary.BigEndian, &term); err != nil {
		return fmt.Errorf("raft: decoding snapshot term: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &commit); err != nil {
		return fmt.Errorf("raft: decoding snapshot commit index: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("raft: decoding snapshot entry count: %w", err)
	}

	log := make([]LogEntry, 0, count)
	for i := int64(0); i < count; i++ {
		var t, idx, dlen int64
		if err := binary.Read(r, binary.BigEndian, &t); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &dlen); err != nil {
			return err
		}
		data := make([]byte, dlen)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("raft: decoding snapshot entry data: %w", err)
		}
		log = append(log, LogEntry{Term: int(t), Index: int(idx), Data: data})
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.currentTerm = int(term)
	n.commitIndex = int(commit)
	n.lastApplied = int(commit)
	n.log = log
	return nil
}

// Subscribe returns the channel of committed entries, translated from the
// internal LogEntry representation to consensus.CommittedEntry.
func (n *Node) Subscribe() <-chan consensus.CommittedEntry {
	out := make(chan consensus.CommittedEntry, 256)
	go func() {
		for {
			select {
			case e, ok := <-n.commitCh:
				if !ok {
					close(out)
					return
				}
				out <- consensus.CommittedEntry{Index: uint64(e.Index), Term: uint64(e.Term), Data: e.Data}
			case <-n.stopCh:
				close(out)
				return
			}
		}
	}()
	return out
}
