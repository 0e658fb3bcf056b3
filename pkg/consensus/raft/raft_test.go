package raft

import (
	"testing"
	"time"
)

type mockTransport struct {
	requestVoteFunc   func(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool)
	appendEntriesFunc func(peer string, term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (int, bool)
}

func (m *mockTransport) RequestVote(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool) {
	if m.requestVoteFunc != nil {
		return m.requestVoteFunc(peer, term, candidateID, lastLogIndex, lastLogTerm)
	}
	return term, false
}

func (m *mockTransport) AppendEntries(peer string, term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (int, bool) {
	if m.appendEntriesFunc != nil {
		return m.appendEntriesFunc(peer, term, leaderID, prevLogIndex, prevLogTerm, entries, leaderCommit)
	}
	return term, false
}

func TestCandidateElectionSpeed(t *testing.T) {
	peers := []string{"peer1", "peer2"}
	transport := &mockTransport{
		requestVoteFunc: func(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool) {
			return term, true
		},
	}
	n := New("node1", peers, transport, nil)
	n.state = Candidate
	start := time.Now()
	n.runCandidate()
	duration := time.Since(start)
	n.mu.Lock()
	state := n.state
	n.mu.Unlock()
	if state != Leader {
		t.Errorf("Expected state to be Leader, got %v", state)
	}
	t.Logf("Election took %v", duration)
	if duration > 50*time.Millisecond {
		t.Errorf("Election took too long: %v (expected < 50ms)", duration)
	}
}

func TestCandidateElectionLosesMajority(t *testing.T) {
	peers := []string{"peer1", "peer2"}
	transport := &mockTransport{
		requestVoteFunc: func(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool) {
			return term, false
		},
	}
	n := New("node1", peers, transport, nil)
	n.state = Candidate
	n.runCandidate()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Follower {
		t.Errorf("expected state to fall back to Follower without a majority, got %v", n.state)
	}
}

func TestThreeNodeClusterElectsSingleLeader(t *testing.T) {
	transport := NewLocalTransport()
	ids := []string{"a", "b", "c"}
	nodes := make(map[string]*Node, len(ids))
	for _, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		n := New(id, peers, transport, nil)
		nodes[id] = n
		transport.Register(n)
	}

	for _, n := range nodes {
		go n.Run()
	}
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()

	deadline := time.After(500 * time.Millisecond)
	for {
		leaders := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leaders++
			}
		}
		if leaders == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected exactly one leader to emerge, saw %d", leaders)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
