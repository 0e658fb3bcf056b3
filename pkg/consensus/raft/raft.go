// Package raft implements a single-process, multi-node Raft-style
// consensus engine: leader election over randomized timeouts and
// majority-acknowledged log replication. It is adapted from the teacher's
// consensus stub (pkg/algorithms/consensus/raft's test-only skeleton),
// generalized into a full implementation that backs consensus.Engine.
//
// The wire transport between real processes is out of scope (§1); Node
// talks to peers through the injected Transport interface, which this
// package's own Transport adapter implements by calling directly into
// sibling *Node values registered in the same process.
package raft

import (
	"math/rand"
	"sync"
	"time"
)

// State is a node's role in the Raft state machine.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// LogEntry is one replicated log slot.
type LogEntry struct {
	Term  int
	Index int
	Data  []byte
}

// Transport lets a Node reach its peers. peer is the target's id.
type Transport interface {
	// RequestVote asks peer to vote in term on behalf of candidateID.
	// Returns the responder's term and whether the vote was granted.
	RequestVote(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool)

	// AppendEntries replicates entries (or serves as a heartbeat when
	// entries is empty) to peer. Returns the responder's term and
	// whether the append succeeded (log matched at prevLogIndex/Term).
	AppendEntries(peer string, term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (int, bool)
}

// ApplyFunc is invoked, in log order, once an entry commits.
type ApplyFunc func(entry LogEntry)

const (
	heartbeatInterval   = 10 * time.Millisecond
	electionTimeoutBase = 30 * time.Millisecond
	electionTimeoutJit  = 30 * time.Millisecond
)

// Node is one replica of the consensus cluster.
type Node struct {
	id        string
	peers     []string
	transport Transport
	applyFn   ApplyFunc

	mu          sync.Mutex
	state       State
	currentTerm int
	votedFor    string
	log         []LogEntry
	commitIndex int
	lastApplied int

	leaderID string

	resetElection chan struct{}
	stopCh        chan struct{}
	stopped       bool

	commitCh chan LogEntry
}

// New constructs a node. applyFn may be nil; entries still advance
// commitIndex and are delivered via Committed() regardless.
func New(id string, peers []string, transport Transport, applyFn ApplyFunc) *Node {
	n := &Node{
		id:            id,
		peers:         peers,
		transport:     transport,
		applyFn:       applyFn,
		state:         Follower,
		resetElection: make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		commitCh:      make(chan LogEntry, 256),
	}
	return n
}

// Run drives the election-timeout and leader-heartbeat loops until Stop is
// called. It is the background goroutine backing consensus.Engine.
func (n *Node) Run() {
	for {
		n.mu.Lock()
		state := n.state
		n.mu.Unlock()

		switch state {
		case Follower, Candidate:
			if !n.runElectionTimeoutRound() {
				return
			}
		case Leader:
			if !n.runLeaderRound() {
				return
			}
		}
	}
}

// Stop halts Run.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()
	close(n.stopCh)
}

func randomElectionTimeout() time.Duration {
	return electionTimeoutBase + time.Duration(rand.Int63n(int64(electionTimeoutJit)))
}

// runElectionTimeoutRound waits for either the timeout to elapse (becoming
// or remaining candidate) or a reset signal (valid heartbeat/vote seen).
// Returns false if the node was stopped.
func (n *Node) runElectionTimeoutRound() bool {
	timeout := randomElectionTimeout()
	select {
	case <-time.After(timeout):
		n.mu.Lock()
		n.state = Candidate
		n.mu.Unlock()
		n.runCandidate()
		return true
	case <-n.resetElection:
		return true
	case <-n.stopCh:
		return false
	}
}

func (n *Node) runLeaderRound() bool {
	select {
	case <-time.After(heartbeatInterval):
		n.broadcastHeartbeat()
		return true
	case <-n.stopCh:
		return false
	}
}

// runCandidate runs one election: increments term, votes for self, and
// requests votes from every peer concurrently. Transitions to Leader on
// majority, or falls back to Follower if a higher term is observed.
func (n *Node) runCandidate() {
	n.mu.Lock()
	n.currentTerm++
	term := n.currentTerm
	n.votedFor = n.id
	lastIndex, lastTerm := n.lastLogLocked()
	peers := append([]string(nil), n.peers...)
	n.mu.Unlock()

	votes := 1 // vote for self
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			responderTerm, granted := n.transport.RequestVote(peer, term, n.id, lastIndex, lastTerm)
			n.observeTerm(responderTerm)
			if granted {
				mu.Lock()
				votes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.currentTerm != term || n.state == Follower {
		// Term moved on (observeTerm stepped us down) while votes were
		// outstanding; this election is stale.
		return
	}
	if votes*2 > len(peers)+1 {
		n.state = Leader
		n.leaderID = n.id
	} else {
		n.state = Follower
	}
}

func (n *Node) broadcastHeartbeat() {
	n.mu.Lock()
	term := n.currentTerm
	peers := append([]string(nil), n.peers...)
	prevIndex, prevTerm := n.lastLogLocked()
	commit := n.commitIndex
	n.mu.Unlock()

	for _, peer := range peers {
		responderTerm, _ := n.transport.AppendEntries(peer, term, n.id, prevIndex, prevTerm, nil, commit)
		n.observeTerm(responderTerm)
	}
}

// observeTerm steps the node down to Follower if responderTerm is higher
// than its current term.
func (n *Node) observeTerm(responderTerm int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if responderTerm > n.currentTerm {
		n.currentTerm = responderTerm
		n.state = Follower
		n.votedFor = ""
	}
}

func (n *Node) lastLogLocked() (index int, term int) {
	if len(n.log) == 0 {
		return 0, 0
	}
	last := n.log[len(n.log)-1]
	return last.Index, last.Term
}

func (n *Node) notifyElectionReset() {
	select {
	case n.resetElection <- struct{}{}:
	default:
	}
}
