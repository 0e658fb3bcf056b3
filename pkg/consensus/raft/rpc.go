package raft

// HandleRequestVote is the server-side handler a Transport adapter calls
// when another node asks this node for its vote.
func (n *Node) HandleRequestVote(term int, candidateID string, lastLogIndex int, lastLogTerm int) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if term < n.currentTerm {
		return n.currentTerm, false
	}
	if term > n.currentTerm {
		n.currentTerm = term
		n.state = Follower
		n.votedFor = ""
	}

	myIndex, myTerm := n.lastLogLocked()
	candidateUpToDate := lastLogTerm > myTerm || (lastLogTerm == myTerm && lastLogIndex >= myIndex)

	if (n.votedFor == "" || n.votedFor == candidateID) && candidateUpToDate {
		n.votedFor = candidateID
		n.notifyElectionReset()
		return n.currentTerm, true
	}
	return n.currentTerm, false
}

// HandleAppendEntries is the server-side handler a Transport adapter calls
// when a leader replicates entries (or sends a heartbeat) to this node.
func (n *Node) HandleAppendEntries(term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (int, bool) {
	n.mu.Lock()

	if term < n.currentTerm {
		responderTerm := n.currentTerm
		n.mu.Unlock()
		return responderTerm, false
	}

	n.currentTerm = term
	n.state = Follower
	n.leaderID = leaderID
	n.notifyElectionReset()

	if prevLogIndex > 0 {
		if len(n.log) < prevLogIndex || n.log[prevLogIndex-1].Term != prevLogTerm {
			responderTerm := n.currentTerm
			n.mu.Unlock()
			return responderTerm, false
		}
	}

	for _, e := range entries {
		if e.Index <= len(n.log) {
			n.log[e.Index-1] = e
		} else {
			n.log = append(n.log, e)
		}
	}

	if leaderCommit > n.commitIndex {
		newCommit := leaderCommit
		if last, _ := n.lastLogLocked(); last < newCommit {
			newCommit = last
		}
		n.commitIndex = newCommit
	}

	toApply := n.collectNewlyCommittedLocked()
	responderTerm := n.currentTerm
	n.mu.Unlock()

	n.deliverCommitted(toApply)
	return responderTerm, true
}

// collectNewlyCommittedLocked returns entries between lastApplied and
// commitIndex, advancing lastApplied. Caller must hold n.mu.
func (n *Node) collectNewlyCommittedLocked() []LogEntry {
	if n.commitIndex <= n.lastApplied {
		return nil
	}
	start := n.lastApplied
	out := make([]LogEntry, 0, n.commitIndex-start)
	for i := start; i < n.commitIndex; i++ {
		out = append(out, n.log[i])
	}
	n.lastApplied = n.commitIndex
	return out
}

func (n *Node) deliverCommitted(entries []LogEntry) {
	for _, e := range entries {
		if n.applyFn != nil {
			n.applyFn(e)
		}
		select {
		case n.commitCh <- e:
		default:
		}
	}
}
