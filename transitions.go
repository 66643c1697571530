package raft

// This file implements spec.md §4.3's role transitions. Grounded on the
// teacher's state.Set(Candidate)/state.Set(Leader) call sites
// (followerSelect, candidateSelect in server.go) and its term++/vote=0
// bookkeeping in handleRequestVote/handleAppendEntries, generalized into
// named transition functions since the teacher inlines this logic at each
// call site rather than factoring it out.

// becomeFollower implements "any -> follower(term', leader?)": if term' is
// strictly greater than the current term, the term advances and the vote
// is cleared; the election timer is always reset with fresh jitter,
// whether or not the term changed, since any transition into Follower
// (including a fresh Start) means "wait again for a leader".
func (e *Engine) becomeFollower(term Term, leaderID ServerID) {
	old := e.role
	if term > e.term {
		e.term = term
		e.vote = 0
		if e.storage != nil {
			if err := e.storage.SetTerm(term); err != nil {
				e.fieldLogger().WithError(err).Error("failed to persist new term")
			}
		}
	}
	e.role = Follower
	e.currentLeaderID = leaderID
	e.candidate = nil
	e.leader = nil
	e.resetElectionTimer()
	if old != Follower {
		e.fieldLogger().WithField("leader", uint64(leaderID)).Info("became follower")
		e.observer.RoleChanged(old, Follower)
	}
}

// becomeCandidate implements "follower -> candidate" and "candidate ->
// candidate on split vote": current_term += 1, vote = self, timer reset,
// votes_granted cleared and self added.
func (e *Engine) becomeCandidate() {
	old := e.role
	e.term++
	e.vote = e.id
	if e.storage != nil {
		if err := e.storage.SetTerm(e.term); err != nil {
			e.fieldLogger().WithError(err).Error("failed to persist new term")
		}
		if err := e.storage.SetVote(e.id); err != nil {
			e.fieldLogger().WithError(err).Error("failed to persist self vote")
		}
	}
	e.role = Candidate
	e.currentLeaderID = 0
	e.candidate = newCandidateState(e.id)
	e.leader = nil
	e.resetElectionTimer()
	e.fieldLogger().Info("became candidate, starting election")
	if old != Candidate {
		e.observer.RoleChanged(old, Candidate)
	}
}

// becomeLeader implements "candidate -> leader": requires the caller has
// already established a majority of votes_granted. Initializes every
// peer's progress, appends the no-op entry required for commit safety of
// prior-term entries (spec.md §4.3), and triggers the initial heartbeat
// round.
func (e *Engine) becomeLeader() {
	old := e.role
	e.role = Leader
	e.currentLeaderID = e.id
	e.candidate = nil
	e.leader = newLeaderState(e.config, e.id, e.log.LastIndex())
	e.heartbeatElapsedMs = 0

	e.fieldLogger().Info("became leader")
	e.observer.RoleChanged(old, Leader)

	// "it appends a no-op entry... needed for commit safety of prior-term
	// entries" — spec.md §4.3.
	noop, err := e.log.Append(e.term, EntryCommand, nil)
	if err != nil {
		e.fieldLogger().WithError(err).Error("failed to append no-op entry")
		return
	}
	e.issueSelfAppend(noop)
	e.replicateToAll()
}
