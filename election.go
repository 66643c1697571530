package raft

import "github.com/sirupsen/logrus"

// This file implements spec.md §4.4. Grounded on the teacher's
// candidateSelect (vote-tallying loop) and handleRequestVote (grant
// predicate) in server.go; the grant predicate itself is resolved exactly
// per spec.md §4.4 rather than the teacher's "Spec is ambiguous here;
// basing this (loosely!) on benbjohnson's impl" hedge, since spec.md is
// unambiguous about it.

// startElection implements §4.4 start(): send RequestVote to every other
// voter. The caller (driver.go) has already transitioned to Candidate via
// becomeCandidate, which incremented the term and voted for self.
func (e *Engine) startElection() {
	req := RequestVote{
		Term:         e.term,
		CandidateID:  e.id,
		LastLogIndex: e.log.LastIndex(),
		LastLogTerm:  e.log.LastTerm(),
	}
	peers := e.config.Except(e.id)
	e.fieldLogger().WithField("voters_required", e.config.Quorum()).Info("election started")

	if len(e.candidate.votesGranted) >= e.config.Quorum() {
		// Covers the 1-voter (self-only) cluster reached via a path other
		// than Start's and tickFollower's sole-voter fast paths (e.g.
		// tickCandidate restarting an election as the only voter).
		e.becomeLeader()
		return
	}
	for _, p := range peers {
		e.sendMessage(p.ID, Message{From: e.id, To: p.ID, RequestVote: &req})
	}
}

// handleRequestVote implements the receive side of §4.4's grant rule. A
// single structured log line fires on every exit, mirroring the teacher's
// logRequestVoteResponse called once per RPC at the dispatch site.
func (e *Engine) handleRequestVote(from ServerID, req RequestVote) (result RequestVoteResult) {
	var stepDown bool
	defer func() {
		e.logRequestVoteResponse(req, result, stepDown)
	}()

	if req.Term < e.term {
		result = RequestVoteResult{Term: e.term, VoteGranted: false, Reason: "stale term"}
		return
	}
	if req.Term > e.term {
		e.becomeFollower(req.Term, 0)
		stepDown = true
	}

	if e.vote != 0 && e.vote != req.CandidateID {
		result = RequestVoteResult{Term: e.term, VoteGranted: false, Reason: "already voted this term"}
		return
	}

	logOK := req.LastLogTerm > e.log.LastTerm() ||
		(req.LastLogTerm == e.log.LastTerm() && req.LastLogIndex >= e.log.LastIndex())
	if !logOK {
		result = RequestVoteResult{Term: e.term, VoteGranted: false, Reason: "candidate log not up to date"}
		return
	}

	// "Granting persists the vote before replying" — spec.md §4.4.
	e.vote = req.CandidateID
	if e.storage != nil {
		if err := e.storage.SetVote(req.CandidateID); err != nil {
			e.fieldLogger().WithError(err).Error("failed to persist vote")
			result = RequestVoteResult{Term: e.term, VoteGranted: false, Reason: "io_err persisting vote"}
			return
		}
	}
	if e.role == Follower {
		e.resetElectionTimer()
	}
	result = RequestVoteResult{Term: e.term, VoteGranted: true}
	return
}

// logRequestVoteResponse is this codebase's logrus-structured analogue of
// the teacher's logRequestVoteResponse: one debug-level record per
// RequestVote RPC, carrying the candidate, grant outcome/reason, and
// whether handling it stepped the engine down to Follower.
func (e *Engine) logRequestVoteResponse(req RequestVote, res RequestVoteResult, stepDown bool) {
	e.fieldLogger().WithFields(logrus.Fields{
		"candidate": uint64(req.CandidateID),
		"granted":   res.VoteGranted,
		"reason":    res.Reason,
		"stepDown":  stepDown,
	}).Debug("handled RequestVote")
}

// handleRequestVoteResult implements §4.4's "On RequestVoteResult receipt
// while candidate in same term: accumulate grants; on quorum, become
// leader."
func (e *Engine) handleRequestVoteResult(from ServerID, res RequestVoteResult) {
	if res.Term > e.term {
		e.becomeFollower(res.Term, 0)
		return
	}
	if e.role != Candidate || res.Term != e.term {
		return // stale reply from a dead term/election, expected and discarded
	}
	if !res.VoteGranted {
		return
	}
	e.candidate.votesGranted[from] = true
	e.fieldLogger().WithFields(logrus.Fields{
		"voter":   uint64(from),
		"granted": len(e.candidate.votesGranted),
		"needed":  e.config.Quorum(),
	}).Debug("vote granted")
	if len(e.candidate.votesGranted) >= e.config.Quorum() {
		e.becomeLeader()
	}
}
