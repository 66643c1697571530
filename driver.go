package raft

// Tick is one of the engine's four external entry points (spec.md §4.7):
// the clock collaborator reports msec elapsed since the previous tick.
// Behavior is dispatched per role, exactly as spec.md §4.7 describes.
//
// Grounded on the teacher's electionTick/heartbeatTick channels
// (server.go), which fire from real time.Timer/time.Tick values; those are
// replaced here with accumulated-millisecond counters compared against a
// threshold, since the core may not read the clock itself (spec.md §1
// Non-goals) — Tick is the only way time enters the engine.
func (e *Engine) Tick(msec uint64) {
	if e.checkAlive() != nil {
		return
	}
	switch e.role {
	case Unavailable:
		// no-op
	case Follower:
		e.tickFollower(msec)
	case Candidate:
		e.tickCandidate(msec)
	case Leader:
		e.tickLeader(msec)
	}
}

func (e *Engine) tickFollower(msec uint64) {
	// Special case: sole voter self-elects immediately rather than
	// waiting out an election timeout nobody else will contest
	// (spec.md §4.7, §8 boundary behavior).
	if e.isSoleVoter() {
		e.becomeCandidate()
		e.becomeLeader()
		return
	}
	if !e.isVoter() {
		return
	}
	e.electionElapsedMs += msec
	if e.electionElapsedMs > e.electionTimeoutRandMs {
		e.becomeCandidate()
		e.startElection()
	}
}

func (e *Engine) tickCandidate(msec uint64) {
	e.electionElapsedMs += msec
	if e.electionElapsedMs > e.electionTimeoutRandMs {
		e.becomeCandidate() // "restart as above" — increments term again
		e.startElection()
	}
}

func (e *Engine) tickLeader(msec uint64) {
	e.heartbeatElapsedMs += msec
	if e.heartbeatElapsedMs > uint64(e.opts.heartbeatTimeout.Milliseconds()) {
		e.replicateToAll()
		e.heartbeatElapsedMs = 0
	}
	e.tickPromotion(msec)
}

// resetElectionTimer draws a fresh electionTimeoutRandMs uniformly from
// [electionTimeout, 2*electionTimeout) and zeroes the elapsed counter
// (spec.md §4.7 "election_timeout_rand is drawn uniformly from
// [election_timeout, 2*election_timeout) whenever the election timer is
// reset").
func (e *Engine) resetElectionTimer() {
	base := uint64(e.opts.electionTimeout.Milliseconds())
	if base == 0 {
		base = 1
	}
	jitter := uint64(e.opts.rand.IntN(int(base)))
	e.electionTimeoutRandMs = base + jitter
	e.electionElapsedMs = 0
}

func (e *Engine) isVoter() bool {
	m, ok := e.config.Get(e.id)
	return ok && m.Voting
}

func (e *Engine) isSoleVoter() bool {
	return e.config.NVoting() == 1 && e.isVoter()
}
