package raft

// RequestVote is the candidate's solicitation for a vote (spec.md §6 msg 1).
type RequestVote struct {
	Term         Term
	CandidateID  ServerID
	LastLogIndex uint64
	LastLogTerm  Term
}

// RequestVoteResult answers a RequestVote (spec.md §6 msg 2). Reason is
// diagnostic-only (logged, never interpreted by a peer).
type RequestVoteResult struct {
	Term        Term
	VoteGranted bool
	Reason      string
}

// AppendEntries is both the heartbeat and the log-replication RPC
// (spec.md §6 msg 3); Entries is empty for a pure heartbeat.
type AppendEntries struct {
	Term         Term
	LeaderID     ServerID
	PrevLogIndex uint64
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResult answers an AppendEntries (spec.md §6 msg 4).
// LastLogIndex lets the leader back up NextIndex quickly on a conflict
// (§4.5 "enables the leader to back up next_index quickly").
type AppendEntriesResult struct {
	Term         Term
	Success      bool
	LastLogIndex uint64
	Reason       string
}

// InstallSnapshot carries a full state snapshot to a follower too far
// behind to catch up via AppendEntries (spec.md §6 msg 5, §9 "should
// follow the Raft paper §7 verbatim").
type InstallSnapshot struct {
	Term              Term
	LeaderID          ServerID
	LastIncludedIndex uint64
	LastIncludedTerm  Term
	Config            []byte
	Data              []byte
}

// Message is the envelope Recv accepts and Transport.Send carries. Exactly
// one of the payload fields is set; this mirrors the teacher's approach of
// one Go method per RPC kind (Server.AppendEntries, Server.RequestVote)
// collapsed into a single sum type so the four external callbacks (§5) can
// stay at exactly four methods instead of growing one per message kind.
type Message struct {
	From ServerID
	To   ServerID

	RequestVote         *RequestVote
	RequestVoteResult   *RequestVoteResult
	AppendEntries       *AppendEntries
	AppendEntriesResult *AppendEntriesResult
	InstallSnapshot     *InstallSnapshot
}

// kind names whichever payload field is set, for logging at the dispatch
// site (Engine.Recv) without repeating the same type switch there.
func (m Message) kind() string {
	switch {
	case m.RequestVote != nil:
		return "RequestVote"
	case m.RequestVoteResult != nil:
		return "RequestVoteResult"
	case m.AppendEntries != nil:
		return "AppendEntries"
	case m.AppendEntriesResult != nil:
		return "AppendEntriesResult"
	case m.InstallSnapshot != nil:
		return "InstallSnapshot"
	default:
		return "empty"
	}
}
