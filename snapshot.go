package raft

// Design Notes §9 explicitly scopes the snapshot protocol down to "follow
// the Raft paper §7 verbatim" against whatever the data model here
// actually exercises: Log.TruncatePrefix, the compacted-index sentinel,
// and PeerProgress's snapshot tag. Leader-side snapshot generation and
// chunked transfer are left unimplemented (see DESIGN.md Open Question
// decisions) since neither the teacher nor the wider example pack shows a
// concrete chunked-transfer protocol to ground one on, and spec.md itself
// disclaims detailed design here ("the source repository includes only
// the skeleton").

// handleInstallSnapshot implements the follower side of Raft paper §7:
// adopt the snapshot's facts if they're newer than what the follower has,
// discard the log prefix they cover, and rotate the active configuration
// to the one the snapshot carries. Only a snapshot whose
// LastIncludedIndex the follower's log already reaches is installed; for
// one beyond the log's tail, TruncatePrefix returns ErrIndexOutOfRange and
// the snapshot is logged and ignored.
func (e *Engine) handleInstallSnapshot(from ServerID, req InstallSnapshot) {
	if req.Term < e.term {
		e.sendMessage(from, Message{From: e.id, To: from, AppendEntriesResult: &AppendEntriesResult{
			Term: e.term, Success: false, Reason: "stale term on install_snapshot",
		}})
		return
	}
	if req.Term > e.term || e.role != Follower {
		e.becomeFollower(req.Term, req.LeaderID)
	}
	e.currentLeaderID = req.LeaderID
	e.resetElectionTimer()

	if req.LastIncludedIndex <= e.log.FirstIndex()-1 {
		// We already have everything this snapshot covers; nothing to do.
		return
	}
	if err := e.log.TruncatePrefix(req.LastIncludedIndex, req.LastIncludedTerm); err != nil {
		e.fieldLogger().WithError(err).Error("install_snapshot: truncate_prefix failed")
		return
	}
	if cfg, err := DecodeConfiguration(req.Config); err == nil {
		e.config = cfg
	}
	if req.LastIncludedIndex > e.commitIndex {
		e.commitIndex = req.LastIncludedIndex
	}
	if req.LastIncludedIndex > e.lastApplied {
		e.lastApplied = req.LastIncludedIndex
	}
}

// triggerSnapshotIfNeeded marks a peer's progress as needing a snapshot
// once its NextIndex has fallen behind the leader's FirstIndex (the log
// entries it would need have been compacted away). Replication for a
// peer in snapshot mode pauses: sending the actual InstallSnapshot is left
// to a caller-supplied mechanism, since the core does not generate
// snapshots itself (spec.md §1 "the application state machine... is out
// of scope").
func (e *Engine) triggerSnapshotIfNeeded(p *PeerProgress) {
	if p.NextIndex < e.log.FirstIndex() {
		p.Mode = progressSnapshot
	}
}
