package raft

import "github.com/sirupsen/logrus"

// This file implements spec.md §4.5. Grounded on the teacher's nextIndex
// type and Flush/leaderSelect heartbeat loop (server.go): nextIndex's
// PrevLogIndex/Decrement/Set become PeerProgress fields, and Flush's
// per-peer request construction becomes buildAppendEntries.

// replicateToAll sends an AppendEntries to every peer (skipping a
// probe-mode peer that already has a request outstanding), the mechanism
// behind both heartbeats and normal replication — spec.md §4.5 treats
// them identically, differing only in whether Entries is empty.
func (e *Engine) replicateToAll() {
	if e.role != Leader {
		return
	}
	for id := range e.leader.progress {
		if e.role != Leader {
			return // stepped down mid-round (self-removal committed)
		}
		e.replicateTo(id)
	}
}

// replicateTo sends an AppendEntries to one peer if the peer's progress
// mode allows it: pipeline mode always sends; probe mode sends only if no
// request is currently outstanding (spec.md §4.5 "Marked in-flight to
// avoid pipelining duplicates in probe state; in pipeline state, multiple
// outstanding requests are allowed").
func (e *Engine) replicateTo(id ServerID) {
	p := e.leader.progress[id]
	e.triggerSnapshotIfNeeded(p)
	if p.Mode == progressSnapshot {
		// Sending the actual InstallSnapshot is outside the core's
		// responsibility; see snapshot.go.
		return
	}
	if p.Mode == progressProbe && p.hasInFlight() {
		return
	}
	req := e.buildAppendEntries(p)
	p.pushPending(req.PrevLogIndex + uint64(len(req.Entries)))
	e.sendMessage(id, Message{From: e.id, To: id, AppendEntries: &req})
}

// buildAppendEntries implements §4.5 "Normal AppendEntries": prev_log_index
// = next_index-1, prev_log_term = term_of(prev_log_index), entries =
// log[next_index..min(last_index, next_index+max_batch-1)].
func (e *Engine) buildAppendEntries(p *PeerProgress) AppendEntries {
	prevIndex := p.NextIndex - 1
	prevTerm, err := e.log.TermOf(prevIndex)
	if err == ErrIndexIsCompacted {
		idx, term := e.log.SnapshotFacts()
		if prevIndex == idx {
			prevTerm = term
		}
	}
	last := e.log.LastIndex()
	upper := p.NextIndex + uint64(e.opts.maxAppendEntries) - 1
	if upper > last {
		upper = last
	}
	var entries []LogEntry
	if upper >= p.NextIndex {
		entries = e.log.Slice(p.NextIndex, upper)
	}
	return AppendEntries{
		Term:         e.term,
		LeaderID:     e.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: e.commitIndex,
	}
}

// handleAppendEntries implements the receive side of §4.5, steps 1-6.
// Steps 1-4 resolve synchronously; a success on step 5 defers the actual
// reply until the async Storage.Append backing it completes (AppendDone),
// matching "reply only after persistence completes". A single structured
// log line fires on every exit, mirroring the teacher's
// logAppendEntriesResponse called once per RPC at the dispatch site; for
// the deferred-reply branch it records submission, not the eventual
// outcome, which AppendDone/maybeAdvanceFollowerCommit observe instead.
func (e *Engine) handleAppendEntries(from ServerID, req AppendEntries) {
	var success bool
	var reason string
	var stepDown bool
	defer func() {
		e.logAppendEntriesResponse(from, req, success, reason, stepDown)
	}()

	// 1. stale term
	if req.Term < e.term {
		reason = "stale term"
		e.replyAppendEntries(from, AppendEntriesResult{
			Term:         e.term,
			Success:      false,
			LastLogIndex: e.log.LastIndex(),
			Reason:       reason,
		})
		return
	}

	// 2. step down if necessary
	if req.Term > e.term || e.role != Follower {
		e.becomeFollower(req.Term, req.LeaderID)
		stepDown = true
	}
	e.currentLeaderID = req.LeaderID

	// 3. reset election timer
	e.resetElectionTimer()

	// 4. log-matching check
	localLast := e.log.LastIndex()
	prevTerm, err := e.log.TermOf(req.PrevLogIndex)
	mismatch := false
	if req.PrevLogIndex > localLast {
		mismatch = true
	} else if err == ErrIndexIsCompacted {
		idx, term := e.log.SnapshotFacts()
		if req.PrevLogIndex != idx || term != req.PrevLogTerm {
			mismatch = true
		}
	} else if err != nil {
		mismatch = true
	} else if prevTerm != req.PrevLogTerm {
		mismatch = true
	}
	if mismatch {
		if req.PrevLogIndex <= e.commitIndex {
			// A conflict at or below the commit index violates Leader
			// Completeness: the log is corrupt relative to what was
			// already promised durable. spec.md §4.5 step 4 / §7 kind 1.
			reason = "conflict at or below commit_index, shutting down"
			e.shutdownLocked(ErrShutdown)
			return
		}
		reason = "log mismatch at prev_log_index"
		e.replyAppendEntries(from, AppendEntriesResult{
			Term:         e.term,
			Success:      false,
			LastLogIndex: localLast,
			Reason:       reason,
		})
		return
	}

	// 5. reconcile and append new entries.
	newEntries, lastNewIndex, conflictBelowCommit := e.reconcileEntries(req.PrevLogIndex, req.Entries)
	if conflictBelowCommit {
		// A conflicting entry at or below commit_index is the same
		// Leader-Completeness violation step 4 guards against, just
		// discovered one entry later (spec.md §4.5 step 5 / §7 kind 1).
		reason = "conflicting entry at or below commit_index, shutting down"
		e.shutdownLocked(ErrShutdown)
		return
	}

	if len(newEntries) == 0 {
		// Idempotent retry/heartbeat: nothing new to persist, reply now.
		if req.LeaderCommit > e.commitIndex {
			e.advanceCommitIndexTo(min64(req.LeaderCommit, lastNewIndex))
		}
		success = true
		reason = "idempotent retry/heartbeat"
		e.replyAppendEntries(from, AppendEntriesResult{Term: e.term, Success: true, LastLogIndex: lastNewIndex})
		return
	}

	batch := newEntryBatch(len(newEntries))
	if err := e.log.AppendBatch(newEntries, batch); err != nil {
		reason = "append failed: " + err.Error()
		e.replyAppendEntries(from, AppendEntriesResult{
			Term: e.term, Success: false, LastLogIndex: e.log.LastIndex(),
			Reason: reason,
		})
		return
	}
	// Configuration entries "activate immediately upon appending (not upon
	// commit)" (spec.md §4.6), for every server that appends them, not
	// just the leader that originated the entry.
	e.activateConfigEntries(newEntries)

	token := e.nextAppendToken
	e.nextAppendToken++
	e.pendingAppends[token] = appendContext{
		isFollowerAppend: true,
		fromTerm:         req.Term,
		leaderID:         from,
		lastNewIndex:     lastNewIndex,
	}
	// commit advancement for this request is applied once the append is
	// durable, in maybeAdvanceFollowerCommit (called from AppendDone), to
	// avoid advancing commit_index on entries not yet fsync'd.
	e.pendingLeaderCommit = req.LeaderCommit
	success = true
	reason = "append submitted, reply deferred until durable"
	e.storage.Append(newEntries, token)
}

// logAppendEntriesResponse is this codebase's logrus-structured analogue
// of the teacher's logAppendEntriesResponse: one debug-level record per
// AppendEntries RPC, carrying the leader, request shape, outcome/reason,
// and whether handling it stepped the engine down.
func (e *Engine) logAppendEntriesResponse(from ServerID, req AppendEntries, success bool, reason string, stepDown bool) {
	e.fieldLogger().WithFields(logrus.Fields{
		"leader":       uint64(from),
		"entries":      len(req.Entries),
		"prevIndex":    req.PrevLogIndex,
		"prevTerm":     uint64(req.PrevLogTerm),
		"leaderCommit": req.LeaderCommit,
		"success":      success,
		"reason":       reason,
		"stepDown":     stepDown,
	}).Debug("handled AppendEntries")
}

// reconcileEntries implements §4.5 step 5's per-entry rule: "if an entry at
// that index already exists with the same term, skip; otherwise truncate
// the suffix from that index and append all remaining new entries." It
// returns the entries that are genuinely new (to be durably appended) and
// the resulting last-new-index (which may be behind req's tail if every
// entry was already present — spec.md §8's idempotence law). A conflict
// found at or below commit_index is reported via the third return value
// instead of being truncated: that history was already promised durable,
// so disagreeing with it is protocol corruption, not a normal divergence
// (spec.md §4.5 step 4 / §7 kind 1 — the same rule step 4 applies at
// prev_log_index itself, extended here to every entry in the request).
func (e *Engine) reconcileEntries(prevLogIndex uint64, reqEntries []LogEntry) (entries []LogEntry, lastNewIndex uint64, conflictBelowCommit bool) {
	lastNewIndex = prevLogIndex
	for i, re := range reqEntries {
		idx := re.Index
		localTerm, err := e.log.TermOf(idx)
		if err == nil && idx <= e.log.LastIndex() && localTerm == re.Term {
			lastNewIndex = idx
			continue
		}
		// First genuine divergence (or first entry beyond our tail).
		if idx <= e.log.LastIndex() {
			if idx <= e.commitIndex {
				return nil, prevLogIndex, true
			}
			e.rollbackConfigurationTo(idx)
			_ = e.log.TruncateSuffix(idx)
		}
		rest := reqEntries[i:]
		if len(rest) > 0 {
			lastNewIndex = rest[len(rest)-1].Index
		}
		return rest, lastNewIndex, false
	}
	return nil, lastNewIndex, false
}

// maybeAdvanceFollowerCommit is called from AppendDone once a follower's
// append has become durable: "If args.leader_commit > commit_index, set
// commit_index = min(args.leader_commit, index of last new entry)"
// (spec.md §4.5 step 6), deferred until now so commit_index never leads
// durability.
func (e *Engine) maybeAdvanceFollowerCommit(ctx appendContext) {
	if e.pendingLeaderCommit > e.commitIndex {
		e.advanceCommitIndexTo(min64(e.pendingLeaderCommit, ctx.lastNewIndex))
	}
}

// handleAppendEntriesResult implements the receive side of §4.5's leader
// bookkeeping.
func (e *Engine) handleAppendEntriesResult(from ServerID, res AppendEntriesResult) {
	if e.role != Leader || res.Term < e.term {
		return
	}
	if res.Term > e.term {
		e.becomeFollower(res.Term, 0)
		return
	}
	p, ok := e.leader.progress[from]
	if !ok {
		return
	}
	lastSent, had := p.popPending()
	if !had {
		e.fieldLogger().WithField("peer", uint64(from)).Debug("discarding unexpected AppendEntriesResult")
		return
	}

	if res.Success {
		if lastSent > p.MatchIndex {
			p.MatchIndex = lastSent
		}
		p.NextIndex = p.MatchIndex + 1
		p.Mode = progressPipeline
		e.fieldLogger().WithFields(logrus.Fields{
			"peer":       uint64(from),
			"matchIndex": p.MatchIndex,
			"nextIndex":  p.NextIndex,
		}).Debug("handled AppendEntriesResult")
		e.advanceLeaderCommit()
		e.tickCatchUpProgress(from, p)
		return
	}

	// Failure: back up next_index using the hint, bounded below by 1.
	if res.LastLogIndex > 0 && res.LastLogIndex+1 < p.NextIndex {
		p.NextIndex = res.LastLogIndex + 1
	} else if p.NextIndex > 1 {
		p.NextIndex--
	}
	if p.NextIndex < 1 {
		p.NextIndex = 1
	}
	p.Mode = progressProbe
	e.fieldLogger().WithFields(logrus.Fields{
		"peer":      uint64(from),
		"nextIndex": p.NextIndex,
		"reason":    res.Reason,
	}).Debug("handled AppendEntriesResult")
	e.replicateTo(from)
}

// advanceLeaderCommit implements §4.5's Figure-8-safe commit rule:
// "the highest N such that a quorum of voters have match_index >= N and
// log[N].term == current_term".
func (e *Engine) advanceLeaderCommit() {
	voters := e.config.Voters()
	for n := e.log.LastIndex(); n > e.commitIndex; n-- {
		term, err := e.log.TermOf(n)
		if err != nil || term != e.term {
			continue
		}
		count := 0
		for _, v := range voters {
			if v.ID == e.id {
				count++
				continue
			}
			if p, ok := e.leader.progress[v.ID]; ok && p.MatchIndex >= n {
				count++
			}
		}
		if count >= e.config.Quorum() {
			e.advanceCommitIndexTo(n)
			return
		}
	}
}

// advanceCommitIndexTo moves commit_index forward (it is monotonically
// non-decreasing, spec.md §3) and dispatches apply intents for the newly
// committed entries, in order (spec.md §4.5 "Commit-driven apply").
func (e *Engine) advanceCommitIndexTo(n uint64) {
	if n <= e.commitIndex {
		return
	}
	e.commitIndex = n
	e.observer.Committed(n)
	e.applyCommitted()
}

// applyCommitted dispatches FSM.Apply for every entry in
// (last_applied, commit_index], in order; last_applied only advances after
// the FSM acknowledges each entry (spec.md §4.5). Configuration entries
// additionally rotate the active Configuration (§4.6); the leader no-op
// entry applies as a silent advance.
func (e *Engine) applyCommitted() {
	for e.lastApplied < e.commitIndex {
		idx := e.lastApplied + 1
		entry, err := e.log.Get(idx)
		if err != nil {
			e.fieldLogger().WithError(err).Error("apply: entry missing below commit_index")
			return
		}
		switch entry.Kind {
		case EntryConfiguration:
			e.applyConfigurationEntry(entry)
		case EntryCommand:
			if len(entry.Payload) > 0 && e.fsm != nil {
				if err := e.fsm.Apply(idx, entry.Payload); err != nil {
					e.fieldLogger().WithError(err).Error("fsm apply failed")
					return
				}
			}
			// nil payload is the no-op entry from becomeLeader: silent advance.
		}
		e.lastApplied = idx
		e.finishSelfRemovalIfPending(idx)
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
