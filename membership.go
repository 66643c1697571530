package raft

// This file implements spec.md §4.6. There is no teacher analogue: the
// teacher's Peers is fixed via SetPeers before Start and never changes at
// runtime. Built directly from spec.md §4.6, in the rest of the engine's
// idiom (small exported methods, a logGeneric-style structured log line
// per notable step).

// AddNonvoting proposes a configuration entry adding id as a non-voting
// member. Non-voters never need a catch-up round: they don't count toward
// quorum, so there is no safety reason to gate on them reaching the
// leader's log first.
func (e *Engine) AddNonvoting(id ServerID, address string) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.role != Leader {
		return ErrNotLeader
	}
	if e.leader.configChangeInFlight {
		return ErrConfigBusy
	}
	newCfg := e.config.Clone()
	if err := newCfg.Add(id, address, false); err != nil {
		return err
	}
	return e.proposeConfiguration(newCfg)
}

// Remove proposes a configuration entry dropping id. If id is the leader
// itself, the leader steps down once the removal entry commits (spec.md
// §4.6 "A leader that removes itself steps down after the removal entry
// commits").
func (e *Engine) Remove(id ServerID) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.role != Leader {
		return ErrNotLeader
	}
	if e.leader.configChangeInFlight {
		return ErrConfigBusy
	}
	newCfg := e.config.Clone()
	if err := newCfg.Remove(id); err != nil {
		return err
	}
	// Set before proposing: with a Transport and Storage that complete
	// synchronously, the removal entry can commit (and apply) within
	// proposeConfiguration below, so finishSelfRemovalIfPending must
	// already see the flag.
	selfRemoval := id == e.id
	if selfRemoval {
		e.leader.selfRemovalPending = true
	}
	if err := e.proposeConfiguration(newCfg); err != nil {
		if selfRemoval {
			e.leader.selfRemovalPending = false
		}
		return err
	}
	return nil
}

// Promote begins the §4.6 catch-up protocol for non-voter id: up to 10
// rounds, each requiring id's match_index to reach the leader's last_index
// as observed at round start, with a 30s hard ceiling across all rounds.
// The configuration entry making id a voter is appended only once a round
// completes within one election_timeout (the final, 10th round) or the
// process aborts and notifies the observer.
func (e *Engine) Promote(id ServerID) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.role != Leader {
		return ErrNotLeader
	}
	m, ok := e.config.Get(id)
	if !ok {
		return ErrUnknownID
	}
	if m.Voting {
		return nil
	}
	if e.leader.configChangeInFlight || e.leader.promotion != nil {
		return ErrConfigBusy
	}
	e.leader.promotion = &promotionState{
		target:      id,
		round:       1,
		roundTarget: e.log.LastIndex(),
	}
	e.fieldLogger().WithField("peer", uint64(id)).Info("promotion catch-up started")
	return nil
}

// proposeConfiguration appends a configuration entry encoding newCfg and
// activates it immediately (spec.md §4.6 "activate immediately upon
// appending").
func (e *Engine) proposeConfiguration(newCfg *Configuration) error {
	entry, err := e.log.Append(e.term, EntryConfiguration, newCfg.Encode())
	if err != nil {
		return internalf("propose configuration: %v", err)
	}
	e.config = newCfg
	e.syncLeaderProgressWithConfig()
	e.leader.configChangeInFlight = true
	e.leader.pendingConfigIndex = entry.Index
	e.issueSelfAppend(entry)
	e.replicateToAll()
	return nil
}

// syncLeaderProgressWithConfig adds PeerProgress tracking for any newly
// configured member and drops it for any member no longer configured,
// keeping leader.progress in step with the (just-activated) Configuration.
func (e *Engine) syncLeaderProgressWithConfig() {
	seen := make(map[ServerID]bool, len(e.config.Members()))
	for _, m := range e.config.Members() {
		seen[m.ID] = true
		if m.ID == e.id {
			continue
		}
		if _, ok := e.leader.progress[m.ID]; !ok {
			e.leader.progress[m.ID] = &PeerProgress{NextIndex: e.log.LastIndex() + 1, Mode: progressProbe}
		}
	}
	for id := range e.leader.progress {
		if !seen[id] {
			delete(e.leader.progress, id)
		}
	}
}

// activateConfigEntries applies the "activate on append" rule (spec.md
// §4.6) for entries a non-leader server has just appended to its in-memory
// log (before Storage.Append is issued for them): the last configuration
// entry among them (if any) becomes
// the active Configuration.
func (e *Engine) activateConfigEntries(entries []LogEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind != EntryConfiguration {
			continue
		}
		cfg, err := DecodeConfiguration(entries[i].Payload)
		if err != nil {
			e.fieldLogger().WithError(err).Error("failed to decode configuration entry")
			return
		}
		e.config = cfg
		return
	}
}

// rollbackConfigurationTo implements spec.md §4.6's truncation rule: "if
// the entry is later truncated, the configuration is rolled back to the
// previous one encoded in the preceding configuration entry or the
// bootstrap configuration." Called before TruncateSuffix(fromIndex).
func (e *Engine) rollbackConfigurationTo(fromIndex uint64) {
	first := e.log.FirstIndex()
	for idx := fromIndex; idx > first; idx-- {
		prev := idx - 1
		if prev < first {
			break
		}
		entry, err := e.log.Get(prev)
		if err != nil {
			break
		}
		if entry.Kind == EntryConfiguration {
			if cfg, err := DecodeConfiguration(entry.Payload); err == nil {
				e.config = cfg
				return
			}
		}
	}
	if e.bootstrapConfig != nil {
		e.config = e.bootstrapConfig.Clone()
	}
}

// applyConfigurationEntry clears the leader's in-flight bookkeeping once
// its own proposed configuration entry has committed and been applied; the
// Configuration itself was already activated at append time.
func (e *Engine) applyConfigurationEntry(entry LogEntry) {
	if e.role == Leader && e.leader != nil && e.leader.configChangeInFlight && e.leader.pendingConfigIndex == entry.Index {
		e.leader.configChangeInFlight = false
	}
}

// finishSelfRemovalIfPending steps the leader down to follower once its
// own removal entry has been applied (spec.md §4.6).
func (e *Engine) finishSelfRemovalIfPending(appliedIndex uint64) {
	if e.role != Leader || e.leader == nil || !e.leader.selfRemovalPending {
		return
	}
	if e.leader.pendingConfigIndex != appliedIndex {
		return
	}
	old := e.role
	e.role = Follower
	e.currentLeaderID = 0
	e.leader = nil
	e.resetElectionTimer()
	e.observer.RoleChanged(old, e.role)
}

// tickPromotion advances the leader's in-flight catch-up round clock and
// applies the 30s hard ceiling (spec.md §4.6 "A hard ceiling of 30,000 ms
// across all rounds also aborts").
func (e *Engine) tickPromotion(msec uint64) {
	p := e.leader.promotion
	if p == nil {
		return
	}
	p.totalElapsed += msec
	p.roundElapsed += msec
	if p.totalElapsed > uint64(e.opts.catchUpCeiling.Milliseconds()) {
		e.abortPromotion()
	}
}

func (e *Engine) abortPromotion() {
	if e.leader.promotion == nil {
		return
	}
	target := e.leader.promotion.target
	e.leader.promotion = nil
	e.fieldLogger().WithField("peer", uint64(target)).Warn("promotion aborted")
	e.observer.PromotionAborted(target)
}

// tickCatchUpProgress is called whenever a successful AppendEntriesResult
// updates a peer's MatchIndex; it evaluates whether that peer's in-flight
// catch-up round has just completed (spec.md §4.6: "A round completes
// when the non-voter's match_index reaches the leader's last_index as
// observed at round start").
func (e *Engine) tickCatchUpProgress(from ServerID, p *PeerProgress) {
	if e.leader == nil {
		return // stepped down while handling this result (self-removal)
	}
	pr := e.leader.promotion
	if pr == nil || pr.target != from {
		return
	}
	if p.MatchIndex < pr.roundTarget {
		return
	}
	if pr.round >= e.opts.catchUpRounds {
		if pr.roundElapsed <= uint64(e.opts.electionTimeout.Milliseconds()) {
			e.completePromotion(pr.target)
		} else {
			e.abortPromotion()
		}
		return
	}
	pr.round++
	pr.roundTarget = e.log.LastIndex()
	pr.roundElapsed = 0
}

func (e *Engine) completePromotion(id ServerID) {
	newCfg := e.config.Clone()
	if err := newCfg.Promote(id); err != nil {
		e.fieldLogger().WithError(err).Error("promote: failed to build new configuration")
		e.leader.promotion = nil
		return
	}
	e.leader.promotion = nil
	if err := e.proposeConfiguration(newCfg); err != nil {
		e.fieldLogger().WithError(err).Error("promote: failed to propose configuration")
	}
}
