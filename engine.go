package raft

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Engine is the deterministic, I/O-agnostic Raft core (spec.md §1). It is
// driven exclusively through its four external entry points — Tick, Recv,
// AppendDone, SendDone — plus the client-facing request operations
// (AcceptCommand, AddNonvoting, Promote, Remove, TransferLeadership).
// Nothing else may mutate its state (spec.md §5 "Shared-resource policy").
//
// Grounded on the teacher's Server struct (server.go): Id, term, vote,
// log, peers become ServerID, term, vote, *Log, *Configuration here;
// state (a mutex-guarded string) becomes role Role; the goroutine/channel
// control flow (loop/followerSelect/candidateSelect/leaderSelect) is
// replaced by the synchronous dispatch in driver.go, election.go and
// replication.go, since the core may not spawn threads (spec.md §1
// Non-goals).
type Engine struct {
	opts Options

	id  ServerID
	log *Log

	config *Configuration
	// bootstrapConfig is the configuration the engine started with,
	// consulted by rollbackConfigurationTo when a truncated log has no
	// earlier configuration entry to roll back to (spec.md §4.6).
	bootstrapConfig *Configuration

	term Term
	vote ServerID // 0 = none cast this term

	role            Role
	currentLeaderID ServerID // 0 = unknown

	candidate *candidateState
	leader    *leaderState

	commitIndex uint64
	lastApplied uint64

	electionElapsedMs     uint64
	electionTimeoutRandMs uint64
	heartbeatElapsedMs    uint64

	storage   Storage
	transport Transport
	fsm       FSM
	observer  Observer

	nextAppendToken AppendToken
	nextSendToken   SendToken
	// pendingLeaderCommit is the leader_commit carried by the most recent
	// AppendEntries whose entries are still being durably persisted; see
	// maybeAdvanceFollowerCommit.
	pendingLeaderCommit uint64
	// pendingAppends tracks outstanding Storage.Append calls so AppendDone
	// can find out what it was acknowledging (self entries vs. a
	// follower's just-received AppendEntries, which needs a reply once
	// durable per spec.md §4.5 step 5).
	pendingAppends map[AppendToken]appendContext

	started  bool
	shutdown bool
	shutdownErr error

	logger Logger
}

// appendContext is the bookkeeping the engine keeps per outstanding
// Storage.Append call, so that when AppendDone reports completion the
// engine knows what to do next (reply to a leader's AppendEntries, or
// simply record that a self-entry is durable).
type appendContext struct {
	// isFollowerAppend is set when this append was servicing an
	// AppendEntries as a follower; once durable, the engine replies with an
	// AppendEntriesResult to leaderID.
	isFollowerAppend bool
	fromTerm         Term
	leaderID         ServerID
	lastNewIndex     uint64
}

// New constructs an Engine for server id, with the given initial
// configuration and options. The engine starts Unavailable; call Start to
// load durable state and begin as a follower (spec.md §3 Lifecycle).
func New(id ServerID, config *Configuration, opts ...Option) (*Engine, error) {
	if id == 0 {
		return nil, internalf("raft: server id must be non-zero")
	}
	if config == nil {
		return nil, internalf("raft: configuration must not be nil")
	}
	e := &Engine{
		opts:           resolveOptions(opts),
		id:             id,
		config:         config,
		role:           Unavailable,
		pendingAppends: make(map[AppendToken]appendContext),
	}
	e.logger = e.opts.logger
	return e, nil
}

// Bootstrap persists config as the cluster's initial configuration entry
// at index 1 (spec.md §6 "bootstrap(config)"), ahead of the first Start.
// It is a thin pass-through to the Storage collaborator — bootstrapping is
// an operational, one-time action on durable state, not something the
// engine itself needs to mediate.
func Bootstrap(storage Storage, config *Configuration) error {
	return storage.Bootstrap(config)
}

// Start loads durable state from storage and begins running as a follower
// with a fresh randomized election timeout (spec.md §3 Lifecycle).
func (e *Engine) Start(storage Storage, transport Transport, fsm FSM, observer Observer) error {
	if e.started {
		return ErrBadState
	}
	if observer == nil {
		observer = NopObserver{}
	}
	e.storage, e.transport, e.fsm, e.observer = storage, transport, fsm, observer

	result, err := storage.Load()
	if err != nil {
		return ErrIO(err)
	}
	e.log = NewLog()
	if len(result.Entries) > 0 {
		if err := e.log.AppendBatch(result.Entries, newEntryBatch(len(result.Entries))); err != nil {
			return internalf("start: replaying loaded entries: %v", err)
		}
	}
	e.term = result.Term
	e.vote = result.Vote
	e.bootstrapConfig = e.config.Clone()

	e.started = true
	e.becomeFollower(e.term, 0)
	if e.isSoleVoter() {
		// spec.md §8 boundary behavior: a sole voter does not wait out an
		// election timeout nobody else could contest.
		e.becomeCandidate()
		e.becomeLeader()
	}
	e.fieldLogger().Info("engine started")
	return nil
}

// Stop transitions the engine to Unavailable. No further intents are
// emitted; subsequent operations return ErrShutdown.
func (e *Engine) Stop() {
	e.shutdownLocked(ErrShutdown)
}

// State returns a synchronous snapshot of the engine's externally visible
// state (spec.md §5 "external observers may read snapshotted facts").
func (e *Engine) State() (role Role, term Term, commitIndex uint64) {
	return e.role, e.term, e.commitIndex
}

// LeaderID returns the server this engine currently believes is leader, or
// 0 if unknown.
func (e *Engine) LeaderID() ServerID { return e.currentLeaderID }

// Configuration returns the currently active membership configuration
// (spec.md §4.6 "activate immediately upon appending"), a snapshotted
// fact safe for an external observer to read.
func (e *Engine) Configuration() *Configuration { return e.config }

func (e *Engine) fieldLogger() *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"id":   uint64(e.id),
		"term": uint64(e.term),
		"role": e.role.String(),
	})
}

// shutdownLocked enters Unavailable and drops the candidate/leader scratch
// state. It releases no entry batches: entries already handed to the Log
// stay referenced by it, and on handleAppendEntries' shutdown paths the
// request's entries have not yet been handed to the Log, so the engine
// holds no batch of theirs.
func (e *Engine) shutdownLocked(cause error) {
	if e.role == Unavailable && e.shutdown {
		return
	}
	old := e.role
	e.role = Unavailable
	e.shutdown = true
	e.shutdownErr = cause
	e.candidate = nil
	e.leader = nil
	e.fieldLogger().WithError(cause).Error("engine shutting down")
	if old != Unavailable {
		e.observer.RoleChanged(old, Unavailable)
	}
}

func (e *Engine) checkAlive() error {
	if !e.started {
		return ErrBadState
	}
	if e.shutdown {
		return e.shutdownErr
	}
	return nil
}

// AcceptCommand appends a command entry to the leader's log and returns
// immediately with its (index, term); the caller learns of commit via the
// Observer.Committed hook or by polling State(). Only the leader may
// append command entries (spec.md §3 invariant 6).
//
// This is a deliberate departure from the teacher's Server.Command, which
// blocks the caller until the entry commits or times out — spec.md §1
// Non-goals forbid the core from blocking or reordering time, so the
// synchronous "wait for quorum" loop the teacher runs in leaderSelect's
// commandChan case is replaced with a fire-and-return call plus the
// observer hook.
func (e *Engine) AcceptCommand(payload []byte) (index uint64, term Term, err error) {
	if err := e.checkAlive(); err != nil {
		return 0, 0, err
	}
	if e.role != Leader {
		return 0, 0, ErrNotLeader
	}
	entry, err := e.log.Append(e.term, EntryCommand, payload)
	if err != nil {
		return 0, 0, internalf("accept command: %v", err)
	}
	e.issueSelfAppend(entry)
	e.replicateToAll()
	return entry.Index, entry.Term, nil
}

// TransferLeadership asks the engine to step down in favor of to. The
// minimal, spec-compliant implementation steps down immediately to
// follower once `to` is at least as caught up as the leader (MatchIndex ==
// leader's LastIndex); otherwise it returns ErrLeadershipLost to indicate
// the transfer cannot be completed safely right now.
func (e *Engine) TransferLeadership(to ServerID) error {
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.role != Leader {
		return ErrNotLeader
	}
	if to == e.id {
		return nil
	}
	p, ok := e.leader.progress[to]
	if !ok {
		return ErrUnknownID
	}
	if p.MatchIndex < e.log.LastIndex() {
		return ErrLeadershipLost
	}
	old := e.role
	e.role = Follower
	e.currentLeaderID = to
	e.leader = nil
	e.resetElectionTimer()
	e.observer.RoleChanged(old, e.role)
	return nil
}

// issueSelfAppend hands the leader's freshly-appended entry to Storage for
// durability bookkeeping. Commit accounting does not wait on this
// completing (the leader's own match index is derived directly from its
// in-memory Log, mirroring the teacher's synchronous Log.AppendEntry);
// AppendDone here only confirms durability for crash recovery.
func (e *Engine) issueSelfAppend(entry LogEntry) {
	token := e.nextAppendToken
	e.nextAppendToken++
	e.pendingAppends[token] = appendContext{isFollowerAppend: false}
	e.storage.Append([]LogEntry{entry}, token)
	// The leader's own match index is always its log's last index, so
	// appending can immediately satisfy quorum without waiting on a peer
	// reply — the only path that matters for a sole voter, and a head
	// start on commit for any cluster size (spec.md §4.5 commit rule).
	e.advanceLeaderCommit()
}

// AppendDone is one of the engine's four external entry points: the
// Storage collaborator calls this once a Storage.Append issued for token
// has durably completed (or failed).
func (e *Engine) AppendDone(token AppendToken, err error) {
	if e.checkAlive() != nil {
		return
	}
	ctx, ok := e.pendingAppends[token]
	if !ok {
		e.fieldLogger().Warn("append_done for unknown token, discarding")
		return
	}
	delete(e.pendingAppends, token)

	if err != nil {
		e.handleAppendFailure(ctx, err)
		return
	}
	if ctx.isFollowerAppend {
		e.replyAppendEntries(ctx.leaderID, AppendEntriesResult{
			Term:         e.term,
			Success:      true,
			LastLogIndex: ctx.lastNewIndex,
		})
		e.maybeAdvanceFollowerCommit(ctx)
	}
}

// handleAppendFailure is §7 kind 2 (transient I/O failure) on the
// persistence side. A failed self-append (leader) is only logged. A failed
// follower append is not retried: the leader that sent the triggering
// AppendEntries gets an unsuccessful reply whose Reason starts with
// "io_err", and the entries stay in the in-memory Log.
func (e *Engine) handleAppendFailure(ctx appendContext, cause error) {
	e.fieldLogger().WithError(cause).Warn("storage append failed")
	if !ctx.isFollowerAppend {
		return
	}
	e.replyAppendEntries(ctx.leaderID, AppendEntriesResult{
		Term:    e.term,
		Success: false,
		Reason:  "io_err: " + cause.Error(),
	})
}

// SendDone is one of the engine's four external entry points: the
// Transport collaborator calls this once a Transport.Send issued for
// token has completed (or failed) at the transport layer. A transport
// failure (§7 kind 2) demotes the affected peer back to probe and clears
// its pending-reply queue, so the next heartbeat/replication tick resends
// from NextIndex; a reply that still arrives for a cleared request finds
// no pending entry and is discarded.
func (e *Engine) SendDone(to ServerID, token SendToken, err error) {
	if e.checkAlive() != nil {
		return
	}
	if err == nil || e.role != Leader || e.leader == nil {
		return
	}
	p, ok := e.leader.progress[to]
	if !ok {
		return
	}
	e.fieldLogger().WithError(err).WithField("peer", uint64(to)).Warn("send failed, demoting peer to probe")
	p.Mode = progressProbe
	p.pending = nil
}

// Recv is one of the engine's four external entry points: the Transport
// collaborator delivers an inbound Message here. Exactly one payload field
// of msg is expected to be set; anything else is a programmer error in the
// collaborator and is ignored defensively rather than panicking the core.
func (e *Engine) Recv(msg Message) {
	if e.checkAlive() != nil {
		return
	}
	e.fieldLogger().WithFields(logrus.Fields{"from": uint64(msg.From), "kind": msg.kind()}).Debug("recv")
	switch {
	case msg.RequestVote != nil:
		result := e.handleRequestVote(msg.From, *msg.RequestVote)
		e.sendMessage(msg.From, Message{From: e.id, To: msg.From, RequestVoteResult: &result})
	case msg.RequestVoteResult != nil:
		e.handleRequestVoteResult(msg.From, *msg.RequestVoteResult)
	case msg.AppendEntries != nil:
		e.handleAppendEntries(msg.From, *msg.AppendEntries)
	case msg.AppendEntriesResult != nil:
		e.handleAppendEntriesResult(msg.From, *msg.AppendEntriesResult)
	case msg.InstallSnapshot != nil:
		e.handleInstallSnapshot(msg.From, *msg.InstallSnapshot)
	default:
		e.fieldLogger().Warn("recv: empty message, discarding")
	}
}

func (e *Engine) replyAppendEntries(to ServerID, result AppendEntriesResult) {
	e.sendMessage(to, Message{From: e.id, To: to, AppendEntriesResult: &result})
}

func (e *Engine) sendMessage(to ServerID, msg Message) {
	if e.transport == nil {
		return
	}
	token := e.nextSendToken
	e.nextSendToken++
	e.transport.Send(to, msg, token)
}

// assertf is the release-build half of Design Notes §9's assertion
// policy ("keep them in debug builds and convert each to an internal
// error in release builds (never swallow)"); see debugassert.go for the
// debug-build half, DebugAssertions, which panics instead.
func assertf(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	if DebugAssertions {
		panic(errors.Wrapf(internalf(format, args...), "assertion failed").Error())
	}
	return errors.Wrapf(internalf(format, args...), "assertion failed")
}
