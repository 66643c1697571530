package raft

// Role is the server's position in the state machine spec.md §3 describes:
// exactly one of unavailable/follower/candidate/leader at a time.
//
// Grounded on the teacher's serverState (a mutex-guarded string: Follower/
// Candidate/Leader constants in server.go), extended with Unavailable for
// the pre-start/post-shutdown state spec.md §3 requires and promoted from
// a bare string to a typed enum.
type Role uint8

const (
	Unavailable Role = iota
	Follower
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unavailable"
	}
}

// candidateState is the candidate-only scratch: who has granted a vote
// this election. Grounded on candidateSelect's votesReceived counter in
// server.go, generalized from a counter to a set so a duplicate grant from
// a misbehaving/duplicated peer can't be double-counted (spec.md §8
// "Votes granted per term per server ≤ 1").
type candidateState struct {
	votesGranted map[ServerID]bool
}

func newCandidateState(self ServerID) *candidateState {
	return &candidateState{votesGranted: map[ServerID]bool{self: true}}
}

// progressMode is the tagged-variant discriminant Design Notes §9 calls
// for ("model as a tagged variant with per-variant fields, not
// inheritance") instead of, say, three separate progress types behind an
// interface.
type progressMode uint8

const (
	progressProbe progressMode = iota
	progressPipeline
	progressSnapshot
)

// PeerProgress is the leader's belief about one other server's log state
// (spec.md §3 "Per-peer progress"). Grounded on the teacher's nextIndex
// type (server.go: a map[uint64]uint64 guarded by sync.RWMutex, with
// PrevLogIndex/Decrement/Set methods), generalized to also track
// MatchIndex and replication Mode, which the teacher's single-value map
// didn't need because it used synchronous RPCs with no pipelining.
type PeerProgress struct {
	NextIndex  uint64
	MatchIndex uint64
	Mode       progressMode

	// pending records, in send order, the last-log-index carried by each
	// outstanding AppendEntries request to this peer. In probe mode at
	// most one request may be outstanding (spec.md §4.5 "Marked in-flight
	// to avoid pipelining duplicates in probe state"); in pipeline mode
	// several may be. Replies are matched against the front of this queue
	// (FIFO), which is how send-order processing and stale/duplicate
	// discard (spec.md §5) are implemented without a wire-level
	// correlation id.
	pending []uint64
}

func (p *PeerProgress) hasInFlight() bool { return len(p.pending) > 0 }

func (p *PeerProgress) pushPending(lastIndexSent uint64) {
	p.pending = append(p.pending, lastIndexSent)
}

// popPending returns the oldest outstanding request's last-log-index and
// true, or (0, false) if no request was outstanding (a stale or duplicate
// reply, discarded by the caller).
func (p *PeerProgress) popPending() (uint64, bool) {
	if len(p.pending) == 0 {
		return 0, false
	}
	v := p.pending[0]
	p.pending = p.pending[1:]
	return v, true
}

// leaderState is the leader-only scratch: per-peer progress plus at most
// one in-flight membership change (spec.md §4.6 "at most one change may be
// in-flight").
type leaderState struct {
	progress  map[ServerID]*PeerProgress
	promotion *promotionState
	// selfRemovalPending is set when the leader has appended a
	// configuration entry that removes itself; it steps down once that
	// entry commits (spec.md §4.6).
	selfRemovalPending bool
	// configChangeInFlight and pendingConfigIndex implement "at most one
	// change may be in-flight... from the moment its configuration entry
	// is appended until that entry is committed" (spec.md §4.6).
	configChangeInFlight bool
	pendingConfigIndex   uint64
}

func newLeaderState(cfg *Configuration, self ServerID, lastIndex uint64) *leaderState {
	ls := &leaderState{progress: make(map[ServerID]*PeerProgress)}
	for _, m := range cfg.Members() {
		if m.ID == self {
			continue
		}
		ls.progress[m.ID] = &PeerProgress{NextIndex: lastIndex + 1, MatchIndex: 0, Mode: progressProbe}
	}
	return ls
}

// promotionState tracks an in-progress non-voter catch-up per spec.md
// §4.6. Elapsed time is measured in accumulated Tick milliseconds, never
// via the wall clock, since the core may not read time itself (spec.md
// §1 Non-goals).
type promotionState struct {
	target ServerID

	round         int    // 1-indexed; at most catchUpRounds
	roundTarget   uint64 // leader's last_index as observed at round start
	roundElapsed  uint64 // ms elapsed in the current round
	totalElapsed  uint64 // ms elapsed across all rounds (hard 30s ceiling)
}
