package raft

// This file is the Go rendering of spec.md §6's "I/O collaborator
// interface (the core consumes)". The C original passes a void* user_data
// and a raw function pointer as done_cb; idiomatic Go has no use for
// either, so Storage.Append/Transport.Send instead take an opaque token
// minted by the engine itself, which the collaborator must echo back
// through Engine.AppendDone/Engine.SendDone once the operation completes.
// This keeps the "exactly four external entry points" shape Design Notes
// §9 asks for (Tick, Recv, AppendDone, SendDone) while letting a real,
// asynchronous collaborator (e.g. raftio/raftwire) complete the operation
// from another goroutine, provided it funnels the completion back into the
// engine through a single mailbox, per spec.md §5.

// AppendToken identifies one in-flight Storage.Append call.
type AppendToken uint64

// SendToken identifies one in-flight Transport.Send call.
type SendToken uint64

// LoadResult is what Storage.Load returns at startup: the durable
// {term, vote, log} triple the engine resumes from (spec.md §3 Lifecycle).
type LoadResult struct {
	Term       Term
	Vote       ServerID
	StartIndex uint64 // first_index of the loaded log (1 if nothing compacted)
	Entries    []LogEntry
}

// Storage is the durable persistence collaborator: term/vote/log segments
// and snapshots. Concrete storage is explicitly out of scope for the core
// (spec.md §1); this interface is all the core depends on.
//
// Grounded on the teacher's NewServer(id uint64, store io.Writer, apply
// func([]byte) ([]byte, error)) constructor argument, generalized from a
// single io.Writer sink to the full durable-state contract spec.md §6
// calls for (term, vote, bootstrap, async append).
type Storage interface {
	// Load returns the durable state recorded from a prior run, or the
	// zero LoadResult for a brand new server.
	Load() (LoadResult, error)

	// Bootstrap persists an initial configuration entry at index 1. Fails
	// with ErrBadState if Load would already return a non-empty log.
	Bootstrap(config *Configuration) error

	// SetTerm durably records the current term. The engine calls it
	// synchronously right after advancing its in-memory term and before it
	// sends any message carrying the new term (spec.md §4.4 "Granting
	// persists the vote before replying" implies the term/vote pair is
	// durable before any reply leaves the process).
	SetTerm(t Term) error

	// SetVote durably records the vote cast for the current term.
	SetVote(id ServerID) error

	// Append persists entries asynchronously. Once fsync'd, the
	// collaborator must call Engine.AppendDone(token, err) exactly once.
	Append(entries []LogEntry, token AppendToken)
}

// Transport is the network collaborator. Concrete transport is explicitly
// out of scope for the core (spec.md §1); raftio/raftwire is a reference
// implementation, not a requirement.
//
// Grounded on the teacher's Peer interface (AppendEntries/RequestVote/
// Command methods on server.go, exercised via Peers.Except/RequestVotes),
// generalized from synchronous Go method calls to the async
// token/callback model the spec's I/O collaborator contract requires.
type Transport interface {
	// Send delivers msg to the server at id asynchronously. Once the send
	// (or its failure) is known, the collaborator must call
	// Engine.SendDone(to, token, err) exactly once.
	Send(to ServerID, msg Message, token SendToken)
}

// FSM is the application state machine that interprets committed entries
// (spec.md §1, out of scope for the core beyond this callback). Apply is
// called synchronously and in strictly increasing index order (spec.md
// §5); it is not one of the four async external callbacks, matching the
// teacher's own apply func([]byte) ([]byte, error) constructor argument.
type FSM interface {
	Apply(index uint64, payload []byte) error
}
