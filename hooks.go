package raft

// Observer is the synchronous "watch hook" collaborator (spec.md §6).
// Every method is called synchronously, from within a core operation, and
// must not reenter the core (calling back into the same Engine from inside
// a hook is a programmer error).
//
// Grounded on the teacher's logGeneric/logRequestVoteResponse/
// logAppendEntriesResponse calls (server.go), which log these same
// transitions as unstructured text; Observer promotes the notable ones
// (role change, commit advance, aborted promotion) to a first-class
// callback a caller can act on, while the structured log record (§AMBIENT
// STACK) continues to carry the full diagnostic detail.
type Observer interface {
	// RoleChanged fires whenever the engine's role transitions.
	RoleChanged(old, new Role)
	// Committed fires whenever commit_index advances, once per call (with
	// the new, highest committed index — not once per entry).
	Committed(index uint64)
	// PromotionAborted fires when a non-voter's catch-up rounds fail to
	// complete within the §4.6 policy.
	PromotionAborted(id ServerID)
}

// NopObserver implements Observer with no-ops, the default when a nil
// Observer is passed to Start.
type NopObserver struct{}

func (NopObserver) RoleChanged(old, new Role)  {}
func (NopObserver) Committed(index uint64)     {}
func (NopObserver) PromotionAborted(id ServerID) {}
