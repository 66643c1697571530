// Package raftstore is a reference Storage implementation for
// github.com/bernerdschaefer/raft: an in-memory, mutex-guarded log plus
// term/vote record, durable only for the lifetime of the process.
//
// Grounded on the teacher's NewServer(id, store io.Writer, apply ...)
// constructor argument (server.go) and its tests' use of &bytes.Buffer{}
// as a store: here that single io.Writer is generalized into the engine's
// full Storage contract (Load/Bootstrap/SetTerm/SetVote/Append), since the
// spec's Storage collaborator does much more than the teacher's
// write-ahead-log sketch did.
package raftstore

import (
	"sync"

	"github.com/bernerdschaefer/raft"
)

// Store is a reference, in-memory Storage. It is safe for concurrent use,
// though the engine itself only ever calls it from one goroutine at a
// time; the lock exists so a test harness can inspect it concurrently
// (e.g. to assert on persisted state) or drive Append completion from a
// separate goroutine, the way a real disk-backed collaborator would.
type Store struct {
	mu sync.Mutex

	term    raft.Term
	vote    raft.ServerID
	entries []raft.LogEntry

	onAppend func([]raft.LogEntry, raft.AppendToken)
}

// New returns an empty Store. Call raft.Bootstrap against it before the
// engine's first Start if the cluster's initial configuration is not
// already present.
func New() *Store {
	return &Store{}
}

// Bootstrap implements raft.Storage: it persists config as the initial
// configuration entry at index 1, ahead of the first Start (spec.md §6).
func (s *Store) Bootstrap(config *raft.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 {
		return raft.ErrBadState
	}
	s.entries = append(s.entries, raft.LogEntry{
		Index:   1,
		Term:    0,
		Kind:    raft.EntryConfiguration,
		Payload: config.Encode(),
	})
	return nil
}

// Load implements raft.Storage: it returns every entry currently on disk
// plus the last saved term/vote, the way the teacher's Server replayed
// its write-ahead log on Start.
func (s *Store) Load() (raft.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]raft.LogEntry, len(s.entries))
	copy(out, s.entries)
	return raft.LoadResult{Entries: out, Term: s.term, Vote: s.vote, StartIndex: 1}, nil
}

// SetTerm implements raft.Storage, recording the current term the engine
// has just advanced to.
func (s *Store) SetTerm(t raft.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = t
	return nil
}

// SetVote implements raft.Storage, durably recording the vote cast for
// the current term before a RequestVote grant is replied to.
func (s *Store) SetVote(id raft.ServerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vote = id
	return nil
}

// Append implements raft.Storage. The reference store is synchronous and
// in-memory, so the completion callback fires before Append returns;
// nothing stops a caller from wrapping Store to introduce latency or
// failures for testing AppendDone's async handling (see OnAppend).
func (s *Store) Append(entries []raft.LogEntry, token raft.AppendToken) {
	s.mu.Lock()
	s.entries = append(s.entries, entries...)
	hook := s.onAppend
	s.mu.Unlock()
	if hook != nil {
		hook(entries, token)
	}
}

// OnAppend registers the callback Append invokes after persisting, so a
// test harness can route completions into Engine.AppendDone without
// Store needing to know about Engine. Not part of raft.Storage.
func (s *Store) OnAppend(fn func([]raft.LogEntry, raft.AppendToken)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAppend = fn
}
