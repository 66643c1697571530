package raft

import "sync"

// entryBatch is the reference-counted backing buffer for a group of
// LogEntry values that were received (or constructed) together and share
// one allocation, per Design Notes §9: "a shared base pointer plus
// per-entry slices into it". TruncateSuffix releases a batch only once
// every entry that referenced it has itself been released.
type entryBatch struct {
	mu       sync.Mutex
	refs     int
	released bool
}

func newEntryBatch(n int) *entryBatch {
	return &entryBatch{refs: n}
}

// release drops one reference. It is safe to call release on a nil batch
// (a standalone, non-batched entry) as a no-op, so callers never need to
// branch on whether an entry came from AppendBatch or Append.
func (b *entryBatch) release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs > 0 {
		b.refs--
	}
	if b.refs == 0 {
		b.released = true
	}
}

// Released reports whether every entry sharing this batch has been
// released. Exposed so tests can observe the ownership-transfer invariant
// from Design Notes §9 directly instead of inferring it indirectly.
func (b *entryBatch) Released() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// LogEntry is one immutable, index-addressed record in the replicated log.
// Index and Term never change after the entry is written (spec.md §3
// invariant 3); only an uncommitted suffix may later be discarded.
type LogEntry struct {
	Index   uint64
	Term    Term
	Kind    EntryKind
	Payload []byte

	batch *entryBatch
}

// Log is the append-only, 1-indexed sequence of entries. It exclusively
// owns entry buffers except where a batch marker says otherwise (spec.md
// §3 "Entities' ownership").
//
// Grounded on the teacher's *Log type, referenced throughout server.go
// (s.log.LastIndex(), s.log.AppendEntry, s.log.EntriesAfter,
// s.log.CommitTo, s.log.EnsureLastIs) but not present in the retrieved
// pack; rebuilt here against spec.md §4.2's operation list, which differs
// from the teacher's (Get/TermOf/TruncateSuffix/TruncatePrefix as
// primitives, with AppendEntries-handling logic composed from them in
// replication.go rather than living inside the log itself).
type Log struct {
	mu sync.Mutex

	entries []LogEntry // entries[i] is at absolute index firstIndex+i

	firstIndex uint64 // absolute index of entries[0]; entries below this are compacted
	snapIndex  uint64 // last_included_index of the most recent snapshot, 0 if none
	snapTerm   Term   // last_included_term of the most recent snapshot
}

// NewLog returns an empty log starting at index 1.
func NewLog() *Log {
	return &Log{firstIndex: 1}
}

// Append adds a single, unbatched entry immediately after the current tail
// and returns the entry as written (with its assigned Index).
func (l *Log) Append(term Term, kind EntryKind, payload []byte) (LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := LogEntry{Index: l.lastIndexLocked() + 1, Term: term, Kind: kind, Payload: payload}
	l.entries = append(l.entries, e)
	return e, nil
}

// AppendBatch appends a contiguous run of entries that share one backing
// buffer (owningBatch). The entries must already carry strictly
// increasing, contiguous indices starting at last_index+1; this is the
// shape a Transport decoding an AppendEntries request off the wire would
// produce. Ownership of owningBatch transfers to the Log unconditionally
// on a successful return (Design Notes §9 open question).
func (l *Log) AppendBatch(entries []LogEntry, owningBatch *entryBatch) error {
	if len(entries) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	want := l.lastIndexLocked() + 1
	for i := range entries {
		if entries[i].Index != want {
			return internalf("append_batch: entry %d has index %d, want %d", i, entries[i].Index, want)
		}
		entries[i].batch = owningBatch
		want++
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// TruncateSuffix discards every entry at or after fromIndex. It is only
// ever valid on the uncommitted tail (callers are responsible for not
// truncating committed entries; doing so would violate Leader Completeness
// and is treated as a protocol-corruption condition one layer up, in
// replication.go). Released batches are un-referenced here, honoring
// shared ownership.
func (l *Log) TruncateSuffix(fromIndex uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fromIndex < l.firstIndex {
		return ErrIndexIsCompacted
	}
	last := l.lastIndexLocked()
	if fromIndex > last+1 {
		return ErrIndexOutOfRange
	}
	cut := int(fromIndex - l.firstIndex)
	if cut >= len(l.entries) {
		return nil
	}
	for i := cut; i < len(l.entries); i++ {
		l.entries[i].batch.release()
	}
	l.entries = l.entries[:cut]
	return nil
}

// TruncatePrefix discards every entry at or before upTo, recording upTo as
// the new snapshot boundary (last_included_index/term). Called after a
// snapshot has been durably written by the collaborator.
func (l *Log) TruncatePrefix(upTo uint64, snapshotTerm Term) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if upTo < l.firstIndex {
		return nil // already compacted at least this far
	}
	last := l.lastIndexLocked()
	if upTo > last {
		return ErrIndexOutOfRange
	}
	cut := int(upTo - l.firstIndex + 1)
	for i := 0; i < cut && i < len(l.entries); i++ {
		l.entries[i].batch.release()
	}
	if cut > len(l.entries) {
		cut = len(l.entries)
	}
	l.entries = l.entries[cut:]
	l.firstIndex = upTo + 1
	l.snapIndex = upTo
	l.snapTerm = snapshotTerm
	return nil
}

// TermOf returns the term of the entry at index. For index 0 it returns 0,
// and for the snapshot's last_included_index it returns the snapshot's
// last_included_term; other compacted indices give ErrIndexIsCompacted,
// and an index beyond the log's tail gives ErrIndexOutOfRange.
func (l *Log) TermOf(index uint64) (Term, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == 0 {
		return 0, nil
	}
	if index == l.snapIndex {
		return l.snapTerm, nil
	}
	if index < l.firstIndex {
		return 0, ErrIndexIsCompacted
	}
	if index > l.lastIndexLocked() {
		return 0, ErrIndexOutOfRange
	}
	return l.entries[index-l.firstIndex].Term, nil
}

// Get returns the entry at index.
func (l *Log) Get(index uint64) (LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < l.firstIndex {
		return LogEntry{}, ErrIndexIsCompacted
	}
	if index > l.lastIndexLocked() {
		return LogEntry{}, ErrIndexOutOfRange
	}
	return l.entries[index-l.firstIndex], nil
}

// Slice returns entries in [from, to] inclusive, clamped to the available
// range. Used by replication.go to build AppendEntries requests.
func (l *Log) Slice(from, to uint64) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.lastIndexLocked()
	if to > last {
		to = last
	}
	if from < l.firstIndex {
		from = l.firstIndex
	}
	if from > to {
		return nil
	}
	out := make([]LogEntry, to-from+1)
	copy(out, l.entries[from-l.firstIndex:to-l.firstIndex+1])
	return out
}

// LastIndex returns the index of the last entry, or the snapshot's
// last_included_index if the log is empty following compaction, or 0 for a
// genuinely empty log.
func (l *Log) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() uint64 {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Index
	}
	return l.snapIndex
}

// LastTerm returns the term of the last entry (0 for an empty log with no
// snapshot, per spec.md §8 "Empty log" boundary behavior).
func (l *Log) LastTerm() Term {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Term
	}
	return l.snapTerm
}

// FirstIndex returns the smallest index not yet compacted into a snapshot.
func (l *Log) FirstIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstIndex
}

// SnapshotFacts returns the last_included_index/term of the most recent
// compaction, (0, 0) if none has happened yet.
func (l *Log) SnapshotFacts() (uint64, Term) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapIndex, l.snapTerm
}
