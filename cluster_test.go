package raft_test

// Test-only harness: a deterministic, in-memory simulated cluster driven
// entirely by Tick, with no real goroutines, clocks, or sockets. Grounded
// on the teacher's approvingPeer/disapprovingPeer/nonresponsivePeer test
// doubles (server_test.go) — generalized from synchronous Peer method
// stand-ins to fakeStorage/fakeTransport collaborators satisfying the
// engine's async token/callback contract, and from sleep-and-poll
// (time.Sleep(raft.MaximumElectionTimeout())) to explicit Tick calls,
// since this engine may not be driven by a real clock.

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bernerdschaefer/raft"
)

// fakeStorage is a synchronous, in-memory Storage: Append completes
// (calling back AppendDone) before it returns, so tests never need to
// wait on a goroutine.
type fakeStorage struct {
	mu      sync.Mutex
	entries []raft.LogEntry
	term    raft.Term
	vote    raft.ServerID

	// engine is what Append calls back. It must be set before Start
	// whenever Start itself appends (a sole voter self-elects inside Start
	// and appends its no-op entry).
	engine *raft.Engine

	failNextAppend bool
}

func newFakeStorage() *fakeStorage { return &fakeStorage{} }

func (s *fakeStorage) Load() (raft.LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]raft.LogEntry, len(s.entries))
	copy(out, s.entries)
	return raft.LoadResult{Entries: out, Term: s.term, Vote: s.vote}, nil
}

func (s *fakeStorage) Bootstrap(config *raft.Configuration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) > 0 {
		return raft.ErrBadState
	}
	s.entries = append(s.entries, raft.LogEntry{Index: 1, Term: 0, Kind: raft.EntryConfiguration, Payload: config.Encode()})
	return nil
}

func (s *fakeStorage) SetTerm(t raft.Term) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = t
	return nil
}

func (s *fakeStorage) SetVote(id raft.ServerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vote = id
	return nil
}

func (s *fakeStorage) Append(entries []raft.LogEntry, token raft.AppendToken) {
	s.mu.Lock()
	fail := s.failNextAppend
	s.failNextAppend = false
	if !fail {
		s.entries = append(s.entries, entries...)
	}
	s.mu.Unlock()

	if fail {
		s.engine.AppendDone(token, errors.New("simulated disk failure"))
		return
	}
	s.engine.AppendDone(token, nil)
}

// fakeTransport delivers every Send synchronously to the addressed peer's
// Recv, then reports success back via SendDone — unless the peer is
// currently partitioned away.
type fakeTransport struct {
	mu        sync.Mutex
	self      *raft.Engine
	peers     map[raft.ServerID]*raft.Engine
	partition map[raft.ServerID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{peers: make(map[raft.ServerID]*raft.Engine), partition: make(map[raft.ServerID]bool)}
}

func (t *fakeTransport) setPartitioned(id raft.ServerID, partitioned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.partition[id] = partitioned
}

func (t *fakeTransport) Send(to raft.ServerID, msg raft.Message, token raft.SendToken) {
	t.mu.Lock()
	peer, ok := t.peers[to]
	cut := t.partition[to]
	t.mu.Unlock()

	if cut || !ok {
		t.self.SendDone(to, token, fmt.Errorf("fakeTransport: %d unreachable", to))
		return
	}
	peer.Recv(msg)
	t.self.SendDone(to, token, nil)
}

// recordingFSM applies every committed command entry to an in-order log,
// the way the teacher's noop := func([]byte) ([]byte, error) stand-in did,
// generalized to record rather than discard.
type recordingFSM struct {
	mu      sync.Mutex
	applied [][]byte
}

func (f *recordingFSM) Apply(index uint64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, append([]byte(nil), payload...))
	return nil
}

func (f *recordingFSM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

// recordingObserver captures role transitions for assertions, in place of
// the teacher's polling loop against server.State().
type recordingObserver struct {
	mu          sync.Mutex
	transitions []raft.Role
	committed   []uint64
	aborted     []raft.ServerID
}

func (o *recordingObserver) RoleChanged(old, new raft.Role) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, new)
}

func (o *recordingObserver) Committed(index uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.committed = append(o.committed, index)
}

func (o *recordingObserver) PromotionAborted(id raft.ServerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted = append(o.aborted, id)
}

func (o *recordingObserver) lastRole() raft.Role {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transitions) == 0 {
		return raft.Unavailable
	}
	return o.transitions[len(o.transitions)-1]
}

// testNode bundles one simulated cluster member.
type testNode struct {
	id        raft.ServerID
	engine    *raft.Engine
	storage   *fakeStorage
	transport *fakeTransport
	fsm       *recordingFSM
	observer  *recordingObserver
}

// testCluster is n engines wired together via fakeTransport, sharing one
// bootstrap Configuration, driven by explicit ticks — no goroutines, no
// wall-clock sleeps.
type testCluster struct {
	nodes map[raft.ServerID]*testNode
	order []raft.ServerID
}

func newTestCluster(t *testing.T, n int, opts ...raft.Option) *testCluster {
	t.Helper()
	members := make([]raft.Member, 0, n)
	for i := 1; i <= n; i++ {
		members = append(members, raft.Member{ID: raft.ServerID(i), Address: fmt.Sprintf("node%d", i), Voting: true})
	}

	c := &testCluster{nodes: make(map[raft.ServerID]*testNode)}
	for i := 1; i <= n; i++ {
		id := raft.ServerID(i)
		cfg, err := raft.NewConfiguration(members...)
		if err != nil {
			panic(err)
		}
		engine, err := raft.New(id, cfg, opts...)
		if err != nil {
			panic(err)
		}
		storage := newFakeStorage()
		transport := newFakeTransport()
		transport.self = engine
		fsm := &recordingFSM{}
		observer := &recordingObserver{}

		if err := raft.Bootstrap(storage, cfg); err != nil {
			panic(err)
		}
		storage.engine = engine
		if err := engine.Start(storage, transport, fsm, observer); err != nil {
			panic(err)
		}

		c.nodes[id] = &testNode{id: id, engine: engine, storage: storage, transport: transport, fsm: fsm, observer: observer}
		c.order = append(c.order, id)
	}
	for _, n1 := range c.nodes {
		for id, n2 := range c.nodes {
			if id == n1.id {
				continue
			}
			n1.transport.peers[id] = n2.engine
		}
	}
	return c
}

// tick advances every node's clock by msec, in a fixed order. Order
// matters only in that it is deterministic across a test run.
func (c *testCluster) tick(msec uint64) {
	for _, id := range c.order {
		c.nodes[id].engine.Tick(msec)
	}
}

// tickUntilLeader ticks in rounds of step ms, up to maxTotal ms, until
// some node believes itself Leader, returning the first such id in node
// order (or 0 if none emerged within the budget).
func (c *testCluster) tickUntilLeader(step, maxTotal uint64) raft.ServerID {
	var elapsed uint64
	for elapsed < maxTotal {
		c.tick(step)
		elapsed += step
		if id, ok := c.findLeader(); ok {
			return id
		}
	}
	return 0
}

func (c *testCluster) findLeader() (raft.ServerID, bool) {
	for _, id := range c.order {
		role, _, _ := c.nodes[id].engine.State()
		if role == raft.Leader {
			return id, true
		}
	}
	return 0, false
}
