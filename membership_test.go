package raft_test

import (
	"testing"
	"time"

	"github.com/bernerdschaefer/raft"
)

// TestAddNonvoting covers spec.md §4.6: a non-voting member is added via a
// configuration entry and never counts toward quorum.
func TestAddNonvoting(t *testing.T) {
	c := newTestCluster(t, 1)
	leader := c.nodes[1]

	if err := leader.engine.AddNonvoting(4, "node4"); err != nil {
		t.Fatalf("AddNonvoting failed: %v", err)
	}

	role, _, commit := leader.engine.State()
	if role != raft.Leader {
		t.Fatalf("adding a non-voter must not affect leadership, got %s", role)
	}
	if commit == 0 {
		t.Fatal("expected a sole voter's own append to commit immediately")
	}
}

// TestAddNonvotingRejectsWhenNotLeader covers the "only the leader may
// propose configuration changes" precondition.
func TestAddNonvotingRejectsWhenNotLeader(t *testing.T) {
	c := newTestCluster(t, 3, raft.WithElectionTimeout(1000))
	var follower *testNode
	for _, id := range c.order {
		role, _, _ := c.nodes[id].engine.State()
		if role == raft.Follower {
			follower = c.nodes[id]
			break
		}
	}
	if follower == nil {
		t.Fatal("expected at least one follower at start")
	}
	if err := follower.engine.AddNonvoting(9, "node9"); err != raft.ErrNotLeader {
		t.Fatalf("expected ErrNotLeader, got %v", err)
	}
}

// TestConfigChangeBusyRejectsConcurrentChange covers spec.md §4.6's
// single-in-flight-change rule. Uses a 3-node cluster with both followers
// partitioned away so the first change cannot reach quorum and commit,
// keeping configChangeInFlight true for the second attempt to observe.
func TestConfigChangeBusyRejectsConcurrentChange(t *testing.T) {
	c := newTestCluster(t, 3, raft.WithElectionTimeout(10), raft.WithRandSource(raft.NewSeededRandSource(3)))
	leaderID := c.tickUntilLeader(5, 2000)
	if leaderID == 0 {
		t.Fatal("no leader elected within budget")
	}
	leader := c.nodes[leaderID]
	for _, id := range c.order {
		if id != leaderID {
			leader.transport.setPartitioned(id, true)
		}
	}

	if err := leader.engine.AddNonvoting(4, "node4"); err != nil {
		t.Fatalf("first AddNonvoting failed: %v", err)
	}
	if err := leader.engine.AddNonvoting(5, "node5"); err != raft.ErrConfigBusy {
		t.Fatalf("expected ErrConfigBusy for a second in-flight change, got %v", err)
	}
}

// TestRemoveLeaderSelfStepsDownAfterCommit covers spec.md §4.6: "A leader
// that removes itself steps down after the removal entry commits."
func TestRemoveLeaderSelfStepsDownAfterCommit(t *testing.T) {
	c := newTestCluster(t, 2)
	leaderID := c.tickUntilLeader(5, 2000)
	if leaderID == 0 {
		t.Fatal("no leader elected within budget")
	}
	leader := c.nodes[leaderID]

	if err := leader.engine.Remove(leaderID); err != nil {
		t.Fatalf("Remove(self) failed: %v", err)
	}
	// The remaining member's acknowledgement is a quorum of the new
	// one-voter configuration, and fakeTransport/fakeStorage complete
	// synchronously, so Remove commits, applies and steps down before it
	// returns; no tick needed.
	role, _, _ := leader.engine.State()
	if role != raft.Follower {
		t.Fatalf("expected leader to step down to Follower after self-removal commits, got %s", role)
	}
}

// TestPromoteUnknownIDFails covers the precondition on Promote.
func TestPromoteUnknownIDFails(t *testing.T) {
	c := newTestCluster(t, 1)
	leader := c.nodes[1]

	if err := leader.engine.Promote(42); err != raft.ErrUnknownID {
		t.Fatalf("expected ErrUnknownID, got %v", err)
	}
}

// TestPromoteAlreadyVotingIsNoop covers Promote's early-return for a
// member that is already a voter.
func TestPromoteAlreadyVotingIsNoop(t *testing.T) {
	c := newTestCluster(t, 3, raft.WithElectionTimeout(10), raft.WithRandSource(raft.NewSeededRandSource(4)))
	leaderID := c.tickUntilLeader(5, 2000)
	if leaderID == 0 {
		t.Fatal("no leader elected within budget")
	}
	var other raft.ServerID
	for _, id := range c.order {
		if id != leaderID {
			other = id
			break
		}
	}
	if err := c.nodes[leaderID].engine.Promote(other); err != nil {
		t.Fatalf("promoting an already-voting member should be a no-op, got %v", err)
	}
}

// TestPromoteCompletesAfterCatchUpRounds drives a leader's non-voter
// through the full §4.6 catch-up protocol and confirms the member
// eventually becomes a voter.
func TestPromoteCompletesAfterCatchUpRounds(t *testing.T) {
	c := newTestCluster(t, 1, raft.WithCatchUpPolicy(2, 30*time.Second))
	leader := c.nodes[1]

	if err := leader.engine.AddNonvoting(4, "node4"); err != nil {
		t.Fatalf("AddNonvoting failed: %v", err)
	}

	// Wire a fourth engine into the cluster as the promoted member so its
	// AppendEntriesResult replies can actually advance MatchIndex.
	cfg, err := raft.NewConfiguration(
		raft.Member{ID: 1, Address: "node1", Voting: true},
		raft.Member{ID: 4, Address: "node4", Voting: false},
	)
	if err != nil {
		t.Fatal(err)
	}
	newMember, err := raft.New(4, cfg)
	if err != nil {
		t.Fatal(err)
	}
	memberStorage := newFakeStorage()
	memberTransport := newFakeTransport()
	memberTransport.self = newMember
	if err := raft.Bootstrap(memberStorage, cfg); err != nil {
		t.Fatal(err)
	}
	if err := newMember.Start(memberStorage, memberTransport, &recordingFSM{}, raft.NopObserver{}); err != nil {
		t.Fatal(err)
	}
	memberStorage.engine = newMember

	leader.transport.peers[4] = newMember
	memberTransport.peers[1] = leader.engine

	if err := leader.engine.Promote(4); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		c.tick(5)
		newMember.Tick(5)
	}

	m, ok := leader.engine.Configuration().Get(4)
	if !ok {
		t.Fatal("expected member 4 to still be configured after catch-up rounds")
	}
	if !m.Voting {
		t.Fatal("expected member 4 to have been promoted to a voter after catch-up rounds complete")
	}
}

// TestRollbackConfigurationOnTruncate covers spec.md §4.6's rollback rule
// by exercising it through handleAppendEntries directly: a follower that
// appended a configuration entry, then has it truncated away by a
// conflicting leader, reverts to the previously active configuration.
func TestRollbackConfigurationOnTruncate(t *testing.T) {
	engine, _, transport := newFollowerWithLog(t)

	cfg, err := raft.NewConfiguration(
		raft.Member{ID: 1, Address: "n1", Voting: true},
		raft.Member{ID: 2, Address: "n2", Voting: true},
		raft.Member{ID: 3, Address: "n3", Voting: true},
		raft.Member{ID: 4, Address: "n4", Voting: false},
	)
	if err != nil {
		t.Fatal(err)
	}
	engine.Recv(raft.Message{From: 2, To: 1, AppendEntries: &raft.AppendEntries{
		Term: 1, LeaderID: 2, PrevLogIndex: 1, PrevLogTerm: 0,
		Entries: []raft.LogEntry{{Index: 2, Term: 1, Kind: raft.EntryConfiguration, Payload: cfg.Encode()}},
	}})
	if reply := lastReply(transport); reply == nil || !reply.Success {
		t.Fatalf("expected config append to succeed, got %+v", reply)
	}

	// A new leader overwrites index 2 with an unrelated command entry.
	engine.Recv(raft.Message{From: 3, To: 1, AppendEntries: &raft.AppendEntries{
		Term: 2, LeaderID: 3, PrevLogIndex: 1, PrevLogTerm: 0,
		Entries: []raft.LogEntry{{Index: 2, Term: 2, Kind: raft.EntryCommand, Payload: []byte("x")}},
	}})
	if reply := lastReply(transport); reply == nil || !reply.Success {
		t.Fatalf("expected overwrite append to succeed, got %+v", reply)
	}

	// The 4th, non-voting member must no longer be recognized: the
	// rollback should have restored the bootstrap (3-voter) configuration.
	if _, ok := engine.Configuration().Get(4); ok {
		t.Fatal("expected the truncated configuration entry's member to be rolled back out")
	}
	if len(engine.Configuration().Members()) != 3 {
		t.Fatalf("expected rollback to the bootstrap 3-member configuration, got %d members", len(engine.Configuration().Members()))
	}
}
