package raft_test

import (
	"testing"

	"github.com/bernerdschaefer/raft"
)

func TestConfigurationQuorumIsStrictMajority(t *testing.T) {
	cases := []struct {
		voting int
		quorum int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
	}
	for _, c := range cases {
		members := make([]raft.Member, c.voting)
		for i := range members {
			members[i] = raft.Member{ID: raft.ServerID(i + 1), Address: "x", Voting: true}
		}
		cfg, err := raft.NewConfiguration(members...)
		if err != nil {
			t.Fatal(err)
		}
		if got := cfg.Quorum(); got != c.quorum {
			t.Fatalf("voting=%d: expected quorum %d, got %d", c.voting, c.quorum, got)
		}
	}
}

func TestConfigurationRejectsNoVotingMembers(t *testing.T) {
	_, err := raft.NewConfiguration(raft.Member{ID: 1, Address: "x", Voting: false})
	if err != raft.ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigurationRemoveLastVoterFails(t *testing.T) {
	cfg, err := raft.NewConfiguration(raft.Member{ID: 1, Address: "x", Voting: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Remove(1); err != raft.ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig removing the last voter, got %v", err)
	}
}

func TestConfigurationAddDuplicateIDFails(t *testing.T) {
	cfg, err := raft.NewConfiguration(raft.Member{ID: 1, Address: "x", Voting: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Add(1, "y", false); err != raft.ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestConfigurationExceptExcludesSelfAndNonVoters(t *testing.T) {
	cfg, err := raft.NewConfiguration(
		raft.Member{ID: 1, Address: "a", Voting: true},
		raft.Member{ID: 2, Address: "b", Voting: true},
		raft.Member{ID: 3, Address: "c", Voting: false},
	)
	if err != nil {
		t.Fatal(err)
	}
	except := cfg.Except(1)
	if len(except) != 1 || except[0].ID != 2 {
		t.Fatalf("expected exactly member 2, got %+v", except)
	}
}

// TestConfigurationEncodeDecodeRoundTrip is spec.md §8's round-trip law
// for the wire/persistence format.
func TestConfigurationEncodeDecodeRoundTrip(t *testing.T) {
	cfg, err := raft.NewConfiguration(
		raft.Member{ID: 1, Address: "node-1.example:8080", Voting: true},
		raft.Member{ID: 2, Address: "node-2.example:8080", Voting: true},
		raft.Member{ID: 99, Address: "observer.example:8080", Voting: false},
	)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := raft.DecodeConfiguration(cfg.Encode())
	if err != nil {
		t.Fatal(err)
	}

	want := cfg.Members()
	got := decoded.Members()
	if len(want) != len(got) {
		t.Fatalf("member count mismatch: want %d got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("member %d mismatch: want %+v got %+v", i, want[i], got[i])
		}
	}
}

func TestDecodeConfigurationRejectsTruncatedInput(t *testing.T) {
	if _, err := raft.DecodeConfiguration([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error decoding truncated configuration bytes")
	}
}
