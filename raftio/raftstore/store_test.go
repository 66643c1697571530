package raftstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bernerdschaefer/raft"
	"github.com/bernerdschaefer/raft/raftio/raftstore"
)

func testConfig(t *testing.T) *raft.Configuration {
	t.Helper()
	cfg, err := raft.NewConfiguration(
		raft.Member{ID: 1, Address: "node1:8080", Voting: true},
		raft.Member{ID: 2, Address: "node2:8080", Voting: true},
		raft.Member{ID: 3, Address: "node3:8080", Voting: true},
	)
	require.NoError(t, err)
	return cfg
}

func TestBootstrapThenLoad(t *testing.T) {
	s := raftstore.New()
	require.NoError(t, s.Bootstrap(testConfig(t)))

	result, err := s.Load()
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, uint64(1), result.Entries[0].Index)
	require.Equal(t, raft.EntryConfiguration, result.Entries[0].Kind)
}

func TestBootstrapTwiceFails(t *testing.T) {
	s := raftstore.New()
	require.NoError(t, s.Bootstrap(testConfig(t)))
	require.ErrorIs(t, s.Bootstrap(testConfig(t)), raft.ErrBadState)
}

func TestSetTermVotePersists(t *testing.T) {
	s := raftstore.New()
	require.NoError(t, s.SetTerm(raft.Term(7)))
	require.NoError(t, s.SetVote(raft.ServerID(2)))

	result, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, raft.Term(7), result.Term)
	require.Equal(t, raft.ServerID(2), result.Vote)
}

func TestAppendInvokesOnAppendHook(t *testing.T) {
	s := raftstore.New()

	var gotToken raft.AppendToken
	var gotCount int
	s.OnAppend(func(entries []raft.LogEntry, token raft.AppendToken) {
		gotToken = token
		gotCount = len(entries)
	})

	entries := []raft.LogEntry{{Index: 1, Term: 1, Kind: raft.EntryCommand, Payload: []byte("x")}}
	s.Append(entries, raft.AppendToken(42))

	require.Equal(t, raft.AppendToken(42), gotToken)
	require.Equal(t, 1, gotCount)

	result, err := s.Load()
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
}
