// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/dbft-core"
	"github.com/luxfi/dbft-core/testutil"
	"github.com/luxfi/dbft-core/wal"
)

// TestLoadFromWALRestoresCommitSentWithoutEquivocation covers scenario S5:
// a node that already broadcast its own Commit before crashing must, after
// restarting and replaying its write-ahead log, refuse to sign a second,
// conflicting Commit for the same (height, view) even once PreCommit
// quorum later closes for the other slot (Property 1, §8.1).
func TestLoadFromWALRestoresCommitSentWithoutEquivocation(t *testing.T) {
	const n = 4 // F(4)=1, M(4)=3
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = NodeID{byte(i + 1)}
	}
	vs := NewValidatorSet(ids, 0) // node 0 is under test; height 0, view 0 makes it the priority primary

	mempool := testutil.NewFakeMempool()
	mempool.Add(&testutil.FakeTransaction{H: Hash{0x01}, SizeBytes: 10, Fee: 1})

	ledger := testutil.NewFakeLedger()
	memWAL := wal.NewMemWAL(t)
	comm := testutil.NewFakeComm(ids)
	clock := testutil.NewFakeClock(1000)

	cfg := ConsensusConfig{
		Logger:     testutil.MakeLogger(t, 0),
		Clock:      clock,
		Signer:     &testutil.FakeSigner{Node: ids[0]},
		Verifier:   testutil.FakeVerifier{},
		Auth:       testutil.FakeAuth{},
		Comm:       comm,
		Tasks:      &testutil.FakeTasks{},
		Mempool:    mempool,
		Ledger:     ledger,
		Policy:     testutil.DefaultPolicy(),
		WAL:        memWAL,
		Validators: vs,
	}

	c, err := NewConsensus(cfg)
	require.NoError(t, err)

	// Node 0 proposes into the priority slot and records its own
	// PrepareResponse immediately.
	c.InitializeConsensus(0)
	require.Len(t, comm.Broadcasted, 2, "PrepareRequest then this node's own PrepareResponse")
	hash := comm.Broadcasted[0].PrepareRequest.PreparationHash()

	envelope := func(i int) *Envelope { return &Envelope{Sender: ids[i]} }

	// One more PrepareResponse closes the priority slot's F(n)+1=2
	// threshold, driving node 0 to send its own PreCommit.
	c.HandleMessage(envelope(1), &Message{PrepareResponse: &PrepareResponse{
		Header:          Header{BlockIndex: 0, ValidatorIndex: 1, ViewNumber: 0},
		Id:              0,
		PreparationHash: hash,
	}})

	// Two further PreCommits close the M(n)=3 PreCommit threshold (this
	// node's own PreCommit plus these two), driving node 0 to sign and
	// broadcast its Commit.
	c.HandleMessage(envelope(1), &Message{PreCommit: &PreCommit{
		Header: Header{BlockIndex: 0, ValidatorIndex: 1, ViewNumber: 0}, Id: 0, PreparationHash: hash,
	}})
	c.HandleMessage(envelope(2), &Message{PreCommit: &PreCommit{
		Header: Header{BlockIndex: 0, ValidatorIndex: 2, ViewNumber: 0}, Id: 0, PreparationHash: hash,
	}})

	var commitsBeforeRestart int
	for _, m := range comm.Broadcasted {
		if m.Commit != nil {
			commitsBeforeRestart++
		}
	}
	require.Equal(t, 1, commitsBeforeRestart, "node should have signed exactly one commit before the simulated crash")

	// Simulate a crash and restart: a fresh Consensus sharing the same
	// write-ahead log and ledger, with a clock reset to the same value so
	// a re-proposal at initialization produces byte-identical PrepareRequest
	// content (and thus the same PreparationHash) as before the crash.
	restartComm := testutil.NewFakeComm(ids)
	restartClock := testutil.NewFakeClock(1000)
	restartCfg := cfg
	restartCfg.Comm = restartComm
	restartCfg.Clock = restartClock

	c2, err := NewConsensus(restartCfg)
	require.NoError(t, err)

	c2.InitializeConsensus(0)
	require.NoError(t, c2.LoadFromWAL())

	// Feed enough PreCommits for the *fallback* slot to have closed its
	// own M(n)=3 threshold, the exact situation that previously slipped
	// past a stale CommitSent=false and signed a second, conflicting
	// Commit.
	fallbackHash := Hash{0xAA}
	c2.HandleMessage(envelope(1), &Message{PreCommit: &PreCommit{
		Header: Header{BlockIndex: 0, ValidatorIndex: 1, ViewNumber: 0}, Id: 1, PreparationHash: fallbackHash,
	}})
	c2.HandleMessage(envelope(2), &Message{PreCommit: &PreCommit{
		Header: Header{BlockIndex: 0, ValidatorIndex: 2, ViewNumber: 0}, Id: 1, PreparationHash: fallbackHash,
	}})
	c2.HandleMessage(envelope(3), &Message{PreCommit: &PreCommit{
		Header: Header{BlockIndex: 0, ValidatorIndex: 3, ViewNumber: 0}, Id: 1, PreparationHash: fallbackHash,
	}})

	for _, m := range restartComm.Broadcasted {
		require.Nilf(t, m.Commit, "restarted node must never broadcast a second Commit for the same (height, view)")
	}
}
