// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/dbft-core"
)

func TestCheckPreparationsPrioritySlotUsesLivenessThreshold(t *testing.T) {
	const n = 4 // F(4)+1 = 2, weaker than M(4) = 3
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	hash := Hash{7}
	require.NoError(t, slot.Pin(hash))
	require.False(t, CheckPreparations(slot, 0, n))

	slot.PreparationPayloads[1] = &PrepareResponse{PreparationHash: hash}
	require.True(t, CheckPreparations(slot, 0, n), "priority slot only needs F(4)+1=2, its own proposal plus one response")
}

func TestCheckPreparationsFallbackSlotUsesSafetyThreshold(t *testing.T) {
	const n = 4 // M(4) = 3
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(1)

	hash := Hash{7}
	require.NoError(t, slot.Pin(hash))
	slot.PreparationPayloads[1] = &PrepareResponse{PreparationHash: hash}
	require.False(t, CheckPreparations(slot, 1, n), "fallback slot needs the full M(4)=3, not just F(4)+1=2")

	slot.PreparationPayloads[2] = &PrepareResponse{PreparationHash: hash}
	require.True(t, CheckPreparations(slot, 1, n))
}

func TestCheckPrepareResponseIgnoresMismatchedHash(t *testing.T) {
	const n = 4
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	require.NoError(t, slot.Pin(Hash{1}))
	slot.PreparationPayloads[1] = &PrepareResponse{PreparationHash: Hash{2}}
	slot.PreparationPayloads[2] = &PrepareResponse{PreparationHash: Hash{2}}

	require.False(t, CheckPrepareResponse(slot, 0, n))
}

func TestCheckPreCommitsThreshold(t *testing.T) {
	const n = 7 // M(7) = 5
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	hash := Hash{9}
	require.NoError(t, slot.Pin(hash))
	for i := 0; i < 4; i++ {
		slot.PreCommitPayloads[i] = &PreCommit{PreparationHash: hash}
	}
	require.False(t, CheckPreCommits(slot, n, false))

	slot.PreCommitPayloads[4] = &PreCommit{PreparationHash: hash}
	require.True(t, CheckPreCommits(slot, n, false))
}

func TestCheckPreCommitsForced(t *testing.T) {
	const n = 7
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	require.NoError(t, slot.Pin(Hash{9}))
	require.False(t, CheckPreCommits(slot, n, false))
	require.True(t, CheckPreCommits(slot, n, true), "forced short-circuits regardless of tally")
}

func TestCheckCommitsThreshold(t *testing.T) {
	const n = 4
	vs := NewValidatorSet(nodes(n), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	for i := 0; i < 2; i++ {
		slot.CommitPayloads[i] = &Commit{}
	}
	require.False(t, CheckCommits(slot, n))

	slot.CommitPayloads[2] = &Commit{}
	require.True(t, CheckCommits(slot, n))
}

func TestCheckExpectedView(t *testing.T) {
	const n = 4 // M(4) = 3
	payloads := map[int]*ChangeView{
		0: {NewViewNumber: 1},
		1: {NewViewNumber: 1},
	}
	require.False(t, CheckExpectedView(payloads, 1, n))

	payloads[2] = &ChangeView{NewViewNumber: 1}
	require.True(t, CheckExpectedView(payloads, 1, n))
}
