// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/dbft-core"
)

func nodes(n int) []NodeID {
	out := make([]NodeID, n)
	for i := range out {
		out[i] = NodeID{byte(i)}
	}
	return out
}

func TestRoundContextResetForView(t *testing.T) {
	vs := NewValidatorSet(nodes(4), 0)
	rc := NewRoundContext(10, 0, vs)

	slot, ok := rc.Slot(0)
	require.True(t, ok)
	require.NoError(t, slot.Pin(Hash{1}))

	rc.ResetForView(1)
	require.EqualValues(t, 1, rc.View)
	require.EqualValues(t, 10, rc.Height)

	slot, ok = rc.Slot(0)
	require.True(t, ok)
	_, pinned := slot.PreparationHash()
	require.False(t, pinned)
}

func TestSlotPinRejectsConflictingHash(t *testing.T) {
	vs := NewValidatorSet(nodes(4), 0)
	rc := NewRoundContext(1, 0, vs)
	slot, _ := rc.Slot(0)

	require.NoError(t, slot.Pin(Hash{1}))
	require.NoError(t, slot.Pin(Hash{1}))
	require.Error(t, slot.Pin(Hash{2}))
}

func TestSlotUnknownID(t *testing.T) {
	vs := NewValidatorSet(nodes(4), 0)
	rc := NewRoundContext(1, 0, vs)
	_, ok := rc.Slot(2)
	require.False(t, ok)
}

func TestKnownHashesSurvivesViewChangeButNotHeightChange(t *testing.T) {
	vs := NewValidatorSet(nodes(4), 0)
	rc := NewRoundContext(10, 0, vs)

	rc.KnownHashes[Hash{1}] = struct{}{}
	rc.ResetForView(1)
	_, seen := rc.KnownHashes[Hash{1}]
	require.True(t, seen, "a RecoveryRequest dedup horizon spans every view within a height")

	rc = NewRoundContext(11, 0, vs)
	_, seen = rc.KnownHashes[Hash{1}]
	require.False(t, seen, "a new height must not leak recovery dedup state from the last one")
}
