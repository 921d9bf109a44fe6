// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemWAL(t *testing.T) {
	wal := NewMemWAL(t)

	p1 := []byte{4, 5, 6}
	p2 := []byte{10, 11, 12}

	require.NoError(t, wal.Append(p1))
	require.NoError(t, wal.Append(p2))

	got, err := wal.ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]byte{p1, p2}, got)
}
