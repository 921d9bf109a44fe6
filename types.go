// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// NodeID identifies a validator by the hash of its single-sig redeem
// script (the same scheme used to authenticate a consensus envelope's
// sender against the validator it claims to be).
type NodeID []byte

func (n NodeID) Equals(other NodeID) bool {
	return bytes.Equal(n, other)
}

func (n NodeID) String() string {
	return hex.EncodeToString(n)
}

// Hash is a collision-resistant digest, used both for transaction
// identifiers and for the hash of a signed envelope.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// HashBytes digests an arbitrary byte string, used to synthesize an
// envelope identity for a payload that reaches a handler without one —
// e.g. a ChangeView replayed out of a RecoveryMessage bundle, which
// never had its own wrapping envelope (§4.7, §4.8).
func HashBytes(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Signature pairs a raw signature value with the NodeID that produced it.
type Signature struct {
	Signer NodeID
	Value  []byte
}

// ChangeViewReason enumerates why a validator asked for a view change.
type ChangeViewReason uint8

const (
	ReasonTimeout ChangeViewReason = iota
	ReasonChangeAgreement
	ReasonBlockRejectedByPolicy
	ReasonTransactionRejectedByPolicy
)
