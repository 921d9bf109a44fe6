// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"crypto/sha256"
	"encoding/binary"
)

const (
	headerVersionLen      = 1
	headerIndexLen        = 4
	headerTimestampLen    = 8
	headerNonceLen        = 8
	headerPrimaryIndexLen = 1
	headerPrevHashLen     = 32

	headerLen = headerVersionLen + headerIndexLen + headerTimestampLen +
		headerNonceLen + headerPrimaryIndexLen + headerPrevHashLen
)

// BlockHeader is the partially filled skeleton a slot accumulates as its
// primary's PrepareRequest is processed, and the header of the block
// that is eventually assembled once a slot's Commit quorum is reached.
type BlockHeader struct {
	Version      uint8
	Index        uint32
	PrevHash     Hash
	Timestamp    uint64
	Nonce        uint64
	PrimaryIndex uint8
}

// Bytes returns the canonical sign-data for this header. It deliberately
// excludes the transaction list: transactions are authenticated via
// TransactionHashes in the PrepareRequest, not via the header itself.
func (h *BlockHeader) Bytes(network uint32) []byte {
	buff := make([]byte, headerLen+4)
	var pos int

	binary.BigEndian.PutUint32(buff[pos:], network)
	pos += 4

	buff[pos] = h.Version
	pos += headerVersionLen

	binary.BigEndian.PutUint32(buff[pos:], h.Index)
	pos += headerIndexLen

	copy(buff[pos:], h.PrevHash[:])
	pos += headerPrevHashLen

	binary.BigEndian.PutUint64(buff[pos:], h.Timestamp)
	pos += headerTimestampLen

	binary.BigEndian.PutUint64(buff[pos:], h.Nonce)
	pos += headerNonceLen

	buff[pos] = h.PrimaryIndex

	return buff
}

// Block is the fully assembled, signed unit submitted to the Ledger once
// a slot reaches Commit quorum.
type Block struct {
	Header            BlockHeader
	TransactionHashes []Hash
	Transactions      []Transaction
	CommitSignatures  []Signature
}

// HashTransactions returns a deterministic digest over the ordered
// transaction hash list, used as the PreparationHash sign-data component.
func HashTransactions(hashes []Hash) Hash {
	h := sha256.New()
	for _, tx := range hashes {
		h.Write(tx[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
