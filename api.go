// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"
)

// Logger is the structured logger every consensus component writes
// through. Nothing in the core panics; protocol violations and drops
// are always routed through one of these levels per the error taxonomy.
type Logger interface {
	Fatal(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Trace(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Verbo(msg string, fields ...zap.Field)
}

// Signer produces a raw signature over an already-framed message.
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// SignatureVerifier checks a signature produced by Signer against the
// claimed signer's key material. Key management itself is out of scope;
// the verifier is handed the NodeID the way the dispatcher already
// authenticated it against the sender script hash.
type SignatureVerifier interface {
	Verify(data []byte, signature []byte, signer NodeID) error
}

// EnvelopeAuthenticator performs the syntactic/signature check on the
// extensible payload envelope itself (dispatcher step 3). The wire
// framing and signature scheme of the envelope are out of scope for the
// consensus core (§1); this interface is the seam to whatever component
// owns that framing.
type EnvelopeAuthenticator interface {
	VerifyEnvelope(envelope *Envelope) bool
}

// Communication is the P2P outbound surface. Consensus envelopes are
// sent directly to peers or broadcast; transaction fetches are routed
// to the task manager instead (see TaskManager).
type Communication interface {
	ListNodes() []NodeID
	SendMessage(msg *Message, destination NodeID)
	Broadcast(msg *Message)
}

// TaskManager is the inventory/task layer that fetches transactions this
// node does not yet have in its mempool.
type TaskManager interface {
	RestartTasks(hashes []Hash)
}

// Transaction is the minimal surface the consensus core needs from a
// transaction: identity plus the aggregate quantities that feed the
// per-slot VerificationContext (§3).
type Transaction interface {
	Hash() Hash
	Bytes() []byte
	Size() int
	SystemFee() int64
}

// Mempool is a synchronous snapshot view over pending transactions;
// verification, gossip, and eviction all live outside the core.
type Mempool interface {
	GetVerifiedTransactions() []Transaction
	TryGetValue(hash Hash) (Transaction, bool)
}

// Ledger is the persistent chain state the core reads to reject
// double-spends and writes finalized blocks to.
type Ledger interface {
	ContainsTransaction(hash Hash) bool
	SubmitBlock(block *Block) error
	Height() uint32

	// PrevTimestamp returns the timestamp of the most recently submitted
	// block, or 0 if the chain is at genesis — the lower bound a
	// PrepareRequest's own timestamp must exceed (§4.3).
	PrevTimestamp() uint64
}

// Policy exposes the native-contract-derived network parameters that
// gate proposal acceptance and timer pacing.
type Policy interface {
	MaxBlockSize() uint32
	MaxBlockSystemFee() int64
	MillisecondsPerBlock() uint32
	MaxTransactionsPerBlock() uint16
	Network() uint32
}

// Clock is a monotonic wall-clock source (§4.1 Clock & Timer Service).
type Clock interface {
	Now() uint64 // milliseconds since epoch
}

// WriteAheadLog persists the raw byte records the local node signs for a
// round so it can recover without equivocating (§5 Durability).
type WriteAheadLog interface {
	Append(payload []byte) error
	ReadAll() ([][]byte, error)
	Truncate() error
}
