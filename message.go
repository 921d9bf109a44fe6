// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

// Header is the common envelope shared by every consensus message
// variant (§6, §9 Message polymorphism).
type Header struct {
	BlockIndex     uint32
	ValidatorIndex uint8
	ViewNumber     uint8
}

// PrepareRequest is broadcast by a slot's primary to propose a block.
type PrepareRequest struct {
	Header
	Id                uint8 // 0 = priority slot, 1 = fallback slot
	Version           uint8
	PrevHash          Hash
	Timestamp         uint64
	Nonce             uint64
	TransactionHashes []Hash
}

// PreparationHash is the digest a PrepareResponse/PreCommit binds to,
// identifying which PrepareRequest they are responding to.
func (p *PrepareRequest) PreparationHash() Hash {
	return HashTransactions(p.TransactionHashes)
}

// PrepareResponse is sent by a validator once it accepts a PrepareRequest.
type PrepareResponse struct {
	Header
	Id              uint8
	PreparationHash Hash
}

// PreCommit is sent once a slot's PrepareResponse threshold is met.
type PreCommit struct {
	Header
	Id              uint8
	PreparationHash Hash
}

// ToBeSignedCommit is the canonical sign-data for a Commit: the finalized
// header of the slot being committed.
type ToBeSignedCommit struct {
	BlockHeader
	Network uint32
}

func (c *ToBeSignedCommit) Bytes() []byte {
	h := c.BlockHeader
	return h.Bytes(c.Network)
}

func (c *ToBeSignedCommit) Sign(signer Signer) ([]byte, error) {
	return signer.Sign(c.Bytes())
}

func (c *ToBeSignedCommit) Verify(signature []byte, verifier SignatureVerifier, signer NodeID) error {
	return verifier.Verify(c.Bytes(), signature, signer)
}

// Commit is sent once a slot's PreCommit threshold is met. Its Signature
// is a validator's own signature over the slot's finalized header, and is
// the piece of state Property 1 requires never be re-derived on restart.
type Commit struct {
	Header
	Id        uint8
	Signature Signature
}

// ChangeView requests moving to a new view because either a timeout
// elapsed with no progress or a policy violation was detected.
type ChangeView struct {
	Header
	NewViewNumber uint8
	Reason        ChangeViewReason
	Timestamp     uint64
}

// RecoveryRequest asks peers to resend their current-round state.
type RecoveryRequest struct {
	Header
	Timestamp uint64
}

// RecoveryMessage bundles a node's current round state so that a lagging
// or restarted peer can be brought forward without waiting out a timeout.
type RecoveryMessage struct {
	Header
	ChangeViewPayloads     []*ChangeView
	PrepareRequestPayload  *PrepareRequest
	PrepareResponsePayload []*PrepareResponse
	PreCommitPayloads      []*PreCommit
	CommitPayloads         []*Commit
}

// Message is the tagged union of every consensus message variant.
// Dispatch is exhaustive pattern matching; a message with no populated
// field is itself a protocol violation (§9).
type Message struct {
	PrepareRequest  *PrepareRequest
	PrepareResponse *PrepareResponse
	PreCommit       *PreCommit
	Commit          *Commit
	ChangeView      *ChangeView
	RecoveryRequest *RecoveryRequest
	RecoveryMessage *RecoveryMessage
}

// Envelope is what arrives from the P2P layer: a message body plus the
// sender's claimed identity (a script hash) and the id used for
// idempotency and recovery deduplication. The wire framing that produces
// Body, and the signature scheme that authenticates it, belong to
// whatever component implements EnvelopeAuthenticator; the core only
// ever inspects Sender and the already-decoded Message.
type Envelope struct {
	Sender NodeID
	Hash   Hash
	Body   []byte
}
