// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/dbft-core/record"
)

// sendPrepareResponseLocked emits this node's own PrepareResponse for the
// given slot once its transactions are resolved (§4.3 tail, §4.4 head).
// A primary always accepts; any other validator is first run through the
// policy gate, and a proposal that violates the block-size or
// system-fee caps triggers a change-view request instead of a response.
// A watch-only node returns without sending or recording anything — it
// never signs (§4.9: "If IsAPrimary ∨ WatchOnly, return true without
// sending").
func (c *Consensus) sendPrepareResponseLocked(id slotID) error {
	slot, _ := c.round.Slot(id)
	hash, ok := slot.PreparationHash()
	if !ok {
		return errUnknownSlot
	}

	if c.round.Validators.WatchOnly() {
		return nil
	}

	if !c.policyGateLocked(slot) {
		c.cfg.Logger.Warn("proposal rejected by policy",
			zap.Uint8("slot", id),
			zap.Uint32("blockSize", slot.Verification.BlockSize),
			zap.Int64("systemFee", slot.Verification.SystemFeeTotal))
		c.beginChangeViewLocked(ReasonBlockRejectedByPolicy)
		return nil
	}

	resp := &PrepareResponse{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		Id:              id,
		PreparationHash: hash,
	}

	envelope := &Message{PrepareResponse: resp}
	c.cfg.Comm.Broadcast(envelope)
	c.round.LastSentMessage = envelope
	return c.applyPrepareResponseLocked(c.round.Validators.MyIndex(), resp)
}

// policyGateLocked implements §4.9's CheckPrepareResponse precondition: a
// primary of either slot always accepts, since it isn't deciding whether
// to vote for someone else's proposal; every other validator checks the
// slot's accumulated VerificationContext against the policy's
// block-size and system-fee caps. The caller (sendPrepareResponseLocked)
// already short-circuits watch-only nodes before this is ever reached.
func (c *Consensus) policyGateLocked(slot *Slot) bool {
	if c.round.IsAPrimary() {
		return true
	}
	return withinPolicyCaps(&slot.Verification, c.cfg.Policy)
}

// withinPolicyCaps reports whether vc's accumulated size and fee totals
// still satisfy policy's caps. Shared by policyGateLocked's aggregate
// check at PrepareResponse time and resolveTransactionsLocked's per-tx
// check as a backup walks the mempool (§4.3, §4.9).
func withinPolicyCaps(vc *VerificationContext, policy Policy) bool {
	if vc.BlockSize > policy.MaxBlockSize() {
		return false
	}
	if vc.SystemFeeTotal > policy.MaxBlockSystemFee() {
		return false
	}
	return true
}

// onPrepareResponse records a peer's response and, once the slot's
// PrepareResponse threshold is met, advances this node to PreCommit for
// that slot (§4.4).
func (c *Consensus) onPrepareResponse(sender int, msg *PrepareResponse) error {
	return c.applyPrepareResponseLocked(sender, msg)
}

func (c *Consensus) applyPrepareResponseLocked(sender int, msg *PrepareResponse) error {
	if msg.ViewNumber != c.round.View || c.round.NotAcceptingPayloadsDueToViewChanging {
		return errStaleView
	}

	slot, ok := c.round.Slot(msg.Id)
	if !ok {
		return errUnknownSlot
	}
	if _, dup := slot.PreparationPayloads[sender]; dup {
		return errDuplicatePayload
	}
	slot.PreparationPayloads[sender] = msg
	c.timer.ExtendTimerByFactor(c.baseDelay(), 2)

	if pinned, ok := slot.PreparationHash(); ok && pinned != msg.PreparationHash {
		// A conflicting response for a slot we've already pinned
		// differently is evidence of an equivocating peer; recorded for
		// the recovery/accountability layer but not itself fatal here.
		return errPreparationMismatch
	}

	// §4.4's guard: only a participating, uncommitted validator that has
	// itself seen a PrepareRequest for this round evaluates the
	// threshold; a watch-only node never acts on it, and a node that has
	// already sent its own Commit has nothing left to gain from doing so.
	if c.round.Validators.WatchOnly() || c.round.CommitSent || !c.round.RequestSentOrReceived {
		return nil
	}

	n := c.round.Validators.N()
	if !CheckPreparations(slot, msg.Id, n) {
		return nil
	}

	// The threshold just closed: rearm the timer to a fresh block
	// interval so the round has a full window to complete PreCommit and
	// Commit before a stall is declared (§4.9 resend-arming).
	c.armTimerLocked(time.Duration(c.cfg.Policy.MillisecondsPerBlock()) * time.Millisecond)

	if err := c.sendPreCommitLocked(msg.Id); err != nil {
		return err
	}

	// Speed-up (§4.9): if the priority slot's PrepareResponse tally
	// already reached the stronger M(n) threshold — not just the F(n)+1
	// the slot normally needs to move forward — that is itself
	// sufficient assurance to enter Commit immediately rather than wait
	// to separately observe M(n) PreCommits.
	if msg.Id == prioritySlot {
		hash, _ := slot.PreparationHash()
		count := 0
		for _, resp := range slot.PreparationPayloads {
			if resp.PreparationHash == hash {
				count++
			}
		}
		if count >= M(n) && CheckPreCommits(slot, n, true) {
			return c.sendCommitLocked(msg.Id)
		}
	}
	return nil
}

func (c *Consensus) sendPreCommitLocked(id slotID) error {
	slot, _ := c.round.Slot(id)
	if _, already := slot.PreCommitPayloads[c.round.Validators.MyIndex()]; already {
		return nil
	}
	hash, ok := slot.PreparationHash()
	if !ok {
		return errUnknownSlot
	}

	pc := &PreCommit{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		Id:              id,
		PreparationHash: hash,
	}

	c.persistLocked(record.PreCommitRecordType, pc)
	envelope := &Message{PreCommit: pc}
	c.cfg.Comm.Broadcast(envelope)
	c.round.LastSentMessage = envelope

	c.cfg.Logger.Debug("sent precommit", zap.Uint8("slot", id))

	return c.applyPreCommitLocked(c.round.Validators.MyIndex(), pc)
}

// onPreCommit records a peer's PreCommit and, once the slot's PreCommit
// threshold is met, advances this node to Commit for that slot (§4.4,
// the inserted gate between preparation and commit).
func (c *Consensus) onPreCommit(sender int, msg *PreCommit) error {
	return c.applyPreCommitLocked(sender, msg)
}

func (c *Consensus) applyPreCommitLocked(sender int, msg *PreCommit) error {
	if msg.ViewNumber != c.round.View || c.round.NotAcceptingPayloadsDueToViewChanging {
		return errStaleView
	}

	slot, ok := c.round.Slot(msg.Id)
	if !ok {
		return errUnknownSlot
	}
	if _, dup := slot.PreCommitPayloads[sender]; dup {
		return errDuplicatePayload
	}

	// A PreCommit is accepted even if no PrepareRequest has arrived yet
	// for this slot, provided it doesn't conflict with an already-pinned
	// hash (Open Question (b)): pin speculatively so a later
	// PrepareRequest for a different hash is rejected instead of silently
	// overwriting accepted PreCommit state.
	if err := slot.Pin(msg.PreparationHash); err != nil {
		return err
	}

	slot.PreCommitPayloads[sender] = msg
	c.timer.ExtendTimerByFactor(c.baseDelay(), 2)

	if c.round.Validators.WatchOnly() || c.round.CommitSent || !c.round.RequestSentOrReceived {
		return nil
	}

	n := c.round.Validators.N()
	if !CheckPreCommits(slot, n, false) {
		return nil
	}

	c.armTimerLocked(time.Duration(c.cfg.Policy.MillisecondsPerBlock()) * time.Millisecond)

	return c.sendCommitLocked(msg.Id)
}

func (c *Consensus) sendCommitLocked(id slotID) error {
	slot, _ := c.round.Slot(id)
	if _, already := slot.CommitPayloads[c.round.Validators.MyIndex()]; already {
		return nil
	}

	signed := &ToBeSignedCommit{
		BlockHeader: slot.Header,
		Network:     c.cfg.Policy.Network(),
	}
	sig, err := signed.Sign(c.cfg.Signer)
	if err != nil {
		return err
	}

	myID, _ := c.round.Validators.NodeAt(uint8(c.round.Validators.MyIndex()))
	commit := &Commit{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		Id: id,
		Signature: Signature{
			Signer: myID,
			Value:  sig,
		},
	}

	c.persistLocked(record.CommitRecordType, commit)
	envelope := &Message{Commit: commit}
	c.cfg.Comm.Broadcast(envelope)
	c.round.LastSentMessage = envelope
	c.round.CommitSent = true

	c.cfg.Logger.Info("sent commit", zap.Uint8("slot", id),
		zap.Uint32("height", c.round.Height))

	return c.applyCommitLocked(c.round.Validators.MyIndex(), commit)
}
