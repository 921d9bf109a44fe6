// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"
)

// onCommit routes an incoming Commit either to the live slot for the
// current view or, if it was signed for a different view, to the parked
// backlog: a Commit's header is only reachable while its view's slot
// state still exists, so anything off-view can't be verified here and is
// kept only for a future RecoveryMessage to carry forward (§4.5, S6).
func (c *Consensus) onCommit(sender int, msg *Commit) error {
	if msg.ViewNumber != c.round.View {
		c.parkCommitLocked(msg)
		return nil
	}
	return c.applyCommitLocked(sender, msg)
}

// parkCommitLocked stores a Commit signed for a view other than the
// current one. It survives view changes within the same height so this
// node's own RecoveryMessage can still surface it to a peer that may be
// able to reconstruct the matching header.
func (c *Consensus) parkCommitLocked(msg *Commit) {
	for _, existing := range c.round.ParkedCommits[msg.ViewNumber] {
		if existing.ValidatorIndex == msg.ValidatorIndex {
			return
		}
	}
	c.round.ParkedCommits[msg.ViewNumber] = append(c.round.ParkedCommits[msg.ViewNumber], msg)
	c.cfg.Logger.Debug("parked commit from another view",
		zap.Uint8("view", msg.ViewNumber), zap.Uint8("validator", msg.ValidatorIndex))
}

// drainParkedCommitsLocked replays any Commit parked for id's slot at the
// current view — because it arrived before this slot's PrepareRequest
// pinned a header — now that the header exists to verify it against
// (§4.5). Called once a proposal successfully pins a slot's preparation
// hash.
func (c *Consensus) drainParkedCommitsLocked(id slotID) {
	parked := c.round.ParkedCommits[c.round.View]
	if len(parked) == 0 {
		return
	}

	remaining := parked[:0]
	for _, msg := range parked {
		if msg.Id != id {
			remaining = append(remaining, msg)
			continue
		}
		if err := c.applyCommitLocked(int(msg.ValidatorIndex), msg); err != nil {
			c.cfg.Logger.Debug("parked commit rejected once proposal arrived", zap.Error(err))
		}
	}

	if len(remaining) == 0 {
		delete(c.round.ParkedCommits, c.round.View)
	} else {
		c.round.ParkedCommits[c.round.View] = remaining
	}
}

func (c *Consensus) applyCommitLocked(sender int, msg *Commit) error {
	slot, ok := c.round.Slot(msg.Id)
	if !ok {
		return errUnknownSlot
	}
	if _, dup := slot.CommitPayloads[sender]; dup {
		return errDuplicatePayload
	}

	if _, pinned := slot.PreparationHash(); !pinned || slot.Header.Timestamp == 0 {
		// This slot's own PrepareRequest hasn't arrived yet, so there is
		// no header to verify this Commit's signature against: either
		// nothing is pinned, or only a PreCommit pinned the hash and the
		// header is still empty (an accepted proposal always has a
		// non-zero Timestamp). Park it rather than reject it outright;
		// drainParkedCommitsLocked replays it once the proposal sets the
		// slot's header (§4.5).
		c.parkCommitLocked(msg)
		return nil
	}

	node, ok := c.round.Validators.NodeAt(uint8(sender))
	if !ok {
		return errUnknownSender
	}

	signed := &ToBeSignedCommit{
		BlockHeader: slot.Header,
		Network:     c.cfg.Policy.Network(),
	}
	if err := signed.Verify(msg.Signature.Value, c.cfg.Verifier, node); err != nil {
		return errInvalidSignature
	}

	// §3's BlockSent invariant: once the block has shipped, no further
	// handler mutates round state for it. A late Commit is verified (the
	// checks above still run, so a bad signature is still reported) but
	// never stored.
	if c.round.BlockSent {
		return nil
	}

	slot.CommitPayloads[sender] = msg
	c.timer.ExtendTimerByFactor(c.baseDelay(), 4)

	if !CheckCommits(slot, c.round.Validators.N()) {
		return nil
	}

	return c.finalizeLocked(msg.Id)
}

// finalizeLocked assembles the finalized Block from a slot that reached
// Commit quorum and submits it to the Ledger (§4.5, §3). It is a no-op
// once BlockSent is already true, since a slow Commit arriving after the
// block has shipped must never resubmit it with a different signature
// set.
func (c *Consensus) finalizeLocked(id slotID) error {
	if c.round.BlockSent {
		return nil
	}

	slot, _ := c.round.Slot(id)

	txs := make([]Transaction, 0, len(slot.TransactionHashes))
	for _, h := range slot.TransactionHashes {
		tx, ok := slot.Transactions[h]
		if !ok {
			return errUnknownSlot
		}
		txs = append(txs, tx)
	}

	sigs := make([]Signature, 0, len(slot.CommitPayloads))
	for _, commit := range slot.CommitPayloads {
		sigs = append(sigs, commit.Signature)
	}

	block := &Block{
		Header:            slot.Header,
		TransactionHashes: slot.TransactionHashes,
		Transactions:      txs,
		CommitSignatures:  sigs,
	}

	if err := c.cfg.Ledger.SubmitBlock(block); err != nil {
		return err
	}
	c.round.BlockSent = true

	c.cfg.Logger.Info("block finalized",
		zap.Uint32("height", c.round.Height),
		zap.Uint8("slot", id),
		zap.Int("transactions", len(txs)))

	if err := c.cfg.WAL.Truncate(); err != nil {
		c.cfg.Logger.Warn("failed to truncate write-ahead log after finalization", zap.Error(err))
	}

	// The next round is not started here: advancing height is the
	// caller's event loop's decision (typically triggered by the
	// Ledger's own block-persisted notification), the same separation
	// of concerns as OnTimeout being driven externally rather than
	// self-scheduled.
	c.finalizedHeight = c.round.Height
	c.hasFinalized = true
	return nil
}
