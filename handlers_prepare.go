// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"

	"github.com/luxfi/dbft-core/record"
)

// proposeLocked assembles and broadcasts a PrepareRequest for the given
// slot, called when this node is the slot's primary at round init or
// after a view change (§4.3).
func (c *Consensus) proposeLocked(id slotID) {
	slot, _ := c.round.Slot(id)

	txs := c.cfg.Mempool.GetVerifiedTransactions()
	maxTx := int(c.cfg.Policy.MaxTransactionsPerBlock())
	if len(txs) > maxTx {
		txs = txs[:maxTx]
	}

	hashes := make([]Hash, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, tx.Hash())
		slot.Transactions[tx.Hash()] = tx
		slot.Verification.AddTransaction(tx)
	}
	slot.TransactionHashes = hashes

	var primaryIdx uint8
	if id == prioritySlot {
		primaryIdx = PriorityPrimary(c.round.Validators.N(), c.round.Height, c.round.View)
	} else {
		primaryIdx = FallbackPrimary(c.round.Validators.N(), c.round.Height, c.round.View)
	}

	slot.Header = BlockHeader{
		Version:      0,
		Index:        c.round.Height,
		PrevHash:     c.previousHash(),
		Timestamp:    c.cfg.Clock.Now(),
		Nonce:        c.cfg.Clock.Now(),
		PrimaryIndex: primaryIdx,
	}

	req := &PrepareRequest{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		Id:                id,
		Version:           slot.Header.Version,
		PrevHash:          slot.Header.PrevHash,
		Timestamp:         slot.Header.Timestamp,
		Nonce:             slot.Header.Nonce,
		TransactionHashes: hashes,
	}

	preparationHash := req.PreparationHash()
	if err := slot.Pin(preparationHash); err != nil {
		c.cfg.Logger.Error("primary failed to pin its own proposal", zap.Error(err))
		return
	}
	c.round.RequestSentOrReceived = true
	c.drainParkedCommitsLocked(id)

	c.persistLocked(record.PrepareRequestRecordType, req)
	envelope := &Message{PrepareRequest: req}
	c.cfg.Comm.Broadcast(envelope)
	c.round.LastSentMessage = envelope

	c.cfg.Logger.Info("broadcast prepare request",
		zap.Uint32("height", c.round.Height),
		zap.Uint8("view", c.round.View),
		zap.Uint8("slot", id))

	// The primary accepts its own proposal exactly like any other
	// validator would, so quorum counting never special-cases it.
	if err := c.sendPrepareResponseLocked(id); err != nil {
		c.cfg.Logger.Error("primary failed to send its own prepare response", zap.Error(err))
	}
}

// synthesizePrepareRequestLocked is §4.8's fallback for a recovered round
// that carried no PrepareRequest at all: a primary of either slot
// proposes fresh, exactly as it would at round initialization, rather
// than sit out the rest of the view waiting for a timeout.
func (c *Consensus) synthesizePrepareRequestLocked() {
	if c.round.IsPriorityPrimary {
		c.proposeLocked(prioritySlot)
	}
	// Open Question (a): the fallback slot only synthesizes at view 0;
	// at higher views it may only be reconstructed from carried
	// PreCommit/Commit evidence, never from a spontaneous proposal.
	if c.round.IsFallbackPrimary && c.round.View == 0 && !c.round.RequestSentOrReceived {
		c.proposeLocked(fallbackSlot)
	}
}

func (c *Consensus) previousHash() Hash {
	// The Ledger interface exposes no hash of the previous block, so this
	// always returns the zero hash: every proposal this node builds
	// carries a zero PrevHash, and onPrepareRequest does not check an
	// incoming proposal's PrevHash against the chain.
	return Hash{}
}

// onPrepareRequest handles an incoming proposal for one of the two slots
// (§4.3): it validates the sender is that slot's primary, that this node
// is still accepting proposals for the current view, that the timestamp
// and transaction set pass the freshness and double-spend rules, that
// the slot hasn't already pinned a different proposal, gates transaction
// resolution through the mempool/task manager, and once ready sends its
// own PrepareResponse, whose application then checks whether the
// PrepareResponse threshold is met (counting any responses that arrived
// earlier, e.g. via recovery).
func (c *Consensus) onPrepareRequest(sender int, msg *PrepareRequest) error {
	if c.round.NotAcceptingPayloadsDueToViewChanging {
		return errViewChangePending
	}

	slot, ok := c.round.Slot(msg.Id)
	if !ok {
		return errUnknownSlot
	}

	var expectedPrimary uint8
	if msg.Id == prioritySlot {
		expectedPrimary = PriorityPrimary(c.round.Validators.N(), c.round.Height, c.round.View)
	} else {
		expectedPrimary = FallbackPrimary(c.round.Validators.N(), c.round.Height, c.round.View)
	}
	if int(expectedPrimary) != sender {
		return errNotPrimary
	}

	// §4.3's timestamp rule: strictly after the previous block, and not
	// more than eight block intervals into the future (clock drift
	// tolerance).
	now := c.cfg.Clock.Now()
	maxDrift := uint64(8) * uint64(c.cfg.Policy.MillisecondsPerBlock())
	if msg.Timestamp <= c.cfg.Ledger.PrevTimestamp() || msg.Timestamp > now+maxDrift {
		return errInvalidTimestamp
	}

	// §4.3's double-spend rule: a proposal naming a transaction already
	// recorded in the Ledger is rejected outright rather than pinned.
	for _, h := range msg.TransactionHashes {
		if c.cfg.Ledger.ContainsTransaction(h) {
			return errDoubleSpend
		}
	}

	preparationHash := msg.PreparationHash()
	if err := slot.Pin(preparationHash); err != nil {
		return err
	}
	c.round.RequestSentOrReceived = true

	slot.Header = BlockHeader{
		Version:      msg.Version,
		Index:        msg.BlockIndex,
		PrevHash:     msg.PrevHash,
		Timestamp:    msg.Timestamp,
		Nonce:        msg.Nonce,
		PrimaryIndex: expectedPrimary,
	}
	slot.TransactionHashes = msg.TransactionHashes
	c.drainParkedCommitsLocked(msg.Id)

	c.resolveTransactionsLocked(msg.Id, slot)

	// Accepting a proposal for either slot means the round is making
	// progress; extend the timer so the pipeline gets a fair chance to
	// reach quorum before the deadline forces a view change (§4.3).
	c.timer.ExtendTimerByFactor(c.baseDelay(), 2)

	if !slot.ready() {
		c.cfg.Logger.Debug("prepare request pending transaction fetch",
			zap.Uint8("slot", msg.Id), zap.Int("missing", missingCount(slot)))
		return nil
	}

	return c.sendPrepareResponseLocked(msg.Id)
}

func missingCount(slot *Slot) int {
	n := 0
	for _, h := range slot.TransactionHashes {
		if _, ok := slot.Transactions[h]; !ok {
			n++
		}
	}
	return n
}

// resolveTransactionsLocked fills in whatever transactions are already
// in the mempool and asks the task manager to fetch the rest (§4.3 block
// verification scheduling). Per §4.3, a mempool hit that would push the
// slot's aggregate size or system fee past policy's caps aborts
// resolution outright and requests a view change instead of continuing
// to accumulate a proposal this node will never vote for.
func (c *Consensus) resolveTransactionsLocked(id slotID, slot *Slot) {
	var missing []Hash
	for _, h := range slot.TransactionHashes {
		if _, ok := slot.Transactions[h]; ok {
			continue
		}
		tx, ok := c.cfg.Mempool.TryGetValue(h)
		if !ok {
			missing = append(missing, h)
			continue
		}
		slot.Transactions[h] = tx
		slot.Verification.AddTransaction(tx)
		// resolveTransactionsLocked is only ever reached for a slot this
		// node received a proposal for over the network, never one it
		// proposed itself, so no primary-exception applies here the way
		// it does in policyGateLocked.
		if !withinPolicyCaps(&slot.Verification, c.cfg.Policy) {
			c.cfg.Logger.Warn("mempool transaction pushed proposal past policy caps",
				zap.Uint8("slot", id))
			c.beginChangeViewLocked(ReasonTransactionRejectedByPolicy)
			return
		}
	}
	if len(missing) > 0 {
		c.cfg.Tasks.RestartTasks(missing)
	}
}

// OnTransactionReceived is called by the caller's event loop when a
// previously missing transaction becomes available (mempool fill or task
// manager fetch completion), and re-evaluates readiness for every slot
// waiting on it.
func (c *Consensus) OnTransactionReceived(tx Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil {
		return
	}
	h := tx.Hash()
	for id, slot := range c.round.Slots {
		if _, wanted := indexOf(slot.TransactionHashes, h); !wanted {
			continue
		}
		if _, have := slot.Transactions[h]; have {
			continue
		}
		slot.Transactions[h] = tx
		slot.Verification.AddTransaction(tx)
		if slot.ready() {
			if err := c.sendPrepareResponseLocked(slotID(id)); err != nil {
				c.cfg.Logger.Debug("prepare response after fetch completion failed", zap.Error(err))
			}
		}
	}
}

func indexOf(hashes []Hash, h Hash) (int, bool) {
	for i, x := range hashes {
		if x == h {
			return i, true
		}
	}
	return -1, false
}
