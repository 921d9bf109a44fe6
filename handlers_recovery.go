// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"
)

// onRecoveryRequest replies with this node's current round state, per
// §4.7. envHash identifies the requesting envelope (or, for a ChangeView
// treated as an implicit recovery request per §4.6, a stand-in identity)
// and is inserted into KnownHashes so a repeat of the same request is
// dropped outright rather than answered twice. A watch-only node never
// replies — it holds no round state worth sharing and never signs. While
// this node hasn't yet committed, replies are further throttled to the
// F(n) validators selected by the rotating-responder rule (MyIndex must
// fall in {(requester+i) mod N : 1<=i<=F}), bounding a single broadcast
// RecoveryRequest to at most F responses across the honest set; once
// this node has committed, its Commit evidence is exactly what a
// lagging peer needs, so the throttle no longer applies.
func (c *Consensus) onRecoveryRequest(sender int, envHash Hash, msg *RecoveryRequest) error {
	if _, seen := c.round.KnownHashes[envHash]; seen {
		return nil
	}
	c.round.KnownHashes[envHash] = struct{}{}

	if c.round.Validators.WatchOnly() {
		return nil
	}

	if !c.round.CommitSent {
		n := c.round.Validators.N()
		if !isRotatingResponder(c.round.Validators.MyIndex(), sender, n, F(n)) {
			c.cfg.Logger.Debug("recovery response throttled, not a selected responder",
				zap.Int("requester", sender))
			return nil
		}
	}

	reply := c.buildRecoveryMessageLocked()
	dest, ok := c.round.Validators.NodeAt(uint8(sender))
	if !ok {
		return errUnknownSender
	}
	c.cfg.Comm.SendMessage(&Message{RecoveryMessage: reply}, dest)
	return nil
}

func (c *Consensus) buildRecoveryMessageLocked() *RecoveryMessage {
	msg := &RecoveryMessage{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
	}

	// §4.7's "if ¬CommitSent" gate: a node that hasn't committed yet is
	// still trying to move the view forward, so it shares its
	// ChangeView ballots; a node that has committed shares its Commit
	// evidence instead, since that is what the rest of the network needs
	// to reach the same conclusion.
	if !c.round.CommitSent {
		for _, cv := range c.round.ChangeViewPayloads {
			msg.ChangeViewPayloads = append(msg.ChangeViewPayloads, cv)
		}
	}

	priority, _ := c.round.Slot(prioritySlot)
	if priority.TransactionHashes != nil {
		req := &PrepareRequest{
			Header: Header{
				BlockIndex:     c.round.Height,
				ValidatorIndex: priority.Header.PrimaryIndex,
				ViewNumber:     c.round.View,
			},
			Id:                0,
			Version:           priority.Header.Version,
			PrevHash:          priority.Header.PrevHash,
			Timestamp:         priority.Header.Timestamp,
			Nonce:             priority.Header.Nonce,
			TransactionHashes: priority.TransactionHashes,
		}
		msg.PrepareRequestPayload = req
	}

	for id := range c.round.Slots {
		slot, _ := c.round.Slot(slotID(id))
		for _, resp := range slot.PreparationPayloads {
			msg.PrepareResponsePayload = append(msg.PrepareResponsePayload, resp)
		}
		for _, pc := range slot.PreCommitPayloads {
			msg.PreCommitPayloads = append(msg.PreCommitPayloads, pc)
		}
		if c.round.CommitSent {
			for _, commit := range slot.CommitPayloads {
				msg.CommitPayloads = append(msg.CommitPayloads, commit)
			}
		}
	}

	// Parked commits are evidence from other views this node couldn't
	// verify itself once that view's slot state was wiped; forwarding
	// them is the only way they ever get another chance to be counted by
	// a peer that can still make sense of them (§4.5, S6).
	for view, commits := range c.round.ParkedCommits {
		if view == c.round.View {
			continue
		}
		msg.CommitPayloads = append(msg.CommitPayloads, commits...)
	}

	return msg
}

// onRecoveryMessage re-injects every carried payload through the
// per-type handlers (§4.7, ReverifyAndProcessPayload), so each carried
// payload meets the same handler-level checks (view, duplicate, pinned
// hash, commit signature) a directly received one would. The
// dispatcher's envelope, sender and height checks are not repeated for
// carried payloads; once BlockSent is true only carried Commits are
// processed, as dispatcher step 5 does for direct traffic. It tracks
// how many of the carried payloads were actually accepted against how
// many were carried at all, the same validX/totalX accounting the
// teacher's replication state keeps for a batch of catch-up data.
func (c *Consensus) onRecoveryMessage(sender int, msg *RecoveryMessage) error {
	c.round.IsRecovering = true
	defer func() { c.round.IsRecovering = false }()

	if c.round.BlockSent {
		msg = &RecoveryMessage{Header: msg.Header, CommitPayloads: msg.CommitPayloads}
	}

	var totalX, validX int
	accept := func(err error) {
		totalX++
		if err == nil {
			validX++
		}
	}

	// §4.8's same-view branch: if this node hasn't seen a PrepareRequest
	// for the round at all yet, either re-inject the one the sender
	// carried or, if it carried none, synthesize our own proposal for
	// whichever slot(s) we're primary of. A different-view RecoveryMessage
	// carries nothing actionable here — its PrepareRequest, if any, was
	// pinned against a header this round no longer matches.
	if msg.ViewNumber == c.round.View && !c.round.NotAcceptingPayloadsDueToViewChanging && !c.round.CommitSent && !c.round.BlockSent {
		// Open Question (a): a fallback PrepareRequest carried by recovery
		// is only honored at view 0; at higher views the fallback slot
		// must be reconstructed exclusively from PreCommit/Commit
		// evidence, never spontaneously re-proposed.
		if msg.PrepareRequestPayload != nil {
			if msg.PrepareRequestPayload.Id == fallbackSlot && c.round.View > 0 {
				c.cfg.Logger.Debug("dropped recovered fallback proposal above view 0")
			} else {
				err := c.onPrepareRequest(int(msg.PrepareRequestPayload.ValidatorIndex), msg.PrepareRequestPayload)
				if err != nil {
					c.cfg.Logger.Debug("recovered prepare request rejected", zap.Error(err))
				}
				accept(err)
			}
		}

		if !c.round.RequestSentOrReceived {
			c.synthesizePrepareRequestLocked()
		}
	}

	for _, cv := range msg.ChangeViewPayloads {
		// A ChangeView pulled out of a RecoveryMessage bundle never had
		// its own wrapping envelope, so it has no envelope.Hash to key
		// KnownHashes by; synthesize one from its own content instead
		// (§4.7, §4.8).
		err := c.onChangeView(int(cv.ValidatorIndex), HashBytes(cv.Bytes()), cv)
		if err != nil {
			c.cfg.Logger.Debug("recovered change view rejected", zap.Error(err))
		}
		accept(err)
	}
	for _, resp := range msg.PrepareResponsePayload {
		err := c.onPrepareResponse(int(resp.ValidatorIndex), resp)
		if err != nil {
			c.cfg.Logger.Debug("recovered prepare response rejected", zap.Error(err))
		}
		accept(err)
	}
	for _, pc := range msg.PreCommitPayloads {
		err := c.onPreCommit(int(pc.ValidatorIndex), pc)
		if err != nil {
			c.cfg.Logger.Debug("recovered precommit rejected", zap.Error(err))
		}
		accept(err)
	}
	for _, commit := range msg.CommitPayloads {
		err := c.onCommit(int(commit.ValidatorIndex), commit)
		if err != nil {
			c.cfg.Logger.Debug("recovered commit rejected", zap.Error(err))
		}
		accept(err)
	}

	c.cfg.Logger.Debug("recovery message processed",
		zap.Int("from", sender), zap.Int("validPayloads", validX), zap.Int("totalPayloads", totalX))
	return nil
}

// requestRecovery broadcasts a RecoveryRequest, used when this node
// detects it has fallen behind (an out-of-range height or view observed
// on an incoming message) rather than waiting out further timeouts
// (§4.7, "chain behind" bookkeeping).
func (c *Consensus) requestRecovery() {
	req := &RecoveryRequest{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		Timestamp: c.cfg.Clock.Now(),
	}
	c.cfg.Comm.Broadcast(&Message{RecoveryRequest: req})
}
