// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"
)

// beginChangeViewLocked is invoked by a local timeout, by the liveness
// threshold being crossed on incoming ChangeView payloads, or by a
// proposal failing the policy caps: it
// broadcasts this node's own ChangeView requesting the next view (§4.6).
// A node that has already sent its Commit no longer participates in
// changing the view — it has nothing to gain and would only ever regress
// progress the rest of the network may already be relying on.
func (c *Consensus) beginChangeViewLocked(reason ChangeViewReason) {
	if c.round.Validators.WatchOnly() || c.round.CommitSent || c.round.BlockSent {
		return
	}
	newView := c.round.View + 1

	cv := &ChangeView{
		Header: Header{
			BlockIndex:     c.round.Height,
			ValidatorIndex: uint8(c.round.Validators.MyIndex()),
			ViewNumber:     c.round.View,
		},
		NewViewNumber: newView,
		Reason:        reason,
		Timestamp:     c.cfg.Clock.Now(),
	}

	c.round.NotAcceptingPayloadsDueToViewChanging = true
	c.cfg.Comm.Broadcast(&Message{ChangeView: cv})
	c.applyChangeViewLocked(c.round.Validators.MyIndex(), cv)
}

// onChangeView records a peer's ChangeView ballot and, once the safety
// threshold is met for some view, moves this node to it; if only the
// lower liveness threshold is met, this node sends its own ChangeView
// instead of waiting for its timer (§4.6). A ChangeView naming a view we
// have already reached or passed carries no new information about the
// sender's intent to move forward, so it is treated as an implicit
// RecoveryRequest instead (the sender is presumably the one lagging).
func (c *Consensus) onChangeView(sender int, envHash Hash, msg *ChangeView) error {
	if msg.NewViewNumber <= c.round.View {
		return c.onRecoveryRequest(sender, envHash, &RecoveryRequest{
			Header:    msg.Header,
			Timestamp: msg.Timestamp,
		})
	}
	if c.round.CommitSent {
		return errCommitSent
	}

	var expected uint8
	if existing, ok := c.round.ChangeViewPayloads[sender]; ok {
		expected = existing.NewViewNumber
	}
	if msg.NewViewNumber <= expected {
		return errStaleView
	}

	c.applyChangeViewLocked(sender, msg)
	return nil
}

func (c *Consensus) applyChangeViewLocked(sender int, msg *ChangeView) {
	if existing, dup := c.round.ChangeViewPayloads[sender]; dup && existing.NewViewNumber >= msg.NewViewNumber {
		return
	}
	c.round.ChangeViewPayloads[sender] = msg
	c.checkExpectedViewLocked(msg.NewViewNumber)
}

// checkExpectedViewLocked is CheckExpectedView (§4.6, §4.9): once at
// least M(n) recorded ChangeView payloads name a view at or beyond
// newView, every honest validator adopts it outright, regardless of its
// own timer or liveness tally.
func (c *Consensus) checkExpectedViewLocked(newView uint8) {
	if c.round.View >= newView {
		return
	}
	n := c.round.Validators.N()
	if !CheckExpectedView(c.round.ChangeViewPayloads, newView, n) {
		if target, ok := canChangeView(c.round.ChangeViewPayloads, c.round.View, n); ok {
			if _, already := c.round.ChangeViewPayloads[c.round.Validators.MyIndex()]; !already {
				c.cfg.Logger.Debug("liveness threshold crossed, requesting view change",
					zap.Uint8("newView", target))
				c.beginChangeViewLocked(ReasonChangeAgreement)
			}
		}
		return
	}

	if !c.round.Validators.WatchOnly() {
		if own, ok := c.round.ChangeViewPayloads[c.round.Validators.MyIndex()]; !ok || own.NewViewNumber < newView {
			cv := &ChangeView{
				Header: Header{
					BlockIndex:     c.round.Height,
					ValidatorIndex: uint8(c.round.Validators.MyIndex()),
					ViewNumber:     c.round.View,
				},
				NewViewNumber: newView,
				Reason:        ReasonChangeAgreement,
				Timestamp:     c.cfg.Clock.Now(),
			}
			c.round.ChangeViewPayloads[c.round.Validators.MyIndex()] = cv
			c.cfg.Comm.Broadcast(&Message{ChangeView: cv})
		}
	}
	c.changeViewLocked(newView)
}

// changeViewLocked moves the round to newView once M(n) validators have
// requested it, resetting per-view slot state and re-arming the timer
// with exponential backoff (§4.1, §4.6).
func (c *Consensus) changeViewLocked(newView uint8) {
	c.round.ResetForView(newView)
	c.armTimerLocked(blockTimeout(c.cfg.Policy, newView))

	c.cfg.Logger.Info("view changed",
		zap.Uint32("height", c.round.Height), zap.Uint8("view", newView))

	if c.isPrimaryLocked(prioritySlot) {
		c.proposeLocked(prioritySlot)
	}
	// The fallback primary only spontaneously proposes at genuine round
	// initialization (Open Question (a)); a view change never resets to
	// view 0, so the fallback slot here is only ever populated by
	// recovery or by PreCommit/Commit evidence carried across the view
	// change.
}
