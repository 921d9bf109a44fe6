// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"go.uber.org/zap"
)

// HandleMessage is the sole entry point for inbound consensus traffic:
// onConsensusPayload's pipeline (§4.2). It is intentionally synchronous
// and single-threaded — no handler here blocks or spawns a goroutine —
// so message order is exactly the order this method is called in.
func (c *Consensus) HandleMessage(envelope *Envelope, msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.round == nil {
		return
	}

	// Step 1: envelope authentication is delegated to whatever owns wire
	// framing; a payload that fails this check is dropped silently, the
	// same as any other unauthenticated network input.
	if !c.cfg.Auth.VerifyEnvelope(envelope) {
		c.cfg.Logger.Debug("dropped payload failing envelope authentication")
		return
	}

	// Step 2: the message must have exactly one populated variant.
	header, err := headerOf(msg)
	if err != nil {
		c.cfg.Logger.Debug("dropped malformed message", zap.Error(err))
		return
	}

	// Step 3: sender must be a known validator for this height, and must
	// match the claimed script-hash identity in the envelope.
	sender := int(header.ValidatorIndex)
	node, ok := c.round.Validators.NodeAt(header.ValidatorIndex)
	if !ok || !node.Equals(envelope.Sender) {
		c.cfg.Logger.Debug("dropped payload from unknown or mismatched sender")
		return
	}

	// Step 4: height must match the current round. A payload for a
	// future height signals we've fallen behind; one for a past height
	// is stale.
	if header.BlockIndex != c.round.Height {
		if header.BlockIndex > c.round.Height {
			c.cfg.Logger.Debug("observed future height, requesting recovery",
				zap.Uint32("theirs", header.BlockIndex), zap.Uint32("ours", c.round.Height))
			c.requestRecovery()
		}
		return
	}

	// Step 5: once this round's block has been submitted to the Ledger,
	// no further handler may mutate round state for the messages that
	// drive a slot toward that submission (§3 BlockSent invariant, §4.2
	// step 1). Commit and recovery traffic still flow through: a late
	// Commit may still be worth parking for a peer's benefit, and
	// recovery replies help a lagging peer catch up to the block that
	// already shipped.
	if c.round.BlockSent {
		switch {
		case msg.PrepareRequest != nil, msg.PrepareResponse != nil, msg.PreCommit != nil, msg.ChangeView != nil:
			c.cfg.Logger.Debug("dropped payload: block already sent for this round")
			return
		}
	}

	// Step 6: view handling. RecoveryRequest/RecoveryMessage and
	// ChangeView carry their own view semantics, and Commit is always
	// parked rather than dropped when its view doesn't match (§4.5), so
	// all three are exempt from the strict current-view check here.
	// Every other payload for a stale view is dropped, and one for a
	// future view triggers recovery rather than being buffered, since a
	// future view implies M(n) peers have already moved on.
	switch {
	case msg.RecoveryRequest != nil, msg.RecoveryMessage != nil, msg.ChangeView != nil, msg.Commit != nil:
		// handled per-type below
	case header.ViewNumber < c.round.View:
		c.cfg.Logger.Debug("dropped stale-view payload")
		return
	case header.ViewNumber > c.round.View:
		c.cfg.Logger.Debug("observed future view, requesting recovery")
		c.requestRecovery()
		return
	}

	// Step 7: record the height we've seen a payload from this sender
	// for, unconditionally, feeding RoundContext.CountFailed's
	// chain-behind bookkeeping (§3, §4.2 step 7) — done before routing,
	// not after, so a handler that rejects the payload still counts it
	// as evidence the sender is alive and caught up to this height.
	c.round.LastSeenMessage[sender] = header.BlockIndex

	// Step 8: type-specific validation and application; duplicate
	// detection happens inside each handler against its own payload
	// table so that PrepareRequest/Response/PreCommit/Commit can each
	// track independent per-validator submission state.
	var handleErr error
	switch {
	case msg.PrepareRequest != nil:
		handleErr = c.onPrepareRequest(sender, msg.PrepareRequest)
	case msg.PrepareResponse != nil:
		handleErr = c.onPrepareResponse(sender, msg.PrepareResponse)
	case msg.PreCommit != nil:
		handleErr = c.onPreCommit(sender, msg.PreCommit)
	case msg.Commit != nil:
		handleErr = c.onCommit(sender, msg.Commit)
	case msg.ChangeView != nil:
		handleErr = c.onChangeView(sender, envelope.Hash, msg.ChangeView)
	case msg.RecoveryRequest != nil:
		handleErr = c.onRecoveryRequest(sender, envelope.Hash, msg.RecoveryRequest)
	case msg.RecoveryMessage != nil:
		handleErr = c.onRecoveryMessage(sender, msg.RecoveryMessage)
	}

	// Step 9: log any handler-reported protocol violation. A handler
	// error never propagates past this point — it is diagnostic only.
	if handleErr != nil {
		c.cfg.Logger.Debug("payload rejected by handler",
			zap.Int("sender", sender), zap.Error(handleErr))
	}
}

func headerOf(msg *Message) (Header, error) {
	switch {
	case msg.PrepareRequest != nil:
		return msg.PrepareRequest.Header, nil
	case msg.PrepareResponse != nil:
		return msg.PrepareResponse.Header, nil
	case msg.PreCommit != nil:
		return msg.PreCommit.Header, nil
	case msg.Commit != nil:
		return msg.Commit.Header, nil
	case msg.ChangeView != nil:
		return msg.ChangeView.Header, nil
	case msg.RecoveryRequest != nil:
		return msg.RecoveryRequest.Header, nil
	case msg.RecoveryMessage != nil:
		return msg.RecoveryMessage.Header, nil
	default:
		return Header{}, errUnknownMessageKind
	}
}
