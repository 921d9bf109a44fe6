// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConsensusConfig aggregates every external collaborator and tunable the
// core needs, mirroring the teacher's EpochConfig: construction is one
// call rather than a long constructor argument list.
type ConsensusConfig struct {
	Logger     Logger
	Clock      Clock
	Signer     Signer
	Verifier   SignatureVerifier
	Auth       EnvelopeAuthenticator
	Comm       Communication
	Tasks      TaskManager
	Mempool    Mempool
	Ledger     Ledger
	Policy     Policy
	WAL        WriteAheadLog
	Validators *ValidatorSet
}

func (c *ConsensusConfig) validate() error {
	switch {
	case c.Logger == nil:
		return fmt.Errorf("dbft: config missing Logger")
	case c.Clock == nil:
		return fmt.Errorf("dbft: config missing Clock")
	case c.Signer == nil:
		return fmt.Errorf("dbft: config missing Signer")
	case c.Verifier == nil:
		return fmt.Errorf("dbft: config missing SignatureVerifier")
	case c.Auth == nil:
		return fmt.Errorf("dbft: config missing EnvelopeAuthenticator")
	case c.Comm == nil:
		return fmt.Errorf("dbft: config missing Communication")
	case c.Tasks == nil:
		return fmt.Errorf("dbft: config missing TaskManager")
	case c.Mempool == nil:
		return fmt.Errorf("dbft: config missing Mempool")
	case c.Ledger == nil:
		return fmt.Errorf("dbft: config missing Ledger")
	case c.Policy == nil:
		return fmt.Errorf("dbft: config missing Policy")
	case c.WAL == nil:
		return fmt.Errorf("dbft: config missing WriteAheadLog")
	case c.Validators == nil:
		return fmt.Errorf("dbft: config missing ValidatorSet")
	}
	return nil
}

// Consensus is the top-level, single-threaded orchestrator: analogous to
// the teacher's Epoch, it owns the current RoundContext and Timer and
// serializes every inbound event (message, timeout) through HandleMessage
// / OnTimeout. Callers are responsible for the event loop; nothing here
// spawns a goroutine.
type Consensus struct {
	cfg ConsensusConfig

	mu    sync.Mutex
	round *RoundContext
	timer *Timer

	// finalizedHeight is set once a slot for the current round reaches
	// Commit quorum. The caller's event loop observes this (or the
	// equivalent Ledger.Height() change) and calls InitializeConsensus
	// for the next height on its own schedule.
	finalizedHeight uint32
	hasFinalized    bool
}

// FinalizedHeight reports the most recently finalized height and whether
// any round has finalized yet.
func (c *Consensus) FinalizedHeight() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalizedHeight, c.hasFinalized
}

// NewConsensus validates cfg and returns a Consensus ready for
// InitializeConsensus.
func NewConsensus(cfg ConsensusConfig) (*Consensus, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Consensus{
		cfg:   cfg,
		timer: NewTimer(cfg.Clock),
	}, nil
}

// InitializeConsensus starts a fresh round at the given height, computing
// the priority/fallback primaries for view 0 and arming the timer for the
// first block interval (§4.1, §4.3).
func (c *Consensus) InitializeConsensus(height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializeConsensusLocked(height)
}

func (c *Consensus) initializeConsensusLocked(height uint32) {
	c.round = NewRoundContext(height, 0, c.cfg.Validators)
	c.armTimerLocked(blockTimeout(c.cfg.Policy, 0))

	c.cfg.Logger.Info("consensus round initialized",
		zap.Uint32("height", height),
		zap.Int("validators", c.cfg.Validators.N()))

	// §4.3's proposing precondition: a primary only proposes into a slot
	// it hasn't already populated and isn't mid view-change on. Both
	// flags are freshly reset here, so this only ever short-circuits a
	// defensive re-entry.
	canPropose := !c.round.RequestSentOrReceived && !c.round.NotAcceptingPayloadsDueToViewChanging

	if canPropose && c.round.IsPriorityPrimary {
		c.proposeLocked(prioritySlot)
	}
	// The fallback slot's primary proposes from the start too, at view 0
	// only (Open Question (a)): the dual pipeline needs a candidate
	// ready in the fallback slot before the priority slot is ever
	// observed to stall, so it cannot wait for a timeout to populate it.
	if canPropose && c.round.IsFallbackPrimary {
		c.proposeLocked(fallbackSlot)
	}
}

func (c *Consensus) armTimerLocked(d time.Duration) {
	c.timer.ChangeTimer(c.round.Height, c.round.View, d)
}

// baseDelay returns MillisecondsPerBlock as a time.Duration, the fixed
// unit ExtendTimerByFactor scales by k — distinct from blockTimeout's
// view-doubled interval, since an extension is a one-off bump for the
// current phase, not a new backoff schedule.
func (c *Consensus) baseDelay() time.Duration {
	return time.Duration(c.cfg.Policy.MillisecondsPerBlock()) * time.Millisecond
}

// blockTimeout returns the base timeout for view v: one block interval,
// doubling for every view advanced past 0, matching the teacher's
// exponential backoff on repeated timeouts.
func blockTimeout(p Policy, view uint8) time.Duration {
	base := time.Duration(p.MillisecondsPerBlock()) * time.Millisecond
	for i := uint8(0); i < view; i++ {
		base *= 2
	}
	return base
}

func (c *Consensus) isPrimaryLocked(id slotID) bool {
	if id == prioritySlot {
		return c.round.IsPriorityPrimary
	}
	return c.round.IsFallbackPrimary
}

// OnTimeout is driven by the caller's event loop whenever it observes the
// timer has fired; it re-checks under the lock in case the round advanced
// in the interim (§4.1).
func (c *Consensus) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fired, height, view := c.timer.Expired()
	if !fired || height != c.round.Height || view != c.round.View {
		return
	}

	c.cfg.Logger.Debug("round timer expired",
		zap.Uint32("height", height), zap.Uint8("view", view))

	// §5 resend discipline: if this node has already produced an outgoing
	// PrepareRequest, PrepareResponse, PreCommit, or Commit for this view,
	// resend that message rather than abandoning the view — its earlier
	// broadcast may simply have been dropped. Only when nothing has been
	// produced yet does a timeout mean initiating a view change. This is
	// also what lets a node that already sent its Commit but timed out
	// waiting for the rest of quorum make progress instead of stalling,
	// since beginChangeViewLocked is a no-op once CommitSent is true.
	if c.round.LastSentMessage != nil {
		c.cfg.Logger.Debug("resending last produced message after timeout")
		c.cfg.Comm.Broadcast(c.round.LastSentMessage)
		c.armTimerLocked(blockTimeout(c.cfg.Policy, view))
		return
	}

	c.beginChangeViewLocked(ReasonTimeout)
}
