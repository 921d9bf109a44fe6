// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

// VerificationContext tracks the aggregate quantities policy needs to
// gate a proposal (§3): running transaction count, byte size, and system
// fee total, updated incrementally as transactions resolve.
type VerificationContext struct {
	TransactionCount int
	BlockSize        uint32
	SystemFeeTotal   int64
}

func (vc *VerificationContext) AddTransaction(tx Transaction) {
	vc.TransactionCount++
	vc.BlockSize += uint32(tx.Size())
	vc.SystemFeeTotal += tx.SystemFee()
}

// slotID identifies which of the two parallel slots a payload belongs to.
type slotID = uint8

const (
	prioritySlot slotID = 0
	fallbackSlot slotID = 1
	numSlots            = 2
)

// Slot is one of the two parallel proposal pipelines a round carries: the
// priority slot (primary = PriorityPrimary) and the fallback slot
// (primary = FallbackPrimary). Both accumulate independently, and a
// single validator may legitimately send a PrepareResponse, PreCommit,
// or even both slots' PreCommit before either reaches Commit — nothing
// pins a validator to the first slot it observes crossing threshold.
// What prevents two slots from both finalizing for the same (height,
// view) is arithmetic, not a per-slot guard: once a validator sends its
// own Commit for one slot, RoundContext.CommitSent latches and it never
// signs a Commit for the other (§4.4, §4.9), so at most N Commits are
// ever produced across both slots combined; since each slot needs M(n)
// of them and 2*M(n) > N whenever N = 3F+1, two disjoint M(n)-sized
// Commit sets can never both exist. A slot can still out-pace the other
// through PrepareResponse/PreCommit — that divergence is expected and
// harmless — only Commit is the point where CommitSent forecloses it
// (§3, §4.4).
type Slot struct {
	Header            BlockHeader
	TransactionHashes []Hash
	Transactions      map[Hash]Transaction
	Verification      VerificationContext

	// PreparationHash is nil until a PrepareRequest (or, speculatively, a
	// PreCommit) pins it for this slot; once pinned it may never change
	// within a (height, view).
	preparationHash *Hash

	PreparationPayloads map[int]*PrepareResponse
	PreCommitPayloads   map[int]*PreCommit
	CommitPayloads      map[int]*Commit
}

func newSlot() *Slot {
	return &Slot{
		Transactions:        make(map[Hash]Transaction),
		PreparationPayloads: make(map[int]*PrepareResponse),
		PreCommitPayloads:   make(map[int]*PreCommit),
		CommitPayloads:      make(map[int]*Commit),
	}
}

// Pin records the preparation hash this slot has committed to matching
// against for the remainder of the round. Returns errAlreadyPinned if a
// different hash was pinned earlier.
func (s *Slot) Pin(hash Hash) error {
	if s.preparationHash != nil && *s.preparationHash != hash {
		return errAlreadyPinned
	}
	if s.preparationHash == nil {
		h := hash
		s.preparationHash = &h
	}
	return nil
}

func (s *Slot) PreparationHash() (Hash, bool) {
	if s.preparationHash == nil {
		return Hash{}, false
	}
	return *s.preparationHash, true
}

func (s *Slot) ready() bool {
	for _, h := range s.TransactionHashes {
		if _, ok := s.Transactions[h]; !ok {
			return false
		}
	}
	return true
}

// RoundContext is the full mutable state for a single (height, view):
// the two parallel slots, the validators active for this height, and the
// change-view ballots collected toward the next view (§3).
type RoundContext struct {
	Height uint32
	View   uint8

	Validators *ValidatorSet

	Slots [numSlots]*Slot

	ChangeViewPayloads map[int]*ChangeView

	// ParkedCommits holds Commit payloads that could not be verified on
	// arrival, keyed by the view they were signed for: Commits for a view
	// other than the current one, and current-view Commits that arrived
	// before their slot's PrepareRequest set its header. The current
	// view's entries are replayed by drainParkedCommitsLocked once that
	// header exists; entries for other views can't be verified or counted
	// here and are surfaced by this node's own RecoveryMessage to a peer
	// that might be able to make use of them (§4.5, the "late commit
	// parked, contributed later via recovery" scenario). They deliberately
	// survive ResetForView.
	ParkedCommits map[uint8][]*Commit

	// LastSeenMessage tracks, per validator index, the highest height for
	// which we've accepted a payload — used to compute CountFailed, the
	// number of validators presumed unresponsive at the current height
	// (§3).
	LastSeenMessage map[int]uint32

	// KnownHashes deduplicates RecoveryRequest envelopes this node has
	// already answered, so a single broadcast RecoveryRequest never
	// draws more than one response from this node regardless of
	// retransmission (§3, §4.7). It is cleared only on height advance —
	// NewRoundContext allocates a fresh set — and deliberately survives
	// ResetForView, since a RecoveryRequest's dedup horizon spans every
	// view within the same height.
	KnownHashes map[Hash]struct{}

	// RequestSentOrReceived is true once this node has sent or accepted a
	// PrepareRequest for some slot in the current (height, view). It
	// gates a primary from re-proposing into a slot that already has a
	// pinned proposal (§4.3).
	RequestSentOrReceived bool

	// NotAcceptingPayloadsDueToViewChanging is set the moment this node
	// broadcasts its own ChangeView and cleared on the next view reset;
	// while set, this node stops accepting new PrepareRequests for the
	// view it is trying to leave (§4.3, §4.6).
	NotAcceptingPayloadsDueToViewChanging bool

	// CommitSent is true once this node has broadcast its own Commit for
	// some slot in the current (height, view). Once set, this node no
	// longer participates in changing the view (§4.6) and a recovery
	// reply built from this round favors Commit evidence over
	// ChangeView evidence (§4.7).
	CommitSent bool

	// BlockSent is true once a slot has reached Commit quorum and the
	// assembled block has been submitted to the Ledger. Once set, no
	// further handler mutates round state for a PrepareRequest,
	// PrepareResponse, PreCommit, or ChangeView payload (§3, §4.2 step 1).
	BlockSent bool

	// IsRecovering is true for the duration of applying an incoming
	// RecoveryMessage's carried payloads, so log lines and future
	// accounting can distinguish a re-injected payload from one received
	// directly (§4.8).
	IsRecovering bool

	// IsPriorityPrimary / IsFallbackPrimary record, for the current
	// (height, view), whether this node is the primary of each slot;
	// computed once at round/view construction rather than recomputed on
	// every check (§3).
	IsPriorityPrimary bool
	IsFallbackPrimary bool

	// LastSentMessage is the most recently broadcast PrepareRequest,
	// PrepareResponse, PreCommit, or Commit this node produced for the
	// current view, in that order of precedence. OnTimeout resends it
	// rather than abandoning the view when this node has made some
	// progress (§5).
	LastSentMessage *Message
}

// IsAPrimary reports whether this node is the primary of either slot for
// the current (height, view).
func (rc *RoundContext) IsAPrimary() bool {
	return rc.IsPriorityPrimary || rc.IsFallbackPrimary
}

// CountFailed returns the number of validators from which no payload has
// been seen at all at the current height — the chain-behind bookkeeping
// §3 defines LastSeenMessage for.
func (rc *RoundContext) CountFailed() int {
	failed := 0
	for i := 0; i < rc.Validators.N(); i++ {
		if rc.LastSeenMessage[i] < rc.Height {
			failed++
		}
	}
	return failed
}

// NewRoundContext initializes a fresh round for the given height, wiping
// all slot and ballot state. Called at height advance; a view change
// within the same height uses ResetForView instead (§3, §4.6).
func NewRoundContext(height uint32, view uint8, validators *ValidatorSet) *RoundContext {
	rc := &RoundContext{
		Height:             height,
		View:               view,
		Validators:         validators,
		ChangeViewPayloads: make(map[int]*ChangeView),
		ParkedCommits:      make(map[uint8][]*Commit),
		LastSeenMessage:    make(map[int]uint32),
		KnownHashes:        make(map[Hash]struct{}),
	}
	for i := range rc.Slots {
		rc.Slots[i] = newSlot()
	}
	rc.recomputePrimariesLocked()
	return rc
}

// ResetForView clears per-view state (slots, change-view ballots, and the
// singleton flags governing this view's participation) while keeping the
// height, validator set, and parked commit backlog, for a view change
// within the same height (§4.6).
func (rc *RoundContext) ResetForView(view uint8) {
	rc.View = view
	rc.ChangeViewPayloads = make(map[int]*ChangeView)
	for i := range rc.Slots {
		rc.Slots[i] = newSlot()
	}
	rc.RequestSentOrReceived = false
	rc.NotAcceptingPayloadsDueToViewChanging = false
	rc.CommitSent = false
	rc.LastSentMessage = nil
	rc.recomputePrimariesLocked()
}

func (rc *RoundContext) recomputePrimariesLocked() {
	if rc.Validators.WatchOnly() {
		rc.IsPriorityPrimary = false
		rc.IsFallbackPrimary = false
		return
	}
	n := rc.Validators.N()
	my := uint8(rc.Validators.MyIndex())
	rc.IsPriorityPrimary = PriorityPrimary(n, rc.Height, rc.View) == my
	rc.IsFallbackPrimary = FallbackPrimary(n, rc.Height, rc.View) == my
}

func (rc *RoundContext) Slot(id slotID) (*Slot, bool) {
	if int(id) >= len(rc.Slots) {
		return nil, false
	}
	return rc.Slots[id], true
}
