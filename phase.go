// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

// CheckPreparations reports whether slot has collected enough
// PrepareResponse payloads bound to the pinned preparation hash to move
// to PreCommit (§4.9). The two slots use different thresholds: the
// priority slot only needs the F(n)+1 liveness threshold, since a
// disagreement there is caught by the PreCommit/Commit gates that
// follow; the fallback slot — which runs in parallel from the start of
// view 0 as a standby for a stalled priority path — requires the full
// M(n) safety threshold before it is allowed to move forward at all.
// Only stored PrepareResponse entries are counted; a primary's vote is
// its own PrepareResponse, not the pinned hash.
func CheckPreparations(slot *Slot, id slotID, n int) bool {
	hash, ok := slot.PreparationHash()
	if !ok {
		return false
	}
	count := 0
	for _, resp := range slot.PreparationPayloads {
		if resp.PreparationHash == hash {
			count++
		}
	}
	if id == prioritySlot {
		return count >= F(n)+1
	}
	return count >= M(n)
}

// CheckPrepareResponse is an alias kept for callers that think in terms
// of the message type rather than the phase name; it reports the same
// condition as CheckPreparations.
func CheckPrepareResponse(slot *Slot, id slotID, n int) bool {
	return CheckPreparations(slot, id, n)
}

// CheckPreCommits reports whether slot has collected PreCommit from at
// least M(n) validators bound to the pinned preparation hash, gating
// entry to the Commit phase (§4.4, the inserted PreCommit gate).
//
// forced short-circuits the count entirely: §4.9's named speed-up lets
// the priority slot skip the PreCommit round trip when its own
// PrepareResponse tally already reached the stronger M(n) threshold (not
// just the F(n)+1 the slot normally requires) — that stronger tally is
// itself sufficient assurance to enter Commit immediately.
func CheckPreCommits(slot *Slot, n int, forced bool) bool {
	if forced {
		return true
	}
	hash, ok := slot.PreparationHash()
	if !ok {
		return false
	}
	count := 0
	for _, pc := range slot.PreCommitPayloads {
		if pc.PreparationHash == hash {
			count++
		}
	}
	return count >= M(n)
}

// CheckCommits reports whether slot has collected Commit from at least
// M(n) validators, the threshold at which the block is final and may be
// submitted to the Ledger (§4.5).
func CheckCommits(slot *Slot, n int) bool {
	return len(slot.CommitPayloads) >= M(n)
}

// CheckExpectedView reports whether at least M(n) recorded ChangeView
// payloads name a NewViewNumber at or beyond newView — the threshold at
// which every honest validator adopts newView regardless of its own
// timer state (§4.6, §4.9). Counting cumulatively rather than by exact
// match matters: a validator that has already requested view 7 has, a
// fortiori, also requested at least view 5.
func CheckExpectedView(payloads map[int]*ChangeView, newView uint8, n int) bool {
	count := 0
	for _, cv := range payloads {
		if cv.NewViewNumber >= newView {
			count++
		}
	}
	return count >= M(n)
}

// canChangeView reports whether at least F(n)+1 validators (the liveness
// threshold) have requested some view beyond the current one, at which
// point this node should itself send a ChangeView rather than wait out
// its own timer (§4.6). The returned view is the highest one requested
// by that set, the strongest target the liveness signal supports.
func canChangeView(payloads map[int]*ChangeView, currentView uint8, n int) (uint8, bool) {
	count := 0
	best := currentView
	for _, cv := range payloads {
		if cv.NewViewNumber > currentView {
			count++
			if cv.NewViewNumber > best {
				best = cv.NewViewNumber
			}
		}
	}
	if count >= F(n)+1 {
		return best, true
	}
	return 0, false
}

// isRotatingResponder reports whether myIndex is one of the F validators
// selected to answer a RecoveryRequest from requester, so a single
// broadcast RecoveryRequest never draws more than F responses across the
// honest set (§4.7).
func isRotatingResponder(myIndex, requester, n, f int) bool {
	for i := 1; i <= f; i++ {
		if mod(int64(requester+i), int64(n)) == int64(myIndex) {
			return true
		}
	}
	return false
}
