// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import "errors"

var (
	errUnknownMessageKind  = errors.New("dbft: message has no populated variant")
	errUnknownSender       = errors.New("dbft: sender is not a validator for this height")
	errStaleView           = errors.New("dbft: message view is behind the current view")
	errUnknownSlot         = errors.New("dbft: message references an unknown slot id")
	errNotPrimary          = errors.New("dbft: sender is not the primary for this slot and view")
	errPreparationMismatch = errors.New("dbft: preparation hash does not match the pinned proposal")
	errAlreadyPinned       = errors.New("dbft: slot already pinned a different preparation hash")
	errDuplicatePayload    = errors.New("dbft: sender already submitted a payload of this kind for this round")
	errInvalidSignature    = errors.New("dbft: signature verification failed")
	errDoubleSpend         = errors.New("dbft: proposal contains a transaction already in the ledger")
	errInvalidTimestamp    = errors.New("dbft: proposal timestamp outside the accepted window")
	errViewChangePending   = errors.New("dbft: not accepting new proposals while a view change is pending")
	errCommitSent          = errors.New("dbft: this node already committed and no longer participates in view changes")
)
