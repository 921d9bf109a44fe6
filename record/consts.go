// Copyright (C) 2019-2024, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

// Record types persisted to the write-ahead log. Only the envelopes the
// local node has itself signed for the current round are ever written:
// a proposal (if primary), a PreCommit, and a Commit. On restart these
// are replayed verbatim rather than re-signed, so a crash can never
// produce two different signed messages for the same (height, view, slot).
const (
	UndefinedRecordType uint16 = iota
	PrepareRequestRecordType
	PreCommitRecordType
	CommitRecordType
)
