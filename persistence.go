// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/luxfi/dbft-core/record"
)

// signedPayload is implemented by every message type this node ever
// persists on its own behalf: PrepareRequest (if primary), PreCommit,
// and Commit.
type signedPayload interface {
	Bytes() []byte
}

// persistLocked appends the local node's own signed envelope for the
// current round to the write-ahead log (§5 Durability, Property 1): only
// PrepareRequest (if primary), PreCommit, and Commit are ever persisted,
// since those are exactly the messages this node itself signs.
func (c *Consensus) persistLocked(recordType uint16, payload signedPayload) {
	rec := &record.Record{Version: 1, Type: recordType, Payload: payload.Bytes()}
	if err := c.cfg.WAL.Append(rec.Bytes()); err != nil {
		c.cfg.Logger.Error("failed to append to write-ahead log", zap.Error(err))
	}
}

// LoadFromWAL replays whatever this node persisted for the current round
// before a restart, applying each envelope through the same handlers a
// network-received copy would go through, so recovery never depends on
// re-deriving the local node's own prior signatures (Property 1: no
// equivocation across a restart).
func (c *Consensus) LoadFromWAL() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.cfg.WAL.ReadAll()
	if err != nil {
		return fmt.Errorf("dbft: reading write-ahead log: %w", err)
	}

	myIndex := c.round.Validators.MyIndex()
	myNode, _ := c.round.Validators.NodeAt(uint8(myIndex))

	for _, entry := range raw {
		var rec record.Record
		if _, err := rec.FromBytes(bytes.NewReader(entry)); err != nil {
			c.cfg.Logger.Warn("dropped unreadable write-ahead log record", zap.Error(err))
			continue
		}

		switch rec.Type {
		case record.PrepareRequestRecordType:
			req, err := decodePrepareRequest(rec.Payload)
			if err != nil {
				c.cfg.Logger.Warn("dropped malformed prepare request record", zap.Error(err))
				continue
			}
			if err := c.onPrepareRequest(myIndex, req); err != nil {
				c.cfg.Logger.Debug("replayed prepare request rejected", zap.Error(err))
			}
		case record.PreCommitRecordType:
			pc, err := decodePreCommit(rec.Payload)
			if err != nil {
				c.cfg.Logger.Warn("dropped malformed precommit record", zap.Error(err))
				continue
			}
			if err := c.onPreCommit(myIndex, pc); err != nil {
				c.cfg.Logger.Debug("replayed precommit rejected", zap.Error(err))
			}
		case record.CommitRecordType:
			commit, err := decodeCommit(rec.Payload, len(myNode))
			if err != nil {
				c.cfg.Logger.Warn("dropped malformed commit record", zap.Error(err))
				continue
			}
			// This node had already signed and broadcast this Commit
			// before the restart; CommitSent must be restored unconditionally,
			// independent of whether the round's current view can still
			// verify it (§8.1 Property 1 — a restarted node must never
			// sign a conflicting Commit for this height).
			c.round.CommitSent = true
			if err := c.onCommit(myIndex, commit); err != nil {
				c.cfg.Logger.Debug("replayed commit rejected", zap.Error(err))
			}
		default:
			c.cfg.Logger.Warn("dropped write-ahead log record of unknown type",
				zap.Uint16("type", rec.Type))
		}
	}
	return nil
}
