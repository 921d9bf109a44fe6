// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"fmt"
	"io"
	"os"
)

const (
	WalFlags       = os.O_APPEND | os.O_CREATE | os.O_RDWR
	WalPermissions = 0666
)

// WriteAheadLog is a durable, append-only, crash-safe log of the raw
// consensus records a node has itself signed for the current round
// (proposal, PreCommit, Commit) so that a restarted node can replay them
// verbatim instead of signing conflicting messages for the same round.
type WriteAheadLog struct {
	file *os.File
}

// New opens a write ahead log file, creating one if necessary.
// Call Close() on the WriteAheadLog to ensure the file is closed after use.
func New(fileName string) (*WriteAheadLog, error) {
	file, err := os.OpenFile(fileName, WalFlags, WalPermissions)
	if err != nil {
		return nil, err
	}

	return &WriteAheadLog{
		file: file,
	}, nil
}

// Append writes a record to the write ahead log.
// Must flush the OS cache on every append to ensure consistency.
func (w *WriteAheadLog) Append(payload []byte) error {
	if err := writeRecord(w.file, payload); err != nil {
		return err
	}

	// ensure file gets written to persistent storage
	return w.file.Sync()
}

func (w *WriteAheadLog) ReadAll() ([][]byte, error) {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start: %w", err)
	}

	fileInfo, err := w.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	bytesToRead := fileInfo.Size()

	var records [][]byte
	for bytesToRead > 0 {
		payload, n, err := readRecord(w.file, uint32(bytesToRead))
		if err != nil {
			// record was corrupted or truncated mid-write in the wal
			return records, w.truncateAt(fileInfo.Size() - bytesToRead)
		}

		bytesToRead -= int64(n)
		records = append(records, payload)
	}

	return records, nil
}

// Truncate truncates the write ahead log.
func (w *WriteAheadLog) Truncate() error {
	return w.truncateAt(0)
}

func (w *WriteAheadLog) truncateAt(offset int64) error {
	// truncate call is atomic.
	if err := w.file.Truncate(offset); err != nil {
		return err
	}

	return w.file.Sync()
}

func (w *WriteAheadLog) Close() error {
	return w.file.Close()
}
