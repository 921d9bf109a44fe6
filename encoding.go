// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

import (
	"bytes"
	"encoding/binary"
)

// Every consensus message is hand-framed with encoding/binary rather
// than a general-purpose serializer: these are signed, deterministic
// wire formats and a marshaller free to reorder map keys or omit
// zero-valued fields would risk two honest nodes producing different
// bytes for the same logical message.

func writeHeader(buf *bytes.Buffer, h Header) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], h.BlockIndex)
	buf.Write(scratch[:])
	buf.WriteByte(h.ValidatorIndex)
	buf.WriteByte(h.ViewNumber)
}

func readHeader(r *bytes.Reader) (Header, error) {
	var scratch [4]byte
	if _, err := r.Read(scratch[:]); err != nil {
		return Header{}, err
	}
	idx, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	view, err := r.ReadByte()
	if err != nil {
		return Header{}, err
	}
	return Header{
		BlockIndex:     binary.BigEndian.Uint32(scratch[:]),
		ValidatorIndex: idx,
		ViewNumber:     view,
	}, nil
}

func writeHash(buf *bytes.Buffer, h Hash) { buf.Write(h[:]) }

func readHash(r *bytes.Reader) (Hash, error) {
	var h Hash
	if _, err := r.Read(h[:]); err != nil {
		return Hash{}, err
	}
	return h, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], v)
	buf.Write(scratch[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var scratch [8]byte
	if _, err := r.Read(scratch[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(scratch[:]), nil
}

// Bytes encodes a PrepareRequest for persistence and wire transmission.
func (p *PrepareRequest) Bytes() []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, p.Header)
	buf.WriteByte(p.Id)
	buf.WriteByte(p.Version)
	writeHash(buf, p.PrevHash)
	writeUint64(buf, p.Timestamp)
	writeUint64(buf, p.Nonce)

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(p.TransactionHashes)))
	buf.Write(scratch[:])
	for _, h := range p.TransactionHashes {
		writeHash(buf, h)
	}
	return buf.Bytes()
}

func decodePrepareRequest(data []byte) (*PrepareRequest, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	id, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	prevHash, err := readHash(r)
	if err != nil {
		return nil, err
	}
	timestamp, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	nonce, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	var countBuf [4]byte
	if _, err := r.Read(countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	hashes := make([]Hash, count)
	for i := range hashes {
		hashes[i], err = readHash(r)
		if err != nil {
			return nil, err
		}
	}
	return &PrepareRequest{
		Header:            h,
		Id:                id,
		Version:           version,
		PrevHash:          prevHash,
		Timestamp:         timestamp,
		Nonce:             nonce,
		TransactionHashes: hashes,
	}, nil
}

// Bytes encodes a ChangeView deterministically. Unlike the other
// variants it is never persisted or decoded — a ChangeView carries no
// self-signature — but the encoding still doubles as the input to
// HashBytes when a ChangeView needs a stand-in envelope identity, e.g.
// one replayed out of a RecoveryMessage bundle (§4.7, §4.8).
func (cv *ChangeView) Bytes() []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, cv.Header)
	buf.WriteByte(cv.NewViewNumber)
	buf.WriteByte(uint8(cv.Reason))
	writeUint64(buf, cv.Timestamp)
	return buf.Bytes()
}

// Bytes encodes a PreCommit for persistence and wire transmission.
func (p *PreCommit) Bytes() []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, p.Header)
	buf.WriteByte(p.Id)
	writeHash(buf, p.PreparationHash)
	return buf.Bytes()
}

func decodePreCommit(data []byte) (*PreCommit, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	id, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	hash, err := readHash(r)
	if err != nil {
		return nil, err
	}
	return &PreCommit{Header: h, Id: id, PreparationHash: hash}, nil
}

// Bytes encodes a Commit for persistence and wire transmission.
func (c *Commit) Bytes() []byte {
	buf := new(bytes.Buffer)
	writeHeader(buf, c.Header)
	buf.WriteByte(c.Id)
	buf.Write(c.Signature.Signer)

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(c.Signature.Value)))
	buf.Write(scratch[:])
	buf.Write(c.Signature.Value)
	return buf.Bytes()
}

// signerLen is the fixed width of a NodeID in an encoded Commit record;
// derived from the validator set at decode time rather than framed
// inline, since NodeID width is a deployment-wide constant.
func decodeCommit(data []byte, signerLen int) (*Commit, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	id, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	signer := make([]byte, signerLen)
	if _, err := r.Read(signer); err != nil {
		return nil, err
	}
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, err
	}
	sigLen := binary.BigEndian.Uint32(lenBuf[:])
	sig := make([]byte, sigLen)
	if _, err := r.Read(sig); err != nil {
		return nil, err
	}
	return &Commit{
		Header:    h,
		Id:        id,
		Signature: Signature{Signer: NodeID(signer), Value: sig},
	}, nil
}
