// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"crypto/sha256"
	"sync"

	dbft "github.com/luxfi/dbft-core"
)

// FakeClock is a manually-advanced Clock, letting tests drive timeouts
// deterministically instead of sleeping on a wall clock.
type FakeClock struct {
	mu  sync.Mutex
	now uint64
}

// NewFakeClock returns a FakeClock starting at start rather than zero, so
// tests exercising the genesis timestamp rule (a proposal's timestamp
// must exceed the Ledger's PrevTimestamp, which is 0 before any block)
// don't collide with a zero-valued clock.
func NewFakeClock(start uint64) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// FakeSigner produces a deterministic, non-cryptographic "signature" so
// tests can check round-trip verification without a real key pair.
type FakeSigner struct {
	Node dbft.NodeID
}

func (s *FakeSigner) Sign(data []byte) ([]byte, error) {
	h := sha256.New()
	h.Write(s.Node)
	h.Write(data)
	return h.Sum(nil), nil
}

// FakeVerifier recomputes FakeSigner's digest to check a signature; it
// has no notion of key material beyond the claimed NodeID.
type FakeVerifier struct{}

func (FakeVerifier) Verify(data []byte, signature []byte, signer dbft.NodeID) error {
	h := sha256.New()
	h.Write(signer)
	h.Write(data)
	want := h.Sum(nil)
	if string(want) != string(signature) {
		return errInvalidFakeSignature
	}
	return nil
}

var errInvalidFakeSignature = &fakeError{"testutil: fake signature mismatch"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }

// FakeAuth accepts every envelope, since wire-level authentication is
// out of scope for the consensus core under test.
type FakeAuth struct{}

func (FakeAuth) VerifyEnvelope(*dbft.Envelope) bool { return true }

// FakeComm records every message sent through it instead of touching a
// real network, so tests can assert on what a node broadcast.
type FakeComm struct {
	mu          sync.Mutex
	Nodes       []dbft.NodeID
	Broadcasted []*dbft.Message
	Sent        map[string][]*dbft.Message
}

func NewFakeComm(nodes []dbft.NodeID) *FakeComm {
	return &FakeComm{Nodes: nodes, Sent: make(map[string][]*dbft.Message)}
}

func (c *FakeComm) ListNodes() []dbft.NodeID { return c.Nodes }

func (c *FakeComm) SendMessage(msg *dbft.Message, destination dbft.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent[destination.String()] = append(c.Sent[destination.String()], msg)
}

func (c *FakeComm) Broadcast(msg *dbft.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Broadcasted = append(c.Broadcasted, msg)
}

// FakeTasks records requested transaction fetches without ever
// resolving them; tests resolve fetches explicitly via FakeMempool.Add
// followed by Consensus.OnTransactionReceived.
type FakeTasks struct {
	mu       sync.Mutex
	Requested []dbft.Hash
}

func (t *FakeTasks) RestartTasks(hashes []dbft.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Requested = append(t.Requested, hashes...)
}

// FakeTransaction is the minimal Transaction implementation used across
// tests.
type FakeTransaction struct {
	H         dbft.Hash
	SizeBytes int
	Fee       int64
	Body      []byte
}

func (t *FakeTransaction) Hash() dbft.Hash  { return t.H }
func (t *FakeTransaction) Bytes() []byte    { return t.Body }
func (t *FakeTransaction) Size() int        { return t.SizeBytes }
func (t *FakeTransaction) SystemFee() int64 { return t.Fee }

// FakeMempool is a synchronous in-memory transaction pool.
type FakeMempool struct {
	mu  sync.Mutex
	txs map[dbft.Hash]dbft.Transaction
}

func NewFakeMempool() *FakeMempool {
	return &FakeMempool{txs: make(map[dbft.Hash]dbft.Transaction)}
}

func (m *FakeMempool) Add(tx dbft.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Hash()] = tx
}

func (m *FakeMempool) GetVerifiedTransactions() []dbft.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dbft.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	return out
}

func (m *FakeMempool) TryGetValue(hash dbft.Hash) (dbft.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	return tx, ok
}

// FakeLedger is an in-memory chain tip tracker.
type FakeLedger struct {
	mu        sync.Mutex
	height    uint32
	timestamp uint64
	Blocks    []*dbft.Block
	seen      map[dbft.Hash]bool
}

func NewFakeLedger() *FakeLedger {
	return &FakeLedger{seen: make(map[dbft.Hash]bool)}
}

func (l *FakeLedger) ContainsTransaction(hash dbft.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[hash]
}

func (l *FakeLedger) SubmitBlock(block *dbft.Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Blocks = append(l.Blocks, block)
	for _, h := range block.TransactionHashes {
		l.seen[h] = true
	}
	l.height++
	l.timestamp = block.Header.Timestamp
	return nil
}

func (l *FakeLedger) Height() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// PrevTimestamp returns the timestamp of the most recently submitted
// block, or 0 before any block has been submitted.
func (l *FakeLedger) PrevTimestamp() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timestamp
}

// FakePolicy is a fixed set of network parameters.
type FakePolicy struct {
	MaxSize      uint32
	MaxFee       int64
	BlockMillis  uint32
	MaxTxPerBlk  uint16
	NetworkMagic uint32
}

func (p *FakePolicy) MaxBlockSize() uint32           { return p.MaxSize }
func (p *FakePolicy) MaxBlockSystemFee() int64       { return p.MaxFee }
func (p *FakePolicy) MillisecondsPerBlock() uint32   { return p.BlockMillis }
func (p *FakePolicy) MaxTransactionsPerBlock() uint16 { return p.MaxTxPerBlk }
func (p *FakePolicy) Network() uint32                { return p.NetworkMagic }

// DefaultPolicy returns a FakePolicy with reasonable test-scale values.
func DefaultPolicy() *FakePolicy {
	return &FakePolicy{
		MaxSize:      1 << 20,
		MaxFee:       1_000_000,
		BlockMillis:  15_000,
		MaxTxPerBlk:  512,
		NetworkMagic: 0x746e6574,
	}
}
