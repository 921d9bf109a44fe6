// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/luxfi/dbft-core"
	"github.com/luxfi/dbft-core/testutil"
	"github.com/luxfi/dbft-core/wal"
)

// queuedMsg is one hop of consensus traffic waiting to be delivered; the
// network below models delivery as an explicit queue rather than
// recursive synchronous calls, since HandleMessage locks a per-node
// mutex and a same-goroutine recursive re-entry into the sender's own
// lock would deadlock.
type queuedMsg struct {
	from int
	to   int // -1 means broadcast to every node but the sender
	msg  *Message
}

type netNode struct {
	id        NodeID
	consensus *Consensus
	ledger    *testutil.FakeLedger
	mempool   *testutil.FakeMempool
}

type network struct {
	nodes []*netNode
	queue []queuedMsg
}

func (net *network) enqueue(m queuedMsg) { net.queue = append(net.queue, m) }

// pump delivers queued messages in order, up to budget deliveries, so a
// test can bound how far a cascade of proposals/votes/finalizations is
// allowed to run rather than looping until the chain runs out of
// transactions.
func (net *network) pump(budget int) {
	delivered := 0
	for i := 0; i < len(net.queue) && delivered < budget; i++ {
		m := net.queue[i]
		envelope := &Envelope{Sender: net.nodes[m.from].id}
		if m.to == -1 {
			for j, n := range net.nodes {
				if j == m.from {
					continue
				}
				n.consensus.HandleMessage(envelope, m.msg)
				delivered++
			}
			continue
		}
		net.nodes[m.to].consensus.HandleMessage(envelope, m.msg)
		delivered++
	}
	net.queue = nil
}

type netComm struct {
	net  *network
	self int
}

func (c *netComm) ListNodes() []NodeID {
	out := make([]NodeID, len(c.net.nodes))
	for i, n := range c.net.nodes {
		out[i] = n.id
	}
	return out
}

func (c *netComm) Broadcast(msg *Message) {
	c.net.enqueue(queuedMsg{from: c.self, to: -1, msg: msg})
}

func (c *netComm) SendMessage(msg *Message, destination NodeID) {
	for i, n := range c.net.nodes {
		if n.id.Equals(destination) {
			c.net.enqueue(queuedMsg{from: c.self, to: i, msg: msg})
			return
		}
	}
}

func newTestNetwork(t *testing.T, n int) *network {
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = NodeID{byte(i + 1)}
	}
	vs := make([]*ValidatorSet, n)
	for i := range vs {
		vs[i] = NewValidatorSet(ids, i)
	}

	net := &network{}
	net.nodes = make([]*netNode, n)

	tx1 := &testutil.FakeTransaction{H: Hash{0x01}, SizeBytes: 100, Fee: 1}
	tx2 := &testutil.FakeTransaction{H: Hash{0x02}, SizeBytes: 100, Fee: 1}

	for i := 0; i < n; i++ {
		mempool := testutil.NewFakeMempool()
		mempool.Add(tx1)
		mempool.Add(tx2)

		ledger := testutil.NewFakeLedger()
		memWAL := wal.NewMemWAL(t)

		cfg := ConsensusConfig{
			Logger:     testutil.MakeLogger(t, i),
			Clock:      testutil.NewFakeClock(1),
			Signer:     &testutil.FakeSigner{Node: ids[i]},
			Verifier:   testutil.FakeVerifier{},
			Auth:       testutil.FakeAuth{},
			Comm:       &netComm{net: net, self: i},
			Tasks:      &testutil.FakeTasks{},
			Mempool:    mempool,
			Ledger:     ledger,
			Policy:     testutil.DefaultPolicy(),
			WAL:        memWAL,
			Validators: vs[i],
		}

		c, err := NewConsensus(cfg)
		require.NoError(t, err)

		net.nodes[i] = &netNode{id: ids[i], consensus: c, ledger: ledger, mempool: mempool}
	}
	return net
}

func TestFourNodeRoundFinalizes(t *testing.T) {
	net := newTestNetwork(t, 4)

	for _, n := range net.nodes {
		n.consensus.InitializeConsensus(0)
	}
	net.pump(500)

	for i, n := range net.nodes {
		require.GreaterOrEqualf(t, n.ledger.Height(), uint32(1), "node %d never finalized a block", i)
	}

	first := net.nodes[0].ledger.Blocks[0]
	for i, n := range net.nodes[1:] {
		require.Equal(t, first.Header.Index, n.ledger.Blocks[0].Header.Index, "node %d", i+1)
		require.Equal(t, first.TransactionHashes, n.ledger.Blocks[0].TransactionHashes, "node %d", i+1)
	}
}

// TestDivergentSlotsDoNotBothFinalize gives the priority and fallback
// primaries disjoint transaction sets, so their proposals genuinely
// diverge (unlike TestFourNodeRoundFinalizes, where both primaries pull
// the same mempool contents and would mask a two-slot split). Node 0
// (priority primary) can only ever resolve tx1's slot; node 3 (fallback
// primary) can only ever resolve tx2's slot; nodes 1 and 2 can resolve
// either. CommitSent's single-shot-per-node latch, together with
// 2*M(n) > N, means the two slots can never both collect M(n) Commits
// out of only N=4 total (§4.4, §4.9) — whichever nodes do finalize must
// all agree on the same block.
func TestDivergentSlotsDoNotBothFinalize(t *testing.T) {
	n := 4
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = NodeID{byte(i + 1)}
	}
	vs := make([]*ValidatorSet, n)
	for i := range vs {
		vs[i] = NewValidatorSet(ids, i)
	}

	net := &network{nodes: make([]*netNode, n)}

	tx1 := &testutil.FakeTransaction{H: Hash{0x01}, SizeBytes: 100, Fee: 1}
	tx2 := &testutil.FakeTransaction{H: Hash{0x02}, SizeBytes: 100, Fee: 1}

	for i := 0; i < n; i++ {
		mempool := testutil.NewFakeMempool()
		switch i {
		case 0: // priority primary: only ever sees tx1
			mempool.Add(tx1)
		case 3: // fallback primary: only ever sees tx2
			mempool.Add(tx2)
		default: // backups: can resolve either slot
			mempool.Add(tx1)
			mempool.Add(tx2)
		}

		ledger := testutil.NewFakeLedger()
		cfg := ConsensusConfig{
			Logger:     testutil.MakeLogger(t, i),
			Clock:      testutil.NewFakeClock(1),
			Signer:     &testutil.FakeSigner{Node: ids[i]},
			Verifier:   testutil.FakeVerifier{},
			Auth:       testutil.FakeAuth{},
			Comm:       &netComm{net: net, self: i},
			Tasks:      &testutil.FakeTasks{},
			Mempool:    mempool,
			Ledger:     ledger,
			Policy:     testutil.DefaultPolicy(),
			WAL:        wal.NewMemWAL(t),
			Validators: vs[i],
		}

		c, err := NewConsensus(cfg)
		require.NoError(t, err)

		net.nodes[i] = &netNode{id: ids[i], consensus: c, ledger: ledger, mempool: mempool}
	}

	for _, node := range net.nodes {
		node.consensus.InitializeConsensus(0)
	}
	net.pump(1000)

	var finalized []*Block
	for _, node := range net.nodes {
		if node.ledger.Height() >= 1 {
			finalized = append(finalized, node.ledger.Blocks[0])
		}
	}
	require.NotEmptyf(t, finalized, "expected at least one node to finalize a block")

	first := finalized[0]
	for _, b := range finalized[1:] {
		require.Equal(t, first.Header.PrimaryIndex, b.Header.PrimaryIndex,
			"nodes finalized blocks from different slots' primaries")
		require.Equal(t, first.TransactionHashes, b.TransactionHashes,
			"nodes finalized blocks with different transaction sets")
	}
}

func TestSingleValidatorSelfFinalizes(t *testing.T) {
	net := newTestNetwork(t, 1)

	// With one validator, M(1) = 1: the node's own PrepareResponse,
	// PreCommit, and Commit are each sufficient on their own, so the
	// round finalizes synchronously inside InitializeConsensus without
	// needing any network delivery.
	net.nodes[0].consensus.InitializeConsensus(0)

	height, ok := net.nodes[0].consensus.FinalizedHeight()
	require.True(t, ok)
	require.EqualValues(t, 0, height)
	require.EqualValues(t, 1, net.nodes[0].ledger.Height())
}
