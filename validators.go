// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

// WatchOnlyIndex marks a node that participates in the gossip network
// but holds no validator slot and never signs.
const WatchOnlyIndex = -1

// ValidatorSet is the immutable-per-height mapping from validator index
// to identity. Key material verification is delegated to
// SignatureVerifier, which is handed the NodeID directly (§6 Crypto);
// the registry itself only orders and indexes validators.
type ValidatorSet struct {
	nodes   []NodeID
	myIndex int
}

// NewValidatorSet builds a registry from an ordered validator list and
// the local node's own index, or WatchOnlyIndex if this node does not
// hold a validator slot.
func NewValidatorSet(nodes []NodeID, myIndex int) *ValidatorSet {
	cp := make([]NodeID, len(nodes))
	copy(cp, nodes)
	return &ValidatorSet{nodes: cp, myIndex: myIndex}
}

func (v *ValidatorSet) N() int { return len(v.nodes) }

func (v *ValidatorSet) Nodes() []NodeID { return v.nodes }

func (v *ValidatorSet) NodeAt(index uint8) (NodeID, bool) {
	if int(index) >= len(v.nodes) {
		return nil, false
	}
	return v.nodes[index], true
}

func (v *ValidatorSet) IndexOf(node NodeID) (int, bool) {
	for i, n := range v.nodes {
		if n.Equals(node) {
			return i, true
		}
	}
	return -1, false
}

func (v *ValidatorSet) MyIndex() int { return v.myIndex }

func (v *ValidatorSet) WatchOnly() bool { return v.myIndex == WatchOnlyIndex }
