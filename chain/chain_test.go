// Copyright 2026 The powchain Authors
// This file is part of the powchain library.
//
// The powchain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The powchain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the powchain library. If not, see <http://www.gnu.org/licenses/>.

package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// mineBlock builds a syntactically valid successor block to parent
// with a trivial proof search -- tests don't need real difficulty, so
// they pass difficulty 0 to this local helper, which still goes through
// HashBlock/MeetsDifficulty.
func mineBlock(t *testing.T, parent Block, ts int64, difficulty int) Block {
	t.Helper()
	txns := []Transaction{{
		Version: "1",
		Sender:  CoinbaseAddress,
		Receivers: []Receiver{
			{Address: "miner", Amount: BlockReward},
		},
	}}
	for nonce := 0; ; nonce++ {
		proof := string(rune('a' + nonce%26))
		for i := 0; i < nonce/26; i++ {
			proof += "x"
		}
		h := HashBlock(ts, parent.Hash, txns, proof)
		if MeetsDifficulty(h, difficulty) {
			return Block{
				Timestamp:    ts,
				LastHash:     parent.Hash,
				Transactions: txns,
				Proof:        proof,
				Hash:         h,
			}
		}
		if nonce > 2_000_000 {
			t.Fatalf("failed to mine test block at difficulty %d", difficulty)
		}
	}
}

func TestAddBlockFirstUnconfirmedChild(t *testing.T) {
	e := New(nil)
	b1 := mineBlock(t, Genesis, 1, 0)
	require.NoError(t, e.AddBlock(b1, false))
	require.Equal(t, Genesis, e.Tip())

	_, leaves := e.LastBlock(false)
	require.Equal(t, []Block{b1}, leaves)
}

func TestAddBlockOrphan(t *testing.T) {
	e := New(nil)
	orphan := Block{Timestamp: 1, LastHash: "nonexistent", Hash: "deadbeef", Transactions: []Transaction{{Sender: CoinbaseAddress}}}
	err := e.AddBlock(orphan, false)
	require.ErrorIs(t, err, ErrOrphaned)
	require.Len(t, e.Orphans(), 1)
	require.Equal(t, []Block{Genesis}, e.ConfirmedChain())
}

func TestAddBlockDuplicateIsNoOp(t *testing.T) {
	e := New(nil)
	b1 := mineBlock(t, Genesis, 1, 0)
	require.NoError(t, e.AddBlock(b1, false))
	err := e.AddBlock(b1, false)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestPromotionAtExactDepthWithUniqueChild(t *testing.T) {
	e := New(nil)
	parent := Genesis
	var blocks []Block
	// Depth counts edges from the tree's root, so reaching depth D
	// needs D+1 blocks in the unconfirmed chain (root plus D
	// descendants).
	for i := 0; i < ConfirmationDepth+1; i++ {
		b := mineBlock(t, parent, int64(i+1), 0)
		require.NoError(t, e.AddBlock(b, false))
		blocks = append(blocks, b)
		parent = b
	}
	require.Equal(t, blocks[0], e.Tip())
	require.Equal(t, 2, len(e.ConfirmedChain())) // genesis + promoted block
}

func TestNoPromotionWithTwoRootChildren(t *testing.T) {
	e := New(nil)
	// The tree has a single root chained off the confirmed tip; the two
	// forks are children of that root.
	root := mineBlock(t, Genesis, 1, 0)
	require.NoError(t, e.AddBlock(root, false))
	b1 := mineBlock(t, root, 2, 0)
	b2 := mineBlock(t, root, 3, 0)
	require.NoError(t, e.AddBlock(b1, false))
	require.NoError(t, e.AddBlock(b2, false))

	// extend both forks to reach depth D
	parent1, parent2 := b1, b2
	for i := 0; i < ConfirmationDepth-1; i++ {
		c1 := mineBlock(t, parent1, int64(10+i), 0)
		c2 := mineBlock(t, parent2, int64(20+i), 0)
		require.NoError(t, e.AddBlock(c1, false))
		require.NoError(t, e.AddBlock(c2, false))
		parent1, parent2 = c1, c2
	}

	require.Equal(t, Genesis, e.Tip(), "no promotion should happen with two root children")
	_, leaves := e.LastBlock(false)
	require.Len(t, leaves, 2)
}

func TestGetHeightUnconfirmedEqualsConfirmedWhenTreeEmpty(t *testing.T) {
	e := New(nil)
	require.Equal(t, e.Height(false), e.Height(true))
}

func TestOrphanRehoming(t *testing.T) {
	e := New(nil)
	b1 := mineBlock(t, Genesis, 1, 0)
	b2 := mineBlock(t, b1, 2, 0)

	// b2 arrives before b1: it should orphan, then rehome once b1 lands.
	err := e.AddBlock(b2, false)
	require.ErrorIs(t, err, ErrOrphaned)
	require.NoError(t, e.AddBlock(b1, false))
	require.Empty(t, e.Orphans(), "b2 should have been rehomed once b1 attached")

	_, leaves := e.LastBlock(false)
	require.Equal(t, []Block{b2}, leaves)
}

func TestEmptyMempoolCoinbaseOnlyBlockIsValid(t *testing.T) {
	b := Block{
		Timestamp: 1,
		LastHash:  Genesis.Hash,
		Transactions: []Transaction{{
			Sender:    CoinbaseAddress,
			Receivers: []Receiver{{Address: "solo-miner", Amount: BlockReward}},
		}},
		Proof: "0",
	}
	b.Hash = HashBlock(b.Timestamp, b.LastHash, b.Transactions, b.Proof)
	require.Len(t, b.Transactions, 1)
	require.True(t, b.Coinbase().IsCoinbase())
}
