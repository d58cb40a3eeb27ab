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

package miner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashline/powchain/chain"
)

type stubSigner struct {
	addr string
}

func (s stubSigner) Address() string { return s.addr }

func (s stubSigner) Sign(preimage []byte) (string, string, error) {
	return "sig", "pub", nil
}

type stubChainView struct {
	parent string
}

func (v stubChainView) MiningParent() string { return v.parent }

func TestMineEmptyMempoolProducesCoinbaseOnlyBlock(t *testing.T) {
	m := New("miner-addr", stubSigner{addr: "miner-addr"}, WithDifficulty(0), WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocks := make(chan chain.Block, 1)
	go func() {
		_ = m.Mine(ctx, stubChainView{parent: chain.Genesis.Hash}, func(_ context.Context, b chain.Block) error {
			blocks <- b
			cancel()
			return nil
		})
	}()

	select {
	case b := <-blocks:
		require.Len(t, b.Transactions, 1)
		require.True(t, b.Coinbase().IsCoinbase())
		require.Equal(t, chain.Genesis.Hash, b.LastHash)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not produce a block in time")
	}
}

func TestMineIncludesDrainedMempoolTxns(t *testing.T) {
	m := New("miner-addr", stubSigner{addr: "miner-addr"}, WithDifficulty(0), WithWorkers(2))
	m.AddTxn(chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 5}}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocks := make(chan chain.Block, 1)
	go func() {
		_ = m.Mine(ctx, stubChainView{parent: chain.Genesis.Hash}, func(_ context.Context, b chain.Block) error {
			blocks <- b
			cancel()
			return nil
		})
	}()

	select {
	case b := <-blocks:
		require.Len(t, b.Transactions, 2) // alice->bob + coinbase
		require.Equal(t, 0, m.MempoolLen())
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not produce a block in time")
	}
}

func TestAddTxnDedupByValue(t *testing.T) {
	m := New("miner-addr", stubSigner{addr: "miner-addr"})
	txn := chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 5}}}
	m.AddTxn(txn)
	m.AddTxn(txn)
	require.Equal(t, 1, m.MempoolLen())
}

func TestMineCancellationStopsBeforeNextRound(t *testing.T) {
	// Difficulty high enough that a single round won't finish
	// instantly, but cancellation must still be observed promptly.
	m := New("miner-addr", stubSigner{addr: "miner-addr"}, WithDifficulty(6), WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Mine(ctx, stubChainView{parent: chain.Genesis.Hash}, func(_ context.Context, b chain.Block) error {
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not stop after cancellation")
	}
}

func TestMineCancelledRoundRequeuesDrainedTxns(t *testing.T) {
	// Difficulty unreachable within the test window so the round is
	// guaranteed to be cancelled before sealing a block.
	m := New("miner-addr", stubSigner{addr: "miner-addr"}, WithDifficulty(64), WithWorkers(2))
	m.AddTxn(chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 5}}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Mine(ctx, stubChainView{parent: chain.Genesis.Hash}, func(_ context.Context, b chain.Block) error {
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not stop after cancellation")
	}

	require.Equal(t, 1, m.MempoolLen(), "cancelled round must requeue its drained transaction")
}

func TestAddTxnRejectsInFlightDuplicate(t *testing.T) {
	m := New("miner-addr", stubSigner{addr: "miner-addr"})
	txn := chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 5}}}

	m.drain() // no-op, but exercises the zero-length path
	drained := m.drain()
	require.Empty(t, drained)

	m.AddTxn(txn)
	m.drain() // marks txn in-flight and removes it from the mempool

	m.AddTxn(txn)
	require.Equal(t, 0, m.MempoolLen(), "a transaction already in flight must not be re-admitted")
}
