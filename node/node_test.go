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

package node

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hashline/powchain/chain"
)

type stubSigner struct{ addr string }

func (s stubSigner) Address() string { return s.addr }
func (s stubSigner) Sign(preimage []byte) (string, string, error) {
	return "sig", "pub", nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestEngine(t *testing.T) *chain.Engine {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "chaindata")
	store, err := chain.OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return chain.New(store)
}

func TestTwoNodeCatchUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	portA, portB := 18801, 18802
	engineA := newTestEngine(t)
	nodeA, err := New(Config{Port: portA, MinerAddress: "miner-a", Difficulty: 0}, engineA, stubSigner{addr: "miner-a"})
	require.NoError(t, err)
	require.NoError(t, nodeA.Start(ctx))
	defer nodeA.Stop(context.Background())

	waitFor(t, 10*time.Second, func() bool { return engineA.Height(false) >= 4 })

	engineB := newTestEngine(t)
	nodeB, err := New(Config{
		Port:           portB,
		BootstrapPeers: []string{fmt.Sprintf("ws://127.0.0.1:%d/", portA)},
	}, engineB, nil)
	require.NoError(t, err)
	require.NoError(t, nodeB.Start(ctx))
	defer nodeB.Stop(context.Background())

	waitFor(t, 10*time.Second, func() bool {
		return len(engineB.ConfirmedChain()) == len(engineA.ConfirmedChain())
	})
	require.Equal(t, engineA.ConfirmedChain(), engineB.ConfirmedChain())
	require.Equal(t, engineA.Height(false), engineB.Height(false))
}

func TestHandleGetHeightAndGetBlock(t *testing.T) {
	engine := newTestEngine(t)
	n, err := New(Config{Port: 0}, engine, nil)
	require.NoError(t, err)

	reply, err := n.handleGetHeight(context.Background(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, 1, reply["height"])

	reply, err = n.handleGetBlock(context.Background(), map[string]any{"hash": chain.Genesis.Hash})
	require.NoError(t, err)
	require.Equal(t, chain.Genesis, reply["block"])

	_, err = n.handleGetBlock(context.Background(), map[string]any{"hash": "nonexistent"})
	require.Error(t, err)
}

func TestHandlePostBlockIgnoresAlreadyKnownHash(t *testing.T) {
	engine := newTestEngine(t)
	n, err := New(Config{Port: 0}, engine, nil)
	require.NoError(t, err)

	reply, err := n.handlePostBlock(context.Background(), nil, map[string]any{"hash": chain.Genesis.Hash})
	require.NoError(t, err)
	require.Nil(t, reply)
	require.Equal(t, 1, n.engine.Height(false))
}

func TestHandlePostTxnDedupAndMempoolFeed(t *testing.T) {
	engine := newTestEngine(t)
	n, err := New(Config{Port: 0, MinerAddress: "miner-a", Difficulty: 64}, engine, stubSigner{addr: "miner-a"})
	require.NoError(t, err)

	txn := chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 1}}}
	params := map[string]any{"txn": map[string]any{
		"version":   txn.Version,
		"sender":    txn.Sender,
		"receivers": []map[string]any{{"address": "bob", "amount": float64(1)}},
	}}

	_, err = n.handlePostTxn(context.Background(), nil, params)
	require.NoError(t, err)
	require.Equal(t, 1, n.miner.MempoolLen())

	_, err = n.handlePostTxn(context.Background(), nil, params)
	require.NoError(t, err)
	require.Equal(t, 1, n.miner.MempoolLen(), "duplicate post_txn must not be re-added")
}

func TestSubmitTxnFeedsMinerAndBroadcasts(t *testing.T) {
	engine := newTestEngine(t)
	n, err := New(Config{Port: 0, MinerAddress: "miner-a", Difficulty: 64}, engine, stubSigner{addr: "miner-a"})
	require.NoError(t, err)

	n.SubmitTxn(chain.Transaction{Version: "1", Sender: "alice", Receivers: []chain.Receiver{{Address: "bob", Amount: 1}}})
	require.Equal(t, 1, n.miner.MempoolLen())
}

func TestCommandTableCoversAllRequestVerbs(t *testing.T) {
	engine := newTestEngine(t)
	n, err := New(Config{Port: 0}, engine, nil)
	require.NoError(t, err)

	table := n.commandTable()
	for _, get := range []string{"get_block", "get_blocks", "get_nodes", "get_height", "get_hash"} {
		entry, ok := table[get]
		require.Truef(t, ok, "missing get handler for %s", get)
		require.NotNil(t, entry.Get)
	}
	for _, post := range []string{"post_block", "post_txn"} {
		entry, ok := table[post]
		require.Truef(t, ok, "missing post handler for %s", post)
		require.NotNil(t, entry.Post)
	}
}
