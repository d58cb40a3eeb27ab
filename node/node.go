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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hashline/powchain/chain"
	"github.com/hashline/powchain/miner"
	"github.com/hashline/powchain/overlay"
)

// Node composes one Chain Engine, one Overlay endpoint, and an optional
// Miner, and implements the gossip and sync policy that ties them
// together. It mirrors klaytn's node/service.go composition role,
// collapsed to a single concrete service since this design has exactly
// one (spec.md §4.4).
type Node struct {
	cfg     Config
	engine  *chain.Engine
	miner   *miner.Miner
	overlay *overlay.Overlay

	recentBlocks *lru.Cache
	recentTxns   *lru.Cache

	logger zerolog.Logger
}

// New builds a Node around engine. signer is required iff
// cfg.MinerAddress is set.
func New(cfg Config, engine *chain.Engine, signer miner.Signer) (*Node, error) {
	recentBlocks, err := lru.New(dedupCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "node: allocate recent-blocks cache")
	}
	recentTxns, err := lru.New(dedupCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "node: allocate recent-txns cache")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	n := &Node{
		cfg:          cfg,
		engine:       engine,
		recentBlocks: recentBlocks,
		recentTxns:   recentTxns,
		logger:       log.With().Str("module", "node").Logger(),
	}

	if cfg.MinerAddress != "" {
		if signer == nil {
			return nil, errors.New("node: miner address configured without a signer")
		}
		var opts []miner.Option
		if cfg.Difficulty > 0 {
			opts = append(opts, miner.WithDifficulty(cfg.Difficulty))
		}
		if cfg.MaxTxns > 0 {
			opts = append(opts, miner.WithMaxTxns(cfg.MaxTxns))
		}
		n.miner = miner.New(cfg.MinerAddress, signer, opts...)
	}

	n.overlay = overlay.New(n.commandTable())
	return n, nil
}

// Start brings up the overlay listener, connects to the configured
// bootstrap peers, loads (or syncs) the chain, and, if a miner is
// configured, starts its mine loop (spec.md §4.4 startup sequence).
func (n *Node) Start(ctx context.Context) error {
	if err := n.overlay.Start(ctx, n.cfg.Port, nil); err != nil {
		return err
	}
	for _, addr := range n.cfg.BootstrapPeers {
		if _, err := n.overlay.Connect(ctx, addr); err != nil {
			n.logger.Warn().Err(err).Str("addr", addr).Msg("failed to connect to bootstrap peer")
		}
	}

	loaded, err := n.engine.Load()
	if err != nil {
		return errors.Wrap(err, "node: load chain from disk")
	}
	if !loaded {
		if err := n.syncFromPeers(ctx); err != nil {
			n.logger.Warn().Err(err).Msg("initial sync from peers failed, starting from genesis")
		}
	}

	if n.miner != nil {
		go func() {
			if err := n.miner.Mine(ctx, n.engine, n.onMinedBlock); err != nil {
				n.logger.Error().Err(err).Msg("miner loop exited")
			}
		}()
	}
	return nil
}

// Stop disconnects every peer and shuts down the overlay listener.
func (n *Node) Stop(ctx context.Context) error {
	return n.overlay.Stop(ctx)
}

// Engine exposes the underlying Chain Engine for read-only inspection
// (CLI status commands, tests).
func (n *Node) Engine() *chain.Engine { return n.engine }

// SubmitTxn injects a locally-originated transaction: it feeds the
// local miner's mempool (if any) and gossips it to peers, following the
// same dedup path as a received post_txn.
func (n *Node) SubmitTxn(t chain.Transaction) {
	key := txnKey(t)
	if n.recentTxns.Contains(key) {
		return
	}
	n.recentTxns.Add(key, struct{}{})
	if n.miner != nil {
		n.miner.AddTxn(t)
	}
	n.broadcastTxn(t)
}

// syncFromPeers implements spec.md §4.4 step 2: ask every connected
// peer its height, pick the tallest, fetch its full block list, and
// trust-adopt it.
func (n *Node) syncFromPeers(ctx context.Context) error {
	peers := n.overlay.OutboundPeers()
	if len(peers) == 0 {
		return nil
	}

	heights, err := n.overlay.Request(ctx, overlay.Envelope{
		Type: overlay.TypeGet,
		Data: map[string]any{"command": "get_height"},
	}, overlay.ModeAll, nil)
	if err != nil {
		return err
	}

	var tallest *overlay.PeerConnection
	best := -1
	for _, reply := range heights {
		h, ok := reply.Envelope.Data["height"].(float64)
		if !ok {
			continue
		}
		if int(h) > best {
			best = int(h)
			tallest = reply.Peer
		}
	}
	if tallest == nil {
		return errors.New("node: no peer reported a usable height")
	}

	replies, err := n.overlay.Request(ctx, overlay.Envelope{
		Type: overlay.TypeGet,
		Data: map[string]any{"command": "get_blocks"},
	}, overlay.ModeSingle, tallest)
	if err != nil {
		return err
	}
	blocksRaw, _ := replies[0].Envelope.Data["blocks"]
	blocks, err := decodeBlockList(blocksRaw)
	if err != nil {
		return errors.Wrap(err, "node: decode synced blocks")
	}

	return n.engine.ReplaceChain(blocks)
}

// onMinedBlock is the Miner's BlockHandler: it inserts the sealed block
// into the Chain Engine and gossips it onward on success.
func (n *Node) onMinedBlock(ctx context.Context, b chain.Block) error {
	if err := n.engine.AddBlock(b, false); err != nil {
		n.logger.Warn().Err(err).Str("hash", b.Hash).Msg("mined block was rejected by the chain engine")
		return nil
	}
	n.recentBlocks.Add(b.Hash, struct{}{})
	if err := n.engine.Save(); err != nil {
		n.logger.Warn().Err(err).Msg("persistence failure after mining a block")
	}
	n.broadcastBlockHash(b.Hash)
	return nil
}

func (n *Node) broadcastBlockHash(hash string) {
	n.overlay.Broadcast(overlay.Envelope{
		Type: overlay.TypePost,
		Data: map[string]any{"command": "post_block", "hash": hash},
	})
}

func (n *Node) broadcastTxn(t chain.Transaction) {
	n.overlay.Broadcast(overlay.Envelope{
		Type: overlay.TypePost,
		Data: map[string]any{"command": "post_txn", "txn": t},
	})
}

// txnKey derives a stable dedup identity for a transaction. The core
// protocol has no intrinsic transaction ID (spec.md's Transaction
// carries no hash field of its own), so identity is the digest of its
// canonical JSON encoding.
func txnKey(t chain.Transaction) string {
	enc, _ := json.Marshal(t)
	sum := sha256.Sum256(enc)
	return hex.EncodeToString(sum[:])
}
