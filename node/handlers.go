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
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hashline/powchain/chain"
	"github.com/hashline/powchain/overlay"
)

// commandTable builds the static get/post registry dispatched by the
// Overlay on every inbound envelope (spec.md §4.3's command table,
// §4.4's request verbs and gossip receivers).
func (n *Node) commandTable() overlay.CommandTable {
	return overlay.CommandTable{
		"get_block":  {Get: n.handleGetBlock},
		"get_blocks": {Get: n.handleGetBlocks},
		"get_nodes":  {Get: n.handleGetNodes},
		"get_height": {Get: n.handleGetHeight},
		"get_hash":   {Get: n.handleGetHash},
		"post_block": {Post: n.handlePostBlock},
		"post_txn":   {Post: n.handlePostTxn},
	}
}

func (n *Node) handleGetBlock(_ context.Context, params map[string]any) (map[string]any, error) {
	var p struct {
		Hash   string `json:"hash"`
		Height *int   `json:"height"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	switch {
	case p.Hash != "":
		b, err := n.engine.GetBlock(p.Hash)
		if err != nil {
			return nil, errors.New("block not found")
		}
		return map[string]any{"block": b}, nil
	case p.Height != nil:
		confirmed := n.engine.ConfirmedChain()
		if *p.Height < 0 || *p.Height >= len(confirmed) {
			return nil, errors.New("block not found")
		}
		return map[string]any{"block": confirmed[*p.Height]}, nil
	default:
		return nil, errors.New("get_block: requires hash or height")
	}
}

func (n *Node) handleGetBlocks(_ context.Context, params map[string]any) (map[string]any, error) {
	var p struct {
		Hashes      []string `json:"hashes"`
		StartHeight *int     `json:"start_height"`
		EndHeight   *int     `json:"end_height"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	confirmed := n.engine.ConfirmedChain()
	var out []chain.Block
	switch {
	case len(p.Hashes) > 0:
		for _, h := range p.Hashes {
			if b, err := n.engine.GetBlock(h); err == nil {
				out = append(out, b)
			}
		}
	case p.StartHeight != nil && p.EndHeight != nil:
		start, end := *p.StartHeight, *p.EndHeight
		if start < 0 {
			start = 0
		}
		if end > len(confirmed) {
			end = len(confirmed)
		}
		if start <= end {
			out = confirmed[start:end]
		}
	default:
		out = confirmed
	}
	return map[string]any{"blocks": out}, nil
}

func (n *Node) handleGetNodes(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{"outbound": n.overlay.Outbound()}, nil
}

func (n *Node) handleGetHeight(_ context.Context, params map[string]any) (map[string]any, error) {
	var p struct {
		Unconfirmed bool `json:"unconfirmed"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return map[string]any{"height": n.engine.Height(p.Unconfirmed)}, nil
}

func (n *Node) handleGetHash(_ context.Context, params map[string]any) (map[string]any, error) {
	var p struct {
		Height *int `json:"height"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	confirmed := n.engine.ConfirmedChain()
	idx := len(confirmed) - 1
	if p.Height != nil {
		idx = *p.Height
	}
	if idx < 0 || idx >= len(confirmed) {
		return nil, errors.New("block not found")
	}
	return map[string]any{"hash": confirmed[idx].Hash}, nil
}

// handlePostBlock is the `_post_block` receiver of spec.md §4.4: on an
// unseen hash, fetch the full block from the announcing peer, insert
// it, and re-broadcast if it advanced our confirmed tip.
func (n *Node) handlePostBlock(ctx context.Context, from *overlay.PeerConnection, params map[string]any) (map[string]any, error) {
	var p struct {
		Hash string `json:"hash"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Hash == "" {
		return nil, errors.New("post_block: missing hash")
	}
	if n.recentBlocks.Contains(p.Hash) {
		return nil, nil
	}
	if _, err := n.engine.GetBlock(p.Hash); err == nil {
		n.recentBlocks.Add(p.Hash, struct{}{})
		return nil, nil
	}
	n.recentBlocks.Add(p.Hash, struct{}{})

	replies, err := n.overlay.Request(ctx, overlay.Envelope{
		Type: overlay.TypeGet,
		Data: map[string]any{"command": "get_block", "hash": p.Hash},
	}, overlay.ModeSingle, from)
	if err != nil {
		n.logger.Warn().Err(err).Str("hash", p.Hash).Msg("failed to fetch announced block")
		return nil, nil
	}

	block, err := decodeBlock(replies[0].Envelope.Data["block"])
	if err != nil {
		n.logger.Warn().Err(err).Str("hash", p.Hash).Msg("malformed get_block reply")
		return nil, nil
	}

	beforeTip := n.engine.Tip().Hash
	if err := n.engine.AddBlock(block, false); err != nil {
		n.logger.Info().Err(err).Str("hash", p.Hash).Msg("post_block insertion did not confirm a new block")
		return nil, nil
	}
	if newTip := n.engine.Tip().Hash; newTip != beforeTip {
		if err := n.engine.Save(); err != nil {
			n.logger.Warn().Err(err).Msg("persistence failure after accepting gossiped block")
		}
		// Re-announce the chain's new confirmed tip, not block.Hash: a
		// single accepted insertion can confirm a block D deep in the
		// fork tree rather than the one just received, and peers only
		// need to hear about the tip that actually advanced.
		n.broadcastBlockHash(newTip)
	}
	return nil, nil
}

// handlePostTxn receives a gossiped transaction: unseen transactions are
// fed to the local miner's mempool (if any) and re-broadcast
// unconditionally.
func (n *Node) handlePostTxn(_ context.Context, _ *overlay.PeerConnection, params map[string]any) (map[string]any, error) {
	var p struct {
		Txn chain.Transaction `json:"txn"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	key := txnKey(p.Txn)
	if n.recentTxns.Contains(key) {
		return nil, nil
	}
	n.recentTxns.Add(key, struct{}{})
	if n.miner != nil {
		n.miner.AddTxn(p.Txn)
	}
	n.broadcastTxn(p.Txn)
	return nil, nil
}

func decodeParams(data map[string]any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func decodeBlock(v any) (chain.Block, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return chain.Block{}, err
	}
	var b chain.Block
	err = json.Unmarshal(raw, &b)
	return b, err
}

func decodeBlockList(v any) ([]chain.Block, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var blocks []chain.Block
	err = json.Unmarshal(raw, &blocks)
	return blocks, err
}
