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

// Package node composes the Chain Engine, an optional Miner, and an
// Overlay endpoint into one running peer: it owns startup/sync,
// post_block/post_txn gossip policy, and the request-verb handlers.
package node

// DefaultPort is the overlay listener's default port.
const DefaultPort = 11111

// dedupCacheSize bounds the recent-block and recent-transaction LRU
// sets that guard gossip against rebroadcast loops (spec.md §4.4).
const dedupCacheSize = 4096

// Config configures a Node at construction time.
type Config struct {
	// Port the overlay listener binds.
	Port int
	// BootstrapPeers are dialed at startup.
	BootstrapPeers []string
	// MinerAddress, if non-empty, starts a Miner paying rewards there.
	MinerAddress string
	// Difficulty overrides chain.Difficulty for the local miner, 0 to
	// use the package default.
	Difficulty int
	// MaxTxns overrides the miner's per-round mempool drain size, 0 to
	// use the package default.
	MaxTxns int
}
