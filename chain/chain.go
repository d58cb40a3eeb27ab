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
	"sync"

	"github.com/rcrowley/go-metrics"
)

var (
	blocksConfirmedCounter = metrics.NewRegisteredCounter("chain/blocksConfirmed", nil)
	blocksOrphanedCounter  = metrics.NewRegisteredCounter("chain/blocksOrphaned", nil)
	blocksDuplicateCounter = metrics.NewRegisteredCounter("chain/blocksDuplicate", nil)
)

// Engine holds the confirmed chain, the unconfirmed fork tree and the
// orphan set for one node, decides when a block becomes confirmed, and
// exposes tip/lookup operations. Every public method takes an internal
// read-write lock, so lookups (such as the Miner's MiningParent at the
// start of a round) are safe to run concurrently with insertions.
type Engine struct {
	mu sync.RWMutex

	confirmed []Block
	tree      *forkTree
	orphans   []Block

	// RetryOrphans controls whether a successful attachment re-scans
	// the orphan set for entries that can now be rehomed. Default on;
	// see spec §9 ("Orphan re-homing").
	RetryOrphans bool

	store *Store // nil if persistence is disabled (e.g. in tests)
}

// New returns an Engine seeded with the genesis block and backed by
// store. store may be nil to run purely in memory.
func New(store *Store) *Engine {
	return &Engine{
		confirmed:    []Block{Genesis},
		tree:         newForkTree(),
		RetryOrphans: true,
		store:        store,
	}
}

// AddBlock attempts to insert b. When confirmed is true (trusted replay
// during Load or initial sync), b is appended directly iff its
// LastHash matches the current tip's hash; otherwise it is rejected
// with ErrHashMismatch. Otherwise b is run through the fork tree
// insertion algorithm of spec §4.1: attach to a matching tree node (or
// become the tree's root if the tree is empty and b chains off the
// confirmed tip), else join the orphan set. A successful attachment
// runs prune and promotion.
func (e *Engine) AddBlock(b Block, confirmed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hashPresentLocked(b.Hash) {
		blocksDuplicateCounter.Inc(1)
		return ErrDuplicate
	}

	if confirmed {
		tip := e.confirmed[len(e.confirmed)-1]
		if b.LastHash != tip.Hash {
			return ErrHashMismatch
		}
		e.confirmed = append(e.confirmed, b)
		blocksConfirmedCounter.Inc(1)
		if e.store != nil {
			if err := e.store.appendBlock(b); err != nil {
				return err
			}
		}
		return nil
	}

	attached := e.attachLocked(b)
	if !attached {
		e.orphans = append(e.orphans, b)
		blocksOrphanedCounter.Inc(1)
		return ErrOrphaned
	}

	if e.RetryOrphans {
		e.rehomeOrphansLocked()
	}

	e.tree.prune(PruneSlack)
	e.promoteLocked()
	return nil
}

// attachLocked tries to place b into the tree (or make it the tree's
// root), returning whether it found a home.
func (e *Engine) attachLocked(b Block) bool {
	if e.tree.isEmpty() {
		tip := e.confirmed[len(e.confirmed)-1]
		if b.LastHash == tip.Hash {
			e.tree.setRoot(b)
			return true
		}
		return false
	}
	return e.tree.attach(b)
}

// rehomeOrphansLocked makes one pass over the orphan set, in set order,
// re-attempting attachment of every entry against the current tree.
// An orphan whose parent was rehomed earlier in the same pass is
// attached too; one whose parent is rehomed later in the pass stays in
// the set until the next successful AddBlock attachment runs another
// pass.
func (e *Engine) rehomeOrphansLocked() {
	if len(e.orphans) == 0 {
		return
	}
	remaining := e.orphans[:0:0]
	for _, o := range e.orphans {
		if e.attachLocked(o) {
			continue
		}
		remaining = append(remaining, o)
	}
	e.orphans = remaining
}

// promoteLocked implements the D-block confirmation horizon: while the
// tree root has exactly one child and the tree's depth is at least
// ConfirmationDepth, promote the root into the confirmed chain.
func (e *Engine) promoteLocked() {
	for {
		promoted, ok := e.tree.promoteOnce(ConfirmationDepth)
		if !ok {
			return
		}
		e.confirmed = append(e.confirmed, promoted)
		blocksConfirmedCounter.Inc(1)
		if e.store != nil {
			// A persistence failure here does not roll back the
			// in-memory chain and is not reported by AddBlock; a later
			// Save rewrites the store from the in-memory chain and
			// returns any store error to its caller.
			_ = e.store.appendBlock(promoted)
		}
	}
}

// hashPresentLocked reports whether hash already exists in exactly the
// union of confirmed chain, fork tree, and orphan set (invariant 3).
func (e *Engine) hashPresentLocked(hash string) bool {
	for _, b := range e.confirmed {
		if b.Hash == hash {
			return true
		}
	}
	if _, ok := e.tree.findByHash(hash); ok {
		return true
	}
	for _, b := range e.orphans {
		if b.Hash == hash {
			return true
		}
	}
	return false
}

// GetBlock searches the confirmed chain, then the fork tree, for a
// block with the given hash.
func (e *Engine) GetBlock(hash string) (Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, b := range e.confirmed {
		if b.Hash == hash {
			return b, nil
		}
	}
	if b, ok := e.tree.findByHash(hash); ok {
		return b, nil
	}
	return Block{}, ErrNotFound
}

// LastBlock returns the last confirmed block when confirmed is true, or
// the set of fork tree leaves (possibly several) when it is false.
func (e *Engine) LastBlock(confirmed bool) (Block, []Block) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if confirmed {
		return e.confirmed[len(e.confirmed)-1], nil
	}
	return Block{}, e.tree.leaves()
}

// Tip returns the last confirmed block. It is the read-only snapshot
// the Miner takes at the start of each round.
func (e *Engine) Tip() Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.confirmed[len(e.confirmed)-1]
}

// MiningParent returns the hash the Miner should build its next block
// on: the confirmed tip if the fork tree is empty, otherwise the
// deepest leaf's hash (ties broken by arrival order).
func (e *Engine) MiningParent() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if leaf, ok := e.tree.deepestLeaf(); ok {
		return leaf.Hash
	}
	return e.confirmed[len(e.confirmed)-1].Hash
}

// Height returns the length of the confirmed chain, optionally plus the
// longest unconfirmed path.
func (e *Engine) Height(includeUnconfirmed bool) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !includeUnconfirmed || e.tree.isEmpty() {
		return len(e.confirmed)
	}
	return len(e.confirmed) + e.tree.depth() + 1
}

// ConfirmedChain returns a copy of the confirmed chain, in order.
func (e *Engine) ConfirmedChain() []Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Block, len(e.confirmed))
	copy(out, e.confirmed)
	return out
}

// Orphans returns a copy of the current orphan set.
func (e *Engine) Orphans() []Block {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Block, len(e.orphans))
	copy(out, e.orphans)
	return out
}

// Save rewrites both persistence tables from scratch from the in-memory
// confirmed chain. It is a no-op if the engine has no store.
func (e *Engine) Save() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return nil
	}
	// Genesis is fixed and never persisted; every node derives it
	// locally (see genesis.go), so only blocks above index 0 are
	// written to the metadata/transactions tables.
	return e.store.save(e.confirmed[1:])
}

// ReplaceChain trust-inserts blocks into a fresh chain seeded with
// genesis and, if that succeeds for every block, swaps it into place
// and persists it. It is the initial-sync counterpart of Load: used
// when a node starts with an empty store and adopts a peer's chain
// wholesale.
//
// blocks may or may not carry a leading genesis block -- callers that
// fetch a peer's full confirmed chain (including genesis at index 0)
// and callers that already exclude it both work, since fresh is itself
// seeded with genesis and a leading block equal to it would otherwise
// collide as a duplicate.
func (e *Engine) ReplaceChain(blocks []Block) error {
	if len(blocks) > 0 && blocks[0].Hash == Genesis.Hash {
		blocks = blocks[1:]
	}

	fresh := New(nil)
	for _, b := range blocks {
		if err := fresh.AddBlock(b, true); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.confirmed = fresh.confirmed
	e.tree = newForkTree()
	e.orphans = nil
	e.mu.Unlock()

	return e.Save()
}

// Load reconstructs the confirmed chain from the engine's store by
// replaying every persisted block through AddBlock(confirmed=true)
// against a fresh chain seeded with genesis, then swaps it into place.
// It reports whether anything beyond genesis was loaded.
func (e *Engine) Load() (bool, error) {
	if e.store == nil {
		return false, nil
	}
	blocks, err := e.store.load()
	if err != nil {
		return false, err
	}

	fresh := New(nil)
	for _, b := range blocks {
		if err := fresh.AddBlock(b, true); err != nil {
			return false, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirmed = fresh.confirmed
	e.tree = newForkTree()
	e.orphans = nil
	return len(blocks) > 0, nil
}
