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

// forkHandle is a non-owning index into a forkTree's arena (spec §9:
// "arena of nodes indexed by integer handles ... parent_handle stored
// as a plain non-owning index"). The zero value is a valid handle (the
// arena's first node), so noHandle is the "absent" sentinel.
type forkHandle int

const noHandle forkHandle = -1

type forkNode struct {
	block     Block
	parent    forkHandle
	children  []forkHandle
	tombstone bool
}

// forkTree is the rooted, finitely-branching tree of unconfirmed
// blocks. Its root's last_hash matches the confirmed tip's hash.
// Children are added in arrival order; detachment tombstones a subtree
// and a compaction pass reclaims the arena once it holds at least 64
// entries and dead entries are at least as many as live ones.
type forkTree struct {
	arena []forkNode
	root  forkHandle
	live  int
}

func newForkTree() *forkTree {
	return &forkTree{root: noHandle}
}

func (t *forkTree) isEmpty() bool {
	return t.root == noHandle
}

func (t *forkTree) rootLastHash() (string, bool) {
	if t.isEmpty() {
		return "", false
	}
	return t.arena[t.root].block.LastHash, true
}

func (t *forkTree) setRoot(b Block) {
	t.root = t.newNode(b, noHandle)
}

func (t *forkTree) newNode(b Block, parent forkHandle) forkHandle {
	h := forkHandle(len(t.arena))
	t.arena = append(t.arena, forkNode{block: b, parent: parent})
	t.live++
	if parent != noHandle {
		t.arena[parent].children = append(t.arena[parent].children, h)
	}
	return h
}

// attach finds the live node whose block hash equals b.LastHash via
// depth-first search from the root and appends b as a new child in
// arrival order. It reports whether an attachment site was found.
func (t *forkTree) attach(b Block) bool {
	if t.isEmpty() {
		return false
	}
	site, ok := t.find(t.root, b.LastHash)
	if !ok {
		return false
	}
	t.newNode(b, site)
	return true
}

func (t *forkTree) find(start forkHandle, hash string) (forkHandle, bool) {
	if start == noHandle || t.arena[start].tombstone {
		return noHandle, false
	}
	n := &t.arena[start]
	if n.block.Hash == hash {
		return start, true
	}
	for _, c := range n.children {
		if h, ok := t.find(c, hash); ok {
			return h, true
		}
	}
	return noHandle, false
}

func (t *forkTree) findByHash(hash string) (Block, bool) {
	if t.isEmpty() {
		return Block{}, false
	}
	h, ok := t.find(t.root, hash)
	if !ok {
		return Block{}, false
	}
	return t.arena[h].block, true
}

func (t *forkTree) maxDepth(start forkHandle) int {
	n := &t.arena[start]
	best := 0
	for _, c := range n.children {
		if t.arena[c].tombstone {
			continue
		}
		if d := 1 + t.maxDepth(c); d > best {
			best = d
		}
	}
	return best
}

// depth returns the longest root-to-leaf path length of the whole
// tree, or -1 if the tree is empty.
func (t *forkTree) depth() int {
	if t.isEmpty() {
		return -1
	}
	return t.maxDepth(t.root)
}

func (t *forkTree) liveChildren(h forkHandle) []forkHandle {
	var out []forkHandle
	for _, c := range t.arena[h].children {
		if !t.arena[c].tombstone {
			out = append(out, c)
		}
	}
	return out
}

func (t *forkTree) rootChildren() []Block {
	if t.isEmpty() {
		return nil
	}
	var out []Block
	for _, c := range t.liveChildren(t.root) {
		out = append(out, t.arena[c].block)
	}
	return out
}

// prune discards every direct child of the root whose subtree's max
// depth is more than delta shorter than the tree's longest path.
func (t *forkTree) prune(delta int) {
	if t.isEmpty() {
		return
	}
	longest := t.maxDepth(t.root)
	for _, c := range t.liveChildren(t.root) {
		if longest-t.maxDepth(c) > delta {
			t.detach(c)
		}
	}
	t.maybeCompact()
}

func (t *forkTree) detach(h forkHandle) {
	parent := t.arena[h].parent
	if parent != noHandle {
		siblings := t.arena[parent].children
		for i, s := range siblings {
			if s == h {
				t.arena[parent].children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	t.tombstoneSubtree(h)
}

func (t *forkTree) tombstoneSubtree(h forkHandle) {
	n := &t.arena[h]
	if n.tombstone {
		return
	}
	n.tombstone = true
	t.live--
	for _, c := range n.children {
		t.tombstoneSubtree(c)
	}
}

// maybeCompact rebuilds the arena once it holds at least 64 entries and
// dead entries are at least as many as live ones, reclaiming memory
// from long chains of detached forks.
func (t *forkTree) maybeCompact() {
	if t.isEmpty() || len(t.arena) < 64 || t.live*2 > len(t.arena) {
		return
	}
	t.compact()
}

func (t *forkTree) compact() {
	newArena := make([]forkNode, 0, t.live)
	var walk func(old forkHandle, newParent forkHandle) forkHandle
	walk = func(old forkHandle, newParent forkHandle) forkHandle {
		n := t.arena[old]
		nh := forkHandle(len(newArena))
		newArena = append(newArena, forkNode{block: n.block, parent: newParent})
		var children []forkHandle
		for _, c := range n.children {
			if t.arena[c].tombstone {
				continue
			}
			children = append(children, walk(c, nh))
		}
		newArena[nh].children = children
		return nh
	}
	newRoot := walk(t.root, noHandle)
	t.arena = newArena
	t.root = newRoot
	t.live = len(newArena)
}

// promoteOnce checks whether the root has exactly one live child and
// the tree's depth has reached depth. If so it promotes: the caller
// receives the old root's block to append to the confirmed chain, and
// the tree's root becomes the old root's sole child, detached from its
// former parent.
func (t *forkTree) promoteOnce(depth int) (Block, bool) {
	if t.isEmpty() {
		return Block{}, false
	}
	children := t.liveChildren(t.root)
	if len(children) != 1 || t.maxDepth(t.root) < depth {
		return Block{}, false
	}
	promoted := t.arena[t.root].block
	newRoot := children[0]
	t.arena[newRoot].parent = noHandle
	t.live--
	t.root = newRoot
	return promoted, true
}

// leaves returns the blocks at every live leaf, in depth-first arrival
// order. Several leaves can coexist when forks have not yet resolved.
func (t *forkTree) leaves() []Block {
	if t.isEmpty() {
		return nil
	}
	var out []Block
	var walk func(h forkHandle)
	walk = func(h forkHandle) {
		children := t.liveChildren(h)
		if len(children) == 0 {
			out = append(out, t.arena[h].block)
			return
		}
		for _, c := range children {
			walk(c)
		}
	}
	walk(t.root)
	return out
}

// deepestLeaf returns the leaf furthest from the root, breaking ties by
// depth-first arrival order.
func (t *forkTree) deepestLeaf() (Block, bool) {
	if t.isEmpty() {
		return Block{}, false
	}
	var best Block
	bestDepth := -1
	var walk func(h forkHandle, depth int)
	walk = func(h forkHandle, depth int) {
		children := t.liveChildren(h)
		if len(children) == 0 {
			if depth > bestDepth {
				bestDepth = depth
				best = t.arena[h].block
			}
			return
		}
		for _, c := range children {
			walk(c, depth+1)
		}
	}
	walk(t.root, 0)
	return best, true
}
