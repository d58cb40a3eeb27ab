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

import "errors"

// Insertion outcomes. These are status values, never aborts: callers
// are expected to check them and move on (see spec §4.1, §7).
var (
	// ErrOrphaned is returned by AddBlock when the block finds no home:
	// with an empty fork tree, its LastHash does not match the confirmed
	// tip; otherwise, its LastHash matches no fork tree node.
	ErrOrphaned = errors.New("chain: block is orphaned, no known parent")

	// ErrDuplicate is returned when a block with the same hash is
	// already present in the confirmed chain, the fork tree, or the
	// orphan set. The second insert is a no-op.
	ErrDuplicate = errors.New("chain: block already present")

	// ErrHashMismatch is returned by a trusted (is_confirmed=true)
	// insert whose LastHash does not match the current tip.
	ErrHashMismatch = errors.New("chain: last_hash does not match confirmed tip")

	// ErrNotFound is returned by GetBlock when no block with the
	// given hash is in the confirmed chain or the fork tree. The orphan
	// set is not searched.
	ErrNotFound = errors.New("chain: block not found")
)
