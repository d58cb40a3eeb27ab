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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chaindata")
	store, err := OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := New(store)
	parent := Genesis
	for i := 0; i < 10; i++ {
		b := mineBlock(t, parent, int64(i+1), 0)
		require.NoError(t, e.AddBlock(b, false))
		parent = b
	}
	require.NoError(t, e.Save())

	reloaded := New(store)
	loaded, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, e.ConfirmedChain(), reloaded.ConfirmedChain())

	// A subsequently mined block chains off the reloaded tip.
	next := mineBlock(t, reloaded.Tip(), 100, 0)
	require.Equal(t, reloaded.Tip().Hash, next.LastHash)
}

func TestLoadEmptyStoreReportsNothingLoaded(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chaindata")
	store, err := OpenStore(dir)
	require.NoError(t, err)
	defer store.Close()

	e := New(store)
	loaded, err := e.Load()
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, []Block{Genesis}, e.ConfirmedChain())
}
