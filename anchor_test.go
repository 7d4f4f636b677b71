// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAnchorProtectsAcrossScope covers spec.md section 4.6: values
// anchored in a scope stay managed across a collection that runs before
// the scope exits, even with nothing else rooting them.
func TestAnchorProtectsAcrossScope(t *testing.T) {
	m := mustInit(t)
	snap := m.EnterScope()
	a, err := m.Blob(8)
	require.NoError(t, err)

	m.CollectNow()
	require.True(t, m.IsManaged(a))

	m.ExitScope(snap)
	m.CollectNow()
	require.False(t, m.IsManaged(a))
}

// TestAnchorGrowsChunkChain forces enough anchors into one scope to
// overflow the first chunk (spec.md section 4.6's "chunk full" path,
// which stashes the overflowing value in the header's temp slot while
// allocating a new chunk). Every value pushed, across both chunks, must
// still be protected until the scope exits.
func TestAnchorGrowsChunkChain(t *testing.T) {
	m := mustInit(t)
	snap := m.EnterScope()

	n := anchorSlotsPerChunk + 5
	addrs := make([]Addr, n)
	for i := 0; i < n; i++ {
		a, err := m.Blob(8)
		require.NoError(t, err)
		addrs[i] = a
	}
	require.NotEqual(t, snap.chunk, m.headerCurrentChunk())

	m.CollectNow()
	for _, a := range addrs {
		require.True(t, m.IsManaged(a))
	}

	m.ExitScope(snap)
	require.Equal(t, snap.chunk, m.headerCurrentChunk())
	m.CollectNow()
	for _, a := range addrs {
		require.False(t, m.IsManaged(a))
	}
}

// TestNestedScopesUnwindIndependently checks that an inner scope's
// anchors are released at its own ExitScope while the outer scope's
// anchor remains live.
func TestNestedScopesUnwindIndependently(t *testing.T) {
	m := mustInit(t)
	outerSnap := m.EnterScope()
	outer, err := m.Blob(8)
	require.NoError(t, err)

	innerSnap := m.EnterScope()
	inner, err := m.Blob(8)
	require.NoError(t, err)
	m.ExitScope(innerSnap)

	m.CollectNow()
	require.True(t, m.IsManaged(outer))
	require.False(t, m.IsManaged(inner))

	m.ExitScope(outerSnap)
	m.CollectNow()
	require.False(t, m.IsManaged(outer))
}
