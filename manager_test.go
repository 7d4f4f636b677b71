// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustInit(t *testing.T) *Manager {
	t.Helper()
	m, err := Init(InitOptions{NumPages: MinNumBlocks})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func TestInitShutdown(t *testing.T) {
	m := mustInit(t)
	require.True(t, m.initialized)
	require.False(t, m.InProgress())
	require.Equal(t, 0, m.noGCDepth)
}

func TestAddRootRemoveRootDedup(t *testing.T) {
	m := mustInit(t)
	base := len(m.roots.cells) // Init already registered the anchor-stack root
	c := &testCell{}
	m.AddRoot(c)
	m.AddRoot(c) // duplicate add is a no-op
	require.Len(t, m.roots.cells, base+1)
	m.RemoveRoot(c)
	require.Len(t, m.roots.cells, base)
}

type testCell struct{ a Addr }

func (c *testCell) Get() Addr { return c.a }

func TestBeginNoGCDefersCollection(t *testing.T) {
	m := mustInit(t)
	m.BeginNoGC(false)
	m.BeginNoGC(false)
	n := m.CollectNow()
	require.Equal(t, 0, n)
	require.True(t, m.collectRequested)
	m.EndNoGC()
	require.True(t, m.collectRequested) // still nested one level
	m.EndNoGC()
	require.False(t, m.collectRequested) // ran on the outermost EndNoGC
}

func TestIdleForcesCollectionAfterThreshold(t *testing.T) {
	m := mustInit(t)
	for i := 0; i < NumIdleCalls-1; i++ {
		m.Idle()
	}
	require.Equal(t, NumIdleCalls-1, m.idleCallsSinceCollect)
	m.Idle()
	require.Equal(t, 0, m.idleCallsSinceCollect) // CollectNow ran and reset the counter
}
