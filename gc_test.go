// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func markFirstChild(mk *Marker, obj []byte) {
	mk.Mark(Addr(binary.LittleEndian.Uint64(obj[0:8])))
}

// TestUnreachableReclaimed covers spec.md section 8's "unreachable tree"
// scenario: an object anchored only for the duration of its allocating
// scope is reclaimed once that scope exits and no root reaches it.
func TestUnreachableReclaimed(t *testing.T) {
	m := mustInit(t)
	typ, err := m.RegisterType("leaf", 16, nil, nil, nil)
	require.NoError(t, err)

	snap := m.EnterScope()
	a, err := m.Alloc(typ)
	require.NoError(t, err)
	m.ExitScope(snap)

	require.True(t, m.IsManaged(a))
	n := m.CollectNow()
	require.GreaterOrEqual(t, n, 1)
	require.False(t, m.IsManaged(a))
}

// TestRootedChainSurvives covers spec.md section 8's "rooted chain"
// scenario: a parent reachable from a root keeps its marked child alive
// across collections, and both are reclaimed once the root is removed.
func TestRootedChainSurvives(t *testing.T) {
	m := mustInit(t)
	typ, err := m.RegisterType("node", 16, nil, markFirstChild, nil)
	require.NoError(t, err)

	snap := m.EnterScope()
	child, err := m.Alloc(typ)
	require.NoError(t, err)
	parent, err := m.Alloc(typ)
	require.NoError(t, err)
	_, pobj := m.typeAndBytesOf(parent)
	binary.LittleEndian.PutUint64(pobj[0:8], uint64(child))
	root := &testCell{a: parent}
	m.AddRoot(root)
	m.ExitScope(snap)

	m.CollectNow()
	require.True(t, m.IsManaged(parent))
	require.True(t, m.IsManaged(child))

	m.RemoveRoot(root)
	m.CollectNow()
	require.False(t, m.IsManaged(parent))
	require.False(t, m.IsManaged(child))
}

// TestFinalizerResurrectionRunsOnce covers spec.md section 8's finalizer
// scenario: a finalizer that declines reclamation postpones it exactly
// one cycle and is never invoked a second time.
func TestFinalizerResurrectionRunsOnce(t *testing.T) {
	m := mustInit(t)
	calls := 0
	finalize := func(obj []byte) bool {
		calls++
		return calls > 1
	}
	typ, err := m.RegisterType("withFinalizer", 8, nil, nil, finalize)
	require.NoError(t, err)

	snap := m.EnterScope()
	a, err := m.Alloc(typ)
	require.NoError(t, err)
	m.ExitScope(snap)

	m.CollectNow()
	require.Equal(t, 1, calls)
	require.True(t, m.IsManaged(a)) // resurrected: reclamation postponed

	m.CollectNow()
	require.Equal(t, 1, calls) // finalizer never runs twice
	require.False(t, m.IsManaged(a))
}

// TestNotifyFiresOnReclamation covers spec.md section 8's notify
// scenario.
func TestNotifyFiresOnReclamation(t *testing.T) {
	var notified []Addr
	m, err := Init(InitOptions{
		NumPages: MinNumBlocks,
		Notify:   func(a Addr) { notified = append(notified, a) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })

	typ, err := m.RegisterType("watched", 8, nil, nil, nil)
	require.NoError(t, err)
	snap := m.EnterScope()
	a, err := m.Alloc(typ)
	require.NoError(t, err)
	m.ExitScope(snap)
	require.NoError(t, m.Notify(a, true))

	m.CollectNow()
	require.Equal(t, []Addr{a}, notified)
}

// TestMarkStackOverflowRecovers exercises spec.md section 4.4 step 4's
// overflow-recovery path on a tiny mark stack: a long rooted chain forces
// at least one overflow and rescan, and the whole chain must still
// survive the collection.
func TestMarkStackOverflowRecovers(t *testing.T) {
	m, err := Init(InitOptions{NumPages: MinNumBlocks, MarkStackCap: 4})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })

	typ, err := m.RegisterType("chain", 16, nil, markFirstChild, nil)
	require.NoError(t, err)

	const chainLen = 64
	snap := m.EnterScope()
	var head Addr
	for i := 0; i < chainLen; i++ {
		a, err := m.Alloc(typ)
		require.NoError(t, err)
		if head != nullAddr {
			_, obj := m.typeAndBytesOf(a)
			binary.LittleEndian.PutUint64(obj[0:8], uint64(head))
		}
		head = a
	}
	root := &testCell{a: head}
	m.AddRoot(root)
	m.ExitScope(snap)

	m.CollectNow()
	cur := head
	count := 0
	for cur != nullAddr {
		require.True(t, m.IsManaged(cur))
		_, obj := m.typeAndBytesOf(cur)
		cur = Addr(binary.LittleEndian.Uint64(obj[0:8]))
		count++
	}
	require.Equal(t, chainLen, count)
}
