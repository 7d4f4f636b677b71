// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocZeroesFixedObject(t *testing.T) {
	m := mustInit(t)
	typ, err := m.RegisterType("point", 16, nil, nil, nil)
	require.NoError(t, err)
	snap := m.EnterScope()
	a, err := m.Alloc(typ)
	require.NoError(t, err)
	_, obj := m.typeAndBytesOf(a)
	for _, b := range obj {
		require.Zero(t, b)
	}
	m.ExitScope(snap)
}

func TestAllocVariableRejectsOversizeFixedType(t *testing.T) {
	m := mustInit(t)
	typ, err := m.RegisterType("fixed16", 16, nil, nil, nil)
	require.NoError(t, err)
	require.Panics(t, func() {
		m.AllocVariable(typ, 32)
	})
}

func TestBlobPicksSmallestBucket(t *testing.T) {
	m := mustInit(t)
	snap := m.EnterScope()
	a, err := m.Blob(10)
	require.NoError(t, err)
	require.Equal(t, 16, m.SizeOf(a))
	m.ExitScope(snap)
}

func TestBlobOverBucketsUsesVariableType(t *testing.T) {
	m := mustInit(t)
	snap := m.EnterScope()
	a, err := m.Blob(1000)
	require.NoError(t, err)
	require.Equal(t, m.blobVarType, m.TypeOf(a))
	m.ExitScope(snap)
}

func TestStrDupRoundTrips(t *testing.T) {
	m := mustInit(t)
	snap := m.EnterScope()
	a, err := m.StrDup("hello")
	require.NoError(t, err)
	_, obj := m.typeAndBytesOf(a)
	require.Equal(t, "hello\x00", string(obj[:6]))
	m.ExitScope(snap)
}

func TestAllocFallsBackToSpillAboveBlockSize(t *testing.T) {
	m := mustInit(t)
	typ, err := m.RegisterType("big", BlockSize*2, nil, nil, nil)
	require.NoError(t, err)
	snap := m.EnterScope()
	a, err := m.Alloc(typ)
	require.NoError(t, err)
	require.False(t, m.blockHeap.contains(a))
	require.True(t, m.IsManaged(a))
	m.ExitScope(snap)
}
