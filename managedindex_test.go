// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPoplarSizesForInvariants checks the general shape of the canonical
// decomposition (spec.md section 8 property 8) without hardcoding every
// value: sizes strictly decrease, each is of the form 2^k-1, and the
// poplars never claim more than n entries total.
func TestPoplarSizesForInvariants(t *testing.T) {
	for n := 0; n <= 64; n++ {
		sizes := poplarSizesFor(n)
		sum := 0
		prev := 1 << 30
		for _, s := range sizes {
			require.Less(t, s, prev, "poplar sizes must strictly decrease for n=%d", n)
			prev = s
			require.Zero(t, (s+1)&s, "size %d must be 2^k-1 for n=%d", s, n)
			sum += s
		}
		require.LessOrEqual(t, sum, n)
	}
}

func TestPoplarSizesForExactPowers(t *testing.T) {
	require.Nil(t, poplarSizesFor(0))
	require.Equal(t, []int{1}, poplarSizesFor(1))
	require.Equal(t, []int{3}, poplarSizesFor(3))
	require.Equal(t, []int{7}, poplarSizesFor(7))
	require.Equal(t, []int{7, 3}, poplarSizesFor(10))
}

func TestManagedIndexFindAfterChurn(t *testing.T) {
	x := newManagedIndex()
	var addrs []Addr
	for i := 0; i < 50; i++ {
		a := Addr((i + 1) * MinHunkSize)
		x.addManaged(spillEntry{tagged: a, typ: TypeID(i)})
		addrs = append(addrs, a)
	}
	x.updateManK()
	x.sortAllPoplars()
	for i, a := range addrs {
		e, ok := x.findManaged(a)
		require.True(t, ok)
		require.Equal(t, TypeID(i), e.typ)
	}
	_, ok := x.findManaged(Addr(999999))
	require.False(t, ok)
}

func TestManagedIndexCompactDropsObsolete(t *testing.T) {
	x := newManagedIndex()
	for i := 0; i < 10; i++ {
		e := spillEntry{tagged: Addr((i + 1) * MinHunkSize), typ: TypeID(i), backing: []byte{0}}
		if i%2 == 0 {
			e.backing = nil
			e.setLiveOrObsolete()
		}
		x.addManaged(e)
	}
	x.compactManaged()
	require.Len(t, x.entries, 5)
	for _, e := range x.entries {
		require.NotNil(t, e.backing)
	}
}
