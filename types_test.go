// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterTypeDedup(t *testing.T) {
	m := mustInit(t)
	t1, err := m.RegisterType("widget", 16, nil, nil, nil)
	require.NoError(t, err)
	t2, err := m.RegisterType("widget", 16, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, t1, t2)
}

func TestRegisterTypeMismatchFatals(t *testing.T) {
	m := mustInit(t)
	_, err := m.RegisterType("widget", 16, nil, nil, nil)
	require.NoError(t, err)
	require.Panics(t, func() {
		m.RegisterType("widget", 32, nil, nil, nil)
	})
}

func TestRegisterTypeRoundsToHunkSize(t *testing.T) {
	m := mustInit(t)
	id, err := m.RegisterType("tiny", 3, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, MinHunkSize, m.typeRec(id).size)
}

func TestRegisterTypeForbiddenWhileProfiling(t *testing.T) {
	m := mustInit(t)
	require.NoError(t, m.ProfileStart())
	require.Panics(t, func() {
		m.RegisterType("late", 8, nil, nil, nil)
	})
	m.ProfileStop()
}
