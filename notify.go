// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import "fmt"

// IsManaged reports whether a is currently a live managed address, in
// either heap (original_source's mm_ismanaged).
func (m *Manager) IsManaged(a Addr) bool {
	m.lock()
	defer m.unlock()
	if m.blockHeap.contains(a) {
		hunk := m.blockHeap.bitmap.hunk(a)
		return m.blockHeap.bitmap.isManaged(hunk)
	}
	_, ok := m.managed.findManaged(a)
	return ok
}

// Manage imports a Go-allocated buffer into the spill index as an
// untraced, untyped object (original_source's mm_manage). This is an
// ownership transfer: the manager will hold backing alive until the
// next collection in which it is found unreachable, will never trace
// through it (it is recorded with TypeUndefined, so the mark phase never
// invokes a mark callback over it), and the caller must not retain any
// other strong reference that would keep backing alive independently of
// the manager's own root graph, or it will outlive what the manager
// believes is its lifetime. backing's address must already be
// MinHunkSize-aligned; Manage never copies it to re-align, since that
// would defeat the point of importing a caller's own buffer.
func (m *Manager) Manage(backing []byte) (Addr, error) {
	m.lock()
	defer m.unlock()
	addr := addrOfBytes(backing)
	if addr == nullAddr {
		return nullAddr, fmt.Errorf("libcmm: Manage: empty buffer")
	}
	if !addr.aligned() {
		return nullAddr, fmt.Errorf("libcmm: Manage: address %v is not %d-byte aligned", addr, MinHunkSize)
	}
	if m.blockHeap.contains(addr) {
		return nullAddr, fmt.Errorf("libcmm: Manage: %v falls inside the block heap; import only host-allocated memory", addr)
	}
	e := spillEntry{tagged: addr | spillBlob, typ: TypeUndefined, size: len(backing), backing: backing}
	m.managed.addManaged(e)
	m.chargeVolume(len(backing))
	return addr, nil
}

// Notify arms or disarms reclamation notification on a (original_source's
// mm_notify). Arming requires a notify callback to have been supplied at
// Init; the callback fires once, from the sweeper, the cycle a finds it
// unreachable. a must be a managed address: passing an unmanaged one is a
// programmer error and aborts (spec section 7), matching every other
// unmanaged-pointer misuse (mark, RemoveRoot).
func (m *Manager) Notify(a Addr, on bool) error {
	m.lock()
	defer m.unlock()
	if on && m.notifyCB == nil {
		return fmt.Errorf("libcmm: Notify: no notify callback was supplied to Init")
	}
	if m.blockHeap.contains(a) {
		hunk := m.blockHeap.bitmap.hunk(a)
		if !m.blockHeap.bitmap.isManaged(hunk) {
			m.fatalf("Notify: %v is not a managed address", a)
		}
		if on {
			m.blockHeap.bitmap.setNotify(hunk)
		} else {
			m.blockHeap.bitmap.clearNotify(hunk)
		}
		return nil
	}
	e, ok := m.managed.findManaged(a)
	if !ok {
		m.fatalf("Notify: %v is not a managed address", a)
	}
	if on {
		e.setNotify()
	} else {
		e.clearNotify()
	}
	return nil
}

// TypeOf returns a's registered type, or TypeUndefined if a is not
// managed or was imported via Manage (original_source's mm_typeof).
func (m *Manager) TypeOf(a Addr) TypeID {
	m.lock()
	defer m.unlock()
	if m.blockHeap.contains(a) {
		if !m.blockHeap.bitmap.isManaged(m.blockHeap.bitmap.hunk(a)) {
			return TypeUndefined
		}
		i := m.blockHeap.blockIndex(a)
		return m.blockHeap.blockrecs[i].typ
	}
	if e, ok := m.managed.findManaged(a); ok {
		return e.typ
	}
	return TypeUndefined
}

// SizeOf returns a's size in bytes, or 0 for an unmanaged address.
func (m *Manager) SizeOf(a Addr) int {
	m.lock()
	defer m.unlock()
	if m.blockHeap.contains(a) {
		if !m.blockHeap.bitmap.isManaged(m.blockHeap.bitmap.hunk(a)) {
			return 0
		}
		i := m.blockHeap.blockIndex(a)
		rec := m.typeRec(m.blockHeap.blockrecs[i].typ)
		if rec == nil {
			return 0
		}
		return rec.size
	}
	if e, ok := m.managed.findManaged(a); ok {
		return e.size
	}
	return 0
}
