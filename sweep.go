// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Sweeper (spec.md section 4.5). Grounded on
// _examples/other_examples/e59ce5bb_..._mgcsweep.go's two-pass shape
// (span sweep, then the reclaim-vs-resurrect branch).

// sweep runs both sweep passes and returns the number of objects
// reclaimed, the return value of CollectNow (spec.md section 6).
func (m *Manager) sweep() int {
	reclaimed := m.sweepBlockHeap()
	reclaimed += m.sweepSpill()
	return reclaimed
}

// sweepBlockHeap is spec.md section 4.5's block-heap pass: for every
// managed hunk, clear the live bit if live, else reclaim it.
func (m *Manager) sweepBlockHeap() int {
	reclaimed := 0
	for i, br := range m.blockHeap.blockrecs {
		if br.typ == TypeUndefined {
			continue
		}
		rec := m.typeRec(br.typ)
		base := m.blockHeap.blockBase(i)
		for a := base; a.sub(base)+rec.size <= BlockSize; a = a.offset(rec.size) {
			hunk := m.blockHeap.bitmap.hunk(a)
			if !m.blockHeap.bitmap.isManaged(hunk) {
				continue
			}
			if m.blockHeap.bitmap.isLive(hunk) {
				m.blockHeap.bitmap.clearLive(hunk)
				continue
			}
			if m.reclaimInHeap(a, i) {
				reclaimed++
			}
		}
	}
	return reclaimed
}

// reclaimInHeap implements spec.md section 4.5's reclaim_inheap. It
// returns false if a finalizer resurrected the object (reclamation
// postponed to a later cycle).
func (m *Manager) reclaimInHeap(a Addr, blockIdx int) bool {
	br := &m.blockHeap.blockrecs[blockIdx]
	typ := br.typ
	rec := m.typeRec(typ)
	hunk := m.blockHeap.bitmap.hunk(a)

	if rec.finalize != nil && !m.blockHeap.bitmap.isFinalized(hunk) {
		_, obj := m.typeAndBytesOf(a)
		resurrected := m.invokeFinalizer(rec.finalize, obj)
		m.blockHeap.bitmap.setFinalized(hunk)
		if resurrected {
			return false
		}
	}

	if m.blockHeap.bitmap.isNotify(hunk) {
		m.runNotify(a)
		m.blockHeap.bitmap.clearNotify(hunk)
	}

	m.blockHeap.bitmap.clearManaged(hunk)
	m.blockHeap.bitmap.clearFinalized(hunk)
	br.inUse--
	if br.inUse == 0 {
		m.blockHeap.freeBlock(blockIdx, rec)
	}
	m.profileRecordFree(typ)
	return true
}

// sweepSpill is spec.md section 4.5's spill-area pass: every non-
// obsolete entry up to the pinned man_k is swept.
func (m *Manager) sweepSpill() int {
	reclaimed := 0
	m.managed.iterUpToManK(func(i int) {
		e := &m.managed.entries[i]
		if e.isLiveOrObsolete() {
			// Obsolete entries below man_k cannot occur: compactManaged
			// dropped them all at the previous epilogue, so a set bit
			// here can only mean "live".
			e.clearLiveOrObsolete()
			return
		}
		if m.reclaimSpill(i) {
			reclaimed++
		}
	})
	return reclaimed
}

// reclaimSpill implements spec.md section 4.5's reclaim_spill(i).
func (m *Manager) reclaimSpill(i int) bool {
	e := &m.managed.entries[i]
	rec := m.typeRec(e.typ)

	if rec != nil && rec.finalize != nil && !e.finalized {
		_, obj := m.typeAndBytesOf(e.addr())
		resurrected := m.invokeFinalizer(rec.finalize, obj)
		e.finalized = true
		if resurrected {
			return false
		}
	}

	if e.notify() {
		m.runNotify(e.addr())
		e.clearNotify()
	}

	e.backing = nil       // release the host-allocator backing
	e.setLiveOrObsolete() // tag the slot obsolete; compactManaged drops it
	m.profileRecordFree(e.typ)
	return true
}

// freeBlock returns block i to the free pool once its in-use count hits
// zero (spec.md section 4.5): record type undefined, reset in-use, and
// point the type's next_b cursor at the freed block so the next
// allocation for this type rediscovers it immediately.
func (h *blockHeap) freeBlock(i int, rec *typeRecord) {
	h.blockrecs[i] = blockRecord{typ: TypeUndefined, inUse: 0}
	if rec.currentBlock == i {
		rec.currentBlock = -1
	}
	rec.nextB = i
}
