// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"errors"
)

// errHeapExhausted signals the block heap rotation in block.go found no
// free or partially-free block for an allocation that must live in the
// block heap (the anchor stack's header and chunks). Alloc does not use
// it: there an exhausted heap falls back to the spill path.
var errHeapExhausted = errors.New("libcmm: block heap exhausted")

// Alloc draws a fixed-size object of type t from the block heap (falling
// back to spill if the heap is exhausted), clears it if t has a Clear
// callback, and anchors it in the current scope (spec.md section 6).
func (m *Manager) Alloc(t TypeID) (Addr, error) {
	m.lock()
	defer m.unlock()
	rec := m.typeRec(t)
	if rec == nil {
		m.fatalf("Alloc: undefined type id %d", t)
	}
	if rec.size == 0 {
		m.fatalf("Alloc: type %q is variable-sized; use AllocVariable", rec.name)
	}
	return m.allocObject(t, rec, rec.size)
}

// AllocVariable draws an n-byte object of type t (spec.md section 6). A
// fixed-size type may only be asked for no more than its declared size.
func (m *Manager) AllocVariable(t TypeID, n int) (Addr, error) {
	m.lock()
	defer m.unlock()
	rec := m.typeRec(t)
	if rec == nil {
		m.fatalf("AllocVariable: undefined type id %d", t)
	}
	if rec.size != 0 && n > rec.size {
		m.fatalf("AllocVariable: %d bytes exceeds fixed type %q's declared size %d", n, rec.name, rec.size)
	}
	size := n
	if rec.size != 0 {
		size = rec.size
	}
	return m.allocObject(t, rec, size)
}

// Malloc is AllocVariable's original-API alias (original_source's
// mm_malloc); kept distinct so callers porting C call sites keep their
// naming.
func (m *Manager) Malloc(t TypeID, n int) (Addr, error) {
	return m.AllocVariable(t, n)
}

// allocObject is the shared body of Alloc/AllocVariable: try the block
// heap for fixed-size requests that fit a block, else spill, then clear,
// anchor, and charge the collection trigger.
func (m *Manager) allocObject(t TypeID, rec *typeRecord, size int) (Addr, error) {
	var addr Addr
	inHeap := false
	if rec.size != 0 && size <= BlockSize {
		a := m.blockHeap.allocInBlock(t, rec)
		if a != nullAddr {
			i := m.blockHeap.blockIndex(a)
			m.blockHeap.commitAlloc(a, i)
			addr = a
			inHeap = true
			m.chargeVolume(rec.size)
		}
	}
	if addr == nullAddr {
		a, err := m.allocSpillWithRetry(t, size)
		if err != nil {
			return nullAddr, err
		}
		addr = a
	}

	if rec.clear != nil {
		_, obj := m.typeAndBytesOf(addr)
		rec.clear(obj)
	} else if inHeap {
		_, obj := m.typeAndBytesOf(addr)
		for i := range obj {
			obj[i] = 0
		}
	}
	if err := m.Anchor(addr); err != nil {
		return nullAddr, err
	}
	m.maybeCollect()
	m.profileRecordAlloc(t)
	return addr, nil
}

// allocSpillWithRetry implements spec.md section 7's resource-exhaustion
// policy: retry once after forcing a synchronous collection, then panic.
func (m *Manager) allocSpillWithRetry(t TypeID, size int) (Addr, error) {
	a, err := m.spillAlloc(t, size)
	if err == nil {
		return a, nil
	}
	m.logger.logf("alloc: host allocator exhausted, forcing a collection and retrying")
	m.collectNowLocked()
	a, err = m.spillAlloc(t, size)
	if err != nil {
		m.fatalf("alloc: host allocator exhausted after a forced collection: %v", err)
	}
	return a, nil
}

// Blob allocates an n-byte untyped buffer, picking the smallest fixed
// bucket that fits (spec.md sections 4.1, 6) or falling back to the
// variable-sized blob type.
func (m *Manager) Blob(n int) (Addr, error) {
	m.lock()
	defer m.unlock()
	for i, sz := range blobBucketSizes {
		if n <= sz {
			return m.allocObject(m.blobTypes[i], m.typeRec(m.blobTypes[i]), sz)
		}
	}
	rec := m.typeRec(m.blobVarType)
	return m.allocObject(m.blobVarType, rec, n)
}

// StrDup creates a managed copy of s as a blob, spec.md section 6.
func (m *Manager) StrDup(s string) (Addr, error) {
	a, err := m.Blob(len(s) + 1)
	if err != nil {
		return nullAddr, err
	}
	m.lock()
	_, obj := m.typeAndBytesOf(a)
	copy(obj, s)
	obj[len(s)] = 0
	m.unlock()
	return a, nil
}

// maybeCollect implements spec.md section 4.2's collection trigger: fire
// when blocks or bytes allocated since the last collection exceed their
// thresholds, or a collection was deferred while disabled. Triggers are
// suppressed while disabled or already running.
func (m *Manager) maybeCollect() {
	if m.noGCDepth > 0 || m.collectInProgress {
		return
	}
	blockThreshold := m.blockHeap.numBlocks / 3
	if blockThreshold > MaxBlocks {
		blockThreshold = MaxBlocks
	}
	volumeThreshold := (m.blockHeap.numBlocks * BlockSize) / 2
	if volumeThreshold > MaxVolume {
		volumeThreshold = MaxVolume
	}
	switch {
	case m.blockHeap.numAllocBlocks > blockThreshold:
	case m.allocVolume > volumeThreshold:
	case m.collectRequested:
	default:
		return
	}
	m.collectNowLocked()
}

func (m *Manager) chargeVolume(n int) {
	m.allocVolume += n
}
