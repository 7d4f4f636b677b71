// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package libcmm is a conservative-free, type-aware, precise tracing
// memory manager for long-running Go processes that want a second,
// independently-collected heap: typed allocation, root-based precise
// marking, mark-and-sweep collection, finalizers, reclamation
// notification, and a transient anchor stack protecting locally-live
// addresses between allocation and the moment a reachable reference is
// installed.
//
// Ported from the single-threaded synchronous core of glycerine/libcmm
// (see original_source/ in the retrieval pack this module was built
// from); the fork-based snapshot collector variant described there is
// not implemented (see DESIGN.md's Open Question log).
package libcmm

import (
	"fmt"
	"log"
	"sync"
)

// Manager is the memory manager's context: every piece of global state
// the C original kept in process-wide statics lives here instead (spec.md
// section 9's redesign note), so a process may in principle run more
// than one, though spec.md section 5 still documents a single-init /
// single-teardown lifecycle per instance.
type Manager struct {
	mu     sync.Mutex // reentrancy guard only; the manager is single-threaded by design (spec.md section 5)
	logger *logger
	debug  bool

	types []*typeRecord

	blockHeap *blockHeap
	managed   *managedIndex
	roots     *rootTable

	markStk           *markStack
	markStackCap      int
	cycleOverflowed   bool
	collectInProgress bool

	notifyCB func(Addr)

	anchorHdrType   TypeID
	anchorChunkType TypeID
	anchorHeader    Addr
	anchorTop       int

	blobTypes   [len(blobBucketSizes)]TypeID
	blobVarType TypeID
	refsType    TypeID

	allocVolume      int
	noGCDepth        int
	collectRequested bool

	idleCallsSinceCollect int

	profiling      bool
	profileBuckets map[TypeID]*profileBucket

	allocOverride func(int) []byte // test seam for spill.go's hostAlloc

	initialized bool
}

// InitOptions configures Init beyond spec.md section 6's three
// positional parameters (npages, notify callback, log sink), so tests
// can exercise the boundary cases of spec.md section 8 (small mark
// stacks, tiny heaps) without recompiling tunables.
type InitOptions struct {
	NumPages     int
	Notify       func(Addr)
	Log          *log.Logger // nil uses a default logger writing to stderr
	MarkStackCap int         // defaults to MinStack
}

func (m *Manager) lock()   { m.mu.Lock() }
func (m *Manager) unlock() { m.mu.Unlock() }

// fatalf implements spec.md section 7's programmer-error policy: log a
// diagnostic, then panic. It is the manager's only abort path.
func (m *Manager) fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if m.logger != nil {
		m.logger.logf("FATAL: %s", msg)
	}
	panic("libcmm: " + msg)
}

// Init allocates the block heap, registers the internal types, builds
// the anchor stack and its root, and returns a ready Manager (spec.md
// section 6). Each call builds an independent Manager; there is no
// process-wide double-init guard, since the context is not a singleton.
func Init(opts InitOptions) (*Manager, error) {
	m := &Manager{
		logger: newLogger(opts.Log),
	}
	npages := opts.NumPages
	if npages < MinNumBlocks {
		npages = MinNumBlocks
	}
	bh, err := newBlockHeap(npages)
	if err != nil {
		return nil, err
	}
	m.blockHeap = bh
	m.managed = newManagedIndex()
	m.roots = newRootTable()
	m.notifyCB = opts.Notify
	m.markStackCap = opts.MarkStackCap
	if m.markStackCap <= 0 {
		m.markStackCap = MinStack
	}
	m.noGCDepth = 1 // collection stays suppressed until initialization finishes

	if err := m.registerInternalTypes(); err != nil {
		return nil, err
	}
	if err := m.initAnchorStack(); err != nil {
		return nil, err
	}

	m.noGCDepth = 0
	m.initialized = true
	return m, nil
}

// registerInternalTypes pre-registers, in order, the anchor-stack
// header, the anchor-stack chunk, the blob buckets, the variable-sized
// blob type, and the refs type (spec.md section 4.1).
func (m *Manager) registerInternalTypes() error {
	var err error
	if m.anchorHdrType, err = m.registerType("cmm.anchorHeader", typeAnchorHdrSize, anchorHdrClear, anchorHdrMark, nil); err != nil {
		return err
	}
	if m.anchorChunkType, err = m.registerType("cmm.anchorChunk", BlockSize, nil, anchorChunkMark, nil); err != nil {
		return err
	}
	for i, sz := range blobBucketSizes {
		id, err := m.registerType(fmt.Sprintf("cmm.blob%d", sz), sz, nil, nil, nil)
		if err != nil {
			return err
		}
		m.blobTypes[i] = id
	}
	if m.blobVarType, err = m.registerType("cmm.blob", 0, nil, nil, nil); err != nil {
		return err
	}
	if m.refsType, err = m.registerType("cmm.refs", 0, nil, refsMark, nil); err != nil {
		return err
	}
	return nil
}

// refsMark treats obj as a contiguous array of candidate references,
// marking every 8-byte-aligned non-null word (spec.md section 4.1: "a
// 'refs' type whose mark callback scans its payload as a contiguous
// array of potential references").
func refsMark(mk *Marker, obj []byte) {
	for off := 0; off+8 <= len(obj); off += 8 {
		a := Addr(leUint64(obj[off : off+8]))
		if a != nullAddr {
			mk.Mark(a)
		}
	}
}

// Shutdown releases the block heap's backing pages. The manager must not
// be used afterward.
func (m *Manager) Shutdown() error {
	m.lock()
	defer m.unlock()
	return m.blockHeap.close()
}

// RefsType returns the internal "refs" type id, for clients that want an
// untyped array-of-references object without registering a bespoke type
// (spec.md section 4.1).
func (m *Manager) RefsType() TypeID { return m.refsType }

// SetDebug sets the debug flag and enables the logger's trace output.
// No manager code emits trace lines or reads the flag, and the mark
// prologue's live-bit assertion runs whether or not it is set.
func (m *Manager) SetDebug(on bool) {
	m.lock()
	defer m.unlock()
	m.debug = on
	m.logger.debug = on
}

// AddRoot registers cell as a GC root; duplicate registration is a no-op
// (spec.md section 6).
func (m *Manager) AddRoot(cell RootCell) {
	m.lock()
	defer m.unlock()
	m.roots.addRoot(cell)
}

// RemoveRoot deregisters cell (spec.md section 6). Removing a cell that
// was never registered is a programmer error and aborts (spec.md
// section 7), matching the unmanaged-pointer-to-mark/notify case.
func (m *Manager) RemoveRoot(cell RootCell) {
	m.lock()
	defer m.unlock()
	if !m.roots.removeRoot(cell) {
		m.fatalf("RemoveRoot: cell was never registered")
	}
}

// InProgress reports whether a collection is currently running (spec.md
// section 6).
func (m *Manager) InProgress() bool {
	m.lock()
	defer m.unlock()
	return m.collectInProgress
}

// BeginNoGC establishes a scoped suppression of collection. blockOK is
// accepted for API parity with original_source's mm_*_nogc(block_ok) but
// is otherwise unused: this port never blocks a mutator thread waiting
// for GC, so there is nothing for blockOK to opt out of.
func (m *Manager) BeginNoGC(blockOK bool) {
	m.lock()
	defer m.unlock()
	m.noGCDepth++
}

// EndNoGC closes a BeginNoGC scope; a collection requested during the
// window runs now if this was the outermost scope (spec.md section 4.8).
func (m *Manager) EndNoGC() {
	m.lock()
	defer m.unlock()
	if m.noGCDepth > 0 {
		m.noGCDepth--
	}
	if m.noGCDepth == 0 && m.collectRequested {
		m.collectNowLocked()
	}
}

// CollectNow runs one full collection, or defers it if collection is
// currently disabled, returning the number of objects reclaimed (0 for a
// deferred request, spec.md section 6).
func (m *Manager) CollectNow() int {
	m.lock()
	defer m.unlock()
	if m.noGCDepth > 0 {
		m.collectRequested = true
		return 0
	}
	return m.collectNowLocked()
}

// collectNowLocked runs mark then sweep and resets the per-cycle
// bookkeeping (spec.md section 4.4's epilogue). Caller must hold m.mu.
func (m *Manager) collectNowLocked() int {
	if m.collectInProgress {
		return 0 // reentrancy from within a callback is a programmer error elsewhere, not here
	}
	m.mark()
	n := m.sweep()
	m.collectInProgress = false
	m.managed.compactManaged()
	m.blockHeap.numAllocBlocks = 0
	m.allocVolume = 0
	m.collectRequested = false
	m.idleCallsSinceCollect = 0
	if m.cycleOverflowed {
		m.markStackCap *= 2
		m.cycleOverflowed = false
	}
	if m.profiling {
		m.profileNextCycle()
	}
	return n
}

// Idle advances housekeeping (poplar promotion, and a forced collection
// if none has run in the last NumIdleCalls calls) and reports whether
// more work is available (spec.md section 4.8).
func (m *Manager) Idle() bool {
	m.lock()
	defer m.unlock()
	m.managed.updateManK()
	m.idleCallsSinceCollect++
	if m.idleCallsSinceCollect >= NumIdleCalls {
		m.collectNowLocked()
		return false
	}
	return m.managed.poplarEnd() < len(m.managed.entries)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
