// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Marking engine (spec.md section 4.4). Grounded on
// _examples/other_examples/009e8093_..._mgcmark.go's explicit
// mark-stack-plus-greyobject shape, adapted from Go's concurrent
// tricolor mark to a synchronous precise mark driven entirely by
// per-type callbacks.

// markStack is the explicit, overflow-tolerant marking stack of
// spec.md section 4.4. Capacity is fixed for the duration of one cycle;
// an overflow sets the flag instead of growing, and Manager doubles the
// capacity for the next cycle once a cycle that overflowed finishes.
type markStack struct {
	buf        []Addr
	top        int
	overflowed bool
}

func newMarkStack(capacity int) *markStack {
	return &markStack{buf: make([]Addr, capacity)}
}

func (s *markStack) push(a Addr) bool {
	if s.top >= len(s.buf) {
		s.overflowed = true
		return false
	}
	s.buf[s.top] = a
	s.top++
	return true
}

func (s *markStack) pop() (Addr, bool) {
	if s.top == 0 {
		return nullAddr, false
	}
	s.top--
	return s.buf[s.top], true
}

func (s *markStack) empty() bool { return s.top == 0 }

// Marker is handed to a type's MarkFunc so it can report outgoing
// references (spec.md section 4.1: "mark (push every outgoing reference
// of a live object onto the marking stack)").
type Marker struct {
	m *Manager
}

// Mark records child as reachable, pushing it for later draining if it
// was not already known live. A nil/zero child is ignored, matching the
// root table's own null tolerance.
func (mk *Marker) Mark(child Addr) {
	mk.m.markAddr(child)
}

// markAddr is _mark from spec.md section 4.4 step 3: checks live, else
// sets live and pushes.
func (m *Manager) markAddr(a Addr) {
	if a == nullAddr {
		return
	}
	if m.blockHeap.contains(a) {
		hunk := m.blockHeap.bitmap.hunk(a)
		if !m.blockHeap.bitmap.isManaged(hunk) {
			m.fatalf("mark: %v is not a managed in-heap address", a)
		}
		if m.blockHeap.bitmap.isLive(hunk) {
			return
		}
		m.blockHeap.bitmap.setLive(hunk)
		m.markStk.push(a)
		return
	}
	e, ok := m.managed.findManaged(a)
	if !ok {
		m.fatalf("mark: %v is not a managed address", a)
	}
	if e.isLiveOrObsolete() {
		return // already live this cycle
	}
	e.setLiveOrObsolete()
	m.markStk.push(a)
}

// typeAndBytesOf resolves a managed address to its type and a byte view
// of its storage, for handing to clear/mark/finalize callbacks.
func (m *Manager) typeAndBytesOf(a Addr) (TypeID, []byte) {
	if m.blockHeap.contains(a) {
		i := m.blockHeap.blockIndex(a)
		rec := m.blockHeap.blockrecs[i]
		t := m.typeRec(rec.typ)
		return rec.typ, m.blockHeap.pages.bytes()[a.sub(m.blockHeap.base) : a.sub(m.blockHeap.base)+t.size]
	}
	e, ok := m.managed.findManaged(a)
	if !ok {
		return TypeUndefined, nil
	}
	size := e.size
	if size == 0 {
		size = len(e.backing)
	}
	start := a.sub(addrOfBytes(e.backing))
	if start < 0 || start+size > len(e.backing) {
		return e.typ, e.backing
	}
	return e.typ, e.backing[start : start+size]
}

// drain repeatedly pops an address, looks up its type, and invokes the
// type's mark callback until the stack empties (spec.md section 4.4
// step 3).
func (m *Manager) drain() {
	marker := &Marker{m: m}
	for {
		a, ok := m.markStk.pop()
		if !ok {
			return
		}
		t, obj := m.typeAndBytesOf(a)
		rec := m.typeRec(t)
		if rec != nil && rec.mark != nil {
			rec.mark(marker, obj)
		}
	}
}

// mark runs one full mark phase: prologue, root push, drain with
// overflow recovery, and the finalizer-visibility pass (spec.md section
// 4.4). The caller (collectNow) runs the sweep afterward.
func (m *Manager) mark() {
	if !m.blockHeap.bitmap.assertNoLiveBits() {
		m.fatalf("mark: live bits set outside a collection cycle")
	}
	m.managed.sortAllPoplars()
	m.managed.manK = len(m.managed.entries)
	m.collectInProgress = true

	m.markStk = newMarkStack(m.markStackCap)
	for _, cell := range m.roots.cells {
		a := cell.Get()
		if a == nullAddr {
			continue
		}
		m.markAddr(a)
	}
	m.drainWithOverflowRecovery()
	m.traceFinalizerRoots()
}

// drainWithOverflowRecovery implements spec.md section 4.4 step 4: if the
// stack overflows, draining continues without pushing further entries;
// once it empties, every already-live object is re-scanned (its mark
// callback re-invoked) and draining resumes, repeating until a drain
// completes without a fresh overflow.
func (m *Manager) drainWithOverflowRecovery() {
	m.drain()
	for m.markStk.overflowed {
		m.cycleOverflowed = true
		m.markStk.overflowed = false
		m.rescanAllLive()
		m.drain()
	}
}

// rescanAllLive re-invokes the mark callback of every currently-live
// object in both heaps, recovering from a mark-stack overflow without
// ever losing reachability information (spec.md section 4.4 step 4).
func (m *Manager) rescanAllLive() {
	marker := &Marker{m: m}
	for i, br := range m.blockHeap.blockrecs {
		if br.typ == TypeUndefined {
			continue
		}
		rec := m.typeRec(br.typ)
		if rec == nil || rec.mark == nil {
			continue
		}
		base := m.blockHeap.blockBase(i)
		for a := base; a.sub(base)+rec.size <= BlockSize; a = a.offset(rec.size) {
			hunk := m.blockHeap.bitmap.hunk(a)
			if m.blockHeap.bitmap.isManaged(hunk) && m.blockHeap.bitmap.isLive(hunk) {
				_, obj := m.typeAndBytesOf(a)
				rec.mark(marker, obj)
			}
		}
	}
	for i := range m.managed.entries {
		e := &m.managed.entries[i]
		if !e.isLiveOrObsolete() {
			continue
		}
		rec := m.typeRec(e.typ)
		if rec == nil || rec.mark == nil {
			continue
		}
		_, obj := m.typeAndBytesOf(e.addr())
		rec.mark(marker, obj)
	}
}

// traceFinalizerRoots implements the Open-Question resolution documented
// in DESIGN.md: finalizer-bearing objects that are unreachable after the
// primary trace get their fields traced once more (so the finalizer
// observes an intact graph) and then have their own live bit cleared,
// breaking any cycle through them (spec.md section 4.4 step 4 /
// section 9).
func (m *Manager) traceFinalizerRoots() {
	marker := &Marker{m: m}
	for i, br := range m.blockHeap.blockrecs {
		if br.typ == TypeUndefined {
			continue
		}
		rec := m.typeRec(br.typ)
		if rec == nil || rec.finalize == nil || rec.mark == nil {
			continue
		}
		base := m.blockHeap.blockBase(i)
		for a := base; a.sub(base)+rec.size <= BlockSize; a = a.offset(rec.size) {
			hunk := m.blockHeap.bitmap.hunk(a)
			if !m.blockHeap.bitmap.isManaged(hunk) || m.blockHeap.bitmap.isLive(hunk) {
				continue
			}
			m.blockHeap.bitmap.setLive(hunk)
			_, obj := m.typeAndBytesOf(a)
			rec.mark(marker, obj)
			m.drain()
			m.blockHeap.bitmap.clearLive(hunk)
		}
	}
	for i := range m.managed.entries {
		e := &m.managed.entries[i]
		if e.isLiveOrObsolete() {
			continue
		}
		rec := m.typeRec(e.typ)
		if rec == nil || rec.finalize == nil || rec.mark == nil {
			continue
		}
		e.setLiveOrObsolete()
		_, obj := m.typeAndBytesOf(e.addr())
		rec.mark(marker, obj)
		m.drain()
		e.clearLiveOrObsolete()
	}
}
