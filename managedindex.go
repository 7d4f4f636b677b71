// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import "sort"

// Bit layout of a spillEntry's tagged address (spec.md section 6): low
// bits one-hot, bit 0 is live (during a collection) / obsolete (between
// collections) -- never simultaneously meaningful, so the position is
// shared; bit 1 is notify; bit 2 is blob. High bits hold the
// MinHunkSize-aligned address.
const (
	spillLiveOrObsolete Addr = 1 << 0
	spillNotify         Addr = 1 << 1
	spillBlob           Addr = 1 << 2
	spillFlagMask       Addr = 0x7
)

// spillEntry is one slot of the managed index: a tagged pointer to an
// out-of-heap managed object, plus the bookkeeping a Go port needs to
// keep the backing allocation alive and recover its type/size without a
// literal in-memory header for manage()-imported blobs (spec.md
// section 3's "Spill object").
type spillEntry struct {
	tagged    Addr
	typ       TypeID // TypeUndefined for an untraced manage() import
	size      int    // payload size in bytes (len(backing) for a manage() import)
	backing   []byte // pins the Go-allocated memory; cleared to nil on reclamation
	finalized bool   // finalizer already ran; see finalize.go
}

func (e *spillEntry) addr() Addr    { return e.tagged &^ spillFlagMask }
func (e *spillEntry) tagAddr() Addr { return e.tagged }

func (e *spillEntry) isLiveOrObsolete() bool { return e.tagged&spillLiveOrObsolete != 0 }
func (e *spillEntry) setLiveOrObsolete()     { e.tagged |= spillLiveOrObsolete }
func (e *spillEntry) clearLiveOrObsolete()   { e.tagged &^= spillLiveOrObsolete }

func (e *spillEntry) notify() bool { return e.tagged&spillNotify != 0 }
func (e *spillEntry) setNotify()   { e.tagged |= spillNotify }
func (e *spillEntry) clearNotify() { e.tagged &^= spillNotify }

func (e *spillEntry) blob() bool { return e.tagged&spillBlob != 0 }

// poplarDesc describes one poplar: a max-heap (or, once sorted, an
// ascending run) over entries[start : start+size].
type poplarDesc struct {
	start  int
	size   int
	sorted bool
}

// managedIndex is the spill index of spec.md sections 3 and 4.3: a
// sequence of poplars covering a prefix of entries, plus an unsorted
// tail appended since the last promotion. Grounded on
// original_source/src/cmm_no_snapshot.cpp's _find_managed/update_man_k/
// compact_managed.
type managedIndex struct {
	entries []spillEntry
	poplars []poplarDesc
	manK    int // pinned boundary: entries[:manK] are this cycle's sweep set
}

func newManagedIndex() *managedIndex {
	return &managedIndex{entries: make([]spillEntry, 0, MinManaged)}
}

func (x *managedIndex) poplarEnd() int {
	if len(x.poplars) == 0 {
		return 0
	}
	last := x.poplars[len(x.poplars)-1]
	return last.start + last.size
}

// addManaged appends e to the unsorted tail. Amortised O(1): capacity
// grows geometrically via append's own growth policy.
func (x *managedIndex) addManaged(e spillEntry) int {
	x.entries = append(x.entries, e)
	return len(x.entries) - 1
}

// poplarSizesFor returns the canonical greedy decomposition of n into
// strictly decreasing distinct values of the form 2^k-1, the "canonical
// binary expansion" spec.md section 8 property 8 refers to. Any
// remainder (n minus the sum of the chosen sizes) is left to the tail —
// not every n decomposes exactly, which is precisely why the index keeps
// an unsorted tail rather than forcing everything into poplars.
func poplarSizesFor(n int) []int {
	var sizes []int
	remaining := n
	maxSize := 1<<31 - 1
	for remaining > 0 && len(sizes) < MaxPoplar {
		size := largestPoplarSizeBelow(remaining, maxSize)
		if size <= 0 {
			break
		}
		sizes = append(sizes, size)
		remaining -= size
		maxSize = size - 1
	}
	return sizes
}

// largestPoplarSizeBelow returns the largest 2^k-1 that is both <= limit
// and <= cap (cap enforces strictly-decreasing poplar sizes).
func largestPoplarSizeBelow(limit, cap int) int {
	if cap < limit {
		limit = cap
	}
	size := 1
	for size <= limit {
		next := size*2 + 1
		if next > limit {
			break
		}
		size = next
	}
	if size > limit {
		return 0
	}
	return size
}

// updateManK promotes entries[poplarEnd():] into new poplars using the
// canonical decomposition of the available tail, heapifying each new
// poplar. Called from Idle and from compactManaged; the mark prologue
// only sorts the existing poplars (sortAllPoplars).
func (x *managedIndex) updateManK() {
	tailStart := x.poplarEnd()
	tailLen := len(x.entries) - tailStart
	if tailLen <= 0 {
		return
	}
	sizes := poplarSizesFor(tailLen)
	start := tailStart
	for _, size := range sizes {
		x.heapify(start, size)
		x.poplars = append(x.poplars, poplarDesc{start: start, size: size, sorted: false})
		start += size
	}
}

// sortAllPoplars converts every still-heap poplar into an ascending run.
// Called at the mark prologue (spec.md section 4.4 step 1).
func (x *managedIndex) sortAllPoplars() {
	for i := range x.poplars {
		x.sortPoplar(i)
	}
}

func (x *managedIndex) sortPoplar(i int) {
	p := &x.poplars[i]
	if p.sorted {
		return
	}
	x.heapSortAscending(p.start, p.size)
	p.sorted = true
}

// findManaged answers "is a a currently-managed address" in sub-linear
// amortised time: binary search each sorted poplar (sorting on first
// use), then a linear scan of the unsorted tail (spec.md section 4.3).
func (x *managedIndex) findManaged(a Addr) (*spillEntry, bool) {
	for i := range x.poplars {
		x.sortPoplar(i)
		p := &x.poplars[i]
		lo, hi := p.start, p.start+p.size
		idx := lo + sort.Search(hi-lo, func(k int) bool {
			return x.entries[lo+k].addr() >= a
		})
		if idx < hi && x.entries[idx].addr() == a {
			return &x.entries[idx], true
		}
	}
	for i := x.poplarEnd(); i < len(x.entries); i++ {
		if x.entries[i].addr() == a {
			return &x.entries[i], true
		}
	}
	return nil, false
}

// compactManaged removes obsolete entries, rebuilds the poplar
// decomposition of the surviving prefix, and shrinks the backing slice
// once occupancy falls under 25% of capacity (spec.md section 4.3,
// property 8 in section 8).
func (x *managedIndex) compactManaged() {
	kept := x.entries[:0]
	for _, e := range x.entries {
		if e.isLiveOrObsolete() && e.backing == nil {
			continue // obsolete: reclaimed, slot freed
		}
		kept = append(kept, e)
	}
	x.entries = kept
	x.poplars = x.poplars[:0]
	x.updateManK()

	if cap(x.entries) > MinManaged && len(x.entries) < cap(x.entries)/4 {
		newCap := cap(x.entries) / 2
		if newCap < MinManaged {
			newCap = MinManaged
		}
		shrunk := make([]spillEntry, len(x.entries), newCap)
		copy(shrunk, x.entries)
		x.entries = shrunk
	}
}

// iterUpToManK calls fn for every non-obsolete entry index below manK,
// the sweeper's spill pass (spec.md section 4.5).
func (x *managedIndex) iterUpToManK(fn func(i int)) {
	for i := 0; i < x.manK && i < len(x.entries); i++ {
		fn(i)
	}
}
