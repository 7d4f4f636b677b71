// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Block heap: a contiguous mmap'd region (pages_unix.go, or the
// pages_other.go fallback) divided into
// BlockSize blocks, each homogeneous in type once in use (spec.md
// sections 3, 4.2). Grounded on the size-class/free-list rotation idiom
// of _examples/cloudfly-readgo/runtime/malloc.go and mcentral.go.
type blockRecord struct {
	typ    TypeID
	inUse  int
}

type blockHeap struct {
	pages          *pages
	base           Addr
	numBlocks      int
	blockrecs      []blockRecord
	bitmap         *heapBitmap
	numAllocBlocks int // blocks claimed since last collection, for the collection trigger
}

func newBlockHeap(npages int) (*blockHeap, error) {
	if npages < MinNumBlocks {
		npages = MinNumBlocks
	}
	nbytes := npages * BlockSize
	if nbytes > MaxHeapBytes {
		nbytes = MaxHeapBytes
	}
	pg, err := newPages(nbytes)
	if err != nil {
		return nil, err
	}
	base := pg.base()
	numBlocks := nbytes / BlockSize
	blockrecs := make([]blockRecord, numBlocks)
	for i := range blockrecs {
		blockrecs[i].typ = TypeUndefined
	}
	return &blockHeap{
		pages:     pg,
		base:      base,
		numBlocks: numBlocks,
		blockrecs: blockrecs,
		bitmap:    newHeapBitmap(base, nbytes),
	}, nil
}

func (h *blockHeap) close() error {
	return h.pages.close()
}

func (h *blockHeap) blockBase(i int) Addr {
	return h.base.offset(i * BlockSize)
}

func (h *blockHeap) blockIndex(a Addr) int {
	return a.sub(h.base) / BlockSize
}

func (h *blockHeap) contains(a Addr) bool {
	return h.bitmap.inRange(a, h.numBlocks*BlockSize)
}

// claimBlock marks block i as owned by t and resets the type's cursor to
// scan it from the base, per spec.md section 4.2's "On block claim" text.
func (h *blockHeap) claimBlock(i int, t TypeID, rec *typeRecord) {
	h.blockrecs[i] = blockRecord{typ: t, inUse: 0}
	base := h.blockBase(i)
	rec.currentBlock = i
	rec.currentA = base
	nslots := BlockSize / rec.size
	if nslots > 0 {
		nslots--
	}
	rec.currentAMax = base.offset(nslots * rec.size)
	rec.nextB = h.advanceNextB(i)
	h.numAllocBlocks++
}

func (h *blockHeap) advanceNextB(i int) int {
	next := i + 1
	if next >= h.numBlocks {
		next = 1 // block 0 is never rotated into (spec.md section 4.2)
	}
	if next == 0 {
		next = 1
	}
	return next
}

// allocInBlock implements the fast/slow allocation path of spec.md
// section 4.2 for a fixed-size type. It returns nullAddr if the whole
// heap was rotated through without finding space (heap exhausted).
func (h *blockHeap) allocInBlock(t TypeID, rec *typeRecord) Addr {
	// Fast path.
	if rec.currentBlock >= 0 {
		if a := rec.currentA; a <= rec.currentAMax {
			if hunk := h.bitmap.hunk(a); !h.bitmap.isManaged(hunk) {
				rec.currentA = a.offset(rec.size)
				return a
			}
		}
	}
	// Slow path: scan forward in the current block for a free slot.
	if rec.currentBlock >= 0 {
		base := h.blockBase(rec.currentBlock)
		top := base.offset((BlockSize / rec.size) * rec.size)
		for a := base; a.sub(base) < top.sub(base); a = a.offset(rec.size) {
			hunk := h.bitmap.hunk(a)
			if !h.bitmap.isManaged(hunk) {
				rec.currentA = a.offset(rec.size)
				return a
			}
		}
	}
	// Rotate through blockrecs looking for a free block, or one already
	// owned by t with free capacity.
	start := rec.nextB
	if start <= 0 || start >= h.numBlocks {
		start = 1
	}
	for n := 0; n < h.numBlocks-1; n++ {
		i := start + n
		if i >= h.numBlocks {
			i -= h.numBlocks - 1
		}
		if i == 0 {
			continue
		}
		br := &h.blockrecs[i]
		switch {
		case br.typ == TypeUndefined:
			h.claimBlock(i, t, rec)
			return h.allocInClaimedBlock(rec)
		case br.typ == t && br.inUse < BlockSize/rec.size:
			rec.currentBlock = i
			base := h.blockBase(i)
			rec.currentA = base
			rec.currentAMax = base.offset(((BlockSize / rec.size) - 1) * rec.size)
			rec.nextB = h.advanceNextB(i)
			return h.allocInClaimedBlock(rec)
		}
	}
	return nullAddr
}

// allocInClaimedBlock re-scans a just-(re)selected block for the first
// free slot; separated out so claimBlock's caller and the "block already
// owned by t" branch share the same scan.
func (h *blockHeap) allocInClaimedBlock(rec *typeRecord) Addr {
	base := h.blockBase(rec.currentBlock)
	top := base.offset(BlockSize)
	for a := base; a.sub(base) < top.sub(base); a = a.offset(rec.size) {
		hunk := h.bitmap.hunk(a)
		if !h.bitmap.isManaged(hunk) {
			rec.currentA = a.offset(rec.size)
			return a
		}
	}
	return nullAddr
}

// commitAlloc marks a as managed and bumps the owning block's in-use
// count. Called once an address has been chosen by allocInBlock.
func (h *blockHeap) commitAlloc(a Addr, i int) {
	h.bitmap.setManaged(h.bitmap.hunk(a))
	h.blockrecs[i].inUse++
}
