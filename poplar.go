// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Poplar max-heap primitives, adapted from
// _examples/yaofei517-go/src/container/heap/heap.go's sift-up/sift-down
// (there called up/down) to operate over an explicit index range of a
// shared backing slice rather than a whole container/heap.Interface.
//
// A poplar is a complete binary max-heap keyed by entry address, stored
// in entries[start:start+size]. less/swap below are scoped to that range.

func (x *managedIndex) poplarLess(start, i, j int) bool {
	return x.entries[start+i].tagAddr() < x.entries[start+j].tagAddr()
}

func (x *managedIndex) poplarSwap(start, i, j int) {
	x.entries[start+i], x.entries[start+j] = x.entries[start+j], x.entries[start+i]
}

// siftDown restores the max-heap property for entries[start:start+size]
// rooted at i, assuming both children subtrees are already valid heaps.
func (x *managedIndex) siftDown(start, i, size int) {
	for {
		l := 2*i + 1
		if l >= size {
			return
		}
		largest := l
		if r := l + 1; r < size && x.poplarLess(start, l, r) {
			largest = r
		}
		if !x.poplarLess(start, i, largest) {
			return
		}
		x.poplarSwap(start, i, largest)
		i = largest
	}
}

// heapify builds a max-heap in place over entries[start:start+size].
func (x *managedIndex) heapify(start, size int) {
	for i := size/2 - 1; i >= 0; i-- {
		x.siftDown(start, i, size)
	}
}

// heapSortAscending turns a valid max-heap of the given size into an
// ascending-sorted run, the classic in-place heapsort second phase, so
// find_managed can binary-search it (spec.md section 4.3).
func (x *managedIndex) heapSortAscending(start, size int) {
	for end := size - 1; end > 0; end-- {
		x.poplarSwap(start, 0, end)
		x.siftDown(start, 0, end)
	}
}
