// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// RootCell is a client-owned pointer-sized location holding a live
// reference (spec.md section 3, "Root table"). The manager reads its
// current value at mark time; it never writes through it.
type RootCell interface {
	Get() Addr
}

// rootTable is a deduplicated, client-registered list of root cells.
// Grounded on original_source's mm_root/mm_unroot and on the linked
// fixed-block idiom of _examples/yaofei517-go/src/runtime/mfinal.go's
// finblock, flattened to a slice since roots are few and dedup needs a
// linear scan regardless of storage shape.
type rootTable struct {
	cells []RootCell
}

func newRootTable() *rootTable {
	return &rootTable{cells: make([]RootCell, 0, MinRoots)}
}

// addRoot registers cell if not already present. Duplicate add is a
// no-op (spec.md section 6).
func (rt *rootTable) addRoot(cell RootCell) {
	for _, c := range rt.cells {
		if c == cell {
			return
		}
	}
	rt.cells = append(rt.cells, cell)
}

// removeRoot deregisters cell, returning false if it was never
// registered (a caller bug, but not itself a managed-pointer error).
func (rt *rootTable) removeRoot(cell RootCell) bool {
	for i, c := range rt.cells {
		if c == cell {
			rt.cells = append(rt.cells[:i], rt.cells[i+1:]...)
			return true
		}
	}
	return false
}
