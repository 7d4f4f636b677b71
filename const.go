// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Tunable constants. Values must match across ports for behavioural
// parity (spec.md section 6).
const (
	MinHunkSize = 8               // minimum allocation granule, in bytes
	PageSize    = 4096             // host page size assumed by the block heap
	BlockSize   = PageSize          // block size == page size
	MinNumBlocks = 21               // smallest block heap the manager will build
	MinTypes     = 256              // initial type-table capacity
	MinManaged   = 262144            // initial managed-index capacity
	MinRoots     = 256               // initial root-table capacity
	MinStack     = 4096               // initial mark-stack capacity
	MaxPoplar    = 31                  // max poplar count per decomposition (largest poplar: 2^31-1 entries)
	NumIdleCalls = 100                  // force a collection after this many idle calls with none
	MaxHeapBytes = 1 << 30               // 1 GiB cap on the block heap

	MaxBlocks = 1 << 16 // block_threshold cap
	MaxVolume = 1 << 26 // volume_threshold cap, bytes

	hmapEPI = 16 // heap-bitmap nibbles packed per uint64 word (4 bits each)
)

// mt: pre-defined internal type ids, assigned in registration order at
// Init. Mirrors original_source/src/cmm.h's mt enum.
const typeUndefined TypeID = -1

const (
	typeAnchorHdr TypeID = iota
	typeAnchorChunk
	typeBlob8
	typeBlob16
	typeBlob32
	typeBlob64
	typeBlob128
	typeBlob256
	typeBlob
	typeRefs
	numInternalTypes
)

var blobBucketSizes = [...]int{8, 16, 32, 64, 128, 256}
