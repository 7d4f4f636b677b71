// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Spill header: one MinHunkSize-sized prefix in front of every
// manager-allocated (non-blob-import) spill object, holding its type id
// and size in hunks (spec.md section 3's "Spill object"). Grounded on
// spec.md section 9's redesign note: the header trick becomes an
// explicit allocation of size+header bytes with inline seal/unseal
// helpers, so the unsafe arithmetic lives in this one file.
const spillHeaderSize = MinHunkSize // 4 bytes type id + 4 bytes size-in-hunks

// maxSpillHunks bounds a spill object's declared size so sizeHunks fits a
// uint32 header field without overflow (spec.md section 4.2's
// "abort if size exceeds SIZE_MAX / MIN_HUNKSIZE" cap).
const maxSpillHunks = 1<<32 - 1

func sealHeader(backing []byte, typ TypeID, sizeHunks int) {
	binary.LittleEndian.PutUint32(backing[0:4], uint32(int32(typ)))
	binary.LittleEndian.PutUint32(backing[4:8], uint32(sizeHunks))
}

func unsealHeader(backing []byte) (typ TypeID, sizeHunks int) {
	typ = TypeID(int32(binary.LittleEndian.Uint32(backing[0:4])))
	sizeHunks = int(binary.LittleEndian.Uint32(backing[4:8]))
	return
}

func payloadAddr(backing []byte, headerSize int) Addr {
	return addrOf(unsafe.Pointer(&backing[headerSize]))
}

// spillAlloc obtains a sealed spill object of the given payload size for
// type t from the host allocator (Go's own allocator stands in for the
// "host allocator" spec.md describes; the block heap, by contrast, is
// mmap'd precisely so it stays outside Go's own GC's bookkeeping).
func (m *Manager) spillAlloc(t TypeID, payloadSize int) (Addr, error) {
	hunks := (payloadSize + MinHunkSize - 1) / MinHunkSize
	if hunks > maxSpillHunks {
		return nullAddr, fmt.Errorf("libcmm: spill alloc of %d bytes exceeds the size cap", payloadSize)
	}
	backing := m.hostAlloc(spillHeaderSize + hunks*MinHunkSize)
	if backing == nil {
		return nullAddr, fmt.Errorf("libcmm: host allocator exhausted")
	}
	sealHeader(backing, t, hunks)
	addr := payloadAddr(backing, spillHeaderSize)
	m.managed.addManaged(spillEntry{tagged: addr, typ: t, size: hunks * MinHunkSize, backing: backing})
	m.chargeVolume(spillHeaderSize + hunks*MinHunkSize)
	return addr, nil
}

// hostAlloc is the host-allocator boundary: a plain Go allocation. It
// exists as a single seam so the OOM-retry policy in spec.md section 7
// has one place to hook a forced collection before giving up.
func (m *Manager) hostAlloc(n int) []byte {
	// A Go make() essentially never returns nil/fails short of a fatal
	// out-of-memory condition the runtime itself would already have
	// aborted on, so the retry-after-collect path (spec.md section 7)
	// is reachable only when allocOverride substitutes an allocator that
	// can fail.
	if m.allocOverride != nil {
		return m.allocOverride(n)
	}
	return make([]byte, n)
}
