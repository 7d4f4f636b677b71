// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import "encoding/binary"

// Anchor stack (spec.md section 4.6): a managed linked list of chunks
// protecting transient local values across suspension points. Grounded
// on the fixed-capacity, next-linked finblock of
// _examples/yaofei517-go/src/runtime/mfinal.go, adapted from an
// off-heap finalizer queue into a self-tracing, in-heap managed object
// chain (the alternative the spec's section 9 redesign note explicitly
// allows, chosen here because it keeps the chunk chain inside the same
// mark/sweep machinery as every other managed object).
const anchorWordSize = 8 // bytes per stored Addr; this port targets 64-bit Addr

// anchorSlotsPerChunk is "block-size minus one pointer" (spec.md section
// 3) divided into Addr-sized slots; the one pointer is the chunk's own
// next-chunk link, stored at byte offset 0.
const anchorSlotsPerChunk = (BlockSize - anchorWordSize) / anchorWordSize

// AnchorSnapshot is the opaque value returned by EnterScope and consumed
// by ExitScope (spec.md section 4.6).
type AnchorSnapshot struct {
	chunk Addr
	index int
}

type anchorHeaderRoot struct{ m *Manager }

func (r anchorHeaderRoot) Get() Addr { return r.m.anchorHeader }

func (m *Manager) bytesAt(a Addr, n int) []byte {
	off := a.sub(m.blockHeap.base)
	return m.blockHeap.pages.bytes()[off : off+n]
}

func (m *Manager) headerBytes() []byte   { return m.bytesAt(m.anchorHeader, typeAnchorHdrSize) }
func (m *Manager) chunkBytes(a Addr) []byte { return m.bytesAt(a, BlockSize) }

func (m *Manager) headerCurrentChunk() Addr {
	return Addr(binary.LittleEndian.Uint64(m.headerBytes()[0:8]))
}
func (m *Manager) setHeaderCurrentChunk(a Addr) {
	binary.LittleEndian.PutUint64(m.headerBytes()[0:8], uint64(a))
}
func (m *Manager) headerTemp() Addr {
	return Addr(binary.LittleEndian.Uint64(m.headerBytes()[8:16]))
}
func (m *Manager) setHeaderTemp(a Addr) {
	binary.LittleEndian.PutUint64(m.headerBytes()[8:16], uint64(a))
}

func chunkNext(buf []byte) Addr { return Addr(binary.LittleEndian.Uint64(buf[0:8])) }
func setChunkNext(buf []byte, a Addr) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(a))
}
func chunkSlot(buf []byte, i int) Addr {
	off := anchorWordSize + i*anchorWordSize
	return Addr(binary.LittleEndian.Uint64(buf[off : off+8]))
}
func setChunkSlot(buf []byte, i int, a Addr) {
	off := anchorWordSize + i*anchorWordSize
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(a))
}

const typeAnchorHdrSize = 2 * anchorWordSize // currentChunk + temp

func anchorHdrClear(obj []byte) {
	for i := range obj {
		obj[i] = 0
	}
}

func anchorHdrMark(mk *Marker, obj []byte) {
	mk.Mark(Addr(binary.LittleEndian.Uint64(obj[0:8])))
	mk.Mark(Addr(binary.LittleEndian.Uint64(obj[8:16])))
}

func anchorChunkMark(mk *Marker, obj []byte) {
	mk.Mark(chunkNext(obj))
	n := anchorSlotsPerChunk
	if addrOfBytes(obj) == mk.m.headerCurrentChunk() {
		n = mk.m.anchorTop // slots at and above the top are stale
	}
	for i := 0; i < n; i++ {
		mk.Mark(chunkSlot(obj, i))
	}
}

// initAnchorStack bootstraps the header and first chunk directly out of
// the block heap, bypassing the anchor stack's own push machinery (which
// does not exist yet) and the allocation trigger (collection is disabled
// for the whole of Init).
func (m *Manager) initAnchorStack() error {
	hdr, err := m.bootstrapAllocInHeap(m.anchorHdrType)
	if err != nil {
		return err
	}
	m.anchorHeader = hdr
	anchorHdrClear(m.headerBytes())

	chunk, err := m.bootstrapAllocInHeap(m.anchorChunkType)
	if err != nil {
		return err
	}
	for i := range m.chunkBytes(chunk) {
		m.chunkBytes(chunk)[i] = 0
	}
	setChunkNext(m.chunkBytes(chunk), nullAddr)
	m.setHeaderCurrentChunk(chunk)
	m.anchorTop = 0

	m.roots.addRoot(anchorHeaderRoot{m: m})
	return nil
}

// bootstrapAllocInHeap allocates directly from the block heap without
// going through the public Alloc path (no anchoring, no trigger check);
// used for the anchor stack's own header and chunks.
func (m *Manager) bootstrapAllocInHeap(t TypeID) (Addr, error) {
	rec := m.typeRec(t)
	a := m.blockHeap.allocInBlock(t, rec)
	if a == nullAddr {
		return nullAddr, errHeapExhausted
	}
	i := m.blockHeap.blockIndex(a)
	m.blockHeap.commitAlloc(a, i)
	return a, nil
}

// EnterScope returns a snapshot of the current top-of-stack, to be
// passed to ExitScope once the scope's intermediates are no longer
// needed (spec.md section 4.6).
func (m *Manager) EnterScope() AnchorSnapshot {
	return AnchorSnapshot{chunk: m.headerCurrentChunk(), index: m.anchorTop}
}

// Anchor pushes p onto the current scope, protecting it from collection
// until ExitScope unwinds past this point (spec.md section 4.6). A null
// address is a no-op.
func (m *Manager) Anchor(p Addr) error {
	if p == nullAddr {
		return nil
	}
	if m.anchorTop < anchorSlotsPerChunk {
		setChunkSlot(m.chunkBytes(m.headerCurrentChunk()), m.anchorTop, p)
		m.anchorTop++
		return nil
	}
	// Chunk full: stash p in the header's temp slot (traced by
	// anchorHdrMark) while the new chunk is allocated and linked. The
	// chunk comes straight from the block heap, so its allocation neither
	// anchors itself nor runs the collection trigger.
	m.setHeaderTemp(p)
	newChunk, err := m.bootstrapAllocInHeap(m.anchorChunkType)
	if err != nil {
		return err
	}
	buf := m.chunkBytes(newChunk)
	for i := range buf {
		buf[i] = 0
	}
	setChunkNext(buf, m.headerCurrentChunk())
	m.setHeaderCurrentChunk(newChunk)
	setChunkSlot(buf, 0, m.headerTemp())
	m.setHeaderTemp(nullAddr)
	m.anchorTop = 1
	return nil
}

// ExitScope pops chunks until the top-of-stack is restored to snap,
// eagerly reclaiming each popped in-heap chunk rather than waiting for
// the next collection (spec.md section 4.6).
func (m *Manager) ExitScope(snap AnchorSnapshot) {
	for m.headerCurrentChunk() != snap.chunk {
		cur := m.headerCurrentChunk()
		next := chunkNext(m.chunkBytes(cur))
		m.popChunkEager(cur)
		m.setHeaderCurrentChunk(next)
	}
	m.anchorTop = snap.index
}

// popChunkEager reclaims a chunk outside the normal sweep, matching
// spec.md section 4.6's "popping a chunk eagerly reclaims it if it is
// in-heap". Anchor chunks never carry a finalizer or notify bit, so this
// is just bitmap/in-use bookkeeping, not a call into reclaimInHeap.
func (m *Manager) popChunkEager(a Addr) {
	i := m.blockHeap.blockIndex(a)
	hunk := m.blockHeap.bitmap.hunk(a)
	m.blockHeap.bitmap.clearManaged(hunk)
	br := &m.blockHeap.blockrecs[i]
	br.inUse--
	if br.inUse == 0 {
		rec := m.typeRec(m.anchorChunkType)
		m.blockHeap.freeBlock(i, rec)
	}
}
