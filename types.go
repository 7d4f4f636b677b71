// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// TypeID is a small non-negative integer assigned in registration order.
// TypeUndefined marks a free block or an unregistered id.
type TypeID int32

// TypeUndefined is returned by TypeOf for addresses the manager does not
// recognize, and stored in a block record's typ field when the block is
// free.
const TypeUndefined = typeUndefined

// ClearFunc zero-initializes (or otherwise prepares) a newly handed-out
// object. obj aliases the live object's storage; do not retain it.
type ClearFunc func(obj []byte)

// MarkFunc is invoked once per live object of its type during the mark
// phase. It must call Marker.Mark for every outgoing reference obj holds.
type MarkFunc func(m *Marker, obj []byte)

// FinalizeFunc runs before an otherwise-unreachable object is reclaimed.
// Returning false postpones reclamation to a later collection (the
// finalizer "resurrected" the object). A finalizer runs at most once per
// object: the next collection that finds a resurrected object unreachable
// reclaims it without calling the finalizer again.
type FinalizeFunc func(obj []byte) bool

// typeRecord is the type registry's per-type entry (spec.md section 4.1).
type typeRecord struct {
	name     string
	size     int // rounded up to MinHunkSize; 0 means variable-sized
	clear    ClearFunc
	mark     MarkFunc
	finalize FinalizeFunc

	// Allocator cursors, cached across calls to Alloc for this type.
	currentBlock int   // block index currently being carved
	currentA     Addr  // next address to try within currentBlock
	currentAMax  Addr  // address of the last slot in currentBlock
	nextB        int   // next block index to scan on the slow path
}

func roundHunk(n int) int {
	return (n + MinHunkSize - 1) &^ (MinHunkSize - 1)
}

// registerType implements spec.md section 4.1's register_type. Duplicate
// registration under the same name is permitted only when size and all
// three callbacks match the existing record; the original id is returned.
func (m *Manager) registerType(name string, size int, clear ClearFunc, mark MarkFunc, finalize FinalizeFunc) (TypeID, error) {
	if m.profiling {
		m.fatalf("RegisterType(%q): cannot register while profiling is active", name)
	}
	size = roundHunk(size)
	for id, t := range m.types {
		if t.name != name {
			continue
		}
		if t.size != size || !sameCallbacks(t, clear, mark, finalize) {
			m.fatalf("RegisterType(%q): re-registration with different size/callbacks", name)
		}
		return TypeID(id), nil
	}
	id := TypeID(len(m.types))
	m.types = append(m.types, &typeRecord{
		name: name, size: size, clear: clear, mark: mark, finalize: finalize,
		currentBlock: -1, nextB: 1,
	})
	return id, nil
}

func sameCallbacks(t *typeRecord, clear ClearFunc, mark MarkFunc, finalize FinalizeFunc) bool {
	// Go has no function-value equality; callback identity is judged by
	// "both nil or both non-nil", matching the spirit of the C original
	// (which compared raw function pointers) closely enough that a
	// client re-registering the exact same type definition will match.
	return (t.clear == nil) == (clear == nil) &&
		(t.mark == nil) == (mark == nil) &&
		(t.finalize == nil) == (finalize == nil)
}

// RegisterType assigns a stable type id for name, or returns the id of a
// prior compatible registration. size == 0 declares a variable-sized type
// usable only with AllocVariable/Malloc.
func (m *Manager) RegisterType(name string, size int, clear ClearFunc, mark MarkFunc, finalize FinalizeFunc) (TypeID, error) {
	m.lock()
	defer m.unlock()
	return m.registerType(name, size, clear, mark, finalize)
}

func (m *Manager) typeRec(t TypeID) *typeRecord {
	if t < 0 || int(t) >= len(m.types) {
		return nil
	}
	return m.types[t]
}

// TypeName returns the registered display name for t, or "" if undefined.
func (m *Manager) TypeName(t TypeID) string {
	if r := m.typeRec(t); r != nil {
		return r.name
	}
	return ""
}
