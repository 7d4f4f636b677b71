// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package libcmm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pages is the host page provider: a single anonymous mapping backing the
// block heap (spec.md section 6, Init's "allocate block heap of
// max(npages, MIN_BLOCKS) x BLOCKSIZE bytes"). Unlike a plain
// make([]byte, n), an mmap'd region has a stable address never moved or
// scanned by the Go runtime's own collector, matching the spec's
// expectation of a heap the manager alone administers.
type pages struct {
	mem []byte
}

func newPages(nbytes int) (*pages, error) {
	mem, err := unix.Mmap(-1, 0, nbytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("libcmm: mmap %d bytes: %w", nbytes, err)
	}
	return &pages{mem: mem}, nil
}

func (p *pages) base() Addr {
	return addrOf(unsafe.Pointer(&p.mem[0]))
}

func (p *pages) bytes() []byte {
	return p.mem
}

func (p *pages) close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
