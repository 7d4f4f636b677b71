// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package libcmm

import "unsafe"

// pages is the non-unix fallback host page provider: plain Go-allocated
// memory. It is pinned for the manager's lifetime by Manager itself, so
// it is safe to treat as a stable region the same way pages_unix.go's
// mmap'd region is, just without the real mmap/munmap syscalls.
type pages struct {
	mem []byte
}

func newPages(nbytes int) (*pages, error) {
	return &pages{mem: make([]byte, nbytes)}, nil
}

func (p *pages) base() Addr {
	return addrOf(unsafe.Pointer(&p.mem[0]))
}

func (p *pages) bytes() []byte {
	return p.mem
}

func (p *pages) close() error {
	p.mem = nil
	return nil
}
