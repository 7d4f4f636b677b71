// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

// Finalizer execution, shared by the in-heap and spill reclaim paths in
// sweep.go. Grounded on _examples/yaofei517-go/src/runtime/mfinal.go's
// resurrection handling (queuefinalizer/runfinq), adapted from an
// asynchronous queue drained by a dedicated goroutine to a synchronous
// call made on the single mutator thread, per spec.md section 5.
//
// A finalizer runs at most once per object (spec.md section 8, property
// 6): sweep.go checks the "already finalized" flag (nibbleFinal in the
// heap bitmap, spillEntry.finalized in the spill index) before invoking and
// sets it unconditionally afterward, regardless of the resurrection verdict,
// so a resurrected object's second collection reclaims it without
// re-running the finalizer (spec.md section 8, end-to-end scenario 5).

// invokeFinalizer runs fin once against obj. A panic from fin is a
// "finalizer error" under spec.md section 7 and is allowed to propagate
// after being logged, matching the "abort with diagnostic" policy; it is
// re-panicked here, never swallowed.
func (m *Manager) invokeFinalizer(fin FinalizeFunc, obj []byte) (resurrected bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.logf("FATAL: finalizer panicked: %v", r)
			panic(r)
		}
	}()
	ok := fin(obj)
	return !ok
}

func (m *Manager) runNotify(a Addr) {
	if m.notifyCB == nil {
		m.fatalf("notify: reclaiming %v with notify set but no notify callback was supplied to Init", a)
	}
	m.notifyCB(a)
}
