// Copyright (c) 2009, Ralf Juengling. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package libcmm

import (
	"log"
	"os"
)

// logger wraps the *log.Logger a client hands Init (or the manager's own
// default, writing to stderr) and gates verbose trace lines behind
// SetDebug, matching spec.md section 6: "init(npages, notify_cb, log)
// takes a standard logger; diagnostics ... are written through it."
type logger struct {
	l     *log.Logger
	debug bool
}

func newLogger(l *log.Logger) *logger {
	if l == nil {
		l = log.New(os.Stderr, "libcmm: ", log.LstdFlags)
	}
	return &logger{l: l}
}

func (lg *logger) logf(format string, args ...interface{}) {
	if lg == nil || lg.l == nil {
		return
	}
	lg.l.Printf(format, args...)
}

func (lg *logger) tracef(format string, args ...interface{}) {
	if lg == nil || !lg.debug {
		return
	}
	lg.logf("trace: "+format, args...)
}
