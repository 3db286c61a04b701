// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package jetqueue

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// waitForSignals blocks until a termination signal arrives. SIGTERM and
// SIGINT end the loop so Run can shut the worker down. SIGTSTP pauses
// dispatch and SIGCONT resumes it, mirroring shell job control: in-flight
// jobs drain on pause and the loops restart on resume.
func (w *Worker) waitForSignals() {
	w.logger.Info("Listening for signals...")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP, unix.SIGCONT)
	defer signal.Stop(sigCh)
	for sig := range sigCh {
		switch sig {
		case unix.SIGTSTP:
			w.Pause()
		case unix.SIGCONT:
			w.Resume()
		default:
			return
		}
	}
}
