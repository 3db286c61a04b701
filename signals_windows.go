// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build windows

package jetqueue

import (
	"os"
	"os/signal"
)

// waitForSignals blocks until the process is interrupted. Windows has no
// job-control signals, so pause and resume are API-only there.
func (w *Worker) waitForSignals() {
	w.logger.Info("Listening for signals...")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	<-sigCh
}
