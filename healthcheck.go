// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"sync"
	"time"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/log"
)

// healthchecker is responsible for periodically checking the health of the
// redis server and invoking a user provided callback with the outcome.
type healthchecker struct {
	logger *log.Logger
	broker base.Broker

	// channel to communicate back to the long running "healthchecker" goroutine.
	done     chan struct{}
	stopOnce sync.Once

	// interval between healthchecks.
	interval time.Duration

	// user provided callback to invoke with the result of each ping.
	healthcheckFunc func(error)
}

type healthcheckerParams struct {
	logger          *log.Logger
	broker          base.Broker
	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(params healthcheckerParams) *healthchecker {
	return &healthchecker{
		logger:          params.logger,
		broker:          params.broker,
		done:            make(chan struct{}),
		interval:        params.interval,
		healthcheckFunc: params.healthcheckFunc,
	}
}

func (hc *healthchecker) shutdown() {
	hc.stopOnce.Do(func() {
		hc.logger.Debug("Healthchecker shutting down...")
		close(hc.done)
	})
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		for {
			select {
			case <-hc.done:
				hc.logger.Debug("Healthchecker done")
				timer.Stop()
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	err := hc.broker.Ping(context.Background())
	if hc.healthcheckFunc != nil {
		hc.healthcheckFunc(err)
	}
}
