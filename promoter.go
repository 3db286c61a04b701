// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/log"
	"github.com/jetq/jetqueue/internal/timeutil"
)

// promoter is responsible for periodically moving due delayed ids into the
// waiting list.
type promoter struct {
	logger *log.Logger
	broker base.Broker
	clock  timeutil.Clock

	qname string

	// channel to communicate back to the long running "promoter" goroutine.
	done     chan struct{}
	stopOnce sync.Once

	// interval between promotion runs.
	interval time.Duration

	events *eventEmitter

	budget       *jobBudget
	onBudgetFull func()

	errLogLimiter *rate.Limiter
}

type promoterParams struct {
	logger       *log.Logger
	broker       base.Broker
	qname        string
	clock        timeutil.Clock
	interval     time.Duration
	events       *eventEmitter
	budget       *jobBudget
	onBudgetFull func()
}

func newPromoter(params promoterParams) *promoter {
	return &promoter{
		logger:        params.logger,
		broker:        params.broker,
		clock:         params.clock,
		qname:         params.qname,
		done:          make(chan struct{}),
		interval:      params.interval,
		events:        params.events,
		budget:        params.budget,
		onBudgetFull:  params.onBudgetFull,
		errLogLimiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
	}
}

func (p *promoter) shutdown() {
	p.stopOnce.Do(func() {
		p.logger.Debug("Promoter shutting down...")
		close(p.done)
	})
}

func (p *promoter) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(p.interval)
		for {
			select {
			case <-p.done:
				p.logger.Debug("Promoter done")
				timer.Stop()
				return
			case <-timer.C:
				p.exec()
				timer.Reset(p.interval)
			}
		}
	}()
}

func (p *promoter) exec() {
	if p.budget.full() {
		return
	}
	ctx := context.Background()
	ids, err := p.broker.Promote(ctx, p.qname, p.clock.Now().UnixMilli())
	if err != nil {
		p.events.emit(Event{Type: EventError, Err: err})
		if p.errLogLimiter.Allow() {
			p.logger.Errorf("Promoter redis error: %v", err)
		}
		return
	}
	if len(ids) > 0 {
		p.logger.Debugf("Promoted %d delayed jobs", len(ids))
	}
	if p.budget.add(len(ids)) {
		p.onBudgetFull()
	}
}
