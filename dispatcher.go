// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/errors"
	"github.com/jetq/jetqueue/internal/log"
	"github.com/jetq/jetqueue/internal/timeutil"
)

// dispatcher is responsible for pulling waiting ids into the active list
// and running the handler for each, with at most `concurrency` jobs in
// flight at once.
type dispatcher struct {
	logger *log.Logger
	broker base.Broker
	clock  timeutil.Clock

	qname     string
	handler   Handler
	baseCtxFn func() context.Context

	// sema is a counting semaphore to ensure the number of active jobs
	// does not exceed the limit.
	sema chan struct{}

	// channel to communicate back to the long running "dispatcher" goroutine.
	done     chan struct{}
	stopOnce sync.Once

	// interval to sleep when the queue is empty or paused.
	idleInterval time.Duration

	events *eventEmitter

	budget       *jobBudget
	onBudgetFull func()

	// rate limit the error logs emitted while redis is unreachable, so an
	// outage does not flood the log.
	errLogLimiter *rate.Limiter
}

type dispatcherParams struct {
	logger       *log.Logger
	broker       base.Broker
	qname        string
	clock        timeutil.Clock
	handler      Handler
	baseCtxFn    func() context.Context
	concurrency  int
	idleInterval time.Duration
	events       *eventEmitter
	budget       *jobBudget
	onBudgetFull func()
}

func newDispatcher(params dispatcherParams) *dispatcher {
	return &dispatcher{
		logger:        params.logger,
		broker:        params.broker,
		clock:         params.clock,
		qname:         params.qname,
		handler:       params.handler,
		baseCtxFn:     params.baseCtxFn,
		sema:          make(chan struct{}, params.concurrency),
		done:          make(chan struct{}),
		idleInterval:  params.idleInterval,
		events:        params.events,
		budget:        params.budget,
		onBudgetFull:  params.onBudgetFull,
		errLogLimiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
	}
}

func (d *dispatcher) shutdown() {
	d.stopOnce.Do(func() {
		d.logger.Debug("Dispatcher shutting down...")
		close(d.done)
	})
}

func (d *dispatcher) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-d.done:
				d.logger.Debug("Dispatcher done")
				return
			default:
				d.exec(wg)
			}
		}
	}()
}

// exec runs one dispatcher iteration: acquire a concurrency slot, check the
// pause flag, pop one waiting id, and hand it to a goroutine.
func (d *dispatcher) exec(wg *sync.WaitGroup) {
	// Stop accepting new work once the job budget is exhausted; shutdown
	// is already on its way.
	if d.budget.full() {
		d.sleep(d.idleInterval)
		return
	}

	// Block until any one in-flight job finishes when at capacity.
	select {
	case d.sema <- struct{}{}:
	case <-d.done:
		return
	}

	ctx := context.Background()
	paused, err := d.broker.IsPaused(ctx, d.qname)
	if err != nil {
		<-d.sema
		d.handleRedisError(err)
		d.sleep(d.idleInterval)
		return
	}
	if paused {
		<-d.sema
		d.sleep(d.idleInterval)
		return
	}

	id, err := d.broker.Dequeue(ctx, d.qname, d.clock.Now().UnixMilli())
	if err != nil {
		<-d.sema
		d.handleRedisError(err)
		d.sleep(d.idleInterval)
		return
	}
	if id == "" {
		<-d.sema
		d.sleep(d.idleInterval)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-d.sema }()
		d.perform(ctx, id)
	}()

	if d.budget.add(1) {
		d.onBudgetFull()
	}
}

// perform drives one dispatched id through handler execution and its
// terminal transition.
func (d *dispatcher) perform(ctx context.Context, id string) {
	data, err := d.broker.GetJob(ctx, d.qname, id)
	if err != nil {
		if errors.IsJobNotFound(err) {
			// The record was removed while the id was in flight. The
			// caller requested deletion; drop silently.
			return
		}
		d.handleRedisError(err)
		return
	}
	job, err := decodeJob(data)
	if err != nil {
		d.logger.Errorf("Cannot decode job id=%s: %v", id, err)
		d.events.emit(Event{Type: EventError, JobID: id, Err: fmt.Errorf("%w: %v", ErrJobMalformed, err)})
		// Park the record out of the active list untouched; it stays
		// inspectable under its job key.
		if _, ferr := d.broker.FailJob(ctx, d.qname, id, data, false); ferr != nil {
			d.handleRedisError(ferr)
		}
		return
	}

	job.Status = StatusActive
	d.events.emit(Event{Type: EventProcessing, Job: job})

	result, err := d.invokeHandler(job)
	if err != nil {
		d.handleFailure(ctx, job, err)
		return
	}

	job.Status = StatusCompleted
	job.ReturnValue = result
	encoded, err := encodeJob(job)
	if err != nil {
		d.logger.Errorf("Cannot encode job id=%s: %v", job.ID, err)
		return
	}
	applied, err := d.broker.CompleteJob(ctx, d.qname, job.ID, encoded, job.Options.RemoveOnComplete)
	if err != nil {
		d.handleRedisError(err)
		return
	}
	if !applied {
		// Removed mid-flight; the transition was skipped.
		return
	}
	d.events.emit(Event{Type: EventCompleted, Job: job, Result: result})
}

// invokeHandler runs the handler, racing it against the per-attempt
// timeout when one is configured. A timer win abandons the handler's
// eventual result; the context deadline lets cooperative handlers stop.
func (d *dispatcher) invokeHandler(job *Job) ([]byte, error) {
	type handlerResult struct {
		data []byte
		err  error
	}
	resCh := make(chan handlerResult, 1)

	ctx := d.baseCtxFn()
	timeout := job.Options.timeout()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	go func() {
		defer func() {
			if v := recover(); v != nil {
				resCh <- handlerResult{nil, fmt.Errorf("panic: %v", v)}
			}
		}()
		data, err := d.handler.ProcessJob(ctx, job)
		resCh <- handlerResult{data, err}
	}()

	if timeout == 0 {
		res := <-resCh
		return res.data, res.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-resCh:
		return res.data, res.err
	case <-timer.C:
		return nil, ErrJobTimeout
	}
}

// handleFailure runs the retry-or-fail path for an attempt that returned
// an error.
func (d *dispatcher) handleFailure(ctx context.Context, job *Job, handlerErr error) {
	job.AttemptsMade++
	job.FailedReason = handlerErr.Error()
	job.StackTrace = append(job.StackTrace, handlerErr.Error())

	if job.AttemptsMade < job.Options.maxAttempts() {
		delay := retryBackoff(job.AttemptsMade, job.Options)
		job.Status = StatusDelayed
		encoded, err := encodeJob(job)
		if err != nil {
			d.logger.Errorf("Cannot encode job id=%s: %v", job.ID, err)
			return
		}
		processAt := d.clock.Now().Add(delay).UnixMilli()
		applied, err := d.broker.RetryJob(ctx, d.qname, job.ID, encoded, processAt)
		if err != nil {
			d.handleRedisError(err)
			return
		}
		if !applied {
			return
		}
		d.events.emit(Event{Type: EventFailed, Job: job, Err: handlerErr})
		d.events.emit(Event{Type: EventRetrying, Job: job})
		return
	}

	job.Status = StatusFailed
	encoded, err := encodeJob(job)
	if err != nil {
		d.logger.Errorf("Cannot encode job id=%s: %v", job.ID, err)
		return
	}
	applied, err := d.broker.FailJob(ctx, d.qname, job.ID, encoded, job.Options.RemoveOnFail)
	if err != nil {
		d.handleRedisError(err)
		return
	}
	if !applied {
		return
	}
	d.events.emit(Event{Type: EventFailed, Job: job, Err: handlerErr})
}

func (d *dispatcher) handleRedisError(err error) {
	d.events.emit(Event{Type: EventError, Err: err})
	if d.errLogLimiter.Allow() {
		d.logger.Errorf("Dispatcher redis error: %v", err)
	}
}

// sleep waits for the given duration or until shutdown, whichever is first.
func (d *dispatcher) sleep(dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.done:
	}
}
