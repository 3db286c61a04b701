// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/log"
	"github.com/jetq/jetqueue/internal/rdb"
	"github.com/jetq/jetqueue/internal/timeutil"
)

// Worker pulls jobs off a queue and processes them.
//
// If the processing of a job is unsuccessful, worker will schedule it for
// a retry with backoff. A job will be retried until either it gets
// processed successfully or until it reaches its max attempt count, at
// which point it moves to the terminal failed state.
type Worker struct {
	*eventEmitter

	logger *log.Logger
	broker base.Broker
	clock  timeutil.Clock

	qname  string
	prefix string

	concurrency int
	maxJobs     int
	baseCtxFn   func() context.Context

	// loop cadence; fixed in production, shortened in tests.
	dispatchIdleInterval time.Duration
	promoteInterval      time.Duration

	healthcheckFunc     func(error)
	healthcheckInterval time.Duration

	state *workerState

	mu      sync.Mutex
	handler Handler

	// wait group to wait for all goroutines to finish.
	wg            sync.WaitGroup
	dispatcher    *dispatcher
	promoter      *promoter
	healthchecker *healthchecker

	budget     *jobBudget
	finishOnce sync.Once
}

type workerState struct {
	mu    sync.Mutex
	value workerStateValue
}

type workerStateValue int

const (
	// workerStateNew represents a new worker.
	workerStateNew workerStateValue = iota

	// workerStateActive indicates the worker is up and processing.
	workerStateActive

	// workerStateStopped indicates the worker is up but no longer
	// dispatching new jobs.
	workerStateStopped

	// workerStateClosed indicates the worker has been shutdown.
	workerStateClosed
)

var workerStates = []string{
	"new",
	"active",
	"stopped",
	"closed",
}

func (s workerStateValue) String() string {
	if workerStateNew <= s && s <= workerStateClosed {
		return workerStates[s]
	}
	return "unknown status"
}

// WorkerConfig specifies the worker's job processing behavior.
type WorkerConfig struct {
	// Connection identifies the redis endpoint. The zero value connects
	// to localhost:6379.
	Connection ConnectionOptions

	// Prefix is the key prefix for all redis keys of the queue.
	//
	// If unset, "jet" is used.
	Prefix string

	// Concurrency is the maximum number of jobs processed in parallel.
	//
	// If set to a zero or negative value, 1 is used.
	Concurrency int

	// MaxJobsPerWorker caps the number of jobs this worker handles before
	// shutting itself down. Dispatched and promoted ids count toward one
	// shared budget.
	//
	// If unset or zero, the worker runs unbounded.
	MaxJobsPerWorker int

	// BaseContext optionally specifies a function that returns the base
	// context for handler invocations on this worker.
	//
	// If BaseContext is nil, the default is context.Background().
	BaseContext func() context.Context

	// Logger specifies the logger used by the worker instance.
	//
	// If unset, default logger is used.
	Logger Logger

	// LogLevel specifies the minimum log level to enable.
	//
	// If unset, InfoLevel is used by default.
	LogLevel LogLevel

	// HealthCheckFunc is called periodically with any errors encountered
	// during ping to the connected redis server.
	HealthCheckFunc func(error)

	// HealthCheckInterval specifies the interval between healthchecks.
	//
	// If unset or zero, the interval is set to 15 seconds.
	HealthCheckInterval time.Duration
}

// A Handler processes jobs.
//
// ProcessJob should return the job's result if processing succeeded, or a
// non-nil error to trigger the retry path. Handlers must tolerate being
// invoked more than once for the same logical work: delivery is
// at-least-once.
//
// The context carries the per-attempt deadline when the job has a timeout
// option. The engine does not interrupt a handler that overruns; it
// abandons the result, so handlers that can stop early should honor the
// context.
type Handler interface {
	ProcessJob(ctx context.Context, job *Job) ([]byte, error)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as a Handler.
type HandlerFunc func(ctx context.Context, job *Job) ([]byte, error)

// ProcessJob calls fn(ctx, job)
func (fn HandlerFunc) ProcessJob(ctx context.Context, job *Job) ([]byte, error) {
	return fn(ctx, job)
}

// Logger supports logging at various log levels.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// LogLevel represents logging level.
type LogLevel int32

const (
	// Note: reserving value zero to differentiate unspecified case.
	level_unspecified LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String is part of the flag.Value interface.
func (l *LogLevel) String() string {
	switch *l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FatalLevel:
		return "fatal"
	}
	panic(fmt.Sprintf("jetqueue: unexpected log level: %v", *l))
}

// Set is part of the flag.Value interface.
func (l *LogLevel) Set(val string) error {
	switch strings.ToLower(val) {
	case "debug":
		*l = DebugLevel
	case "info":
		*l = InfoLevel
	case "warn", "warning":
		*l = WarnLevel
	case "error":
		*l = ErrorLevel
	case "fatal":
		*l = FatalLevel
	default:
		return fmt.Errorf("jetqueue: unsupported log level %q", val)
	}
	return nil
}

func toInternalLogLevel(l LogLevel) log.Level {
	switch l {
	case DebugLevel:
		return log.DebugLevel
	case InfoLevel:
		return log.InfoLevel
	case WarnLevel:
		return log.WarnLevel
	case ErrorLevel:
		return log.ErrorLevel
	case FatalLevel:
		return log.FatalLevel
	}
	panic(fmt.Sprintf("jetqueue: unexpected log level: %v", l))
}

const (
	defaultDispatchIdleInterval = 100 * time.Millisecond
	defaultPromoteInterval      = 1 * time.Second
	defaultHealthCheckInterval  = 15 * time.Second
)

// jobBudget counts handled ids toward the worker's MaxJobsPerWorker cap.
// Dispatcher and promoter share one budget; whichever loop crosses the cap
// triggers a single graceful shutdown.
type jobBudget struct {
	max   int
	count atomic.Int64
}

// add records n handled ids and reports whether this call crossed the cap.
func (b *jobBudget) add(n int) bool {
	if b.max <= 0 || n == 0 {
		return false
	}
	after := b.count.Add(int64(n))
	return after >= int64(b.max) && after-int64(n) < int64(b.max)
}

// full reports whether the cap has been reached.
func (b *jobBudget) full() bool {
	return b.max > 0 && b.count.Load() >= int64(b.max)
}

// NewWorker returns a worker for the named queue, obtaining its client
// from the process-wide connection registry. It emits the ready event once
// the connection is primed.
func NewWorker(qname string, cfg WorkerConfig) (*Worker, error) {
	if err := base.ValidateQueueName(qname); err != nil {
		return nil, fmt.Errorf("jetqueue: %v", err)
	}
	client, err := getConnection(cfg.Connection)
	if err != nil {
		return nil, err
	}
	return newWorker(qname, client, cfg), nil
}

// NewWorkerFromRedisClient returns a worker for the named queue using an
// existing redis client. The caller remains responsible for closing the
// client.
func NewWorkerFromRedisClient(qname string, client redis.UniversalClient, cfg WorkerConfig) (*Worker, error) {
	if err := base.ValidateQueueName(qname); err != nil {
		return nil, fmt.Errorf("jetqueue: %v", err)
	}
	return newWorker(qname, client, cfg), nil
}

func newWorker(qname string, client redis.UniversalClient, cfg WorkerConfig) *Worker {
	logger := log.NewLogger(cfg.Logger)
	loglevel := cfg.LogLevel
	if loglevel == level_unspecified {
		loglevel = InfoLevel
	}
	logger.SetLevel(toInternalLogLevel(loglevel))

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	baseCtxFn := cfg.BaseContext
	if baseCtxFn == nil {
		baseCtxFn = context.Background
	}
	healthcheckInterval := cfg.HealthCheckInterval
	if healthcheckInterval == 0 {
		healthcheckInterval = defaultHealthCheckInterval
	}

	w := &Worker{
		eventEmitter:         newEventEmitter(),
		logger:               logger,
		broker:               rdb.NewRDB(client, prefix),
		clock:                timeutil.NewRealClock(),
		qname:                qname,
		prefix:               prefix,
		concurrency:          concurrency,
		maxJobs:              cfg.MaxJobsPerWorker,
		baseCtxFn:            baseCtxFn,
		dispatchIdleInterval: defaultDispatchIdleInterval,
		promoteInterval:      defaultPromoteInterval,
		healthcheckFunc:      cfg.HealthCheckFunc,
		healthcheckInterval:  healthcheckInterval,
		state:                &workerState{value: workerStateNew},
		budget:               &jobBudget{max: cfg.MaxJobsPerWorker},
	}
	w.emit(Event{Type: EventReady})
	return w
}

// Process installs the handler and starts the dispatcher and promoter
// loops. A worker accepts exactly one handler; installing a second one
// returns ErrDuplicateHandler.
func (w *Worker) Process(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("jetqueue: worker cannot run with nil handler")
	}
	w.mu.Lock()
	if w.handler != nil {
		w.mu.Unlock()
		return ErrDuplicateHandler
	}
	w.handler = handler
	w.mu.Unlock()

	if err := w.start(); err != nil {
		return err
	}
	w.logger.Info("Starting processing")
	w.startLoops()
	if w.healthcheckFunc != nil {
		w.healthchecker = newHealthChecker(healthcheckerParams{
			logger:          w.logger,
			broker:          w.broker,
			interval:        w.healthcheckInterval,
			healthcheckFunc: w.healthcheckFunc,
		})
		w.healthchecker.start(&w.wg)
	}
	return nil
}

// Run installs the handler and blocks until an os signal to exit the
// program is received. Once it receives a signal, it gracefully shuts down
// all in-flight jobs and loops.
func (w *Worker) Run(handler Handler) error {
	if err := w.Process(handler); err != nil {
		return err
	}
	w.waitForSignals()
	w.Close()
	return nil
}

// Checks worker state and returns an error if pre-condition is not met.
// Otherwise it sets the worker state to active.
func (w *Worker) start() error {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	switch w.state.value {
	case workerStateActive:
		return fmt.Errorf("jetqueue: the worker is already running")
	case workerStateClosed:
		return ErrWorkerClosed
	}
	w.state.value = workerStateActive
	return nil
}

// startLoops creates and starts fresh dispatcher and promoter loops.
func (w *Worker) startLoops() {
	w.dispatcher = newDispatcher(dispatcherParams{
		logger:       w.logger,
		broker:       w.broker,
		qname:        w.qname,
		clock:        w.clock,
		handler:      w.handler,
		baseCtxFn:    w.baseCtxFn,
		concurrency:  w.concurrency,
		idleInterval: w.dispatchIdleInterval,
		events:       w.eventEmitter,
		budget:       w.budget,
		onBudgetFull: w.finishOnBudget,
	})
	w.promoter = newPromoter(promoterParams{
		logger:       w.logger,
		broker:       w.broker,
		qname:        w.qname,
		clock:        w.clock,
		interval:     w.promoteInterval,
		events:       w.eventEmitter,
		budget:       w.budget,
		onBudgetFull: w.finishOnBudget,
	})
	w.dispatcher.start(&w.wg)
	w.promoter.start(&w.wg)
}

// Pause signals the worker to stop pulling new jobs off the queue.
// In-flight jobs continue to completion.
func (w *Worker) Pause() {
	w.state.mu.Lock()
	if w.state.value != workerStateActive {
		w.state.mu.Unlock()
		return
	}
	w.state.value = workerStateStopped
	w.state.mu.Unlock()

	w.logger.Info("Pausing dispatch")
	w.dispatcher.shutdown()
	w.promoter.shutdown()
	w.emit(Event{Type: EventPaused})
}

// Resume restarts the dispatcher and promoter loops of a paused worker.
func (w *Worker) Resume() {
	w.state.mu.Lock()
	if w.state.value != workerStateStopped {
		w.state.mu.Unlock()
		return
	}
	w.state.value = workerStateActive
	w.state.mu.Unlock()

	w.logger.Info("Resuming dispatch")
	w.startLoops()
	w.emit(Event{Type: EventResumed})
}

// Close gracefully shuts down the worker: it stops both loops, waits for
// in-flight jobs to drain, and emits the closed event. It does not close
// the shared client; that belongs to the connection registry. Safe to call
// multiple times.
func (w *Worker) Close() {
	w.closeInternal("")
}

// finishOnBudget runs the one graceful shutdown triggered by the shared
// job budget reaching MaxJobsPerWorker.
func (w *Worker) finishOnBudget() {
	w.finishOnce.Do(func() {
		go w.closeInternal(fmt.Sprintf("worker processed maximum of %d jobs", w.maxJobs))
	})
}

func (w *Worker) closeInternal(summary string) {
	w.state.mu.Lock()
	if w.state.value == workerStateNew || w.state.value == workerStateClosed {
		w.state.mu.Unlock()
		return
	}
	prev := w.state.value
	w.state.value = workerStateClosed
	w.state.mu.Unlock()

	w.logger.Info("Starting graceful shutdown")
	if prev == workerStateActive {
		w.dispatcher.shutdown()
		w.promoter.shutdown()
	}
	if w.healthchecker != nil {
		w.healthchecker.shutdown()
	}
	w.wg.Wait()

	if summary != "" {
		w.emit(Event{Type: EventCompleted, Message: summary})
	}
	w.emit(Event{Type: EventClosed})
	w.logger.Info("Exiting")
}

// Ping performs a ping against the redis connection. It returns nil on a
// closed worker.
func (w *Worker) Ping() error {
	w.state.mu.Lock()
	defer w.state.mu.Unlock()
	if w.state.value == workerStateClosed {
		return nil
	}
	return w.broker.Ping(context.Background())
}

// ProcessedCount returns the number of ids counted against the worker's
// job budget so far.
func (w *Worker) ProcessedCount() int {
	return int(w.budget.count.Load())
}
