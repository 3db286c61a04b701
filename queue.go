// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/errors"
	"github.com/jetq/jetqueue/internal/log"
	"github.com/jetq/jetqueue/internal/rdb"
	"github.com/jetq/jetqueue/internal/timeutil"
)

// QueueConfig specifies the producer side of a named queue.
type QueueConfig struct {
	// Connection identifies the redis endpoint. The zero value connects
	// to localhost:6379.
	Connection ConnectionOptions

	// Prefix is the key prefix for all redis keys of the queue.
	//
	// If unset, "jet" is used.
	Prefix string

	// DefaultJobOptions are merged under the options given to Add.
	DefaultJobOptions JobOptions

	// Logger specifies the logger used by this queue instance.
	//
	// If unset, default logger is used.
	Logger Logger

	// LogLevel specifies the minimum log level to enable.
	//
	// If unset, InfoLevel is used by default.
	LogLevel LogLevel
}

// Queue is a producer handle for a named queue. It enqueues new jobs,
// inspects and removes records, and toggles the queue-wide pause flag.
//
// A Queue is safe for concurrent use by multiple goroutines.
type Queue struct {
	*eventEmitter

	name   string
	prefix string
	broker base.Broker
	logger *log.Logger
	clock  timeutil.Clock

	defaults JobOptions

	mu     sync.Mutex
	closed bool
}

// NewQueue returns a producer for the named queue, obtaining its client
// from the process-wide connection registry. It emits the ready event once
// the connection is primed.
func NewQueue(name string, cfg QueueConfig) (*Queue, error) {
	if err := base.ValidateQueueName(name); err != nil {
		return nil, fmt.Errorf("jetqueue: %v", err)
	}
	client, err := getConnection(cfg.Connection)
	if err != nil {
		return nil, err
	}
	return newQueue(name, client, cfg), nil
}

// NewQueueFromRedisClient returns a producer for the named queue using an
// existing redis client. The caller remains responsible for closing the
// client.
func NewQueueFromRedisClient(name string, client redis.UniversalClient, cfg QueueConfig) (*Queue, error) {
	if err := base.ValidateQueueName(name); err != nil {
		return nil, fmt.Errorf("jetqueue: %v", err)
	}
	return newQueue(name, client, cfg), nil
}

func newQueue(name string, client redis.UniversalClient, cfg QueueConfig) *Queue {
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
	q := &Queue{
		eventEmitter: newEventEmitter(),
		name:         name,
		prefix:       prefix,
		broker:       rdb.NewRDB(client, prefix),
		logger:       logger,
		clock:        timeutil.NewRealClock(),
		defaults:     cfg.DefaultJobOptions,
	}
	q.emit(Event{Type: EventReady})
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Prefix returns the redis key prefix of the queue.
func (q *Queue) Prefix() string { return q.prefix }

// Add enqueues a new job. The given options are merged over the queue's
// DefaultJobOptions; a positive Delay puts the job into the delayed state,
// otherwise it goes straight to waiting. Returns the enqueued job.
func (q *Queue) Add(ctx context.Context, name string, data []byte, opts *JobOptions) (*Job, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrQueueClosed
	}

	now := q.clock.Now()
	merged := mergeOptions(q.defaults, opts)
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Data:      data,
		Options:   merged,
		CreatedAt: now.UnixMilli(),
		Status:    StatusWaiting,
	}
	if merged.Delay > 0 {
		job.Status = StatusDelayed
	}

	encoded, err := encodeJob(job)
	if err != nil {
		return nil, fmt.Errorf("jetqueue: cannot encode job: %w", err)
	}
	if merged.Delay > 0 {
		err = q.broker.Schedule(ctx, q.name, job.ID, encoded, now.UnixMilli()+merged.Delay)
	} else {
		err = q.broker.Enqueue(ctx, q.name, job.ID, encoded)
	}
	if err != nil {
		return nil, err
	}
	q.emit(Event{Type: EventAdded, Job: job})
	return job, nil
}

// GetJob reads and deserializes the record for the given id.
// It returns (nil, nil) when no record exists; errors are reserved for
// unreachable redis and undecodable records.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.broker.GetJob(ctx, q.name, id)
	if err != nil {
		if errors.IsJobNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	job, err := decodeJob(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobMalformed, err)
	}
	return job, nil
}

// RemoveJob removes the id from every collection and deletes the record.
// Removing an id twice, or one that never existed, is not an error.
func (q *Queue) RemoveJob(ctx context.Context, id string) error {
	if err := q.broker.RemoveJob(ctx, q.name, id); err != nil {
		return err
	}
	q.emit(Event{Type: EventRemoved, JobID: id})
	return nil
}

// Pause sets the queue-wide pause flag. A paused queue still accepts Add;
// the flag gates worker dispatch only.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.broker.Pause(ctx, q.name); err != nil {
		return err
	}
	q.emit(Event{Type: EventPaused})
	return nil
}

// Resume clears the queue-wide pause flag.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.broker.Resume(ctx, q.name); err != nil {
		return err
	}
	q.emit(Event{Type: EventResumed})
	return nil
}

// IsPaused reports whether the pause flag is set.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.broker.IsPaused(ctx, q.name)
}

// QueueStats holds the size of each collection of a queue.
type QueueStats struct {
	Waiting int64
	Active  int64
	Delayed int64
}

// CountsByStatus reads the size of each collection in one pipelined
// transaction. The numbers are a snapshot: precise in quiescence,
// approximate under load.
func (q *Queue) CountsByStatus(ctx context.Context) (QueueStats, error) {
	counts, err := q.broker.Counts(ctx, q.name)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{
		Waiting: counts.Waiting,
		Active:  counts.Active,
		Delayed: counts.Delayed,
	}, nil
}

// Count returns the total number of jobs across waiting, active, and
// delayed.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	counts, err := q.broker.Counts(ctx, q.name)
	if err != nil {
		return 0, err
	}
	return counts.Total(), nil
}

// Close marks the producer not-ready and emits the closed event. It does
// not close the shared client; that belongs to the connection registry.
// Safe to call multiple times.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.emit(Event{Type: EventClosed})
	return nil
}
