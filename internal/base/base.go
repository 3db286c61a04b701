// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines foundational types and constants used in jetqueue package.
package base

import (
	"context"
	"fmt"
	"strings"
)

// Version of jetqueue library.
const Version = "1.0.0"

// DefaultPrefix is the key prefix used if none is specified by user.
const DefaultPrefix = "jet"

// ValidateQueueName validates a given qname to be used as a queue name.
// Returns nil if valid, otherwise returns non-nil error.
func ValidateQueueName(qname string) error {
	if len(strings.TrimSpace(qname)) == 0 {
		return fmt.Errorf("queue name must contain one or more characters")
	}
	return nil
}

// QueueKeyPrefix returns a prefix for all keys in the given queue.
//
// The queue name is hash-tagged so that all keys of a single queue
// hash to the same cluster slot.
func QueueKeyPrefix(prefix, qname string) string {
	return prefix + ":{" + qname + "}:"
}

// WaitingKey returns a redis key for the ids awaiting dispatch.
func WaitingKey(prefix, qname string) string {
	return QueueKeyPrefix(prefix, qname) + "waiting"
}

// ActiveKey returns a redis key for the ids currently executing.
func ActiveKey(prefix, qname string) string {
	return QueueKeyPrefix(prefix, qname) + "active"
}

// DelayedKey returns a redis key for the delayed sorted set.
func DelayedKey(prefix, qname string) string {
	return QueueKeyPrefix(prefix, qname) + "delayed"
}

// PausedKey returns a redis key to indicate that the given queue is paused.
func PausedKey(prefix, qname string) string {
	return QueueKeyPrefix(prefix, qname) + "paused"
}

// JobKeyPrefix returns a prefix for job record keys.
func JobKeyPrefix(prefix, qname string) string {
	return QueueKeyPrefix(prefix, qname) + "job:"
}

// JobKey returns a redis key for the job record with the given id.
func JobKey(prefix, qname, id string) string {
	return JobKeyPrefix(prefix, qname) + id
}

// QueueCounts holds the size of each collection of a queue,
// observed in one pipelined read.
type QueueCounts struct {
	Waiting int64
	Active  int64
	Delayed int64
}

// Total returns the sum of all collection sizes.
func (c QueueCounts) Total() int64 {
	return c.Waiting + c.Active + c.Delayed
}

// Broker is a message broker that supports operations to manage job state
// in terms of queue collections and serialized job records.
//
// Job records are opaque blobs at this layer; encoding and decoding belong
// to the caller. See rdb.RDB as a reference implementation.
type Broker interface {
	Ping(ctx context.Context) error
	Close() error

	// Enqueue writes the job record and pushes the id onto the waiting
	// list in one transaction.
	Enqueue(ctx context.Context, qname, id string, data []byte) error

	// Schedule writes the job record and adds the id to the delayed set
	// with the given epoch-ms score in one transaction.
	Schedule(ctx context.Context, qname, id string, data []byte, processAt int64) error

	// Dequeue atomically moves one id from waiting to active and stamps
	// startedAt on the record. It returns an empty id when waiting is empty.
	Dequeue(ctx context.Context, qname string, now int64) (id string, err error)

	// Promote atomically moves every delayed id due at or before now into
	// the waiting list and returns the moved ids.
	Promote(ctx context.Context, qname string, now int64) ([]string, error)

	// CompleteJob removes the id from active and either deletes the record
	// or writes back its terminal form, atomically. It reports false when
	// the record had been removed mid-flight and the transition was
	// skipped.
	CompleteJob(ctx context.Context, qname, id string, data []byte, remove bool) (bool, error)

	// RetryJob removes the id from active, writes back the record, and adds
	// the id to the delayed set with the given epoch-ms score, atomically.
	// It reports false when the record had been removed mid-flight.
	RetryJob(ctx context.Context, qname, id string, data []byte, processAt int64) (bool, error)

	// FailJob removes the id from active and either deletes the record or
	// writes back its terminal form, atomically. It reports false when the
	// record had been removed mid-flight.
	FailJob(ctx context.Context, qname, id string, data []byte, remove bool) (bool, error)

	// GetJob reads the serialized record for the given id.
	// A missing record yields an error with code NotFound.
	GetJob(ctx context.Context, qname, id string) ([]byte, error)

	// RemoveJob removes the id from every collection and deletes the
	// record in one transaction. Removing an absent id is not an error.
	RemoveJob(ctx context.Context, qname, id string) error

	Pause(ctx context.Context, qname string) error
	Resume(ctx context.Context, qname string) error
	IsPaused(ctx context.Context, qname string) (bool, error)

	// Counts reads the size of each collection in one pipelined transaction.
	Counts(ctx context.Context, qname string) (QueueCounts, error)
}
