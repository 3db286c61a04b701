// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import "errors"

// Errors surfaced by the producer and worker. They fall into three
// categories: queue errors cover connectivity and producer misuse, job
// errors cover operations on individual records, and worker errors cover
// handler registration and execution limits.
var (
	// ErrQueueClosed indicates the producer has been closed and no longer
	// accepts operations.
	ErrQueueClosed = errors.New("jetqueue: queue is closed")

	// ErrWorkerClosed indicates that the operation is now illegal because
	// the worker has been shut down.
	ErrWorkerClosed = errors.New("jetqueue: worker is closed")

	// ErrDuplicateHandler indicates a second handler was installed on a
	// worker that already has one.
	ErrDuplicateHandler = errors.New("jetqueue: handler already registered")

	// ErrJobMalformed indicates a record was present but could not be
	// decoded.
	ErrJobMalformed = errors.New("jetqueue: malformed job record")
)

// ErrJobTimeout is recorded as the failure reason when an attempt exceeds
// its per-attempt wall-clock cap. The handler itself is not interrupted;
// the engine abandons its result.
var ErrJobTimeout = errors.New("Job timeout")
