// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package jetqueue provides a durable job queue and worker runtime backed by Redis.

Producers enqueue typed work items; workers dequeue them, execute a
user-supplied handler, and drive each item through a persistent lifecycle
(waiting, active, completed or failed, with delayed and retry re-entry).
Redis is both the shared message log and the source of truth for job state,
so independent producer and worker processes cooperate without any direct
peer-to-peer coordination.

# Features

  - At-Least-Once Delivery: handlers may run more than once for one enqueue
  - Delayed Jobs: schedule a job to become eligible at a future time
  - Concurrency Control: bounded parallel execution per worker
  - Retry with Backoff: fixed or exponential delay between attempts
  - Per-Attempt Timeout: wall-clock cap on each handler invocation
  - Queue Pause: a flag that gates worker dispatch without blocking enqueue
  - Graceful Shutdown: clean termination on OS signals

# Quick Start

Producer (enqueue jobs):

	queue, err := jetqueue.NewQueue("email", jetqueue.QueueConfig{
		Connection: jetqueue.ConnectionOptions{Host: "localhost", Port: 6379},
	})
	if err != nil {
		log.Fatal(err)
	}
	defer queue.Close()

	payload, _ := json.Marshal(map[string]int{"user_id": 42})
	job, err := queue.Add(context.Background(), "welcome", payload, nil)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Enqueued: %s", job.ID)

Worker (process jobs):

	worker, err := jetqueue.NewWorker("email", jetqueue.WorkerConfig{
		Concurrency: 10,
	})
	if err != nil {
		log.Fatal(err)
	}

	handler := jetqueue.HandlerFunc(func(ctx context.Context, job *jetqueue.Job) ([]byte, error) {
		log.Printf("Processing job: %s", job.Name)
		return nil, nil
	})

	if err := worker.Run(handler); err != nil {
		log.Fatal(err)
	}

# Job Options

Available options for Add, merged over the queue's DefaultJobOptions:

	Attempts          - Maximum total execution attempts
	Backoff           - Retry delay strategy (fixed or exponential)
	Delay             - Initial delay in milliseconds
	Timeout           - Per-attempt wall-clock cap in milliseconds
	RemoveOnComplete  - Delete the record on success
	RemoveOnFail      - Delete the record on terminal failure

# Architecture

jetqueue uses Redis as the message broker. Ids live in Redis lists (waiting,
active) and a sorted set (delayed); each job is a hash holding the
serialized record. Server-side scripts make the multi-key transitions
atomic: moveToActive pops a waiting id into the active list,
promoteDelayed moves due delayed ids back to waiting, and two guarded
scripts apply the complete, retry and fail transitions.

The Worker runs two cooperative loops:

  - Dispatcher: pops waiting ids and executes the handler, bounded by
    Concurrency
  - Promoter: moves due delayed ids into the waiting list once a second

Queues and workers in one process share a single redis client per endpoint
through a process-wide connection registry; call CloseAll on teardown.
*/
package jetqueue
