// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status denotes the lifecycle state of a job.
type Status string

const (
	// StatusWaiting indicates the job is eligible for immediate dispatch.
	StatusWaiting Status = "waiting"

	// StatusActive indicates a handler is currently running for the job.
	StatusActive Status = "active"

	// StatusDelayed indicates the job becomes eligible at a future epoch.
	StatusDelayed Status = "delayed"

	// StatusCompleted indicates the handler finished successfully. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates every attempt was exhausted. Terminal.
	StatusFailed Status = "failed"
)

// BackoffType selects the retry scheduling strategy.
type BackoffType string

const (
	// BackoffFixed retries after a constant delay.
	BackoffFixed BackoffType = "fixed"

	// BackoffExponential doubles the delay on each consecutive failure.
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the retry scheduling of a failed job.
type Backoff struct {
	Type BackoffType `json:"type"`

	// Delay is the base delay in milliseconds.
	Delay int64 `json:"delay"`
}

// JobOptions control scheduling and retention of a job.
// Options are frozen at enqueue except for the retry counters.
type JobOptions struct {
	// Attempts is the maximum total number of execution attempts.
	// Zero or negative is treated as 1.
	Attempts int `json:"attempts,omitempty"`

	// Backoff configures the delay inserted between retry attempts.
	// Nil means no delay: a retry is due at once and re-enters the waiting
	// list on the next promoter run.
	Backoff *Backoff `json:"backoff,omitempty"`

	// Delay is the initial delay in milliseconds. If greater than zero
	// the job is enqueued in the delayed state.
	Delay int64 `json:"delay,omitempty"`

	// Timeout is the per-attempt wall-clock cap in milliseconds.
	// Zero means no cap.
	Timeout int64 `json:"timeout,omitempty"`

	// RemoveOnComplete deletes the record on success.
	RemoveOnComplete bool `json:"removeOnComplete,omitempty"`

	// RemoveOnFail deletes the record on terminal failure.
	RemoveOnFail bool `json:"removeOnFail,omitempty"`

	// Priority is recognized but reserved; it does not affect dispatch order.
	Priority int `json:"priority,omitempty"`
}

// maxAttempts returns the effective attempt cap.
func (o JobOptions) maxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// timeout returns the effective per-attempt cap as a duration.
func (o JobOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 0
	}
	return time.Duration(o.Timeout) * time.Millisecond
}

// mergeOptions overlays opts on top of the queue defaults. Scalar fields
// override when set to a non-zero value; boolean fields are or-ed.
func mergeOptions(defaults JobOptions, opts *JobOptions) JobOptions {
	if opts == nil {
		return defaults
	}
	merged := defaults
	if opts.Attempts != 0 {
		merged.Attempts = opts.Attempts
	}
	if opts.Backoff != nil {
		merged.Backoff = opts.Backoff
	}
	if opts.Delay != 0 {
		merged.Delay = opts.Delay
	}
	if opts.Timeout != 0 {
		merged.Timeout = opts.Timeout
	}
	if opts.Priority != 0 {
		merged.Priority = opts.Priority
	}
	merged.RemoveOnComplete = merged.RemoveOnComplete || opts.RemoveOnComplete
	merged.RemoveOnFail = merged.RemoveOnFail || opts.RemoveOnFail
	return merged
}

// Job is one unit of work with a payload and scheduling options.
// Serialized data of this type is the record written to redis.
type Job struct {
	// ID is a unique identifier assigned at enqueue; never reused.
	ID string `json:"id"`

	// Name is the handler discriminator.
	Name string `json:"name"`

	// Data holds the opaque payload needed to process the job.
	Data []byte `json:"data,omitempty"`

	// Options are the effective options after merging queue defaults.
	Options JobOptions `json:"options"`

	// CreatedAt is the enqueue time in epoch-ms.
	CreatedAt int64 `json:"createdAt"`

	// Status is the lifecycle state of the job.
	Status Status `json:"status"`

	// AttemptsMade is incremented on each failed attempt.
	AttemptsMade int `json:"attemptsMade"`

	// FailedReason holds the message of the last failure.
	FailedReason string `json:"failedReason,omitempty"`

	// StackTrace accumulates one entry per failed attempt.
	StackTrace []string `json:"stackTrace,omitempty"`

	// ReturnValue is the handler result recorded on success.
	ReturnValue []byte `json:"returnValue,omitempty"`
}

// encodeJob marshals the job record into its wire form.
func encodeJob(job *Job) ([]byte, error) {
	if job == nil {
		return nil, fmt.Errorf("cannot encode nil job")
	}
	return json.Marshal(job)
}

// decodeJob unmarshals a wire-form record.
func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// retryBackoff returns the delay before the next attempt of a job that has
// failed attemptsMade times (counted after incrementing, so always >= 1).
func retryBackoff(attemptsMade int, opts JobOptions) time.Duration {
	b := opts.Backoff
	if b == nil || attemptsMade < 1 {
		return 0
	}
	base := time.Duration(b.Delay) * time.Millisecond
	switch b.Type {
	case BackoffFixed:
		return base
	case BackoffExponential:
		return base << (attemptsMade - 1)
	default:
		return 0
	}
}
