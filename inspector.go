// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/jetq/jetqueue/internal/base"
)

// Inspector provides read-only access to jetqueue data in Redis. It is
// intended for monitoring and debugging tools; it never mutates queue
// state.
type Inspector struct {
	client redis.UniversalClient
	prefix string
}

// NewInspector creates a new Inspector over the given redis client and key
// prefix. An empty prefix means the default "jet".
func NewInspector(client redis.UniversalClient, prefix string) *Inspector {
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	return &Inspector{client: client, prefix: prefix}
}

// QueueInfo holds a snapshot of one queue.
type QueueInfo struct {
	Name    string
	Waiting int64
	Active  int64
	Delayed int64
	Paused  bool
}

// GetQueueInfo returns collection sizes and the pause flag for the queue.
func (i *Inspector) GetQueueInfo(ctx context.Context, qname string) (QueueInfo, error) {
	var (
		waiting *redis.IntCmd
		active  *redis.IntCmd
		delayed *redis.IntCmd
		paused  *redis.IntCmd
	)
	_, err := i.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, base.WaitingKey(i.prefix, qname))
		active = pipe.LLen(ctx, base.ActiveKey(i.prefix, qname))
		delayed = pipe.ZCard(ctx, base.DelayedKey(i.prefix, qname))
		paused = pipe.Exists(ctx, base.PausedKey(i.prefix, qname))
		return nil
	})
	if err != nil {
		return QueueInfo{}, fmt.Errorf("jetqueue: cannot inspect queue %q: %w", qname, err)
	}
	return QueueInfo{
		Name:    qname,
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Paused:  paused.Val() > 0,
	}, nil
}

// DelayedEntry is a delayed job together with the epoch-ms at which it
// becomes eligible for dispatch.
type DelayedEntry struct {
	Job       *Job
	ProcessAt int64
}

// ListJobs returns up to limit jobs whose ids are in the collection of the
// given status. Supported statuses are StatusWaiting, StatusActive, and
// StatusDelayed; ids whose record has been removed are skipped.
func (i *Inspector) ListJobs(ctx context.Context, qname string, status Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	var err error
	switch status {
	case StatusWaiting:
		ids, err = i.client.LRange(ctx, base.WaitingKey(i.prefix, qname), 0, int64(limit-1)).Result()
	case StatusActive:
		ids, err = i.client.LRange(ctx, base.ActiveKey(i.prefix, qname), 0, int64(limit-1)).Result()
	case StatusDelayed:
		ids, err = i.client.ZRange(ctx, base.DelayedKey(i.prefix, qname), 0, int64(limit-1)).Result()
	default:
		return nil, fmt.Errorf("jetqueue: cannot list jobs with status %q", status)
	}
	if err != nil {
		return nil, fmt.Errorf("jetqueue: cannot list %s jobs of queue %q: %w", status, qname, err)
	}

	var jobs []*Job
	for _, id := range ids {
		job, err := i.getJob(ctx, qname, id)
		if err != nil || job == nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ListDelayed returns up to limit delayed jobs in eligibility order, each
// with its scheduled dispatch time.
func (i *Inspector) ListDelayed(ctx context.Context, qname string, limit int) ([]DelayedEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	zs, err := i.client.ZRangeWithScores(ctx, base.DelayedKey(i.prefix, qname), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("jetqueue: cannot list delayed jobs of queue %q: %w", qname, err)
	}
	var entries []DelayedEntry
	for _, z := range zs {
		id, err := cast.ToStringE(z.Member)
		if err != nil {
			continue
		}
		job, err := i.getJob(ctx, qname, id)
		if err != nil || job == nil {
			continue
		}
		entries = append(entries, DelayedEntry{Job: job, ProcessAt: int64(z.Score)})
	}
	return entries, nil
}

func (i *Inspector) getJob(ctx context.Context, qname, id string) (*Job, error) {
	data, err := i.client.HGet(ctx, base.JobKey(i.prefix, qname, id), "data").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeJob([]byte(data))
}
