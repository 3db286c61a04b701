// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package rdb

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jetq/jetqueue/internal/base"
)

func setup(t *testing.T) (*RDB, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRDB(client, "jet"), client
}

func TestLoadScripts(t *testing.T) {
	_, client := setup(t)
	require.NoError(t, LoadScripts(context.Background(), client))
}

func TestEnqueueAndDequeue(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))

	ids, err := client.LRange(ctx, base.WaitingKey("jet", "default"), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"id1"}, ids)

	id, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)
	require.Equal(t, "id1", id)

	active, err := client.LRange(ctx, base.ActiveKey("jet", "default"), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"id1"}, active)

	waiting, err := client.LLen(ctx, base.WaitingKey("jet", "default")).Result()
	require.NoError(t, err)
	require.Zero(t, waiting)

	startedAt, err := client.HGet(ctx, base.JobKey("jet", "default", "id1"), "startedAt").Result()
	require.NoError(t, err)
	require.NotEmpty(t, startedAt)
}

func TestDequeueEmpty(t *testing.T) {
	r, _ := setup(t)
	id, err := r.Dequeue(context.Background(), "default", time.Now().UnixMilli())
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestDequeueIsFIFO(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "first", []byte("a")))
	require.NoError(t, r.Enqueue(ctx, "default", "second", []byte("b")))

	id, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)
	require.Equal(t, "first", id)

	id, err = r.Dequeue(ctx, "default", now)
	require.NoError(t, err)
	require.Equal(t, "second", id)
}

func TestScheduleAndPromote(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Schedule(ctx, "default", "id1", []byte("record1"), now-10))
	require.NoError(t, r.Schedule(ctx, "default", "id2", []byte("record2"), now+60_000))

	ids, err := r.Promote(ctx, "default", now)
	require.NoError(t, err)
	require.Equal(t, []string{"id1"}, ids)

	waiting, err := client.LRange(ctx, base.WaitingKey("jet", "default"), 0, -1).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"id1"}, waiting)

	// id2 is not due yet.
	delayed, err := client.ZCard(ctx, base.DelayedKey("jet", "default")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, delayed)

	// A second run moves nothing; each id is promoted at most once.
	ids, err = r.Promote(ctx, "default", now)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestCompleteJobWriteBack(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)

	applied, err := r.CompleteJob(ctx, "default", "id1", []byte("terminal"), false)
	require.NoError(t, err)
	require.True(t, applied)

	active, err := client.LLen(ctx, base.ActiveKey("jet", "default")).Result()
	require.NoError(t, err)
	require.Zero(t, active)

	data, err := client.HGet(ctx, base.JobKey("jet", "default", "id1"), "data").Result()
	require.NoError(t, err)
	require.Equal(t, "terminal", data)
}

func TestCompleteJobRemove(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)

	applied, err := r.CompleteJob(ctx, "default", "id1", []byte("terminal"), true)
	require.NoError(t, err)
	require.True(t, applied)

	exists, err := client.Exists(ctx, base.JobKey("jet", "default", "id1")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestCompleteJobSkippedWhenRecordGone(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)

	// The record is removed while the id is in flight.
	require.NoError(t, r.RemoveJob(ctx, "default", "id1"))

	applied, err := r.CompleteJob(ctx, "default", "id1", []byte("terminal"), false)
	require.NoError(t, err)
	require.False(t, applied)

	// The transition must not resurrect the record.
	exists, err := client.Exists(ctx, base.JobKey("jet", "default", "id1")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestRetryJob(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)

	processAt := now + 500
	applied, err := r.RetryJob(ctx, "default", "id1", []byte("retried"), processAt)
	require.NoError(t, err)
	require.True(t, applied)

	active, err := client.LLen(ctx, base.ActiveKey("jet", "default")).Result()
	require.NoError(t, err)
	require.Zero(t, active)

	score, err := client.ZScore(ctx, base.DelayedKey("jet", "default"), "id1").Result()
	require.NoError(t, err)
	require.EqualValues(t, processAt, score)

	data, err := client.HGet(ctx, base.JobKey("jet", "default", "id1"), "data").Result()
	require.NoError(t, err)
	require.Equal(t, "retried", data)
}

func TestRetryJobSkippedWhenRecordGone(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)
	require.NoError(t, r.RemoveJob(ctx, "default", "id1"))

	applied, err := r.RetryJob(ctx, "default", "id1", []byte("retried"), now+500)
	require.NoError(t, err)
	require.False(t, applied)

	delayed, err := client.ZCard(ctx, base.DelayedKey("jet", "default")).Result()
	require.NoError(t, err)
	require.Zero(t, delayed)
}

func TestGetJob(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("record1")))

	data, err := r.GetJob(ctx, "default", "id1")
	require.NoError(t, err)
	require.Equal(t, []byte("record1"), data)

	_, err = r.GetJob(ctx, "default", "nope")
	require.Error(t, err)
}

func TestRemoveJobIdempotent(t *testing.T) {
	r, client := setup(t)
	ctx := context.Background()

	require.NoError(t, r.Schedule(ctx, "default", "id1", []byte("record1"), time.Now().UnixMilli()+1000))

	require.NoError(t, r.RemoveJob(ctx, "default", "id1"))
	require.NoError(t, r.RemoveJob(ctx, "default", "id1"))

	keys, err := client.Keys(ctx, "jet:*").Result()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPauseResume(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()

	paused, err := r.IsPaused(ctx, "default")
	require.NoError(t, err)
	require.False(t, paused)

	require.NoError(t, r.Pause(ctx, "default"))
	paused, err = r.IsPaused(ctx, "default")
	require.NoError(t, err)
	require.True(t, paused)

	require.NoError(t, r.Resume(ctx, "default"))
	paused, err = r.IsPaused(ctx, "default")
	require.NoError(t, err)
	require.False(t, paused)
}

func TestCounts(t *testing.T) {
	r, _ := setup(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	require.NoError(t, r.Enqueue(ctx, "default", "id1", []byte("a")))
	require.NoError(t, r.Enqueue(ctx, "default", "id2", []byte("b")))
	require.NoError(t, r.Schedule(ctx, "default", "id3", []byte("c"), now+60_000))
	_, err := r.Dequeue(ctx, "default", now)
	require.NoError(t, err)

	counts, err := r.Counts(ctx, "default")
	require.NoError(t, err)
	require.EqualValues(t, 1, counts.Waiting)
	require.EqualValues(t, 1, counts.Active)
	require.EqualValues(t, 1, counts.Delayed)
	require.EqualValues(t, 3, counts.Total())
}
