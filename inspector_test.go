// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jetq/jetqueue/internal/timeutil"
)

func TestInspectorGetQueueInfo(t *testing.T) {
	_, client := newTestRedis(t)
	q := newTestQueue(t, client, QueueConfig{})
	ctx := context.Background()

	_, err := q.Add(ctx, "a", nil, nil)
	require.NoError(t, err)
	_, err = q.Add(ctx, "b", nil, &JobOptions{Delay: 60_000})
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx))

	insp := NewInspector(client, "")
	info, err := insp.GetQueueInfo(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, "default", info.Name)
	require.EqualValues(t, 1, info.Waiting)
	require.EqualValues(t, 0, info.Active)
	require.EqualValues(t, 1, info.Delayed)
	require.True(t, info.Paused)
}

func TestInspectorListJobs(t *testing.T) {
	_, client := newTestRedis(t)
	q := newTestQueue(t, client, QueueConfig{})
	ctx := context.Background()

	added, err := q.Add(ctx, "a", []byte(`{"k":"v"}`), nil)
	require.NoError(t, err)

	insp := NewInspector(client, "")
	jobs, err := insp.ListJobs(ctx, "default", StatusWaiting, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, added.ID, jobs[0].ID)
	require.Equal(t, "a", jobs[0].Name)

	jobs, err = insp.ListJobs(ctx, "default", StatusActive, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)

	_, err = insp.ListJobs(ctx, "default", StatusCompleted, 10)
	require.Error(t, err)
}

func TestInspectorListDelayed(t *testing.T) {
	_, client := newTestRedis(t)
	q := newTestQueue(t, client, QueueConfig{})
	ctx := context.Background()

	clk := timeutil.NewSimulatedClock(time.Now())
	q.clock = clk

	added, err := q.Add(ctx, "later", nil, &JobOptions{Delay: 5000})
	require.NoError(t, err)

	insp := NewInspector(client, "")
	entries, err := insp.ListDelayed(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, added.ID, entries[0].Job.ID)
	require.Equal(t, clk.Now().UnixMilli()+5000, entries[0].ProcessAt)
}
