// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func connOptsFor(t *testing.T, s *miniredis.Miniredis) ConnectionOptions {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ConnectionOptions{Host: host, Port: port}
}

func TestConnectionRegistryCachesClients(t *testing.T) {
	s := miniredis.RunT(t)
	t.Cleanup(func() { _ = CloseAll() })
	opts := connOptsFor(t, s)

	c1, err := getConnection(opts)
	require.NoError(t, err)
	c2, err := getConnection(opts)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestConnectionRegistryDistinctEndpoints(t *testing.T) {
	s1 := miniredis.RunT(t)
	s2 := miniredis.RunT(t)
	t.Cleanup(func() { _ = CloseAll() })

	c1, err := getConnection(connOptsFor(t, s1))
	require.NoError(t, err)
	c2, err := getConnection(connOptsFor(t, s2))
	require.NoError(t, err)
	require.NotSame(t, c1, c2)
}

func TestConnectionRegistryUnreachable(t *testing.T) {
	// A port nothing listens on.
	_, err := getConnection(ConnectionOptions{Host: "127.0.0.1", Port: 1})
	require.Error(t, err)
}

func TestCloseAll(t *testing.T) {
	s := miniredis.RunT(t)
	opts := connOptsFor(t, s)

	client, err := getConnection(opts)
	require.NoError(t, err)
	require.NoError(t, CloseAll())

	// The cached client is gone; a new one is created on next use.
	require.Error(t, client.Ping(context.Background()).Err())
	fresh, err := getConnection(opts)
	require.NoError(t, err)
	require.NotSame(t, client, fresh)
	require.NoError(t, CloseAll())
}

func TestNewQueueThroughRegistry(t *testing.T) {
	s := miniredis.RunT(t)
	t.Cleanup(func() { _ = CloseAll() })

	q, err := NewQueue("default", QueueConfig{Connection: connOptsFor(t, s)})
	require.NoError(t, err)
	defer q.Close()

	job, err := q.Add(context.Background(), "t", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
}

func TestConnectionOptionsDefaults(t *testing.T) {
	opts := ConnectionOptions{}
	require.Equal(t, "localhost:6379", opts.Addr())
}
