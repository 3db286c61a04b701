// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package jetqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jetq/jetqueue/internal/rdb"
)

// ConnectionOptions identifies a redis endpoint. The zero value connects to
// localhost:6379 without authentication.
type ConnectionOptions struct {
	Host     string
	Port     int
	Password string
}

func (o ConnectionOptions) normalize() ConnectionOptions {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 6379
	}
	return o
}

// Addr returns the host:port address of the endpoint.
func (o ConnectionOptions) Addr() string {
	o = o.normalize()
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

func (o ConnectionOptions) registryKey() string {
	o = o.normalize()
	return fmt.Sprintf("%s:%d:%s", o.Host, o.Port, o.Password)
}

const connectTimeout = 5 * time.Second

// connections is the process-wide registry of redis clients keyed by
// endpoint. Clients are created on first use and live until CloseAll.
// The registry holds no per-queue state.
var connections = struct {
	mu      sync.Mutex
	clients map[string]*redis.Client
}{clients: make(map[string]*redis.Client)}

// getConnection returns the cached client for the endpoint, creating and
// priming it (ping + script load) on first use.
func getConnection(opts ConnectionOptions) (redis.UniversalClient, error) {
	opts = opts.normalize()
	key := opts.registryKey()

	connections.mu.Lock()
	defer connections.mu.Unlock()

	if client, ok := connections.clients[key]; ok {
		return client, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr(),
		Password: opts.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("jetqueue: cannot connect to redis at %s: %w", opts.Addr(), err)
	}
	if err := rdb.LoadScripts(ctx, client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("jetqueue: cannot load scripts on %s: %w", opts.Addr(), err)
	}
	connections.clients[key] = client
	return client, nil
}

// CloseAll closes every client in the connection registry. Call it on
// process teardown, or between tests that exercise the registry.
func CloseAll() error {
	connections.mu.Lock()
	defer connections.mu.Unlock()
	var firstErr error
	for key, client := range connections.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(connections.clients, key)
	}
	return firstErr
}
