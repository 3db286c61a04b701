// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package rdb encapsulates the interactions with redis.
package rdb

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/jetq/jetqueue/internal/base"
	"github.com/jetq/jetqueue/internal/errors"
)

// RDB is a client interface to query and mutate job queues.
// It implements base.Broker.
type RDB struct {
	client redis.UniversalClient
	prefix string
}

// NewRDB returns a new instance of RDB that uses the given key prefix.
func NewRDB(client redis.UniversalClient, prefix string) *RDB {
	if prefix == "" {
		prefix = base.DefaultPrefix
	}
	return &RDB{client: client, prefix: prefix}
}

// Client returns the reference to underlying redis client.
func (r *RDB) Client() redis.UniversalClient {
	return r.client
}

// Prefix returns the key prefix this RDB writes under.
func (r *RDB) Prefix() string {
	return r.prefix
}

// Ping checks the connection with redis server.
func (r *RDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection with redis server.
func (r *RDB) Close() error {
	return r.client.Close()
}

// LoadScripts loads the server-side scripts into the redis script cache of
// the given client so that later invocations hit EVALSHA. It is called once
// per client by the connection registry.
func LoadScripts(ctx context.Context, client redis.UniversalClient) error {
	var op errors.Op = "rdb.LoadScripts"
	for _, script := range []*redis.Script{
		moveToActiveCmd,
		promoteDelayedCmd,
		finalizeCmd,
		retryCmd,
	} {
		if err := script.Load(ctx, client).Err(); err != nil {
			return errors.E(op, errors.Unknown, fmt.Sprintf("script load error: %v", err))
		}
	}
	return nil
}

// runScript executes the given script and returns its raw result.
func (r *RDB) runScript(ctx context.Context, op errors.Op, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, r.client, keys, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.E(op, errors.Unknown, fmt.Sprintf("redis eval error: %v", err))
	}
	if err == redis.Nil {
		return nil, errors.E(op, errors.NotFound, redis.Nil)
	}
	return res, nil
}

// Enqueue writes the serialized job record and pushes its id onto the
// waiting list in one transaction.
func (r *RDB) Enqueue(ctx context.Context, qname, id string, data []byte) error {
	var op errors.Op = "rdb.Enqueue"
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, base.JobKey(r.prefix, qname, id), "data", data)
		pipe.LPush(ctx, base.WaitingKey(r.prefix, qname), id)
		return nil
	})
	if err != nil {
		return errors.E(op, errors.Unknown, err)
	}
	return nil
}

// Schedule writes the serialized job record and adds its id to the delayed
// set with the given epoch-ms score in one transaction.
func (r *RDB) Schedule(ctx context.Context, qname, id string, data []byte, processAt int64) error {
	var op errors.Op = "rdb.Schedule"
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, base.JobKey(r.prefix, qname, id), "data", data)
		pipe.ZAdd(ctx, base.DelayedKey(r.prefix, qname), redis.Z{Score: float64(processAt), Member: id})
		return nil
	})
	if err != nil {
		return errors.E(op, errors.Unknown, err)
	}
	return nil
}

// KEYS[1] -> jet:{<qname>}:waiting
// KEYS[2] -> jet:{<qname>}:active
// KEYS[3] -> jet:{<qname>}:job: (job key prefix)
// ARGV[1] -> current time in epoch-ms
//
// Pops the tail of the waiting list, pushes it to the head of the active
// list, and stamps startedAt on the job record. Returns nil when the
// waiting list is empty.
var moveToActiveCmd = redis.NewScript(`
local id = redis.call("RPOP", KEYS[1])
if id then
	redis.call("LPUSH", KEYS[2], id)
	redis.call("HSET", KEYS[3] .. id, "startedAt", ARGV[1])
	return id
end
return nil`)

// Dequeue atomically moves one id from waiting to active.
// An empty id with nil error means the waiting list is empty.
//
// Because the whole transition runs as a single server-side script, no two
// workers can acquire the same id.
func (r *RDB) Dequeue(ctx context.Context, qname string, now int64) (string, error) {
	var op errors.Op = "rdb.Dequeue"
	keys := []string{
		base.WaitingKey(r.prefix, qname),
		base.ActiveKey(r.prefix, qname),
		base.JobKeyPrefix(r.prefix, qname),
	}
	res, err := r.runScript(ctx, op, moveToActiveCmd, keys, now)
	if err != nil {
		if errors.CanonicalCode(err) == errors.NotFound {
			return "", nil
		}
		return "", err
	}
	id, err := cast.ToStringE(res)
	if err != nil {
		return "", errors.E(op, errors.Internal, fmt.Sprintf("unexpected return value from Lua script: %v", res))
	}
	return id, nil
}

// KEYS[1] -> jet:{<qname>}:delayed
// KEYS[2] -> jet:{<qname>}:waiting
// ARGV[1] -> current time in epoch-ms
//
// Moves every delayed id with score at or below now into the waiting list
// and returns the moved ids. Each id is moved at most once even when run
// concurrently from multiple workers.
var promoteDelayedCmd = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("LPUSH", KEYS[2], id)
end
return ids`)

// Promote moves all due delayed ids into the waiting list and returns them.
func (r *RDB) Promote(ctx context.Context, qname string, now int64) ([]string, error) {
	var op errors.Op = "rdb.Promote"
	keys := []string{
		base.DelayedKey(r.prefix, qname),
		base.WaitingKey(r.prefix, qname),
	}
	res, err := r.runScript(ctx, op, promoteDelayedCmd, keys, now)
	if err != nil {
		if errors.CanonicalCode(err) == errors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	ids, err := cast.ToStringSliceE(res)
	if err != nil {
		return nil, errors.E(op, errors.Internal, fmt.Sprintf("unexpected return value from Lua script: %v", res))
	}
	return ids, nil
}

// KEYS[1] -> jet:{<qname>}:active
// KEYS[2] -> jet:{<qname>}:job:<id>
// ARGV[1] -> job id
// ARGV[2] -> serialized job record
// ARGV[3] -> "1" to delete the record, "0" to write it back
//
// Removes the id from the active list and either deletes the job record or
// writes back its terminal form. The transition is skipped when the record
// no longer exists: a concurrent removal requested deletion, and a terminal
// transition must not resurrect the record. Returns 1 when the transition
// applied, 0 when the record was gone.
var finalizeCmd = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
if redis.call("EXISTS", KEYS[2]) == 0 then
	return 0
end
if ARGV[3] == "1" then
	redis.call("DEL", KEYS[2])
else
	redis.call("HSET", KEYS[2], "data", ARGV[2])
end
return 1`)

func (r *RDB) finalize(ctx context.Context, op errors.Op, qname, id string, data []byte, remove bool) (bool, error) {
	keys := []string{
		base.ActiveKey(r.prefix, qname),
		base.JobKey(r.prefix, qname, id),
	}
	removeArg := "0"
	if remove {
		removeArg = "1"
	}
	res, err := r.runScript(ctx, op, finalizeCmd, keys, id, data, removeArg)
	if err != nil {
		return false, err
	}
	n, err := cast.ToInt64E(res)
	if err != nil {
		return false, errors.E(op, errors.Internal, fmt.Sprintf("unexpected return value from Lua script: %v", res))
	}
	return n == 1, nil
}

// CompleteJob writes the terminal completed form of the record, or deletes
// it when remove is set, and takes the id out of the active list. It
// reports false when the record had been removed mid-flight.
func (r *RDB) CompleteJob(ctx context.Context, qname, id string, data []byte, remove bool) (bool, error) {
	return r.finalize(ctx, "rdb.CompleteJob", qname, id, data, remove)
}

// FailJob writes the terminal failed form of the record, or deletes it when
// remove is set, and takes the id out of the active list. It reports false
// when the record had been removed mid-flight.
func (r *RDB) FailJob(ctx context.Context, qname, id string, data []byte, remove bool) (bool, error) {
	return r.finalize(ctx, "rdb.FailJob", qname, id, data, remove)
}

// KEYS[1] -> jet:{<qname>}:active
// KEYS[2] -> jet:{<qname>}:job:<id>
// KEYS[3] -> jet:{<qname>}:delayed
// ARGV[1] -> job id
// ARGV[2] -> serialized job record
// ARGV[3] -> retry time in epoch-ms
//
// Moves a failed attempt back into the delayed set. Skipped entirely when
// the record no longer exists so that a concurrent removal wins. Returns 1
// when the transition applied, 0 when the record was gone.
var retryCmd = redis.NewScript(`
redis.call("LREM", KEYS[1], 1, ARGV[1])
if redis.call("EXISTS", KEYS[2]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2], "data", ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1`)

// RetryJob schedules the id for a future attempt at processAt (epoch-ms).
// It reports false when the record had been removed mid-flight.
func (r *RDB) RetryJob(ctx context.Context, qname, id string, data []byte, processAt int64) (bool, error) {
	var op errors.Op = "rdb.RetryJob"
	keys := []string{
		base.ActiveKey(r.prefix, qname),
		base.JobKey(r.prefix, qname, id),
		base.DelayedKey(r.prefix, qname),
	}
	res, err := r.runScript(ctx, op, retryCmd, keys, id, data, processAt)
	if err != nil {
		return false, err
	}
	n, err := cast.ToInt64E(res)
	if err != nil {
		return false, errors.E(op, errors.Internal, fmt.Sprintf("unexpected return value from Lua script: %v", res))
	}
	return n == 1, nil
}

// GetJob reads the serialized record for the given id.
// A missing record yields an error with code NotFound.
func (r *RDB) GetJob(ctx context.Context, qname, id string) ([]byte, error) {
	var op errors.Op = "rdb.GetJob"
	data, err := r.client.HGet(ctx, base.JobKey(r.prefix, qname, id), "data").Result()
	if err == redis.Nil {
		return nil, errors.E(op, errors.NotFound, fmt.Sprintf("cannot find job with id=%s", id))
	}
	if err != nil {
		return nil, errors.E(op, errors.Unknown, err)
	}
	return []byte(data), nil
}

// RemoveJob removes the id from every collection and deletes the record in
// one transaction. Removing an absent id is not an error.
func (r *RDB) RemoveJob(ctx context.Context, qname, id string) error {
	var op errors.Op = "rdb.RemoveJob"
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, base.WaitingKey(r.prefix, qname), 1, id)
		pipe.LRem(ctx, base.ActiveKey(r.prefix, qname), 1, id)
		pipe.ZRem(ctx, base.DelayedKey(r.prefix, qname), id)
		pipe.Del(ctx, base.JobKey(r.prefix, qname, id))
		return nil
	})
	if err != nil {
		return errors.E(op, errors.Unknown, err)
	}
	return nil
}

// Pause sets the pause flag for the queue. Pausing a paused queue is a no-op.
func (r *RDB) Pause(ctx context.Context, qname string) error {
	var op errors.Op = "rdb.Pause"
	if err := r.client.Set(ctx, base.PausedKey(r.prefix, qname), 1, 0).Err(); err != nil {
		return errors.E(op, errors.Unknown, err)
	}
	return nil
}

// Resume clears the pause flag for the queue. Resuming a running queue is a no-op.
func (r *RDB) Resume(ctx context.Context, qname string) error {
	var op errors.Op = "rdb.Resume"
	if err := r.client.Del(ctx, base.PausedKey(r.prefix, qname)).Err(); err != nil {
		return errors.E(op, errors.Unknown, err)
	}
	return nil
}

// IsPaused reports whether the pause flag is set for the queue.
func (r *RDB) IsPaused(ctx context.Context, qname string) (bool, error) {
	var op errors.Op = "rdb.IsPaused"
	n, err := r.client.Exists(ctx, base.PausedKey(r.prefix, qname)).Result()
	if err != nil {
		return false, errors.E(op, errors.Unknown, err)
	}
	return n > 0, nil
}

// Counts reads the size of each collection in one pipelined transaction.
// The result is a snapshot: precise in quiescence, approximate under load.
func (r *RDB) Counts(ctx context.Context, qname string) (base.QueueCounts, error) {
	var op errors.Op = "rdb.Counts"
	var (
		waiting *redis.IntCmd
		active  *redis.IntCmd
		delayed *redis.IntCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, base.WaitingKey(r.prefix, qname))
		active = pipe.LLen(ctx, base.ActiveKey(r.prefix, qname))
		delayed = pipe.ZCard(ctx, base.DelayedKey(r.prefix, qname))
		return nil
	})
	if err != nil {
		return base.QueueCounts{}, errors.E(op, errors.Unknown, err)
	}
	return base.QueueCounts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
	}, nil
}
