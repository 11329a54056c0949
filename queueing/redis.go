/*
Copyright 2026 The Codex Home Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queueing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
)

const (
	defaultQueueName = "jobs"
	killSwitchKey    = "agents_enabled"
	lockKeyPrefix    = "codex:lock:"

	dequeuePollInterval = 100 * time.Millisecond
)

// RedisQueue is the production Backend, shared by the API process and all
// workers. Tasks live on a list; Dequeue moves them to a processing list so
// nothing is lost when a worker dies mid-job.
type RedisQueue struct {
	pool          *redis.Pool
	queueKey      string
	processingKey string
}

var _ Backend = &RedisQueue{}

// NewRedisQueue connects a pooled client to the given address
// (host:port, no scheme) using the default queue name.
func NewRedisQueue(address string) *RedisQueue {
	return newRedisQueue(defaultQueueName, func() (redis.Conn, error) {
		return redis.Dial("tcp", address)
	})
}

// NewRedisQueueFromURL accepts a redis:// URL and queue name, matching the
// REDIS_URL and QUEUE_NAME environment conventions.
func NewRedisQueueFromURL(rawURL, name string) *RedisQueue {
	if name == "" {
		name = defaultQueueName
	}
	return newRedisQueue(name, func() (redis.Conn, error) {
		return redis.DialURL(rawURL)
	})
}

func newRedisQueue(name string, dial func() (redis.Conn, error)) *RedisQueue {
	return &RedisQueue{
		pool: &redis.Pool{
			MaxIdle:     3,
			MaxActive:   16,
			IdleTimeout: 240 * time.Second,
			Dial:        dial,
		},
		queueKey:      fmt.Sprintf("codex:%s:queue", name),
		processingKey: fmt.Sprintf("codex:%s:processing", name),
	}
}

func (q *RedisQueue) Enqueue(task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	conn := q.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("LPUSH", q.queueKey, data); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", task.JobID, err)
	}
	return nil
}

// Dequeue polls RPOPLPUSH until a task arrives or timeout elapses. Polling
// keeps pool connections reusable; a blocking pop would pin one per worker.
func (q *RedisQueue) Dequeue(timeout time.Duration) (*Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		task, err := q.tryDequeue()
		if err != nil || task != nil {
			return task, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		time.Sleep(dequeuePollInterval)
	}
}

func (q *RedisQueue) tryDequeue() (*Task, error) {
	conn := q.pool.Get()
	defer conn.Close()
	data, err := redis.Bytes(conn.Do("RPOPLPUSH", q.queueKey, q.processingKey))
	if err == redis.ErrNil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeueing: %w", err)
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}
	return &task, nil
}

func (q *RedisQueue) Ack(task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	conn := q.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("LREM", q.processingKey, 1, data); err != nil {
		return fmt.Errorf("acking job %s: %w", task.JobID, err)
	}
	return nil
}

func (q *RedisQueue) RecoverProcessing() (int, error) {
	conn := q.pool.Get()
	defer conn.Close()
	recovered := 0
	for {
		_, err := redis.Bytes(conn.Do("RPOPLPUSH", q.processingKey, q.queueKey))
		if err == redis.ErrNil {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("recovering processing tasks: %w", err)
		}
		recovered++
	}
}

func (q *RedisQueue) Size() (int, error) {
	conn := q.pool.Get()
	defer conn.Close()
	size, err := redis.Int(conn.Do("LLEN", q.queueKey))
	if err != nil {
		return 0, fmt.Errorf("reading queue depth: %w", err)
	}
	return size, nil
}

// AgentsEnabled treats a missing key as enabled so a fresh deployment
// dispatches without an explicit resume. Any stored value other than
// "true" disables dispatch; a corrupted key fails closed.
func (q *RedisQueue) AgentsEnabled() (bool, error) {
	conn := q.pool.Get()
	defer conn.Close()
	value, err := redis.String(conn.Do("GET", killSwitchKey))
	if err == redis.ErrNil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading kill switch: %w", err)
	}
	return value == "true", nil
}

func (q *RedisQueue) SetAgentsEnabled(enabled bool) error {
	conn := q.pool.Get()
	defer conn.Close()
	value := "true"
	if !enabled {
		value = "false"
	}
	if _, err := conn.Do("SET", killSwitchKey, value); err != nil {
		return fmt.Errorf("setting kill switch: %w", err)
	}
	return nil
}

// WithLock takes a best-effort SET NX lease. The token check before DEL
// keeps an expired holder from releasing its successor's lock.
func (q *RedisQueue) WithLock(name string, ttl time.Duration, fn func() error) (bool, error) {
	key := lockKeyPrefix + name
	token := uuid.NewString()

	conn := q.pool.Get()
	reply, err := redis.String(conn.Do("SET", key, token, "NX", "PX", ttl.Milliseconds()))
	if err == redis.ErrNil {
		conn.Close()
		return false, nil
	}
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	conn.Close()
	if reply != "OK" {
		return false, nil
	}

	defer func() {
		conn := q.pool.Get()
		defer conn.Close()
		current, err := redis.String(conn.Do("GET", key))
		if err == nil && current == token {
			conn.Do("DEL", key)
		}
	}()
	return true, fn()
}

func (q *RedisQueue) Close() error {
	return q.pool.Close()
}
