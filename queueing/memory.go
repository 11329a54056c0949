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
	"sync"
	"time"
)

// MemoryQueue is a single-process Backend for tests and local development.
type MemoryQueue struct {
	mu         sync.Mutex
	arrived    *sync.Cond
	queue      []Task
	processing []Task
	enabled    *bool
	locks      map[string]time.Time
}

var _ Backend = &MemoryQueue{}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{locks: map[string]time.Time{}}
	q.arrived = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, task)
	q.arrived.Signal()
	return nil
}

func (q *MemoryQueue) Dequeue(timeout time.Duration) (*Task, error) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Cond has no timed wait; poke waiters periodically instead.
		timer := time.AfterFunc(remaining, q.arrived.Broadcast)
		q.arrived.Wait()
		timer.Stop()
	}
	task := q.queue[0]
	q.queue = q.queue[1:]
	q.processing = append(q.processing, task)
	return &task, nil
}

func (q *MemoryQueue) Ack(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, pending := range q.processing {
		if pending.JobID == task.JobID && pending.Attempt == task.Attempt {
			q.processing = append(q.processing[:i], q.processing[i+1:]...)
			break
		}
	}
	return nil
}

func (q *MemoryQueue) RecoverProcessing() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	recovered := len(q.processing)
	q.queue = append(q.processing, q.queue...)
	q.processing = nil
	if recovered > 0 {
		q.arrived.Broadcast()
	}
	return recovered, nil
}

func (q *MemoryQueue) Size() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue), nil
}

func (q *MemoryQueue) AgentsEnabled() (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enabled == nil {
		return true, nil
	}
	return *q.enabled, nil
}

func (q *MemoryQueue) SetAgentsEnabled(enabled bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enabled = &enabled
	return nil
}

func (q *MemoryQueue) WithLock(name string, ttl time.Duration, fn func() error) (bool, error) {
	q.mu.Lock()
	if expiry, held := q.locks[name]; held && time.Now().Before(expiry) {
		q.mu.Unlock()
		return false, nil
	}
	q.locks[name] = time.Now().Add(ttl)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.locks, name)
		q.mu.Unlock()
	}()
	return true, fn()
}

func (q *MemoryQueue) Close() error {
	return nil
}
