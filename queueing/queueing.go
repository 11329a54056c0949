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

// Package queueing provides the dispatch queue between intake and workers,
// plus the kill switch that gates all execution.
package queueing

import (
	"time"
)

// Task is one unit of queued work. Attempt starts at 0 and increments on
// every retry requeue.
type Task struct {
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Backend is the queue contract shared by the redis and in-memory
// implementations. Dequeue moves the task to a processing set so a crashed
// worker's task can be recovered; Ack removes it once the job finishes
// (in any terminal or parked state).
type Backend interface {
	Enqueue(task Task) error
	// Dequeue returns nil when no task arrives within timeout.
	Dequeue(timeout time.Duration) (*Task, error)
	Ack(task Task) error
	// RecoverProcessing moves tasks a dead worker left in the processing
	// set back onto the queue. Returns how many were requeued.
	RecoverProcessing() (int, error)
	Size() (int, error)

	// AgentsEnabled reports the kill switch. A backend with no recorded
	// value reports enabled.
	AgentsEnabled() (bool, error)
	SetAgentsEnabled(enabled bool) error

	// WithLock runs fn while holding a named lock, or returns held=false
	// without running fn when another holder has it.
	WithLock(name string, ttl time.Duration, fn func() error) (held bool, err error)

	Close() error
}

// RetryPolicy controls requeueing of failed dispatch attempts.
type RetryPolicy struct {
	Max       int
	Intervals []time.Duration
}

// NewRetryPolicy builds a policy from config values. A max of zero disables
// retries entirely (nil policy).
func NewRetryPolicy(max int, intervalSeconds []int) *RetryPolicy {
	if max <= 0 {
		return nil
	}
	normalized := NormalizeRetryIntervals(max, intervalSeconds)
	intervals := make([]time.Duration, 0, len(normalized))
	for _, s := range normalized {
		intervals = append(intervals, time.Duration(s)*time.Second)
	}
	return &RetryPolicy{Max: max, Intervals: intervals}
}

// Delay returns the wait before the given retry attempt (1-based).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if p == nil || len(p.Intervals) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(p.Intervals) {
		attempt = len(p.Intervals)
	}
	return p.Intervals[attempt-1]
}

// ShouldRetry reports whether a task that just failed attempt number
// task.Attempt (0-based) gets another try.
func (p *RetryPolicy) ShouldRetry(task Task) bool {
	return p != nil && task.Attempt < p.Max
}

// NormalizeRetryIntervals fits the configured intervals to the retry count:
// fewer intervals than retries repeats the last one, more are truncated.
// An empty list falls back to 30 seconds.
func NormalizeRetryIntervals(max int, intervals []int) []int {
	if max <= 0 {
		return nil
	}
	if len(intervals) == 0 {
		intervals = []int{30}
	}
	out := make([]int, max)
	for i := 0; i < max; i++ {
		if i < len(intervals) {
			out[i] = intervals[i]
		} else {
			out[i] = intervals[len(intervals)-1]
		}
	}
	return out
}
