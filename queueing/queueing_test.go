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
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeRetryIntervals(t *testing.T) {
	testCases := []struct {
		name      string
		max       int
		intervals []int
		expected  []int
	}{
		{
			name:      "single retry keeps first interval",
			max:       1,
			intervals: []int{30, 120},
			expected:  []int{30},
		},
		{
			name:      "short list repeats last interval",
			max:       3,
			intervals: []int{15},
			expected:  []int{15, 15, 15},
		},
		{
			name:      "long list is truncated",
			max:       2,
			intervals: []int{10, 20, 30},
			expected:  []int{10, 20},
		},
		{
			name:      "empty list falls back to 30s",
			max:       2,
			intervals: nil,
			expected:  []int{30, 30},
		},
		{
			name:      "zero retries yields nil",
			max:       0,
			intervals: []int{30},
			expected:  nil,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := NormalizeRetryIntervals(tc.max, tc.intervals)
			if diff := cmp.Diff(tc.expected, actual); diff != "" {
				t.Errorf("unexpected intervals (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	if p := NewRetryPolicy(0, []int{30}); p != nil {
		t.Errorf("max=0 should disable retries, got %+v", p)
	}

	p := NewRetryPolicy(3, []int{30, 120, 300})
	if !p.ShouldRetry(Task{Attempt: 0}) || !p.ShouldRetry(Task{Attempt: 2}) {
		t.Error("attempts below max should retry")
	}
	if p.ShouldRetry(Task{Attempt: 3}) {
		t.Error("attempt at max should not retry")
	}
	if got := p.Delay(2); got != 120*time.Second {
		t.Errorf("Delay(2) = %v, want 120s", got)
	}
	if got := p.Delay(99); got != 300*time.Second {
		t.Errorf("Delay past end = %v, want last interval", got)
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	task := Task{JobID: "job-1", EnqueuedAt: time.Now().UTC()}
	if err := q.Enqueue(task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if size, _ := q.Size(); size != 1 {
		t.Errorf("Size = %d, want 1", size)
	}

	got, err := q.Dequeue(time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.JobID != "job-1" {
		t.Fatalf("Dequeue = %+v, want job-1", got)
	}
	if size, _ := q.Size(); size != 0 {
		t.Errorf("Size after dequeue = %d, want 0", size)
	}

	// Unacked task is recoverable; acked task is gone.
	if n, _ := q.RecoverProcessing(); n != 1 {
		t.Errorf("RecoverProcessing = %d, want 1", n)
	}
	got, _ = q.Dequeue(time.Second)
	if got == nil {
		t.Fatal("expected recovered task")
	}
	if err := q.Ack(*got); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if n, _ := q.RecoverProcessing(); n != 0 {
		t.Errorf("RecoverProcessing after ack = %d, want 0", n)
	}
}

func TestMemoryQueueDequeueTimesOut(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	start := time.Now()
	task, err := q.Dequeue(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task on timeout, got %+v", task)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("returned after %v, expected to wait out the timeout", elapsed)
	}
}

func TestMemoryQueueKillSwitchDefaultsEnabled(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	enabled, err := q.AgentsEnabled()
	if err != nil {
		t.Fatalf("AgentsEnabled: %v", err)
	}
	if !enabled {
		t.Error("fresh queue should report agents enabled")
	}

	if err := q.SetAgentsEnabled(false); err != nil {
		t.Fatalf("SetAgentsEnabled: %v", err)
	}
	if enabled, _ := q.AgentsEnabled(); enabled {
		t.Error("kill switch should report disabled")
	}
}

func TestMemoryQueueWithLockExcludes(t *testing.T) {
	q := NewMemoryQueue()
	defer q.Close()

	held, err := q.WithLock("dispatch", time.Minute, func() error {
		inner, err := q.WithLock("dispatch", time.Minute, func() error { return nil })
		if err != nil {
			return err
		}
		if inner {
			return errors.New("nested acquisition should have been refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !held {
		t.Error("outer lock should have been acquired")
	}

	// Released after fn returns.
	held, err = q.WithLock("dispatch", time.Minute, func() error { return nil })
	if err != nil || !held {
		t.Errorf("reacquire after release: held=%v err=%v", held, err)
	}
}
