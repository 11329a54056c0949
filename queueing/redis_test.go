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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	q := NewRedisQueue(mr.Addr())
	t.Cleanup(func() { q.Close() })
	return q
}

func TestRedisQueueRoundTrip(t *testing.T) {
	q := newTestRedisQueue(t)

	first := Task{JobID: "job-1", EnqueuedAt: time.Now().UTC().Truncate(time.Second)}
	second := Task{JobID: "job-2", EnqueuedAt: time.Now().UTC().Truncate(time.Second)}
	for _, task := range []Task{first, second} {
		if err := q.Enqueue(task); err != nil {
			t.Fatalf("Enqueue(%s): %v", task.JobID, err)
		}
	}
	if size, err := q.Size(); err != nil || size != 2 {
		t.Fatalf("Size = %d, %v; want 2", size, err)
	}

	got, err := q.Dequeue(time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil || got.JobID != "job-1" {
		t.Fatalf("Dequeue = %+v, want FIFO job-1", got)
	}

	// Crash before ack: the task must come back.
	if n, err := q.RecoverProcessing(); err != nil || n != 1 {
		t.Fatalf("RecoverProcessing = %d, %v; want 1", n, err)
	}
	got, err = q.Dequeue(time.Second)
	if err != nil || got == nil || got.JobID != "job-1" {
		t.Fatalf("Dequeue after recovery = %+v, %v; want job-1", got, err)
	}
	if err := q.Ack(*got); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if n, _ := q.RecoverProcessing(); n != 0 {
		t.Errorf("RecoverProcessing after ack = %d, want 0", n)
	}
}

func TestRedisQueueDequeueTimesOut(t *testing.T) {
	q := newTestRedisQueue(t)
	task, err := q.Dequeue(150 * time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil on empty queue, got %+v", task)
	}
}

func TestRedisQueueKillSwitch(t *testing.T) {
	q := newTestRedisQueue(t)

	// Missing key means enabled.
	enabled, err := q.AgentsEnabled()
	if err != nil {
		t.Fatalf("AgentsEnabled: %v", err)
	}
	if !enabled {
		t.Error("missing kill switch key should report enabled")
	}

	if err := q.SetAgentsEnabled(false); err != nil {
		t.Fatalf("SetAgentsEnabled(false): %v", err)
	}
	if enabled, _ := q.AgentsEnabled(); enabled {
		t.Error("expected disabled after kill")
	}

	if err := q.SetAgentsEnabled(true); err != nil {
		t.Fatalf("SetAgentsEnabled(true): %v", err)
	}
	if enabled, _ := q.AgentsEnabled(); !enabled {
		t.Error("expected enabled after resume")
	}
}

func TestRedisQueueKillSwitchFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	q := NewRedisQueue(mr.Addr())
	t.Cleanup(func() { q.Close() })

	// Only the literal "true" enables dispatch; a corrupted key must not
	// silently re-enable agents.
	for _, value := range []string{"false", "0", "garbage", "TRUE", ""} {
		if err := mr.Set(killSwitchKey, value); err != nil {
			t.Fatal(err)
		}
		if enabled, err := q.AgentsEnabled(); err != nil || enabled {
			t.Errorf("AgentsEnabled with %q = %v, %v; want disabled", value, enabled, err)
		}
	}
	if err := mr.Set(killSwitchKey, "true"); err != nil {
		t.Fatal(err)
	}
	if enabled, _ := q.AgentsEnabled(); !enabled {
		t.Error("literal true should enable")
	}
}

func TestRedisQueueWithLock(t *testing.T) {
	q := newTestRedisQueue(t)

	held, err := q.WithLock("schema", time.Minute, func() error {
		inner, err := q.WithLock("schema", time.Minute, func() error { return nil })
		if err != nil {
			t.Fatalf("nested WithLock: %v", err)
		}
		if inner {
			t.Error("nested acquisition should have been refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !held {
		t.Fatal("outer lock should have been acquired")
	}

	held, err = q.WithLock("schema", time.Minute, func() error { return nil })
	if err != nil || !held {
		t.Errorf("reacquire after release: held=%v err=%v", held, err)
	}
}
