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

package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/queueing"
)

const dequeueWait = 2 * time.Second

// Worker pulls tasks off the queue and runs them. Infrastructure errors
// (store down, redis flapping) requeue the task per the retry policy;
// pipeline failures are terminal and never retried.
type Worker struct {
	queue  queueing.Backend
	runner *Runner
	retry  *queueing.RetryPolicy
}

func NewWorker(queue queueing.Backend, r *Runner, retry *queueing.RetryPolicy) *Worker {
	return &Worker{queue: queue, runner: r, retry: retry}
}

// Run loops until the context is cancelled. Tasks abandoned by a dead
// worker are requeued before the first dequeue; the queue lock keeps
// concurrent workers from racing the recovery pass.
func (w *Worker) Run(ctx context.Context) {
	held, err := w.queue.WithLock("recover_processing", 30*time.Second, func() error {
		recovered, err := w.queue.RecoverProcessing()
		if err != nil {
			return err
		}
		if recovered > 0 {
			logrus.WithField("count", recovered).Info("Requeued abandoned tasks.")
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to recover abandoned tasks.")
	} else if !held {
		logrus.Info("Another worker holds the recovery lock; skipping.")
	}

	for ctx.Err() == nil {
		task, err := w.queue.Dequeue(dequeueWait)
		if err != nil {
			logrus.WithError(err).Error("Dequeue failed.")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			metrics.WorkerHeartbeat.SetToCurrentTime()
			continue
		}
		w.handle(*task)
	}
}

func (w *Worker) handle(task queueing.Task) {
	log := logrus.WithFields(logrus.Fields{"job_id": task.JobID, "attempt": task.Attempt})
	log.Info("Processing job.")

	if err := w.process(task.JobID); err != nil {
		log.WithError(err).Error("Job processing hit an infrastructure error.")
		if w.retry.ShouldRetry(task) {
			next := queueing.Task{
				JobID:      task.JobID,
				Attempt:    task.Attempt + 1,
				EnqueuedAt: time.Now().UTC(),
			}
			delay := w.retry.Delay(next.Attempt)
			log.WithField("delay", delay.String()).Info("Scheduling retry.")
			time.AfterFunc(delay, func() {
				if err := w.queue.Enqueue(next); err != nil {
					logrus.WithError(err).WithField("job_id", next.JobID).Error("Failed to requeue job.")
				}
			})
		} else {
			log.Error("Retries exhausted.")
		}
	}

	if err := w.queue.Ack(task); err != nil {
		log.WithError(err).Error("Failed to ack task.")
	}
	if depth, err := w.queue.Size(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

// process shields the loop from panics in pipeline code; a panicking job
// counts as an infrastructure error so the retry policy applies.
func (w *Worker) process(jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job %s: %v", jobID, r)
		}
	}()
	return w.runner.Process(jobID)
}
