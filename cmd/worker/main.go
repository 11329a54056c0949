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

// The worker consumes queued jobs and drives each one through the pipeline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/githubapp"
	"github.com/codex-home/orchestrator/llm"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/queueing"
	"github.com/codex-home/orchestrator/runner"
	"github.com/codex-home/orchestrator/store"
)

func main() {
	settings := config.Load()
	config.InitLogging(settings)

	st, err := store.New(settings.DatabaseURL, settings.AutoMigrate)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open store.")
	}
	defer st.Close()

	profile, err := policy.Load(settings.PolicyPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load policy.")
	}

	var queue queueing.Backend
	if settings.DisableQueue {
		queue = queueing.NewMemoryQueue()
	} else {
		queue = queueing.NewRedisQueueFromURL(settings.RedisURL, settings.QueueName)
	}
	defer queue.Close()

	r := runner.New(st, queue, profile, llm.New(settings), githubapp.New(settings), settings)
	retry := queueing.NewRetryPolicy(settings.QueueRetryMax, settings.QueueRetryIntervals)
	worker := runner.NewWorker(queue, r, retry)

	// Metrics and liveness on a side port so the API port stays free for
	// the orchestrator.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", settings.APIHost, settings.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Metrics server failed.")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithField("run_mode", settings.RunMode).Info("Worker started.")
	worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Metrics server shutdown failed.")
	}
	logrus.Info("Worker stopped.")
}
