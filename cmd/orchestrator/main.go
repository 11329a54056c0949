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

// The orchestrator serves the control-plane API: webhook intake, operator
// job management, approvals, the kill switch, and metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/api"
	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/githubapp"
	"github.com/codex-home/orchestrator/intake"
	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/queueing"
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
	repos, err := policy.LoadRepoProfiles(settings.ReposPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load repo profiles.")
	}
	if err := st.UpsertRepoProfiles(repos); err != nil {
		logrus.WithError(err).Fatal("Failed to sync repo profiles.")
	}

	var queue queueing.Backend
	if settings.DisableQueue {
		queue = queueing.NewMemoryQueue()
	} else {
		queue = queueing.NewRedisQueueFromURL(settings.RedisURL, settings.QueueName)
	}
	defer queue.Close()

	if enabled, err := queue.AgentsEnabled(); err != nil {
		logrus.WithError(err).Warn("Could not read kill switch state.")
	} else if enabled {
		metrics.AgentsEnabled.Set(1)
	} else {
		metrics.AgentsEnabled.Set(0)
	}

	forge := githubapp.New(settings)
	coord := intake.NewCoordinator(st, queue, profile, forge, settings)
	server := api.NewServer(st, queue, coord, settings)

	addr := fmt.Sprintf("%s:%d", settings.APIHost, settings.APIPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("Shutdown did not complete cleanly.")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"addr":     addr,
		"run_mode": settings.RunMode,
	}).Info("Orchestrator listening.")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("API server failed.")
	}
	logrus.Info("Orchestrator stopped.")
}
