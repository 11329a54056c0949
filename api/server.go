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

// Package api exposes the control plane: webhook intake, operator job
// management, approvals, the kill switch, and metrics.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/approval"
	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/intake"
	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/queueing"
	"github.com/codex-home/orchestrator/store"
	"github.com/codex-home/orchestrator/taxonomy"
)

const failedJobScanLimit = 5000

// Server wires the HTTP routes to the coordinator, store, and queue.
type Server struct {
	store    store.Interface
	queue    queueing.Backend
	coord    *intake.Coordinator
	gate     *approval.Gate
	settings config.Settings
	router   *mux.Router
}

func NewServer(
	s store.Interface,
	queue queueing.Backend,
	coord *intake.Coordinator,
	settings config.Settings,
) *Server {
	server := &Server{
		store:    s,
		queue:    queue,
		coord:    coord,
		gate:     approval.NewGate(s),
		settings: settings,
	}
	server.routes()
	return server
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/webhooks/github", s.handleWebhook).Methods(http.MethodPost)

	operator := r.PathPrefix("/api/v1").Subrouter()
	operator.Use(s.operatorAuth)
	operator.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	operator.HandleFunc("/intake/text", s.handleTextIntake).Methods(http.MethodPost)
	operator.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods(http.MethodGet)
	operator.HandleFunc("/jobs/{job_id}/approve", s.handleApprove).Methods(http.MethodPost)
	operator.HandleFunc("/jobs/{job_id}/reject", s.handleReject).Methods(http.MethodPost)
	operator.HandleFunc("/control/kill-switch", s.handleKillSwitch).Methods(http.MethodPost)
	operator.HandleFunc("/control/resume", s.handleResume).Methods(http.MethodPost)
	s.router = r
}

// operatorAuth requires the shared operator token on every control route.
// An empty configured token disables the check for local development.
func (s *Server) operatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.settings.OperatorToken
		if expected != "" {
			provided := r.Header.Get("X-Operator-Token")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				writeDetail(w, http.StatusForbidden, "Invalid operator token.")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics recomputes the gauges that reflect store and queue state
// before delegating to the prometheus handler.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if pending, err := s.store.PendingApprovalCount(); err == nil {
		metrics.PendingApprovals.Set(float64(pending))
	}

	failed, err := s.store.ListFailedJobs(failedJobScanLimit)
	if err == nil {
		categoryCounts := map[string]int{}
		stageCounts := map[string]int{}
		for _, job := range failed {
			categoryCounts[taxonomy.Classify(job.FailureReason.String)]++
			stage := job.Stage()
			if stage == "" {
				stage = "unknown"
			}
			stageCounts[stage]++
		}
		metrics.JobFailuresTotal.Set(float64(len(failed)))
		metrics.JobFailuresByCategory.Reset()
		for category, count := range categoryCounts {
			metrics.JobFailuresByCategory.WithLabelValues(category).Set(float64(count))
		}
		metrics.JobFailuresByStage.Reset()
		for stage, count := range stageCounts {
			metrics.JobFailuresByStage.WithLabelValues(stage).Set(float64(count))
		}
	}

	if depth, err := s.queue.Size(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
	if enabled, err := s.queue.AgentsEnabled(); err == nil {
		if enabled {
			metrics.AgentsEnabled.Set(1)
		} else {
			metrics.AgentsEnabled.Set(0)
		}
	}

	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Unreadable body.")
		return
	}
	if !intake.ValidSignature(body, r.Header.Get("X-Hub-Signature-256"), s.settings.WebhookSecret) {
		writeDetail(w, http.StatusUnauthorized, "Invalid webhook signature.")
		return
	}

	result, err := s.coord.HandleWebhook(r.Header.Get("X-GitHub-Event"), body)
	if err != nil {
		logrus.WithError(err).Error("Webhook handling failed.")
		writeDetail(w, http.StatusInternalServerError, "Webhook handling failed.")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req intake.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	job, err := s.coord.CreateJob(req)
	if err != nil {
		s.writeIntakeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleTextIntake(w http.ResponseWriter, r *http.Request) {
	var req intake.TextIntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	job, err := s.coord.TextIntake(req)
	if err != nil {
		s.writeIntakeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) writeIntakeError(w http.ResponseWriter, err error) {
	var forgeErr *intake.ForgeError
	switch {
	case errors.Is(err, intake.ErrRepoNotAllowlisted):
		writeDetail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, intake.ErrRepoProfileDisabled):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.As(err, &forgeErr):
		writeDetail(w, http.StatusBadGateway, err.Error())
	default:
		logrus.WithError(err).Error("Job admission failed.")
		writeDetail(w, http.StatusInternalServerError, "Job admission failed.")
	}
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) *store.Job {
	jobID := mux.Vars(r)["job_id"]
	job, err := s.store.GetJob(jobID)
	if err != nil {
		logrus.WithError(err).WithField("job_id", jobID).Error("Job lookup failed.")
		writeDetail(w, http.StatusInternalServerError, "Job lookup failed.")
		return nil
	}
	if job == nil {
		writeDetail(w, http.StatusNotFound, "Job not found.")
		return nil
	}
	return job
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job := s.loadJob(w, r)
	if job == nil {
		return
	}
	events, err := s.store.ListJobEvents(job.JobID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Event lookup failed.")
		return
	}
	eventPayload := make([]map[string]interface{}, 0, len(events))
	for _, event := range events {
		eventPayload = append(eventPayload, map[string]interface{}{
			"stage":      event.Stage,
			"event_type": event.EventType,
			"message":    event.Message,
			"metadata":   event.Metadata,
			"created_at": event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":    jobResponse(job),
		"events": eventPayload,
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	job := s.loadJob(w, r)
	if job == nil {
		return
	}
	var req struct {
		Action jobs.ApprovalAction `json:"action"`
		Actor  string              `json:"actor"`
		Reason string              `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	requeue, err := s.gate.Approve(job, req.Action, req.Actor, req.Reason)
	if err != nil {
		logrus.WithError(err).Error("Approval failed.")
		writeDetail(w, http.StatusInternalServerError, "Approval failed.")
		return
	}
	if requeue {
		task := queueing.Task{JobID: job.JobID, EnqueuedAt: time.Now().UTC()}
		if err := s.queue.Enqueue(task); err != nil {
			logrus.WithError(err).Error("Requeue after approval failed.")
			writeDetail(w, http.StatusInternalServerError, "Requeue failed.")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	job := s.loadJob(w, r)
	if job == nil {
		return
	}
	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if err := s.gate.Reject(job, req.Actor, req.Reason); err != nil {
		logrus.WithError(err).Error("Rejection failed.")
		writeDetail(w, http.StatusInternalServerError, "Rejection failed.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, _ *http.Request) {
	if err := s.queue.SetAgentsEnabled(false); err != nil {
		writeDetail(w, http.StatusInternalServerError, "Kill switch update failed.")
		return
	}
	metrics.AgentsEnabled.Set(0)
	metrics.Incidents.WithLabelValues("kill_switch", "warning").Inc()
	if err := s.store.AddIncident("kill_switch", "warning", "open", "Kill switch manually activated."); err != nil {
		logrus.WithError(err).Error("Failed to record kill switch incident.")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if err := s.queue.SetAgentsEnabled(true); err != nil {
		writeDetail(w, http.StatusInternalServerError, "Kill switch update failed.")
		return
	}
	metrics.AgentsEnabled.Set(1)
	metrics.Incidents.WithLabelValues("kill_switch", "info").Inc()
	if err := s.store.AddIncident("kill_switch", "info", "closed", "Execution resumed."); err != nil {
		logrus.WithError(err).Error("Failed to record resume incident.")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// jobResponse mirrors the persisted job for API consumers.
func jobResponse(job *store.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_id":         job.JobID,
		"status":         job.Status,
		"repo":           job.Repo,
		"issue_number":   job.IssueNumber,
		"risk_class":     job.RiskClass,
		"current_stage":  nullable(job.CurrentStage.Valid, job.CurrentStage.String),
		"pr_url":         nullable(job.PRURL.Valid, job.PRURL.String),
		"failure_reason": nullable(job.FailureReason.Valid, job.FailureReason.String),
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
		"cost_usd":       job.CostUSD,
	}
}

func nullable(valid bool, value string) interface{} {
	if valid {
		return value
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode response.")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
