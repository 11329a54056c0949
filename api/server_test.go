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

package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/intake"
	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/queueing"
	"github.com/codex-home/orchestrator/store/fakestore"
)

type apiFixture struct {
	store  *fakestore.FakeStore
	queue  *queueing.MemoryQueue
	server *Server
}

func newAPIFixture(t *testing.T, settings config.Settings) *apiFixture {
	t.Helper()
	fake := fakestore.New()
	if err := fake.UpsertRepoProfiles(map[string]policy.RepoConfig{
		"acme/widgets": {
			Enabled:            true,
			BaseBranch:         "main",
			AllowedPaths:       []string{"src/**", "docs/**"},
			AcceptanceCommands: []string{"pytest -q"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	queue := queueing.NewMemoryQueue()
	profile := &policy.Profile{
		RepoAllowlist:  []string{"acme/widgets"},
		DefaultCaps:    jobs.DefaultCaps(),
		ApprovalMatrix: policy.DefaultApprovalMatrix(),
	}
	coord := intake.NewCoordinator(fake, queue, profile, nil, settings)
	return &apiFixture{
		store:  fake,
		queue:  queue,
		server: NewServer(fake, queue, coord, settings),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewBuffer(encoded)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("X-Operator-Token", token)
	}
	recorder := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})
	recorder := f.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestOperatorAuth(t *testing.T) {
	settings := config.Settings{RunMode: config.RunModeFast, OperatorToken: "secret-token"}
	f := newAPIFixture(t, settings)

	recorder := f.do(t, http.MethodPost, "/api/v1/jobs", "wrong", intake.CreateJobRequest{})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	if got := decodeBody(t, recorder)["detail"]; got != "Invalid operator token." {
		t.Errorf("detail = %v", got)
	}

	recorder = f.do(t, http.MethodPost, "/api/v1/jobs", "secret-token", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 3,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
}

func TestOperatorAuthDisabledWhenTokenEmpty(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})
	recorder := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 4,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookSignature(t *testing.T) {
	settings := config.Settings{RunMode: config.RunModeFast, WebhookSecret: "hooksecret"}
	f := newAPIFixture(t, settings)

	body := []byte(`{"action":"opened","repository":{"full_name":"acme/widgets"},` +
		`"issue":{"number":9,"labels":[{"name":"agent-ready"}]}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	recorder := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	if got := decodeBody(t, recorder)["detail"]; got != "Invalid webhook signature." {
		t.Errorf("detail = %v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/github", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", "issues")
	req.Header.Set("X-Hub-Signature-256", signBody("hooksecret", body))
	recorder = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["accepted"] != true {
		t.Errorf("payload = %v", payload)
	}
	if size, _ := f.queue.Size(); size != 1 {
		t.Errorf("queue size = %d", size)
	}
}

func TestCreateJobRejections(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	recorder := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "evil/repo", IssueNumber: 1,
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", recorder.Code)
	}
	if got := decodeBody(t, recorder)["detail"]; got != "Repo not in allowlist." {
		t.Errorf("detail = %v", got)
	}
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	recorder := f.do(t, http.MethodGet, "/api/v1/jobs/missing", "", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", recorder.Code)
	}
	if got := decodeBody(t, recorder)["detail"]; got != "Job not found." {
		t.Errorf("detail = %v", got)
	}

	created := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 21, RiskClass: jobs.RiskInfra,
	})
	if created.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", created.Code, created.Body.String())
	}
	jobID := decodeBody(t, created)["job_id"].(string)

	recorder = f.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	job, ok := payload["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload = %v", payload)
	}
	if job["status"] != string(jobs.StatusQueued) || job["risk_class"] != string(jobs.RiskInfra) {
		t.Errorf("job = %v", job)
	}
	if job["pr_url"] != nil || job["failure_reason"] != nil {
		t.Errorf("expected null pr_url and failure_reason, got %v", job)
	}
	events, ok := payload["events"].([]interface{})
	if !ok || len(events) == 0 {
		t.Fatalf("events = %v", payload["events"])
	}
	first := events[0].(map[string]interface{})
	if first["event_type"] != "created" {
		t.Errorf("first event = %v", first)
	}
}

func TestApproveRequeuesParkedJob(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	created := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 30, RiskClass: jobs.RiskInfra,
	})
	jobID := decodeBody(t, created)["job_id"].(string)

	// Park the job the way the pipeline would before the approval gate.
	f.store.Jobs[jobID].Status = string(jobs.StatusAwaitingApproval)
	// Drain the admission enqueue so only the requeue is left to observe.
	if task, err := f.queue.Dequeue(0); err != nil || task == nil {
		t.Fatalf("drain: %v, %v", task, err)
	}

	recorder := f.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/approve", "", map[string]string{
		"action": "infra", "actor": "oncall", "reason": "reviewed",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got := decodeBody(t, recorder)["status"]; got != "approved" {
		t.Errorf("status field = %v", got)
	}
	if f.store.Jobs[jobID].Status != string(jobs.StatusQueued) {
		t.Errorf("job status = %s", f.store.Jobs[jobID].Status)
	}
	task, err := f.queue.Dequeue(0)
	if err != nil || task == nil || task.JobID != jobID {
		t.Errorf("requeued task = %+v, %v", task, err)
	}
}

func TestReject(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	created := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 31,
	})
	jobID := decodeBody(t, created)["job_id"].(string)

	recorder := f.do(t, http.MethodPost, "/api/v1/jobs/"+jobID+"/reject", "", map[string]string{
		"actor": "oncall", "reason": "out of scope",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if got := decodeBody(t, recorder)["status"]; got != "rejected" {
		t.Errorf("status field = %v", got)
	}
	if f.store.Jobs[jobID].Status != string(jobs.StatusRejected) {
		t.Errorf("job status = %s", f.store.Jobs[jobID].Status)
	}
}

func TestKillSwitchAndResume(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	recorder := f.do(t, http.MethodPost, "/api/v1/control/kill-switch", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["status"]; got != "disabled" {
		t.Errorf("status field = %v", got)
	}
	if enabled, _ := f.queue.AgentsEnabled(); enabled {
		t.Error("agents still enabled after kill switch")
	}
	if len(f.store.Incidents) != 1 || f.store.Incidents[0].Severity != "warning" {
		t.Errorf("incidents = %+v", f.store.Incidents)
	}

	recorder = f.do(t, http.MethodPost, "/api/v1/control/resume", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if got := decodeBody(t, recorder)["status"]; got != "enabled" {
		t.Errorf("status field = %v", got)
	}
	if enabled, _ := f.queue.AgentsEnabled(); !enabled {
		t.Error("agents still disabled after resume")
	}
	if len(f.store.Incidents) != 2 || f.store.Incidents[1].Status != "closed" {
		t.Errorf("incidents = %+v", f.store.Incidents)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t, config.Settings{RunMode: config.RunModeFast})

	// Seed one failure so the classification gauges have something to report.
	created := f.do(t, http.MethodPost, "/api/v1/jobs", "", intake.CreateJobRequest{
		Repo: "acme/widgets", IssueNumber: 40,
	})
	jobID := decodeBody(t, created)["job_id"].(string)
	job := f.store.Jobs[jobID]
	job.Status = string(jobs.StatusFailed)
	job.FailureReason.String = "CAP_DAILY_BUDGET_EXCEEDED"
	job.FailureReason.Valid = true

	recorder := f.do(t, http.MethodGet, "/metrics", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, want := range []string{
		"codex_job_failures_total 1",
		fmt.Sprintf("codex_queue_depth %d", 1),
		"codex_agents_enabled 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if !strings.Contains(body, `codex_job_failures_by_category{category="budget_cap"} 1`) {
		t.Errorf("metrics output missing category gauge:\n%s", body)
	}
}
