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

// Package fakestore provides an in-memory store.Interface for tests.
package fakestore

import (
	"database/sql"
	"sync"
	"time"

	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/store"
)

// FakeStore implements store.Interface over process-local maps. All methods
// are safe for concurrent use.
type FakeStore struct {
	mu sync.Mutex

	Jobs         map[string]*store.Job
	Events       map[string][]store.JobEvent
	Approvals    map[string][]store.Approval
	Audits       map[string][]store.PolicyAudit
	Ledger       map[string][]store.CostEntry
	Incidents    []store.Incident
	RepoProfiles map[string]*store.RepoProfile

	// Now lets tests control the clock; defaults to time.Now.
	Now func() time.Time
}

var _ store.Interface = &FakeStore{}

// New returns an empty FakeStore.
func New() *FakeStore {
	return &FakeStore{
		Jobs:         map[string]*store.Job{},
		Events:       map[string][]store.JobEvent{},
		Approvals:    map[string][]store.Approval{},
		Audits:       map[string][]store.PolicyAudit{},
		Ledger:       map[string][]store.CostEntry{},
		RepoProfiles: map[string]*store.RepoProfile{},
		Now:          time.Now,
	}
}

func (f *FakeStore) now() time.Time {
	return f.Now().UTC()
}

func (f *FakeStore) CreateJob(spec jobs.Spec) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	approvals := make(store.StringList, 0, len(spec.RequiresApproval))
	for _, action := range spec.RequiresApproval {
		approvals = append(approvals, string(action))
	}
	createdAt := spec.CreatedAt.UTC()
	job := &store.Job{
		JobID:              spec.JobID,
		Repo:               spec.Repo,
		IssueNumber:        spec.IssueNumber,
		BaseBranch:         spec.BaseBranch,
		RiskClass:          string(spec.RiskClass),
		Status:             string(jobs.StatusQueued),
		ModelProfile:       string(spec.ModelProfile),
		RequiresApproval:   approvals,
		AllowedPaths:       store.StringList(spec.AllowedPaths),
		AcceptanceCommands: store.StringList(spec.AcceptanceCommands),
		ArtifactContract:   store.StringList(spec.ArtifactContract),
		CapsMaxMinutes:     spec.Caps.MaxMinutes,
		CapsMaxIterations:  spec.Caps.MaxIterations,
		CapsMaxUSD:         spec.Caps.MaxUSD,
		CreatedBy:          spec.CreatedBy,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	f.Jobs[spec.JobID] = job
	f.Events[spec.JobID] = append(f.Events[spec.JobID], store.JobEvent{
		JobID:     spec.JobID,
		Stage:     "enqueue",
		EventType: "created",
		Message:   "Job created and queued.",
		Metadata:  store.MetadataMap{"source": spec.CreatedBy},
		CreatedAt: f.now(),
	})
	copied := *job
	return &copied, nil
}

func (f *FakeStore) GetJob(jobID string) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[jobID]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (f *FakeStore) LatestJobForIssue(repo string, issueNumber int) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *store.Job
	for _, job := range f.Jobs {
		if job.Repo != repo || job.IssueNumber != issueNumber {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (f *FakeStore) ListJobEvents(jobID string) ([]store.JobEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.JobEvent(nil), f.Events[jobID]...), nil
}

func (f *FakeStore) UpdateJobStatus(jobID string, status jobs.Status, update store.StatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[jobID]
	if !ok {
		return nil
	}
	job.Status = string(status)
	job.UpdatedAt = f.now()
	if update.Stage != "" {
		job.CurrentStage = sql.NullString{String: update.Stage, Valid: true}
	}
	if update.Reason != "" {
		job.FailureReason = sql.NullString{String: update.Reason, Valid: true}
	}
	if update.PRURL != nil {
		job.PRURL = sql.NullString{String: *update.PRURL, Valid: true}
	}
	return nil
}

func (f *FakeStore) AddJobEvent(jobID, stage, eventType, message string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events[jobID] = append(f.Events[jobID], store.JobEvent{
		JobID:     jobID,
		Stage:     stage,
		EventType: eventType,
		Message:   message,
		Metadata:  store.MetadataMap(metadata),
		CreatedAt: f.now(),
	})
	return nil
}

func (f *FakeStore) AddApproval(jobID string, action jobs.ApprovalAction, actor string, approved bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Approvals[jobID] = append(f.Approvals[jobID], store.Approval{
		JobID:     jobID,
		Action:    string(action),
		Approved:  approved,
		Actor:     actor,
		Reason:    sql.NullString{String: reason, Valid: reason != ""},
		CreatedAt: f.now(),
	})
	return nil
}

func (f *FakeStore) HasApproval(jobID string, action jobs.ApprovalAction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, approval := range f.Approvals[jobID] {
		if approval.Action == string(action) && approval.Approved {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeStore) AddPolicyAudit(jobID, decision, ruleID, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Audits[jobID] = append(f.Audits[jobID], store.PolicyAudit{
		JobID:     jobID,
		Decision:  decision,
		RuleID:    ruleID,
		Details:   sql.NullString{String: details, Valid: true},
		CreatedAt: f.now(),
	})
	return nil
}

func (f *FakeStore) AddCost(jobID, model string, promptTokens, completionTokens int, costUSD float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ledger[jobID] = append(f.Ledger[jobID], store.CostEntry{
		JobID:            jobID,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          costUSD,
		CreatedAt:        f.now(),
	})
	if job, ok := f.Jobs[jobID]; ok {
		job.CostUSD += costUSD
		job.UpdatedAt = f.now()
	}
	return nil
}

func (f *FakeStore) DailyCost(day time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := day.UTC().Format("2006-01-02")
	var total float64
	for _, entries := range f.Ledger {
		for _, entry := range entries {
			if entry.CreatedAt.UTC().Format("2006-01-02") == target {
				total += entry.CostUSD
			}
		}
	}
	return total, nil
}

func (f *FakeStore) MonthlyCost(year int, month time.Month) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, entries := range f.Ledger {
		for _, entry := range entries {
			at := entry.CreatedAt.UTC()
			if at.Year() == year && at.Month() == month {
				total += entry.CostUSD
			}
		}
	}
	return total, nil
}

func (f *FakeStore) AddIncident(incidentType, severity, status, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Incidents = append(f.Incidents, store.Incident{
		IncidentType: incidentType,
		Severity:     severity,
		Status:       status,
		Details:      details,
		CreatedAt:    f.now(),
	})
	return nil
}

func (f *FakeStore) UpsertRepoProfiles(profiles map[string]policy.RepoConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for repo, cfg := range profiles {
		f.RepoProfiles[repo] = &store.RepoProfile{
			Repo:               repo,
			Enabled:            cfg.Enabled,
			DefaultBaseBranch:  cfg.BaseBranch,
			AllowedPaths:       store.StringList(cfg.AllowedPaths),
			AcceptanceCommands: store.StringList(cfg.AcceptanceCommands),
			CreatedAt:          f.now(),
			UpdatedAt:          f.now(),
		}
	}
	return nil
}

func (f *FakeStore) GetRepoProfile(repo string) (*store.RepoProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.RepoProfiles[repo]
	if !ok {
		return nil, nil
	}
	copied := *profile
	return &copied, nil
}

func (f *FakeStore) PendingApprovalCount() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, job := range f.Jobs {
		if job.Status == string(jobs.StatusAwaitingApproval) {
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) QueuedCount() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, job := range f.Jobs {
		if job.Status == string(jobs.StatusQueued) {
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) ListFailedJobs(limit int) ([]store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var failed []store.Job
	for _, job := range f.Jobs {
		if job.Status == string(jobs.StatusFailed) {
			failed = append(failed, *job)
		}
		if len(failed) == limit {
			break
		}
	}
	return failed, nil
}
