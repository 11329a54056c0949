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

// Package store persists jobs, events, approvals, audits, the cost ledger,
// incidents and repo profiles. Every exported write commits atomically; the
// backing database's transaction isolation serializes concurrent workers.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/policy"
)

// StatusUpdate carries the optional fields of a status transition. Zero
// values leave the corresponding column untouched.
type StatusUpdate struct {
	Stage  string
	Reason string
	PRURL  *string
}

// Interface is the job store contract consumed by the runner, intake and
// control plane.
type Interface interface {
	CreateJob(spec jobs.Spec) (*Job, error)
	GetJob(jobID string) (*Job, error)
	LatestJobForIssue(repo string, issueNumber int) (*Job, error)
	ListJobEvents(jobID string) ([]JobEvent, error)
	UpdateJobStatus(jobID string, status jobs.Status, update StatusUpdate) error
	AddJobEvent(jobID, stage, eventType, message string, metadata map[string]string) error
	AddApproval(jobID string, action jobs.ApprovalAction, actor string, approved bool, reason string) error
	HasApproval(jobID string, action jobs.ApprovalAction) (bool, error)
	AddPolicyAudit(jobID, decision, ruleID, details string) error
	AddCost(jobID, model string, promptTokens, completionTokens int, costUSD float64) error
	DailyCost(day time.Time) (float64, error)
	MonthlyCost(year int, month time.Month) (float64, error)
	AddIncident(incidentType, severity, status, details string) error
	UpsertRepoProfiles(profiles map[string]policy.RepoConfig) error
	GetRepoProfile(repo string) (*RepoProfile, error)
	PendingApprovalCount() (int, error)
	QueuedCount() (int, error)
	ListFailedJobs(limit int) ([]Job, error)
}

// Store implements Interface on postgres via sqlx.
type Store struct {
	db *sqlx.DB
}

var _ Interface = &Store{}

// New opens the database and optionally initializes the schema.
func New(databaseURL string, autoMigrate bool) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if autoMigrate {
		if err := InitSchema(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob persists the spec with status queued and writes the created
// event in the same transaction.
func (s *Store) CreateJob(spec jobs.Spec) (*Job, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("beginning create_job transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := spec.CreatedAt.UTC()
	approvals := make(StringList, 0, len(spec.RequiresApproval))
	for _, action := range spec.RequiresApproval {
		approvals = append(approvals, string(action))
	}

	_, err = tx.Exec(`
		INSERT INTO jobs (
			job_id, repo, issue_number, base_branch, risk_class, status,
			model_profile, requires_approval, allowed_paths, acceptance_commands,
			artifact_contract, caps_max_minutes, caps_max_iterations, caps_max_usd,
			created_by, created_at, updated_at, cost_usd
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,0)`,
		spec.JobID, spec.Repo, spec.IssueNumber, spec.BaseBranch,
		string(spec.RiskClass), string(jobs.StatusQueued), string(spec.ModelProfile),
		approvals, StringList(spec.AllowedPaths), StringList(spec.AcceptanceCommands),
		StringList(spec.ArtifactContract), spec.Caps.MaxMinutes, spec.Caps.MaxIterations,
		spec.Caps.MaxUSD, spec.CreatedBy, createdAt, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO job_events (job_id, stage, event_type, message, metadata)
		VALUES ($1,$2,$3,$4,$5)`,
		spec.JobID, "enqueue", "created", "Job created and queued.",
		MetadataMap{"source": spec.CreatedBy},
	)
	if err != nil {
		return nil, fmt.Errorf("inserting created event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing create_job: %w", err)
	}
	return s.GetJob(spec.JobID)
}

// GetJob returns the job or nil when it does not exist.
func (s *Store) GetJob(jobID string) (*Job, error) {
	var job Job
	err := s.db.Get(&job, `SELECT * FROM jobs WHERE job_id = $1`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job %s: %w", jobID, err)
	}
	return &job, nil
}

// LatestJobForIssue returns the most recently created job for (repo, issue),
// or nil.
func (s *Store) LatestJobForIssue(repo string, issueNumber int) (*Job, error) {
	var job Job
	err := s.db.Get(&job, `
		SELECT * FROM jobs WHERE repo = $1 AND issue_number = $2
		ORDER BY created_at DESC LIMIT 1`, repo, issueNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching latest job for %s#%d: %w", repo, issueNumber, err)
	}
	return &job, nil
}

// ListJobEvents returns the job's events ordered by creation time.
func (s *Store) ListJobEvents(jobID string) ([]JobEvent, error) {
	var events []JobEvent
	err := s.db.Select(&events, `
		SELECT * FROM job_events WHERE job_id = $1 ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", jobID, err)
	}
	return events, nil
}

// UpdateJobStatus transitions the job, touching updated_at. Only the staged
// values in update mutate.
func (s *Store) UpdateJobStatus(jobID string, status jobs.Status, update StatusUpdate) error {
	query := `UPDATE jobs SET status = $1, updated_at = $2`
	args := []interface{}{string(status), time.Now().UTC()}
	idx := 3
	if update.Stage != "" {
		query += fmt.Sprintf(", current_stage = $%d", idx)
		args = append(args, update.Stage)
		idx++
	}
	if update.Reason != "" {
		query += fmt.Sprintf(", failure_reason = $%d", idx)
		args = append(args, update.Reason)
		idx++
	}
	if update.PRURL != nil {
		query += fmt.Sprintf(", pr_url = $%d", idx)
		args = append(args, *update.PRURL)
		idx++
	}
	query += fmt.Sprintf(" WHERE job_id = $%d", idx)
	args = append(args, jobID)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("updating job %s to %s: %w", jobID, status, err)
	}
	return nil
}

// AddJobEvent appends one lifecycle record.
func (s *Store) AddJobEvent(jobID, stage, eventType, message string, metadata map[string]string) error {
	_, err := s.db.Exec(`
		INSERT INTO job_events (job_id, stage, event_type, message, metadata)
		VALUES ($1,$2,$3,$4,$5)`,
		jobID, stage, eventType, message, MetadataMap(metadata))
	if err != nil {
		return fmt.Errorf("adding %s/%s event for %s: %w", stage, eventType, jobID, err)
	}
	return nil
}

// AddApproval records an operator decision.
func (s *Store) AddApproval(jobID string, action jobs.ApprovalAction, actor string, approved bool, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO approvals (job_id, action, approved, actor, reason)
		VALUES ($1,$2,$3,$4,NULLIF($5,''))`,
		jobID, string(action), approved, actor, reason)
	if err != nil {
		return fmt.Errorf("adding %s approval for %s: %w", action, jobID, err)
	}
	return nil
}

// HasApproval reports whether an approved row exists for (job, action).
func (s *Store) HasApproval(jobID string, action jobs.ApprovalAction) (bool, error) {
	var count int
	err := s.db.Get(&count, `
		SELECT COUNT(1) FROM approvals
		WHERE job_id = $1 AND action = $2 AND approved = TRUE`,
		jobID, string(action))
	if err != nil {
		return false, fmt.Errorf("checking %s approval for %s: %w", action, jobID, err)
	}
	return count > 0, nil
}

// AddPolicyAudit appends one allow/deny decision.
func (s *Store) AddPolicyAudit(jobID, decision, ruleID, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO policy_audit (job_id, decision, rule_id, details)
		VALUES ($1,$2,$3,$4)`,
		jobID, decision, ruleID, details)
	if err != nil {
		return fmt.Errorf("adding policy audit for %s: %w", jobID, err)
	}
	return nil
}

// AddCost writes a ledger row and bumps the job's accumulator in one
// transaction, keeping Job.cost_usd equal to the ledger sum.
func (s *Store) AddCost(jobID, model string, promptTokens, completionTokens int, costUSD float64) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning add_cost transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO cost_ledger (job_id, model, prompt_tokens, completion_tokens, cost_usd)
		VALUES ($1,$2,$3,$4,$5)`,
		jobID, model, promptTokens, completionTokens, costUSD)
	if err != nil {
		return fmt.Errorf("inserting cost ledger row: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE jobs SET cost_usd = cost_usd + $1, updated_at = $2 WHERE job_id = $3`,
		costUSD, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("accumulating job cost: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing add_cost: %w", err)
	}
	return nil
}

// DailyCost sums the ledger for one UTC calendar day.
func (s *Store) DailyCost(day time.Time) (float64, error) {
	var total float64
	err := s.db.Get(&total, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger
		WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date`,
		day.UTC().Format("2006-01-02"))
	if err != nil {
		return 0, fmt.Errorf("summing daily cost: %w", err)
	}
	return total, nil
}

// MonthlyCost sums the ledger for one UTC calendar month.
func (s *Store) MonthlyCost(year int, month time.Month) (float64, error) {
	var total float64
	err := s.db.Get(&total, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger
		WHERE to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM') = $1`,
		fmt.Sprintf("%04d-%02d", year, month))
	if err != nil {
		return 0, fmt.Errorf("summing monthly cost: %w", err)
	}
	return total, nil
}

// AddIncident records an operational event.
func (s *Store) AddIncident(incidentType, severity, status, details string) error {
	_, err := s.db.Exec(`
		INSERT INTO incidents (incident_type, severity, status, details)
		VALUES ($1,$2,$3,$4)`,
		incidentType, severity, status, details)
	if err != nil {
		return fmt.Errorf("adding incident: %w", err)
	}
	return nil
}

// UpsertRepoProfiles mirrors the repos file into the database. Idempotent.
func (s *Store) UpsertRepoProfiles(profiles map[string]policy.RepoConfig) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning repo profile upsert: %w", err)
	}
	defer tx.Rollback()

	for repo, cfg := range profiles {
		_, err := tx.Exec(`
			INSERT INTO repo_profiles (repo, enabled, default_base_branch, allowed_paths, acceptance_commands)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (repo) DO UPDATE SET
				enabled = EXCLUDED.enabled,
				default_base_branch = EXCLUDED.default_base_branch,
				allowed_paths = EXCLUDED.allowed_paths,
				acceptance_commands = EXCLUDED.acceptance_commands,
				updated_at = NOW()`,
			repo, cfg.Enabled, cfg.BaseBranch,
			StringList(cfg.AllowedPaths), StringList(cfg.AcceptanceCommands))
		if err != nil {
			return fmt.Errorf("upserting repo profile %s: %w", repo, err)
		}
	}
	return tx.Commit()
}

// GetRepoProfile returns the profile or nil when absent.
func (s *Store) GetRepoProfile(repo string) (*RepoProfile, error) {
	var profile RepoProfile
	err := s.db.Get(&profile, `SELECT * FROM repo_profiles WHERE repo = $1`, repo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching repo profile %s: %w", repo, err)
	}
	return &profile, nil
}

// PendingApprovalCount counts jobs sitting in awaiting_approval.
func (s *Store) PendingApprovalCount() (int, error) {
	var count int
	err := s.db.Get(&count, `SELECT COUNT(1) FROM jobs WHERE status = $1`,
		string(jobs.StatusAwaitingApproval))
	if err != nil {
		return 0, fmt.Errorf("counting pending approvals: %w", err)
	}
	return count, nil
}

// QueuedCount counts jobs in queued status.
func (s *Store) QueuedCount() (int, error) {
	var count int
	err := s.db.Get(&count, `SELECT COUNT(1) FROM jobs WHERE status = $1`,
		string(jobs.StatusQueued))
	if err != nil {
		return 0, fmt.Errorf("counting queued jobs: %w", err)
	}
	return count, nil
}

// ListFailedJobs returns up to limit failed jobs, most recent first.
func (s *Store) ListFailedJobs(limit int) ([]Job, error) {
	var failed []Job
	err := s.db.Select(&failed, `
		SELECT * FROM jobs WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`,
		string(jobs.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed jobs: %w", err)
	}
	return failed, nil
}
