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

package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaLockID serializes schema initialization across processes that start
// simultaneously (orchestrator + workers).
const schemaLockID = 1400212026

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id VARCHAR(36) PRIMARY KEY,
		repo VARCHAR(255) NOT NULL,
		issue_number INTEGER NOT NULL,
		base_branch VARCHAR(255) NOT NULL DEFAULT 'main',
		risk_class VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'queued',
		model_profile VARCHAR(32) NOT NULL DEFAULT 'build',
		requires_approval JSONB NOT NULL,
		allowed_paths JSONB NOT NULL,
		acceptance_commands JSONB NOT NULL,
		artifact_contract JSONB NOT NULL,
		caps_max_minutes INTEGER NOT NULL,
		caps_max_iterations INTEGER NOT NULL,
		caps_max_usd DOUBLE PRECISION NOT NULL,
		created_by VARCHAR(128) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		current_stage VARCHAR(64),
		failure_reason TEXT,
		pr_url TEXT,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_repo_issue ON jobs (repo, issue_number, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS job_events (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		stage VARCHAR(64) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		message TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS approvals (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		action VARCHAR(64) NOT NULL,
		approved BOOLEAN NOT NULL DEFAULT TRUE,
		actor VARCHAR(128) NOT NULL,
		reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS policy_audit (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		decision VARCHAR(16) NOT NULL,
		rule_id VARCHAR(128) NOT NULL,
		details TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cost_ledger (
		id BIGSERIAL PRIMARY KEY,
		job_id VARCHAR(36) NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
		model VARCHAR(128) NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id BIGSERIAL PRIMARY KEY,
		incident_type VARCHAR(128) NOT NULL,
		severity VARCHAR(32) NOT NULL,
		status VARCHAR(32) NOT NULL,
		details TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS repo_profiles (
		repo VARCHAR(255) PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		default_base_branch VARCHAR(255) NOT NULL DEFAULT 'main',
		allowed_paths JSONB NOT NULL,
		acceptance_commands JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// InitSchema creates all tables. On postgres it takes an advisory lock so
// concurrent processes can initialize safely; other backends fall back to
// best-effort create-if-absent.
func InitSchema(db *sqlx.DB) error {
	if db.DriverName() == "postgres" {
		return initSchemaLocked(db)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

func initSchemaLocked(db *sqlx.DB) error {
	ctx := context.Background()
	conn, err := db.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquiring schema connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", schemaLockID); err != nil {
		return fmt.Errorf("acquiring schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", schemaLockID)
	}()

	for _, stmt := range schemaStatements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}
