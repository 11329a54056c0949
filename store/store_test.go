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
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/codex-home/orchestrator/jobs"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("creating sqlmock: %v", err)
	}
	db := sqlx.NewDb(mockDB, "postgres")
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func TestCreateJobWritesJobAndEventAtomically(t *testing.T) {
	s, mock := newMockStore(t)

	spec := jobs.NewSpec("acme/repo", 42)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs(spec.JobID, "enqueue", "created", "Job created and queued.", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE job_id`).
		WithArgs(spec.JobID).
		WillReturnRows(jobRows(spec))

	job, err := s.CreateJob(spec)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != string(jobs.StatusQueued) {
		t.Errorf("status = %q, want queued", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateJobRollsBackOnEventFailure(t *testing.T) {
	s, mock := newMockStore(t)

	spec := jobs.NewSpec("acme/repo", 42)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO job_events`).
		WillReturnError(errDisk)
	mock.ExpectRollback()

	if _, err := s.CreateJob(spec); err == nil {
		t.Fatal("expected CreateJob to surface the event insert failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

var errDisk = &testError{"disk full"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func jobRows(spec jobs.Spec) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"job_id", "repo", "issue_number", "base_branch", "risk_class", "status",
		"model_profile", "requires_approval", "allowed_paths", "acceptance_commands",
		"artifact_contract", "caps_max_minutes", "caps_max_iterations", "caps_max_usd",
		"created_by", "created_at", "updated_at", "current_stage", "failure_reason",
		"pr_url", "cost_usd",
	}).AddRow(
		spec.JobID, spec.Repo, spec.IssueNumber, spec.BaseBranch,
		string(spec.RiskClass), "queued", string(spec.ModelProfile),
		[]byte(`["merge"]`), []byte(`[]`), []byte(`[]`),
		[]byte(`["plan.md","patch.diff","test.log","review.md","cost.json","run.jsonl"]`),
		spec.Caps.MaxMinutes, spec.Caps.MaxIterations, spec.Caps.MaxUSD,
		spec.CreatedBy, now, now, nil, nil, nil, 0.0,
	)
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE job_id`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	job, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job != nil {
		t.Errorf("job = %+v, want nil", job)
	}
}

func TestUpdateJobStatusOnlyTouchesStagedColumns(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE job_id = \$3`).
		WithArgs("running", sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateJobStatus("job-1", jobs.StatusRunning, StatusUpdate{}); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2, current_stage = \$3, failure_reason = \$4 WHERE job_id = \$5`).
		WithArgs("failed", sqlmock.AnyArg(), "test", "ACCEPTANCE_COMMAND_FAILED: pytest -q", "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateJobStatus("job-1", jobs.StatusFailed, StatusUpdate{
		Stage:  "test",
		Reason: "ACCEPTANCE_COMMAND_FAILED: pytest -q",
	})
	if err != nil {
		t.Fatalf("UpdateJobStatus with reason: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHasApproval(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM approvals`).
		WithArgs("job-1", "destructive").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := s.HasApproval("job-1", jobs.ApprovalDestructive)
	if err != nil {
		t.Fatalf("HasApproval: %v", err)
	}
	if !ok {
		t.Error("expected approval to be present")
	}
}

func TestAddCostAccumulatesOnJob(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO cost_ledger`).
		WithArgs("job-1", "gpt-4.1", 100, 50, 0.0123).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE jobs SET cost_usd = cost_usd \+ \$1`).
		WithArgs(0.0123, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.AddCost("job-1", "gpt-4.1", 100, 50, 0.0123); err != nil {
		t.Fatalf("AddCost: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDailyAndMonthlyCost(t *testing.T) {
	s, mock := newMockStore(t)
	day := time.Date(2026, 8, 24, 15, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_usd\), 0\) FROM cost_ledger`).
		WithArgs("2026-08-24").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(12.34))
	got, err := s.DailyCost(day)
	if err != nil {
		t.Fatalf("DailyCost: %v", err)
	}
	if got != 12.34 {
		t.Errorf("DailyCost = %v, want 12.34", got)
	}

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_usd\), 0\) FROM cost_ledger`).
		WithArgs("2026-08").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(99.5))
	got, err = s.MonthlyCost(2026, time.August)
	if err != nil {
		t.Fatalf("MonthlyCost: %v", err)
	}
	if got != 99.5 {
		t.Errorf("MonthlyCost = %v, want 99.5", got)
	}
}
