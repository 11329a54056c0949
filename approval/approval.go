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

// Package approval implements the human gate: jobs in risky classes park
// until an operator records the matching approval.
package approval

import (
	"fmt"

	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/store"
)

// RequiredAction returns the approval action a risk class demands before
// the pipeline may start. Most classes need none.
func RequiredAction(risk jobs.RiskClass) (jobs.ApprovalAction, bool) {
	switch risk {
	case jobs.RiskInfra:
		return jobs.ApprovalInfra, true
	case jobs.RiskSecrets:
		return jobs.ApprovalSecrets, true
	case jobs.RiskDestructive:
		return jobs.ApprovalDestructive, true
	}
	return "", false
}

// Gate checks and records operator approvals.
type Gate struct {
	store store.Interface
}

func NewGate(s store.Interface) *Gate {
	return &Gate{store: s}
}

// Satisfied reports whether the job's risk class is either unrestricted or
// already has its approval on record.
func (g *Gate) Satisfied(job *store.Job) (bool, error) {
	action, needed := RequiredAction(jobs.RiskClass(job.RiskClass))
	if !needed {
		return true, nil
	}
	ok, err := g.store.HasApproval(job.JobID, action)
	if err != nil {
		return false, fmt.Errorf("checking %s approval: %w", action, err)
	}
	return ok, nil
}

// Hold parks the job until an operator approves it.
func (g *Gate) Hold(job *store.Job) error {
	err := g.store.UpdateJobStatus(job.JobID, jobs.StatusAwaitingApproval, store.StatusUpdate{Stage: jobs.StageApproval})
	if err != nil {
		return err
	}
	return g.store.AddJobEvent(job.JobID, jobs.StageApproval, "waiting",
		fmt.Sprintf("Approval required for risk class %s.", job.RiskClass), nil)
}

// Approve records the decision. The returned requeue flag is true when the
// job was parked and should go back on the queue.
func (g *Gate) Approve(job *store.Job, action jobs.ApprovalAction, actor, reason string) (bool, error) {
	if err := g.store.AddApproval(job.JobID, action, actor, true, reason); err != nil {
		return false, fmt.Errorf("recording approval: %w", err)
	}
	err := g.store.AddJobEvent(job.JobID, jobs.StageApproval, "approved",
		fmt.Sprintf("%s approved by %s.", action, actor), nil)
	if err != nil {
		return false, err
	}
	if job.Status != string(jobs.StatusAwaitingApproval) {
		return false, nil
	}
	err = g.store.UpdateJobStatus(job.JobID, jobs.StatusQueued, store.StatusUpdate{Stage: jobs.StageApproval})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reject terminates the job.
func (g *Gate) Reject(job *store.Job, actor, reason string) error {
	err := g.store.UpdateJobStatus(job.JobID, jobs.StatusRejected, store.StatusUpdate{
		Stage:  jobs.StageApproval,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	return g.store.AddJobEvent(job.JobID, jobs.StageApproval, "rejected",
		fmt.Sprintf("Rejected by %s: %s", actor, reason), nil)
}
