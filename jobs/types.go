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

// Package jobs holds the shared job model: risk classes, statuses, approval
// actions, caps and the job specification handed from intake to the store.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

// RiskClass is the coarse safety tier of a job. It selects which approvals
// must be recorded before the job may execute.
type RiskClass string

const (
	RiskCode        RiskClass = "code"
	RiskDeps        RiskClass = "deps"
	RiskInfra       RiskClass = "infra"
	RiskSecrets     RiskClass = "secrets"
	RiskDestructive RiskClass = "destructive"
)

// ModelProfile selects which configured completion model a job uses.
type ModelProfile string

const (
	ProfileTriage ModelProfile = "triage"
	ProfileBuild  ModelProfile = "build"
	ProfileReview ModelProfile = "review"
)

// ApprovalAction is a named permission token recorded by an operator.
type ApprovalAction string

const (
	ApprovalMerge       ApprovalAction = "merge"
	ApprovalInfra       ApprovalAction = "infra"
	ApprovalSecrets     ApprovalAction = "secrets"
	ApprovalDestructive ApprovalAction = "destructive"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusRejected         Status = "rejected"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// Stage names, in pipeline order.
const (
	StageTriage  = "triage"
	StagePlan    = "plan"
	StageExecute = "execute"
	StageTest    = "test"
	StageReview  = "review"
	StagePR      = "pr"
)

// Bookkeeping stages recorded outside the pipeline proper.
const (
	StageDispatch = "dispatch"
	StageApproval = "approval"
)

// Caps bound a single job's execution.
type Caps struct {
	MaxMinutes    int     `json:"max_minutes"`
	MaxIterations int     `json:"max_iterations"`
	MaxUSD        float64 `json:"max_usd"`
}

// DefaultCaps returns the caps applied when neither the request nor the
// policy file provides any.
func DefaultCaps() Caps {
	return Caps{MaxMinutes: 45, MaxIterations: 8, MaxUSD: 3.0}
}

// DefaultArtifactContract lists the files that must exist in a job's
// artifact directory before any stage runs.
func DefaultArtifactContract() []string {
	return []string{"plan.md", "patch.diff", "test.log", "review.md", "cost.json", "run.jsonl"}
}

// Spec is everything needed to persist and dispatch a new job.
type Spec struct {
	JobID              string
	Repo               string
	IssueNumber        int
	BaseBranch         string
	RiskClass          RiskClass
	ModelProfile       ModelProfile
	AllowedPaths       []string
	AcceptanceCommands []string
	Caps               Caps
	RequiresApproval   []ApprovalAction
	ArtifactContract   []string
	CreatedBy          string
	CreatedAt          time.Time
}

// NewSpec fills a Spec's generated and defaulted fields.
func NewSpec(repo string, issueNumber int) Spec {
	return Spec{
		JobID:            uuid.NewString(),
		Repo:             repo,
		IssueNumber:      issueNumber,
		BaseBranch:       "main",
		RiskClass:        RiskCode,
		ModelProfile:     ProfileBuild,
		Caps:             DefaultCaps(),
		RequiresApproval: []ApprovalAction{ApprovalMerge},
		ArtifactContract: DefaultArtifactContract(),
		CreatedBy:        "system",
		CreatedAt:        time.Now().UTC(),
	}
}
