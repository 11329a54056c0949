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

// Package intake turns webhook deliveries, operator requests, and free-text
// task descriptions into queued jobs, applying the policy checks that
// decide whether work is admitted at all.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/githubapp"
	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/queueing"
	"github.com/codex-home/orchestrator/store"
)

// Admission failures the API layer maps to HTTP status codes.
var (
	ErrRepoNotAllowlisted  = errors.New("Repo not in allowlist.")
	ErrRepoProfileDisabled = errors.New("Repo profile not enabled.")
)

// ForgeError wraps a GitHub failure during release-mode text intake.
type ForgeError struct {
	Err error
}

func (e *ForgeError) Error() string { return e.Err.Error() }
func (e *ForgeError) Unwrap() error { return e.Err }

// IssueCreator is the only forge capability intake needs.
type IssueCreator interface {
	CreateIssue(repo, title, body string, labels []string) (*githubapp.Issue, error)
}

// WebhookResult is the admission decision for one delivery.
type WebhookResult struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
	JobID    string `json:"job_id,omitempty"`
}

// CreateJobRequest is the operator's direct job submission.
type CreateJobRequest struct {
	Repo               string            `json:"repo"`
	IssueNumber        int               `json:"issue_number"`
	BaseBranch         string            `json:"base_branch"`
	RiskClass          jobs.RiskClass    `json:"risk_class"`
	ModelProfile       jobs.ModelProfile `json:"model_profile"`
	CreatedBy          string            `json:"created_by"`
	AllowedPaths       []string          `json:"allowed_paths"`
	AcceptanceCommands []string          `json:"acceptance_commands"`
	Caps               *jobs.Caps        `json:"caps"`
}

// TextIntakeRequest describes a task in prose; release mode opens a real
// issue for it, fast mode synthesizes a local issue number.
type TextIntakeRequest struct {
	Repo               string            `json:"repo"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Labels             []string          `json:"labels"`
	BaseBranch         string            `json:"base_branch"`
	RiskClass          jobs.RiskClass    `json:"risk_class"`
	ModelProfile       jobs.ModelProfile `json:"model_profile"`
	CreatedBy          string            `json:"created_by"`
	AllowedPaths       []string          `json:"allowed_paths"`
	AcceptanceCommands []string          `json:"acceptance_commands"`
	Caps               *jobs.Caps        `json:"caps"`
}

// Coordinator admits work.
type Coordinator struct {
	store    store.Interface
	queue    queueing.Backend
	policy   *policy.Profile
	forge    IssueCreator
	settings config.Settings

	now func() time.Time
	// localIssueNumber synthesizes issue ids for fast-mode text intake.
	localIssueNumber func() int
}

func NewCoordinator(
	s store.Interface,
	queue queueing.Backend,
	profile *policy.Profile,
	forge IssueCreator,
	settings config.Settings,
) *Coordinator {
	return &Coordinator{
		store:    s,
		queue:    queue,
		policy:   profile,
		forge:    forge,
		settings: settings,
		now:      time.Now,
		localIssueNumber: func() int {
			return rand.Intn(2_000_000_000) + 1
		},
	}
}

// DetectRisk maps issue labels to the job's risk class, most severe first.
func DetectRisk(labels []string) jobs.RiskClass {
	set := map[string]bool{}
	for _, label := range labels {
		set[strings.ToLower(label)] = true
	}
	switch {
	case set["destructive"]:
		return jobs.RiskDestructive
	case set["secrets"]:
		return jobs.RiskSecrets
	case set["infra"]:
		return jobs.RiskInfra
	case set["deps"], set["dependencies"], set["security"]:
		return jobs.RiskDeps
	}
	return jobs.RiskCode
}

type webhookPayload struct {
	Action string `json:"action"`
	Label  struct {
		Name string `json:"name"`
	} `json:"label"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Issue struct {
		Number int `json:"number"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
	} `json:"issue"`
}

// HandleWebhook admits or drops one GitHub delivery. The caller has already
// verified the signature. Every drop reason is reported in the result, not
// as an error; errors are reserved for store and queue failures.
func (c *Coordinator) HandleWebhook(eventType string, body []byte) (WebhookResult, error) {
	enabled, err := c.queue.AgentsEnabled()
	if err != nil {
		return WebhookResult{}, fmt.Errorf("reading kill switch: %w", err)
	}
	if !enabled {
		return WebhookResult{Message: "Kill switch active."}, nil
	}
	if eventType != "issues" {
		return WebhookResult{Message: "Event ignored."}, nil
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookResult{}, fmt.Errorf("decoding webhook payload: %w", err)
	}

	labels := make([]string, 0, len(payload.Issue.Labels))
	for _, label := range payload.Issue.Labels {
		labels = append(labels, strings.ToLower(label.Name))
	}
	agentReady := contains(labels, "agent-ready")
	if payload.Action == "labeled" {
		agentReady = strings.ToLower(payload.Label.Name) == "agent-ready"
	}
	if !agentReady {
		return WebhookResult{Message: "Missing agent-ready label."}, nil
	}

	repoName := payload.Repository.FullName
	if !c.policy.RepoAllowed(repoName) {
		return WebhookResult{Message: "Repo not allowlisted: " + repoName}, nil
	}
	if payload.Issue.Number == 0 {
		return WebhookResult{Message: "Missing issue number."}, nil
	}

	profile, err := c.store.GetRepoProfile(repoName)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("loading repo profile: %w", err)
	}
	if profile == nil || !profile.Enabled {
		return WebhookResult{Message: "Repo disabled: " + repoName}, nil
	}

	latest, err := c.store.LatestJobForIssue(repoName, payload.Issue.Number)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("checking for existing job: %w", err)
	}
	if latest != nil {
		switch latest.Status {
		case string(jobs.StatusQueued), string(jobs.StatusRunning), string(jobs.StatusAwaitingApproval):
			return WebhookResult{Message: "Job already in progress: " + latest.JobID}, nil
		}
		if !latest.CreatedAt.Before(c.now().UTC().Add(-2 * time.Minute)) {
			return WebhookResult{Message: "Duplicate webhook ignored: " + latest.JobID}, nil
		}
	}

	risk := DetectRisk(labels)
	spec := jobs.NewSpec(repoName, payload.Issue.Number)
	spec.BaseBranch = profile.DefaultBaseBranch
	spec.RiskClass = risk
	spec.AllowedPaths = profile.AllowedPaths
	spec.AcceptanceCommands = profile.AcceptanceCommands
	spec.Caps = c.policy.DefaultCaps
	spec.RequiresApproval = c.policy.RequiredApprovals(risk)
	spec.CreatedBy = "github-webhook"
	spec.CreatedAt = c.now().UTC()

	created, err := c.admit(spec, "webhook")
	if err != nil {
		return WebhookResult{}, err
	}
	logrus.WithField("job_id", created.JobID).Info("Job created from webhook.")
	return WebhookResult{Accepted: true, Message: "Job queued.", JobID: created.JobID}, nil
}

// CreateJob admits an operator-submitted job.
func (c *Coordinator) CreateJob(req CreateJobRequest) (*store.Job, error) {
	if !c.policy.RepoAllowed(req.Repo) {
		return nil, ErrRepoNotAllowlisted
	}
	profile, err := c.store.GetRepoProfile(req.Repo)
	if err != nil {
		return nil, fmt.Errorf("loading repo profile: %w", err)
	}
	if profile == nil || !profile.Enabled {
		return nil, ErrRepoProfileDisabled
	}

	spec := c.buildSpec(req.Repo, req.IssueNumber, profile, specOverrides{
		baseBranch:         req.BaseBranch,
		riskClass:          req.RiskClass,
		modelProfile:       req.ModelProfile,
		allowedPaths:       req.AllowedPaths,
		acceptanceCommands: req.AcceptanceCommands,
		caps:               req.Caps,
		createdBy:          defaultString(req.CreatedBy, "operator"),
	})
	return c.admit(spec, "manual")
}

// TextIntake admits a prose task. Release mode first opens a labeled GitHub
// issue; the agent-ready label is stripped so the resulting webhook delivery
// cannot race a second job for the same issue.
func (c *Coordinator) TextIntake(req TextIntakeRequest) (*store.Job, error) {
	if !c.policy.RepoAllowed(req.Repo) {
		return nil, ErrRepoNotAllowlisted
	}

	labelSet := map[string]bool{}
	for _, label := range req.Labels {
		if strings.EqualFold(label, "agent-ready") {
			continue
		}
		labelSet[label] = true
	}
	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var issueNumber int
	if c.settings.IsReleaseMode() {
		issue, err := c.forge.CreateIssue(req.Repo, req.Title, req.Body, labels)
		if err != nil {
			return nil, &ForgeError{Err: err}
		}
		issueNumber = issue.Number
	} else {
		issueNumber = c.localIssueNumber()
	}

	profile, err := c.store.GetRepoProfile(req.Repo)
	if err != nil {
		return nil, fmt.Errorf("loading repo profile: %w", err)
	}
	if profile == nil || !profile.Enabled {
		return nil, ErrRepoProfileDisabled
	}

	spec := c.buildSpec(req.Repo, issueNumber, profile, specOverrides{
		baseBranch:         req.BaseBranch,
		riskClass:          req.RiskClass,
		modelProfile:       req.ModelProfile,
		allowedPaths:       req.AllowedPaths,
		acceptanceCommands: req.AcceptanceCommands,
		caps:               req.Caps,
		createdBy:          defaultString(req.CreatedBy, "operator"),
	})

	source := "text_intake_fast"
	if c.settings.IsReleaseMode() {
		source = "text_intake_release"
	}
	return c.admit(spec, source)
}

type specOverrides struct {
	baseBranch         string
	riskClass          jobs.RiskClass
	modelProfile       jobs.ModelProfile
	allowedPaths       []string
	acceptanceCommands []string
	caps               *jobs.Caps
	createdBy          string
}

func (c *Coordinator) buildSpec(repo string, issueNumber int, profile *store.RepoProfile, o specOverrides) jobs.Spec {
	spec := jobs.NewSpec(repo, issueNumber)
	spec.BaseBranch = defaultString(o.baseBranch, profile.DefaultBaseBranch)
	if o.riskClass != "" {
		spec.RiskClass = o.riskClass
	}
	if o.modelProfile != "" {
		spec.ModelProfile = o.modelProfile
	}
	spec.AllowedPaths = o.allowedPaths
	if len(spec.AllowedPaths) == 0 {
		spec.AllowedPaths = profile.AllowedPaths
	}
	spec.AcceptanceCommands = o.acceptanceCommands
	if len(spec.AcceptanceCommands) == 0 {
		spec.AcceptanceCommands = profile.AcceptanceCommands
	}
	spec.Caps = c.policy.DefaultCaps
	if o.caps != nil {
		spec.Caps = *o.caps
	}
	spec.RequiresApproval = c.policy.RequiredApprovals(spec.RiskClass)
	spec.CreatedBy = o.createdBy
	spec.CreatedAt = c.now().UTC()
	return spec
}

// admit persists and enqueues the job, counting it by source.
func (c *Coordinator) admit(spec jobs.Spec, source string) (*store.Job, error) {
	created, err := c.store.CreateJob(spec)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	if err := c.queue.Enqueue(queueing.Task{JobID: created.JobID, EnqueuedAt: c.now().UTC()}); err != nil {
		return nil, fmt.Errorf("enqueueing job %s: %w", created.JobID, err)
	}
	metrics.JobsCreated.WithLabelValues(source).Inc()
	return created, nil
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}
	return false
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
