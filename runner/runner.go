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

// Package runner drives a job through the staged pipeline: triage, plan,
// execute, test, review, pr. Policy and spend checks run between stages;
// any failure terminates the job with a stable reason code.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codex-home/orchestrator/approval"
	"github.com/codex-home/orchestrator/artifacts"
	"github.com/codex-home/orchestrator/config"
	"github.com/codex-home/orchestrator/githubapp"
	"github.com/codex-home/orchestrator/jobs"
	"github.com/codex-home/orchestrator/llm"
	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/policy"
	"github.com/codex-home/orchestrator/queueing"
	"github.com/codex-home/orchestrator/spend"
	"github.com/codex-home/orchestrator/store"
)

var urlPattern = regexp.MustCompile("https?://[^\\s'\"`]+")

// Forge is the slice of the GitHub App client the pipeline needs. Fast mode
// never calls it.
type Forge interface {
	GetIssue(repo string, issueNumber int) (*githubapp.Issue, error)
	CreateDraftPullRequest(repo, title, head, base, body string) (string, error)
	InstallationToken() (string, error)
}

// Runner executes queued jobs.
type Runner struct {
	store    store.Interface
	queue    queueing.Backend
	policy   *policy.Profile
	llm      *llm.Client
	forge    Forge
	gate     *approval.Gate
	governor *spend.Governor
	settings config.Settings

	now func() time.Time
}

func New(
	s store.Interface,
	queue queueing.Backend,
	profile *policy.Profile,
	llmClient *llm.Client,
	forge Forge,
	settings config.Settings,
) *Runner {
	return &Runner{
		store:    s,
		queue:    queue,
		policy:   profile,
		llm:      llmClient,
		forge:    forge,
		gate:     approval.NewGate(s),
		governor: spend.New(s, settings.MaxUSDPerDay, settings.MaxUSDPerMonth),
		settings: settings,
		now:      time.Now,
	}
}

// pipelineState carries the values stages hand to each other.
type pipelineState struct {
	job           *store.Job
	artifactDir   string
	runLog        string
	workspaceRoot string
	repoWorkspace string
	branchName    string

	issueTitle string
	issueBody  string
	issueURL   string

	changedPaths []string
	patch        string
}

// Process runs one job end to end. Pipeline failures are terminal states,
// not errors; only bookkeeping problems return an error.
func (r *Runner) Process(jobID string) error {
	metrics.WorkerHeartbeat.SetToCurrentTime()
	log := logrus.WithField("job_id", jobID)
	fastMode := r.settings.IsFastMode()

	job, err := r.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}
	if job == nil {
		log.Error("Job not found.")
		return nil
	}

	// Redelivery of a finished job is normal under at-least-once delivery;
	// terminal statuses are immutable, so bail before any other check can
	// mutate the job.
	switch job.Status {
	case string(jobs.StatusCompleted), string(jobs.StatusRejected):
		log.WithField("status", job.Status).Info("Skipping terminal job.")
		return nil
	}

	artifactDir, err := artifacts.EnsureJobDir(r.settings.ArtifactRoot, jobID)
	if err != nil {
		return fmt.Errorf("preparing artifact dir: %w", err)
	}
	if err := artifacts.EnsureContract(artifactDir, job.ArtifactContract); err != nil {
		return fmt.Errorf("ensuring artifact contract: %w", err)
	}
	runLog := filepath.Join(artifactDir, "run.jsonl")

	r.appendRunLog(runLog, map[string]interface{}{
		"event":  "job_start",
		"job_id": jobID,
		"status": job.Status,
	})

	enabled, err := r.queue.AgentsEnabled()
	if err != nil {
		return fmt.Errorf("reading kill switch: %w", err)
	}
	if !enabled {
		if err := r.store.UpdateJobStatus(jobID, jobs.StatusFailed, store.StatusUpdate{
			Stage:  jobs.StageDispatch,
			Reason: "KILL_SWITCH_ACTIVE",
		}); err != nil {
			return err
		}
		if err := r.store.AddJobEvent(jobID, jobs.StageDispatch, "failed", "Kill switch active.", nil); err != nil {
			return err
		}
		metrics.JobsCompleted.WithLabelValues(string(jobs.StatusFailed)).Inc()
		return nil
	}

	satisfied, err := r.gate.Satisfied(job)
	if err != nil {
		return err
	}
	if !satisfied {
		return r.gate.Hold(job)
	}

	if err := r.setStage(jobID, jobs.StageTriage); err != nil {
		return err
	}
	r.appendRunLog(runLog, map[string]interface{}{"event": "stage_start", "stage": jobs.StageTriage})

	state := &pipelineState{
		job:         job,
		artifactDir: artifactDir,
		runLog:      runLog,
		issueTitle:  fmt.Sprintf("Issue #%d", job.IssueNumber),
		branchName:  fmt.Sprintf("codex-home/job-%s-%d", shortID(jobID), r.now().Unix()),
	}

	workspaceRoot, err := os.MkdirTemp("", "codex_job_"+jobID+"_")
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	defer os.RemoveAll(workspaceRoot)
	state.workspaceRoot = workspaceRoot
	state.repoWorkspace = filepath.Join(workspaceRoot, "repo")

	if pipelineErr := r.runPipeline(state, fastMode); pipelineErr != nil {
		return r.failJob(state, pipelineErr, log)
	}

	metrics.JobsCompleted.WithLabelValues(string(jobs.StatusCompleted)).Inc()
	r.appendRunLog(runLog, map[string]interface{}{"event": "job_completed"})
	return nil
}

func (r *Runner) runPipeline(state *pipelineState, fastMode bool) error {
	jobID := state.job.JobID

	if r.settings.IsReleaseMode() {
		issue, err := r.forge.GetIssue(state.job.Repo, state.job.IssueNumber)
		if err != nil {
			return err
		}
		if issue.Title != "" {
			state.issueTitle = issue.Title
		}
		state.issueBody = issue.Body
		state.issueURL = issue.HTMLURL
	}

	if err := r.runStage(jobs.StageTriage, func() error { return r.triageStage(state) }); err != nil {
		return err
	}
	if err := r.governor.Check(jobID); err != nil {
		return err
	}
	if err := r.setStage(jobID, jobs.StagePlan); err != nil {
		return err
	}

	if err := r.runStage(jobs.StagePlan, func() error { return r.planStage(state) }); err != nil {
		return err
	}
	if err := r.governor.Check(jobID); err != nil {
		return err
	}
	if err := r.setStage(jobID, jobs.StageExecute); err != nil {
		return err
	}

	if err := r.runStage(jobs.StageExecute, func() error { return r.executeStage(state, fastMode) }); err != nil {
		return err
	}
	current, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if current != nil && current.Status == string(jobs.StatusAwaitingApproval) {
		r.appendRunLog(state.runLog, map[string]interface{}{"event": "job_waiting_approval"})
		return errParkedForApproval
	}

	if err := r.setStage(jobID, jobs.StageTest); err != nil {
		return err
	}
	if err := r.runStage(jobs.StageTest, func() error { return r.testStage(state, fastMode) }); err != nil {
		return err
	}

	if err := r.setStage(jobID, jobs.StageReview); err != nil {
		return err
	}
	if err := r.runStage(jobs.StageReview, func() error { return r.reviewStage(state) }); err != nil {
		return err
	}
	if err := r.governor.Check(jobID); err != nil {
		return err
	}
	if err := r.setStage(jobID, jobs.StagePR); err != nil {
		return err
	}

	return r.runStage(jobs.StagePR, func() error { return r.prStage(state, fastMode) })
}

// errParkedForApproval is the sentinel for a job held mid-pipeline; the
// failure handler recognizes the parked status and leaves the job alone.
var errParkedForApproval = fmt.Errorf("job parked for approval")

func (r *Runner) triageStage(state *pipelineState) error {
	job := state.job
	excerpt := issueExcerpt(state.issueBody)
	result, err := r.llm.Generate(r.settings.ModelTriage, fmt.Sprintf(
		"Produce a concise triage summary for this issue.\nRepo: %s\nIssue: %d\nRisk: %s\nIssue title: %s\nIssue body:\n%s",
		job.Repo, job.IssueNumber, job.RiskClass, state.issueTitle, excerpt), 400)
	if err != nil {
		return err
	}
	if err := r.recordCost(job.JobID, result); err != nil {
		return err
	}

	issueURL := state.issueURL
	if issueURL == "" {
		issueURL = "(local/manual)"
	}
	content := fmt.Sprintf(
		"# Job %s\n\n## Triage\n- Repo: `%s`\n- Issue: `%d`\n- Risk: `%s`\n- Issue Title: %s\n- Issue URL: %s\n\n%s\n",
		job.JobID, job.Repo, job.IssueNumber, job.RiskClass, state.issueTitle, issueURL, result.Content)
	if err := artifacts.WriteText(filepath.Join(state.artifactDir, "plan.md"), content); err != nil {
		return err
	}
	return r.store.AddJobEvent(job.JobID, jobs.StageTriage, "completed", "Triage completed.", nil)
}

func (r *Runner) planStage(state *pipelineState) error {
	job := state.job
	result, err := r.llm.Generate(r.settings.ModelBuild, fmt.Sprintf(
		"Generate a concrete execution checklist and expected tests for this task.\nRepository: %s\nIssue: %d\nTitle: %s",
		job.Repo, job.IssueNumber, state.issueTitle), 400)
	if err != nil {
		return err
	}
	if err := r.recordCost(job.JobID, result); err != nil {
		return err
	}

	planPath := filepath.Join(state.artifactDir, "plan.md")
	existing, err := artifacts.ReadText(planPath)
	if err != nil {
		return err
	}
	if err := artifacts.WriteText(planPath, existing+"\n## Execution Checklist\n"+result.Content+"\n"); err != nil {
		return err
	}
	return r.store.AddJobEvent(job.JobID, jobs.StagePlan, "completed", "Planning completed.", nil)
}

func (r *Runner) executeStage(state *pipelineState, fastMode bool) error {
	job := state.job
	jobID := job.JobID

	if fastMode {
		state.changedPaths = []string{"README.md"}
		state.patch = "--- a/README.md\n+++ b/README.md\n@@\n+# Agent run summary\n+Generated patch placeholder for draft PR context.\n"
	} else {
		token, err := r.forge.InstallationToken()
		if err != nil {
			return err
		}
		cloneSource, err := githubapp.RepoHTTPSURL(job.Repo)
		if err != nil {
			return err
		}
		code, output, err := runGitCommand(
			[]string{"clone", "--single-branch", "--branch", job.BaseBranch, cloneSource, state.repoWorkspace},
			5*time.Minute, state.workspaceRoot, token)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_CLONE_FAILED: %s", strings.TrimSpace(output))
		}

		code, output, err = runGitCommand([]string{"checkout", "-b", state.branchName}, time.Minute, state.repoWorkspace, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_CHECKOUT_FAILED: %s", strings.TrimSpace(output))
		}

		note, err := r.llm.Generate(r.settings.ModelBuild, fmt.Sprintf(
			"Write concise markdown implementation notes for this coding task.\nUse sections: Summary, Changes, Validation.\nRepository: %s\nIssue: #%d\nTitle: %s\nBody:\n%s",
			job.Repo, job.IssueNumber, state.issueTitle, issueExcerpt(state.issueBody)), 500)
		if err != nil {
			return err
		}
		if err := r.recordCost(jobID, note); err != nil {
			return err
		}

		relPath := fmt.Sprintf("docs/agent-runs/%s.md", jobID)
		issueURL := state.issueURL
		if issueURL == "" {
			issueURL = "(not available)"
		}
		content := fmt.Sprintf("# Agent Draft for Issue #%d\n\nOriginal issue: %s\n\n%s\n",
			job.IssueNumber, issueURL, note.Content)
		if r.policy.SecretsDetected(content) {
			return fmt.Errorf("SECRET_PATTERN_DETECTED_IN_PATCH")
		}
		outputPath := filepath.Join(state.repoWorkspace, relPath)
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return fmt.Errorf("creating docs dir: %w", err)
		}
		if err := artifacts.WriteText(outputPath, content); err != nil {
			return err
		}
		state.changedPaths = []string{relPath}

		code, output, err = runGitCommand([]string{"add", "-N", relPath}, time.Minute, state.repoWorkspace, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_ADD_INTENT_FAILED: %s", strings.TrimSpace(output))
		}

		code, patch, err := runGitCommand([]string{"diff", "--", relPath}, time.Minute, state.repoWorkspace, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_DIFF_FAILED: %s", strings.TrimSpace(patch))
		}
		if strings.TrimSpace(patch) == "" {
			return fmt.Errorf("NO_PATCH_GENERATED")
		}
		state.patch = patch
	}

	allowed := job.AllowedPaths
	if len(allowed) == 0 {
		allowed = []string{"**"}
	}
	if violations := r.policy.AllowedPathViolation(state.changedPaths, allowed); len(violations) > 0 {
		if err := r.store.AddPolicyAudit(jobID, "deny", "allowed_paths",
			"Attempted paths outside allowlist: "+strings.Join(violations, ", ")); err != nil {
			return err
		}
		return fmt.Errorf("ALLOWED_PATHS_VIOLATION")
	}

	if r.policy.RequiresSensitiveApproval(state.changedPaths) {
		hasInfra, err := r.store.HasApproval(jobID, jobs.ApprovalInfra)
		if err != nil {
			return err
		}
		if !hasInfra {
			if err := r.store.UpdateJobStatus(jobID, jobs.StatusAwaitingApproval, store.StatusUpdate{Stage: jobs.StageExecute}); err != nil {
				return err
			}
			if err := r.store.AddJobEvent(jobID, jobs.StageExecute, "waiting", "Sensitive paths require infra approval.", nil); err != nil {
				return err
			}
			return fmt.Errorf("SENSITIVE_PATH_APPROVAL_REQUIRED")
		}
	}

	if err := artifacts.WriteText(filepath.Join(state.artifactDir, "patch.diff"), state.patch); err != nil {
		return err
	}
	if err := r.store.AddPolicyAudit(jobID, "allow", "allowed_paths", "Changed paths validated."); err != nil {
		return err
	}
	return r.store.AddJobEvent(jobID, jobs.StageExecute, "completed", "Execution stage produced patch artifact.", nil)
}

func (r *Runner) testStage(state *pipelineState, fastMode bool) error {
	job := state.job
	var outputs []string

	executionDir := state.repoWorkspace
	if _, err := os.Stat(executionDir); err != nil {
		executionDir = state.workspaceRoot
	}
	timeout := time.Duration(job.CapsMaxMinutes) * time.Minute
	if timeout > 20*time.Minute {
		timeout = 20 * time.Minute
	}

	for _, command := range job.AcceptanceCommands {
		if r.policy.IsBlockedCommand(command) {
			if err := r.store.AddPolicyAudit(job.JobID, "deny", "blocked_command", command); err != nil {
				return err
			}
			return fmt.Errorf("BLOCKED_COMMAND: %s", command)
		}
		for _, url := range urlPattern.FindAllString(command, -1) {
			if !r.policy.DomainAllowed(url) {
				if err := r.store.AddPolicyAudit(job.JobID, "deny", "domain_allowlist", url); err != nil {
					return err
				}
				return fmt.Errorf("DOMAIN_NOT_ALLOWLISTED: %s", url)
			}
		}

		code, output, err := runCommand(command, timeout, executionDir, fastMode)
		if err != nil {
			return err
		}
		outputs = append(outputs, fmt.Sprintf("$ %s\n%s\n", command, output))
		if code != 0 {
			return fmt.Errorf("ACCEPTANCE_COMMAND_FAILED: %s", command)
		}
	}

	if err := artifacts.WriteText(filepath.Join(state.artifactDir, "test.log"), strings.Join(outputs, "\n")); err != nil {
		return err
	}
	return r.store.AddJobEvent(job.JobID, jobs.StageTest, "completed", "Acceptance commands completed.", nil)
}

func (r *Runner) reviewStage(state *pipelineState) error {
	job := state.job
	result, err := r.llm.Generate(r.settings.ModelReview, fmt.Sprintf(
		"Write concise PR review notes emphasizing risk, tests, and rollback guidance.\nIssue: #%d\nTitle: %s\nChanged paths: %s",
		job.IssueNumber, state.issueTitle, strings.Join(state.changedPaths, ", ")), 400)
	if err != nil {
		return err
	}
	if err := r.recordCost(job.JobID, result); err != nil {
		return err
	}
	if r.policy.SecretsDetected(result.Content) {
		return fmt.Errorf("SECRET_PATTERN_DETECTED_IN_REVIEW")
	}
	if err := artifacts.WriteText(filepath.Join(state.artifactDir, "review.md"), result.Content+"\n"); err != nil {
		return err
	}
	return r.store.AddJobEvent(job.JobID, jobs.StageReview, "completed", "Review notes generated.", nil)
}

func (r *Runner) prStage(state *pipelineState, fastMode bool) error {
	job := state.job
	jobID := job.JobID
	var prURL *string

	if !fastMode {
		if _, err := os.Stat(state.repoWorkspace); err != nil {
			return fmt.Errorf("WORKSPACE_NOT_READY")
		}
		token, err := r.forge.InstallationToken()
		if err != nil {
			return err
		}

		setup := [][]string{
			{"config", "user.name", "codex-home[bot]"},
			{"config", "user.email", "codex-home[bot]@users.noreply.github.com"},
			{"add", "--all"},
		}
		for _, command := range setup {
			code, output, err := runGitCommand(command, time.Minute, state.repoWorkspace, "")
			if err != nil {
				return err
			}
			if code != 0 {
				return fmt.Errorf("GIT_COMMAND_FAILED (%s): %s", strings.Join(command, " "), strings.TrimSpace(output))
			}
		}

		code, statusOutput, err := runGitCommand([]string{"status", "--porcelain"}, time.Minute, state.repoWorkspace, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_STATUS_FAILED: %s", strings.TrimSpace(statusOutput))
		}
		if strings.TrimSpace(statusOutput) == "" {
			return fmt.Errorf("NO_CHANGES_TO_COMMIT")
		}

		commitMessage := fmt.Sprintf("chore(agent): address issue #%d", job.IssueNumber)
		code, output, err := runGitCommand([]string{"commit", "-m", commitMessage}, 90*time.Second, state.repoWorkspace, "")
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_COMMIT_FAILED: %s", strings.TrimSpace(output))
		}

		code, output, err = runGitCommand([]string{"push", "-u", "origin", state.branchName}, 3*time.Minute, state.repoWorkspace, token)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("GIT_PUSH_FAILED: %s", strings.TrimSpace(output))
		}

		reviewText, err := artifacts.ReadText(filepath.Join(state.artifactDir, "review.md"))
		if err != nil {
			return err
		}
		issueRef := state.issueURL
		if issueRef == "" {
			issueRef = fmt.Sprintf("#%d", job.IssueNumber)
		}
		prBody := fmt.Sprintf("Automated draft PR for issue #%d.\n\nIssue: %s\n\n## Review Notes\n%s\n",
			job.IssueNumber, issueRef, strings.TrimSpace(reviewText))
		url, err := r.forge.CreateDraftPullRequest(job.Repo, prTitle(state.issueTitle), state.branchName, job.BaseBranch, prBody)
		if err != nil {
			return err
		}
		prURL = &url
	}

	current, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}
	costRecord := struct {
		JobID      string  `json:"job_id"`
		DailyCap   float64 `json:"daily_cap"`
		MonthlyCap float64 `json:"monthly_cap"`
		JobCostUSD float64 `json:"job_cost_usd"`
	}{
		JobID:      jobID,
		DailyCap:   r.settings.MaxUSDPerDay,
		MonthlyCap: r.settings.MaxUSDPerMonth,
		JobCostUSD: current.CostUSD,
	}
	costJSON, err := json.MarshalIndent(costRecord, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cost record: %w", err)
	}
	if err := artifacts.WriteText(filepath.Join(state.artifactDir, "cost.json"), string(costJSON)); err != nil {
		return err
	}

	message := "Draft PR prepared."
	if fastMode {
		message = "Fast mode completed (no PR created)."
	}
	if err := r.store.AddJobEvent(jobID, jobs.StagePR, "completed", message, nil); err != nil {
		return err
	}
	return r.store.UpdateJobStatus(jobID, jobs.StatusCompleted, store.StatusUpdate{
		Stage: jobs.StagePR,
		PRURL: prURL,
	})
}

// prTitle truncates on runes; a byte slice could cut a multibyte title
// mid-character and send invalid UTF-8 to the forge.
func prTitle(issueTitle string) string {
	title := "[agent] " + issueTitle
	if runes := []rune(title); len(runes) > 120 {
		title = string(runes[:120])
	}
	return title
}

// failJob is the single failure path. A job parked for approval mid-run is
// left in that state; everything else becomes failed with the reason stored
// verbatim.
func (r *Runner) failJob(state *pipelineState, cause error, log *logrus.Entry) error {
	jobID := state.job.JobID
	if cause == errParkedForApproval {
		return nil
	}
	message := cause.Error()
	log.WithError(cause).Error("Job failed.")

	latest, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == string(jobs.StatusAwaitingApproval) {
		r.appendRunLog(state.runLog, map[string]interface{}{"event": "job_waiting_approval"})
		return nil
	}
	if latest != nil {
		stage := latest.Stage()
		if err := r.store.UpdateJobStatus(jobID, jobs.StatusFailed, store.StatusUpdate{
			Stage:  stage,
			Reason: message,
		}); err != nil {
			return err
		}
		eventStage := stage
		if eventStage == "" {
			eventStage = "unknown"
		}
		if err := r.store.AddJobEvent(jobID, eventStage, "failed", message, nil); err != nil {
			return err
		}
		metrics.JobsCompleted.WithLabelValues(string(jobs.StatusFailed)).Inc()
	}
	r.appendRunLog(state.runLog, map[string]interface{}{"event": "job_failed", "error": message})
	return nil
}

func (r *Runner) recordCost(jobID string, result *llm.Result) error {
	if err := r.store.AddCost(jobID, result.Model, result.PromptTokens, result.CompletionTokens, result.CostUSD); err != nil {
		return fmt.Errorf("recording cost: %w", err)
	}
	metrics.JobCost.Add(result.CostUSD)
	return nil
}

func (r *Runner) setStage(jobID, stage string) error {
	return r.store.UpdateJobStatus(jobID, jobs.StatusRunning, store.StatusUpdate{Stage: stage})
}

func (r *Runner) runStage(name string, fn func() error) error {
	start := time.Now()
	defer func() {
		metrics.JobStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return fn()
}

func (r *Runner) appendRunLog(path string, record map[string]interface{}) {
	record["ts"] = r.now().UTC().Format(time.RFC3339Nano)
	if err := artifacts.AppendJSONL(path, record); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("Failed to append run log record.")
	}
}

func shortID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}

func issueExcerpt(body string) string {
	if body == "" {
		return "(no issue body provided)"
	}
	if len(body) > 2000 {
		return body[:2000]
	}
	return body
}
