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

// Package taxonomy maps raw failure strings to stable codes and categories.
//
// Failure reasons travel through the system as upper-snake-case codes,
// optionally followed by ": detail". The code is the contract; the detail is
// free-form and passed through verbatim.
package taxonomy

import "strings"

// Categories group failure codes for dashboards and alerting.
const (
	CategoryBudgetCap       = "budget_cap"
	CategoryCommandPolicy   = "command_policy"
	CategoryDomainPolicy    = "domain_policy"
	CategoryPathPolicy      = "path_policy"
	CategoryApprovalGate    = "approval_gate"
	CategorySecretGuard     = "secret_guard"
	CategoryAcceptanceTest  = "acceptance_test"
	CategoryGitFailure      = "git_failure"
	CategoryGitHubAPI       = "github_api"
	CategorySafetyControl   = "safety_control"
	CategoryExecutionLogic  = "execution_logic"
	CategoryRuntimeState    = "runtime_state"
	CategoryInputValidation = "input_validation"
	CategoryRuntimeError    = "runtime_error"
)

// NormalizeCode extracts the stable code from a failure reason: everything
// before the first colon, trimmed and upper-cased. Empty input yields UNKNOWN.
func NormalizeCode(reason string) string {
	raw := strings.TrimSpace(reason)
	if raw == "" {
		return "UNKNOWN"
	}
	if idx := strings.Index(raw, ":"); idx >= 0 {
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(raw)
}

// Classify buckets a failure reason into a category. The match order matters:
// APPROVAL_REQUIRED is a suffix check so that e.g.
// SENSITIVE_PATH_APPROVAL_REQUIRED lands in approval_gate rather than falling
// through to a prefix rule.
func Classify(reason string) string {
	code := NormalizeCode(reason)

	switch {
	case strings.HasPrefix(code, "CAP_"):
		return CategoryBudgetCap
	case strings.HasPrefix(code, "BLOCKED_COMMAND"):
		return CategoryCommandPolicy
	case strings.HasPrefix(code, "DOMAIN_NOT_ALLOWLISTED"):
		return CategoryDomainPolicy
	case strings.HasPrefix(code, "ALLOWED_PATHS_VIOLATION"):
		return CategoryPathPolicy
	case strings.HasSuffix(code, "APPROVAL_REQUIRED"):
		return CategoryApprovalGate
	case strings.HasPrefix(code, "SECRET_PATTERN_DETECTED"):
		return CategorySecretGuard
	case strings.HasPrefix(code, "ACCEPTANCE_COMMAND_FAILED"):
		return CategoryAcceptanceTest
	case strings.HasPrefix(code, "GIT_"):
		return CategoryGitFailure
	case strings.HasPrefix(code, "GITHUB_"):
		return CategoryGitHubAPI
	case strings.HasPrefix(code, "KILL_SWITCH_ACTIVE"):
		return CategorySafetyControl
	case strings.HasPrefix(code, "NO_"):
		return CategoryExecutionLogic
	case strings.HasPrefix(code, "WORKSPACE_NOT_READY"):
		return CategoryRuntimeState
	case strings.HasPrefix(code, "INVALID_"):
		return CategoryInputValidation
	default:
		return CategoryRuntimeError
	}
}
