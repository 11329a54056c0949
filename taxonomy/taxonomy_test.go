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

package taxonomy

import "testing"

func TestNormalizeCode(t *testing.T) {
	var testcases = []struct {
		name   string
		reason string
		want   string
	}{
		{
			name:   "code with detail keeps only the code",
			reason: "CAP_COST_EXCEEDED: over limit",
			want:   "CAP_COST_EXCEEDED",
		},
		{
			name:   "lower case and padding are normalized",
			reason: "  blocked_command: rm -rf /  ",
			want:   "BLOCKED_COMMAND",
		},
		{
			name:   "empty string is unknown",
			reason: "",
			want:   "UNKNOWN",
		},
		{
			name:   "whitespace only is unknown",
			reason: "   ",
			want:   "UNKNOWN",
		},
		{
			name:   "leading colon is unknown",
			reason: ": detail only",
			want:   "UNKNOWN",
		},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeCode(tc.reason); got != tc.want {
				t.Errorf("NormalizeCode(%q) = %q, want %q", tc.reason, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	var testcases = []struct {
		reason string
		want   string
	}{
		{"CAP_DAILY_BUDGET_EXCEEDED", CategoryBudgetCap},
		{"CAP_MONTHLY_BUDGET_EXCEEDED: 900.01", CategoryBudgetCap},
		{"BLOCKED_COMMAND: rm -rf /", CategoryCommandPolicy},
		{"DOMAIN_NOT_ALLOWLISTED: https://example.org", CategoryDomainPolicy},
		{"ALLOWED_PATHS_VIOLATION", CategoryPathPolicy},
		{"SENSITIVE_PATH_APPROVAL_REQUIRED", CategoryApprovalGate},
		{"SECRET_PATTERN_DETECTED_IN_REVIEW", CategorySecretGuard},
		{"SECRET_PATTERN_DETECTED_IN_PATCH", CategorySecretGuard},
		{"ACCEPTANCE_COMMAND_FAILED: pytest -q", CategoryAcceptanceTest},
		{"GIT_CLONE_FAILED: auth", CategoryGitFailure},
		{"GITHUB_CREATE_PR_FAILED: 403", CategoryGitHubAPI},
		{"KILL_SWITCH_ACTIVE", CategorySafetyControl},
		{"NO_PATCH_GENERATED", CategoryExecutionLogic},
		{"NO_CHANGES_TO_COMMIT", CategoryExecutionLogic},
		{"WORKSPACE_NOT_READY", CategoryRuntimeState},
		{"INVALID_REPO_SLUG: x", CategoryInputValidation},
		{"unhandled crash in worker", CategoryRuntimeError},
		{"", CategoryRuntimeError},
	}
	for _, tc := range testcases {
		t.Run(tc.reason, func(t *testing.T) {
			if got := Classify(tc.reason); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.reason, got, tc.want)
			}
		})
	}
}

// Classification must be stable under normalization.
func TestClassifyNormalizedFixpoint(t *testing.T) {
	reasons := []string{
		"CAP_COST_EXCEEDED: $3.50",
		"blocked_command: curl",
		"GIT_PUSH_FAILED: remote hung up",
		"something else entirely",
		"",
	}
	for _, r := range reasons {
		if Classify(NormalizeCode(r)) != Classify(r) {
			t.Errorf("Classify(NormalizeCode(%q)) != Classify(%q)", r, r)
		}
	}
}
