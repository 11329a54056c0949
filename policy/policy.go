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

// Package policy implements the pure decision functions that gate job
// execution: repository allowlisting, command blocklisting, path and domain
// checks, secret screening and the risk to approval matrix.
package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	zglob "github.com/mattn/go-zglob"

	"github.com/codex-home/orchestrator/jobs"
)

// BlockedCommands holds the exact strings and compiled patterns that may
// never appear as acceptance commands.
type BlockedCommands struct {
	Exact []string
	Regex []*regexp.Regexp
}

// Profile is the loaded policy configuration. It is immutable after
// construction; all methods are safe for concurrent use.
type Profile struct {
	RepoAllowlist   []string
	SensitivePaths  []string
	Blocked         BlockedCommands
	DomainAllowlist []string
	DefaultCaps     jobs.Caps
	MaxParallelJobs int
	MaxUSDPerDay    float64
	MaxUSDPerMonth  float64
	ApprovalMatrix  map[jobs.RiskClass][]jobs.ApprovalAction
	SecretPatterns  []*regexp.Regexp
}

// RepoAllowed reports exact membership in the repository allowlist.
func (p *Profile) RepoAllowed(repo string) bool {
	for _, allowed := range p.RepoAllowlist {
		if repo == allowed {
			return true
		}
	}
	return false
}

// IsBlockedCommand reports whether the trimmed command matches the exact
// blocklist or any blocklist pattern.
func (p *Profile) IsBlockedCommand(command string) bool {
	normalized := strings.TrimSpace(command)
	for _, exact := range p.Blocked.Exact {
		if normalized == exact {
			return true
		}
	}
	for _, re := range p.Blocked.Regex {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}

// RequiresSensitiveApproval reports whether any changed path falls under a
// sensitive-path glob.
func (p *Profile) RequiresSensitiveApproval(changedPaths []string) bool {
	for _, changed := range changedPaths {
		for _, pattern := range p.SensitivePaths {
			if globMatch(pattern, changed) {
				return true
			}
		}
	}
	return false
}

// AllowedPathViolation returns every changed path that matches none of the
// allowed globs.
func (p *Profile) AllowedPathViolation(changedPaths, allowedPaths []string) []string {
	var violations []string
	for _, changed := range changedPaths {
		matched := false
		for _, pattern := range allowedPaths {
			if globMatch(pattern, changed) {
				matched = true
				break
			}
		}
		if !matched {
			violations = append(violations, changed)
		}
	}
	return violations
}

// SecretsDetected reports whether any secret pattern matches the content.
func (p *Profile) SecretsDetected(content string) bool {
	for _, re := range p.SecretPatterns {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

// DomainAllowed reports whether the URL's host equals an allowed domain or
// is a dot-suffix of one. URLs without a host are denied.
func (p *Profile) DomainAllowed(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	for _, allowed := range p.DomainAllowlist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// RequiredApprovals looks up the approval actions for a risk class,
// defaulting to merge-only.
func (p *Profile) RequiredApprovals(risk jobs.RiskClass) []jobs.ApprovalAction {
	if actions, ok := p.ApprovalMatrix[risk]; ok {
		return actions
	}
	return []jobs.ApprovalAction{jobs.ApprovalMerge}
}

func globMatch(pattern, name string) bool {
	ok, err := zglob.Match(pattern, name)
	if err != nil {
		return false
	}
	return ok
}

// DefaultApprovalMatrix is applied when the policy file omits one.
func DefaultApprovalMatrix() map[jobs.RiskClass][]jobs.ApprovalAction {
	return map[jobs.RiskClass][]jobs.ApprovalAction{
		jobs.RiskCode:        {jobs.ApprovalMerge},
		jobs.RiskDeps:        {jobs.ApprovalMerge},
		jobs.RiskInfra:       {jobs.ApprovalInfra, jobs.ApprovalMerge},
		jobs.RiskSecrets:     {jobs.ApprovalSecrets, jobs.ApprovalMerge},
		jobs.RiskDestructive: {jobs.ApprovalDestructive, jobs.ApprovalMerge},
	}
}

func compilePatterns(patterns []string, kind string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling %s pattern %q: %w", kind, pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
