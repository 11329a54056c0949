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

package policy

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/codex-home/orchestrator/jobs"
)

type rawPolicy struct {
	RepoAllowlist   []string `json:"repo_allowlist"`
	SensitivePaths  []string `json:"sensitive_paths"`
	BlockedCommands struct {
		Exact []string `json:"exact"`
		Regex []string `json:"regex"`
	} `json:"blocked_commands"`
	DomainAllowlist []string            `json:"domain_allowlist"`
	DefaultCaps     *jobs.Caps          `json:"default_caps"`
	MaxParallelJobs int                 `json:"max_parallel_jobs"`
	MaxUSDPerDay    *float64            `json:"max_usd_per_day"`
	MaxUSDPerMonth  *float64            `json:"max_usd_per_month"`
	ApprovalMatrix  map[string][]string `json:"approval_matrix"`
	SecretPatterns  []string            `json:"secret_patterns"`
}

// Load reads and compiles the policy file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	var raw rawPolicy
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	blockedRegex, err := compilePatterns(raw.BlockedCommands.Regex, "blocked_commands")
	if err != nil {
		return nil, err
	}
	secretPatterns, err := compilePatterns(raw.SecretPatterns, "secret_patterns")
	if err != nil {
		return nil, err
	}

	matrix := DefaultApprovalMatrix()
	if len(raw.ApprovalMatrix) > 0 {
		matrix = map[jobs.RiskClass][]jobs.ApprovalAction{}
		for risk, actions := range raw.ApprovalMatrix {
			converted := make([]jobs.ApprovalAction, 0, len(actions))
			for _, action := range actions {
				converted = append(converted, jobs.ApprovalAction(action))
			}
			matrix[jobs.RiskClass(risk)] = converted
		}
	}

	profile := &Profile{
		RepoAllowlist:   raw.RepoAllowlist,
		SensitivePaths:  raw.SensitivePaths,
		Blocked:         BlockedCommands{Exact: raw.BlockedCommands.Exact, Regex: blockedRegex},
		DomainAllowlist: raw.DomainAllowlist,
		DefaultCaps:     jobs.DefaultCaps(),
		MaxParallelJobs: 1,
		MaxUSDPerDay:    40.0,
		MaxUSDPerMonth:  900.0,
		ApprovalMatrix:  matrix,
		SecretPatterns:  secretPatterns,
	}
	if raw.DefaultCaps != nil {
		profile.DefaultCaps = *raw.DefaultCaps
	}
	if raw.MaxParallelJobs > 0 {
		profile.MaxParallelJobs = raw.MaxParallelJobs
	}
	if raw.MaxUSDPerDay != nil {
		profile.MaxUSDPerDay = *raw.MaxUSDPerDay
	}
	if raw.MaxUSDPerMonth != nil {
		profile.MaxUSDPerMonth = *raw.MaxUSDPerMonth
	}
	return profile, nil
}

// RepoConfig is one entry of the repos file.
type RepoConfig struct {
	Enabled            bool
	BaseBranch         string
	AllowedPaths       []string
	AcceptanceCommands []string
}

type rawRepos struct {
	Repos []struct {
		Name               string   `json:"name"`
		Enabled            *bool    `json:"enabled"`
		BaseBranch         string   `json:"base_branch"`
		AllowedPaths       []string `json:"allowed_paths"`
		AcceptanceCommands []string `json:"acceptance_commands"`
	} `json:"repos"`
}

// LoadRepoProfiles reads the repos file into a map keyed by repo slug.
func LoadRepoProfiles(path string) (map[string]RepoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading repos file: %w", err)
	}
	var raw rawRepos
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing repos file %s: %w", path, err)
	}

	profiles := map[string]RepoConfig{}
	for _, entry := range raw.Repos {
		cfg := RepoConfig{
			Enabled:            true,
			BaseBranch:         "main",
			AllowedPaths:       entry.AllowedPaths,
			AcceptanceCommands: entry.AcceptanceCommands,
		}
		if entry.Enabled != nil {
			cfg.Enabled = *entry.Enabled
		}
		if entry.BaseBranch != "" {
			cfg.BaseBranch = entry.BaseBranch
		}
		profiles[entry.Name] = cfg
	}
	return profiles, nil
}
