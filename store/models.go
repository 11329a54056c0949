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
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StringList stores an ordered list of strings in a JSONB column.
type StringList []string

// Value implements driver.Valuer so sqlx can write the list as JSON.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for reading the JSON column back.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = StringList{}
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, l)
	case string:
		return json.Unmarshal([]byte(data), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// MetadataMap stores free-form event metadata in a JSONB column.
type MetadataMap map[string]string

func (m MetadataMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *MetadataMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	default:
		return fmt.Errorf("cannot scan %T into MetadataMap", src)
	}
}

// Job is the persisted form of a unit of work.
type Job struct {
	JobID              string         `db:"job_id"`
	Repo               string         `db:"repo"`
	IssueNumber        int            `db:"issue_number"`
	BaseBranch         string         `db:"base_branch"`
	RiskClass          string         `db:"risk_class"`
	Status             string         `db:"status"`
	ModelProfile       string         `db:"model_profile"`
	RequiresApproval   StringList     `db:"requires_approval"`
	AllowedPaths       StringList     `db:"allowed_paths"`
	AcceptanceCommands StringList     `db:"acceptance_commands"`
	ArtifactContract   StringList     `db:"artifact_contract"`
	CapsMaxMinutes     int            `db:"caps_max_minutes"`
	CapsMaxIterations  int            `db:"caps_max_iterations"`
	CapsMaxUSD         float64        `db:"caps_max_usd"`
	CreatedBy          string         `db:"created_by"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	CurrentStage       sql.NullString `db:"current_stage"`
	FailureReason      sql.NullString `db:"failure_reason"`
	PRURL              sql.NullString `db:"pr_url"`
	CostUSD            float64        `db:"cost_usd"`
}

// Stage returns the current stage or "" when unset.
func (j *Job) Stage() string {
	if j.CurrentStage.Valid {
		return j.CurrentStage.String
	}
	return ""
}

// JobEvent is one append-only lifecycle record for a job.
type JobEvent struct {
	ID        int64       `db:"id"`
	JobID     string      `db:"job_id"`
	Stage     string      `db:"stage"`
	EventType string      `db:"event_type"`
	Message   string      `db:"message"`
	Metadata  MetadataMap `db:"metadata"`
	CreatedAt time.Time   `db:"created_at"`
}

// Approval records an operator's decision on a single action.
type Approval struct {
	ID        int64          `db:"id"`
	JobID     string         `db:"job_id"`
	Action    string         `db:"action"`
	Approved  bool           `db:"approved"`
	Actor     string         `db:"actor"`
	Reason    sql.NullString `db:"reason"`
	CreatedAt time.Time      `db:"created_at"`
}

// PolicyAudit is one allow/deny decision taken against a job.
type PolicyAudit struct {
	ID        int64          `db:"id"`
	JobID     string         `db:"job_id"`
	Decision  string         `db:"decision"`
	RuleID    string         `db:"rule_id"`
	Details   sql.NullString `db:"details"`
	CreatedAt time.Time      `db:"created_at"`
}

// CostEntry is one model invocation's cost.
type CostEntry struct {
	ID               int64     `db:"id"`
	JobID            string    `db:"job_id"`
	Model            string    `db:"model"`
	PromptTokens     int       `db:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens"`
	CostUSD          float64   `db:"cost_usd"`
	CreatedAt        time.Time `db:"created_at"`
}

// Incident is an operational event worth keeping (kill switch flips etc).
type Incident struct {
	ID           int64        `db:"id"`
	IncidentType string       `db:"incident_type"`
	Severity     string       `db:"severity"`
	Status       string       `db:"status"`
	Details      string       `db:"details"`
	CreatedAt    time.Time    `db:"created_at"`
	ResolvedAt   sql.NullTime `db:"resolved_at"`
}

// RepoProfile is the per-repository configuration mirrored from repos.yaml.
type RepoProfile struct {
	Repo               string     `db:"repo"`
	Enabled            bool       `db:"enabled"`
	DefaultBaseBranch  string     `db:"default_base_branch"`
	AllowedPaths       StringList `db:"allowed_paths"`
	AcceptanceCommands StringList `db:"acceptance_commands"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}
