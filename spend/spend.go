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

// Package spend enforces the daily, monthly, and per-job budget caps
// between pipeline stages.
package spend

import (
	"fmt"
	"time"

	"github.com/codex-home/orchestrator/metrics"
	"github.com/codex-home/orchestrator/store"
)

// CapError is a budget violation. Its Error string is the failure code the
// job is failed with, so callers can persist it verbatim.
type CapError struct {
	Code   string
	Detail string
}

func (e *CapError) Error() string {
	return e.Code
}

// Governor reads the cost ledger and refuses further work once any cap is
// crossed. Caps are strict: spend equal to the cap still passes.
type Governor struct {
	store      store.Interface
	maxDaily   float64
	maxMonthly float64

	// now is replaceable in tests; budgets are UTC calendar windows.
	now func() time.Time
}

// New builds a Governor with the global caps from policy.
func New(s store.Interface, maxUSDPerDay, maxUSDPerMonth float64) *Governor {
	return &Governor{
		store:      s,
		maxDaily:   maxUSDPerDay,
		maxMonthly: maxUSDPerMonth,
		now:        time.Now,
	}
}

// Check enforces all three caps for the given job and refreshes the spend
// gauges. It returns a *CapError on violation, a plain error on store
// failures, and nil when the job may continue.
func (g *Governor) Check(jobID string) error {
	job, err := g.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID, err)
	}
	if job == nil {
		return &CapError{Code: "JOB_NOT_FOUND", Detail: jobID}
	}

	now := g.now().UTC()
	daily, err := g.store.DailyCost(now)
	if err != nil {
		return fmt.Errorf("summing daily spend: %w", err)
	}
	monthly, err := g.store.MonthlyCost(now.Year(), now.Month())
	if err != nil {
		return fmt.Errorf("summing monthly spend: %w", err)
	}
	metrics.SpendDaily.Set(daily)
	metrics.SpendMonthly.Set(monthly)

	if daily > g.maxDaily {
		return &CapError{
			Code:   "CAP_DAILY_BUDGET_EXCEEDED",
			Detail: fmt.Sprintf("daily spend %.4f exceeds cap %.2f", daily, g.maxDaily),
		}
	}
	if monthly > g.maxMonthly {
		return &CapError{
			Code:   "CAP_MONTHLY_BUDGET_EXCEEDED",
			Detail: fmt.Sprintf("monthly spend %.4f exceeds cap %.2f", monthly, g.maxMonthly),
		}
	}
	if job.CostUSD > job.CapsMaxUSD {
		return &CapError{
			Code:   "CAP_COST_EXCEEDED",
			Detail: fmt.Sprintf("job spend %.4f exceeds cap %.2f", job.CostUSD, job.CapsMaxUSD),
		}
	}
	return nil
}
