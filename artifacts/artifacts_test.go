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

package artifacts

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/codex-home/orchestrator/jobs"
)

func TestEnsureContract(t *testing.T) {
	root := t.TempDir()
	dir, err := EnsureJobDir(root, "job-1")
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}

	// Pre-existing content must survive.
	if err := WriteText(filepath.Join(dir, "plan.md"), "existing plan"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	contract := jobs.DefaultArtifactContract()
	if err := EnsureContract(dir, contract); err != nil {
		t.Fatalf("EnsureContract: %v", err)
	}
	for _, name := range contract {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("contract file %s missing: %v", name, err)
		}
	}
	content, err := ReadText(filepath.Join(dir, "plan.md"))
	if err != nil {
		t.Fatalf("ReadText: %v", err)
	}
	if content != "existing plan" {
		t.Errorf("plan.md = %q, want existing content preserved", content)
	}
}

func TestAppendJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.jsonl")

	records := []map[string]interface{}{
		{"event": "job_start", "job_id": "abc"},
		{"event": "stage_start", "stage": "triage"},
		{"event": "job_completed"},
	}
	for _, record := range records {
		if err := AppendJSONL(path, record); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening run log: %v", err)
	}
	defer f.Close()

	var got []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("unmarshaling line %q: %v", scanner.Text(), err)
		}
		got = append(got, record)
	}
	if len(got) != len(records) {
		t.Fatalf("run log has %d records, want %d", len(got), len(records))
	}
	if got[0]["event"] != "job_start" || got[2]["event"] != "job_completed" {
		t.Errorf("run log order wrong: %v", got)
	}
}
