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

package runner

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestRunCommandFastModeNeverExecutes(t *testing.T) {
	code, output, err := runCommand("definitely-not-a-binary --flag", time.Second, t.TempDir(), true)
	if err != nil {
		t.Fatalf("runCommand: %v", err)
	}
	if code != 0 {
		t.Errorf("code = %d, want 0", code)
	}
	if output != "FAST_MODE validated command: definitely-not-a-binary --flag\n" {
		t.Errorf("output = %q", output)
	}
}

func TestGitAuthConfigEncodesToken(t *testing.T) {
	header := gitAuthConfig("ghs_token123")
	prefix := "http.extraheader=Authorization: Basic "
	if !strings.HasPrefix(header, prefix) {
		t.Fatalf("header = %q", header)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if string(decoded) != "x-access-token:ghs_token123" {
		t.Errorf("decoded = %q", decoded)
	}
}
