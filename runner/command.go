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
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"time"
)

// Acceptance commands run inside a locked-down container when docker is
// available: read-only rootfs, no network, bounded cpu/memory/pids.
var dockerSandboxArgs = []string{
	"run", "--rm",
	"--read-only",
	"--network", "none",
	"--cpus", "4",
	"--memory", "8g",
	"--pids-limit", "512",
}

const sandboxImage = "python:3.12-slim"

func dockerAvailable() bool {
	_, err := exec.LookPath("docker")
	return err == nil
}

// runCommand executes one acceptance command, sandboxed when possible. In
// fast mode nothing runs; the command is only validated and echoed.
func runCommand(command string, timeout time.Duration, dir string, fastMode bool) (int, string, error) {
	if fastMode {
		return 0, fmt.Sprintf("FAST_MODE validated command: %s\n", command), nil
	}
	if dockerAvailable() {
		argv := append([]string{"docker"}, dockerSandboxArgs...)
		argv = append(argv,
			"-v", dir+":/workspace",
			"-w", "/workspace",
			sandboxImage,
			"bash", "-lc", command,
		)
		return runHostCommand(argv, timeout, "")
	}
	return runHostCommand([]string{"bash", "-c", command}, timeout, dir)
}

// runHostCommand runs argv directly on the host, returning the exit code and
// combined stdout+stderr. A timeout surfaces as an error so callers fail the
// job with it verbatim.
func runHostCommand(argv []string, timeout time.Duration, dir string) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String() + stderr.String()
	if ctx.Err() == context.DeadlineExceeded {
		return -1, output, fmt.Errorf("command timed out after %s: %s", timeout, argv[0])
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), output, nil
		}
		// Start failures (missing binary etc) have no exit code.
		return -1, output + err.Error(), nil
	}
	return 0, output, nil
}

// gitAuthConfig builds the one-shot credential header for authenticated
// clone and push, keeping the token off the command line remote URL.
func gitAuthConfig(token string) string {
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return "http.extraheader=Authorization: Basic " + basic
}

// runGitCommand runs git with optional App-token auth injected via -c.
func runGitCommand(args []string, timeout time.Duration, dir, authToken string) (int, string, error) {
	argv := []string{"git"}
	if authToken != "" {
		argv = append(argv, "-c", gitAuthConfig(authToken))
	}
	argv = append(argv, args...)
	return runHostCommand(argv, timeout, dir)
}
