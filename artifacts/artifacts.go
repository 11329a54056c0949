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

// Package artifacts manages the per-job artifact directory and its file
// contract. Every job directory contains the contract files from the moment
// the job starts; stages overwrite or append to them.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureJobDir creates (if needed) and returns the artifact directory for a
// job under the configured root.
func EnsureJobDir(root, jobID string) (string, error) {
	dir := filepath.Join(root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact dir: %w", err)
	}
	return dir, nil
}

// EnsureContract creates an empty file for every contract name that does not
// already exist in dir.
func EnsureContract(dir string, contract []string) error {
	for _, name := range contract {
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking artifact %s: %w", name, err)
		}
		if err := os.WriteFile(target, nil, 0o644); err != nil {
			return fmt.Errorf("creating artifact %s: %w", name, err)
		}
	}
	return nil
}

// WriteText replaces the file's contents, creating parent directories as
// needed.
func WriteText(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadText returns the file's contents as a string.
func ReadText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// AppendJSONL marshals the record and appends it as one line to the file.
func AppendJSONL(path string, record map[string]interface{}) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling run log record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to %s: %w", path, err)
	}
	return nil
}
