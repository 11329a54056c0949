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

// Package llm generates triage, planning, and review text. In fast mode
// responses are synthesized deterministically so the pipeline runs offline;
// in release mode requests go to a LiteLLM-compatible gateway.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/codex-home/orchestrator/config"
)

// Result is one completion with its token accounting.
type Result struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Model            string
}

// Client issues completions. The zero value is not usable; construct with New.
type Client struct {
	fastMode bool
	baseURL  string
	apiKey   string
	http     *retryablehttp.Client
}

func New(settings config.Settings) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.HTTPClient.Timeout = 60 * time.Second
	httpClient.Logger = nil
	return &Client{
		fastMode: settings.IsFastMode(),
		baseURL:  settings.LLMBaseURL,
		apiKey:   settings.LLMAPIKey,
		http:     httpClient,
	}
}

// Generate returns a completion for the prompt. Fast mode derives token
// counts from text length at a nominal micro-dollar rate so spend
// accounting stays exercised end to end.
func (c *Client) Generate(model, prompt string, maxTokens int) (*Result, error) {
	if c.fastMode {
		synthetic := fmt.Sprintf(
			"FAST_MODE_RESPONSE\nGenerated deterministic planning text.\nPrompt length: %d characters.",
			len(prompt))
		promptTokens := tokenEstimate(prompt)
		completionTokens := tokenEstimate(synthetic)
		return &Result{
			Content:          synthetic,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostUSD:          round6(float64(promptTokens+completionTokens) * 0.000001),
			Model:            model,
		}, nil
	}

	payload := map[string]interface{}{
		"model":      model,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
		"max_tokens": maxTokens,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding completion request: %w", err)
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling completion gateway: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion gateway returned %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
		// LiteLLM reports computed cost out of band.
		HiddenParams struct {
			ResponseCost float64 `json:"response_cost"`
		} `json:"_hidden_params"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("completion response had no choices")
	}
	return &Result{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		CostUSD:          parsed.HiddenParams.ResponseCost,
		Model:            model,
	}, nil
}

func tokenEstimate(text string) int {
	if n := len(text) / 4; n > 1 {
		return n
	}
	return 1
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
