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

// Package githubapp talks to the GitHub REST API as an installed GitHub App.
// Errors carry stable failure codes so the pipeline can persist them as
// failure reasons without rewording.
package githubapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/codex-home/orchestrator/config"
)

const apiRoot = "https://api.github.com"

const userAgent = "codex-home/0.1.0"

// Issue is the subset of a GitHub issue the pipeline consumes.
type Issue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// Client authenticates as a GitHub App installation. The installation token
// is cached and refreshed one minute before expiry.
type Client struct {
	appID          string
	installationID string
	privateKeyPEM  string
	baseURL        string

	http *retryablehttp.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New builds a client from settings. Configuration is validated lazily so a
// fast-mode deployment can run with no GitHub App at all.
func New(settings config.Settings) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.HTTPClient.Timeout = 20 * time.Second
	httpClient.Logger = nil
	return &Client{
		appID:          settings.GitHubAppID,
		installationID: settings.GitHubAppInstallation,
		privateKeyPEM:  settings.GitHubAppPrivateKeyPEM,
		baseURL:        apiRoot,
		http:           httpClient,
		now:            time.Now,
	}
}

// SplitRepo splits an "owner/name" slug.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("INVALID_REPO_SLUG: %s", repo)
	}
	return parts[0], parts[1], nil
}

// RepoHTTPSURL returns the clone URL for a slug.
func RepoHTTPSURL(repo string) (string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, name), nil
}

func (c *Client) assertConfigured() error {
	var missing []string
	if c.appID == "" {
		missing = append(missing, "GITHUB_APP_ID")
	}
	if c.installationID == "" {
		missing = append(missing, "GITHUB_APP_INSTALLATION_ID")
	}
	if c.privateKeyPEM == "" {
		missing = append(missing, "GITHUB_APP_PRIVATE_KEY_PEM")
	}
	if len(missing) > 0 {
		return fmt.Errorf("GITHUB_APP_CONFIG_MISSING: %s", strings.Join(missing, ", "))
	}
	return nil
}

// privateKey normalizes a PEM that arrived through an env var with literal
// backslash-n escapes.
func (c *Client) privateKey() ([]byte, error) {
	pem := strings.TrimSpace(c.privateKeyPEM)
	if strings.Contains(pem, `\n`) {
		pem = strings.ReplaceAll(pem, `\n`, "\n")
	}
	if !strings.HasSuffix(pem, "\n") {
		pem += "\n"
	}
	return []byte(pem), nil
}

// appJWT signs the short-lived App token. GitHub rejects future-dated
// tokens from skewed clocks, hence the backdated iat.
func (c *Client) appJWT() (string, error) {
	if err := c.assertConfigured(); err != nil {
		return "", err
	}
	pem, err := c.privateKey()
	if err != nil {
		return "", err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return "", fmt.Errorf("parsing GitHub App private key: %w", err)
	}
	now := c.now()
	claims := &jwt.StandardClaims{
		IssuedAt:  jwt.At(now.Add(-time.Minute)),
		ExpiresAt: jwt.At(now.Add(9 * time.Minute)),
		Issuer:    c.appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (c *Client) headers(req *retryablehttp.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
}

// InstallationToken returns a cached installation token, minting a new one
// when the cached token is within a minute of expiring.
func (c *Client) InstallationToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	appToken, err := c.appJWT()
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", c.baseURL, c.installationID)
	req, err := retryablehttp.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	c.headers(req, appToken)

	status, body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("GITHUB_INSTALLATION_TOKEN_FAILED: %v", err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("GITHUB_INSTALLATION_TOKEN_FAILED: %d %s", status, body)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Token == "" || payload.ExpiresAt.IsZero() {
		return "", fmt.Errorf("GITHUB_INSTALLATION_TOKEN_INVALID_RESPONSE")
	}
	c.token = payload.Token
	c.tokenExpiry = payload.ExpiresAt
	return c.token, nil
}

// GetIssue fetches one issue.
func (c *Client) GetIssue(repo string, issueNumber int) (*Issue, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	token, err := c.InstallationToken()
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", c.baseURL, owner, name, issueNumber)
	req, err := retryablehttp.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building issue request: %w", err)
	}
	c.headers(req, token)

	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("GITHUB_GET_ISSUE_FAILED: %v", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GITHUB_GET_ISSUE_FAILED: %d %s", status, body)
	}
	issue := Issue{Number: issueNumber}
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("GITHUB_GET_ISSUE_FAILED: decoding response: %v", err)
	}
	return &issue, nil
}

// CreateIssue opens a new issue, used by release-mode text intake.
func (c *Client) CreateIssue(repo, title, body string, labels []string) (*Issue, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	token, err := c.InstallationToken()
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"title": title, "body": body, "labels": labels}
	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, name)

	status, respBody, err := c.postJSON(url, token, payload)
	if err != nil {
		return nil, fmt.Errorf("GITHUB_CREATE_ISSUE_FAILED: %v", err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("GITHUB_CREATE_ISSUE_FAILED: %d %s", status, respBody)
	}
	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("GITHUB_CREATE_ISSUE_FAILED: decoding response: %v", err)
	}
	return &issue, nil
}

// CreateDraftPullRequest opens a draft PR and returns its HTML URL.
func (c *Client) CreateDraftPullRequest(repo, title, head, base, body string) (string, error) {
	owner, name, err := SplitRepo(repo)
	if err != nil {
		return "", err
	}
	token, err := c.InstallationToken()
	if err != nil {
		return "", err
	}
	payload := map[string]interface{}{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
		"draft": true,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, name)

	status, respBody, err := c.postJSON(url, token, payload)
	if err != nil {
		return "", fmt.Errorf("GITHUB_CREATE_PR_FAILED: %v", err)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("GITHUB_CREATE_PR_FAILED: %d %s", status, respBody)
	}
	var pr struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", fmt.Errorf("GITHUB_CREATE_PR_FAILED: decoding response: %v", err)
	}
	return pr.HTMLURL, nil
}

func (c *Client) postJSON(url, token string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.headers(req, token)
	return c.do(req)
}

func (c *Client) do(req *retryablehttp.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}
