package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// NewClient creates a new GitHub client.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		BaseURL:    DefaultAPIEndpoint,
		GraphQLURL: DefaultAPIEndpoint + "/graphql",
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	copied := *c
	copied.HTTPClient = httpClient
	return &copied
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise). The GraphQL endpoint follows the base URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	copied := *c
	copied.BaseURL = strings.TrimSuffix(baseURL, "/")
	copied.GraphQLURL = copied.BaseURL + "/graphql"
	return &copied
}

// repoPath returns the "owner/repo" path segment.
func (c *Client) repoPath() string {
	return c.Owner + "/" + c.Repo
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// doRequest performs an HTTP request with authentication and retry logic.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		// A fresh reader per attempt: a retried request must not reuse a
		// reader the previous attempt already drained.
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		// Handle rate limiting (GitHub uses 403 with X-RateLimit-Remaining: 0, or 429)
		if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
			delay := RetryDelay * time.Duration(1<<attempt)
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					delay = time.Duration(seconds) * time.Second
				}
			}
			lastErr = &RateLimitError{Attempt: attempt + 1}
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
				continue
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, nil, fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode)
		}

		return respBody, resp.Header, nil
	}

	return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, lastErr)
}

// RateLimitError marks a response rejected by GitHub's rate limiter after
// the client's own bounded retries are exhausted. IsRateLimit lets callers
// tell it apart from other request failures.
type RateLimitError struct {
	Attempt int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (attempt %d/%d)", e.Attempt, MaxRetries+1)
}

// IsRateLimit reports whether err wraps a rate limit rejection.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	// Secondary responses (abuse detection) surface as plain API errors.
	return strings.Contains(err.Error(), "rate limit") ||
		strings.Contains(err.Error(), "secondary rate")
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}

// ListIssues retrieves all issues (open and closed) from the repository,
// excluding pull requests, reduced into a URL-keyed map. The dedup pass
// consumes this map to reconcile pre-existing migrations.
func (c *Client) ListIssues(ctx context.Context) (map[string]*Issue, error) {
	byURL := make(map[string]*Issue)
	page := 1

	for {
		select {
		case <-ctx.Done():
			return byURL, ctx.Err()
		default:
		}

		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
			"state":    "all",
		}

		urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		var issues []Issue
		if err := json.Unmarshal(respBody, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse issues response: %w", err)
		}

		for i := range issues {
			if issues[i].PullRequest == nil {
				byURL[issues[i].HTMLURL] = &issues[i]
			}
		}

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++

		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return byURL, nil
}

// CreateIssue creates a new issue.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string, milestone int) (*Issue, error) {
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		reqBody["labels"] = labels
	}
	if milestone > 0 {
		reqBody["milestone"] = milestone
	}

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}

	return &issue, nil
}

// GetIssue retrieves a single issue by its number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}

	return &issue, nil
}

// UpdateIssue applies a partial update to an issue. GitHub uses PATCH.
func (c *Client) UpdateIssue(ctx context.Context, number int, updates map[string]interface{}) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}

	return &issue, nil
}

// AddLabels appends labels to an issue without replacing existing ones.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	_, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"labels": labels})
	if err != nil {
		return fmt.Errorf("failed to add labels: %w", err)
	}
	return nil
}

// AddAssignees appends assignees to an issue.
func (c *Client) AddAssignees(ctx context.Context, number int, assignees []string) error {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/assignees", nil)
	_, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"assignees": assignees})
	if err != nil {
		return fmt.Errorf("failed to add assignees: %w", err)
	}
	return nil
}

// CloseIssue closes an issue with a state reason, posting a closing comment
// first when one is given.
func (c *Client) CloseIssue(ctx context.Context, number int, reason, comment string) (*Issue, error) {
	if comment != "" {
		if _, err := c.CreateComment(ctx, number, comment); err != nil {
			return nil, fmt.Errorf("failed to post closing comment: %w", err)
		}
	}

	updates := map[string]interface{}{"state": "closed"}
	if reason != "" {
		updates["state_reason"] = reason
	}
	return c.UpdateIssue(ctx, number, updates)
}

// ListComments retrieves all comments on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, number int) ([]IssueComment, error) {
	var all []IssueComment
	page := 1

	for {
		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}

		var comments []IssueComment
		if err := json.Unmarshal(respBody, &comments); err != nil {
			return nil, fmt.Errorf("failed to parse comments response: %w", err)
		}
		all = append(all, comments...)

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++

		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return all, nil
}

// CreateComment posts a new comment on an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) (*IssueComment, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	var comment IssueComment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return &comment, nil
}

// UpdateComment edits an existing comment in place by its id.
func (c *Client) UpdateComment(ctx context.Context, commentID int, body string) (*IssueComment, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/issues/comments/"+strconv.Itoa(commentID), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to update comment: %w", err)
	}

	var comment IssueComment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return &comment, nil
}

// ListLabels retrieves the repository's labels.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var all []Label
	page := 1

	for {
		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		urlStr := c.buildURL("/repos/"+c.repoPath()+"/labels", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list labels: %w", err)
		}

		var labels []Label
		if err := json.Unmarshal(respBody, &labels); err != nil {
			return nil, fmt.Errorf("failed to parse labels response: %w", err)
		}
		all = append(all, labels...)

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++
	}

	return all, nil
}

// CreateLabel creates a repository label.
func (c *Client) CreateLabel(ctx context.Context, name, color string) (*Label, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/labels", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{
		"name":  name,
		"color": color,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create label: %w", err)
	}

	var label Label
	if err := json.Unmarshal(respBody, &label); err != nil {
		return nil, fmt.Errorf("failed to parse label response: %w", err)
	}
	return &label, nil
}

// ListMilestones retrieves the repository's milestones in all states.
func (c *Client) ListMilestones(ctx context.Context) ([]Milestone, error) {
	params := map[string]string{
		"state":    "all",
		"per_page": strconv.Itoa(MaxPageSize),
	}
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", params)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}

	var milestones []Milestone
	if err := json.Unmarshal(respBody, &milestones); err != nil {
		return nil, fmt.Errorf("failed to parse milestones response: %w", err)
	}
	return milestones, nil
}

// CreateMilestone creates a milestone, optionally with a due date.
func (c *Client) CreateMilestone(ctx context.Context, title string, dueOn *time.Time) (*Milestone, error) {
	reqBody := map[string]interface{}{"title": title}
	if dueOn != nil {
		reqBody["due_on"] = dueOn.UTC().Format(time.RFC3339)
	}

	urlStr := c.buildURL("/repos/"+c.repoPath()+"/milestones", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create milestone: %w", err)
	}

	var milestone Milestone
	if err := json.Unmarshal(respBody, &milestone); err != nil {
		return nil, fmt.Errorf("failed to parse milestone response: %w", err)
	}
	return &milestone, nil
}

// GetPullRequest retrieves a pull request for relation-state rendering.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	urlStr := c.buildURL("/repos/"+c.repoPath()+"/pulls/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request #%d: %w", number, err)
	}

	var pr PullRequest
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull request response: %w", err)
	}
	return &pr, nil
}

// TokenScopes reports the OAuth scopes granted to the configured token,
// read from the X-OAuth-Scopes response header. Fine-grained tokens return
// an empty list.
func (c *Client) TokenScopes(ctx context.Context) ([]string, error) {
	urlStr := c.buildURL("/user", nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scope check failed (status %d)", resp.StatusCode)
	}

	header := resp.Header.Get("X-OAuth-Scopes")
	if header == "" {
		return nil, nil
	}

	var scopes []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes, nil
}
