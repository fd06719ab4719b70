// Package github provides client and data types for the GitHub REST API
// and the Projects v2 GraphQL API.
//
// This package handles all destination-side interactions of a migration
// run: issue CRUD, comments, labels, milestones, project boards, and the
// OAuth scope pre-flight used before board writes.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPageSize is the maximum number of issues to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed Link headers.
	MaxPages = 1000
)

// Client provides methods to interact with the GitHub APIs.
type Client struct {
	Token      string       // GitHub personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // REST base URL (default: https://api.github.com)
	GraphQLURL string       // GraphQL endpoint (default: BaseURL + "/graphql")
	HTTPClient *http.Client // Optional custom HTTP client
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID          int        `json:"id"`     // Global unique ID
	Number      int        `json:"number"` // Repository-scoped issue number
	NodeID      string     `json:"node_id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef indicates an issue is actually a pull request.
// The GitHub Issues API returns PRs alongside issues; this field
// distinguishes them.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label represents a GitHub label.
type Label struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Milestone represents a GitHub milestone.
type Milestone struct {
	ID     int        `json:"id"`
	Number int        `json:"number"`
	Title  string     `json:"title"`
	State  string     `json:"state"` // "open" or "closed"
	DueOn  *time.Time `json:"due_on,omitempty"`
}

// IssueComment represents a comment on an issue.
type IssueComment struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	User      *User      `json:"user,omitempty"`
}

// PullRequest carries the subset of PR fields used for relation rendering.
type PullRequest struct {
	Number   int        `json:"number"`
	State    string     `json:"state"` // "open" or "closed"
	Merged   bool       `json:"merged"`
	MergedAt *time.Time `json:"merged_at,omitempty"`
	Title    string     `json:"title"`
	HTMLURL  string     `json:"html_url"`
}

// ProjectV2 is a Projects v2 board resolved via GraphQL.
type ProjectV2 struct {
	ID     string // GraphQL node ID
	Number int
	Title  string
}

// ProjectField is a Projects v2 field; Options is populated for
// single-select fields such as "Status".
type ProjectField struct {
	ID      string
	Name    string
	Options []ProjectFieldOption
}

// ProjectFieldOption is one choice of a single-select project field.
type ProjectFieldOption struct {
	ID   string
	Name string
}
