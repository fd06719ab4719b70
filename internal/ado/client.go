package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client provides methods to interact with the Azure DevOps REST API.
type Client struct {
	Organization string // Organization name or full URL
	Project      string
	PAT          string // Personal Access Token
	BaseURL      string // Derived from Organization
	HTTPClient   *http.Client
}

// NewClient creates a new Azure DevOps client.
func NewClient(organization, project, pat string) *Client {
	// Handle both organization name and full URL
	baseURL := organization
	if !strings.HasPrefix(organization, "http") {
		baseURL = fmt.Sprintf("https://dev.azure.com/%s", organization)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Client{
		Organization: organization,
		Project:      project,
		PAT:          pat,
		BaseURL:      baseURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithBaseURL returns a copy of the client pointed at a different base URL,
// for tests and on-prem servers.
func (c *Client) WithBaseURL(baseURL string) *Client {
	copied := *c
	copied.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &copied
}

// doRequest performs an HTTP request with PAT authentication.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, contentType string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	reqURL := c.BaseURL + path + separator + "api-version=" + APIVersion

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Azure DevOps uses Basic auth with empty username and PAT as password
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	} else if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// QueryWorkItems runs one WIQL page: work items under areaPath with an ID
// strictly above afterID, ascending. Callers loop with the max ID seen as
// the next cursor; a page shorter than pageSize is the last one.
func (c *Client) QueryWorkItems(ctx context.Context, areaPath string, afterID, pageSize int, includeClosed bool) ([]WorkItemRef, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	wiql := fmt.Sprintf(
		"SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '%s' AND [System.AreaPath] UNDER '%s' AND [System.Id] > %d",
		c.Project, strings.ReplaceAll(areaPath, "'", "''"), afterID)
	if !includeClosed {
		for state := range ClosedStates {
			wiql += fmt.Sprintf(" AND [System.State] <> '%s'", state)
		}
	}
	wiql += " ORDER BY [System.Id] ASC"

	path := fmt.Sprintf("/%s/_apis/wit/wiql?$top=%d", c.Project, pageSize)
	respBody, err := c.doRequest(ctx, "POST", path, WIQLQueryRequest{Query: wiql}, "application/json")
	if err != nil {
		return nil, fmt.Errorf("WIQL query failed: %w", err)
	}

	var queryResp WIQLQueryResponse
	if err := json.Unmarshal(respBody, &queryResp); err != nil {
		return nil, fmt.Errorf("failed to parse WIQL response: %w", err)
	}

	return queryResp.WorkItems, nil
}

// GetWorkItem retrieves a single work item with all fields and relations.
// The raw response body is retained on the returned item.
func (c *Client) GetWorkItem(ctx context.Context, id int) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d?$expand=all", c.Project, id)

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		if strings.Contains(err.Error(), "404") {
			return nil, nil
		}
		return nil, err
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse work item: %w", err)
	}
	workItem.Raw = respBody

	return &workItem, nil
}

// GetComments retrieves the discussion comments of a work item, oldest first.
func (c *Client) GetComments(ctx context.Context, id int) ([]Comment, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workItems/%d/comments?order=asc", c.Project, id)

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch comments for #%d: %w", id, err)
	}

	var resp CommentListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse comments response: %w", err)
	}

	return resp.Comments, nil
}

// UpdateWorkItem applies JSON-patch operations to a work item. The engine
// only calls this during production runs, to append the completion tag.
func (c *Client) UpdateWorkItem(ctx context.Context, id int, ops []PatchOperation) (*WorkItem, error) {
	path := fmt.Sprintf("/%s/_apis/wit/workitems/%d", c.Project, id)

	respBody, err := c.doRequest(ctx, "PATCH", path, ops, "application/json-patch+json")
	if err != nil {
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	var workItem WorkItem
	if err := json.Unmarshal(respBody, &workItem); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}

	return &workItem, nil
}

// AddComment appends one discussion comment to a work item.
func (c *Client) AddComment(ctx context.Context, id int, text string) error {
	path := fmt.Sprintf("/%s/_apis/wit/workItems/%d/comments?api-version=7.0-preview.3", c.Project, id)

	// The comments write endpoint is preview-versioned; bypass the default
	// api-version suffix by inlining it above.
	body := map[string]string{"text": text}
	reqURL := c.BaseURL + path
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	auth := base64.StdEncoding.EncodeToString([]byte(":" + c.PAT))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// AppendTag adds a tag to a work item, preserving existing tags.
func (c *Client) AppendTag(ctx context.Context, id int, existing, tag string) error {
	tags := tag
	if existing != "" {
		tags = existing + "; " + tag
	}
	_, err := c.UpdateWorkItem(ctx, id, []PatchOperation{
		{Op: "add", Path: "/fields/System.Tags", Value: tags},
	})
	return err
}

// ListTags retrieves the project's work-item tags.
func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	path := fmt.Sprintf("/%s/_apis/wit/tags", c.Project)

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	var resp TagListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tags response: %w", err)
	}

	return resp.Value, nil
}

// ListIterations retrieves the project's iterations with their date windows.
func (c *Client) ListIterations(ctx context.Context) ([]Iteration, error) {
	path := fmt.Sprintf("/%s/_apis/work/teamsettings/iterations", c.Project)

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}

	var resp IterationListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse iterations response: %w", err)
	}

	return resp.Value, nil
}

// ListProjects retrieves all projects accessible in the organization.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	path := "/_apis/projects?$top=100"

	respBody, err := c.doRequest(ctx, "GET", path, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	var resp ProjectListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse projects response: %w", err)
	}

	return resp.Value, nil
}

// WorkItemURL returns the canonical web URL for a work item.
func (c *Client) WorkItemURL(id int) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, c.Project, id)
}

// APIURL returns the internal API URL form for a work item. The checkpoint
// records both forms so either can be looked up later.
func (c *Client) APIURL(id int) string {
	return fmt.Sprintf("%s/%s/_apis/wit/workItems/%d", c.BaseURL, c.Project, id)
}

// ParseWorkItemID extracts the work item ID from either URL form.
func ParseWorkItemID(url string) (int, bool) {
	idx := strings.LastIndex(url, "/")
	if idx == -1 {
		return 0, false
	}
	var id int
	if _, err := fmt.Sscanf(url[idx+1:], "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// TagList splits the semicolon-joined System.Tags field into trimmed values.
func (w *WorkItem) TagList() []string {
	if w.Fields.Tags == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(w.Fields.Tags, ";") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// IsClosed reports whether the work item is in a closed-equivalent state.
func (w *WorkItem) IsClosed() bool {
	return ClosedStates[w.Fields.State]
}
