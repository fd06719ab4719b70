package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// graphQLRequest is the envelope for GraphQL calls.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// doGraphQL executes one GraphQL request and unmarshals the "data" object
// into out. GraphQL-level errors are returned as a single wrapped error.
func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	reqData, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GraphQLURL, bytes.NewReader(reqData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GraphQL error %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("GraphQL error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse GraphQL data: %w", err)
		}
	}
	return nil
}

// FindProject resolves a Projects v2 board by title under the repository
// owner. Returns nil when no board with that title exists.
func (c *Client) FindProject(ctx context.Context, title string) (*ProjectV2, error) {
	const query = `
query($owner: String!) {
  repositoryOwner(login: $owner) {
    ... on ProjectV2Owner {
      projectsV2(first: 50) {
        nodes { id number title }
      }
    }
  }
}`

	var data struct {
		RepositoryOwner struct {
			ProjectsV2 struct {
				Nodes []struct {
					ID     string `json:"id"`
					Number int    `json:"number"`
					Title  string `json:"title"`
				} `json:"nodes"`
			} `json:"projectsV2"`
		} `json:"repositoryOwner"`
	}
	err := c.doGraphQL(ctx, query, map[string]interface{}{"owner": c.Owner}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %q: %w", title, err)
	}

	for _, node := range data.RepositoryOwner.ProjectsV2.Nodes {
		if node.Title == title {
			return &ProjectV2{ID: node.ID, Number: node.Number, Title: node.Title}, nil
		}
	}
	return nil, nil
}

// ProjectStatusField returns the project's "Status" single-select field with
// its options, or nil when the project has none.
func (c *Client) ProjectStatusField(ctx context.Context, projectID string) (*ProjectField, error) {
	const query = `
query($project: ID!) {
  node(id: $project) {
    ... on ProjectV2 {
      fields(first: 50) {
        nodes {
          ... on ProjectV2SingleSelectField {
            id name
            options { id name }
          }
        }
      }
    }
  }
}`

	var data struct {
		Node struct {
			Fields struct {
				Nodes []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	err := c.doGraphQL(ctx, query, map[string]interface{}{"project": projectID}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project fields: %w", err)
	}

	for _, node := range data.Node.Fields.Nodes {
		if node.Name != "Status" {
			continue
		}
		field := &ProjectField{ID: node.ID, Name: node.Name}
		for _, opt := range node.Options {
			field.Options = append(field.Options, ProjectFieldOption{ID: opt.ID, Name: opt.Name})
		}
		return field, nil
	}
	return nil, nil
}

// AddProjectItem adds an issue (by GraphQL node id) to a project board and
// returns the board item id.
func (c *Client) AddProjectItem(ctx context.Context, projectID, issueNodeID string) (string, error) {
	const mutation = `
mutation($project: ID!, $content: ID!) {
  addProjectV2ItemById(input: {projectId: $project, contentId: $content}) {
    item { id }
  }
}`

	var data struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	err := c.doGraphQL(ctx, mutation, map[string]interface{}{
		"project": projectID,
		"content": issueNodeID,
	}, &data)
	if err != nil {
		return "", fmt.Errorf("failed to add project item: %w", err)
	}
	return data.AddProjectV2ItemByID.Item.ID, nil
}

// SetProjectItemStatus moves a board item into the named column of the
// single-select Status field.
func (c *Client) SetProjectItemStatus(ctx context.Context, projectID, itemID string, field *ProjectField, column string) error {
	var optionID string
	for _, opt := range field.Options {
		if opt.Name == column {
			optionID = opt.ID
			break
		}
	}
	if optionID == "" {
		return fmt.Errorf("project has no %q column", column)
	}

	const mutation = `
mutation($project: ID!, $item: ID!, $field: ID!, $option: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $project, itemId: $item, fieldId: $field,
    value: {singleSelectOptionId: $option}
  }) {
    projectV2Item { id }
  }
}`

	return c.doGraphQL(ctx, mutation, map[string]interface{}{
		"project": projectID,
		"item":    itemID,
		"field":   field.ID,
		"option":  optionID,
	}, nil)
}
