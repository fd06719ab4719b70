// Package ado provides a read-mostly client for the Azure DevOps work-item
// REST API. Work items are fetched in ascending-ID pages via WIQL; the only
// write path is the production-run completion tag and discussion note.
package ado

import (
	"encoding/json"
	"time"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	APIVersion     = "7.0"

	// DefaultPageSize is how many work items a WIQL page requests. A page
	// shorter than this signals the end of the query.
	DefaultPageSize = 50
)

// Closed-equivalent work-item states. Items in one of these states are
// closed on the destination side after migration.
var ClosedStates = map[string]bool{
	"Done":     true,
	"Closed":   true,
	"Resolved": true,
	"Removed":  true,
}

// WorkItem represents an Azure DevOps work item.
type WorkItem struct {
	ID        int             `json:"id"`
	Rev       int             `json:"rev"`
	URL       string          `json:"url"`
	Fields    WorkItemFields  `json:"fields"`
	Relations []Relation      `json:"relations,omitempty"`
	Raw       json.RawMessage `json:"-"` // full response body, kept for the audit comment
}

// WorkItemFields contains the work item field values.
type WorkItemFields struct {
	Title              string    `json:"System.Title"`
	Description        string    `json:"System.Description"`
	State              string    `json:"System.State"`
	WorkItemType       string    `json:"System.WorkItemType"`
	ReproSteps         string    `json:"Microsoft.VSTS.TCM.ReproSteps,omitempty"`
	SystemInfo         string    `json:"Microsoft.VSTS.TCM.SystemInfo,omitempty"`
	AcceptanceCriteria string    `json:"Microsoft.VSTS.Common.AcceptanceCriteria,omitempty"`
	AssignedTo         *Identity `json:"System.AssignedTo,omitempty"`
	CreatedBy          *Identity `json:"System.CreatedBy,omitempty"`
	ChangedBy          *Identity `json:"System.ChangedBy,omitempty"`
	CreatedDate        string    `json:"System.CreatedDate"`
	ChangedDate        string    `json:"System.ChangedDate"`
	Tags               string    `json:"System.Tags,omitempty"` // Semicolon-separated
	AreaPath           string    `json:"System.AreaPath"`
	IterationPath      string    `json:"System.IterationPath"`
}

// Identity represents an Azure DevOps user identity.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// Relation is a link from a work item to another artifact: a sibling work
// item, a commit, a pull request, or an arbitrary hyperlink.
type Relation struct {
	Rel        string             `json:"rel"`
	URL        string             `json:"url"`
	Attributes RelationAttributes `json:"attributes,omitempty"`
}

// RelationAttributes carries the human-readable relation metadata.
type RelationAttributes struct {
	Name    string `json:"name,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// Comment is a single work-item discussion comment.
type Comment struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	CreatedBy *Identity `json:"createdBy,omitempty"`
	CreatedAt string    `json:"createdDate,omitempty"`
}

// CommentListResponse is the response from the comments endpoint.
type CommentListResponse struct {
	TotalCount int       `json:"totalCount"`
	Count      int       `json:"count"`
	Comments   []Comment `json:"comments"`
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query.
type WIQLQueryResponse struct {
	QueryType string        `json:"queryType"`
	AsOf      string        `json:"asOf"`
	WorkItems []WorkItemRef `json:"workItems"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemBatchResponse is the response from batch get.
type WorkItemBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is a JSON-patch operation for work item updates.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// TagListResponse is the response from the tags endpoint.
type TagListResponse struct {
	Count int   `json:"count"`
	Value []Tag `json:"value"`
}

// Tag is a project-level work-item tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Iteration is a project iteration with its date range.
type Iteration struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Path       string              `json:"path"`
	Attributes IterationAttributes `json:"attributes"`
}

// IterationAttributes holds the iteration date window.
type IterationAttributes struct {
	StartDate  *time.Time `json:"startDate,omitempty"`
	FinishDate *time.Time `json:"finishDate,omitempty"`
	TimeFrame  string     `json:"timeFrame,omitempty"`
}

// IterationListResponse is the response from the iterations endpoint.
type IterationListResponse struct {
	Count int         `json:"count"`
	Value []Iteration `json:"value"`
}

// Project describes an Azure DevOps project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	State       string `json:"state,omitempty"`
}

// ProjectListResponse is the response from the projects endpoint.
type ProjectListResponse struct {
	Count int       `json:"count"`
	Value []Project `json:"value"`
}
