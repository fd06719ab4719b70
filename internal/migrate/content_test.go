package migrate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/codemill/ado2gh/internal/ado"
	"github.com/codemill/ado2gh/internal/github"
)

func TestBuildDescriptionBug(t *testing.T) {
	item := &ado.WorkItem{
		ID: 1,
		Fields: ado.WorkItemFields{
			WorkItemType: "Bug",
			ReproSteps:   "Click the button",
			SystemInfo:   "Windows 11",
			Description:  "ignored for bugs",
		},
	}

	body := BuildDescription(item, nil)
	if !strings.Contains(body, "## Repro Steps") || !strings.Contains(body, "Click the button") {
		t.Errorf("body missing repro steps:\n%s", body)
	}
	if !strings.Contains(body, "## System Info") || !strings.Contains(body, "Windows 11") {
		t.Errorf("body missing system info:\n%s", body)
	}
	if strings.Contains(body, "ignored for bugs") {
		t.Errorf("bug body should not use the description field:\n%s", body)
	}
}

func TestBuildDescriptionBugSystemInfoOnly(t *testing.T) {
	item := &ado.WorkItem{
		Fields: ado.WorkItemFields{WorkItemType: "Bug", SystemInfo: "Linux"},
	}

	body := BuildDescription(item, nil)
	if strings.Contains(body, "## Repro Steps") {
		t.Errorf("empty repro-steps section should be skipped:\n%s", body)
	}
	if !strings.HasPrefix(body, "## System Info") {
		t.Errorf("body = %q, want to start with the system-info heading", body)
	}
}

func TestBuildDescriptionEmptyUsesPlaceholder(t *testing.T) {
	item := &ado.WorkItem{Fields: ado.WorkItemFields{WorkItemType: "User Story"}}

	if body := BuildDescription(item, nil); body != PlaceholderDescription {
		t.Errorf("body = %q, want placeholder", body)
	}
}

func TestBuildDescriptionAcceptanceCriteria(t *testing.T) {
	item := &ado.WorkItem{
		Fields: ado.WorkItemFields{
			WorkItemType:       "User Story",
			Description:        "As a user...",
			AcceptanceCriteria: "It works.",
		},
	}

	body := BuildDescription(item, nil)
	if !strings.Contains(body, "As a user...") || !strings.Contains(body, "## Acceptance Criteria") {
		t.Errorf("body missing sections:\n%s", body)
	}
}

func TestBuildDescriptionPRChecklist(t *testing.T) {
	item := &ado.WorkItem{Fields: ado.WorkItemFields{WorkItemType: "Task", Description: "x"}}
	relations := []ResolvedRelation{
		{Kind: "Pull Request", Raw: "vstfs:///Git/PullRequestId/R1%2F1", URL: "https://github.com/o/r/pull/1", PR: &github.PullRequest{Merged: true, State: "closed"}},
		{Kind: "Pull Request", Raw: "vstfs:///Git/PullRequestId/R1%2F2", URL: "https://github.com/o/r/pull/2", PR: &github.PullRequest{Merged: false, State: "closed"}},
		{Kind: "Pull Request", Raw: "vstfs:///Git/PullRequestId/R1%2F3", URL: "https://github.com/o/r/pull/3", PR: &github.PullRequest{Merged: false, State: "open"}},
		{Kind: "Related", Raw: "vstfs:///Git/Issue/R1%2F4", URL: "https://github.com/o/r/issues/4"},
	}

	body := BuildDescription(item, relations)
	if !strings.Contains(body, "- [x] https://github.com/o/r/pull/1") {
		t.Errorf("merged PR not checked:\n%s", body)
	}
	if !strings.Contains(body, "- [x] ~~https://github.com/o/r/pull/2~~") {
		t.Errorf("closed-unmerged PR not struck through:\n%s", body)
	}
	if !strings.Contains(body, "- [ ] https://github.com/o/r/pull/3") {
		t.Errorf("open PR not unchecked:\n%s", body)
	}
	if strings.Contains(body, "issues/4") {
		t.Errorf("non-PR relation leaked into the checklist:\n%s", body)
	}
}

func TestRewriteSourceLinks(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			"see https://github.com/o/r/tree/main/pkg/file.go?line=12",
			"see https://github.com/o/r/blob/main/pkg/file.go#L12",
		},
		{
			"https://github.com/o/r/blob/main/a.go&line=3",
			"https://github.com/o/r/blob/main/a.go#L3",
		},
		{"no links here", "no links here"},
	}
	for _, tt := range tests {
		if got := rewriteSourceLinks(tt.in); got != tt.want {
			t.Errorf("rewriteSourceLinks(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildMetadataTable(t *testing.T) {
	item := &ado.WorkItem{
		Fields: ado.WorkItemFields{
			State:         "Active",
			WorkItemType:  "Bug",
			AreaPath:      `proj\team`,
			IterationPath: `proj\Sprint 3`,
			CreatedDate:   "2024-01-02T03:04:05Z",
			AssignedTo:    &ado.Identity{DisplayName: "Alice"},
		},
	}

	table := BuildMetadataTable(item)
	if !strings.HasPrefix(table, "<details>") || !strings.HasSuffix(table, "</details>") {
		t.Errorf("table not collapsible:\n%s", table)
	}
	for _, want := range []string{"Alice", "Active", "Bug", `proj\Sprint 3`} {
		if !strings.Contains(table, want) {
			t.Errorf("table missing %q:\n%s", want, table)
		}
	}
}

func TestBuildRelationsTableLinkText(t *testing.T) {
	state := NewState()
	state.Insert("https://dev.azure.com/org/proj/_workitems/edit/8", "https://github.com/o/r/issues/80")

	batch := []*ado.WorkItem{{ID: 8, Fields: ado.WorkItemFields{Title: "Mapped | item"}}}
	srcURL := func(id int) string { return "https://dev.azure.com/org/proj/_workitems/edit/8" }

	relations := []ResolvedRelation{
		{Kind: "Related", URL: "https://github.com/o/r/issues/5"},
		{Kind: "Fixed in", URL: "https://github.com/o/r/commit/0123456789abcdef"},
		{Kind: "Child", Raw: "https://dev.azure.com/org/proj/_workitems/edit/8", URL: "https://dev.azure.com/org/proj/_workitems/edit/8"},
		{Kind: "Parent", URL: "https://dev.azure.com/org/proj/_workitems/edit/9"},
	}

	table := BuildRelationsTable(relations, batch, state, srcURL, RelationTableOptions{})
	if !strings.Contains(table, "[#5](https://github.com/o/r/issues/5)") {
		t.Errorf("github issue not linked as plain #5:\n%s", table)
	}
	if !strings.Contains(table, "[o/r@0123456](") {
		t.Errorf("commit not shortened to 7 chars:\n%s", table)
	}
	if !strings.Contains(table, "[#80](https://github.com/o/r/issues/80)") {
		t.Errorf("mapped reference not rendered as destination number:\n%s", table)
	}
	if !strings.Contains(table, "[AB#9](") {
		t.Errorf("unmapped source reference not rendered with AB prefix:\n%s", table)
	}
	if !strings.Contains(table, `Mapped \| item`) {
		t.Errorf("title pipe not escaped:\n%s", table)
	}
}

func TestBuildRelationsTableMention(t *testing.T) {
	relations := []ResolvedRelation{{Kind: "Related", URL: "https://github.com/o/r/issues/5"}}

	table := BuildRelationsTable(relations, nil, NewState(), func(int) string { return "" }, RelationTableOptions{Mention: true})
	if !strings.Contains(table, "| o/r#5 |") {
		t.Errorf("mention mode should render a bare reference:\n%s", table)
	}
}

func TestBuildCommentHeader(t *testing.T) {
	item := &ado.WorkItem{ID: 42}
	relations := []ResolvedRelation{
		{Kind: "Related", URL: "https://github.com/o/r/pull/3"},
	}

	header := BuildCommentHeader(item, "https://dev.azure.com/org/proj/_workitems/edit/42",
		relations, []string{"needs triage", "needs triage", " ", "infra-db"})

	if !strings.Contains(header, "logo=azuredevops") {
		t.Errorf("header missing source badge:\n%s", header)
	}
	if !strings.Contains(header, "(https://dev.azure.com/org/proj/_workitems/edit/42)") {
		t.Errorf("source badge does not link back:\n%s", header)
	}
	if !strings.Contains(header, "PR-%233-green?logo=github") {
		t.Errorf("PR badge not rendered:\n%s", header)
	}
	if strings.Count(header, "needs%20triage") != 1 {
		t.Errorf("duplicate tags should produce one badge:\n%s", header)
	}
	if !strings.Contains(header, "infra--db") {
		t.Errorf("dash in tag not escaped for shields.io:\n%s", header)
	}
}

func TestBuildCommentBody(t *testing.T) {
	raw := json.RawMessage(`{"id":1}`)
	body := BuildCommentBody("HEADER", "RELATIONS", "META", "DISCUSSION", raw)

	if !strings.HasPrefix(body, MigrationMarker) {
		t.Errorf("body does not start with the marker:\n%s", body)
	}
	for _, want := range []string{"HEADER", "RELATIONS", "META", "DISCUSSION", "```json", `"id": 1`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestBuildDiscussion(t *testing.T) {
	if got := BuildDiscussion(nil); got != "" {
		t.Errorf("BuildDiscussion(nil) = %q, want empty", got)
	}

	comments := []ado.Comment{
		{Text: "first", CreatedAt: "2024-01-01", CreatedBy: &ado.Identity{DisplayName: "Alice"}},
		{Text: "second", CreatedAt: "2024-01-02", CreatedBy: &ado.Identity{DisplayName: "Bob"}},
	}
	got := BuildDiscussion(comments)
	if !strings.HasPrefix(got, "## Discussion") {
		t.Errorf("missing heading:\n%s", got)
	}
	if strings.Index(got, "first") > strings.Index(got, "second") {
		t.Errorf("comments out of order:\n%s", got)
	}
}
