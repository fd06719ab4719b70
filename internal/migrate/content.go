package migrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/codemill/ado2gh/internal/ado"
	"github.com/codemill/ado2gh/internal/github"
)

const (
	// PlaceholderDescription substitutes an empty issue body. GitHub accepts
	// empty bodies, but a visible sentinel keeps "nothing was migrated"
	// distinguishable from "migration dropped the text".
	PlaceholderDescription = "_No description was provided on the original work item._"

	// MigrationMarker identifies the single canonical migration comment on
	// a destination issue. The upsert step searches comment bodies for it.
	MigrationMarker = "<!-- ado2gh:migration -->"
)

// ResolvedRelation pairs a work-item relation with its resolved public URL
// and, for pull-request relations, the fetched destination PR state.
type ResolvedRelation struct {
	Kind string // relation display name, e.g. "Related", "Pull Request"
	Raw  string // original reference as stored on the work item
	URL  string // resolved public URL; empty when unresolvable
	PR   *github.PullRequest
}

// IsPullRequest reports whether the relation points at a pull request.
func (r ResolvedRelation) IsPullRequest() bool {
	return strings.Contains(r.Raw, "/PullRequestId/") ||
		strings.Contains(r.URL, "/pull/") ||
		strings.EqualFold(r.Kind, "Pull Request")
}

// IsCommit reports whether the relation points at a commit.
func (r ResolvedRelation) IsCommit() bool {
	return strings.Contains(r.Raw, "/Commit/") || strings.Contains(r.URL, "/commit/")
}

// treeLinkPattern matches tree-view source links embedded in repro steps.
var treeLinkPattern = regexp.MustCompile(`(https://github\.com/[^/\s"')]+/[^/\s"')]+)/tree/([^\s"')]+)`)

// lineParamPattern matches a line-number query parameter on a source link.
var lineParamPattern = regexp.MustCompile(`[?&]line=(\d+)`)

// rewriteSourceLinks converts tree-view links to blob-view form and turns
// line-number query parameters into URL fragment anchors, so the links land
// on the file (and line) instead of the directory listing.
func rewriteSourceLinks(text string) string {
	text = treeLinkPattern.ReplaceAllString(text, "$1/blob/$2")
	return lineParamPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := lineParamPattern.FindStringSubmatch(m)
		return "#L" + sub[1]
	})
}

// BuildDescription renders the destination issue body for a work item.
//
// Bug-like items concatenate their repro-steps and system-info sections,
// skipping empty ones; other types use the description plus an optional
// acceptance-criteria section. A pull-request checklist is appended when
// any PR relation exists. The result is never empty.
func BuildDescription(item *ado.WorkItem, relations []ResolvedRelation) string {
	var sections []string

	if strings.EqualFold(item.Fields.WorkItemType, "Bug") {
		if repro := strings.TrimSpace(item.Fields.ReproSteps); repro != "" {
			sections = append(sections, "## Repro Steps\n\n"+rewriteSourceLinks(repro))
		}
		if info := strings.TrimSpace(item.Fields.SystemInfo); info != "" {
			sections = append(sections, "## System Info\n\n"+info)
		}
	} else {
		if desc := strings.TrimSpace(item.Fields.Description); desc != "" {
			sections = append(sections, desc)
		}
		if ac := strings.TrimSpace(item.Fields.AcceptanceCriteria); ac != "" {
			sections = append(sections, "## Acceptance Criteria\n\n"+ac)
		}
	}

	if checklist := buildPRChecklist(relations); checklist != "" {
		sections = append(sections, checklist)
	}

	body := strings.TrimSpace(strings.Join(sections, "\n\n"))
	if body == "" {
		return PlaceholderDescription
	}
	return body
}

// buildPRChecklist renders one checklist line per pull-request relation:
// checked and struck through for closed-unmerged, checked for merged,
// unchecked otherwise.
func buildPRChecklist(relations []ResolvedRelation) string {
	var lines []string
	for _, rel := range relations {
		if !rel.IsPullRequest() {
			continue
		}

		link := rel.URL
		if link == "" {
			link = rel.Raw
		}

		switch {
		case rel.PR != nil && !rel.PR.Merged && rel.PR.State == "closed":
			lines = append(lines, fmt.Sprintf("- [x] ~~%s~~", link))
		case rel.PR != nil && rel.PR.Merged:
			lines = append(lines, fmt.Sprintf("- [x] %s", link))
		default:
			lines = append(lines, fmt.Sprintf("- [ ] %s", link))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Pull Requests\n\n" + strings.Join(lines, "\n")
}

// BuildMetadataTable renders the fixed work-item metadata table inside a
// collapsible section.
func BuildMetadataTable(item *ado.WorkItem) string {
	assignee := ""
	if item.Fields.AssignedTo != nil {
		assignee = item.Fields.AssignedTo.DisplayName
	}
	createdBy := ""
	if item.Fields.CreatedBy != nil {
		createdBy = item.Fields.CreatedBy.DisplayName
	}
	changedBy := ""
	if item.Fields.ChangedBy != nil {
		changedBy = item.Fields.ChangedBy.DisplayName
	}

	var b strings.Builder
	b.WriteString("<details><summary>Original work item details</summary>\n\n")
	b.WriteString("| Created | Created By | Changed | Changed By | Assignee | State | Type | Area Path | Iteration Path |\n")
	b.WriteString("| --- | --- | --- | --- | --- | --- | --- | --- | --- |\n")
	b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
		item.Fields.CreatedDate, createdBy,
		item.Fields.ChangedDate, changedBy,
		assignee, item.Fields.State, item.Fields.WorkItemType,
		item.Fields.AreaPath, item.Fields.IterationPath))
	b.WriteString("\n</details>")
	return b.String()
}

// githubRefPattern captures owner, repo, kind and id of a github.com URL.
var githubRefPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/(issues|pull|commit)/([^/?#]+)`)

// RelationTableOptions controls link-text rendering in the relations table.
type RelationTableOptions struct {
	// Mention renders destination references bare (org/repo#id), which
	// posts a live cross-link on the referenced issue. Irreversible once
	// posted, so opt-in.
	Mention bool
	// SourcePrefix is the autolink prefix for source-platform references
	// (Azure Boards uses "AB").
	SourcePrefix string
}

// BuildRelationsTable renders one table row per relation. Link text policy,
// in order: destination-platform references as org/repo#id (or @hash, or a
// plain linked #id when mentions are off), checkpoint-mapped references as
// #number, source-platform references as AB#id, anything else as a generic
// link. The title column is resolved against the batch by source URL.
func BuildRelationsTable(relations []ResolvedRelation, batch []*ado.WorkItem, state *State, sourceURL func(id int) string, opts RelationTableOptions) string {
	if len(relations) == 0 {
		return ""
	}

	titleByURL := make(map[string]string, len(batch))
	for _, item := range batch {
		titleByURL[sourceURL(item.ID)] = item.Fields.Title
	}

	var b strings.Builder
	b.WriteString("| Relation | Link | Title |\n")
	b.WriteString("| --- | --- | --- |\n")

	for _, rel := range relations {
		link := relationLinkText(rel, state, opts)
		title := titleByURL[rel.URL]
		if title == "" {
			title = titleByURL[rel.Raw]
		}
		if title == "" && rel.PR != nil {
			title = rel.PR.Title
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s |\n", rel.Kind, link, escapeTableCell(title)))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// relationLinkText picks the display form of one relation reference.
func relationLinkText(rel ResolvedRelation, state *State, opts RelationTableOptions) string {
	if m := githubRefPattern.FindStringSubmatch(rel.URL); m != nil {
		owner, repo, kind, id := m[1], m[2], m[3], m[4]
		switch kind {
		case "commit":
			short := shortHash(id)
			if opts.Mention {
				return fmt.Sprintf("%s/%s@%s", owner, repo, short)
			}
			return fmt.Sprintf("[%s/%s@%s](%s)", owner, repo, short, rel.URL)
		default:
			if opts.Mention {
				return fmt.Sprintf("%s/%s#%s", owner, repo, id)
			}
			return fmt.Sprintf("[#%s](%s)", id, rel.URL)
		}
	}

	if state != nil {
		if dest, ok := state.Lookup(rel.URL, rel.Raw); ok {
			if n := urlNumber(dest); n > 0 {
				return fmt.Sprintf("[#%d](%s)", n, dest)
			}
			return fmt.Sprintf("[link](%s)", dest)
		}
	}

	if id, ok := ado.ParseWorkItemID(rel.URL); ok && strings.Contains(rel.URL, "_workitems") {
		prefix := opts.SourcePrefix
		if prefix == "" {
			prefix = "AB"
		}
		return fmt.Sprintf("[%s#%d](%s)", prefix, id, rel.URL)
	}

	if rel.URL != "" {
		return fmt.Sprintf("[link](%s)", rel.URL)
	}
	return "(unresolved)"
}

// BuildCommentHeader renders the badge line of the migration comment: one
// badge linking back to the canonical work item, one per relation, one per
// unique trimmed tag.
func BuildCommentHeader(item *ado.WorkItem, canonicalURL string, relations []ResolvedRelation, tags []string) string {
	var badges []string

	badges = append(badges, fmt.Sprintf("[%s](%s)",
		badge("Azure DevOps", fmt.Sprintf("%d", item.ID), "0078d7", "azuredevops"), canonicalURL))

	for _, rel := range relations {
		badges = append(badges, relationBadge(rel))
	}

	seen := make(map[string]bool)
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		badges = append(badges, badge("tag", tag, "lightgrey", ""))
	}

	return strings.Join(badges, " ")
}

// relationBadge picks label, color and icon for one relation badge.
// Destination-platform relations get a type-specific GitHub icon; anything
// else gets the generic source-platform icon with the relation name as the
// label. Commit-like ids are shortened to 7 characters.
func relationBadge(rel ResolvedRelation) string {
	if m := githubRefPattern.FindStringSubmatch(rel.URL); m != nil {
		kind, id := m[3], m[4]
		switch kind {
		case "commit":
			return fmt.Sprintf("[%s](%s)", badge("commit", shortHash(id), "blue", "github"), rel.URL)
		case "pull":
			return fmt.Sprintf("[%s](%s)", badge("PR", "#"+id, "green", "github"), rel.URL)
		default:
			return fmt.Sprintf("[%s](%s)", badge("issue", "#"+id, "green", "github"), rel.URL)
		}
	}

	value := rel.URL
	if value == "" {
		value = rel.Raw
	}
	if id, ok := ado.ParseWorkItemID(value); ok && strings.Contains(value, "_workitems") {
		return fmt.Sprintf("[%s](%s)", badge(rel.Kind, fmt.Sprintf("%d", id), "0078d7", "azuredevops"), value)
	}
	if looksLikeHash(value) {
		value = shortHash(value)
	}
	b := badge(rel.Kind, value, "0078d7", "azuredevops")
	if rel.URL != "" {
		return fmt.Sprintf("[%s](%s)", b, rel.URL)
	}
	return b
}

// badge renders one shields.io static badge image.
func badge(label, message, color, logo string) string {
	u := fmt.Sprintf("https://img.shields.io/badge/%s-%s-%s",
		badgeEscape(label), badgeEscape(message), color)
	if logo != "" {
		u += "?logo=" + logo
	}
	return fmt.Sprintf("![%s](%s)", label, u)
}

// badgeEscape applies the shields.io static badge escaping rules.
func badgeEscape(s string) string {
	s = strings.ReplaceAll(s, "-", "--")
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, " ", "%20")
	s = strings.ReplaceAll(s, "#", "%23")
	return s
}

// BuildDiscussion renders imported work-item discussion comments as one
// markdown section, oldest first.
func BuildDiscussion(comments []ado.Comment) string {
	if len(comments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Discussion\n")
	for _, c := range comments {
		author := ""
		if c.CreatedBy != nil {
			author = c.CreatedBy.DisplayName
		}
		b.WriteString(fmt.Sprintf("\n**%s** (%s):\n\n%s\n", author, c.CreatedAt, c.Text))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// BuildCommentBody renders the full migration comment: marker, badge
// header, relations table, metadata table, imported discussion, and the
// raw snapshot in a collapsible fenced block.
func BuildCommentBody(header, relationsTable, metadataTable, discussion string, raw json.RawMessage) string {
	var b strings.Builder
	b.WriteString(MigrationMarker)
	b.WriteString("\n")
	b.WriteString(header)
	b.WriteString("\n")
	if relationsTable != "" {
		b.WriteString("\n")
		b.WriteString(relationsTable)
		b.WriteString("\n")
	}
	if metadataTable != "" {
		b.WriteString("\n")
		b.WriteString(metadataTable)
		b.WriteString("\n")
	}
	if discussion != "" {
		b.WriteString("\n")
		b.WriteString(discussion)
		b.WriteString("\n")
	}
	if len(raw) > 0 {
		b.WriteString("\n<details><summary>Raw work item snapshot</summary>\n\n```json\n")
		b.WriteString(prettyJSON(raw))
		b.WriteString("\n```\n\n</details>\n")
	}
	return b.String()
}

// prettyJSON indents a raw JSON document; malformed input passes through.
func prettyJSON(raw json.RawMessage) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// shortHash truncates commit-like ids to 7 characters.
func shortHash(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

// looksLikeHash reports whether a value reads as a long hex id.
func looksLikeHash(s string) bool {
	if len(s) < 12 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

// escapeTableCell keeps pipes inside titles from breaking the table.
func escapeTableCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
