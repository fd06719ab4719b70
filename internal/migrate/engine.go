package migrate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codemill/ado2gh/internal/ado"
	"github.com/codemill/ado2gh/internal/github"
)

const (
	// RateLimitCooldown is the fixed sleep between issue-creation retries.
	// The remote reset window is not consulted; a long constant interval is
	// polled instead.
	RateLimitCooldown = 15 * time.Minute

	// CreateAttempts bounds issue creation, cooldown sleeps included.
	CreateAttempts = 6

	// CompletionTag is appended to a work item after a successful
	// production-run migration.
	CompletionTag = "migrated-to-github"

	// closureComment is posted before closing a migrated issue whose work
	// item is in a closed-equivalent state.
	closureComment = "Closed to match the state of the original work item."
)

// Options configures one migration run.
type Options struct {
	AreaPath         string
	IncludeClosed    bool
	Production       bool // write the completion tag and audit note back
	UpdateExisting   bool // revisit already-mapped items
	UpdateAssignees  bool
	AssigneeSuffix   string // appended to logins derived from uniqueName
	ImportComments   bool
	MentionWorkItems bool // render live destination cross-links
	RateLimitRetry   bool // cooldown-and-retry on creation failure
	DryRun           bool
	ProjectName      string // Projects v2 board title; empty disables board ops
	StaticLabels     []string
	ArchiveLabel     string
	MilestonePrefix  string
	ResumeFromID     int
	TieBreak         TieBreak
	CheckpointPath   string
	PageSize         int
}

// StepResult is one ledger entry: a side-effecting step and its outcome.
type StepResult struct {
	Name string
	Err  error
}

// ItemResult is the per-item ledger: what happened to one work item.
type ItemResult struct {
	ID      int
	Title   string
	Action  string // "created", "updated", "skipped", "failed"
	DestURL string
	Steps   []StepResult
}

// Failed reports whether any step of the item failed.
func (r *ItemResult) Failed() bool {
	if r.Action == "failed" {
		return true
	}
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Result summarizes a run.
type Result struct {
	Processed int
	Migrated  int // items that completed every step
	Created   int
	Updated   int
	Skipped   int
	Failed    int
	Items     []ItemResult
}

// Engine drives work items through creation-or-update against GitHub,
// strictly sequentially in ascending ID order. Every side-effecting step is
// idempotent so re-running converges instead of duplicating.
type Engine struct {
	Source *ado.Client
	Dest   *github.Client
	Config *Config
	State  *State
	Links  *LinkResolver
	Opts   Options

	// Callbacks for UI feedback (optional)
	OnMessage func(msg string)
	OnWarning func(msg string)
	// OnStep receives one ledger line per side-effecting step.
	OnStep func(itemID int, step string, err error)
	// OnRetry fires before each creation cooldown sleep.
	OnRetry func(itemID int)

	batch       []*ado.WorkItem
	project     *github.ProjectV2
	statusField *github.ProjectField
	boardOK     bool
}

// NewEngine wires an engine from its collaborators.
func NewEngine(source *ado.Client, dest *github.Client, cfg *Config, state *State, opts Options) *Engine {
	e := &Engine{
		Source: source,
		Dest:   dest,
		Config: cfg,
		State:  state,
		Opts:   opts,
	}
	e.Links = &LinkResolver{
		Config:    cfg,
		State:     state,
		Owner:     dest.Owner,
		OnWarning: func(msg string) { e.warn("%s", msg) },
	}
	return e
}

// Run executes the full migration: preflight, reconciliation, then one
// item at a time with a checkpoint save after each.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	if err := e.preflight(ctx); err != nil {
		return result, err
	}

	if err := e.reconcile(ctx); err != nil {
		return result, err
	}

	for _, item := range e.batch {
		itemResult := e.syncItem(ctx, item)
		result.Items = append(result.Items, itemResult)
		result.Processed++
		switch itemResult.Action {
		case "created":
			result.Created++
		case "updated":
			result.Updated++
		case "skipped":
			result.Skipped++
		case "failed":
			result.Failed++
		}
		if !itemResult.Failed() && itemResult.Action != "skipped" {
			result.Migrated++
		}

		if !e.Opts.DryRun {
			if err := e.State.Save(e.Opts.CheckpointPath); err != nil {
				e.warn("checkpoint save failed: %v", err)
			}
		}
	}

	e.log("Migrated %d of %d items (%d created, %d updated, %d skipped, %d failed)",
		result.Migrated, result.Processed, result.Created, result.Updated,
		result.Skipped, result.Failed)
	return result, nil
}

// preflight loads destination repository metadata and resolves the project
// board. Board writes are disabled with a warning when the token lacks the
// project scope or the board cannot be found.
func (e *Engine) preflight(ctx context.Context) error {
	labels, err := e.Dest.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("loading repository labels: %w", err)
	}
	for _, l := range labels {
		e.State.Labels[l.Name] = true
	}

	milestones, err := e.Dest.ListMilestones(ctx)
	if err != nil {
		return fmt.Errorf("loading repository milestones: %w", err)
	}
	for _, m := range milestones {
		e.State.Milestones[m.Title] = m.Number
	}

	if e.Opts.ProjectName == "" {
		return nil
	}

	scopes, err := e.Dest.TokenScopes(ctx)
	if err != nil {
		e.warn("scope check failed, skipping project board: %v", err)
		return nil
	}
	// Classic tokens list scopes; an empty list means a fine-grained token,
	// which cannot be introspected here, so the board is attempted anyway.
	if len(scopes) > 0 && !hasScope(scopes, "project") {
		e.warn("token lacks the 'project' scope; project board updates disabled")
		return nil
	}

	project, err := e.Dest.FindProject(ctx, e.Opts.ProjectName)
	if err != nil {
		e.warn("project lookup failed, skipping board: %v", err)
		return nil
	}
	if project == nil {
		e.warn("project %q not found; board updates disabled", e.Opts.ProjectName)
		return nil
	}
	e.project = project

	field, err := e.Dest.ProjectStatusField(ctx, project.ID)
	if err != nil {
		e.warn("project status field lookup failed: %v", err)
	}
	e.statusField = field
	e.boardOK = true
	return nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// reconcile matches the full source batch against existing destination
// issues by title and merges the hits into the checkpoint. Checkpoint
// entries established earlier always win over title matches.
func (e *Engine) reconcile(ctx context.Context) error {
	existing, err := e.Dest.ListIssues(ctx)
	if err != nil {
		return fmt.Errorf("listing destination issues: %w", err)
	}
	for _, issue := range existing {
		e.State.CacheIssue(issue)
	}

	batch, err := e.fetchBatch(ctx)
	if err != nil {
		return err
	}
	e.batch = batch

	matches := Reconcile(batch, existing, e.Opts.TieBreak, e.Source.WorkItemURL,
		func(msg string) { e.warn("%s", msg) })
	e.State.Merge(matches)

	e.log("Reconciled %d of %d items against %d existing issues",
		len(matches), len(batch), len(existing))
	return nil
}

// fetchBatch enumerates the batch in ascending-ID pages, cursor raised to
// the max ID seen, fetching a fresh snapshot of each work item.
func (e *Engine) fetchBatch(ctx context.Context) ([]*ado.WorkItem, error) {
	var batch []*ado.WorkItem
	cursor := e.Opts.ResumeFromID
	pageSize := e.Opts.PageSize
	if pageSize <= 0 {
		pageSize = ado.DefaultPageSize
	}

	for {
		refs, err := e.Source.QueryWorkItems(ctx, e.Opts.AreaPath, cursor, pageSize, e.Opts.IncludeClosed)
		if err != nil {
			return nil, fmt.Errorf("enumerating work items: %w", err)
		}
		if len(refs) == 0 {
			break
		}
		for _, ref := range refs {
			if ref.ID > cursor {
				cursor = ref.ID
			}
			item, err := e.Source.GetWorkItem(ctx, ref.ID)
			if err != nil {
				e.warn("failed to fetch work item %d: %v", ref.ID, err)
				continue
			}
			if item == nil {
				continue
			}
			batch = append(batch, item)
		}
		if len(refs) < pageSize {
			break
		}
	}
	return batch, nil
}

// syncItem drives one work item through the create-or-update state machine.
func (e *Engine) syncItem(ctx context.Context, item *ado.WorkItem) ItemResult {
	result := ItemResult{ID: item.ID, Title: item.Fields.Title}

	canonical := e.Source.WorkItemURL(item.ID)
	apiForm := e.Source.APIURL(item.ID)

	destURL, mapped := e.State.Lookup(canonical, apiForm, item.URL)
	if mapped && !e.Opts.UpdateExisting {
		e.log("#%d %q already migrated to %s, skipping", item.ID, item.Fields.Title, destURL)
		result.Action = "skipped"
		result.DestURL = destURL
		return result
	}

	relations := e.resolveRelations(ctx, item)

	var issue *github.Issue
	var err error
	if mapped {
		issue, err = e.destinationIssue(ctx, destURL)
		if err != nil {
			e.warn("#%d: cannot load destination issue %s: %v", item.ID, destURL, err)
			result.Action = "failed"
			return result
		}
		result.Action = "updated"
	} else {
		issue, err = e.createIssue(ctx, item, relations)
		if err != nil {
			e.warn("#%d: creation failed: %v", item.ID, err)
			result.Action = "failed"
			return result
		}
		result.Action = "created"
	}
	result.DestURL = issue.HTMLURL

	e.commonTail(ctx, item, issue, relations, &result)
	return result
}

// resolveRelations resolves each relation URL and, for pull-request
// relations on the destination repository, fetches the PR state for
// checklist rendering. Failures degrade to unresolved entries.
func (e *Engine) resolveRelations(ctx context.Context, item *ado.WorkItem) []ResolvedRelation {
	var relations []ResolvedRelation
	for _, rel := range item.Relations {
		resolved := ResolvedRelation{
			Kind: rel.Attributes.Name,
			Raw:  rel.URL,
			URL:  e.Links.Resolve(rel.URL, true),
		}
		if resolved.Kind == "" {
			resolved.Kind = rel.Rel
		}

		if resolved.IsPullRequest() {
			if m := githubRefPattern.FindStringSubmatch(resolved.URL); m != nil && m[3] == "pull" {
				if n := urlNumber(resolved.URL); n > 0 {
					pr, err := e.Dest.GetPullRequest(ctx, n)
					if err != nil {
						e.warn("#%d: failed to fetch PR state for %s: %v", item.ID, resolved.URL, err)
					} else {
						resolved.PR = pr
					}
				}
			}
		}
		relations = append(relations, resolved)
	}
	return relations
}

// createIssue builds the new issue and creates it with the bounded
// cooldown-and-retry policy. On success the mapping is recorded under both
// identity forms and the issue is added to the project board.
func (e *Engine) createIssue(ctx context.Context, item *ado.WorkItem, relations []ResolvedRelation) (*github.Issue, error) {
	title := strings.ReplaceAll(item.Fields.Title, `"`, `\"`)
	body := BuildDescription(item, relations)
	labels := []string{e.Config.TypeLabel(item.Fields.WorkItemType)}

	milestone := 0
	if target := e.milestoneTitle(item); target != "" {
		if number, ok := e.State.Milestones[target]; ok {
			milestone = number
		}
	}

	if e.Opts.DryRun {
		e.log("[DRY RUN] would create issue for #%d %q", item.ID, item.Fields.Title)
		return &github.Issue{Title: title, Body: body, State: "open"}, nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(RateLimitCooldown), CreateAttempts-1),
		ctx)

	issue, err := backoff.RetryWithData(func() (*github.Issue, error) {
		issue, err := e.Dest.CreateIssue(ctx, title, body, labels, milestone)
		if err != nil {
			if !e.Opts.RateLimitRetry {
				return nil, backoff.Permanent(err)
			}
			if e.OnRetry != nil {
				e.OnRetry(item.ID)
			}
			e.warn("creation of #%d failed (%v), sleeping %s before retry", item.ID, err, RateLimitCooldown)
			return nil, err
		}
		return issue, nil
	}, policy)
	if err != nil {
		return nil, err
	}

	e.State.Insert(e.Source.WorkItemURL(item.ID), issue.HTMLURL)
	e.State.Insert(e.Source.APIURL(item.ID), issue.HTMLURL)
	e.State.CacheIssue(issue)

	e.addToBoard(ctx, item, issue)
	return issue, nil
}

// addToBoard puts a freshly created issue on the project board and moves it
// into the column mapped from the work-item state, when one is configured.
func (e *Engine) addToBoard(ctx context.Context, item *ado.WorkItem, issue *github.Issue) {
	if !e.boardOK {
		return
	}

	itemID, err := e.Dest.AddProjectItem(ctx, e.project.ID, issue.NodeID)
	e.step(item.ID, "board add", err)
	if err != nil {
		return
	}

	column, ok := e.Config.Columns[item.Fields.State]
	if !ok || e.statusField == nil {
		return
	}
	err = e.Dest.SetProjectItemStatus(ctx, e.project.ID, itemID, e.statusField, column)
	e.step(item.ID, "board column", err)
}

// destinationIssue returns the cached snapshot for destURL or re-fetches it.
func (e *Engine) destinationIssue(ctx context.Context, destURL string) (*github.Issue, error) {
	if issue, ok := e.State.Issues[destURL]; ok {
		return issue, nil
	}
	number := urlNumber(destURL)
	if number == 0 {
		return nil, fmt.Errorf("cannot determine issue number from %s", destURL)
	}
	issue, err := e.Dest.GetIssue(ctx, number)
	if err != nil {
		return nil, err
	}
	e.State.CacheIssue(issue)
	return issue, nil
}

// commonTail applies the idempotent per-item steps shared by the create and
// update paths. Each step fails independently; a failure is recorded in the
// ledger and the remaining steps still run.
func (e *Engine) commonTail(ctx context.Context, item *ado.WorkItem, issue *github.Issue, relations []ResolvedRelation, result *ItemResult) {
	record := func(name string, err error) {
		result.Steps = append(result.Steps, StepResult{Name: name, Err: err})
		e.step(item.ID, name, err)
	}

	if e.Opts.UpdateAssignees && item.Fields.AssignedTo != nil {
		record("assignee", e.ensureAssignee(ctx, item, issue))
	}

	record("milestone", e.ensureMilestone(ctx, item, issue))
	record("labels", e.ensureLabels(ctx, item, issue))
	record("comment", e.upsertMigrationComment(ctx, item, issue, relations))

	if !e.Opts.DryRun {
		if err := e.State.Save(e.Opts.CheckpointPath); err != nil {
			record("checkpoint", err)
		}
	}

	if item.IsClosed() && issue.State != "closed" {
		record("close", e.closeIssue(ctx, item, issue))
	}

	if e.Opts.Production && !e.Opts.DryRun {
		record("writeback", e.writeBack(ctx, item, issue))
	}
}

// ensureAssignee assigns the mapped login unless the issue is already
// assigned.
func (e *Engine) ensureAssignee(ctx context.Context, item *ado.WorkItem, issue *github.Issue) error {
	if issue.Assignee != nil || len(issue.Assignees) > 0 {
		return nil
	}
	login := e.Config.UserLogin(item.Fields.AssignedTo.UniqueName, e.Opts.AssigneeSuffix)
	if login == "" {
		return nil
	}
	if e.Opts.DryRun {
		return nil
	}
	if err := e.Dest.AddAssignees(ctx, issue.Number, []string{login}); err != nil {
		return fmt.Errorf("assigning %s: %w", login, err)
	}
	issue.Assignee = &github.User{Login: login}
	return nil
}

// ensureMilestone sets the target milestone unless it is already set or
// does not exist on the repository. Milestones are never auto-created here.
func (e *Engine) ensureMilestone(ctx context.Context, item *ado.WorkItem, issue *github.Issue) error {
	target := e.milestoneTitle(item)
	if target == "" {
		return nil
	}
	number, ok := e.State.Milestones[target]
	if !ok {
		return nil
	}
	if issue.Milestone != nil && issue.Milestone.Title == target {
		return nil
	}
	if e.Opts.DryRun {
		return nil
	}
	updated, err := e.Dest.UpdateIssue(ctx, issue.Number, map[string]interface{}{"milestone": number})
	if err != nil {
		return fmt.Errorf("setting milestone %q: %w", target, err)
	}
	issue.Milestone = updated.Milestone
	return nil
}

// milestoneTitle derives the milestone title from the iteration path's last
// segment, with the configured prefix.
func (e *Engine) milestoneTitle(item *ado.WorkItem) string {
	path := item.Fields.IterationPath
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "\\")
	name := segments[len(segments)-1]
	if name == "" || name == e.Source.Project {
		return ""
	}
	return e.Opts.MilestonePrefix + name
}

// ensureLabels adds the static, tag-mapped, and type-mapped labels the
// issue is missing. Labels absent from the repository are skipped silently;
// labels are never auto-created here.
func (e *Engine) ensureLabels(ctx context.Context, item *ado.WorkItem, issue *github.Issue) error {
	var wanted []string
	wanted = append(wanted, e.Opts.StaticLabels...)
	for _, tag := range item.TagList() {
		if label, ok := e.Config.Tags[tag]; ok {
			wanted = append(wanted, label)
		}
	}
	wanted = append(wanted, e.Config.TypeLabel(item.Fields.WorkItemType))
	if label, ok := e.Config.States[item.Fields.State]; ok {
		wanted = append(wanted, label)
	}

	var missing []string
	seen := make(map[string]bool)
	for _, label := range wanted {
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		if !e.State.Labels[label] {
			continue // label does not exist on the repo
		}
		if issue.HasLabel(label) {
			continue
		}
		missing = append(missing, label)
	}
	if len(missing) == 0 || e.Opts.DryRun {
		return nil
	}

	sort.Strings(missing)
	if err := e.Dest.AddLabels(ctx, issue.Number, missing); err != nil {
		return fmt.Errorf("adding labels %v: %w", missing, err)
	}
	for _, label := range missing {
		issue.Labels = append(issue.Labels, github.Label{Name: label})
	}
	return nil
}

// upsertMigrationComment maintains exactly one marker-identified migration
// comment: created when absent, edited in place when stale, untouched when
// identical. With several candidates the most recent one is edited; a
// second is never appended.
func (e *Engine) upsertMigrationComment(ctx context.Context, item *ado.WorkItem, issue *github.Issue, relations []ResolvedRelation) error {
	canonical := e.Source.WorkItemURL(item.ID)
	header := BuildCommentHeader(item, canonical, relations, item.TagList())
	relationsTable := BuildRelationsTable(relations, e.batch, e.State, e.Source.WorkItemURL, RelationTableOptions{
		Mention: e.Opts.MentionWorkItems,
	})
	metadataTable := BuildMetadataTable(item)

	discussion := ""
	if e.Opts.ImportComments {
		comments, err := e.Source.GetComments(ctx, item.ID)
		if err != nil {
			e.warn("#%d: failed to fetch discussion comments: %v", item.ID, err)
		} else {
			discussion = BuildDiscussion(comments)
		}
	}

	body := BuildCommentBody(header, relationsTable, metadataTable, discussion, item.Raw)

	if e.Opts.DryRun {
		return nil
	}

	comments, err := e.Dest.ListComments(ctx, issue.Number)
	if err != nil {
		return fmt.Errorf("listing comments: %w", err)
	}

	var candidates []github.IssueComment
	for _, c := range comments {
		if strings.Contains(c.Body, MigrationMarker) {
			candidates = append(candidates, c)
		}
	}

	switch len(candidates) {
	case 0:
		if _, err := e.Dest.CreateComment(ctx, issue.Number, body); err != nil {
			return fmt.Errorf("creating migration comment: %w", err)
		}
	case 1:
		if candidates[0].Body == body {
			return nil // identical, no write
		}
		if _, err := e.Dest.UpdateComment(ctx, candidates[0].ID, body); err != nil {
			return fmt.Errorf("updating migration comment: %w", err)
		}
	default:
		// Ambiguity: edit the most recent candidate rather than append.
		latest := candidates[len(candidates)-1]
		if _, err := e.Dest.UpdateComment(ctx, latest.ID, body); err != nil {
			return fmt.Errorf("updating migration comment: %w", err)
		}
	}
	return nil
}

// closeIssue closes the destination issue with the standard comment and
// applies the archive label when configured, present on the repository,
// and not already on the issue.
func (e *Engine) closeIssue(ctx context.Context, item *ado.WorkItem, issue *github.Issue) error {
	if e.Opts.DryRun {
		return nil
	}

	closed, err := e.Dest.CloseIssue(ctx, issue.Number, "completed", closureComment)
	if err != nil {
		return fmt.Errorf("closing issue #%d: %w", issue.Number, err)
	}
	issue.State = closed.State

	label := e.Opts.ArchiveLabel
	if label == "" || !e.State.Labels[label] || issue.HasLabel(label) {
		return nil
	}
	if err := e.Dest.AddLabels(ctx, issue.Number, []string{label}); err != nil {
		return fmt.Errorf("adding archive label: %w", err)
	}
	issue.Labels = append(issue.Labels, github.Label{Name: label})
	return nil
}

// writeBack appends the completion tag and an audit note to the work item.
// One-way and append-only; only production runs reach here.
func (e *Engine) writeBack(ctx context.Context, item *ado.WorkItem, issue *github.Issue) error {
	if !strings.Contains(item.Fields.Tags, CompletionTag) {
		if err := e.Source.AppendTag(ctx, item.ID, item.Fields.Tags, CompletionTag); err != nil {
			return fmt.Errorf("appending completion tag: %w", err)
		}
	}
	note := fmt.Sprintf("This work item was migrated to %s.", issue.HTMLURL)
	if err := e.Source.AddComment(ctx, item.ID, note); err != nil {
		return fmt.Errorf("adding audit note: %w", err)
	}
	return nil
}

func (e *Engine) log(format string, args ...interface{}) {
	if e.OnMessage != nil {
		prefix := ""
		if e.Opts.DryRun {
			prefix = "[DRY RUN] "
		}
		e.OnMessage(prefix + fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) step(itemID int, name string, err error) {
	if e.OnStep != nil {
		e.OnStep(itemID, name, err)
	}
}
