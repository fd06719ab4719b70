package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/codemill/ado2gh/internal/ado"
	"github.com/codemill/ado2gh/internal/github"
	"github.com/codemill/ado2gh/internal/migrate"
	"github.com/codemill/ado2gh/internal/telemetry"
	"github.com/codemill/ado2gh/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run a migration batch",
	Long: `Migrate work items under an area path to GitHub issues.

Items are processed one at a time in ascending ID order. The checkpoint is
written after every item, so an interrupted run resumes where it stopped.
Individual item failures are reported and skipped; the batch continues.

Modes:
  --dry-run       full pass without destination writes
  --production    also tag the work item and post an audit note back

Examples:
  ado2gh migrate --area-path 'Tailspin\Web' --checkpoint state.json
  ado2gh migrate --area-path 'Tailspin\Web' --include-closed --production
  ado2gh migrate --area-path 'Tailspin\Web' --resume-from 1200`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("area-path", "", "Area path to migrate (required)")
	migrateCmd.Flags().Bool("include-closed", false, "Also migrate closed-state work items")
	migrateCmd.Flags().Bool("production", false, "Tag migrated work items and post an audit note back")
	migrateCmd.Flags().Bool("update-existing", true, "Revisit items that already have an issue")
	migrateCmd.Flags().Bool("update-assignees", false, "Assign issues from the work item assignee")
	migrateCmd.Flags().String("assignee-suffix", "", "Suffix appended to logins derived from email local parts")
	migrateCmd.Flags().Bool("import-comments", false, "Import work item discussion into the migration comment")
	migrateCmd.Flags().Bool("mention-work-items", false, "Render live destination cross-links (irreversible)")
	migrateCmd.Flags().Bool("rate-limit-retry", true, "Sleep and retry issue creation on failure")
	migrateCmd.Flags().Bool("dry-run", false, "Preview the run without destination writes")
	migrateCmd.Flags().String("project", "", "Projects v2 board title to add created issues to")
	migrateCmd.Flags().StringSlice("labels", nil, "Static labels added to every issue")
	migrateCmd.Flags().String("archive-label", "", "Label applied when closing migrated issues")
	migrateCmd.Flags().String("milestone-prefix", "", "Prefix for milestone titles derived from iterations")
	migrateCmd.Flags().String("checkpoint", "", "Checkpoint file path (enables resumable runs)")
	migrateCmd.Flags().String("config", "", "Mapping config file (JSON or YAML)")
	migrateCmd.Flags().Int("resume-from", 0, "Skip work items with IDs at or below this value")
	migrateCmd.Flags().String("tie-break", "first", "Duplicate title tie-break: first or last")

	_ = migrateCmd.MarkFlagRequired("area-path")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	source, dest, err := buildClients(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, warnings, err := migrate.LoadConfig(configPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, ui.Warning(w))
	}

	checkpointPath, _ := cmd.Flags().GetString("checkpoint")
	state, warnings, err := migrate.LoadState(checkpointPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, ui.Warning(w))
	}

	opts := migrate.Options{CheckpointPath: checkpointPath}
	opts.AreaPath, _ = cmd.Flags().GetString("area-path")
	opts.IncludeClosed, _ = cmd.Flags().GetBool("include-closed")
	opts.Production, _ = cmd.Flags().GetBool("production")
	opts.UpdateExisting, _ = cmd.Flags().GetBool("update-existing")
	opts.UpdateAssignees, _ = cmd.Flags().GetBool("update-assignees")
	opts.AssigneeSuffix, _ = cmd.Flags().GetString("assignee-suffix")
	opts.ImportComments, _ = cmd.Flags().GetBool("import-comments")
	opts.MentionWorkItems, _ = cmd.Flags().GetBool("mention-work-items")
	opts.RateLimitRetry, _ = cmd.Flags().GetBool("rate-limit-retry")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.ProjectName, _ = cmd.Flags().GetString("project")
	opts.StaticLabels, _ = cmd.Flags().GetStringSlice("labels")
	opts.ArchiveLabel, _ = cmd.Flags().GetString("archive-label")
	opts.MilestonePrefix, _ = cmd.Flags().GetString("milestone-prefix")
	opts.ResumeFromID, _ = cmd.Flags().GetInt("resume-from")

	tieBreak, _ := cmd.Flags().GetString("tie-break")
	switch tieBreak {
	case "first", "":
		opts.TieBreak = migrate.TieBreakFirst
	case "last":
		opts.TieBreak = migrate.TieBreakLast
	default:
		return fmt.Errorf("invalid --tie-break %q (want first or last)", tieBreak)
	}

	counters, err := telemetry.NewRunCounters()
	if err != nil {
		return fmt.Errorf("telemetry counters: %w", err)
	}

	engine := migrate.NewEngine(source, dest, cfg, state, opts)
	engine.OnMessage = func(msg string) { fmt.Println(msg) }
	engine.OnWarning = func(msg string) { fmt.Fprintln(os.Stderr, ui.Warning(msg)) }
	engine.OnStep = func(itemID int, step string, err error) {
		if err != nil {
			fmt.Println(ui.Failure(fmt.Sprintf("#%d %-10s FAILED: %v", itemID, step, err)))
			counters.StepsFailed.Add(cmd.Context(), 1)
			return
		}
		fmt.Println(ui.Success(fmt.Sprintf("#%d %-10s SUCCESS", itemID, step)))
	}
	engine.OnRetry = func(itemID int) {
		counters.RateLimitSleeps.Add(cmd.Context(), 1)
	}

	result, err := engine.Run(cmd.Context())
	if err != nil {
		return err
	}

	counters.ItemsMigrated.Add(cmd.Context(), int64(result.Migrated))
	counters.ItemsFailed.Add(cmd.Context(), int64(result.Failed))

	fmt.Printf("\n%d of %d items fully migrated\n", result.Migrated, result.Processed)
	// Per-item failures are reported in the ledger; only a batch-level
	// failure changes the exit code.
	return nil
}

// buildClients validates credentials and constructs both platform clients.
func buildClients(cmd *cobra.Command) (*ado.Client, *github.Client, error) {
	adoOrg := stringFlag(cmd, "ado-org")
	adoProject := stringFlag(cmd, "ado-project")
	adoPAT := stringFlag(cmd, "ado-pat")
	ghOrg := stringFlag(cmd, "github-org")
	ghRepo := stringFlag(cmd, "github-repo")
	ghToken := stringFlag(cmd, "github-token")

	var missing []string
	for name, v := range map[string]string{
		"--ado-org":      adoOrg,
		"--ado-project":  adoProject,
		"--ado-pat":      adoPAT,
		"--github-org":   ghOrg,
		"--github-repo":  ghRepo,
		"--github-token": ghToken,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, nil, fmt.Errorf("missing required configuration: %v", missing)
	}

	return ado.NewClient(adoOrg, adoProject, adoPAT), github.NewClient(ghToken, ghOrg, ghRepo), nil
}
