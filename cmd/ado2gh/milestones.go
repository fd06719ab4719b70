package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codemill/ado2gh/internal/ui"
)

var milestonesCmd = &cobra.Command{
	Use:   "milestones",
	Short: "Create GitHub milestones from Azure DevOps iterations",
	Long: `Create one GitHub milestone per Azure DevOps iteration, using the
iteration finish date as the due date. Existing milestones are left
untouched, so the command is safe to re-run.

The migrate command never creates milestones itself; run this first when
iteration-based milestones are wanted.

Example:
  ado2gh milestones --milestone-prefix "Sprint "`,
	RunE: runMilestones,
}

func init() {
	milestonesCmd.Flags().String("milestone-prefix", "", "Prefix for created milestone titles")
	rootCmd.AddCommand(milestonesCmd)
}

func runMilestones(cmd *cobra.Command, args []string) error {
	source, dest, err := buildClients(cmd)
	if err != nil {
		return err
	}
	prefix, _ := cmd.Flags().GetString("milestone-prefix")
	ctx := cmd.Context()

	iterations, err := source.ListIterations(ctx)
	if err != nil {
		return err
	}

	existing, err := dest.ListMilestones(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, m := range existing {
		have[m.Title] = true
	}

	created := 0
	for _, iter := range iterations {
		title := prefix + iter.Name
		if have[title] {
			continue
		}
		if _, err := dest.CreateMilestone(ctx, title, iter.Attributes.FinishDate); err != nil {
			fmt.Fprintln(os.Stderr, ui.Warning(fmt.Sprintf("milestone %q: %v", title, err)))
			continue
		}
		fmt.Println(ui.Success("created milestone " + title))
		created++
	}

	fmt.Printf("%d of %d iterations created as milestones\n", created, len(iterations))
	return nil
}
