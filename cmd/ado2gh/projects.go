package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codemill/ado2gh/internal/ado"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List available Azure DevOps projects",
	Long: `List all projects accessible with the configured PAT.

Use this as a connectivity check and to find the project name needed for
--ado-project.

Example:
  ado2gh projects --ado-org myorg`,
	RunE: runProjects,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}

func runProjects(cmd *cobra.Command, args []string) error {
	org := stringFlag(cmd, "ado-org")
	pat := stringFlag(cmd, "ado-pat")
	if org == "" || pat == "" {
		return fmt.Errorf("missing required configuration: [--ado-org --ado-pat]")
	}

	client := ado.NewClient(org, "", pat)
	projects, err := client.ListProjects(cmd.Context())
	if err != nil {
		return err
	}

	for _, p := range projects {
		fmt.Printf("%s\t%s\n", p.Name, p.Description)
	}
	fmt.Printf("%d projects\n", len(projects))
	return nil
}
