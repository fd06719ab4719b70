// Command ado2gh migrates Azure DevOps work items to GitHub issues.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codemill/ado2gh/internal/telemetry"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ado2gh",
	Short: "Migrate Azure DevOps work items to GitHub issues",
	Long: `ado2gh migrates work items from an Azure DevOps project to GitHub
issues, preserving content, relations, and workflow state.

Runs are resumable and idempotent: a checkpoint file maps each work item
to its issue, so re-running never creates duplicates and leaves
already-correct issues untouched.

Credentials (flags take precedence over environment):
  AZURE_DEVOPS_PAT   Azure DevOps Personal Access Token
  GITHUB_TOKEN       GitHub token (repo scope; project scope for boards)

Examples:
  ado2gh migrate --ado-org myorg --ado-project Tailspin \
      --area-path 'Tailspin\Web' --github-org contoso --github-repo web \
      --checkpoint state.json --config mappings.json
  ado2gh migrate ... --dry-run         # preview without writes
  ado2gh milestones ...                # create milestones from iterations
  ado2gh projects --ado-org myorg      # connectivity check`,
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().String("ado-org", "", "Azure DevOps organization name or URL")
	rootCmd.PersistentFlags().String("ado-project", "", "Azure DevOps project name")
	rootCmd.PersistentFlags().String("ado-pat", "", "Azure DevOps Personal Access Token")
	rootCmd.PersistentFlags().String("github-org", "", "GitHub repository owner (user or org)")
	rootCmd.PersistentFlags().String("github-repo", "", "GitHub repository name")
	rootCmd.PersistentFlags().String("github-token", "", "GitHub access token")
}

// initEnv loads a .env file when present and binds credential env vars.
func initEnv() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("ADO2GH")
	viper.AutomaticEnv()
	_ = viper.BindEnv("ado-pat", "AZURE_DEVOPS_PAT")
	_ = viper.BindEnv("ado-org", "AZURE_DEVOPS_ORGANIZATION")
	_ = viper.BindEnv("ado-project", "AZURE_DEVOPS_PROJECT")
	_ = viper.BindEnv("github-token", "GITHUB_TOKEN")
}

// stringFlag resolves a flag with viper env fallback.
func stringFlag(cmd *cobra.Command, name string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return viper.GetString(name)
}

func main() {
	ctx := context.Background()
	if err := telemetry.Init(ctx, "ado2gh", Version); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry init failed: %v\n", err)
	}
	defer telemetry.Shutdown(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
