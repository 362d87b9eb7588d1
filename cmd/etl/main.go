package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/cmd/etl/commands"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "ETL - job scheduling and resumable ingestion",
	Long: `ETL - job scheduling and resumable ingestion core.

Job definitions are provisioned into instances on a schedule. Workers claim
due instances, run the processor registered for the job kind and store the
ingested pages. Interrupted ingestion resumes from its checkpoint.

Available commands:
  am          - Show and validate configuration
  db          - Manage the job database
  definitions - Create and list job definitions
  jobs        - Inspect due job instances
  server      - Serve the job coordination API
  worker      - Run a worker pool

Examples:
  etl server                 # Serve jobs_to_run/claim_job/unclaim_job
  etl worker start -w 4      # Run four workers against the database
  etl jobs due --refresh     # Show the due list, bypassing the cache`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.DefinitionsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
