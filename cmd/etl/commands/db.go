package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// DbCmd groups database maintenance commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show definition and instance counts",
	RunE:  runDbStats,
}

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	var version string
	if err := database.QueryRowContext(cmd.Context(),
		"SELECT COALESCE(MAX(version), '') FROM schema_migrations").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	fmt.Printf("✓ Database is at schema version %s\n", version)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	var definitions, active int
	if err := database.QueryRowContext(cmd.Context(),
		"SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM job_definitions").Scan(&definitions, &active); err != nil {
		return errors.Wrap(err, "failed to count job definitions")
	}
	fmt.Printf("Definitions: %d (%d active)\n", definitions, active)

	rows, err := database.QueryContext(cmd.Context(),
		"SELECT status, COUNT(*) FROM job_instances GROUP BY status ORDER BY status")
	if err != nil {
		return errors.Wrap(err, "failed to count job instances")
	}
	defer rows.Close()

	fmt.Println("Instances:")
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return errors.Wrap(err, "failed to scan instance count")
		}
		fmt.Printf("  %-16s %d\n", status, n)
	}
	return rows.Err()
}
