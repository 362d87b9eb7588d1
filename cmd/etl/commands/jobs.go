package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/etl/jobs"
	"github.com/linuxautomates/gitsei-sub052/etl/schedule"
	"github.com/linuxautomates/gitsei-sub052/internal/httpclient"
	"github.com/linuxautomates/gitsei-sub052/logger"
)

// JobsCmd inspects job instances
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect due and running job instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobsDueCmd = &cobra.Command{
	Use:   "due",
	Short: "Show the due list in run order",
	Long: `Show claimable instances of active definitions in the order workers
take them: priority ascending, then scheduled start time.

With --server the list comes from a running server's cache; --refresh
asks it to recompute first. Without --server it is computed from the
database directly.`,
	RunE: runJobsDue,
}

var jobsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List job instances",
	RunE:  runJobsList,
}

var (
	jobsRefresh bool
	jobsServer  string
	jobsStatus  []string
	jobsLimit   int
)

func init() {
	JobsCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")

	jobsDueCmd.Flags().BoolVar(&jobsRefresh, "refresh", false, "Bypass the server's cached due list")
	jobsDueCmd.Flags().StringVar(&jobsServer, "server", "", "Read from a running server, e.g. http://localhost:8780")

	jobsListCmd.Flags().StringSliceVar(&jobsStatus, "status", nil, "Only these statuses (e.g. --status ACCEPTED,PENDING)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum instances to show")

	JobsCmd.AddCommand(jobsDueCmd)
	JobsCmd.AddCommand(jobsListCmd)
}

func runJobsDue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var (
		due []jobs.JobContext
		err error
	)
	if jobsServer != "" {
		var client *httpclient.Client
		client, err = httpclient.New(jobsServer, httpclient.DefaultTimeout)
		if err != nil {
			return err
		}
		due, err = client.JobsToRun(ctx, jobsRefresh)
	} else {
		database, openErr := openDatabase(dbPath)
		if openErr != nil {
			return openErr
		}
		defer database.Close()
		due, err = schedule.ComputeDueJobs(ctx, jobs.NewSQLStore(database), time.Now(), logger.Logger)
	}
	if err != nil {
		return errors.Wrap(err, "failed to load due jobs")
	}

	if len(due) == 0 {
		pterm.Info.Println("No jobs due")
		return nil
	}

	data := pterm.TableData{{"#", "Instance", "Definition", "Tenant", "Integration", "Processor", "Priority", "Scheduled", "Status"}}
	for i, jc := range due {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			jc.InstanceID,
			jc.DefinitionID,
			jc.TenantID,
			jc.IntegrationType + "/" + jc.IntegrationID,
			jc.ProcessorName,
			strconv.Itoa(jc.Priority),
			jc.ScheduledStartTime.Local().Format(time.DateTime),
			string(jc.Status),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return errors.Wrap(err, "failed to render due jobs")
	}
	fmt.Printf("%d job(s) due\n", len(due))
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	filter := jobs.InstanceFilter{ExcludePayload: true, Limit: jobsLimit}
	for _, s := range jobsStatus {
		status := jobs.Status(s)
		if !status.IsValid() {
			return errors.NewInvalidRequestError("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	instances, err := jobs.NewSQLStore(database).FilterInstances(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		pterm.Info.Println("No job instances")
		return nil
	}

	data := pterm.TableData{{"Instance", "Definition", "Status", "Worker", "Priority", "Scheduled", "Error"}}
	for _, inst := range instances {
		worker := inst.WorkerID
		if worker == "" {
			worker = "-"
		}
		data = append(data, []string{
			inst.ID,
			inst.DefinitionID,
			string(inst.Status),
			worker,
			strconv.Itoa(inst.Priority),
			inst.ScheduledStartTime.Local().Format(time.DateTime),
			truncate(inst.Error, 60),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
