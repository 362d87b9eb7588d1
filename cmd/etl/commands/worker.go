package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/am"
	"github.com/linuxautomates/gitsei-sub052/errors"
)

// WorkerCmd groups worker pool commands
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a pool of job workers",
	Long: `Workers take the due list in order, claim the first instance they can,
run the processor registered for its job kind and record the outcome.
Several worker processes can share one database; each instance is run by
exactly one of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start workers in the foreground",
	RunE:  runWorkerStart,
}

var workerCount int

func init() {
	workerStartCmd.Flags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")
	workerStartCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "Concurrent workers (overrides config)")
	WorkerCmd.AddCommand(workerStartCmd)
}

func runWorkerStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	workers := cfg.Worker.Workers
	if workerCount > 0 {
		workers = workerCount
	}
	if workers == 0 {
		return errors.NewInvalidRequestError("no workers configured (set worker.workers or --workers)")
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	c := newCore(database, cfg)
	pool := c.newPool(cfg, workers)
	pool.Start()

	pterm.Info.Printf("Worker %s started\n", pool.WorkerID())
	pterm.Printf("  Workers: %d\n", pool.Workers())
	pterm.Printf("  Poll interval: %v\n", cfg.Worker.PollInterval())
	pterm.Printf("  Processors: %v\n", pool.Registry().Names())
	pterm.Printf("  Storage: %s\n", cfg.Storage.Root)
	pterm.Println("\nPress Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("\nStopping workers, running jobs are returned to the due list...")
	pool.Stop()

	m := pool.SystemMetrics()
	pterm.Success.Printf("Workers stopped (processed %d, failed %d)\n", m.JobsProcessed, m.JobsFailed)
	return nil
}
