package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/linuxautomates/gitsei-sub052/am"
	"github.com/linuxautomates/gitsei-sub052/errors"
	"github.com/linuxautomates/gitsei-sub052/logger"
	"github.com/linuxautomates/gitsei-sub052/server"
)

// ServerCmd serves the job coordination API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Serve the job coordination API",
	Long: `Serve jobs_to_run, claim_job and unclaim_job over HTTP, stream job
events on /ws/jobs and provision definitions on the scheduler interval.

Editing the project am.toml while the server runs applies a new
scheduler.cache_ttl_seconds without restart.`,
	RunE: runServer,
}

var (
	serverPort    int
	serverWorkers int
)

func init() {
	ServerCmd.Flags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Listen port (overrides config)")
	ServerCmd.Flags().IntVar(&serverWorkers, "workers", 0, "Also run this many in-process workers")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	c := newCore(database, cfg)

	port := cfg.Server.ServerPort()
	if serverPort > 0 {
		port = serverPort
	}
	srv := server.NewServer(c.coord, c.cache, server.Config{
		Port:           port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger.Logger)

	ticker := c.newTicker(cfg)
	if ticker != nil {
		srv.SetTicker(ticker)
		ticker.Start()
	}

	var stopPool func()
	if serverWorkers > 0 {
		pool := c.newPool(cfg, serverWorkers)
		srv.SetMetricsSource(pool.SystemMetrics)
		pool.Start()
		stopPool = pool.Stop
	}

	if path := am.FindProjectConfig(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config hot reload disabled", "path", path, "error", err)
		} else {
			watcher.OnReload(func(newCfg *am.Config) error {
				c.cache.SetTTL(newCfg.Scheduler.CacheTTL())
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	pterm.Info.Printf("Serving on :%d (workers: %d)\n", port, serverWorkers)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdown := func() error {
		if ticker != nil {
			ticker.Stop()
		}
		if stopPool != nil {
			stopPool()
		}
		return srv.Stop()
	}

	select {
	case err := <-errChan:
		_ = shutdown()
		return errors.Wrap(err, "server stopped unexpectedly")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		done := make(chan error, 1)
		go func() {
			done <- shutdown()
		}()

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
