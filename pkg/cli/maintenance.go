package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mustardtree/portal/pkg/audit"
	"github.com/mustardtree/portal/pkg/auth"
	"github.com/mustardtree/portal/pkg/config"
	"github.com/mustardtree/portal/pkg/maintenance"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
)

func newRunMaintenanceCommand() *Command {
	return &Command{
		Name:        "run-maintenance",
		Description: "Run session cleanup and access log pruning once against the configured storage",
		Flags:       flag.NewFlagSet("run-maintenance", flag.ExitOnError),
		Run:         runMaintenance,
	}
}

func runMaintenance(args []string) error {
	flags := flag.NewFlagSet("run-maintenance", flag.ContinueOnError)
	timeout := flags.Duration("timeout", 2*time.Minute, "Overall timeout")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	kv, err := storage.Open(ctx, cfg.Storage, observability.NewLogger(cfg.Observability.LogLevel, os.Stderr), nil)
	if err != nil {
		return err
	}
	defer kv.Close()

	return runMaintenanceOnce(ctx, kv, cfg)
}

// runMaintenanceOnce runs the jobs that operate on shared storage. Rate
// limit windows and webhook deliveries live in the server process and are
// left to its scheduler.
func runMaintenanceOnce(ctx context.Context, kv storage.KV, cfg *config.Config) error {
	scheduler, err := maintenance.New(cfg.Maintenance, maintenance.Targets{
		Sessions:  auth.NewSessionManager(kv, cfg.Auth.SessionTTL),
		AccessLog: audit.NewAccessLog(kv, cfg.Documents.AccessLogRetention),
	}, log, nil)
	if err != nil {
		return err
	}

	jobs := scheduler.Jobs()
	if len(jobs) == 0 {
		log.Warn("No maintenance jobs are scheduled, nothing to run")
		return nil
	}
	if err := scheduler.RunAll(ctx); err != nil {
		return fmt.Errorf("maintenance failed: %w", err)
	}
	fmt.Fprintf(stdout, "ran %d jobs: %v\n", len(jobs), jobs)
	return nil
}
