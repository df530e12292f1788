package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/icsrisk/internal/daemon"
	"github.com/ppiankov/icsrisk/internal/metrics"
)

var (
	daemonPoll         bool
	daemonPollInterval time.Duration
	daemonWorkers      int
	daemonMetrics      string
	daemonNoRecord     bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().BoolVar(&daemonPoll, "poll", false, "Poll the inbox instead of using file notifications")
	daemonCmd.Flags().DurationVar(&daemonPollInterval, "poll-interval", 5*time.Second, "Inbox polling interval with --poll")
	daemonCmd.Flags().IntVar(&daemonWorkers, "workers", 0, "Concurrent jobs (default engine.workers)")
	daemonCmd.Flags().StringVar(&daemonMetrics, "metrics-addr", "", "Prometheus listen address (off when empty)")
	daemonCmd.Flags().BoolVar(&daemonNoRecord, "no-record", false, "Skip the audit ledger and history database")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Process assessment jobs dropped into the inbox directory",
	Long: "Watches daemon.inbox for *.json job files, runs each assess or batch\n" +
		"job and writes the result to daemon.outbox. Files that cannot be\n" +
		"parsed or validated are moved to <state>/failed.",
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	deps, err := openRuntime(cmd.Context(), !daemonNoRecord)
	if err != nil {
		return err
	}
	defer deps.Close()

	workers := cfg.Engine.Workers
	if daemonWorkers > 0 {
		workers = daemonWorkers
	}

	var reg *metrics.Registry
	if daemonMetrics != "" {
		reg = metrics.NewRegistry()
	}

	d, err := daemon.New(daemon.Config{
		Dirs: daemon.DirConfig{
			Inbox:  cfg.Daemon.Inbox,
			Outbox: cfg.Daemon.Outbox,
			State:  cfg.Daemon.State,
		},
		Workers:      workers,
		PollMode:     daemonPoll,
		PollInterval: daemonPollInterval,
		Logger:       logger,
		Metrics:      reg,
	}, deps.runner)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if reg != nil {
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", daemonMetrics))
			return reg.Serve(ctx, daemonMetrics)
		})
	}
	g.Go(func() error { return d.Run(ctx) })
	return g.Wait()
}
