package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/icsrisk/internal/alert"
	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/metrics"
	"github.com/ppiankov/icsrisk/internal/server"
	"github.com/ppiankov/icsrisk/internal/store"
)

var (
	servePort     int
	serveMetrics  string
	serveNoRecord bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default server.port)")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics-addr", "", "Prometheus listen address (default server.metrics_addr, \"off\" disables)")
	serveCmd.Flags().BoolVar(&serveNoRecord, "no-record", false, "Serve without the audit ledger and history database")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC assessment server",
	Long: "Runs icsrisk as a shared assessment service over gRPC. Clients call\n" +
		"Simulate, Progression, Score, Assess and the history RPCs.\n" +
		"A catalogue given by catalogue.path is hot-reloaded on change.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	metricsAddr := cfg.Server.MetricsAddr
	if serveMetrics != "" {
		metricsAddr = serveMetrics
	}

	reg := metrics.NewRegistry()
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(reg),
		server.WithRateLimits(cfg.Server.RateLimits),
	}
	if alerts := alert.NewDispatcher(cfg.Alerts, logger); alerts != nil {
		defer alerts.Wait()
		opts = append(opts, server.WithNotifier(alerts))
	}

	if !serveNoRecord {
		if cfg.Audit.Path != "" {
			ledger, err := audit.Open(cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("failed to open audit ledger: %w", err)
			}
			defer ledger.Close()
			opts = append(opts, server.WithLedger(ledger))
		}
		if cfg.Store.Path != "" {
			repo, err := store.OpenSQLite(cmd.Context(), cfg.Store.Path, logger)
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer repo.Close()
			opts = append(opts, server.WithRepository(repo))
		}
	}

	srv, err := server.New(server.Config{
		Port:          port,
		CataloguePath: cfg.Catalogue.Path,
		Engine:        cfg.Engine,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Catalogue.Path != "" {
		reloader, err := server.NewReloader(srv, cfg.Catalogue.Path, logger)
		if err != nil {
			logger.Warn("hot-reload disabled", zap.Error(err))
		} else {
			g.Go(func() error { return reloader.Run(ctx) })
		}
	}

	if metricsAddr != "" && metricsAddr != "off" {
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", metricsAddr))
			return reg.Serve(ctx, metricsAddr)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down assessment server")
		srv.GracefulStop()
		return nil
	})

	g.Go(srv.Serve)

	fmt.Fprintf(os.Stderr, "icsrisk assessment server listening on :%d\n", port)
	if cfg.Catalogue.Path != "" {
		fmt.Fprintf(os.Stderr, "Catalogue: %s (hot-reload enabled)\n", cfg.Catalogue.Path)
	}

	return g.Wait()
}
