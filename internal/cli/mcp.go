package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/alert"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	icsmcp "github.com/ppiankov/icsrisk/internal/mcp"
)

var (
	mcpLang     string
	mcpNoRecord bool
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpLang, "lang", iec62443.DefaultLanguage, "Default language for requirement text")
	mcpCmd.Flags().BoolVar(&mcpNoRecord, "no-record", false, "Do not append icsrisk_assess calls to the audit ledger")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs icsrisk as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: icsrisk_simulate, icsrisk_progression, icsrisk_score,\n" +
		"icsrisk_assess, icsrisk_catalogue.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ledgerPath := cfg.Audit.Path
	if mcpNoRecord {
		ledgerPath = ""
	}

	mcpCfg := icsmcp.Config{
		CataloguePath: cfg.Catalogue.Path,
		LedgerPath:    ledgerPath,
		Engine:        cfg.Engine,
		Language:      mcpLang,
		Version:       version,
		Logger:        logger,
	}
	if alerts := alert.NewDispatcher(cfg.Alerts, logger); alerts != nil {
		defer alerts.Wait()
		mcpCfg.Notifier = alerts
	}

	srv, err := icsmcp.New(mcpCfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "icsrisk MCP server running on stdio")
	return srv.Run(ctx)
}
