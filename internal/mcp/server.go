// Package mcp exposes the assessment engines as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/logging"
)

// Config holds MCP server configuration.
type Config struct {
	CataloguePath string
	LedgerPath    string
	Engine        config.EngineConfig
	Language      string
	Version       string
	Logger        *zap.Logger
	Notifier      assess.Notifier
}

// Server wraps the MCP SDK server around an assessment runner.
type Server struct {
	mcpServer *mcpsdk.Server
	runner    *assess.Runner
	ledger    *audit.Ledger
	lang      string
	logger    *zap.Logger
}

// New creates an MCP server with the catalogue loaded and tools registered.
func New(cfg Config) (*Server, error) {
	cat, err := iec62443.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	logger := logging.OrNop(cfg.Logger)
	opts := []assess.Option{assess.WithLogger(logger)}
	if cfg.Notifier != nil {
		opts = append(opts, assess.WithNotifier(cfg.Notifier))
	}

	var ledger *audit.Ledger
	if cfg.LedgerPath != "" {
		ledger, err = audit.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit ledger: %w", err)
		}
		opts = append(opts, assess.WithLedger(ledger))
	}

	runner, err := assess.NewRunner(cfg.Engine, assess.StaticCatalogue(cat), opts...)
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, err
	}

	lang := cfg.Language
	if lang == "" {
		lang = iec62443.DefaultLanguage
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runner: runner,
		ledger: ledger,
		lang:   lang,
		logger: logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "icsrisk",
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit ledger if configured.
func (s *Server) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// registerTools adds all icsrisk tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "icsrisk_simulate",
		Description: "Run a Monte Carlo residual-risk simulation for an ICS asset. Returns mean, P10, P90 and a histogram over the 0-100 residual-risk scale.",
	}, s.handleSimulate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "icsrisk_progression",
		Description: "Project hourly attacker progression (Secure, Reconnaissance, Exploitation, Compromised) for a 0-10 risk score.",
	}, s.handleProgression)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "icsrisk_score",
		Description: "Score satisfied IEC 62443-3-3 system requirements into per-category and overall security levels.",
	}, s.handleScore)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "icsrisk_assess",
		Description: "Run all three engines for one asset and return the combined report. Recorded in the audit ledger when one is configured.",
	}, s.handleAssess)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "icsrisk_catalogue",
		Description: "List the IEC 62443-3-3 requirement catalogue used for scoring.",
	}, s.handleCatalogue)
}
