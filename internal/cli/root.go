package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/logging"
)

var (
	configPath   string
	outputFormat string
	logLevel     string

	cfg    *config.Config
	logger = zap.NewNop()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.icsrisk/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text|json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level from config")
}

var rootCmd = &cobra.Command{
	Use:   "icsrisk",
	Short: "Risk assessment for industrial control systems",
	Long: "Quantifies cyber risk for ICS/SCADA assets: Monte Carlo residual risk,\n" +
		"Markov attack progression, and IEC 62443-3-3 security-level scoring.",
	SilenceUsage:      true,
	PersistentPreRunE: loadRuntime,
}

// loadRuntime reads configuration and builds the logger before any command runs.
func loadRuntime(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}

	l, err := logging.New(logging.Config{Level: loaded.Log.Level, Format: loaded.Log.Format})
	if err != nil {
		return err
	}

	switch outputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q: use text or json", outputFormat)
	}

	cfg = loaded
	logger = l
	return nil
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
