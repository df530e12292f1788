package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/scenario"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check <scenario.yaml|glob>...",
	Short: "Check site baselines against risk bounds",
	Long: "Loads scenario YAML files, assesses each listed asset and compares the\n" +
		"result with its expected bounds (min_sl, max_mean, max_p90,\n" +
		"max_p_compromised). Nothing is recorded and no alerts are sent.\n\n" +
		"Exits non-zero if any case fails. Use in CI to gate changes to a\n" +
		"site's control baseline.",
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	var paths []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("no scenario files match pattern: %s", pattern)
		}
		paths = append(paths, matches...)
	}

	cat, err := iec62443.LoadCatalogue(cfg.Catalogue.Path)
	if err != nil {
		return fmt.Errorf("failed to load catalogue: %w", err)
	}
	runner, err := assess.NewRunner(cfg.Engine, assess.StaticCatalogue(cat), assess.WithLogger(logger))
	if err != nil {
		return err
	}

	var results []*scenario.RunResult
	for _, path := range paths {
		r, err := scenario.LoadAndRun(cmd.Context(), path, runner)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		s, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	} else {
		fmt.Fprint(out, scenario.FormatText(results))
	}

	if scenario.Failed(results) {
		return fmt.Errorf("scenario check failed")
	}
	return nil
}
