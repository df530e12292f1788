package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/markov"
)

var (
	progRisk   float64
	progHours  int
	progStride int
)

func init() {
	rootCmd.AddCommand(progressionCmd)
	progressionCmd.Flags().Float64Var(&progRisk, "risk", 0, "Composite risk score, 0-10 (required)")
	progressionCmd.Flags().IntVar(&progHours, "hours", -1, "Hours to project (default engine.hours)")
	progressionCmd.Flags().IntVar(&progStride, "stride", 1, "Print every Nth hour in text output")
	progressionCmd.MarkFlagRequired("risk")
}

var progressionCmd = &cobra.Command{
	Use:   "progression",
	Short: "Markov attack-progression forecast",
	Long: "Projects hour by hour the probability that an attacker is in each of\n" +
		"Secure, Reconnaissance, Exploitation and Compromised, starting from a\n" +
		"fully secure system.",
	RunE: runProgression,
}

func runProgression(cmd *cobra.Command, args []string) error {
	deps, err := openRuntime(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer deps.Close()

	var hours *int
	if cmd.Flags().Changed("hours") {
		hours = &progHours
	}

	steps, err := deps.runner.Progression(cmd.Context(), progRisk, hours)
	if err != nil {
		return err
	}

	if jsonOutput() {
		out, err := markov.FormatJSON(steps)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), markov.FormatText(steps, progStride))
	return nil
}
