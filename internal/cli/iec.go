package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/icsrisk/internal/client"
	"github.com/ppiankov/icsrisk/internal/iec62443"
)

var (
	iecSatisfied []string
	iecFrom      string
	iecLang      string
	iecRemote    string
)

func init() {
	rootCmd.AddCommand(iecCmd)
	iecCmd.AddCommand(iecScoreCmd)
	iecCmd.AddCommand(iecCatalogueCmd)
	iecCmd.PersistentFlags().StringVar(&iecLang, "lang", iec62443.DefaultLanguage, "Language for requirement text (BCP 47, e.g. de, ar)")
	iecScoreCmd.Flags().StringSliceVarP(&iecSatisfied, "satisfied", "s", nil, "Satisfied requirement ids, comma separated (e.g. SR1.1,SR5.1)")
	iecScoreCmd.Flags().StringVar(&iecFrom, "from", "", "YAML or JSON file listing satisfied ids")
	iecScoreCmd.Flags().StringVar(&iecRemote, "remote", "", "Score on an icsrisk server (host:port) instead of locally")
}

var iecCmd = &cobra.Command{
	Use:   "iec",
	Short: "IEC 62443-3-3 security-level scoring",
}

var iecScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score satisfied requirements into security levels",
	Long: "Each foundational requirement reaches SL 1 when all of its SL-1\n" +
		"requirements are satisfied and SL 2 when its SL-2 requirements are too.\n" +
		"The overall level is the weakest foundational requirement.",
	RunE: runIECScore,
}

var iecCatalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "List the requirement catalogue",
	RunE:  runIECCatalogue,
}

func runIECScore(cmd *cobra.Command, args []string) error {
	satisfied := append([]string(nil), iecSatisfied...)
	if iecFrom != "" {
		ids, err := readSatisfied(iecFrom)
		if err != nil {
			return err
		}
		satisfied = append(satisfied, ids...)
	}

	var (
		res *iec62443.Result
		cat *iec62443.Catalogue
	)
	if iecRemote != "" {
		c, err := client.New(iecRemote)
		if err != nil {
			return err
		}
		defer c.Close()
		if cat, err = c.Catalogue(cmd.Context()); err != nil {
			return err
		}
		if res, err = c.Score(cmd.Context(), satisfied); err != nil {
			return err
		}
	} else {
		deps, err := openRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.Close()
		cat = deps.catalogue
		res = deps.runner.Score(satisfied)
	}

	if jsonOutput() {
		out, err := iec62443.FormatJSON(res)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), iec62443.FormatText(res, cat, iecLang))
	return nil
}

func runIECCatalogue(cmd *cobra.Command, args []string) error {
	cat, err := iec62443.LoadCatalogue(cfg.Catalogue.Path)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), cat)
	}
	fmt.Fprint(cmd.OutOrStdout(), iec62443.FormatCatalogue(cat, iecLang))
	return nil
}

// readSatisfied accepts either a bare list of ids or {satisfied: [...]}.
func readSatisfied(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ids []string
	if err := yaml.Unmarshal(data, &ids); err == nil {
		return ids, nil
	}
	var doc struct {
		Satisfied []string `yaml:"satisfied"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: expected a list of ids or a satisfied: key", path)
	}
	return doc.Satisfied, nil
}
