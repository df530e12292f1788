package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/client"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/reportdiff"
	"github.com/ppiankov/icsrisk/internal/store"
)

var (
	historyLimit  int
	historyRemote string
	historyLang   string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDiffCmd)
	historyCmd.PersistentFlags().StringVar(&historyRemote, "remote", "", "Read history from an icsrisk server (host:port)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of assessments to list (0 = all)")
	historyShowCmd.Flags().StringVar(&historyLang, "lang", iec62443.DefaultLanguage, "Language for requirement text")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded assessments, newest first",
	RunE:  runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded assessment",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff <old-id> <new-id>",
	Short: "Compare two recorded assessments",
	Long: "Shows how residual risk, attack progression and security levels moved\n" +
		"between two assessments, and which requirements were met or lost.",
	Args: cobra.ExactArgs(2),
	RunE: runHistoryDiff,
}

// historySource is the subset of history reads shared by the local
// database and the remote client.
type historySource interface {
	ListReports(ctx context.Context, limit int) ([]store.Record, error)
	GetReport(ctx context.Context, id string) (*assess.Report, error)
	Close() error
}

type localHistory struct{ repo *store.SQLite }

func (l localHistory) ListReports(ctx context.Context, limit int) ([]store.Record, error) {
	return l.repo.List(ctx, limit)
}

func (l localHistory) GetReport(ctx context.Context, id string) (*assess.Report, error) {
	rec, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return assess.DecodeReport(rec)
}

func (l localHistory) Close() error { return l.repo.Close() }

func openHistory(ctx context.Context) (historySource, error) {
	if historyRemote != "" {
		return client.New(historyRemote)
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("history is disabled: store.path is empty")
	}
	repo, err := store.OpenSQLite(ctx, cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}
	return localHistory{repo}, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	src, err := openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer src.Close()

	recs, err := src.ListReports(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if jsonOutput() {
		if recs == nil {
			recs = []store.Record{}
		}
		return printJSON(cmd.OutOrStdout(), recs)
	}
	fmt.Fprint(cmd.OutOrStdout(), assess.FormatHistory(recs))
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	src, err := openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer src.Close()

	rep, err := src.GetReport(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), rep)
	}

	cat, err := iec62443.LoadCatalogue(cfg.Catalogue.Path)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), assess.FormatText(rep, cat, historyLang))
	return nil
}

func runHistoryDiff(cmd *cobra.Command, args []string) error {
	src, err := openHistory(cmd.Context())
	if err != nil {
		return err
	}
	defer src.Close()

	old, err := src.GetReport(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cur, err := src.GetReport(cmd.Context(), args[1])
	if err != nil {
		return err
	}

	d := reportdiff.Diff(old, cur)
	if jsonOutput() {
		out, err := reportdiff.FormatJSON(d)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), reportdiff.FormatText(d))
	return nil
}
