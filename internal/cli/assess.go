package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/client"
	"github.com/ppiankov/icsrisk/internal/iec62443"
)

var (
	assessRemote   string
	assessNoRecord bool
	assessLang     string
)

func init() {
	rootCmd.AddCommand(assessCmd)
	assessCmd.Flags().StringVar(&assessRemote, "remote", "", "Assess on an icsrisk server (host:port) instead of locally")
	assessCmd.Flags().BoolVar(&assessNoRecord, "no-record", false, "Skip the audit ledger and history database")
	assessCmd.Flags().StringVar(&assessLang, "lang", iec62443.DefaultLanguage, "Language for requirement text")
}

var assessCmd = &cobra.Command{
	Use:   "assess <request.json|->",
	Short: "Run all three engines for one or more assets",
	Long: "Reads an assessment request (or a JSON array of requests) and runs the\n" +
		"Monte Carlo, Markov and IEC 62443 engines on each. Arrays run in\n" +
		"parallel, bounded by engine.workers, and report in input order.\n\n" +
		"Each assessment is appended to the audit ledger and saved to the\n" +
		"history database unless --no-record is given.",
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

func runAssess(cmd *cobra.Command, args []string) error {
	reqs, batch, err := readRequests(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	var (
		reports []*assess.Report
		cat     *iec62443.Catalogue
	)
	if assessRemote != "" {
		reports, cat, err = assessRemotely(cmd, reqs)
	} else {
		reports, cat, err = assessLocally(cmd, reqs, batch)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput() {
		if batch {
			return printJSON(out, reports)
		}
		s, err := assess.FormatJSON(reports[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
		return nil
	}
	for i, rep := range reports {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprint(out, assess.FormatText(rep, cat, assessLang))
	}
	return nil
}

func assessLocally(cmd *cobra.Command, reqs []assess.Request, batch bool) ([]*assess.Report, *iec62443.Catalogue, error) {
	deps, err := openRuntime(cmd.Context(), !assessNoRecord)
	if err != nil {
		return nil, nil, err
	}
	defer deps.Close()

	if batch {
		reports, err := deps.runner.RunBatch(cmd.Context(), reqs)
		return reports, deps.catalogue, err
	}
	rep, err := deps.runner.Run(cmd.Context(), reqs[0])
	if err != nil {
		return nil, nil, err
	}
	return []*assess.Report{rep}, deps.catalogue, nil
}

func assessRemotely(cmd *cobra.Command, reqs []assess.Request) ([]*assess.Report, *iec62443.Catalogue, error) {
	c, err := client.New(assessRemote)
	if err != nil {
		return nil, nil, err
	}
	defer c.Close()

	cat, err := c.Catalogue(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	reports := make([]*assess.Report, 0, len(reqs))
	for i, req := range reqs {
		rep, err := c.Assess(cmd.Context(), req)
		if err != nil {
			return nil, nil, fmt.Errorf("request %d: %w", i, err)
		}
		reports = append(reports, rep)
	}
	return reports, cat, nil
}

// readRequests decodes a single request object or an array of them. "-"
// reads stdin.
func readRequests(stdin io.Reader, path string) ([]assess.Request, bool, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read request: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	batch := len(trimmed) > 0 && trimmed[0] == '['

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()

	var reqs []assess.Request
	if batch {
		err = dec.Decode(&reqs)
	} else {
		var req assess.Request
		err = dec.Decode(&req)
		reqs = []assess.Request{req}
	}
	if err != nil {
		return nil, false, fmt.Errorf("parse request %s: %w", path, err)
	}
	if len(reqs) == 0 {
		return nil, false, fmt.Errorf("parse request %s: empty batch", path)
	}
	return reqs, batch, nil
}
