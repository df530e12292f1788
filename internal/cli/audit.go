package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/icsrisk/internal/audit"
)

var tailLines int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Assessment ledger operations",
	Long:  "Commands for verifying and inspecting the hash-chained assessment ledger.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the ledger",
	Long: "Walks the JSONL ledger and checks that every entry's prev_hash matches\n" +
		"the SHA-256 of the previous line. Defaults to audit.path.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent ledger entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

func ledgerPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.Audit.Path == "" {
		return "", fmt.Errorf("no ledger path: pass one or set audit.path")
	}
	return cfg.Audit.Path, nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := ledgerPath(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if jsonOutput() {
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	} else {
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatVerify(path, result))
	}
	if !result.Valid {
		return fmt.Errorf("ledger verification failed at line %d", result.ErrorLine)
	}
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := ledgerPath(args)
	if err != nil {
		return err
	}
	entries, err := audit.Tail(path, tailLines)
	if err != nil {
		return err
	}
	if jsonOutput() {
		if entries == nil {
			entries = []audit.Entry{}
		}
		out, err := audit.FormatJSON(entries)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), audit.FormatEntries(entries))
	return nil
}
