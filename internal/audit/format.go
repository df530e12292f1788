package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────────────"

// FormatEntries renders ledger entries as a table.
func FormatEntries(entries []Entry) string {
	if len(entries) == 0 {
		return "No ledger entries.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-19s %-36s %-10s %2s %7s %7s %7s\n", "time", "assessment", "kind", "SL", "mean", "p90", "P(C)")
	b.WriteString(separator + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-19s %-36s %-10s %2d %7.2f %7.2f %6.1f%%\n",
			formatTime(e.Timestamp), truncate(e.AssessmentID, 36), e.Kind,
			e.OverallSL, e.Mean, e.P90, 100*e.PCompromised)
	}
	return b.String()
}

// FormatVerify renders a chain check result.
func FormatVerify(path string, r VerifyResult) string {
	if r.Valid {
		if r.Lines == 0 {
			return fmt.Sprintf("%s: empty ledger, chain valid\n", path)
		}
		return fmt.Sprintf("%s: %d entries, chain valid\nhead %s\n", path, r.Lines, r.Head)
	}
	if r.ErrorLine > 0 {
		return fmt.Sprintf("%s: chain BROKEN at line %d: %s\n", path, r.ErrorLine, r.Error)
	}
	return fmt.Sprintf("%s: %s\n", path, r.Error)
}

// FormatJSON renders any ledger value as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal ledger output: %w", err)
	}
	return string(data), nil
}

func formatTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
