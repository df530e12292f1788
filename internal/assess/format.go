package assess

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
	"github.com/ppiankov/icsrisk/internal/store"
)

// FormatText renders a report section by section. lang selects requirement
// text in the compliance section.
func FormatText(rep *Report, cat *iec62443.Catalogue, lang string) string {
	var b strings.Builder

	title := rep.ID
	if rep.Name != "" {
		title = fmt.Sprintf("%s (%s)", rep.Name, rep.ID)
	}
	fmt.Fprintf(&b, "Assessment %s\n", title)
	fmt.Fprintf(&b, "Created %s | risk score %.1f | horizon %dh\n\n", rep.CreatedAt.Format("2006-01-02 15:04:05 UTC"), rep.RiskScore, rep.Hours)

	b.WriteString(montecarlo.FormatText(rep.Simulation))
	b.WriteString("\n")
	b.WriteString(markov.FormatText(rep.Progression, stride(rep.Hours)))
	b.WriteString("\n")
	b.WriteString(iec62443.FormatText(rep.Compliance, cat, lang))
	return b.String()
}

// stride keeps the progression table to roughly two dozen rows.
func stride(hours int) int {
	if hours <= 24 {
		return 1
	}
	return (hours + 23) / 24
}

// FormatJSON renders a report as indented JSON.
func FormatJSON(rep *Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

// FormatHistory renders stored records as a table.
func FormatHistory(recs []store.Record) string {
	if len(recs) == 0 {
		return "No assessments recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-24s  %-19s  %2s  %7s  %7s  %6s\n", "id", "name", "created", "SL", "mean", "p90", "P(C)")
	b.WriteString(strings.Repeat("─", 112) + "\n")
	for _, r := range recs {
		name := r.Name
		if len([]rune(name)) > 24 {
			name = string([]rune(name)[:21]) + "..."
		}
		fmt.Fprintf(&b, "%-36s  %-24s  %-19s  %2d  %7.2f  %7.2f  %5.1f%%\n",
			r.ID, name, r.CreatedAt.Format("2006-01-02 15:04:05"), r.OverallSL, r.Mean, r.P90, 100*r.PCompromised)
	}
	return b.String()
}
