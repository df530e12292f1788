package iec62443

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders a scoring result as a human-readable report, titles in lang.
func FormatText(r *Result, c *Catalogue, lang string) string {
	var b strings.Builder

	header := fmt.Sprintf("%s %s — Overall SL %d", c.Standard, c.Version, r.OverallSL)
	fmt.Fprintln(&b, header)
	fmt.Fprintln(&b, strings.Repeat("═", len([]rune(header))))

	for _, s := range r.FRScores {
		title := s.FRID
		if fr, ok := c.FR(s.FRID); ok {
			title = fmt.Sprintf("%s %s", s.FRID, fr.Title(lang))
		}
		fmt.Fprintf(&b, "  %-50s SL %d  %3d%%\n", truncate(title, 50), s.AchievedSL, s.Percentage)
		for _, id := range s.MissingRequirements {
			desc := id
			if sr, _, ok := c.Lookup(id); ok {
				desc = fmt.Sprintf("%-7s %s", id, sr.Description(lang))
			}
			fmt.Fprintf(&b, "    MISSING  %s\n", desc)
		}
	}

	fmt.Fprintln(&b, strings.Repeat("─", len([]rune(header))))
	fmt.Fprintf(&b, "Requirements met: %d/%d\n", r.Satisfied(c), len(c.RequirementIDs()))
	return b.String()
}

// FormatJSON renders a scoring result as JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal compliance result: %w", err)
	}
	return string(data), nil
}

// FormatCatalogue lists every requirement with its level, titles in lang.
func FormatCatalogue(c *Catalogue, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", c.Standard, c.Version)
	for _, fr := range c.FRs {
		fmt.Fprintf(&b, "\n%s %s\n", fr.ID, fr.Title(lang))
		for _, sr := range fr.Requirements {
			fmt.Fprintf(&b, "  %-7s SL%d  %s\n", sr.ID, sr.RequiredForSL, sr.Description(lang))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
