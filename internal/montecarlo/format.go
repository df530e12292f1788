package montecarlo

import (
	"encoding/json"
	"fmt"
	"strings"
)

const barWidth = 40

// FormatText renders the simulation summary with an ASCII histogram.
func FormatText(s *Stats) string {
	var b strings.Builder

	total := 0
	peak := 0
	for _, bk := range s.Data {
		total += bk.Count
		if bk.Count > peak {
			peak = bk.Count
		}
	}

	fmt.Fprintf(&b, "Residual risk over %d samples\n", total)
	fmt.Fprintf(&b, "  mean %6.2f   p10 %6.1f   p90 %6.1f\n\n", s.Mean, s.P10, s.P90)

	for _, bk := range s.Data {
		width := 0
		if peak > 0 {
			width = bk.Count * barWidth / peak
		}
		if width == 0 && bk.Count > 0 {
			width = 1
		}
		fmt.Fprintf(&b, "  %3d │%-*s %d\n", bk.RiskScore, barWidth, strings.Repeat("█", width), bk.Count)
	}

	return b.String()
}

// FormatJSON renders the simulation summary as JSON.
func FormatJSON(s *Stats) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal simulation stats: %w", err)
	}
	return string(data), nil
}
