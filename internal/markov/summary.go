package markov

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// compromiseThreshold is the P(Compromised) at which compromise is treated
// as more likely than not.
const compromiseThreshold = 0.5

// Summary condenses a progression into its headline numbers.
type Summary struct {
	Hours                int               `json:"hours"`
	Final                map[State]float64 `json:"final"`
	MostLikely           State             `json:"mostLikely"`
	PeakCompromised      float64           `json:"peakCompromised"`
	HourCompromiseLikely int               `json:"hourCompromiseLikely"`
}

// Summarize reports the final distribution, its most likely state, the peak
// P(Compromised), and the first hour at which P(Compromised) reaches 0.5
// (-1 if it never does). An empty progression yields a zero Summary with
// HourCompromiseLikely = -1.
func Summarize(steps []Step) Summary {
	s := Summary{HourCompromiseLikely: -1}
	if len(steps) == 0 {
		return s
	}

	for _, st := range steps {
		pc := st.Probability(Compromised)
		if pc > s.PeakCompromised {
			s.PeakCompromised = pc
		}
		if s.HourCompromiseLikely < 0 && pc >= compromiseThreshold {
			s.HourCompromiseLikely = st.Step
		}
	}

	last := steps[len(steps)-1]
	s.Hours = last.Step
	s.Final = maps.Clone(last.Probabilities)
	s.MostLikely = Secure
	for _, st := range states {
		if last.Probability(st) > last.Probability(s.MostLikely) {
			s.MostLikely = st
		}
	}
	return s
}

// FormatText renders the progression as a table, printing every stride-th
// hour plus the final hour.
func FormatText(steps []Step, stride int) string {
	if stride < 1 {
		stride = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%6s", "hour")
	for _, st := range states {
		fmt.Fprintf(&b, " %15s", st)
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", 6+16*numStates) + "\n")

	for i, step := range steps {
		if i%stride != 0 && i != len(steps)-1 {
			continue
		}
		fmt.Fprintf(&b, "%6d", step.Step)
		for _, st := range states {
			fmt.Fprintf(&b, " %14.2f%%", 100*step.Probability(st))
		}
		b.WriteString("\n")
	}

	sum := Summarize(steps)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Most likely after %dh: %s\n", sum.Hours, sum.MostLikely)
	if sum.HourCompromiseLikely >= 0 {
		fmt.Fprintf(&b, "Compromise more likely than not from hour %d\n", sum.HourCompromiseLikely)
	} else {
		fmt.Fprintf(&b, "Peak P(Compromised): %.2f%%\n", 100*sum.PeakCompromised)
	}
	return b.String()
}

// FormatJSON renders the progression as JSON.
func FormatJSON(steps []Step) (string, error) {
	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal progression: %w", err)
	}
	return string(data), nil
}
