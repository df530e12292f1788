// Package alert raises webhook notifications when an assessment crosses the
// configured risk thresholds.
package alert

import (
	"fmt"
	"time"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/config"
)

// Severity levels, in increasing order.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp    string  `json:"timestamp"`
	Type         string  `json:"type"`
	Severity     string  `json:"severity"`
	AssessmentID string  `json:"assessment_id"`
	Name         string  `json:"name,omitempty"`
	OverallSL    int     `json:"overall_sl"`
	Mean         float64 `json:"mean"`
	P90          float64 `json:"p90"`
	PCompromised float64 `json:"p_compromised"`
	Reason       string  `json:"reason"`
}

// Evaluate returns one event per threshold the report crosses, plus the
// unconditional assessment event.
func Evaluate(th config.AlertsConfig, rep *assess.Report) []Event {
	base := Event{
		Timestamp:    rep.CreatedAt.UTC().Format(time.RFC3339),
		AssessmentID: rep.ID,
		Name:         rep.Name,
		OverallSL:    rep.Compliance.OverallSL,
		Mean:         rep.Simulation.Mean,
		P90:          rep.Simulation.P90,
		PCompromised: rep.PCompromised(),
	}

	var events []Event
	add := func(typ, severity, reason string) {
		e := base
		e.Type = typ
		e.Severity = severity
		e.Reason = reason
		events = append(events, e)
	}

	if base.PCompromised >= th.PCompromised {
		add(config.EventCompromiseLikely, SeverityCritical,
			fmt.Sprintf("P(Compromised) after %dh is %.1f%%, threshold %.1f%%", rep.Hours, 100*base.PCompromised, 100*th.PCompromised))
	}
	if base.P90 >= th.P90 {
		add(config.EventHighResidualRisk, SeverityWarning,
			fmt.Sprintf("residual risk P90 is %.1f, threshold %.1f", base.P90, th.P90))
	}
	if base.OverallSL < th.TargetSL {
		add(config.EventBelowTargetSL, SeverityWarning,
			fmt.Sprintf("overall security level %d is below target %d", base.OverallSL, th.TargetSL))
	}
	add(config.EventAssessment, SeverityInfo,
		fmt.Sprintf("assessment completed: SL %d, mean risk %.1f", base.OverallSL, base.Mean))
	return events
}
