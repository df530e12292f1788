package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	asset := event.AssessmentID
	if event.Name != "" {
		asset = fmt.Sprintf("%s (%s)", event.Name, event.AssessmentID)
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("icsrisk: %s", event.Type),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Asset:* %s", asset)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", event.Severity)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Overall SL:* %d", event.OverallSL)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*P(Compromised):* %.1f%%", 100*event.PCompromised)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := event.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    event.AssessmentID + "/" + event.Type,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("icsrisk %s: %s", event.Type, event.Reason),
			"severity": severity,
			"source":   "icsrisk",
			"custom_details": map[string]any{
				"assessment_id": event.AssessmentID,
				"name":          event.Name,
				"overall_sl":    event.OverallSL,
				"mean":          event.Mean,
				"p90":           event.P90,
				"p_compromised": event.PCompromised,
			},
		},
	}
	return json.Marshal(payload)
}
