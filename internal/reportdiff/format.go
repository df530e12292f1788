package reportdiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Assessment diff: %s → %s\n\nNo changes detected.\n", r.OldID, r.NewID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Assessment diff: %s → %s\n", r.OldID, r.NewID)
	if r.Name != "" {
		fmt.Fprintf(&b, "Asset: %s\n", r.Name)
	}

	topLevel := filterTopLevel(r.Changes)
	simulation := filterChanges(r.Changes, "simulation.")
	progression := filterChanges(r.Changes, "progression.")
	frs := filterChanges(r.Changes, "fr.")

	if len(topLevel) > 0 {
		b.WriteString("\n")
		for _, c := range topLevel {
			writeChange(&b, "  ", 24, c.Field, c)
		}
	}
	writeSection(&b, "Residual Risk", "simulation.", simulation)
	writeSection(&b, "Attack Progression", "progression.", progression)
	writeSection(&b, "Security Levels", "fr.", frs)

	if len(r.RequirementChanges) > 0 {
		b.WriteString("\n  Requirements:\n")
		for _, rc := range r.RequirementChanges {
			switch rc.Type {
			case "met":
				fmt.Fprintf(&b, "    + %s met\n", rc.ID)
			case "missing":
				fmt.Fprintf(&b, "    - %s missing\n", rc.ID)
			}
		}
	}

	return b.String()
}

func writeSection(b *strings.Builder, title, prefix string, changes []Change) {
	if len(changes) == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s:\n", title)
	for _, c := range changes {
		writeChange(b, "    ", 22, strings.TrimPrefix(c.Field, prefix), c)
	}
}

func writeChange(b *strings.Builder, indent string, width int, name string, c Change) {
	old, new := c.Old, c.New
	if old == "" {
		old = "-"
	}
	if new == "" {
		new = "-"
	}
	fmt.Fprintf(b, "%s%-*s %s → %s", indent, width, name+":", old, new)
	if c.Comment != "" {
		fmt.Fprintf(b, "  (%s)", c.Comment)
	}
	b.WriteString("\n")
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func filterChanges(changes []Change, prefix string) []Change {
	var out []Change
	for _, c := range changes {
		if strings.HasPrefix(c.Field, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func filterTopLevel(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if !strings.Contains(c.Field, ".") {
			out = append(out, c)
		}
	}
	return out
}
