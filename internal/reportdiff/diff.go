// Package reportdiff compares two recorded assessments of an asset and
// reports which way each headline number moved.
package reportdiff

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ppiankov/icsrisk/internal/assess"
)

const (
	Improved  = "improved"
	Regressed = "regressed"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RequirementChange is a requirement that became met or became missing.
type RequirementChange struct {
	Type string `json:"type"` // "met", "missing"
	ID   string `json:"id"`
}

// DiffResult holds the comparison of two reports.
type DiffResult struct {
	OldID              string              `json:"old_id"`
	NewID              string              `json:"new_id"`
	Name               string              `json:"name,omitempty"`
	Changes            []Change            `json:"changes"`
	RequirementChanges []RequirementChange `json:"requirement_changes"`
	HasChanges         bool                `json:"has_changes"`
}

// Diff compares two reports. Either may be a re-run of the other after
// remediation, or a different asset entirely.
func Diff(old, new *assess.Report) *DiffResult {
	r := &DiffResult{OldID: old.ID, NewID: new.ID, Name: new.Name}

	diffFloat(r, "risk_score", old.RiskScore, new.RiskScore, "%.2f")
	diffInt(r, "hours", old.Hours, new.Hours, "")

	if old.Simulation != nil && new.Simulation != nil {
		diffFloat(r, "simulation.mean", old.Simulation.Mean, new.Simulation.Mean, "%.2f")
		diffFloat(r, "simulation.p10", old.Simulation.P10, new.Simulation.P10, "%.2f")
		diffFloat(r, "simulation.p90", old.Simulation.P90, new.Simulation.P90, "%.2f")
	}

	diffFloat(r, "progression.p_compromised", old.PCompromised(), new.PCompromised(), "%.4f")
	diffFloat(r, "progression.peak_compromised", old.Summary.PeakCompromised, new.Summary.PeakCompromised, "%.4f")
	diffHour(r, old.Summary.HourCompromiseLikely, new.Summary.HourCompromiseLikely)

	if old.Compliance != nil && new.Compliance != nil {
		diffSL(r, "overall_sl", old.Compliance.OverallSL, new.Compliance.OverallSL)
		diffFRs(r, old, new)
		diffRequirements(r, missing(old), missing(new))
	}

	r.HasChanges = len(r.Changes) > 0 || len(r.RequirementChanges) > 0
	return r
}

// diffFloat compares a value where lower means less risk.
func diffFloat(r *DiffResult, field string, old, new float64, format string) {
	o, n := fmt.Sprintf(format, old), fmt.Sprintf(format, new)
	if o == n {
		return
	}
	comment := Regressed
	if new < old {
		comment = Improved
	}
	r.Changes = append(r.Changes, Change{Field: field, Old: o, New: n, Comment: comment})
}

// diffInt records a neutral change with the given comment.
func diffInt(r *DiffResult, field string, old, new int, comment string) {
	if old != new {
		r.Changes = append(r.Changes, Change{
			Field:   field,
			Old:     strconv.Itoa(old),
			New:     strconv.Itoa(new),
			Comment: comment,
		})
	}
}

func diffSL(r *DiffResult, field string, old, new int) {
	comment := Regressed
	if new > old {
		comment = Improved
	}
	diffInt(r, field, old, new, comment)
}

// diffHour compares the first hour compromise is likely. Later is better and
// -1 (never) is best.
func diffHour(r *DiffResult, old, new int) {
	if old == new {
		return
	}
	improved := new == -1 || (old != -1 && new > old)
	comment := Regressed
	if improved {
		comment = Improved
	}
	r.Changes = append(r.Changes, Change{
		Field:   "progression.hour_compromise_likely",
		Old:     hourLabel(old),
		New:     hourLabel(new),
		Comment: comment,
	})
}

func hourLabel(h int) string {
	if h < 0 {
		return "never"
	}
	return strconv.Itoa(h)
}

func diffFRs(r *DiffResult, old, new *assess.Report) {
	oldSL := make(map[string]int)
	for _, s := range old.Compliance.FRScores {
		oldSL[s.FRID] = s.AchievedSL
	}
	newSL := make(map[string]int)
	for _, s := range new.Compliance.FRScores {
		newSL[s.FRID] = s.AchievedSL
	}

	for _, s := range new.Compliance.FRScores {
		prev, ok := oldSL[s.FRID]
		if !ok {
			r.Changes = append(r.Changes, Change{Field: "fr." + s.FRID, New: strconv.Itoa(s.AchievedSL), Comment: "added"})
			continue
		}
		diffSL(r, "fr."+s.FRID, prev, s.AchievedSL)
	}
	for _, s := range old.Compliance.FRScores {
		if _, ok := newSL[s.FRID]; !ok {
			r.Changes = append(r.Changes, Change{Field: "fr." + s.FRID, Old: strconv.Itoa(s.AchievedSL), Comment: "removed"})
		}
	}
}

func missing(rep *assess.Report) map[string]bool {
	set := make(map[string]bool)
	for _, s := range rep.Compliance.FRScores {
		for _, id := range s.MissingRequirements {
			set[id] = true
		}
	}
	return set
}

// diffRequirements reports gaps closed (missing before, not after) and gaps
// opened. Ids are sorted for stable output.
func diffRequirements(r *DiffResult, oldMissing, newMissing map[string]bool) {
	var met, opened []string
	for id := range oldMissing {
		if !newMissing[id] {
			met = append(met, id)
		}
	}
	for id := range newMissing {
		if !oldMissing[id] {
			opened = append(opened, id)
		}
	}
	sort.Strings(met)
	sort.Strings(opened)

	for _, id := range met {
		r.RequirementChanges = append(r.RequirementChanges, RequirementChange{Type: "met", ID: id})
	}
	for _, id := range opened {
		r.RequirementChanges = append(r.RequirementChanges, RequirementChange{Type: "missing", ID: id})
	}
}
