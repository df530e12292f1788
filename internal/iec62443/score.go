package iec62443

import "math"

// FRScore is the outcome for one foundational requirement.
type FRScore struct {
	FRID                string   `json:"frId"`
	AchievedSL          int      `json:"achievedSL"`
	Percentage          int      `json:"percentage"`
	MissingRequirements []string `json:"missingRequirements"`
}

// Result is the weakest-link security level plus per-category detail.
type Result struct {
	OverallSL int       `json:"overallSL"`
	FRScores  []FRScore `json:"frScores"`
}

// Score evaluates satisfied requirement ids against the catalogue. Unknown
// ids are ignored. An empty catalogue scores overall SL 0.
func Score(c *Catalogue, satisfied []string) *Result {
	met := make(map[string]bool, len(satisfied))
	for _, id := range satisfied {
		met[id] = true
	}

	res := &Result{FRScores: []FRScore{}}
	if c == nil || len(c.FRs) == 0 {
		return res
	}

	overall := math.MaxInt
	for _, fr := range c.FRs {
		s := scoreFR(fr, met)
		if s.AchievedSL < overall {
			overall = s.AchievedSL
		}
		res.FRScores = append(res.FRScores, s)
	}
	res.OverallSL = overall
	return res
}

// scoreFR gates SL 1 on every SL-1 requirement and SL 2 additionally on
// every SL-2 requirement. Requirements tagged 3 or 4 count toward coverage
// only.
func scoreFR(fr FoundationalRequirement, met map[string]bool) FRScore {
	sl1Met, sl2Met := true, true
	count := 0
	seen := make(map[string]bool, len(fr.Requirements))
	missing := []string{}

	for _, sr := range fr.Requirements {
		ok := met[sr.ID]
		if ok {
			count++
		} else if !seen[sr.ID] {
			missing = append(missing, sr.ID)
		}
		seen[sr.ID] = true

		switch sr.RequiredForSL {
		case 1:
			sl1Met = sl1Met && ok
		case 2:
			sl2Met = sl2Met && ok
		}
	}

	achieved := 0
	switch {
	case sl1Met && sl2Met:
		achieved = 2
	case sl1Met:
		achieved = 1
	}

	pct := 100
	if n := len(fr.Requirements); n > 0 {
		pct = int(math.Round(100 * float64(count) / float64(n)))
	}

	return FRScore{
		FRID:                fr.ID,
		AchievedSL:          achieved,
		Percentage:          pct,
		MissingRequirements: missing,
	}
}

// Score returns the FRScore for frID.
func (r *Result) Score(frID string) (FRScore, bool) {
	for _, s := range r.FRScores {
		if s.FRID == frID {
			return s, true
		}
	}
	return FRScore{}, false
}

// Satisfied reports the number of catalogue requirements that were met.
func (r *Result) Satisfied(c *Catalogue) int {
	n := 0
	for _, fr := range c.FRs {
		s, _ := r.Score(fr.ID)
		n += len(fr.Requirements) - len(s.MissingRequirements)
	}
	return n
}
