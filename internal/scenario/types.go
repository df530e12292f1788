// Package scenario checks site baselines: YAML files listing assets and the
// risk bounds each must stay within.
package scenario

import (
	"github.com/ppiankov/icsrisk/internal/assess"
)

// Asset is the YAML form of an assessment request.
type Asset struct {
	Name       string            `yaml:"name"`
	RiskScore  float64           `yaml:"risk_score"`
	Hours      *int              `yaml:"hours,omitempty"`
	Simulation assess.Simulation `yaml:"simulation"`
	Satisfied  []string          `yaml:"satisfied"`
	Seed       *uint64           `yaml:"seed,omitempty"`
}

// Request converts a to an assessment request.
func (a Asset) Request() assess.Request {
	return assess.Request{
		Name:       a.Name,
		RiskScore:  a.RiskScore,
		Hours:      a.Hours,
		Simulation: a.Simulation,
		Satisfied:  a.Satisfied,
		Seed:       a.Seed,
	}
}

// Expect bounds an assessment. Unset fields are not checked.
type Expect struct {
	MinSL           *int     `yaml:"min_sl,omitempty"`
	MaxMean         *float64 `yaml:"max_mean,omitempty"`
	MaxP90          *float64 `yaml:"max_p90,omitempty"`
	MaxPCompromised *float64 `yaml:"max_p_compromised,omitempty"`
}

// Case is one asset and its bounds.
type Case struct {
	Asset  Asset  `yaml:"asset"`
	Expect Expect `yaml:"expect"`
}

// Scenario is a named collection of cases. Seed applies to cases that do
// not set their own so runs are reproducible.
type Scenario struct {
	Name  string  `yaml:"name"`
	Seed  *uint64 `yaml:"seed,omitempty"`
	Cases []Case  `yaml:"cases"`
}

// CaseResult is the outcome of checking one case.
type CaseResult struct {
	Index        int      `json:"index"`
	Name         string   `json:"name"`
	Passed       bool     `json:"passed"`
	OverallSL    int      `json:"overallSL"`
	Mean         float64  `json:"mean"`
	P90          float64  `json:"p90"`
	PCompromised float64  `json:"pCompromised"`
	Failures     []string `json:"failures,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// RunResult is the outcome of running all cases in one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
