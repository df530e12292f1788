// Package assess runs the three risk engines over one asset and assembles
// their outputs into a single report.
package assess

import (
	"time"

	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
)

// Simulation is the Monte Carlo part of a request. Iterations nil takes the
// runner's default; an explicit 0 reaches the engine and is rejected there.
type Simulation struct {
	BaseImpact       float64 `json:"baseImpact" yaml:"base_impact"`
	BaseLikelihood   float64 `json:"baseLikelihood" yaml:"base_likelihood"`
	MitigationFactor float64 `json:"mitigationFactor" yaml:"mitigation_factor"`
	Uncertainty      float64 `json:"uncertainty" yaml:"uncertainty"`
	Iterations       *int    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
}

// Params resolves s into engine parameters, using defaultIterations when
// Iterations is unset.
func (s Simulation) Params(defaultIterations int) montecarlo.Params {
	n := defaultIterations
	if s.Iterations != nil {
		n = *s.Iterations
	}
	return montecarlo.Params{
		BaseImpact:       s.BaseImpact,
		BaseLikelihood:   s.BaseLikelihood,
		MitigationFactor: s.MitigationFactor,
		Uncertainty:      s.Uncertainty,
		Iterations:       n,
	}
}

// Request describes one asset to assess. Hours and Simulation.Iterations
// fall back to the runner's defaults when unset.
type Request struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name,omitempty"`
	RiskScore  float64    `json:"riskScore" validate:"finite,gte=0,lte=10"`
	Hours      *int       `json:"hours,omitempty" validate:"omitempty,gte=0"`
	Simulation Simulation `json:"simulation"`
	Satisfied  []string   `json:"satisfied"`
	Seed       *uint64    `json:"seed,omitempty"`
}

// Report is the combined result of one assessment.
type Report struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	RiskScore   float64           `json:"riskScore"`
	Hours       int               `json:"hours"`
	Simulation  *montecarlo.Stats `json:"simulation"`
	Progression []markov.Step     `json:"progression"`
	Summary     markov.Summary    `json:"summary"`
	Compliance  *iec62443.Result  `json:"compliance"`
}

// PCompromised is the final-hour probability of the Compromised state.
func (r *Report) PCompromised() float64 {
	if len(r.Progression) == 0 {
		return 0
	}
	return r.Progression[len(r.Progression)-1].Probability(markov.Compromised)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Uint64Ptr returns a pointer to v.
func Uint64Ptr(v uint64) *uint64 { return &v }
