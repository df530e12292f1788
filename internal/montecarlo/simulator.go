// Package montecarlo samples a residual-risk distribution from base impact,
// likelihood, mitigation, and an uncertainty scale.
package montecarlo

import (
	"math"
	"sort"

	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/randsrc"
)

// Params is the simulation input. Domains are preconditions checked by Validate.
type Params struct {
	BaseImpact       float64 `json:"baseImpact" yaml:"base_impact" validate:"finite,gte=1,lte=10"`
	BaseLikelihood   float64 `json:"baseLikelihood" yaml:"base_likelihood" validate:"finite,gte=0,lte=1"`
	MitigationFactor float64 `json:"mitigationFactor" yaml:"mitigation_factor" validate:"finite,gte=0,lte=1"`
	Uncertainty      float64 `json:"uncertainty" yaml:"uncertainty" validate:"finite,gte=0"`
	Iterations       int     `json:"iterations" yaml:"iterations" validate:"gte=1"`
}

// Bucket counts samples whose floor equals RiskScore.
type Bucket struct {
	RiskScore int `json:"riskScore"`
	Count     int `json:"count"`
}

// Stats summarizes one simulation run.
type Stats struct {
	Mean float64  `json:"mean"`
	P90  float64  `json:"p90"`
	P10  float64  `json:"p10"`
	Data []Bucket `json:"data"`
}

// Validate rejects parameters outside their documented domains.
func (p Params) Validate() error {
	return model.ValidateStruct(p)
}

// Simulator draws residual-risk samples from an injected uniform source.
type Simulator struct {
	src randsrc.Source
}

// New creates a simulator. A nil source falls back to the global source.
func New(src randsrc.Source) *Simulator {
	if src == nil {
		src = randsrc.Global()
	}
	return &Simulator{src: src}
}

// Simulate runs a simulation on the process-wide random source.
func Simulate(p Params) (*Stats, error) {
	return New(nil).Simulate(p)
}

// Simulate validates p and samples p.Iterations residual-risk values.
func (s *Simulator) Simulate(p Params) (*Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	samples := make([]float64, p.Iterations)
	for i := range samples {
		samples[i] = s.sample(p)
	}
	return summarize(samples), nil
}

// sample produces one residual-risk value in [0, 100].
func (s *Simulator) sample(p Params) float64 {
	u1 := s.src.Float64()
	for u1 == 0 {
		u1 = s.src.Float64()
	}
	u2 := s.src.Float64()

	// Box-Muller, cosine branch only.
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	variation := z * p.Uncertainty

	likelihood := clamp(p.BaseLikelihood+variation*0.2, 0, 1)
	impact := clamp(p.BaseImpact+variation*0.5, 1, 10)

	// Mitigation efficacy carries +/-10% relative noise.
	u3 := s.src.Float64()
	mitigation := clamp(p.MitigationFactor*(1+(u3-0.5)*0.2), 0, 1)

	return roundTo1(impact * likelihood * 10 * (1 - mitigation))
}

// summarize sorts samples in place and derives mean, nearest-rank
// percentiles, and the integer histogram. samples must be non-empty.
func summarize(samples []float64) *Stats {
	sort.Float64s(samples)

	sum := 0.0
	for _, v := range samples {
		sum += v
	}

	return &Stats{
		Mean: sum / float64(len(samples)),
		P90:  percentile(samples, 0.9),
		P10:  percentile(samples, 0.1),
		Data: histogram(samples),
	}
}

// percentile returns sorted[floor(n*q)] without interpolation.
func percentile(sorted []float64, q float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * q))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// histogram buckets sorted samples by floor(value), emitting only non-empty
// buckets in ascending order.
func histogram(sorted []float64) []Bucket {
	var out []Bucket
	for _, v := range sorted {
		b := int(math.Floor(v))
		if n := len(out); n > 0 && out[n-1].RiskScore == b {
			out[n-1].Count++
			continue
		}
		out = append(out, Bucket{RiskScore: b, Count: 1})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
