package montecarlo

import (
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/randsrc"
)

func baseParams() Params {
	return Params{
		BaseImpact:       5,
		BaseLikelihood:   0.5,
		MitigationFactor: 0,
		Uncertainty:      0.1,
		Iterations:       1000,
	}
}

func TestConcreteScenarioMeanNearNoiselessValue(t *testing.T) {
	for _, seed := range []uint64{1, 7, 42, 2024} {
		stats, err := New(randsrc.Seeded(seed)).Simulate(baseParams())
		require.NoError(t, err)
		assert.Greater(t, stats.Mean, 20.0, "seed %d", seed)
		assert.Less(t, stats.Mean, 30.0, "seed %d", seed)
	}

	stats, err := Simulate(baseParams())
	require.NoError(t, err)
	assert.Greater(t, stats.Mean, 20.0)
	assert.Less(t, stats.Mean, 30.0)
}

func TestInvalidParamsFailFast(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		field  string
	}{
		{"zero iterations", func(p *Params) { p.Iterations = 0 }, "iterations"},
		{"negative iterations", func(p *Params) { p.Iterations = -5 }, "iterations"},
		{"impact below 1", func(p *Params) { p.BaseImpact = 0.5 }, "baseImpact"},
		{"impact above 10", func(p *Params) { p.BaseImpact = 10.5 }, "baseImpact"},
		{"likelihood negative", func(p *Params) { p.BaseLikelihood = -0.1 }, "baseLikelihood"},
		{"likelihood above 1", func(p *Params) { p.BaseLikelihood = 1.1 }, "baseLikelihood"},
		{"mitigation above 1", func(p *Params) { p.MitigationFactor = 1.5 }, "mitigationFactor"},
		{"negative uncertainty", func(p *Params) { p.Uncertainty = -1 }, "uncertainty"},
		{"NaN impact", func(p *Params) { p.BaseImpact = math.NaN() }, "baseImpact"},
		{"infinite uncertainty", func(p *Params) { p.Uncertainty = math.Inf(1) }, "uncertainty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams()
			tt.mutate(&p)
			stats, err := New(randsrc.Seeded(1)).Simulate(p)
			require.Error(t, err)
			assert.Nil(t, stats)
			assert.ErrorIs(t, err, model.ErrInvalidConfiguration)

			var cerr *model.ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestBoundaryParamsAccepted(t *testing.T) {
	p := Params{BaseImpact: 10, BaseLikelihood: 1, MitigationFactor: 0, Uncertainty: 0, Iterations: 1}
	stats, err := New(randsrc.Seeded(3)).Simulate(p)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.Mean)
	assert.Equal(t, []Bucket{{RiskScore: 100, Count: 1}}, stats.Data)
}

func TestFixedSequenceIsExact(t *testing.T) {
	// u2 = 0.25 puts cos(2πu2) at zero, u3 = 0.5 removes mitigation noise.
	src := randsrc.Sequence(0.5, 0.25, 0.5)
	p := Params{BaseImpact: 5, BaseLikelihood: 0.5, MitigationFactor: 0.2, Uncertainty: 0.1, Iterations: 10}

	stats, err := New(src).Simulate(p)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stats.Mean)
	assert.Equal(t, 20.0, stats.P10)
	assert.Equal(t, 20.0, stats.P90)
	assert.Equal(t, []Bucket{{RiskScore: 20, Count: 10}}, stats.Data)
	assert.Equal(t, 30, src.Drawn())
}

func TestZeroUniformIsResampled(t *testing.T) {
	src := randsrc.Sequence(0, 0.5, 0.25, 0.5)
	p := Params{BaseImpact: 5, BaseLikelihood: 0.5, MitigationFactor: 0.2, Uncertainty: 1, Iterations: 3}

	stats, err := New(src).Simulate(p)
	require.NoError(t, err)
	assert.Equal(t, 20.0, stats.Mean)
	assert.Equal(t, 12, src.Drawn())
}

func TestPercentileNearestRank(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		q    float64
		want float64
	}{
		{0.1, 2},
		{0.9, 10},
		{0.0, 1},
		{0.5, 6},
	}
	for _, tt := range tests {
		if got := percentile(sorted, tt.q); got != tt.want {
			t.Errorf("percentile(q=%v) = %v, want %v", tt.q, got, tt.want)
		}
	}

	if got := percentile([]float64{4.2}, 0.9); got != 4.2 {
		t.Errorf("single sample p90 = %v, want 4.2", got)
	}
}

func TestSummarizeHistogram(t *testing.T) {
	stats := summarize([]float64{5.5, 0.4, 1.9, 5.0, 1.2})

	assert.InDelta(t, 2.8, stats.Mean, 1e-12)
	assert.Equal(t, 0.4, stats.P10)
	assert.Equal(t, 5.5, stats.P90)
	assert.Equal(t, []Bucket{
		{RiskScore: 0, Count: 1},
		{RiskScore: 1, Count: 2},
		{RiskScore: 5, Count: 2},
	}, stats.Data)
}

func TestMitigationLowersMean(t *testing.T) {
	p := baseParams()
	p.Iterations = 20000
	p.Uncertainty = 0.5

	means := make([]float64, 0, 4)
	for _, m := range []float64{0, 0.25, 0.5, 0.75} {
		p.MitigationFactor = m
		stats, err := New(randsrc.Seeded(11)).Simulate(p)
		require.NoError(t, err)
		means = append(means, stats.Mean)
	}
	for i := 1; i < len(means); i++ {
		assert.Less(t, means[i], means[i-1], "mitigation step %d", i)
	}
}

func TestUncertaintyWidensSpread(t *testing.T) {
	p := baseParams()
	p.Iterations = 20000

	spread := func(u float64) float64 {
		p.Uncertainty = u
		stats, err := New(randsrc.Seeded(5)).Simulate(p)
		require.NoError(t, err)
		return stats.P90 - stats.P10
	}

	narrow, mid, wide := spread(0.1), spread(0.5), spread(1.5)
	assert.Less(t, narrow, mid)
	assert.Less(t, mid, wide)
}

func TestSimulationInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("samples bounded, histogram sorted and complete", prop.ForAll(
		func(impact, likelihood, mitigation, uncertainty float64, iterations int) bool {
			p := Params{
				BaseImpact:       impact,
				BaseLikelihood:   likelihood,
				MitigationFactor: mitigation,
				Uncertainty:      uncertainty,
				Iterations:       iterations,
			}
			stats, err := New(randsrc.Seeded(uint64(iterations))).Simulate(p)
			if err != nil {
				return false
			}
			if stats.P10 > stats.P90 {
				return false
			}
			total := 0
			for i, b := range stats.Data {
				if b.RiskScore < 0 || b.RiskScore > 100 || b.Count <= 0 {
					return false
				}
				if i > 0 && stats.Data[i-1].RiskScore >= b.RiskScore {
					return false
				}
				total += b.Count
			}
			return total == iterations && stats.Mean >= 0 && stats.Mean <= 100
		},
		gen.Float64Range(1, 10),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 3),
		gen.IntRange(1000, 3000),
	))

	properties.TestingRun(t)
}

func TestFormatText(t *testing.T) {
	stats := summarize([]float64{10, 10.5, 11, 12})
	out := FormatText(stats)
	assert.Contains(t, out, "over 4 samples")
	assert.Contains(t, out, " 10 │")
	assert.Equal(t, 3, strings.Count(out, "│"))
}

func TestFormatJSONShape(t *testing.T) {
	out, err := FormatJSON(summarize([]float64{3}))
	require.NoError(t, err)
	for _, key := range []string{`"mean"`, `"p90"`, `"p10"`, `"data"`, `"riskScore"`, `"count"`} {
		assert.Contains(t, out, key)
	}
}
