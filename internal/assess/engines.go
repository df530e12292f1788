package assess

import (
	"context"
	"time"

	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/metrics"
	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
	"github.com/ppiankov/icsrisk/internal/randsrc"
)

// Simulate runs the Monte Carlo engine alone. Unset iterations take the
// configured default; seed nil falls back to the configured seed.
func (r *Runner) Simulate(ctx context.Context, s Simulation, seed *uint64) (*montecarlo.Stats, error) {
	p := s.Params(r.engine.Iterations)
	if r.engine.MaxIterations > 0 && p.Iterations > r.engine.MaxIterations {
		return nil, model.Invalid("iterations", "must be <= %d, got %d", r.engine.MaxIterations, p.Iterations)
	}
	if seed == nil && r.engine.Seed != 0 {
		seed = Uint64Ptr(r.engine.Seed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := randsrc.Global()
	if seed != nil {
		src = randsrc.Seeded(*seed)
	}
	start := time.Now()
	stats, err := montecarlo.New(src).Simulate(p)
	r.metrics.ObserveEngine(metrics.EngineMonteCarlo, time.Since(start), err)
	return stats, err
}

// Progression runs the Markov engine alone. hours nil takes the configured
// default.
func (r *Runner) Progression(ctx context.Context, riskScore float64, hours *int) ([]markov.Step, error) {
	h := r.engine.Hours
	if hours != nil {
		h = *hours
	}
	if r.engine.MaxHours > 0 && h > r.engine.MaxHours {
		return nil, model.Invalid("hours", "must be <= %d, got %d", r.engine.MaxHours, h)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	steps, err := markov.SimulateProgression(riskScore, h)
	r.metrics.ObserveEngine(metrics.EngineMarkov, time.Since(start), err)
	return steps, err
}

// Score runs the IEC 62443 scorer against the current catalogue.
func (r *Runner) Score(satisfied []string) *iec62443.Result {
	start := time.Now()
	res := iec62443.Score(r.catalogue.Catalogue(), satisfied)
	r.metrics.ObserveEngine(metrics.EngineIEC62443, time.Since(start), nil)
	return res
}
