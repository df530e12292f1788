package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/logging"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/metrics"
	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/store"
)

// CatalogueSource yields the catalogue to score against. Implementations may
// swap it at runtime.
type CatalogueSource interface {
	Catalogue() *iec62443.Catalogue
}

type staticCatalogue struct{ c *iec62443.Catalogue }

func (s staticCatalogue) Catalogue() *iec62443.Catalogue { return s.c }

// StaticCatalogue wraps a fixed catalogue.
func StaticCatalogue(c *iec62443.Catalogue) CatalogueSource { return staticCatalogue{c} }

// Recorder appends ledger entries. *audit.Ledger satisfies it.
type Recorder interface {
	Record(audit.Entry) error
}

// Notifier is told about every completed assessment. It must not block.
type Notifier interface {
	Notify(*Report)
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = logging.OrNop(l) } }

// WithMetrics records engine and assessment metrics.
func WithMetrics(m *metrics.Registry) Option { return func(r *Runner) { r.metrics = m } }

// WithLedger appends one entry per assessment.
func WithLedger(l Recorder) Option { return func(r *Runner) { r.ledger = l } }

// WithRepository saves every report.
func WithRepository(repo store.Repository) Option { return func(r *Runner) { r.repo = repo } }

// WithNotifier passes each completed report to n, after it is recorded.
func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notifier = n } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// Runner executes assessments under the engine defaults and caps.
type Runner struct {
	engine    config.EngineConfig
	catalogue CatalogueSource
	logger    *zap.Logger
	metrics   *metrics.Registry
	ledger    Recorder
	repo      store.Repository
	notifier  Notifier
	now       func() time.Time
}

// NewRunner creates a runner. A nil catalogue source scores against the
// built-in catalogue.
func NewRunner(engine config.EngineConfig, catalogue CatalogueSource, opts ...Option) (*Runner, error) {
	if catalogue == nil {
		c, err := iec62443.DefaultCatalogue()
		if err != nil {
			return nil, err
		}
		catalogue = StaticCatalogue(c)
	}
	if engine.Workers < 1 {
		engine.Workers = 1
	}

	r := &Runner{
		engine:    engine,
		catalogue: catalogue,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Catalogue returns the catalogue the next assessment will use.
func (r *Runner) Catalogue() *iec62443.Catalogue {
	return r.catalogue.Catalogue()
}

// Normalize fills defaults and validates req against the runner's caps.
func (r *Runner) Normalize(req Request) (Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Hours == nil {
		req.Hours = IntPtr(r.engine.Hours)
	}
	p := req.Simulation.Params(r.engine.Iterations)
	req.Simulation.Iterations = IntPtr(p.Iterations)
	if req.Seed == nil && r.engine.Seed != 0 {
		req.Seed = Uint64Ptr(r.engine.Seed)
	}

	if err := model.ValidateStruct(req); err != nil {
		return req, err
	}
	if err := p.Validate(); err != nil {
		return req, err
	}
	if r.engine.MaxIterations > 0 && p.Iterations > r.engine.MaxIterations {
		return req, model.Invalid("iterations", "must be <= %d, got %d", r.engine.MaxIterations, p.Iterations)
	}
	if r.engine.MaxHours > 0 && *req.Hours > r.engine.MaxHours {
		return req, model.Invalid("hours", "must be <= %d, got %d", r.engine.MaxHours, *req.Hours)
	}
	return req, nil
}

// Run assesses one request.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	return r.run(ctx, req, audit.KindAssessment)
}

// RunBatch assesses reqs with at most engine.workers in flight and returns
// reports in input order. The first failure cancels the rest.
func (r *Runner) RunBatch(ctx context.Context, reqs []Request) ([]*Report, error) {
	reports := make([]*Report, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.Workers)

	for i, req := range reqs {
		g.Go(func() error {
			rep, err := r.run(gctx, req, audit.KindBatch)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *Runner) run(ctx context.Context, req Request, kind string) (rep *Report, err error) {
	defer func() {
		if err != nil {
			r.metrics.ObserveAssessment(0, 0, err)
			r.logger.Warn("assessment failed", zap.String("id", req.ID), zap.Error(err))
		}
	}()

	req, err = r.Normalize(req)
	if err != nil {
		return nil, err
	}
	log := r.logger.With(zap.String("id", req.ID))

	stats, err := r.Simulate(ctx, req.Simulation, req.Seed)
	if err != nil {
		return nil, err
	}
	steps, err := r.Progression(ctx, req.RiskScore, req.Hours)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compliance := r.Score(req.Satisfied)

	rep = &Report{
		ID:          req.ID,
		Name:        req.Name,
		CreatedAt:   r.now().UTC(),
		RiskScore:   req.RiskScore,
		Hours:       *req.Hours,
		Simulation:  stats,
		Progression: steps,
		Summary:     markov.Summarize(steps),
		Compliance:  compliance,
	}

	if err := r.persist(ctx, req, rep, kind); err != nil {
		return nil, err
	}
	if r.notifier != nil {
		r.notifier.Notify(rep)
	}

	r.metrics.ObserveAssessment(compliance.OverallSL, stats.Mean, nil)
	log.Info("assessment completed",
		zap.String("kind", kind),
		zap.Int("overall_sl", compliance.OverallSL),
		zap.Float64("mean", stats.Mean),
		zap.Float64("p_compromised", rep.PCompromised()),
	)
	return rep, nil
}

// persist saves rep to the repository, then appends its ledger entry. The
// ledger entry is written last so it never names a report that was not stored.
func (r *Runner) persist(ctx context.Context, req Request, rep *Report, kind string) error {
	if r.repo != nil {
		body, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("marshal report %s: %w", rep.ID, err)
		}
		err = r.repo.Save(ctx, store.Record{
			ID:           rep.ID,
			Name:         rep.Name,
			CreatedAt:    rep.CreatedAt,
			OverallSL:    rep.Compliance.OverallSL,
			Mean:         rep.Simulation.Mean,
			P90:          rep.Simulation.P90,
			PCompromised: rep.PCompromised(),
			Report:       body,
		})
		if err != nil {
			return err
		}
	}

	if r.ledger != nil {
		inputHash, err := audit.HashInput(req)
		if err != nil {
			return err
		}
		err = r.ledger.Record(audit.Entry{
			AssessmentID: rep.ID,
			Kind:         kind,
			InputHash:    inputHash,
			OverallSL:    rep.Compliance.OverallSL,
			Mean:         rep.Simulation.Mean,
			P90:          rep.Simulation.P90,
			PCompromised: rep.PCompromised(),
		})
		if err != nil {
			return fmt.Errorf("record assessment %s: %w", rep.ID, err)
		}
	}
	return nil
}

// DecodeReport parses a stored report body.
func DecodeReport(rec *store.Record) (*Report, error) {
	var rep Report
	if err := json.Unmarshal(rec.Report, &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", rec.ID, err)
	}
	return &rep, nil
}
