package assess

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/icsrisk/internal/audit"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/metrics"
	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/store"
)

func testEngine() config.EngineConfig {
	return config.EngineConfig{
		Iterations:    200,
		Hours:         12,
		MaxIterations: 1000,
		MaxHours:      100,
		Workers:       3,
	}
}

func testRequest() Request {
	return Request{
		Name:      "Chlorination PLC",
		RiskScore: 6,
		Simulation: Simulation{
			BaseImpact:       8,
			BaseLikelihood:   0.6,
			MitigationFactor: 0.5,
			Uncertainty:      0.2,
		},
		Satisfied: []string{"SR1.1", "SR5.1"},
		Seed:      Uint64Ptr(42),
	}
}

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(testEngine(), nil, opts...)
	require.NoError(t, err)
	return r
}

type failingRecorder struct{}

func (failingRecorder) Record(audit.Entry) error { return errors.New("disk full") }

type countingRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (c *countingRecorder) Record(e audit.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func TestRunAppliesDefaults(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := newRunner(t, WithClock(func() time.Time { return fixed }))

	rep, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)

	_, err = uuid.Parse(rep.ID)
	assert.NoError(t, err, "missing id is replaced with a UUID")
	assert.Equal(t, 12, rep.Hours)
	assert.Len(t, rep.Progression, 13)
	assert.Equal(t, fixed, rep.CreatedAt)
	assert.Equal(t, "Chlorination PLC", rep.Name)

	total := 0
	for _, b := range rep.Simulation.Data {
		total += b.Count
	}
	assert.Equal(t, 200, total, "default iteration count")

	assert.Equal(t, 0, rep.Compliance.OverallSL)
	assert.Len(t, rep.Compliance.FRScores, 7)
	assert.Equal(t, rep.Summary, markov.Summarize(rep.Progression))
}

func TestRunKeepsExplicitValues(t *testing.T) {
	r := newRunner(t)
	req := testRequest()
	req.ID = "asset-17"
	req.Hours = IntPtr(0)
	req.Simulation.Iterations = IntPtr(50)

	rep, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "asset-17", rep.ID)
	assert.Equal(t, 0, rep.Hours)
	require.Len(t, rep.Progression, 1)
	assert.Equal(t, 1.0, rep.Progression[0].Probability(markov.Secure))
	assert.Equal(t, 0.0, rep.PCompromised())
}

func TestSeededRunsAreReproducible(t *testing.T) {
	r := newRunner(t)

	a, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	b, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, a.Simulation, b.Simulation)

	other := testRequest()
	other.Seed = Uint64Ptr(43)
	c, err := r.Run(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Simulation.Data, c.Simulation.Data)
}

func TestConfiguredSeedAppliesWhenRequestHasNone(t *testing.T) {
	engine := testEngine()
	engine.Seed = 9
	r, err := NewRunner(engine, nil)
	require.NoError(t, err)

	req := testRequest()
	req.Seed = nil
	a, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, a.Simulation, b.Simulation)
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Request)
		field  string
	}{
		{"risk above 10", func(r *Request) { r.RiskScore = 10.5 }, "riskScore"},
		{"negative risk", func(r *Request) { r.RiskScore = -1 }, "riskScore"},
		{"negative hours", func(r *Request) { r.Hours = IntPtr(-1) }, "hours"},
		{"hours over cap", func(r *Request) { r.Hours = IntPtr(101) }, "hours"},
		{"iterations over cap", func(r *Request) { r.Simulation.Iterations = IntPtr(1001) }, "iterations"},
		{"impact below 1", func(r *Request) { r.Simulation.BaseImpact = 0.5 }, "baseImpact"},
		{"likelihood above 1", func(r *Request) { r.Simulation.BaseLikelihood = 1.5 }, "baseLikelihood"},
		{"negative iterations", func(r *Request) { r.Simulation.Iterations = IntPtr(-5) }, "iterations"},
		{"zero iterations", func(r *Request) { r.Simulation.Iterations = IntPtr(0) }, "iterations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			r := newRunner(t, WithLedger(rec))
			req := testRequest()
			tt.modify(&req)

			_, err := r.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, model.IsInvalidConfiguration(err))

			var ce *model.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.Empty(t, rec.entries, "rejected requests are not recorded")
		})
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	r := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsLedgerAndHistory(t *testing.T) {
	ctx := context.Background()
	ledgerPath := filepath.Join(t.TempDir(), "audit.jsonl")
	ledger, err := audit.Open(ledgerPath)
	require.NoError(t, err)
	repo, err := store.OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer repo.Close()

	r := newRunner(t, WithLedger(ledger), WithRepository(repo))
	req := testRequest()
	req.ID = "rtu-3"
	rep, err := r.Run(ctx, req)
	require.NoError(t, err)
	require.NoError(t, ledger.Close())

	v := audit.Verify(ledgerPath)
	require.True(t, v.Valid, v.Error)
	entries, err := audit.Tail(ledgerPath, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "rtu-3", e.AssessmentID)
	assert.Equal(t, audit.KindAssessment, e.Kind)
	assert.Equal(t, rep.Simulation.Mean, e.Mean)
	assert.Equal(t, rep.PCompromised(), e.PCompromised)
	assert.True(t, strings.HasPrefix(e.InputHash, "sha256:"))

	stored, err := repo.Get(ctx, "rtu-3")
	require.NoError(t, err)
	assert.Equal(t, rep.Compliance.OverallSL, stored.OverallSL)

	decoded, err := DecodeReport(stored)
	require.NoError(t, err)
	assert.Equal(t, rep.Simulation, decoded.Simulation)
	assert.Equal(t, rep.Compliance, decoded.Compliance)
	assert.Equal(t, len(rep.Progression), len(decoded.Progression))
}

func TestLedgerFailureFailsRun(t *testing.T) {
	r := newRunner(t, WithLedger(failingRecorder{}))
	_, err := r.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type failingRepository struct{ store.Repository }

func (failingRepository) Save(context.Context, store.Record) error {
	return errors.New("database is locked")
}

func TestRepositoryFailureLeavesLedgerUntouched(t *testing.T) {
	rec := &countingRecorder{}
	r := newRunner(t, WithLedger(rec), WithRepository(failingRepository{}))

	rep, err := r.Run(context.Background(), testRequest())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Empty(t, rec.entries, "ledger only names stored reports")
}

func TestRunBatchKeepsInputOrder(t *testing.T) {
	rec := &countingRecorder{}
	r := newRunner(t, WithLedger(rec))

	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = testRequest()
		reqs[i].ID = fmt.Sprintf("asset-%02d", i)
		reqs[i].RiskScore = float64(i)
	}

	reports, err := r.RunBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, reports, 10)
	for i, rep := range reports {
		assert.Equal(t, reqs[i].ID, rep.ID)
		assert.Equal(t, float64(i), rep.RiskScore)
	}
	assert.Len(t, rec.entries, 10)
	for _, e := range rec.entries {
		assert.Equal(t, audit.KindBatch, e.Kind)
	}
	assert.Greater(t, reports[9].PCompromised(), reports[0].PCompromised())
}

func TestRunBatchStopsOnError(t *testing.T) {
	r := newRunner(t)
	reqs := []Request{testRequest(), testRequest(), testRequest()}
	reqs[1].RiskScore = 42

	reports, err := r.RunBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.Nil(t, reports)
	assert.Contains(t, err.Error(), "request 1")
	assert.True(t, model.IsInvalidConfiguration(err))
}

func TestRunBatchEmpty(t *testing.T) {
	r := newRunner(t)
	reports, err := r.RunBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestRunUsesCatalogueSource(t *testing.T) {
	cat := &iec62443.Catalogue{
		Standard: "Site baseline",
		FRs: []iec62443.FoundationalRequirement{{
			ID:           "FR1",
			Requirements: []iec62443.Requirement{{ID: "SR1.1", RequiredForSL: 1}},
		}},
	}
	r, err := NewRunner(testEngine(), StaticCatalogue(cat))
	require.NoError(t, err)
	assert.Same(t, cat, r.Catalogue())

	rep, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Compliance.OverallSL)
	assert.Len(t, rep.Compliance.FRScores, 1)
}

func TestRunRecordsMetrics(t *testing.T) {
	m := metrics.NewRegistry()
	r := newRunner(t, WithMetrics(m))

	_, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	bad := testRequest()
	bad.RiskScore = 99
	_, _ = r.Run(context.Background(), bad)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssessmentsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssessmentsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRunsTotal.WithLabelValues(metrics.EngineMonteCarlo, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineRunsTotal.WithLabelValues(metrics.EngineIEC62443, "success")))
}

func TestFormatTextSections(t *testing.T) {
	r := newRunner(t)
	rep, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)

	out := FormatText(rep, r.Catalogue(), "en")
	for _, want := range []string{"Assessment Chlorination PLC", "Residual risk over 200 samples", "Most likely after 12h", "Overall SL 0"} {
		assert.Contains(t, out, want)
	}

	js, err := FormatJSON(rep)
	require.NoError(t, err)
	assert.Contains(t, js, `"overallSL": 0`)

	hist := FormatHistory([]store.Record{{ID: "a", Name: "A very long asset name that will be cut", CreatedAt: rep.CreatedAt, OverallSL: 1}})
	assert.Contains(t, hist, "A very long asset nam...")
	assert.Equal(t, "No assessments recorded.\n", FormatHistory(nil))
}

func TestStride(t *testing.T) {
	assert.Equal(t, 1, stride(0))
	assert.Equal(t, 1, stride(24))
	assert.Equal(t, 2, stride(25))
	assert.Equal(t, 7, stride(168))
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []*Report
}

func (n *recordingNotifier) Notify(rep *Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, rep)
}

func TestRunNotifiesAfterSuccess(t *testing.T) {
	n := &recordingNotifier{}
	r := newRunner(t, WithNotifier(n))

	rep, err := r.Run(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, n.reports, 1)
	assert.Same(t, rep, n.reports[0])

	bad := testRequest()
	bad.RiskScore = 11
	_, err = r.Run(context.Background(), bad)
	require.Error(t, err)
	assert.Len(t, n.reports, 1, "failed runs must not notify")
}
