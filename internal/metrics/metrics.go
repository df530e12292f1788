// Package metrics exposes Prometheus instrumentation for the engines, the
// gRPC service, catalogue reloads and the batch daemon.
package metrics

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Engine label values.
const (
	EngineMonteCarlo = "montecarlo"
	EngineMarkov     = "markov"
	EngineIEC62443   = "iec62443"
)

// Registry holds every icsrisk collector. All methods are safe on a nil
// *Registry and do nothing.
type Registry struct {
	registry *prometheus.Registry

	EngineRunsTotal    *prometheus.CounterVec
	EngineDuration     *prometheus.HistogramVec
	AssessmentsTotal   *prometheus.CounterVec
	OverallSL          prometheus.Histogram
	ResidualRiskMean   prometheus.Histogram
	RPCRequestsTotal   *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec
	CatalogueReloads   *prometheus.CounterVec
	DaemonJobsTotal    *prometheus.CounterVec
	DaemonJobsInFlight prometheus.Gauge
}

// NewRegistry creates a registry with all collectors registered, plus the
// standard Go and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Registry{
		registry: reg,

		EngineRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrisk_engine_runs_total",
			Help: "Engine invocations by engine and outcome",
		}, []string{"engine", "status"}),

		EngineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icsrisk_engine_duration_seconds",
			Help:    "Engine run time in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"engine"}),

		AssessmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrisk_assessments_total",
			Help: "Full assessments by outcome",
		}, []string{"status"}),

		OverallSL: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "icsrisk_assessment_overall_sl",
			Help:    "Overall IEC 62443 security level of completed assessments",
			Buckets: []float64{0, 1, 2, 3, 4},
		}),

		ResidualRiskMean: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "icsrisk_assessment_residual_risk_mean",
			Help:    "Mean Monte Carlo residual risk of completed assessments",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),

		RPCRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrisk_rpc_requests_total",
			Help: "gRPC requests by method and status code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icsrisk_rpc_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		CatalogueReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrisk_catalogue_reloads_total",
			Help: "Catalogue hot-reload attempts by outcome",
		}, []string{"status"}),

		DaemonJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "icsrisk_daemon_jobs_total",
			Help: "Inbox requests processed by outcome",
		}, []string{"status"}),

		DaemonJobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "icsrisk_daemon_jobs_in_flight",
			Help: "Inbox requests currently being assessed",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveEngine records one engine run.
func (r *Registry) ObserveEngine(engine string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.EngineRunsTotal.WithLabelValues(engine, outcome(err)).Inc()
	r.EngineDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// ObserveAssessment records a finished assessment. overallSL and mean are
// ignored when err is non-nil.
func (r *Registry) ObserveAssessment(overallSL int, mean float64, err error) {
	if r == nil {
		return
	}
	r.AssessmentsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return
	}
	r.OverallSL.Observe(float64(overallSL))
	r.ResidualRiskMean.Observe(mean)
}

// ObserveReload records a catalogue reload attempt.
func (r *Registry) ObserveReload(err error) {
	if r == nil {
		return
	}
	r.CatalogueReloads.WithLabelValues(outcome(err)).Inc()
}

// JobStarted and JobFinished bracket one daemon job.
func (r *Registry) JobStarted() {
	if r == nil {
		return
	}
	r.DaemonJobsInFlight.Inc()
}

// JobFinished records the outcome of a daemon job.
func (r *Registry) JobFinished(err error) {
	if r == nil {
		return
	}
	r.DaemonJobsInFlight.Dec()
	r.DaemonJobsTotal.WithLabelValues(outcome(err)).Inc()
}

// UnaryServerInterceptor counts and times every unary RPC.
func (r *Registry) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if r == nil {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		r.RPCRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		r.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
