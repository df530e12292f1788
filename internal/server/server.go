// Package server exposes the assessment engines over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/logging"
	"github.com/ppiankov/icsrisk/internal/markov"
	"github.com/ppiankov/icsrisk/internal/metrics"
	"github.com/ppiankov/icsrisk/internal/model"
	"github.com/ppiankov/icsrisk/internal/ratelimit"
	"github.com/ppiankov/icsrisk/internal/store"
)

// Config holds gRPC server configuration.
type Config struct {
	Port          int
	CataloguePath string
	Engine        config.EngineConfig
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = logging.OrNop(l) } }

// WithMetrics instruments RPCs, engines and reloads.
func WithMetrics(m *metrics.Registry) Option { return func(s *Server) { s.metrics = m } }

// WithLedger records every Assess call in the audit ledger.
func WithLedger(l assess.Recorder) Option { return func(s *Server) { s.ledger = l } }

// WithRepository stores Assess reports and serves GetReport/ListReports.
func WithRepository(repo store.Repository) Option { return func(s *Server) { s.repo = repo } }

// WithRateLimits caps calls per client and method. See config.ServerConfig.
func WithRateLimits(limits map[string]config.RateLimit) Option {
	return func(s *Server) { s.limiter = ratelimit.New(limits) }
}

// WithNotifier passes each completed Assess report to n.
func WithNotifier(n assess.Notifier) Option { return func(s *Server) { s.notifier = n } }

// assessmentService is the handler type registered for ServiceName.
type assessmentService interface {
	Simulate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Progression(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Score(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Assess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReports(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Catalogue(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements the AssessmentService.
type Server struct {
	mu        sync.RWMutex
	catalogue *iec62443.Catalogue

	cfg      Config
	runner   *assess.Runner
	logger   *zap.Logger
	metrics  *metrics.Registry
	ledger   assess.Recorder
	repo     store.Repository
	notifier assess.Notifier
	limiter  *ratelimit.Limiter

	grpcServer *grpc.Server
}

// New loads the catalogue and builds the gRPC server.
func New(cfg Config, opts ...Option) (*Server, error) {
	cat, err := iec62443.LoadCatalogue(cfg.CataloguePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	s := &Server{catalogue: cat, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	runnerOpts := []assess.Option{assess.WithLogger(s.logger), assess.WithMetrics(s.metrics)}
	if s.ledger != nil {
		runnerOpts = append(runnerOpts, assess.WithLedger(s.ledger))
	}
	if s.repo != nil {
		runnerOpts = append(runnerOpts, assess.WithRepository(s.repo))
	}
	if s.notifier != nil {
		runnerOpts = append(runnerOpts, assess.WithNotifier(s.notifier))
	}
	s.runner, err = assess.NewRunner(cfg.Engine, catalogueSource{s}, runnerOpts...)
	if err != nil {
		return nil, err
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		logging.UnaryServerInterceptor(s.logger),
		s.metrics.UnaryServerInterceptor(),
		s.limiter.UnaryServerInterceptor(),
	))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*assessmentService)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodSimulate, assessmentService.Simulate),
		unary(MethodProgression, assessmentService.Progression),
		unary(MethodScore, assessmentService.Score),
		unary(MethodAssess, assessmentService.Assess),
		unary(MethodGetReport, assessmentService.GetReport),
		unary(MethodListReports, assessmentService.ListReports),
		unary(MethodCatalogue, assessmentService.Catalogue),
	},
	Metadata: "icsrisk/v1/assessment.proto",
}

type unaryFunc func(assessmentService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(assessmentService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// Serve listens on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Runner returns the assessment runner bound to this server's catalogue.
func (s *Server) Runner() *assess.Runner {
	return s.runner
}

// Simulate implements the Simulate RPC.
func (s *Server) Simulate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SimulateRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	stats, err := s.runner.Simulate(ctx, req.Simulation, req.Seed)
	return reply(stats, err)
}

// Progression implements the Progression RPC.
func (s *Server) Progression(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ProgressionRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	steps, err := s.runner.Progression(ctx, req.RiskScore, req.Hours)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(ProgressionResponse{Progression: steps, Summary: markov.Summarize(steps)}, nil)
}

// Score implements the Score RPC.
func (s *Server) Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ScoreRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	return reply(s.runner.Score(req.Satisfied), nil)
}

// Assess implements the Assess RPC.
func (s *Server) Assess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req assess.Request
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	rep, err := s.runner.Run(ctx, req)
	return reply(rep, err)
}

// GetReport implements the GetReport RPC.
func (s *Server) GetReport(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.repo == nil {
		return nil, status.Error(codes.Unimplemented, "assessment history is disabled")
	}
	var req GetReportRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	rec, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	rep, err := assess.DecodeReport(rec)
	return reply(rep, err)
}

// ListReports implements the ListReports RPC.
func (s *Server) ListReports(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.repo == nil {
		return nil, status.Error(codes.Unimplemented, "assessment history is disabled")
	}
	var req ListReportsRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	recs, err := s.repo.List(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(ListReportsResponse{Reports: recs}, nil)
}

// Catalogue implements the Catalogue RPC, returning the active catalogue.
func (s *Server) Catalogue(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return reply(s.currentCatalogue(), nil)
}

func decodeRequest(in *structpb.Struct, v any) error {
	if err := Decode(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func reply(v any, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case model.IsInvalidConfiguration(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) currentCatalogue() *iec62443.Catalogue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalogue
}

// catalogueSource lets the runner see reloads.
type catalogueSource struct{ s *Server }

func (c catalogueSource) Catalogue() *iec62443.Catalogue { return c.s.currentCatalogue() }

// ReloadCatalogue re-reads the catalogue file and swaps it in. A file that
// fails to parse or validate leaves the current catalogue in place.
func (s *Server) ReloadCatalogue() error {
	cat, err := iec62443.LoadCatalogue(s.cfg.CataloguePath)
	s.metrics.ObserveReload(err)
	if err != nil {
		return fmt.Errorf("failed to reload catalogue: %w", err)
	}

	s.mu.Lock()
	s.catalogue = cat
	s.mu.Unlock()

	s.logger.Info("catalogue reloaded",
		zap.String("path", s.cfg.CataloguePath),
		zap.Int("requirements", len(cat.RequirementIDs())),
	)
	return nil
}
