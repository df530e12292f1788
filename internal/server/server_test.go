package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/icsrisk/internal/assess"
	"github.com/ppiankov/icsrisk/internal/config"
	"github.com/ppiankov/icsrisk/internal/iec62443"
	"github.com/ppiankov/icsrisk/internal/montecarlo"
	"github.com/ppiankov/icsrisk/internal/store"
)

const smallCatalogue = `standard: Site baseline
version: "1"
foundational_requirements:
- id: FR1
  requirements:
  - {id: A, required_for_sl: 1}
  - {id: B, required_for_sl: 2}
`

func testEngine() config.EngineConfig {
	return config.EngineConfig{Iterations: 100, Hours: 6, MaxIterations: 1000, MaxHours: 48, Workers: 2}
}

// testServer spins up an in-process gRPC server on a random port and returns a connection.
func testServer(t *testing.T, cfg Config, opts ...Option) (*Server, *grpc.ClientConn) {
	t.Helper()
	if cfg.Engine.Iterations == 0 {
		cfg.Engine = testEngine()
	}

	srv, err := New(cfg, opts...)
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		srv.GracefulStop()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return srv, conn
}

func call(t *testing.T, conn *grpc.ClientConn, method string, req, resp any) error {
	t.Helper()
	in, err := Encode(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), FullMethod(method), in, out); err != nil {
		return err
	}
	return Decode(out, resp)
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func simParams() assess.Simulation {
	return assess.Simulation{BaseImpact: 7, BaseLikelihood: 0.4, MitigationFactor: 0.3, Uncertainty: 0.15}
}

func TestSimulate(t *testing.T) {
	_, conn := testServer(t, Config{})

	var stats montecarlo.Stats
	err := call(t, conn, MethodSimulate, SimulateRequest{Simulation: simParams(), Seed: assess.Uint64Ptr(3)}, &stats)
	require.NoError(t, err)

	n := 0
	for _, b := range stats.Data {
		n += b.Count
	}
	assert.Equal(t, 100, n, "absent iterations take the server default")
	assert.LessOrEqual(t, stats.P10, stats.P90)

	var again montecarlo.Stats
	require.NoError(t, call(t, conn, MethodSimulate, SimulateRequest{Simulation: simParams(), Seed: assess.Uint64Ptr(3)}, &again))
	assert.Equal(t, stats, again)
}

func TestExplicitZeroIterationsIsInvalidArgument(t *testing.T) {
	_, conn := testServer(t, Config{})

	zero := simParams()
	zero.Iterations = assess.IntPtr(0)
	err := call(t, conn, MethodSimulate, SimulateRequest{Simulation: zero}, &montecarlo.Stats{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "iterations")

	err = call(t, conn, MethodAssess, assess.Request{RiskScore: 4, Simulation: zero}, &assess.Report{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "iterations")
}

func TestInvalidInputIsInvalidArgument(t *testing.T) {
	_, conn := testServer(t, Config{})

	bad := simParams()
	bad.BaseImpact = 0
	err := call(t, conn, MethodSimulate, SimulateRequest{Simulation: bad}, &montecarlo.Stats{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "baseImpact")

	err = call(t, conn, MethodProgression, map[string]any{"riskScore": 5, "hours": 10000}, &ProgressionResponse{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = call(t, conn, MethodScore, map[string]any{"satisfied": []string{}, "bogus": true}, &iec62443.Result{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "unknown fields are rejected")
}

func TestProgression(t *testing.T) {
	_, conn := testServer(t, Config{})

	var resp ProgressionResponse
	require.NoError(t, call(t, conn, MethodProgression, ProgressionRequest{RiskScore: 10}, &resp))
	assert.Len(t, resp.Progression, 7)
	assert.Equal(t, 6, resp.Summary.Hours)

	hours := 0
	require.NoError(t, call(t, conn, MethodProgression, ProgressionRequest{RiskScore: 2, Hours: &hours}, &resp))
	assert.Len(t, resp.Progression, 1)
}

func TestScore(t *testing.T) {
	_, conn := testServer(t, Config{})
	cat, err := iec62443.DefaultCatalogue()
	require.NoError(t, err)

	var res iec62443.Result
	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{Satisfied: cat.RequirementIDs()}, &res))
	assert.Equal(t, 2, res.OverallSL)

	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{}, &res))
	assert.Equal(t, 0, res.OverallSL)
	assert.Len(t, res.FRScores, 7)
}

func TestAssessAndHistory(t *testing.T) {
	repo, err := store.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer repo.Close()
	_, conn := testServer(t, Config{}, WithRepository(repo))

	req := assess.Request{
		ID:         "substation-4",
		Name:       "Substation 4 RTU",
		RiskScore:  7,
		Simulation: simParams(),
		Satisfied:  []string{"SR1.1"},
		Seed:       assess.Uint64Ptr(11),
	}
	var rep assess.Report
	require.NoError(t, call(t, conn, MethodAssess, req, &rep))
	assert.Equal(t, "substation-4", rep.ID)
	assert.Equal(t, 6, rep.Hours)
	assert.Equal(t, 0, rep.Compliance.OverallSL)

	var got assess.Report
	require.NoError(t, call(t, conn, MethodGetReport, GetReportRequest{ID: "substation-4"}, &got))
	assert.Equal(t, rep.Simulation, got.Simulation)

	var list ListReportsResponse
	require.NoError(t, call(t, conn, MethodListReports, ListReportsRequest{Limit: 10}, &list))
	require.Len(t, list.Reports, 1)
	assert.Equal(t, "Substation 4 RTU", list.Reports[0].Name)

	err = call(t, conn, MethodGetReport, GetReportRequest{ID: "nope"}, &got)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestHistoryDisabledWithoutRepository(t *testing.T) {
	_, conn := testServer(t, Config{})
	err := call(t, conn, MethodListReports, ListReportsRequest{}, &ListReportsResponse{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestCatalogueRPC(t *testing.T) {
	path := writeTempFile(t, "cat.yaml", smallCatalogue)
	_, conn := testServer(t, Config{CataloguePath: path})

	var cat iec62443.Catalogue
	require.NoError(t, call(t, conn, MethodCatalogue, struct{}{}, &cat))
	assert.Equal(t, "Site baseline", cat.Standard)
	assert.Equal(t, []string{"A", "B"}, cat.RequirementIDs())
}

func TestNewRejectsBadCatalogue(t *testing.T) {
	path := writeTempFile(t, "cat.yaml", "foundational_requirements:\n- id: FR1\n- id: FR1\n")
	_, err := New(Config{CataloguePath: path, Engine: testEngine()})
	require.Error(t, err)
}

func TestReloadCatalogue(t *testing.T) {
	path := writeTempFile(t, "cat.yaml", smallCatalogue)
	srv, conn := testServer(t, Config{CataloguePath: path})

	var res iec62443.Result
	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{Satisfied: []string{"A"}}, &res))
	assert.Equal(t, 1, res.OverallSL)

	// Drop B: A alone now reaches SL 2.
	require.NoError(t, os.WriteFile(path, []byte(smallCatalogue[:len(smallCatalogue)-len("  - {id: B, required_for_sl: 2}\n")]), 0o644))
	require.NoError(t, srv.ReloadCatalogue())
	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{Satisfied: []string{"A"}}, &res))
	assert.Equal(t, 2, res.OverallSL)

	// A broken file keeps the last good catalogue.
	require.NoError(t, os.WriteFile(path, []byte("foundational_requirements: ["), 0o644))
	assert.Error(t, srv.ReloadCatalogue())
	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{Satisfied: []string{"A"}}, &res))
	assert.Equal(t, 2, res.OverallSL)
}

func TestHotReloadOnFileChange(t *testing.T) {
	path := writeTempFile(t, "cat.yaml", smallCatalogue)
	srv, conn := testServer(t, Config{CataloguePath: path})

	r, err := NewReloader(srv, path, nil)
	require.NoError(t, err)
	r.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := smallCatalogue + "- id: FR2\n  requirements:\n  - {id: C, required_for_sl: 1}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		var res iec62443.Result
		if err := call(t, conn, MethodScore, ScoreRequest{}, &res); err != nil {
			return false
		}
		return len(res.FRScores) == 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewReloaderRequiresPath(t *testing.T) {
	_, err := NewReloader(nil, "", nil)
	assert.Error(t, err)
}

func TestConcurrentAssessments(t *testing.T) {
	_, conn := testServer(t, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var rep assess.Report
			errs <- call(t, conn, MethodAssess, assess.Request{RiskScore: float64(i % 11), Simulation: simParams()}, &rep)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestEncodeDecode(t *testing.T) {
	s, err := Encode(ProgressionRequest{RiskScore: 4.5})
	require.NoError(t, err)
	assert.Equal(t, 4.5, s.Fields["riskScore"].GetNumberValue())

	var back ProgressionRequest
	require.NoError(t, Decode(s, &back))
	assert.Equal(t, 4.5, back.RiskScore)
	assert.Nil(t, back.Hours)

	var empty ScoreRequest
	require.NoError(t, Decode(nil, &empty))
	assert.Nil(t, empty.Satisfied)
}

func TestRateLimits(t *testing.T) {
	_, conn := testServer(t, Config{}, WithRateLimits(map[string]config.RateLimit{
		MethodCatalogue: {MaxRequests: 2, Window: time.Hour},
	}))

	var cat iec62443.Catalogue
	require.NoError(t, call(t, conn, MethodCatalogue, struct{}{}, &cat))
	require.NoError(t, call(t, conn, MethodCatalogue, struct{}{}, &cat))
	err := call(t, conn, MethodCatalogue, struct{}{}, &cat)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// Other methods are not limited.
	var res iec62443.Result
	require.NoError(t, call(t, conn, MethodScore, ScoreRequest{}, &res))
}

type reportCollector struct {
	mu  sync.Mutex
	ids []string
}

func (c *reportCollector) Notify(rep *assess.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, rep.ID)
}

func TestAssessNotifies(t *testing.T) {
	n := &reportCollector{}
	_, conn := testServer(t, Config{}, WithNotifier(n))

	var rep assess.Report
	require.NoError(t, call(t, conn, MethodAssess, assess.Request{ID: "rtu-9", RiskScore: 3, Simulation: simParams()}, &rep))

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []string{"rtu-9"}, n.ids)
}
